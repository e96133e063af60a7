//  Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dynfilter

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variable names read by init, per spec §6.
const (
	EnvThreshold = "SCOREP_SUBSTRATES_DYNAMIC_FILTERING_THRESHOLD"
	EnvMethod    = "SCOREP_SUBSTRATES_DYNAMIC_FILTERING_METHOD"
)

// Config is the resolved, validated plug-in configuration, per spec §4.1's
// init contract: threshold is required and non-zero, method is required.
type Config struct {
	Threshold uint64
	Mode      FilterMode
}

// ConfigError reports a missing or invalid configuration value. Per spec
// §4.1/§7, any ConfigError is fatal: init must not proceed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dynfilter: configuration error: %s: %s", e.Field, e.Reason)
}

// LoadConfig reads and validates Config from the process environment.
// Mirrors the field-named, descriptive-error style of
// trace2receiver's Config.Validate: every failure names the offending
// field rather than returning a bare "invalid config".
func LoadConfig() (Config, error) {
	return configFromLookup(os.LookupEnv)
}

// configFromLookup is LoadConfig's testable core, parameterized over the
// environment lookup function.
func configFromLookup(lookup func(string) (string, bool)) (Config, error) {
	var cfg Config

	rawThreshold, ok := lookup(EnvThreshold)
	if !ok || strings.TrimSpace(rawThreshold) == "" {
		return Config{}, &ConfigError{Field: EnvThreshold, Reason: "required, not set"}
	}
	threshold, err := strconv.ParseUint(strings.TrimSpace(rawThreshold), 10, 64)
	if err != nil {
		return Config{}, &ConfigError{Field: EnvThreshold, Reason: fmt.Sprintf("not a non-negative integer: %v", err)}
	}
	if threshold == 0 {
		return Config{}, &ConfigError{Field: EnvThreshold, Reason: "must be non-zero"}
	}
	cfg.Threshold = threshold

	rawMethod, ok := lookup(EnvMethod)
	if !ok || strings.TrimSpace(rawMethod) == "" {
		return Config{}, &ConfigError{Field: EnvMethod, Reason: "required, not set"}
	}
	if strings.EqualFold(strings.TrimSpace(rawMethod), "absolute") {
		cfg.Mode = Absolute
	} else {
		cfg.Mode = Relative
	}

	return cfg, nil
}
