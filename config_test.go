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

import "testing"

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestConfigFromLookupValid(t *testing.T) {
	cfg, err := configFromLookup(lookupFrom(map[string]string{
		EnvThreshold: "1000",
		EnvMethod:    "absolute",
	}))
	if err != nil {
		t.Fatalf("configFromLookup: unexpected error: %v", err)
	}
	if cfg.Threshold != 1000 {
		t.Errorf("cfg.Threshold = %d, want 1000", cfg.Threshold)
	}
	if cfg.Mode != Absolute {
		t.Errorf("cfg.Mode = %v, want Absolute", cfg.Mode)
	}
}

func TestConfigFromLookupMethodCaseInsensitive(t *testing.T) {
	cfg, err := configFromLookup(lookupFrom(map[string]string{
		EnvThreshold: "1",
		EnvMethod:    "ABSOLUTE",
	}))
	if err != nil {
		t.Fatalf("configFromLookup: unexpected error: %v", err)
	}
	if cfg.Mode != Absolute {
		t.Errorf("cfg.Mode = %v, want Absolute", cfg.Mode)
	}
}

func TestConfigFromLookupUnrecognizedMethodIsRelative(t *testing.T) {
	cfg, err := configFromLookup(lookupFrom(map[string]string{
		EnvThreshold: "1",
		EnvMethod:    "relative",
	}))
	if err != nil {
		t.Fatalf("configFromLookup: unexpected error: %v", err)
	}
	if cfg.Mode != Relative {
		t.Errorf("cfg.Mode = %v, want Relative", cfg.Mode)
	}
}

func TestConfigFromLookupMissingThreshold(t *testing.T) {
	_, err := configFromLookup(lookupFrom(map[string]string{
		EnvMethod: "absolute",
	}))
	assertConfigError(t, err, EnvThreshold)
}

func TestConfigFromLookupZeroThreshold(t *testing.T) {
	_, err := configFromLookup(lookupFrom(map[string]string{
		EnvThreshold: "0",
		EnvMethod:    "absolute",
	}))
	assertConfigError(t, err, EnvThreshold)
}

func TestConfigFromLookupNonNumericThreshold(t *testing.T) {
	_, err := configFromLookup(lookupFrom(map[string]string{
		EnvThreshold: "not-a-number",
		EnvMethod:    "absolute",
	}))
	assertConfigError(t, err, EnvThreshold)
}

func TestConfigFromLookupMissingMethod(t *testing.T) {
	_, err := configFromLookup(lookupFrom(map[string]string{
		EnvThreshold: "1",
	}))
	assertConfigError(t, err, EnvMethod)
}

func assertConfigError(t *testing.T, err error, wantField string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected a ConfigError for field %q, got nil", wantField)
	}
	cerr, ok := err.(*ConfigError)
	if !ok {
		t.Fatalf("expected *ConfigError, got %T (%v)", err, err)
	}
	if cerr.Field != wantField {
		t.Errorf("ConfigError.Field = %q, want %q", cerr.Field, wantField)
	}
}
