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

// Command dynfilter-configcheck loads the plug-in's environment-variable
// configuration (spec §6) and prints the resolved threshold/mode, without
// starting a measurement run. It lets an operator dry-run a job submission
// script's environment before launching the real instrumented application.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/rschoene/scorep-dynfilter-go"
)

func main() {
	var (
		thresholdOverride uint64
		methodOverride    string
	)
	flag.Uint64Var(&thresholdOverride, "threshold", 0, "override "+dynfilter.EnvThreshold+" for this check")
	flag.StringVar(&methodOverride, "method", "", "override "+dynfilter.EnvMethod+" for this check")
	flag.Parse()

	if thresholdOverride != 0 {
		os.Setenv(dynfilter.EnvThreshold, fmt.Sprintf("%d", thresholdOverride))
	}
	if methodOverride != "" {
		os.Setenv(dynfilter.EnvMethod, methodOverride)
	}

	cfg, err := dynfilter.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("%s = %d\n", dynfilter.EnvThreshold, cfg.Threshold)
	fmt.Printf("%s = %s\n", dynfilter.EnvMethod, cfg.Mode)
}
