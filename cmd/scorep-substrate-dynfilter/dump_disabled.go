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

//go:build !dynfilter_dump

package main

import "github.com/rschoene/scorep-dynfilter-go"

// dumpAtFinalize is a no-op by default; see dump_enabled.go for the
// dynfilter_dump-tagged build that writes the teardown table dump.
func dumpAtFinalize(*dynfilter.Plugin) {}
