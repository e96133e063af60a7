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

//go:build dynfilter_dump

package main

import (
	"os"

	"github.com/rschoene/scorep-dynfilter-go"
)

// dumpAtFinalize writes the teardown table dump described in spec §6. Built
// in only under the dynfilter_dump tag; see dump_disabled.go for the default.
func dumpAtFinalize(p *dynfilter.Plugin) {
	dynfilter.DumpTable(os.Stderr, p.RegionTable())
}
