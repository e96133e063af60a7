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
	"io"
	"log"
	"os"
	"text/tabwriter"
)

// Diagnostics is the free-form-text diagnostic channel described in spec
// §6: region definition, successful patch, and protection-flip failure are
// all reported here, never raised as errors back to the measurement
// framework. Modeled on the teacher's own ambient logging (wzprof's
// dwarf.go used log.Printf directly); kept as a small type only so tests
// can capture output instead of writing to the real stderr.
type Diagnostics struct {
	logger *log.Logger
}

// NewDiagnostics builds a Diagnostics that writes to w with the "dynfilter:"
// prefix, the same convention the teacher's own error strings use.
func NewDiagnostics(w io.Writer) *Diagnostics {
	return &Diagnostics{logger: log.New(w, "dynfilter: ", log.LstdFlags)}
}

// DefaultDiagnostics writes to os.Stderr, per spec §6.
func DefaultDiagnostics() *Diagnostics {
	return NewDiagnostics(os.Stderr)
}

// RegionDefined reports that a new compiler-hook region was registered.
func (d *Diagnostics) RegionDefined(id RegionID, name string) {
	d.logger.Printf("region %d (%q) registered", id, name)
}

// Patched reports a successful patch of both of a region's call sites.
func (d *Diagnostics) Patched(id RegionID, name string, entry, exit SiteAddr) {
	d.logger.Printf("region %d (%q) patched: entry=%#x exit=%#x", id, name, entry, exit)
}

// ProtectionFlipFailed reports a non-fatal page-protection failure from the
// deletion sweep. If err wraps ErrProtectionNotRestored the NOP was already
// written and that site counts as patched; otherwise the site was never
// touched and the region keeps running instrumented until a later sweep
// retries it.
func (d *Diagnostics) ProtectionFlipFailed(id RegionID, name string, err error) {
	d.logger.Printf("region %d (%q) protection flip failed: %v", id, name, err)
}

// UnknownHookFamily reports that no known hook-symbol family was found on
// the stack; deletion is disabled for the remainder of the run.
func (d *Diagnostics) UnknownHookFamily() {
	d.logger.Printf("no known hook-symbol family found on stack; deletion disabled for this run")
}

// DumpTable writes an aligned tabular summary of every region to w, for the
// optional teardown dump described in spec §6. The function is always
// compiled; cmd/scorep-substrate-dynfilter calls it at finalize only in
// builds with the dynfilter_dump tag.
func DumpTable(w io.Writer, table *RegionTable) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCALLS\tMEAN\tDELETABLE\tINACTIVE")
	table.Lock()
	table.EachLocked(func(r *Region) {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%.2f\t%v\t%v\n", r.ID, r.Name, r.CallCount, r.MeanDuration, r.Deletable, r.Inactive)
	})
	table.Unlock()
	tw.Flush()
}
