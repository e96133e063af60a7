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
	"errors"
	"sync"
	"sync/atomic"
)

// LocationID is the framework-issued identifier for a location (a
// measurement-visible thread). Location zero is always the primary.
type LocationID uint32

// Paradigm names the instrumentation mechanism a region handle was defined
// under. Only CompilerHook regions are tracked by this core; spec §4.1/§8
// property 7 requires every other paradigm to be silently ignored by
// define_region.
type Paradigm int

const (
	CompilerHook Paradigm = iota
	OtherParadigm
)

// RegionHandle is what the measurement framework passes to define_region:
// enough information to decide whether this core cares about the region at
// all, and if so, what to call it.
type RegionHandle struct {
	ID       RegionID
	Name     string
	Paradigm Paradigm
}

// Location is the per-thread handle returned by CreateLocation and passed
// back into every subsequent call the dispatcher makes on that thread's
// behalf. Real Score-P substrate callbacks are themselves passed a
// `SCOREP_Location*` on most calls; this mirrors that rather than relying
// on goroutine-local storage, which Go does not provide.
type Location struct {
	ID      LocationID
	Primary bool
	Shadow  *ShadowTable // nil for the primary location
}

// Dispatcher is the event dispatcher of spec §4.1: the surface the
// measurement framework invokes, translating callbacks into updates on the
// region table, shadow tables, decision rule, and deletion coordinator.
// Modeled on wzprof's ProfilerListener (a struct gathering the pieces a
// runtime invokes hooks through), generalized from wasm function
// entry/exit to compiler-hook region entry/exit.
type Dispatcher struct {
	table       *RegionTable
	coordinator *DeletionCoordinator
	decision    *DecisionRule
	patcher     CodePatcher
	probe       *UnwindProbe
	diag        *Diagnostics

	pluginID        atomic.Int64
	warnUnknownOnce sync.Once
}

// warnUnknownHookFamily logs the "no known hook family" diagnostic exactly
// once per run, so an unresolved classification does not spam stderr on
// every subsequent enter/exit.
func (d *Dispatcher) warnUnknownHookFamily() {
	d.warnUnknownOnce.Do(d.diag.UnknownHookFamily)
}

// NewDispatcher wires a Dispatcher from its collaborators. probe and
// patcher are accepted as interfaces/concrete narrow types so tests can
// supply fakes (spec §9's re-architecture note for the unwind probe, and
// the architecture-stub CodePatcher for non-amd64 builds).
func NewDispatcher(cfg Config, probe *UnwindProbe, patcher CodePatcher, diag *Diagnostics) *Dispatcher {
	return &Dispatcher{
		table:       NewRegionTable(),
		coordinator: NewDeletionCoordinator(),
		decision:    NewDecisionRule(cfg.Threshold, cfg.Mode),
		patcher:     patcher,
		probe:       probe,
		diag:        diag,
	}
}

// RegionTable exposes the dispatcher's region table for diagnostics/tests.
func (d *Dispatcher) RegionTable() *RegionTable { return d.table }

// AssignID stores the framework-issued plug-in identifier, returned later
// from Finalize. Spec §4.1.
func (d *Dispatcher) AssignID(id int64) { d.pluginID.Store(id) }

// DefineRegion implements spec §4.1's define_region: non-compiler-hook
// handles are ignored; compiler-hook handles are inserted under the region
// table's lock, and defining the same id twice is an error.
func (d *Dispatcher) DefineRegion(h RegionHandle) error {
	if h.Paradigm != CompilerHook {
		return nil
	}
	_, err := d.table.InsertUnique(h.ID, h.Name)
	if err != nil {
		return err
	}
	d.diag.RegionDefined(h.ID, h.Name)
	return nil
}

// CreateLocation implements spec §4.1's create_location: location id zero
// is the primary (no shadow table); every other location gets a shadow
// table pre-populated from the currently defined regions.
func (d *Dispatcher) CreateLocation(id LocationID) *Location {
	if id == 0 {
		return &Location{ID: id, Primary: true}
	}
	return &Location{ID: id, Shadow: NewShadowTable(d.table)}
}

// DeleteLocation implements spec §4.1's delete_location. The shadow table
// is owned exclusively by loc and is simply dropped; there is no global
// registry to clean up (see Location's doc comment).
func (d *Dispatcher) DeleteLocation(loc *Location) {
	loc.Shadow = nil
}

// TeamBegin implements spec §4.1/§4.5: acquire the coordinator, increment
// the active-thread counter, release.
func (d *Dispatcher) TeamBegin() {
	d.coordinator.Lock()
	d.coordinator.TeamBegin()
	d.coordinator.Unlock()
}

// TeamEnd implements spec §4.1/§4.5: acquire the coordinator, decrement the
// active-thread counter; for non-primary locations, drain the shadow table
// into the global region records under the region-table lock, applying the
// decision rule to each updated record. Release.
//
// Per spec §9's third open question, draining never captures ExitSiteAddr
// even if the decision flips true here: that capture is restricted to the
// primary's own ExitRegion, where the unwind probe is actually walking the
// exit call's stack.
func (d *Dispatcher) TeamEnd(loc *Location) {
	d.coordinator.Lock()
	defer d.coordinator.Unlock()
	d.coordinator.TeamEnd()

	if loc.Primary || loc.Shadow == nil {
		return
	}

	drained := loc.Shadow.Drain()

	d.table.Lock()
	defer d.table.Unlock()
	for _, ds := range drained {
		if ds.LocalCalls == 0 {
			continue
		}
		r := d.table.FindLocked(ds.ID)
		if r == nil || r.Inactive {
			continue
		}
		r.CallCount += ds.LocalCalls
		r.TotalDuration += ds.LocalDuration
		d.decision.Apply(r, d.table)
	}
}

// EnterRegion implements spec §4.1's enter_region. On the primary it
// locates the region, bumps depth, and captures EntrySiteAddr on first
// observation; on a worker it only timestamps its shadow record.
func (d *Dispatcher) EnterRegion(loc *Location, timestamp uint64, id RegionID) {
	if loc.Primary {
		d.table.Lock()
		defer d.table.Unlock()
		r := d.table.FindLocked(id)
		if r == nil {
			return
		}
		if r.Inactive {
			return
		}
		r.LastEnter = timestamp
		r.Depth++
		if r.EntrySiteAddr == 0 {
			if family, ok := d.probe.Classify(); ok {
				if addr := d.probe.FindCallSite(family.Enter); addr != 0 {
					r.EntrySiteAddr = addr
				}
			} else {
				d.warnUnknownHookFamily()
			}
		}
		return
	}

	if loc.Shadow == nil {
		return
	}
	sr := loc.Shadow.Find(id)
	if sr == nil {
		return
	}
	sr.LastEnter = timestamp
}

// ExitRegion implements spec §4.1/§4.5/§4.7's exit_region. On the primary
// it acquires the deletion coordinator for the whole call: decrements
// depth, updates counters and runs the decision rule (capturing
// ExitSiteAddr only when the decision flips), then runs the deletion sweep
// if the active-thread counter is zero, before releasing. On a worker it
// only updates its shadow record, lock-free.
func (d *Dispatcher) ExitRegion(loc *Location, timestamp uint64, id RegionID) {
	if !loc.Primary {
		if loc.Shadow == nil {
			return
		}
		sr := loc.Shadow.Find(id)
		if sr == nil {
			return
		}
		sr.LocalCalls++
		if timestamp >= sr.LastEnter {
			sr.LocalDuration += timestamp - sr.LastEnter
		}
		return
	}

	d.coordinator.Lock()
	defer d.coordinator.Unlock()

	d.table.Lock()
	r := d.table.FindLocked(id)
	if r == nil {
		d.table.Unlock()
		return
	}
	if r.Depth > 0 {
		r.Depth--
	}

	if !r.Deletable && !r.Inactive {
		delta := timestamp - r.LastEnter
		r.CallCount++
		r.TotalDuration += delta

		if d.decision.Apply(r, d.table) {
			if family, ok := d.probe.Classify(); ok {
				if addr := d.probe.FindCallSite(family.Exit); addr != 0 {
					r.ExitSiteAddr = addr
				}
			} else {
				d.warnUnknownHookFamily()
			}
		}
	}
	d.table.Unlock()

	if d.coordinator.SweepAllowed() {
		d.runDeletionSweep()
	}
}

// patchOnce patches addr unless *written already records that this site's
// bytes landed on a previous sweep. A PatchSite error wrapping
// ErrProtectionNotRestored still counts as written: the bytes landed, only
// the cosmetic protection restore failed, and testable property 4 cares
// about the write, not the restore. It reports whether addr is now known to
// be written.
func (d *Dispatcher) patchOnce(r *Region, addr SiteAddr, written *bool) bool {
	if *written {
		return true
	}
	err := d.patcher.PatchSite(addr)
	if err == nil {
		*written = true
		return true
	}
	d.diag.ProtectionFlipFailed(r.ID, r.Name, err)
	if errors.Is(err, ErrProtectionNotRestored) {
		*written = true
		return true
	}
	return false
}

// runDeletionSweep implements spec §4.7's deletion sweep: iterate the
// region table, patch both call sites of every record that is deletable,
// not yet inactive, not currently entered on the primary, and has both
// site addresses captured. The caller must already hold the deletion
// coordinator.
//
// Each site is patched at most once across the whole run: patchOnce
// consults/sets EntryPatched/ExitPatched so that a sweep where one site
// writes but the other genuinely fails doesn't re-patch the site that
// already succeeded on a later retry.
func (d *Dispatcher) runDeletionSweep() {
	d.table.Lock()
	defer d.table.Unlock()

	d.table.EachLocked(func(r *Region) {
		if !r.eligibleForSweep() {
			return
		}

		if !d.patchOnce(r, r.EntrySiteAddr, &r.EntryPatched) {
			return
		}
		if !d.patchOnce(r, r.ExitSiteAddr, &r.ExitPatched) {
			return
		}

		r.Inactive = true
		d.diag.Patched(r.ID, r.Name, r.EntrySiteAddr, r.ExitSiteAddr)
	})
}

// Finalize implements spec §4.1's finalize: frees the region table (its
// contents are no longer reachable after this call) and returns the stored
// plug-in identifier.
func (d *Dispatcher) Finalize() int64 {
	id := d.pluginID.Load()
	d.table = NewRegionTable()
	return id
}
