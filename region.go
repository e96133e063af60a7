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

// Package dynfilter implements online self-filtering of compiler-inserted
// instrumentation: it watches the average cost of each instrumented region
// for a short warm-up, and once a region is judged cheap it patches the two
// call instructions bracketing it into 5-byte NOPs so future calls run with
// zero instrumentation overhead.
package dynfilter

import (
	"fmt"
	"sync"

	"golang.org/x/exp/slices"
)

// RegionID is the framework-issued, stable identifier for an instrumented
// region.
type RegionID uint32

// SiteAddr is the address of a 5-byte call instruction in the live text
// segment of the running process. A zero value means "not yet captured".
type SiteAddr uintptr

// Region is the accounting record for one instrumented region. Fields are
// only ever mutated by the primary location while holding RegionTable's
// lock, except CallCount/TotalDuration/MeanDuration which the primary also
// updates directly and workers update only through their own ShadowRegion,
// drained under the same lock at TeamEnd.
type Region struct {
	ID   RegionID
	Name string

	CallCount     uint64
	TotalDuration uint64 // sum of exit-minus-entry deltas, in framework ticks
	MeanDuration  float64

	LastEnter uint64 // written/read only by the primary location
	Depth     int    // current recursion depth on the primary location

	EntrySiteAddr SiteAddr
	ExitSiteAddr  SiteAddr

	Deletable bool // monotone: set by the decision rule, never cleared
	Inactive  bool // monotone: set by the code patcher, never cleared

	// EntryPatched/ExitPatched track whether the NOP write for each site
	// has already landed, independent of Inactive: a sweep can write one
	// site, have the other fail for a reason unrelated to
	// ErrProtectionNotRestored, and get retried on a later sweep. Without
	// these a retry would call PatchSite again on the site that already
	// succeeded, violating the at-most-once-per-run write guarantee.
	EntryPatched bool
	ExitPatched  bool
}

// Frozen reports whether the record can never change again: it is both
// deletable and inactive, and the primary is not currently inside it.
func (r *Region) Frozen() bool {
	return r.Deletable && r.Inactive && r.Depth == 0
}

// eligibleForSweep reports whether the deletion sweep should patch this
// region right now.
func (r *Region) eligibleForSweep() bool {
	return r.Deletable && !r.Inactive && r.Depth == 0 &&
		r.EntrySiteAddr != 0 && r.ExitSiteAddr != 0
}

// ErrDuplicateRegion is returned by RegionTable.InsertUnique when a region
// id has already been defined. Per spec §4.1/§7 this is fatal to the caller.
type ErrDuplicateRegion struct {
	ID RegionID
}

func (e *ErrDuplicateRegion) Error() string {
	return fmt.Sprintf("dynfilter: region %d defined twice", e.ID)
}

// RegionTable is the process-wide, concurrency-safe mapping from region id
// to its accounting record. Per spec §4.2, writes on the hot path are only
// ever performed by the primary location while holding this table's lock;
// workers never write the global table on the hot path, only their own
// ShadowTable, drained into this table at TeamEnd.
type RegionTable struct {
	mu      sync.Mutex
	regions map[RegionID]*Region
}

// NewRegionTable constructs an empty region table.
func NewRegionTable() *RegionTable {
	return &RegionTable{regions: make(map[RegionID]*Region)}
}

// InsertUnique creates and inserts a new region record for id, or returns
// ErrDuplicateRegion if id was already defined.
func (t *RegionTable) InsertUnique(id RegionID, name string) (*Region, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.regions[id]; exists {
		return nil, &ErrDuplicateRegion{ID: id}
	}
	r := &Region{ID: id, Name: name}
	t.regions[id] = r
	return r, nil
}

// Find returns the region record for id, or nil if it was never defined or
// is not a compiler-hook region. It acquires and releases the table's lock
// itself, so it must not be used when the caller intends to mutate the
// returned record afterward — use Lock + FindLocked for that, so the
// find-then-mutate sequence stays inside one critical section as spec §4.2
// requires for primary hot-path writes.
func (t *RegionTable) Find(id RegionID) *Region {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.regions[id]
}

// FindLocked is like Find but assumes the caller already holds the table's
// lock (via Lock/Unlock).
func (t *RegionTable) FindLocked(id RegionID) *Region {
	return t.regions[id]
}

// Lock acquires the table's lock for a caller that needs to mutate a region
// record it already holds a pointer to (the primary's hot path) or that
// needs to iterate the table (deletion sweep, diagnostics dump).
func (t *RegionTable) Lock()   { t.mu.Lock() }
func (t *RegionTable) Unlock() { t.mu.Unlock() }

// snapshotIDsLocked copies every currently-defined region's id, in ascending order,
// for callers that need a stable iteration order (deletion sweep ordering
// is immaterial to correctness per spec §4.2, but a stable order makes
// diagnostics reproducible). Must be called while holding the table's lock.
func (t *RegionTable) snapshotIDsLocked() []RegionID {
	ids := make([]RegionID, 0, len(t.regions))
	for id := range t.regions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// EachLocked invokes fn for every region currently in the table, in
// ascending id order. The caller must already hold the table's lock (via
// Lock/Unlock) for the duration of the call, since fn may mutate records.
func (t *RegionTable) EachLocked(fn func(*Region)) {
	for _, id := range t.snapshotIDsLocked() {
		fn(t.regions[id])
	}
}

// Len returns the number of defined regions.
func (t *RegionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.regions)
}
