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

// ShadowRegion is a worker location's thread-local mirror of one region's
// counters, updated lock-free on the hot path and drained into the global
// Region record at TeamEnd.
type ShadowRegion struct {
	ID            RegionID
	LocalCalls    uint64
	LocalDuration uint64
	LastEnter     uint64
}

// ShadowTable is a per-location mapping of region id to ShadowRegion. It is
// owned exclusively by the worker location that created it: no locking is
// needed because only that location's goroutine ever touches it, per spec
// §4.3/§9.
type ShadowTable struct {
	regions map[RegionID]*ShadowRegion
}

// NewShadowTable builds a shadow table populated with one entry per region
// currently defined in the global table, per spec §4.1's create_location
// contract ("allocate a shadow table and populate it with one entry per
// currently defined region").
func NewShadowTable(global *RegionTable) *ShadowTable {
	st := &ShadowTable{regions: make(map[RegionID]*ShadowRegion)}

	global.Lock()
	defer global.Unlock()
	global.EachLocked(func(r *Region) {
		st.regions[r.ID] = &ShadowRegion{ID: r.ID}
	})
	return st
}

// Find returns the shadow record for id, or nil if this location was
// created before the region was defined (spec §4.3: workers are always
// spawned after team_begin, which follows the regions' definitions for
// observed code paths, so this should not normally occur on the hot path).
func (st *ShadowTable) Find(id RegionID) *ShadowRegion {
	return st.regions[id]
}

// DrainedShadow is a snapshot of one shadow record's counters taken at
// Drain time, decoupled from the live record so that resetting the live
// counters afterward cannot race with the caller folding this snapshot into
// the global table.
type DrainedShadow struct {
	ID            RegionID
	LocalCalls    uint64
	LocalDuration uint64
}

// Drain returns a snapshot of every shadow record's counters and resets the
// live counters to zero, for the caller (team_end) to fold into the global
// Region records under the region-table lock.
func (st *ShadowTable) Drain() []DrainedShadow {
	out := make([]DrainedShadow, 0, len(st.regions))
	for _, sr := range st.regions {
		out = append(out, DrainedShadow{
			ID:            sr.ID,
			LocalCalls:    sr.LocalCalls,
			LocalDuration: sr.LocalDuration,
		})
		sr.LocalCalls = 0
		sr.LocalDuration = 0
	}
	return out
}
