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

func TestNewShadowTablePopulatesCurrentRegions(t *testing.T) {
	global := NewRegionTable()
	if _, err := global.InsertUnique(1, "a"); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	if _, err := global.InsertUnique(2, "b"); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}

	st := NewShadowTable(global)

	if sr := st.Find(1); sr == nil {
		t.Errorf("shadow table missing region 1")
	}
	if sr := st.Find(2); sr == nil {
		t.Errorf("shadow table missing region 2")
	}
	if sr := st.Find(3); sr != nil {
		t.Errorf("shadow table has an entry for an undefined region: %+v", sr)
	}

	// A region defined after the location was created never appears: spec
	// §4.1 only promises "one entry per currently defined region".
	if _, err := global.InsertUnique(3, "c"); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	if sr := st.Find(3); sr != nil {
		t.Errorf("shadow table picked up a region defined after creation: %+v", sr)
	}
}

func TestShadowTableDrainSnapshotsThenResets(t *testing.T) {
	global := NewRegionTable()
	if _, err := global.InsertUnique(1, "a"); err != nil {
		t.Fatalf("InsertUnique: %v", err)
	}
	st := NewShadowTable(global)

	sr := st.Find(1)
	sr.LocalCalls = 5
	sr.LocalDuration = 500

	drained := st.Drain()
	if len(drained) != 1 {
		t.Fatalf("Drain() returned %d entries, want 1", len(drained))
	}
	if drained[0].ID != 1 || drained[0].LocalCalls != 5 || drained[0].LocalDuration != 500 {
		t.Errorf("Drain() = %+v, want ID=1 LocalCalls=5 LocalDuration=500", drained[0])
	}

	// The live record must be reset, and the snapshot must not alias it:
	// mutating the live counters afterward must not retroactively change
	// the snapshot already handed to the caller.
	if sr.LocalCalls != 0 || sr.LocalDuration != 0 {
		t.Errorf("live shadow record not reset after Drain: %+v", sr)
	}
	sr.LocalCalls = 99
	if drained[0].LocalCalls == 99 {
		t.Errorf("Drain() snapshot aliases the live record")
	}
}

func TestShadowTableDrainEmpty(t *testing.T) {
	global := NewRegionTable()
	st := NewShadowTable(global)
	if drained := st.Drain(); len(drained) != 0 {
		t.Errorf("Drain() on an empty shadow table = %v, want empty", drained)
	}
}
