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
	"bytes"
	"testing"
)

func newTestPlugin(t *testing.T) *Plugin {
	t.Helper()
	regions := map[uintptr]RegionHandle{
		100: {ID: 1, Name: "hot", Paradigm: CompilerHook},
		101: {ID: 2, Name: "cold", Paradigm: OtherParadigm},
	}
	locations := map[uintptr]LocationID{200: 0, 201: 1}

	diag := NewDiagnostics(&bytes.Buffer{})
	probe := NewUnwindProbe(&FakeStackWalker{})
	patcher := NewCodePatcher()
	d := NewDispatcher(Config{Threshold: 1000, Mode: Absolute}, probe, patcher, diag)

	return NewPlugin(1, d, HostCallbacks{
		RegionName:     func(h uintptr) string { return regions[h].Name },
		RegionParadigm: func(h uintptr) Paradigm { return regions[h].Paradigm },
		LocationID:     func(h uintptr) LocationID { return locations[h] },
	})
}

func TestPluginDefineHandleResolvesThroughCallbacks(t *testing.T) {
	p := newTestPlugin(t)

	if err := p.DefineHandle(100, 1); err != nil {
		t.Fatalf("DefineHandle(compiler-hook): %v", err)
	}
	if err := p.DefineHandle(101, 2); err != nil {
		t.Fatalf("DefineHandle(other paradigm): %v", err)
	}

	if r := p.dispatcher.RegionTable().Find(1); r == nil || r.Name != "hot" {
		t.Errorf("region 1 not inserted with resolved name, got %+v", r)
	}
	if r := p.dispatcher.RegionTable().Find(2); r != nil {
		t.Errorf("region 2 (non-compiler-hook) was inserted: %+v", r)
	}
}

func TestPluginDefineHandleDuplicateIsAnError(t *testing.T) {
	p := newTestPlugin(t)

	if err := p.DefineHandle(100, 1); err != nil {
		t.Fatalf("first DefineHandle: %v", err)
	}
	if err := p.DefineHandle(100, 1); err == nil {
		t.Errorf("second DefineHandle with the same id: expected an error, got nil")
	}
}

func TestPluginCreateAndDeleteLocation(t *testing.T) {
	p := newTestPlugin(t)

	primary := p.CreateLocation(200)
	if !primary.Primary {
		t.Errorf("location resolved from a LocationID of 0 should be primary")
	}

	worker := p.CreateLocation(201)
	if worker.Primary {
		t.Errorf("location resolved from a nonzero LocationID should not be primary")
	}
	if worker.Shadow == nil {
		t.Errorf("worker location should have a shadow table")
	}

	p.DeleteLocation(worker)
	if worker.Shadow != nil {
		t.Errorf("DeleteLocation should drop the worker's shadow table")
	}
}

func TestPluginGetEventFunctionsDrivesTheDispatcher(t *testing.T) {
	p := newTestPlugin(t)
	if err := p.DefineHandle(100, 1); err != nil {
		t.Fatalf("DefineHandle: %v", err)
	}
	primary := p.CreateLocation(200)

	ev := p.GetEventFunctions()
	ev.EnterRegion(primary, 0, 1)
	ev.ExitRegion(primary, 100, 1)

	r := p.dispatcher.RegionTable().Find(1)
	if r.CallCount != 1 {
		t.Errorf("CallCount = %d after one enter/exit pair via GetEventFunctions, want 1", r.CallCount)
	}
}

func TestPluginAssignIDAndFinalize(t *testing.T) {
	p := newTestPlugin(t)
	p.AssignID(7)
	if got := p.Finalize(); got != 7 {
		t.Errorf("Finalize() = %d, want 7", got)
	}
}

func TestPluginEarlyInitRejectsZeroThreshold(t *testing.T) {
	p := newTestPlugin(t)
	if err := p.EarlyInit(Config{Threshold: 0, Mode: Absolute}); err == nil {
		t.Errorf("EarlyInit with a zero threshold: expected an error, got nil")
	}
}
