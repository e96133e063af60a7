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

package harness

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/experimental/wazerotest"

	dynfilter "github.com/rschoene/scorep-dynfilter-go"
)

type fakePatcher struct {
	patched []dynfilter.SiteAddr
}

func (p *fakePatcher) PatchSite(addr dynfilter.SiteAddr) error {
	p.patched = append(p.patched, addr)
	return nil
}

func (p *fakePatcher) wasPatched(addr dynfilter.SiteAddr) bool {
	for _, a := range p.patched {
		if a == addr {
			return true
		}
	}
	return false
}

// newFakeUnwindProbe builds an UnwindProbe over a fixed stack containing
// both symbols of the first known hook family, each followed by a distinct
// "caller" frame, so FindCallSite resolves a distinct, non-zero address for
// both the entry and the exit call site without walking a real stack.
func newFakeUnwindProbe() *dynfilter.UnwindProbe {
	return dynfilter.NewUnwindProbe(&dynfilter.FakeStackWalker{Frames: []dynfilter.Frame{
		{Name: "main", PC: 0x1000},
		{Name: dynfilter.KnownHookFamilies[0].Enter, PC: 0x2000},
		{Name: "callerOfEnter", PC: 0x2000},
		{Name: dynfilter.KnownHookFamilies[0].Exit, PC: 0x3000},
		{Name: "callerOfExit", PC: 0x4000},
	}})
}

// buildDispatcher wires a Dispatcher exactly as
// cmd/scorep-substrate-dynfilter's early_init does, but with fakes standing
// in for the stack walker and code patcher, mirroring wzprof's own
// dependency-injected NewCPUProfiler(TimeFunc(...)) test idiom.
func buildDispatcher(threshold uint64, mode dynfilter.FilterMode, patcher dynfilter.CodePatcher) *dynfilter.Dispatcher {
	cfg := dynfilter.Config{Threshold: threshold, Mode: mode}
	diag := dynfilter.NewDiagnostics(discard{})
	probe := newFakeUnwindProbe()
	return dynfilter.NewDispatcher(cfg, probe, patcher, diag)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// TestHarnessFiltersCheapRegion drives a one-function synthetic module
// through the dispatcher entirely via wazero's function-listener hooks: a
// "cheap" region that always finishes in under the threshold should end up
// both Deletable and Inactive, with both of its call sites handed to the
// patcher, once enough calls accumulate outside any active team and with
// the deletion sweep unblocked.
func TestHarnessFiltersCheapRegion(t *testing.T) {
	patcher := &fakePatcher{}
	d := buildDispatcher(100, dynfilter.Absolute, patcher)

	if err := d.DefineRegion(dynfilter.RegionHandle{ID: 1, Name: "cheap", Paradigm: dynfilter.CompilerHook}); err != nil {
		t.Fatalf("DefineRegion: %v", err)
	}

	primary := d.CreateLocation(0)

	module := wazerotest.NewModule(nil,
		wazerotest.NewFunction(func(context.Context, api.Module) {}),
	)

	factory := &RegionFunctionListenerFactory{
		Dispatcher:   d,
		Location:     primary,
		RegionByName: map[string]dynfilter.RegionID{"cheap": 1},
	}

	def := module.Function(0).Definition()
	listener := factory.NewFunctionListener(def)
	if listener == nil {
		t.Fatalf("NewFunctionListener returned nil for an instrumented region")
	}

	stack := []experimental.StackFrame{{Function: module.Function(0)}}
	si := experimental.NewStackIterator(stack...)

	for i := 0; i < 5; i++ {
		ctx := listener.Before(context.Background(), module, def, nil, si)
		listener.After(ctx, module, def, nil, nil)
	}

	r := d.RegionTable().Find(1)
	if r == nil {
		t.Fatalf("region 1 missing from table")
	}
	if !r.Deletable {
		t.Errorf("region 1 should be Deletable after repeated cheap calls")
	}
	if !r.Inactive {
		t.Errorf("region 1 should be Inactive once the deletion sweep runs with no active team")
	}
	if !patcher.wasPatched(r.EntrySiteAddr) || !patcher.wasPatched(r.ExitSiteAddr) {
		t.Errorf("both call sites should have been patched, got entry=%v exit=%v patched=%v",
			r.EntrySiteAddr, r.ExitSiteAddr, patcher.patched)
	}
}

// TestHarnessLeavesUnknownFunctionUninstrumented checks that
// NewFunctionListener returns nil (wazero's "skip this function" signal)
// for a wasm function whose name was never registered as a region, per
// spec §8 property 7's "ignore anything that isn't a tracked region".
func TestHarnessLeavesUnknownFunctionUninstrumented(t *testing.T) {
	patcher := &fakePatcher{}
	d := buildDispatcher(100, dynfilter.Absolute, patcher)

	module := wazerotest.NewModule(nil,
		wazerotest.NewFunction(func(context.Context, api.Module) {}),
	)

	factory := &RegionFunctionListenerFactory{
		Dispatcher:   d,
		Location:     d.CreateLocation(0),
		RegionByName: map[string]dynfilter.RegionID{"cheap": 1},
	}

	def := module.Function(0).Definition()
	if l := factory.NewFunctionListener(def); l != nil {
		t.Errorf("expected nil listener for an unregistered function, got %T", l)
	}
}
