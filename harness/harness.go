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

// Package harness is a conformance harness for the core filter-and-patch
// engine in github.com/rschoene/scorep-dynfilter-go. It is not part of the
// production callback surface described in the specification's §6; a real
// deployment is driven by a C measurement framework through
// cmd/scorep-substrate-dynfilter's cgo boundary instead.
//
// Grounded on the teacher's own mechanism: wzprof drives its profilers by
// registering an experimental.FunctionListenerFactory with wazero and
// letting the runtime invoke Before/After around every function call. That
// Before/After pair is structurally identical to this spec's
// enter_region/exit_region, so this harness reuses it verbatim to drive
// dynfilter's Dispatcher from a synthetic wasm module standing in for a
// compiler-hook-instrumented native program, without needing a real C
// measurement framework attached.
package harness

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	dynfilter "github.com/rschoene/scorep-dynfilter-go"
)

// RegionFunctionListenerFactory adapts wazero's function-call hooks to
// dynfilter's event dispatcher. Every wasm function definition whose name
// is a key of RegionByName is treated as a compiler-hook-instrumented
// region; every other function is left uninstrumented (its
// NewFunctionListener returns nil, which wazero treats as "no listener").
type RegionFunctionListenerFactory struct {
	Dispatcher   *dynfilter.Dispatcher
	Location     *dynfilter.Location
	RegionByName map[string]dynfilter.RegionID

	// clock is a monotonically increasing fake timestamp source, since the
	// harness has no real measurement-framework clock to read.
	clock uint64
}

// NewFunctionListener implements experimental.FunctionListenerFactory.
func (f *RegionFunctionListenerFactory) NewFunctionListener(def api.FunctionDefinition) experimental.FunctionListener {
	id, ok := f.RegionByName[def.Name()]
	if !ok {
		return nil
	}
	return &regionListener{factory: f, region: id}
}

type regionListener struct {
	factory *RegionFunctionListenerFactory
	region  dynfilter.RegionID
}

// Before implements experimental.FunctionListener, translating a wasm
// function call into an enter_region event.
func (l *regionListener) Before(ctx context.Context, mod api.Module, def api.FunctionDefinition, params []uint64, si experimental.StackIterator) context.Context {
	ts := atomic.AddUint64(&l.factory.clock, 1)
	l.factory.Dispatcher.EnterRegion(l.factory.Location, ts, l.region)
	return ctx
}

// After implements experimental.FunctionListener, translating a wasm
// function return into an exit_region event. A non-nil err (the function
// trapped) still counts as an exit, matching the spec's treatment of the
// exit hook as unconditionally paired with the entry hook.
func (l *regionListener) After(ctx context.Context, mod api.Module, def api.FunctionDefinition, err error, results []uint64) {
	ts := atomic.AddUint64(&l.factory.clock, 1)
	l.factory.Dispatcher.ExitRegion(l.factory.Location, ts, l.region)
}
