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

// Command scorep-substrate-dynfilter builds the real deployment artifact of
// this core: a Score-P substrate plug-in, a `.so` the measurement framework
// dlopen()s and calls into through a fixed C ABI (spec §6). Build with:
//
//	go build -buildmode=c-shared -o scorep_substrate_dynfilter.so ./cmd/scorep-substrate-dynfilter
//
// The cgo export convention (package main, import "C", //export functions)
// and the opaque-handle table below are grounded on
// tinyrange/cc/bindings/c's libcc.go and handles.go, reduced from a
// many-object sharded table to a single plug-in-instance slot, since the
// measurement framework only ever holds one handle to one plug-in instance
// per process.
package main

/*
#include <stdint.h>
#include <stdbool.h>

typedef const char *(*region_name_fn)(uint64_t handle);
typedef int (*region_paradigm_fn)(uint64_t handle);
typedef uint32_t (*location_id_fn)(uint64_t handle);

static inline const char *call_region_name_fn(region_name_fn fn, uint64_t handle) {
	return fn(handle);
}
static inline int call_region_paradigm_fn(region_paradigm_fn fn, uint64_t handle) {
	return fn(handle);
}
static inline uint32_t call_location_id_fn(location_id_fn fn, uint64_t handle) {
	return fn(handle);
}
*/
import "C"

// The exported functions below are the plug-in's half of spec §6's
// get_event_functions/set_callbacks contract. The measurement framework's
// own C loader (not part of this module) assembles its
// SCOREP_SubstratePluginInfo callback table by taking the address of each
// exported symbol below for the matching enum slot
// (ENTER_REGION/EXIT_REGION/THREAD_FORK_JOIN_TEAM_BEGIN/
// THREAD_FORK_JOIN_TEAM_END); every other slot in that table stays null. This
// is get_event_functions' Go-side half: the array itself is assembled by the
// C loader, not emitted from here, since cgo cannot export a C array of
// pointers to its own //export symbols without the loader already knowing
// their addresses.
//
// The three accessor function pointers set_callbacks hands across the
// boundary go through the call_*_fn C trampolines above: Go cannot invoke an
// arbitrary C function pointer value directly, only through a C call
// expression, so each accessor needs a one-line C shim to dereference it.

import (
	"os"
	"sync"

	"github.com/rschoene/scorep-dynfilter-go"
)

// paradigmCompilerHook is the measurement framework's SCOREP_ParadigmType
// value for compiler-instrumentation regions. set_callbacks' region-paradigm
// accessor returns this encoding; every other value maps to OtherParadigm.
const paradigmCompilerHook = 1

// instance is the single plug-in instance this process hosts. Score-P only
// ever loads one instance of a given substrate plug-in per process, so a
// single guarded slot (rather than tinyrange/cc's sharded handle table,
// built for many concurrent opaque objects) is the right-sized adaptation.
var (
	instanceMu sync.Mutex
	instance   *dynfilter.Plugin
	locations  = map[uint64]*dynfilter.Location{}
	nextLoc    uint64
)

//export scorep_dynfilter_early_init
func scorep_dynfilter_early_init() C.int {
	cfg, err := dynfilter.LoadConfig()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return -1
	}

	diag := dynfilter.DefaultDiagnostics()
	walker := dynfilter.NewRuntimeStackWalker(0)
	probe := dynfilter.NewUnwindProbe(walker)
	patcher := dynfilter.NewCodePatcher()
	d := dynfilter.NewDispatcher(cfg, probe, patcher, diag)

	instanceMu.Lock()
	defer instanceMu.Unlock()
	instance = dynfilter.NewPlugin(1, d, dynfilter.HostCallbacks{})
	return 0
}

//export scorep_dynfilter_set_callbacks
func scorep_dynfilter_set_callbacks(regionName C.region_name_fn, regionParadigm C.region_paradigm_fn, locationID C.location_id_fn) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return
	}
	instance.SetCallbacks(dynfilter.HostCallbacks{
		RegionName: func(h uintptr) string {
			return C.GoString(C.call_region_name_fn(regionName, C.uint64_t(h)))
		},
		RegionParadigm: func(h uintptr) dynfilter.Paradigm {
			if int(C.call_region_paradigm_fn(regionParadigm, C.uint64_t(h))) == paradigmCompilerHook {
				return dynfilter.CompilerHook
			}
			return dynfilter.OtherParadigm
		},
		LocationID: func(h uintptr) dynfilter.LocationID {
			return dynfilter.LocationID(C.call_location_id_fn(locationID, C.uint64_t(h)))
		},
	})
}

//export scorep_dynfilter_define_handle
func scorep_dynfilter_define_handle(regionHandle C.uint64_t, regionID C.uint32_t) C.int {
	instanceMu.Lock()
	d := instance
	instanceMu.Unlock()
	if d == nil {
		return -1
	}
	if err := d.DefineHandle(uintptr(regionHandle), dynfilter.RegionID(regionID)); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		return -1
	}
	return 0
}

//export scorep_dynfilter_assign_id
func scorep_dynfilter_assign_id(id C.int64_t) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.AssignID(int64(id))
	}
}

//export scorep_dynfilter_finalize
func scorep_dynfilter_finalize() C.int64_t {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return 0
	}
	dumpAtFinalize(instance)
	return C.int64_t(instance.Finalize())
}

//export scorep_dynfilter_create_location
func scorep_dynfilter_create_location(rawLocationID C.uint32_t) C.uint64_t {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return 0
	}
	loc := instance.CreateLocation(uintptr(rawLocationID))

	nextLoc++
	handle := nextLoc
	locations[handle] = loc
	return C.uint64_t(handle)
}

//export scorep_dynfilter_delete_location
func scorep_dynfilter_delete_location(handle C.uint64_t) {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		return
	}
	if loc, ok := locations[uint64(handle)]; ok {
		instance.DeleteLocation(loc)
		delete(locations, uint64(handle))
	}
}

//export scorep_dynfilter_enter_region
func scorep_dynfilter_enter_region(handle C.uint64_t, timestamp C.uint64_t, regionID C.uint32_t) {
	instanceMu.Lock()
	loc, ok := locations[uint64(handle)]
	d := instance
	instanceMu.Unlock()
	if !ok || d == nil {
		return
	}
	d.GetEventFunctions().EnterRegion(loc, uint64(timestamp), dynfilter.RegionID(regionID))
}

//export scorep_dynfilter_exit_region
func scorep_dynfilter_exit_region(handle C.uint64_t, timestamp C.uint64_t, regionID C.uint32_t) {
	instanceMu.Lock()
	loc, ok := locations[uint64(handle)]
	d := instance
	instanceMu.Unlock()
	if !ok || d == nil {
		return
	}
	d.GetEventFunctions().ExitRegion(loc, uint64(timestamp), dynfilter.RegionID(regionID))
}

//export scorep_dynfilter_team_begin
func scorep_dynfilter_team_begin() {
	instanceMu.Lock()
	d := instance
	instanceMu.Unlock()
	if d == nil {
		return
	}
	d.GetEventFunctions().ThreadTeamBegin()
}

//export scorep_dynfilter_team_end
func scorep_dynfilter_team_end(handle C.uint64_t) {
	instanceMu.Lock()
	loc, ok := locations[uint64(handle)]
	d := instance
	instanceMu.Unlock()
	if !ok || d == nil {
		return
	}
	d.GetEventFunctions().ThreadTeamEnd(loc)
}

func main() {}
