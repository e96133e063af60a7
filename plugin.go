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

import "fmt"

// HostCallbacks is the bundle of function pointers the measurement
// framework hands the plug-in through set_callbacks (spec §6). This core
// needs exactly three: a region-name accessor, a region-paradigm accessor
// (used to filter by compiler-hook), and a location-id accessor (used to
// identify the primary).
type HostCallbacks struct {
	RegionName     func(regionHandle uintptr) string
	RegionParadigm func(regionHandle uintptr) Paradigm
	LocationID     func(locationHandle uintptr) LocationID
}

// EventIndex enumerates the framework-defined callback table slots this
// plug-in populates via get_event_functions (spec §6). Every other slot in
// the framework's enumeration is left null.
type EventIndex int

const (
	EventEnterRegion EventIndex = iota
	EventExitRegion
	EventThreadTeamBegin
	EventThreadTeamEnd
)

// EventFunctions is what get_event_functions returns: one callback field
// per EventIndex slot. Enter/exit take the location, a timestamp and a
// region id; team begin takes nothing and team end takes the location.
type EventFunctions struct {
	EnterRegion     func(loc *Location, timestamp uint64, region RegionID)
	ExitRegion      func(loc *Location, timestamp uint64, region RegionID)
	ThreadTeamBegin func()
	ThreadTeamEnd   func(loc *Location)
}

// Plugin is the assembled "outbound surface" of spec §6: the struct of
// function pointers a measurement framework's entry function registers,
// built on top of a Dispatcher. plugin_version is set by the caller from
// the framework-declared plug-in ABI version it was compiled against.
type Plugin struct {
	Version int

	dispatcher *Dispatcher
	callbacks  HostCallbacks
}

// NewPlugin builds a Plugin around dispatcher, wired to the host-supplied
// callbacks. version is the framework-declared plug-in ABI version.
func NewPlugin(version int, dispatcher *Dispatcher, callbacks HostCallbacks) *Plugin {
	return &Plugin{Version: version, dispatcher: dispatcher, callbacks: callbacks}
}

// EarlyInit checks an already-loaded cfg for spec §4.1's init and returns a
// ConfigError when the threshold is zero. It does not read the environment
// (LoadConfig does) and does not check the mode.
func (p *Plugin) EarlyInit(cfg Config) error {
	if cfg.Threshold == 0 {
		return &ConfigError{Field: EnvThreshold, Reason: "must be non-zero"}
	}
	return nil
}

// AssignID implements spec §4.1's assign_id.
func (p *Plugin) AssignID(id int64) { p.dispatcher.AssignID(id) }

// Finalize implements spec §4.1's finalize.
func (p *Plugin) Finalize() int64 { return p.dispatcher.Finalize() }

// CreateLocation implements spec §4.1's create_location, resolving the
// framework's opaque location handle to a LocationID via HostCallbacks
// before delegating to the dispatcher.
func (p *Plugin) CreateLocation(locationHandle uintptr) *Location {
	id := p.callbacks.LocationID(locationHandle)
	return p.dispatcher.CreateLocation(id)
}

// DeleteLocation implements spec §4.1's delete_location.
func (p *Plugin) DeleteLocation(loc *Location) { p.dispatcher.DeleteLocation(loc) }

// DefineHandle implements spec §4.1's define_region, resolving the
// framework's opaque region handle via HostCallbacks.
func (p *Plugin) DefineHandle(regionHandle uintptr, id RegionID) error {
	paradigm := p.callbacks.RegionParadigm(regionHandle)
	name := p.callbacks.RegionName(regionHandle)
	if err := p.dispatcher.DefineRegion(RegionHandle{ID: id, Name: name, Paradigm: paradigm}); err != nil {
		return fmt.Errorf("define_handle: %w", err)
	}
	return nil
}

// GetEventFunctions implements spec §6's get_event_functions: populates
// exactly ENTER_REGION, EXIT_REGION, THREAD_FORK_JOIN_TEAM_BEGIN, and
// THREAD_FORK_JOIN_TEAM_END; every other slot is left zero.
func (p *Plugin) GetEventFunctions() EventFunctions {
	return EventFunctions{
		EnterRegion:     p.dispatcher.EnterRegion,
		ExitRegion:      p.dispatcher.ExitRegion,
		ThreadTeamBegin: p.dispatcher.TeamBegin,
		ThreadTeamEnd:   p.dispatcher.TeamEnd,
	}
}

// SetCallbacks implements spec §6's set_callbacks.
func (p *Plugin) SetCallbacks(cb HostCallbacks) { p.callbacks = cb }

// RegionTable exposes the underlying dispatcher's region table, for the
// optional teardown dump described in spec §6.
func (p *Plugin) RegionTable() *RegionTable { return p.dispatcher.RegionTable() }
