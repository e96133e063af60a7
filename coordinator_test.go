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

func TestDeletionCoordinatorSweepAllowed(t *testing.T) {
	c := NewDeletionCoordinator()

	c.Lock()
	if !c.SweepAllowed() {
		t.Errorf("SweepAllowed() = false on a fresh coordinator, want true")
	}
	c.Unlock()

	c.Lock()
	c.TeamBegin()
	c.Unlock()

	c.Lock()
	if c.SweepAllowed() {
		t.Errorf("SweepAllowed() = true with an active team, want false")
	}
	if got := c.ActiveThreads(); got != 1 {
		t.Errorf("ActiveThreads() = %d, want 1", got)
	}
	c.Unlock()

	c.Lock()
	c.TeamEnd()
	if !c.SweepAllowed() {
		t.Errorf("SweepAllowed() = false after the only team ended, want true")
	}
	c.Unlock()
}

func TestDeletionCoordinatorNestedTeams(t *testing.T) {
	c := NewDeletionCoordinator()

	c.Lock()
	c.TeamBegin()
	c.TeamBegin()
	c.Unlock()

	c.Lock()
	if got := c.ActiveThreads(); got != 2 {
		t.Errorf("ActiveThreads() = %d, want 2", got)
	}
	c.TeamEnd()
	if c.SweepAllowed() {
		t.Errorf("SweepAllowed() = true with one team still active, want false")
	}
	c.TeamEnd()
	if !c.SweepAllowed() {
		t.Errorf("SweepAllowed() = false once every team has ended, want true")
	}
	c.Unlock()
}
