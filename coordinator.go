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

import "sync"

// DeletionCoordinator guards the predicate "code patching is allowed now":
// the active-thread counter is zero and the caller holds this coordinator.
// It is acquired at the start of team_begin, team_end, and every primary
// exit_region, and released at their end, per spec §4.5. Workers' enter/exit
// paths never acquire it.
type DeletionCoordinator struct {
	mu           sync.Mutex
	activeThread int
}

// NewDeletionCoordinator constructs a coordinator with zero active threads.
func NewDeletionCoordinator() *DeletionCoordinator {
	return &DeletionCoordinator{}
}

// Lock acquires the coordinator.
func (c *DeletionCoordinator) Lock() { c.mu.Lock() }

// Unlock releases the coordinator.
func (c *DeletionCoordinator) Unlock() { c.mu.Unlock() }

// TeamBegin increments the active-thread counter. The caller must hold the
// coordinator (see Lock).
func (c *DeletionCoordinator) TeamBegin() { c.activeThread++ }

// TeamEnd decrements the active-thread counter. The caller must hold the
// coordinator.
func (c *DeletionCoordinator) TeamEnd() { c.activeThread-- }

// ActiveThreads returns the current active-thread count. The caller must
// hold the coordinator.
func (c *DeletionCoordinator) ActiveThreads() int { return c.activeThread }

// SweepAllowed reports whether the active-thread counter is currently zero,
// i.e. whether a deletion sweep may run right now. The caller must hold the
// coordinator.
func (c *DeletionCoordinator) SweepAllowed() bool { return c.activeThread == 0 }
