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

// FilterMode selects how the decision rule judges a region cheap enough to
// delete instrumentation for.
type FilterMode int

const (
	// Absolute compares a region's own mean duration against the
	// threshold.
	Absolute FilterMode = iota
	// Relative compares a region's mean duration against the mean of all
	// regions' means, minus the threshold.
	Relative
)

func (m FilterMode) String() string {
	if m == Absolute {
		return "absolute"
	}
	return "relative"
}

// DecisionRule applies spec §4.4 to a region whose counts were just
// updated: it recomputes MeanDuration and flips Deletable, never unsetting
// it once true. The caller (dispatcher) is responsible for capturing
// ExitSiteAddr exactly once, immediately after a call that flips Deletable
// from false to true — this function only returns whether it flipped.
type DecisionRule struct {
	Threshold uint64
	Mode      FilterMode
}

// NewDecisionRule constructs a DecisionRule. threshold must be positive;
// config.go enforces that at startup per spec §4.1's init contract.
func NewDecisionRule(threshold uint64, mode FilterMode) *DecisionRule {
	return &DecisionRule{Threshold: threshold, Mode: mode}
}

// Apply recomputes r's MeanDuration from its (already updated) CallCount
// and TotalDuration, and evaluates whether r should become Deletable. The
// caller must already hold table's lock: in Relative mode this scans every
// region's MeanDuration, which must be stable for the duration of the scan.
// Apply reports whether this call flipped Deletable from false to true.
func (d *DecisionRule) Apply(r *Region, table *RegionTable) bool {
	if r.CallCount == 0 {
		r.MeanDuration = 0
	} else {
		r.MeanDuration = float64(r.TotalDuration) / float64(r.CallCount)
	}

	if r.Deletable {
		return false // monotone: never unset, never re-evaluate
	}

	var becomesDeletable bool
	switch d.Mode {
	case Absolute:
		becomesDeletable = r.CallCount > 0 && r.MeanDuration < float64(d.Threshold)
	case Relative:
		becomesDeletable = r.CallCount > 0 && r.MeanDuration < meanOfMeansLocked(table)-float64(d.Threshold)
	}

	if becomesDeletable {
		r.Deletable = true
		return true
	}
	return false
}

// meanOfMeansLocked computes the mean of MeanDuration across every region
// that has observed at least one call, per the spec's corrected formula
// (§9, open question 2): divide by the count of such regions, not by a
// constant. The caller must already hold table's lock.
func meanOfMeansLocked(table *RegionTable) float64 {
	var sum float64
	var n int
	table.EachLocked(func(r *Region) {
		if r.CallCount > 0 {
			sum += r.MeanDuration
			n++
		}
	})
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// MeanOfMeans exposes meanOfMeansLocked for callers that do not hold
// table's lock: it acquires and releases the lock itself, so it must not be
// called while the lock is already held.
func MeanOfMeans(table *RegionTable) float64 {
	table.Lock()
	defer table.Unlock()
	return meanOfMeansLocked(table)
}
