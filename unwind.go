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
	"runtime"
	"sync/atomic"
)

// Frame is one entry of a walked call stack, ordered innermost (currently
// executing) first.
type Frame struct {
	Name string
	PC   uintptr
}

// StackWalker is the narrow interface this core consumes the platform's
// stack-unwinding facility through (spec §6, §9's re-architecture note: "a
// stable ABI for frame walking and symbol lookup ... isolate it behind a
// trait/interface with a fake implementation for tests"). A real
// implementation enumerates the frames of the calling goroutine/thread; a
// fake implementation used in tests pretends the hook is always at a known
// address.
type StackWalker interface {
	// Walk returns the current call stack, innermost frame first.
	Walk() []Frame
}

// runtimeStackWalker is the default StackWalker, built on the Go runtime's
// own frame-walking facility. It stands in for the native unwinder a real
// Score-P substrate plug-in would reach through libunwind/backtrace(3):
// this core only ever needs "procedure names in call order", which
// runtime.Callers/CallersFrames already exposes without any third-party
// dependency (none of the pack's examples ship a general-purpose native
// stack unwinder; the closest, wazero's experimental.StackIterator, walks
// wasm frames, not native ones).
type runtimeStackWalker struct {
	skip int
}

// NewRuntimeStackWalker builds a StackWalker over the real call stack of
// the calling goroutine. skip is the number of additional frames to skip
// past Walk itself, for callers that are themselves a few frames removed
// from the logical "current" frame.
func NewRuntimeStackWalker(skip int) StackWalker {
	return &runtimeStackWalker{skip: skip}
}

func (w *runtimeStackWalker) Walk() []Frame {
	pcs := make([]uintptr, 128)
	n := runtime.Callers(2+w.skip, pcs)
	pcs = pcs[:n]

	frames := runtime.CallersFrames(pcs)
	out := make([]Frame, 0, n)
	for {
		f, more := frames.Next()
		out = append(out, Frame{Name: f.Function, PC: f.PC})
		if !more {
			break
		}
	}
	return out
}

// FakeStackWalker is a StackWalker that always returns a fixed stack,
// for deterministic tests that pretend a hook is at a known address.
type FakeStackWalker struct {
	Frames []Frame
}

func (w *FakeStackWalker) Walk() []Frame {
	return w.Frames
}

// HookFamily names the matched entry/exit symbol pair a binary uses for
// its compiler-inserted instrumentation (spec §4.6).
type HookFamily struct {
	Name  string
	Enter string
	Exit  string
}

// KnownHookFamilies is the fixed set of hook-symbol families this core
// recognizes, in the order they are tried. The first match found on the
// stack wins.
var KnownHookFamilies = []HookFamily{
	{Name: "cyg-profile", Enter: "__cyg_profile_func_enter", Exit: "__cyg_profile_func_exit"},
	{Name: "scorep-plugin", Enter: "scorep_plugin_enter_region", Exit: "scorep_plugin_exit_region"},
	{Name: "vampirtrace-intel", Enter: "__VT_IntelEntry", Exit: "__VT_IntelExit"},
}

// classificationState tracks the lazily-computed, run-wide hook family.
// familyIndex holds 1+index into KnownHookFamilies once resolved, 0 while
// unresolved, and -1 if classification found no match (deletion disabled
// for the run). The race on first write is benign per spec §5: every
// writer walks the same stack shape and computes the same value.
type classificationState struct {
	familyIndex int32
}

const (
	classUnresolved int32 = 0
	classNone       int32 = -1
)

// UnwindProbe implements spec §4.6: call-site discovery by stack unwinding,
// plus the one-time hook-family classification that gates it.
type UnwindProbe struct {
	walker StackWalker
	state  classificationState
}

// NewUnwindProbe constructs an UnwindProbe that walks stacks through
// walker.
func NewUnwindProbe(walker StackWalker) *UnwindProbe {
	return &UnwindProbe{walker: walker}
}

// Classify resolves and caches which hook family this binary uses, walking
// the stack once if not already resolved. It returns (family, true) on a
// match, or (HookFamily{}, false) if no known family was ever found on the
// stack — in which case every future call also returns false and the probe
// never yields a site address (spec §4.6, §7: "unknown hook family").
func (p *UnwindProbe) Classify() (HookFamily, bool) {
	if idx := atomic.LoadInt32(&p.state.familyIndex); idx != classUnresolved {
		if idx == classNone {
			return HookFamily{}, false
		}
		return KnownHookFamilies[idx-1], true
	}

	frames := p.walker.Walk()
	for _, fam := range KnownHookFamilies {
		for _, f := range frames {
			if f.Name == fam.Enter || f.Name == fam.Exit {
				atomic.CompareAndSwapInt32(&p.state.familyIndex, classUnresolved, int32(indexOfFamily(fam))+1)
				return fam, true
			}
		}
	}
	atomic.CompareAndSwapInt32(&p.state.familyIndex, classUnresolved, classNone)
	return HookFamily{}, false
}

func indexOfFamily(fam HookFamily) int {
	for i, f := range KnownHookFamilies {
		if f.Name == fam.Name {
			return i
		}
	}
	return -1
}

// callNOPLen is the size, in bytes, of a call instruction on the one
// architecture this core supports (x86-64); see patch.go.
const callNOPLen = 5

// FindCallSite implements spec §4.6: given the hook's symbol name, walk the
// current stack and return the address of the call instruction in the
// caller of the outermost occurrence of that symbol. Returns 0 if the
// symbol is not found on the stack (callers must treat 0 as "do not patch
// yet").
func (p *UnwindProbe) FindCallSite(symbol string) SiteAddr {
	frames := p.walker.Walk()

	lastMatch := -1
	for i, f := range frames {
		if f.Name == symbol {
			lastMatch = i
		}
	}
	if lastMatch < 0 || lastMatch+1 >= len(frames) {
		return 0
	}
	caller := frames[lastMatch+1]
	return SiteAddr(caller.PC - callNOPLen)
}
