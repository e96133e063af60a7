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

// nopInstruction is the 5-byte x86-64 architectural NOP (0F 1F 44 00 00)
// written over a call site once a region is judged deletable, per spec
// §4.7. Its length doubles as the "minus-5" correction the unwind probe
// applies to return addresses (spec §4.6).
var nopInstruction = [callNOPLen]byte{0x0F, 0x1F, 0x44, 0x00, 0x00}

// ErrUnsupportedArchitecture is returned by a CodePatcher on any platform
// other than linux/amd64. Per spec §9's architecture-assumption note, the
// 5-byte NOP and 5-byte call-instruction size assume x86-64, and the
// patcher must refuse to operate elsewhere rather than silently corrupt
// unrelated bytes.
var ErrUnsupportedArchitecture = fmt.Errorf("dynfilter: code patching is only supported on linux/amd64")

// ErrProtectionNotRestored wraps a PatchSite error that occurred after the
// NOP bytes were already written: the page could not be flipped back to
// read-execute, but the site itself is patched and must not be patched
// again. Callers should use errors.Is against this sentinel to tell that
// case apart from a site that was never written at all.
var ErrProtectionNotRestored = fmt.Errorf("dynfilter: patched site left in a non-executable protection state")

// CodePatcher overwrites the 5 bytes at a live call site with the
// architectural NOP, temporarily relaxing and restoring page protections
// around the write (spec §4.7). Implementations must assume single-threaded
// execution of the target process; the DeletionCoordinator establishes that
// invariant before ever calling PatchSite.
type CodePatcher interface {
	// PatchSite overwrites the 5 bytes at addr with the architectural NOP.
	// A nil error means the site was patched. A non-nil error wrapping
	// ErrProtectionNotRestored also means the site was patched: the write
	// happened, only the post-write protection restore failed, so the
	// caller must still treat the site as done and never call PatchSite on
	// it again. Any other non-nil error means the site was not patched and
	// remains instrumented; this is non-fatal per spec §7.
	PatchSite(addr SiteAddr) error
}

// pagesFor returns the distinct page-aligned start addresses spanned by the
// callNOPLen bytes starting at addr, given pageSize. A call instruction may
// straddle two pages; this returns one or two addresses accordingly, per
// spec §4.7.
func pagesFor(addr SiteAddr, pageSize uintptr) []uintptr {
	first := pageAlign(uintptr(addr), pageSize)
	last := pageAlign(uintptr(addr)+callNOPLen-1, pageSize)
	if first == last {
		return []uintptr{first}
	}
	return []uintptr{first, last}
}

func pageAlign(addr, pageSize uintptr) uintptr {
	return addr &^ (pageSize - 1)
}
