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

//go:build linux && amd64

package dynfilter

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// amd64CodePatcher is the real CodePatcher, grounded on the
// unix.Mmap/unix.Mprotect RW<->RX dance in
// tinyrange/cc/internal/asm/amd64/exec.go: that code flips a freshly
// mapped region from read-write to read-execute once it finishes emitting
// machine code into it; this does the mirror image, flipping an existing
// executable mapping to read-write-execute just long enough to overwrite
// five bytes, then back to read-execute.
type amd64CodePatcher struct {
	pageSize uintptr
}

// NewCodePatcher returns the platform's CodePatcher. On linux/amd64 this is
// a real implementation; see patch_stub.go for every other target.
func NewCodePatcher() CodePatcher {
	return &amd64CodePatcher{pageSize: uintptr(os.Getpagesize())}
}

func (p *amd64CodePatcher) PatchSite(addr SiteAddr) error {
	if addr == 0 {
		return fmt.Errorf("dynfilter: refusing to patch a null site address")
	}

	pages := pagesFor(addr, p.pageSize)

	var flipped []uintptr
	for _, page := range pages {
		if err := mprotectAt(page, p.pageSize, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
			restorePages(flipped, p.pageSize)
			return fmt.Errorf("dynfilter: mprotect rwx at %#x: %w", page, err)
		}
		flipped = append(flipped, page)
	}

	dst := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), callNOPLen)
	copy(dst, nopInstruction[:])

	var flipBackErr error
	for _, page := range pages {
		if err := mprotectAt(page, p.pageSize, unix.PROT_READ|unix.PROT_EXEC); err != nil && flipBackErr == nil {
			flipBackErr = fmt.Errorf("dynfilter: mprotect rx at %#x: %w", page, err)
		}
	}
	if flipBackErr != nil {
		return fmt.Errorf("%w: %w", ErrProtectionNotRestored, flipBackErr)
	}
	return nil
}

// mprotectAt flips the protection of the single page starting at page to
// prot. It constructs a byte slice over live process memory purely to
// satisfy unix.Mprotect's signature; the slice is never read or written by
// this function.
func mprotectAt(page, pageSize uintptr, prot int) error {
	b := unsafe.Slice((*byte)(unsafe.Pointer(page)), pageSize)
	return unix.Mprotect(b, prot)
}

// restorePages best-effort flips already-RWX pages back to read-execute
// when PatchSite aborts before writing the NOP, so a straddling call site
// whose second page fails to flip doesn't leave the first page permanently
// writable. Errors here are not actionable: the caller is already returning
// the original failure, and there is no further fallback.
func restorePages(pages []uintptr, pageSize uintptr) {
	for _, page := range pages {
		mprotectAt(page, pageSize, unix.PROT_READ|unix.PROT_EXEC)
	}
}
