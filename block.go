// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import "unsafe"

const (
	// Alignment is the quantum every requested size is rounded up to.
	Alignment = 8

	// headerSize is the fixed, ABI-level size of a block header. It is a
	// constant rather than unsafe.Sizeof(block{}) because callers recover a
	// block from a user pointer by subtracting this exact number of bytes;
	// that arithmetic must not drift if the struct below is ever reordered.
	headerSize = 40

	// minPayload is the smallest payload size worth splitting a block for.
	minPayload = Alignment

	flagFree   = 1 << 0
	flagMapped = 1 << 1
)

// block is the intrusive header prefixed to every payload. Its layout is
// pinned to headerSize bytes by the padding field below; init() verifies
// this against unsafe.Sizeof so a future field addition cannot silently
// desync the header-size ABI constant from the real layout.
type block struct {
	size  uintptr
	next  *block
	prev  *block
	flags uint8
	_     [headerSize - 3*unsafe.Sizeof(uintptr(0)) - 1]byte
}

func init() {
	if unsafe.Sizeof(block{}) != headerSize {
		panic("internal error: block header size drifted from the 40-byte ABI constant")
	}
}

// align rounds n up to the next multiple of Alignment.
func align(n int) uintptr {
	if n <= 0 {
		return 0
	}
	u := uintptr(n)
	return (u + Alignment - 1) &^ (Alignment - 1)
}

func (b *block) free() bool   { return b.flags&flagFree != 0 }
func (b *block) mapped() bool { return b.flags&flagMapped != 0 }

func (b *block) setFree(v bool) {
	if v {
		b.flags |= flagFree
	} else {
		b.flags &^= flagFree
	}
}

func (b *block) setMapped(v bool) {
	if v {
		b.flags |= flagMapped
	} else {
		b.flags &^= flagMapped
	}
}

// addr returns the address of the header itself.
func (b *block) addr() uintptr { return uintptr(unsafe.Pointer(b)) }

// payload returns the address of the first payload byte, always
// addr(b) + headerSize.
func (b *block) payload() unsafe.Pointer {
	return unsafe.Pointer(b.addr() + headerSize)
}

// bytes views the block's live payload as a byte slice, for zeroing and
// copying. It must never be retained past a structural change to b.
func (b *block) bytes() []byte {
	if b.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(b.payload()), int(b.size))
}

// headerOf recovers the block header for a payload pointer via pure address
// arithmetic; it never dereferences p and is unsafe to call on a pointer
// that is not known to be a live payload address.
func headerOf(p unsafe.Pointer) *block {
	return (*block)(unsafe.Pointer(uintptr(p) - headerSize))
}

// blockAt casts an arbitrary mapped address to a *block header, used when a
// region source hands back a freshly mapped range.
func blockAt(addr uintptr) *block {
	return (*block)(unsafe.Pointer(addr))
}
