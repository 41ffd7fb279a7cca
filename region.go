// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// regionMapper wraps the OS primitive that maps/unmaps anonymous,
// readable+writable memory into the process. It is the sole primitive
// capability the allocator's engine depends on; everything else (block
// layout, placement, split/coalesce, the façade) builds on top of it.
//
// Implementations return a slice whose length is at least the requested
// size and whose address is at least 8-byte aligned. The OS-backed
// implementation returns page-aligned slices backed by pages private to
// this process (never shared, never file-backed); the test fake hands out
// consecutive, unaligned slices of a shared Go byte arena.
type regionMapper interface {
	// Map obtains a fresh anonymous mapping of at least size bytes.
	Map(size int) ([]byte, error)
	// Unmap releases a range previously returned by Map. The slice passed
	// in must be exactly the slice Map returned (same address and length).
	Unmap(b []byte) error
}

// osRegionMapper is the production regionMapper, backed by the platform mmap
// shims in region_unix.go / region_windows.go.
type osRegionMapper struct{}

func (osRegionMapper) Map(size int) ([]byte, error) {
	b, err := mmapRegion(size)
	if err != nil {
		return nil, newError(OutOfAddressSpace, "mmap failed", err)
	}
	return b, nil
}

func (osRegionMapper) Unmap(b []byte) error {
	if len(b) == 0 {
		return newError(InvalidRegion, "unmap of empty region", nil)
	}
	if err := munmapRegion(b); err != nil {
		return newError(InvalidRegion, "munmap failed", err)
	}
	return nil
}
