// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"errors"
	"sync"
	"unsafe"
)

// arenaChunk is the size of each backing slab fakeMapper carves sequential
// mappings from. Large enough that ordinary tests never need a second one.
const arenaChunk = 1 << 20

// fakeMapper is an in-process regionMapper backed by ordinary Go byte
// slices instead of real OS mappings. It lets tests observe every Unmap
// call (E5's "injectable unmap observer") and optionally force mapping
// failures, without touching the real address space.
//
// Map carves each mapping sequentially out of a shared backing arena, so
// consecutive mappings land address-adjacent to one another — the same
// property repeated mmap calls typically exhibit in practice, and the one
// coalesce.go's adjacent() check relies on to ever merge blocks born from
// separate Map calls. Falling back to one independent make([]byte, n) per
// call (as a real mmap-per-call backend would, unpredictably) would leave
// tests like the round-trip soak test unable to exercise cross-mapping
// coalescing at all.
type fakeMapper struct {
	mu        sync.Mutex
	arena     []byte
	offset    int
	unmapped  [][]byte
	failMap   bool
	failUnmap bool
	maps      int
}

func (m *fakeMapper) Map(size int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMap {
		return nil, newError(OutOfAddressSpace, "fake mapper: forced failure", nil)
	}
	if m.arena == nil || m.offset+size > len(m.arena) {
		n := arenaChunk
		if size > n {
			n = size
		}
		m.arena = make([]byte, n)
		m.offset = 0
	}
	region := m.arena[m.offset : m.offset+size : m.offset+size]
	m.offset += size
	m.maps++
	return region, nil
}

func (m *fakeMapper) Unmap(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUnmap {
		return errors.New("fake mapper: forced unmap failure")
	}
	m.unmapped = append(m.unmapped, b)
	return nil
}

func (m *fakeMapper) unmapCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.unmapped)
}

func newTestAllocator(opts ...Option) (*Allocator, *fakeMapper) {
	fm := &fakeMapper{}
	all := append([]Option{WithRegionMapper(fm)}, opts...)
	return New(all...), fm
}

// uintptrOf returns the address of a byte slice's backing array, for tests
// that build block chains directly without going through the façade.
func uintptrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

// asError reports whether err is (or wraps) an *Error, storing it in *target.
func asError(err error, target **Error) bool {
	return errors.As(err, target)
}
