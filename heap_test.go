// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"bytes"
	"testing"
	"unsafe"
)

func readBytes(p unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(p), n)
}

func writePattern(p unsafe.Pointer, n int, seed byte) {
	buf := readBytes(p, n)
	for i := range buf {
		buf[i] = seed + byte(i)
	}
}

// TestScenarioE1 follows spec scenario E1 literally: set_policy(0);
// p=allocate(100); q=allocate_zeroed(10,4); r=resize(p,200); free(r,true);
// free(q,true).
func TestScenarioE1(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	if err := a.SetPolicy(FirstFit); err != nil {
		t.Fatalf("SetPolicy: %v", err)
	}

	p, err := a.Allocate(100)
	if err != nil || p == nil {
		t.Fatalf("allocate(100) failed: %v", err)
	}
	writePattern(p, 100, 1)
	before := append([]byte(nil), readBytes(p, 100)...)

	q, err := a.AllocateZeroed(10, 4)
	if err != nil || q == nil {
		t.Fatalf("allocate_zeroed(10,4) failed: %v", err)
	}
	for i, bVal := range readBytes(q, 40) {
		if bVal != 0 {
			t.Fatalf("calloc byte %d = %d, want 0", i, bVal)
		}
	}

	r, err := a.Resize(p, 200)
	if err != nil || r == nil {
		t.Fatalf("resize(p,200) failed: %v", err)
	}
	if !bytes.Equal(readBytes(r, 100), before) {
		t.Fatalf("resize did not preserve the first 100 bytes")
	}

	if issues := a.VerifyHeap(nil); len(issues) != 0 {
		t.Fatalf("heap invalid after resize: %v", issues)
	}

	if err := a.Free(r, true); err != nil {
		t.Fatalf("free(r): %v", err)
	}
	if issues := a.VerifyHeap(nil); len(issues) != 0 {
		t.Fatalf("heap invalid after free(r): %v", issues)
	}

	if err := a.Free(q, true); err != nil {
		t.Fatalf("free(q): %v", err)
	}
	if issues := a.VerifyHeap(nil); len(issues) != 0 {
		t.Fatalf("heap invalid after free(q): %v", issues)
	}
}

// TestScenarioE3: double-free is diagnostic, not fatal, and leaves the heap
// unchanged.
func TestScenarioE3(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p, err := a.Allocate(16)
	if err != nil || p == nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := a.Free(p, false); err != nil {
		t.Fatalf("first free: %v", err)
	}

	err = a.Free(p, false)
	var e *Error
	if !asError(err, &e) || e.Kind != DoubleFree {
		t.Fatalf("second free: got %v, want DoubleFree", err)
	}
}

// TestScenarioE4: freeing three adjacent blocks out of order coalesces into
// a single free block spanning all three plus their headers.
func TestScenarioE4(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p1, err := a.Allocate(64)
	must(t, err)
	p2, err := a.Allocate(64)
	must(t, err)
	p3, err := a.Allocate(64)
	must(t, err)

	b1, b2, b3 := headerOf(p1), headerOf(p2), headerOf(p3)
	wantSize := b1.size + b2.size + b3.size + 2*headerSize

	must(t, a.Free(p1, false))
	must(t, a.Free(p3, false))
	must(t, a.Free(p2, false))

	count := 0
	for b := a.base; b != nil; b = b.next {
		if b.free() {
			count++
			if b.size != wantSize {
				t.Errorf("coalesced size = %d, want %d", b.size, wantSize)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one free block after coalescing, got %d", count)
	}
}

// TestScenarioE5: freeing the sole block with releaseTrailing unmaps its
// region and leaves the heap empty.
func TestScenarioE5(t *testing.T) {
	a, fm := newTestAllocator()
	defer a.Close()

	p, err := a.Allocate(128)
	must(t, err)

	must(t, a.Free(p, true))

	if a.base != nil {
		t.Fatalf("base should be nil after trailing release of the only block")
	}
	if got := fm.unmapCount(); got != 1 {
		t.Fatalf("unmap observer saw %d calls, want 1", got)
	}
}

// TestTrailingReleaseUnmapFailure exercises the re-attach path: if Unmap
// fails, the block must remain live and reachable.
func TestTrailingReleaseUnmapFailure(t *testing.T) {
	a, fm := newTestAllocator()
	defer func() {
		fm.failUnmap = false
		a.Close()
	}()

	p, err := a.Allocate(64)
	must(t, err)

	fm.failUnmap = true
	err = a.Free(p, true)
	var e *Error
	if !asError(err, &e) || e.Kind != UnmapFailed {
		t.Fatalf("got %v, want UnmapFailed", err)
	}
	if a.base == nil {
		t.Fatalf("block must be re-attached after a failed unmap")
	}
	if issues := a.VerifyHeap(nil); len(issues) != 0 {
		t.Fatalf("heap invalid after re-attach: %v", issues)
	}
}

// TestTrailingReleaseRejectsPartialMapping guards against reconstructing an
// Unmap region from a block's current size: once a mapping has been split,
// neither half owns the whole thing on its own, and only reunifying both
// halves through coalescing reconstructs a releasable, whole mapping again.
func TestTrailingReleaseRejectsPartialMapping(t *testing.T) {
	a, fm := newTestAllocator()
	defer a.Close()

	p, err := a.Allocate(512)
	must(t, err)

	// Shrinking in place splits the block into a used prefix and a free
	// suffix; the suffix becomes the tail but only ever covered part of
	// the original mapping, so releasing it alone must be rejected.
	q, err := a.Resize(p, 16)
	must(t, err)
	if q != p {
		t.Fatalf("expected an in-place shrink, got a new pointer")
	}

	if a.base == nil || a.base.next == nil {
		t.Fatalf("expected the resize to split off a trailing free block")
	}
	tail := a.base.next
	if !tail.free() || tail.next != nil {
		t.Fatalf("expected a free trailing block, got free=%v next=%v", tail.free(), tail.next)
	}
	if got := fm.unmapCount(); got != 0 {
		t.Fatalf("split alone must never trigger a release, got %d unmaps", got)
	}

	// Freeing the live prefix reunifies it with the suffix, reconstructing
	// the full original mapping; only then is release legitimate.
	must(t, a.Free(p, true))
	if got := fm.unmapCount(); got != 1 {
		t.Fatalf("expected exactly 1 unmap after reunification, got %d", got)
	}
	if a.base != nil {
		t.Fatalf("heap should be empty after releasing the reunified mapping")
	}
}

func TestAllocateZero(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p, err := a.Allocate(0)
	if err != nil || p != nil {
		t.Fatalf("allocate(0) = (%v, %v), want (nil, nil)", p, err)
	}
}

func TestAllocateZeroedOverflow(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p, err := a.AllocateZeroed(1<<62, 1<<62)
	if p != nil {
		t.Fatalf("expected nil pointer on overflow")
	}
	var e *Error
	if !asError(err, &e) || e.Kind != SizeOverflow {
		t.Fatalf("got %v, want SizeOverflow", err)
	}
}

func TestFreeNilAndUnknownAddress(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	if err := a.Free(nil, false); err != nil {
		t.Fatalf("free(nil) should be a no-op, got %v", err)
	}

	p, err := a.Allocate(32)
	must(t, err)
	bogus := unsafe.Pointer(uintptr(p) + 4)
	if err := a.Free(bogus, false); err != nil {
		t.Fatalf("free of an unknown address should be a silent no-op, got %v", err)
	}
}

func TestResizeNilBehavesAsAllocate(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p, err := a.Resize(nil, 48)
	if err != nil || p == nil {
		t.Fatalf("resize(nil, 48) = (%v, %v)", p, err)
	}
}

func TestResizeInvalidAddress(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p, err := a.Allocate(16)
	must(t, err)
	bogus := unsafe.Pointer(uintptr(p) + 1)
	_, err = a.Resize(bogus, 32)
	var e *Error
	if !asError(err, &e) || e.Kind != InvalidAddress {
		t.Fatalf("got %v, want InvalidAddress", err)
	}
}

func TestResizeShrinkInPlace(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	p, err := a.Allocate(200)
	must(t, err)
	q, err := a.Resize(p, 16)
	must(t, err)
	if q != p {
		t.Fatalf("shrinking in place must not move the block")
	}
}

func TestSetPolicyInvalid(t *testing.T) {
	a, _ := newTestAllocator()
	defer a.Close()

	err := a.SetPolicy(Policy(7))
	var e *Error
	if !asError(err, &e) || e.Kind != InvalidPolicy {
		t.Fatalf("got %v, want InvalidPolicy", err)
	}
	if a.policy != DefaultPolicy {
		t.Fatalf("policy changed despite invalid SetPolicy call")
	}
}

func TestUseAfterClose(t *testing.T) {
	a, _ := newTestAllocator()
	a.Close()

	if _, err := a.Allocate(8); err != ErrClosed {
		t.Fatalf("got %v, want ErrClosed", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
