// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memalloc implements a user-space general-purpose dynamic memory
// allocator: a heap of variably-sized blocks carved out of OS-mapped regions
// and handed out through the classic four-operation interface (allocate,
// free, zero-initialized allocate, resize), with pluggable placement
// policies, per-operation statistics, and a textual operation log.
//
// The zero value of Allocator is not ready for use — construct one with New,
// which installs the default region source and placement policy. Close
// releases every OS mapping still held and must be the last call made.
package memalloc

import (
	"fmt"
	"os"
	"sync"
	"unsafe"
)

// Option configures an Allocator at construction time.
type Option func(*Allocator)

// WithPolicy sets the initial placement policy. The default is FirstFit.
func WithPolicy(p Policy) Option {
	return func(a *Allocator) { a.policy = p }
}

// WithRegionMapper overrides the region source, primarily for tests that
// want to observe or fail mmap/munmap without touching real OS mappings.
func WithRegionMapper(m regionMapper) Option {
	return func(a *Allocator) { a.regions = m }
}

// Allocator is a thread-safe heap of variably-sized blocks. All public
// methods are safe to call concurrently from multiple goroutines; a single
// mutex serializes every heap mutation and read.
type Allocator struct {
	mu      sync.Mutex
	base    *block
	policy  Policy
	regions regionMapper
	stats   statCounters
	log     *opLogger
	closed  bool

	// origins records, for every OS mapping currently backing the heap,
	// its starting address and the exact byte length Map returned for it.
	// Split divides a mapping's bytes across two block headers without
	// giving either one the full extent back, so a block's own size can
	// no longer be trusted to reconstruct the slice Unmap requires; this
	// registry is the authoritative source for that instead.
	origins map[uintptr]int
}

// New constructs a ready-to-use Allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		policy:  DefaultPolicy,
		regions: osRegionMapper{},
		origins: make(map[uintptr]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Close tears the allocator down: every OS mapping still held is released
// and the log file, if open, is closed. No public method may be called
// after Close returns.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}

	// Unmap is driven from the origins registry, not from walking the
	// block list: a split can leave a single original mapping's bytes
	// spread across two block headers, and asking Unmap for anything but
	// the exact slice Map returned is a contract violation.
	var first error
	for addr, n := range a.origins {
		region := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
		if err := a.regions.Unmap(region); err != nil && first == nil {
			first = err
		}
	}
	a.origins = nil
	a.base = nil

	if a.log != nil {
		if err := a.log.close(); err != nil && first == nil {
			first = err
		}
		a.log = nil
	}

	a.closed = true
	return first
}

// OpenLog opens (truncating) the operation log at path. Afterwards every
// successful Allocate, AllocateZeroed and Resize call, and every Free call,
// appends one record, per the documented log format.
func (a *Allocator) OpenLog(path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	l, err := openLog(path)
	if err != nil {
		return err
	}
	a.log = l
	return nil
}

// CloseLog closes the operation log, if one is open. Safe to call even if
// no log is open.
func (a *Allocator) CloseLog() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.log == nil {
		return nil
	}
	err := a.log.close()
	a.log = nil
	return err
}

// SetPolicy changes the placement policy used by future allocations. An
// unrecognized policy leaves the current policy unchanged and returns an
// InvalidPolicy error after printing a diagnostic to stderr.
func (a *Allocator) SetPolicy(p Policy) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !p.valid() {
		fmt.Fprintf(os.Stderr, "memalloc: invalid policy %d, leaving policy unchanged\n", int(p))
		return newError(InvalidPolicy, "unrecognized placement policy", nil)
	}
	a.policy = p
	return nil
}

// Allocate reserves size bytes and returns a pointer to the payload, or nil
// if size is zero. A non-nil error indicates the region source could not
// satisfy the request.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	p, err := a.allocateLocked(size)
	a.logOp("malloc", p, size, err)
	return p, err
}

// AllocateZeroed reserves count*size bytes, zeroed, or nil if count or size
// is zero. Returns a SizeOverflow error if count*size overflows.
func (a *Allocator) AllocateZeroed(count, size int) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	if count == 0 || size == 0 {
		return nil, nil
	}
	total := count * size
	if size != 0 && total/size != count {
		err := newError(SizeOverflow, "count*size overflows", nil)
		a.logOp("calloc", nil, 0, err)
		return nil, err
	}

	p, err := a.allocateLocked(total)
	if err == nil && p != nil {
		b := headerOf(p)
		buf := b.bytes()
		for i := range buf {
			buf[i] = 0
		}
	}
	a.logOp("calloc", p, total, err)
	return p, err
}

// Free releases the block at p, which must have been returned by Allocate,
// AllocateZeroed, or Resize. Freeing nil is a no-op. Freeing an address that
// does not belong to any live block is a silent no-op (idempotent on
// unknown addresses). Freeing an already-free block reports DoubleFree —
// a diagnostic, not a fatal condition; the heap is left unchanged.
//
// When releaseTrailing is true and the freed block becomes the new tail of
// the list, still owns a single original OS mapping, and remains free after
// coalescing, that mapping is returned to the OS.
func (a *Allocator) Free(p unsafe.Pointer, releaseTrailing bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	err := a.freeLocked(p, releaseTrailing)
	a.logOp("free", p, 0, nil) // free's log record is unconditional, per the documented contract
	return err
}

// Resize changes the size of the block at p. If p is nil, Resize behaves as
// Allocate. If size shrinks or fits in place, the pointer returned equals p.
// Otherwise the block may move; the first min(old size, size) bytes are
// preserved and the old block is freed (without trailing release).
func (a *Allocator) Resize(p unsafe.Pointer, size int) (unsafe.Pointer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	q, err := a.resizeLocked(p, size)
	a.logOp("realloc", q, size, err)
	return q, err
}

// --- unlocked internals -----------------------------------------------

func (a *Allocator) allocateLocked(size int) (unsafe.Pointer, error) {
	if size <= 0 {
		return nil, nil
	}
	s := align(size)

	if a.base == nil {
		b, err := a.extend(nil, s)
		if err != nil {
			return nil, err
		}
		a.base = b
		b.setFree(false)
		a.stats.assigned += uint64(b.size)
		return b.payload(), nil
	}

	found, tail, err := find(a.base, a.policy, s)
	if err != nil {
		return nil, err
	}

	if found == nil {
		b, err := a.extend(tail, s)
		if err != nil {
			return nil, err
		}
		b.setFree(false)
		a.stats.assigned += uint64(b.size)
		return b.payload(), nil
	}

	splitBlock(found, s)
	a.stats.internalFrag += uint64(found.size - s)
	found.setFree(false)
	a.stats.assigned += uint64(found.size)
	return found.payload(), nil
}

func (a *Allocator) freeLocked(p unsafe.Pointer, releaseTrailing bool) error {
	if p == nil {
		return nil
	}
	if !a.validAddr(p) {
		return nil
	}

	b := headerOf(p)
	if b.free() {
		fmt.Fprintf(os.Stderr, "memalloc: double free at %p\n", p)
		return newError(DoubleFree, "block already free", nil)
	}

	b.setFree(true)
	a.stats.freed += uint64(b.size)

	newBase, survivor := coalesce(a.base, b)
	a.base = newBase

	if releaseTrailing && survivor.next == nil && survivor.mapped() && survivor.free() {
		addr := survivor.addr()
		// A split scatters one mapping's bytes across two headers with
		// neither left owning the whole thing; only release when this
		// block's current extent exactly reconstructs what Map returned.
		if n, ok := a.origins[addr]; ok && n == int(headerSize+survivor.size) {
			region := unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
			prev := survivor.prev
			if prev != nil {
				prev.next = nil
			} else {
				a.base = nil
			}

			if err := a.regions.Unmap(region); err != nil {
				// Re-attach: the mapping is still live, the heap must stay
				// consistent with reality.
				if prev != nil {
					prev.next = survivor
				} else {
					a.base = survivor
				}
				fmt.Fprintf(os.Stderr, "memalloc: unmap of trailing block failed: %v\n", err)
				return newError(UnmapFailed, "trailing release unmap rejected", err)
			}
			delete(a.origins, addr)
		}
	}
	return nil
}

func (a *Allocator) resizeLocked(p unsafe.Pointer, size int) (unsafe.Pointer, error) {
	if p == nil {
		return a.allocateLocked(size)
	}
	if !a.validAddr(p) {
		return nil, newError(InvalidAddress, "pointer not found in heap", nil)
	}

	b := headerOf(p)
	s := align(size)

	if b.size >= s {
		splitBlock(b, s)
		return p, nil
	}

	if b.next != nil && b.next.free() && adjacent(b, b.next) && b.size+headerSize+b.next.size >= s {
		absorbNext(b)
		splitBlock(b, s)
		return p, nil
	}

	newPtr, err := a.allocateLocked(size)
	if err != nil {
		return nil, err
	}
	newB := headerOf(newPtr)
	copy(newB.bytes(), b.bytes())
	if err := a.freeLocked(p, false); err != nil {
		// The copy already succeeded; surface the stale-block problem but
		// still hand back the usable new pointer.
		return newPtr, err
	}
	return newPtr, nil
}

// extend maps a fresh region and returns it as a brand-new block, linking it
// after tail (nil means it becomes the heap's only block).
func (a *Allocator) extend(tail *block, s uintptr) (*block, error) {
	region, err := a.regions.Map(int(headerSize + s))
	if err != nil {
		return nil, err
	}

	addr := uintptr(unsafe.Pointer(&region[0]))
	b := blockAt(addr)
	b.size = s
	b.next = nil
	b.prev = tail
	b.flags = 0
	b.setMapped(true)
	b.setFree(false)
	a.origins[addr] = len(region)

	if tail != nil {
		tail.next = b
	}
	return b, nil
}

// validAddr reports whether p equals the payload address of some live block
// reachable from base. Address-range tests alone are unsound here since
// distinct OS mappings need not be contiguous, so this always walks the
// list.
func (a *Allocator) validAddr(p unsafe.Pointer) bool {
	if p == nil {
		return false
	}
	for b := a.base; b != nil; b = b.next {
		if b.payload() == p {
			return true
		}
	}
	return false
}

func (a *Allocator) logOp(op string, p unsafe.Pointer, size int, err error) {
	if a.log == nil {
		return
	}
	if op == "free" {
		// free logs unconditionally: nil pointers, unknown addresses and
		// double frees all still produce a record.
		a.log.record(op, p, 0)
		return
	}
	if err != nil || p == nil {
		return // log only after the main effect actually succeeds
	}
	a.log.record(op, p, size)
}
