// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// Policy selects how the allocator searches the free list for a block large
// enough to satisfy a request.
type Policy int

const (
	// FirstFit returns the first free block of sufficient size encountered
	// while walking from base.
	FirstFit Policy = iota
	// BestFit returns the free block of sufficient size whose size is
	// closest to (but not below) the request, minimizing internal
	// fragmentation. Only blocks whose surplus over the request is below
	// bestFitSentinel are candidates.
	BestFit
	// WorstFit returns the free block of sufficient size farthest above the
	// request, maximizing the remainder left for future splits.
	WorstFit

	// DefaultPolicy is the policy a freshly constructed Allocator starts
	// with.
	DefaultPolicy = FirstFit

	// bestFitSentinel is the initial "no candidate yet" difference used by
	// best-fit search; it mirrors the original C source's use of its page
	// size (4096). A free block whose surplus is 4096 bytes or more never
	// beats it, so best-fit does not choose such a block.
	bestFitSentinel = 4096
)

func (p Policy) valid() bool { return p == FirstFit || p == BestFit || p == WorstFit }

func (p Policy) String() string {
	switch p {
	case FirstFit:
		return "first-fit"
	case BestFit:
		return "best-fit"
	case WorstFit:
		return "worst-fit"
	default:
		return "invalid"
	}
}

// find walks the block list applying the allocator's current policy,
// looking for a free block of at least s bytes. It returns the chosen block
// (nil if none fit), and the tail block reached during the walk — the
// façade uses the tail to append a freshly mapped block when no fit exists.
func find(base *block, policy Policy, s uintptr) (found, tail *block, err error) {
	if !policy.valid() {
		return nil, nil, newError(InvalidPolicy, "unrecognized placement policy", nil)
	}

	switch policy {
	case FirstFit:
		b := base
		for b != nil && !(b.free() && b.size >= s) {
			tail = b
			b = b.next
		}
		return b, tail, nil

	case BestFit:
		diff := uintptr(bestFitSentinel)
		var best *block
		for b := base; b != nil; b = b.next {
			if b.free() && b.size >= s {
				if d := b.size - s; d < diff {
					diff = d
					best = b
				}
			}
			tail = b
		}
		return best, tail, nil

	default: // WorstFit
		var diff uintptr
		haveBest := false
		var best *block
		for b := base; b != nil; b = b.next {
			if b.free() && b.size >= s {
				d := b.size - s
				if !haveBest || d > diff {
					diff = d
					best = b
					haveBest = true
				}
			}
			tail = b
		}
		return best, tail, nil
	}
}
