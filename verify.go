// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import (
	"fmt"
	"io"
)

// maxReasonableSize bounds VerifyHeap's sanity check on a block's size; a
// size outside (0, maxReasonableSize] almost certainly indicates a
// corrupted header rather than a legitimately huge allocation.
const maxReasonableSize = 1_000_000

// VerifyHeap walks the block list from base and checks the structural
// invariants documented for the heap: back-link consistency, the
// no-two-adjacent-free-blocks coalescing invariant, and that every size is
// in (0, maxReasonableSize]. It never mutates the heap. If w is non-nil,
// each visited block's fields are written to w as it is checked. The
// returned slice lists every violation found, empty if none.
func (a *Allocator) VerifyHeap(w io.Writer) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var issues []string
	var prev *block
	for b := a.base; b != nil; b = b.next {
		if w != nil {
			fmt.Fprintf(w, "block %p: size=%d free=%v mapped=%v next=%p prev=%p\n",
				b.payload(), b.size, b.free(), b.mapped(), blockPtr(b.next), blockPtr(b.prev))
		}

		if b.next != nil && b.next.prev != b {
			issues = append(issues, fmt.Sprintf("block %p: next.prev back-link mismatch", b.payload()))
		}
		if b.prev != nil && b.prev.next != b {
			issues = append(issues, fmt.Sprintf("block %p: prev.next back-link mismatch", b.payload()))
		}
		if b.size == 0 || b.size > maxReasonableSize {
			issues = append(issues, fmt.Sprintf("block %p: size %d out of range", b.payload(), b.size))
		}
		if b.prev == nil && b != a.base {
			issues = append(issues, fmt.Sprintf("block %p: not the base but lacks a prev", b.payload()))
		}
		// A list-consecutive free pair is only a missed coalesce when the
		// two blocks are address-adjacent; coalesce.go deliberately leaves
		// free blocks from separate, non-adjacent OS mappings unmerged.
		if prev != nil && prev.free() && b.free() && adjacent(prev, b) {
			issues = append(issues, fmt.Sprintf("block %p: adjacent free blocks were not coalesced", b.payload()))
		}
		prev = b
	}
	return issues
}

func blockPtr(b *block) interface{} {
	if b == nil {
		return "<nil>"
	}
	return b.payload()
}
