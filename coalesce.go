// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// adjacent reports whether n begins exactly where b's payload ends, i.e.
// merging them is safe pointer arithmetic rather than stitching together two
// unrelated mappings that merely ended up next to each other in the list.
// extend links a fresh mapping after the current tail regardless of where
// the OS actually placed it, so list adjacency alone is not a safe signal
// that two blocks are address-contiguous.
func adjacent(b, n *block) bool {
	return n.addr() == b.addr()+headerSize+b.size
}

// absorbNext merges b's immediate successor into b, assuming b.next is
// non-nil, free, and adjacent. It is the single-neighbour primitive shared by
// the full coalesce loop below and by Resize's one-neighbour forward-merge
// step.
func absorbNext(b *block) {
	n := b.next
	b.size += headerSize + n.size
	b.next = n.next
	if b.next != nil {
		b.next.prev = b
	}
	if !n.mapped() {
		b.setMapped(false)
	}
}

// coalesce repeatedly merges a newly-freed block with free neighbours, in
// both directions, and returns the surviving block (b itself, b.prev, or an
// ancestor further back the chain). A free neighbour that isn't address-
// adjacent — the boundary between two independently-mapped regions chained
// together in the list — is left alone rather than merged. The mapped flag
// is cleared on the survivor the moment any absorbed neighbour was not
// itself mapped, since the merged region no longer corresponds to a single
// original OS mapping.
func coalesce(base *block, b *block) (newBase, survivor *block) {
	for b.next != nil && b.next.free() && adjacent(b, b.next) {
		absorbNext(b)
	}

	for b.prev != nil && b.prev.free() && adjacent(b.prev, b) {
		prev := b.prev
		absorbNext(prev)
		b = prev
	}

	newBase = base
	if b.prev == nil {
		newBase = b
	}
	return newBase, b
}
