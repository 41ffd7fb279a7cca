// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

import "fmt"

// statCounters holds the cumulative counters that Snapshot resets on every
// read. External fragmentation is not accumulated here — it is always
// computed fresh by a list walk at snapshot time.
type statCounters struct {
	assigned     uint64
	freed        uint64
	internalFrag uint64
}

// Stats is a point-in-time report of the allocator's bookkeeping, named
// after the MemoryUsage fields of the original C implementation this
// library's contract was distilled from.
type Stats struct {
	Assigned              uint64
	Freed                 uint64
	InternalFragmentation uint64
	ExternalFragmentation uint64
	TotalFragmentation    uint64
}

// Snapshot returns the cumulative assigned/freed/internal-fragmentation
// counters accumulated since the previous Snapshot (or since construction,
// for the first call), resets those three counters to zero, and computes
// external fragmentation freshly by walking the block list. If print is
// true, a human-readable report is additionally written to stdout.
func (a *Allocator) Snapshot(print bool) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Assigned:              a.stats.assigned,
		Freed:                 a.stats.freed,
		InternalFragmentation: a.stats.internalFrag,
		ExternalFragmentation: a.externalFragLocked(),
	}
	s.TotalFragmentation = s.InternalFragmentation + s.ExternalFragmentation

	a.stats = statCounters{}

	if print {
		fmt.Printf("memalloc: assigned=%d freed=%d internal_frag=%d external_frag=%d total_frag=%d\n",
			s.Assigned, s.Freed, s.InternalFragmentation, s.ExternalFragmentation, s.TotalFragmentation)
	}
	return s
}

// externalFragLocked sums the size of every free block too small to ever
// satisfy a useful request — the bytes lost to fragmentation that no split
// margin, however favorable, could recover.
func (a *Allocator) externalFragLocked() uint64 {
	var total uint64
	for b := a.base; b != nil; b = b.next {
		if b.free() && b.size < headerSize+minPayload {
			total += uint64(b.size)
		}
	}
	return total
}
