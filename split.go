// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package memalloc

// splitBlock divides b into a used prefix of size s and a free suffix, when
// and only when the remainder is large enough to be worth the extra header:
//
//	b.size - s >= headerSize + minPayload
//
// If the margin is too small, b is left whole and the caller accounts the
// difference as internal fragmentation. The suffix inherits b's mapped flag
// — it lies in the same original OS mapping as b.
func splitBlock(b *block, s uintptr) {
	if b.size-s < headerSize+minPayload {
		return
	}

	suffix := blockAt(b.addr() + headerSize + s)
	suffix.size = b.size - s - headerSize
	suffix.next = b.next
	suffix.prev = b
	suffix.flags = 0
	suffix.setFree(true)
	suffix.setMapped(b.mapped())

	if suffix.next != nil {
		suffix.next.prev = suffix
	}
	b.size = s
	b.next = suffix
}
