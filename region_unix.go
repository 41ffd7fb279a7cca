// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package memalloc

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	osPageSize = os.Getpagesize()
	osPageMask = osPageSize - 1
)

func mmapRegion(size int) ([]byte, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	prot := unix.PROT_READ | unix.PROT_WRITE
	b, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(osPageMask) != 0 {
		panic("internal error: mmap returned a non-page-aligned address")
	}

	return b, nil
}

func munmapRegion(b []byte) error {
	return unix.Munmap(b)
}
