// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2017 The Memory Authors.

//go:build windows

package memalloc

import (
	"errors"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	osPageSize = os.Getpagesize()
	osPageMask = osPageSize - 1
)

// mmap on Windows is a two-step process: CreateFileMapping gets a handle,
// then MapViewOfFile gets an actual pointer into memory. We keep a map from
// the returned address back to its handle so munmapRegion can close it.
var (
	handleMu  sync.Mutex
	handleMap = map[uintptr]windows.Handle{}
)

func mmapRegion(size int) ([]byte, error) {
	maxSizeHigh := uint32(uint64(size) >> 32)
	maxSizeLow := uint32(uint64(size) & 0xFFFFFFFF)

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	if addr&uintptr(osPageMask) != 0 {
		panic("internal error: MapViewOfFile returned a non-page-aligned address")
	}

	handleMu.Lock()
	handleMap[addr] = h
	handleMu.Unlock()

	var b []byte
	sh := (*sliceHeader)(unsafe.Pointer(&b))
	sh.Data = addr
	sh.Len = size
	sh.Cap = size
	return b, nil
}

func munmapRegion(b []byte) error {
	if len(b) == 0 {
		return errors.New("munmap of empty region")
	}
	addr := uintptr(unsafe.Pointer(&b[0]))

	if err := windows.UnmapViewOfFile(addr); err != nil {
		return err
	}

	handleMu.Lock()
	h, ok := handleMap[addr]
	delete(handleMap, addr)
	handleMu.Unlock()
	if !ok {
		return errors.New("munmap: unknown base address")
	}

	return windows.CloseHandle(h)
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}
