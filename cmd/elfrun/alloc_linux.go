//go:build linux

package main

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/xyproto/elfload"
)

// mmapAnon reserves a page-aligned, zero-filled anonymous region at least
// size bytes long with read+write permission, the same raw mmap call the
// teacher's hot-reload allocator used for executable pages (ground:
// hotreload_unix.go's AllocateExecutablePage), except elfload.Load does its
// own zero-fill so this only needs RW up front; execute permission is
// granted later, per segment, through the protect callback.
func mmapAnon(size int) ([]byte, error) {
	pageSize := int(elfload.PageSize)
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	addr, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP,
		0,
		uintptr(allocSize),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_PRIVATE|syscall.MAP_ANON,
		^uintptr(0),
		0,
	)
	if errno != 0 {
		return nil, fmt.Errorf("mmap failed: %w", errno)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), allocSize)[:size], nil
}

func munmapAnon(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&mem[0]))
	_, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, addr, uintptr(cap(mem)), 0)
	if errno != 0 {
		return fmt.Errorf("munmap failed: %w", errno)
	}
	return nil
}

// mprotectProtect is an elfload.ProtectFunc backed by the real mprotect(2)
// syscall: it ignores the relocated (virtual) address entirely, since this
// process loads the image at the same address it will run it from.
func mprotectProtect(prot elfload.SegmentProtection, pBase, _ uintptr, memLen uint32, byteRange elfload.ByteRange) error {
	_ = memLen
	addr := pBase + uintptr(byteRange.Off)
	length := uintptr(byteRange.Len)
	if length == 0 {
		return nil
	}

	pageSize := uintptr(elfload.PageSize)
	aligned := addr &^ (pageSize - 1)
	length += addr - aligned

	var protBits uintptr
	switch prot {
	case elfload.ProtRO:
		protBits = syscall.PROT_READ
	case elfload.ProtRW:
		protBits = syscall.PROT_READ | syscall.PROT_WRITE
	case elfload.ProtRX:
		protBits = syscall.PROT_READ | syscall.PROT_EXEC
	}

	_, _, errno := syscall.Syscall(syscall.SYS_MPROTECT, aligned, length, protBits)
	if errno != 0 {
		return fmt.Errorf("mprotect(%s) failed: %w", prot, errno)
	}
	return nil
}
