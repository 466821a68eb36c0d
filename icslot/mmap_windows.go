//go:build windows

// mmap_windows.go - Windows 平台的可执行内存分配
package icslot

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	memCommit            = 0x1000
	memReserve           = 0x2000
	memRelease           = 0x8000
	pageExecuteReadWrite = 0x40
)

func allocExecutable(size int) ([]byte, error) {
	pageSize := 4096
	aligned := (size + pageSize - 1) &^ (pageSize - 1)

	addr, err := windows.VirtualAlloc(0, uintptr(aligned), memCommit|memReserve, pageExecuteReadWrite)
	if err != nil {
		return nil, fmt.Errorf("icslot: VirtualAlloc failed: %w", err)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), aligned), nil
}

func freeExecutable(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(&mem[0])), 0, memRelease)
}
