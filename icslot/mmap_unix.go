//go:build !windows

// mmap_unix.go - Unix 系列平台的可执行内存分配
//
// 使用 golang.org/x/sys/unix 而不是裸 syscall.Syscall6，换来跨架构
// 正确的系统调用号与参数打包（teacher 的 mmap_unix.go 用裸 syscall，
// 这里改为维护中的 x/sys 封装，是本次迁移唯一刻意偏离 teacher 写法的
// 地方，见 DESIGN.md）。
package icslot

import (
	"golang.org/x/sys/unix"
)

func allocExecutable(size int) ([]byte, error) {
	pageSize := unix.Getpagesize()
	aligned := (size + pageSize - 1) &^ (pageSize - 1)

	mem, err := unix.Mmap(-1, 0, aligned,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func freeExecutable(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Munmap(mem)
}
