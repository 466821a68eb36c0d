package icslot

import "unsafe"

// addrOf 返回某字节的进程地址。仅用于诊断（CodeBase）——重写器引擎
// 本身从不依赖绝对地址做决策，只用相对偏移。
func addrOf(b *byte) uintptr {
	return uintptr(unsafe.Pointer(b))
}
