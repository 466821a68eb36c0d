// slot.go - 单个 IC 槛位及其提交/废弃协议
//
// Slot 是 spec §6 "IC slot collaborator" 的具体实现：一段固定大小的
// 字节范围加一段脚手架区，外加一个被外部失效器（invalidator）无锁读写
// 的 num_inside 计数器（spec §5 Concurrency）。重写器把生成好的机器码、
// 保留的对象引用、decref-info 记录和待回填的跳转一并交给 Commit；
// 任何时候都可以 Abort 把槛位还给 arena。
package icslot

import (
	"fmt"
	stdatomic "sync/atomic"
	"unsafe"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DecrefInfo 记录一个可能抛出异常的调用点之后，栈展开器需要 decref 的
// 位置列表（spec §4.6）。IP 是该调用点之后第一条指令相对槛位起始的偏移。
type DecrefInfo struct {
	IP        int
	Locations []DecrefLocation
}

// DecrefLocationKind 区分 decref-info 记录里位置的种类
type DecrefLocationKind int

const (
	// LocStack 是翻译过的脚手架偏移（spec §4.6："rewritten as Stack +
	// computed offset since the unwinder does not see the scratch window"）
	LocStack DecrefLocationKind = iota
	// LocCalleeSaveRegister 指一个被调用者保存寄存器的 DWARF 编号
	LocCalleeSaveRegister
	// LocIndirect 是两级指针：outer 是 LocStack/LocCalleeSaveRegister 定位
	// 到的一个拥有型容器，inner 是该容器内字段的偏移（spec §4.6 "owned
	// attribute"）
	LocIndirect
)

// DecrefLocation 是解包跟随的通用位置描述
type DecrefLocation struct {
	Kind  DecrefLocationKind
	Value int // Stack: 字节偏移；Register: DWARF 寄存器号
	Inner int // 仅 LocIndirect 使用
}

// PendingJump 是一条在 commit 时才能确定最终目标的跳转（典型情形：指向
// 槛位末尾的 slow-path 出口，见 spec §4.7）。ImmOffset 是该跳转立即数
// 字段在槛位代码内的偏移。
type PendingJump struct {
	ImmOffset int
	Short     bool
}

// Policy 描述一个 IC 站点的静态元数据（spec §6: "Per-IC metadata: the
// set of allocatable registers, return register, live-out set"）。这里的
// 寄存器号都是 asm.Register 的机器编码（与 DefaultPolicyConfig 实际填入
// 的值一致），不是 DWARF 编号——真正需要 DWARF 编号的唯一场合是
// getDecrefLocations 记录 LocCalleeSaveRegister，那里会显式调用
// asm.Register.DwarfNumber() 做转换。
type Policy struct {
	AllocatableRegisters []int // asm.Register 机器编码
	CalleeSaveRegisters  []int
	ReturnRegister       int
	LiveOut              map[int]int // 值的逻辑编号 -> 要求落地的寄存器（asm.Register 机器编码）
	// Megamorphic 在 IC 站点的调用目标分布被认为过于发散、不再值得专门化
	// 时返回 true。
	Megamorphic func() bool
}

// Slot 是一次重写占用的槛位
type Slot struct {
	arena        *Arena
	index        int
	code         []byte // 可写的指令区（容量 = slotSize - scratchLen）
	scratch      []byte // 脚手架区
	scratchBytes int

	numInside atomic.Int32 // spec §5: 并发失效器读取的"在用"计数

	committed   bool
	aborted     bool
	decrefInfos []DecrefInfo

	// retainedRefs 是重写器在收集期间登记、commit 时随代码一并转交所有权
	// 的对象地址（spec §4.9 步骤 3 "Retained object references"）。槛位
	// 持有这份引用，直到外部失效器丢弃这段代码时调用 ReleaseRetainedRefs。
	retainedRefs []uintptr
	refcntOffset int32
}

// DecrefInfos 返回上次 Commit 安装的 decref-info 表
func (s *Slot) DecrefInfos() []DecrefInfo { return s.decrefInfos }

// CodeBase 返回槛位代码区在进程地址空间中的起始地址
func (s *Slot) CodeBase() uintptr {
	if len(s.code) == 0 {
		return 0
	}
	return addrOf(&s.code[0])
}

// CodeCapacity 返回槛位可写入的最大字节数
func (s *Slot) CodeCapacity() int { return len(s.code) }

// ScratchOffset 返回脚手架区相对槛位起始的字节偏移
func (s *Slot) ScratchOffset() int { return len(s.code) }

// ScratchSize 返回脚手架区大小
func (s *Slot) ScratchSize() int { return s.scratchBytes }

// EnterSideEffectful 原子地递增 num_inside 计数，表示一次可能有副作用的
// 调用正在该槛位内进行（spec §4.8 步骤 2 / §5）。
func (s *Slot) EnterSideEffectful() { s.numInside.Inc() }

// ExitSideEffectful 原子地递减 num_inside 计数（spec §4.9 步骤 6）。
func (s *Slot) ExitSideEffectful() { s.numInside.Dec() }

// NumInside 返回当前 num_inside 计数，供失效器轮询
func (s *Slot) NumInside() int32 { return s.numInside.Load() }

// Commit 把最终生成的机器码、保留的对象引用和 decref-info 记录安装进
// 槛位（spec §4.9 步骤 9）。code 的长度不得超过 CodeCapacity()。
// pendingJumps 中每一项的 ImmOffset 会被回填为指向槛位末尾
// （len(code)，即 slow-path 出口）。retainedRefs 是重写器通过
// RetainReference 持有的对象地址，refcntOffset 是它们引用计数字段的
// 偏移——槛位接手这份引用的所有权，直到外部失效器调用 ReleaseRetainedRefs。
func (s *Slot) Commit(code []byte, decrefInfos []DecrefInfo, pendingJumps []PendingJump, retainedRefs []uintptr, refcntOffset int32) error {
	if s.committed || s.aborted {
		return fmt.Errorf("icslot: commit/abort called twice on slot %d", s.index)
	}
	if len(code) > len(s.code) {
		return fmt.Errorf("icslot: code (%d bytes) exceeds slot capacity (%d bytes)", len(code), len(s.code))
	}
	buf := make([]byte, len(code))
	copy(buf, code)
	slotEnd := int32(len(code))
	for _, pj := range pendingJumps {
		patchRel(buf, pj.ImmOffset, slotEnd, pj.Short)
	}
	copy(s.code, buf)
	for i := len(buf); i < len(s.code); i++ {
		s.code[i] = 0x90 // nop-fill the remainder
	}
	s.decrefInfos = decrefInfos
	s.retainedRefs = retainedRefs
	s.refcntOffset = refcntOffset
	s.committed = true
	s.arena.logger.Debug("ic slot committed",
		zap.Int("slot", s.index),
		zap.Int("codeBytes", len(code)),
		zap.Int("decrefInfos", len(decrefInfos)),
		zap.Int("retainedRefs", len(retainedRefs)),
	)
	return nil
}

// RetainedRefs 返回这次 commit 转交给槛位的对象地址列表
func (s *Slot) RetainedRefs() []uintptr { return s.retainedRefs }

// ReleaseRetainedRefs 为每个保留的对象地址减一引用计数，交还槛位持有的
// 那份所有权（spec §4.9: 当外部失效器最终丢弃这段代码时调用一次）。
// 在 Commit 从未发生（槛位被 Abort）的路径上不会有任何保留引用，调用
// 这个方法是安全的空操作。
func (s *Slot) ReleaseRetainedRefs() {
	for _, addr := range s.retainedRefs {
		ptr := (*int64)(unsafe.Pointer(addr + uintptr(s.refcntOffset)))
		stdatomic.AddInt64(ptr, -1)
	}
	s.retainedRefs = nil
}

// Abort 把槛位归还给 arena，丢弃任何已写入但未提交的内容
// （spec §4.9: "Abort at any point releases any retained object
// references... and tells the collaborator to abandon the slot."）
func (s *Slot) Abort() error {
	if s.committed || s.aborted {
		return fmt.Errorf("icslot: commit/abort called twice on slot %d", s.index)
	}
	s.aborted = true
	s.arena.abandon(s.index)
	return nil
}

func patchRel(buf []byte, immOffset int, target int32, short bool) {
	if short {
		rel := target - int32(immOffset+1)
		buf[immOffset] = byte(int8(rel))
		return
	}
	rel := uint32(target - int32(immOffset+4))
	buf[immOffset] = byte(rel)
	buf[immOffset+1] = byte(rel >> 8)
	buf[immOffset+2] = byte(rel >> 16)
	buf[immOffset+3] = byte(rel >> 24)
}
