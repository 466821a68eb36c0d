// registers.go - 寄存器与操作数类型定义
//
// 本文件定义了 asm 包对外暴露的寄存器、立即数和内存操作数类型。
// 这些类型是重写器 (rewriter 包) 与底层指令编码器之间的公共词汇表：
// 重写器只知道"寄存器编号"和"内存偏移"，不关心具体的字节编码。

package asm

import "fmt"

// Register 通用整数寄存器（x86-64 编号，0-15）
type Register int

const (
	RAX Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	NoRegister Register = -1
)

var regNames = [...]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Register) String() string {
	if r == NoRegister {
		return "<none>"
	}
	if int(r) >= 0 && int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", int(r))
}

// IsExtended 报告该寄存器是否需要 REX 前缀才能编码（R8-R15）
func (r Register) IsExtended() bool { return r >= R8 && r <= R15 }

// LowBits 返回寄存器编码的低 3 位
func (r Register) LowBits() byte { return byte(r) & 0x7 }

// IsCalleeSave 报告该寄存器是否为被调用者保存寄存器（System V AMD64 ABI）
func (r Register) IsCalleeSave() bool {
	switch r {
	case RBX, RBP, RSP, R12, R13, R14, R15:
		return true
	default:
		return false
	}
}

// dwarfOrder 把 x86-64 寄存器编号映射到 System V AMD64 ABI 的 DWARF 寄存器
// 编号——二者不是同一个数字空间（DWARF 把 RAX 排在 0，但 RSP/RBP 排在
// 7/6，不是寄存器的机器编码顺序）。decref-info 记录（spec §4.6）和栈展开器
// 交换信息时用的就是 DWARF 编号。
var dwarfOrder = [...]int{0, 2, 1, 3, 7, 6, 4, 5, 8, 9, 10, 11, 12, 13, 14, 15}

// DwarfNumber 返回该寄存器对应的 System V AMD64 DWARF 寄存器编号
func (r Register) DwarfNumber() int {
	if int(r) < 0 || int(r) >= len(dwarfOrder) {
		return -1
	}
	return dwarfOrder[r]
}

// ArgRegisters 是 System V AMD64 调用约定下，整数参数按位置 0..5 使用的寄存器
var ArgRegisters = [6]Register{RDI, RSI, RDX, RCX, R8, R9}

// ReturnRegister 是整数/指针返回值寄存器
const ReturnRegister = RAX

// XMMRegister SSE 寄存器（0-15）
type XMMRegister int

const (
	XMM0 XMMRegister = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15

	NoXMMRegister XMMRegister = -1
)

func (r XMMRegister) String() string {
	if r == NoXMMRegister {
		return "<none>"
	}
	return fmt.Sprintf("xmm%d", int(r))
}

// IsExtended 报告该 XMM 寄存器是否需要 REX 前缀
func (r XMMRegister) IsExtended() bool { return r >= XMM8 && r <= XMM15 }

// LowBits 返回 XMM 寄存器编码的低 3 位
func (r XMMRegister) LowBits() byte { return byte(r) & 0x7 }

// XMMArgRegisters 是浮点参数按位置 0..7 使用的 XMM 寄存器
var XMMArgRegisters = [8]XMMRegister{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}

// Immediate 是一个立即数操作数；区分 32 位和 64 位是因为很多指令只能
// 编码 32 位符号扩展立即数，超出范围必须改用寄存器搬运。
type Immediate struct {
	Value int64
}

// Imm 构造一个立即数操作数
func Imm(v int64) Immediate { return Immediate{Value: v} }

// FitsInt32 报告该立即数是否可以编码为 32 位符号扩展立即数——
// 这正是 spec 中"large constant"阈值的唯一定义处（见 design notes）。
func (i Immediate) FitsInt32() bool {
	return i.Value >= -(1<<31) && i.Value <= (1<<31)-1
}

// Indirect 是 [base + offset] 形式的内存操作数
type Indirect struct {
	Base   Register
	Offset int32
}

func Mem(base Register, offset int32) Indirect { return Indirect{Base: base, Offset: offset} }

// MovType 是 mov 系列指令的操作数宽度
type MovType int

const (
	MovB MovType = iota // 8 位
	MovW                // 16 位
	MovL                // 32 位
	MovQ                // 64 位
)

// JumpDestination 标识一条跳转指令的目标：可以是另一条已记录的指令
// 偏移（用于 trampoline 复用），也可以是"槽位末尾"（slow-path 出口）。
type JumpDestination struct {
	// IsSlotEnd 为 true 时，目标是槽位结束处；偏移在 commit 时回填。
	IsSlotEnd bool
	// Offset 在 IsSlotEnd 为 false 时，是代码缓冲区内的绝对字节偏移。
	Offset int
}

// SlotEnd 返回一个指向槽位末尾（slow-path 出口）的跳转目标
func SlotEnd() JumpDestination { return JumpDestination{IsSlotEnd: true} }

// At 返回一个指向代码缓冲区给定字节偏移处的跳转目标
func At(offset int) JumpDestination { return JumpDestination{Offset: offset} }

// CondCode 是条件跳转/条件设置使用的条件码
type CondCode int

const (
	CondE  CondCode = iota // 相等 / ZF=1
	CondNE                 // 不相等 / ZF=0
	CondL                  // 有符号小于
	CondLE                 // 有符号小于等于
	CondG                  // 有符号大于
	CondGE                 // 有符号大于等于
	CondNZ                 // 非零（同 CondNE，按位测试语境下单独命名以便自文档化）
)

func (c CondCode) String() string {
	switch c {
	case CondE:
		return "e"
	case CondNE:
		return "ne"
	case CondL:
		return "l"
	case CondLE:
		return "le"
	case CondG:
		return "g"
	case CondGE:
		return "ge"
	case CondNZ:
		return "nz"
	default:
		return "?"
	}
}

// Invert 返回条件码的逻辑反
func (c CondCode) Invert() CondCode {
	switch c {
	case CondE:
		return CondNE
	case CondNE:
		return CondE
	case CondL:
		return CondGE
	case CondLE:
		return CondG
	case CondG:
		return CondLE
	case CondGE:
		return CondL
	case CondNZ:
		return CondE
	default:
		return c
	}
}
