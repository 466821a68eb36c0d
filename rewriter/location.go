// location.go - 机器位置的值类型
//
// Location 是重写器里最底层的词汇：一个变量具体"活"在哪里——某个通用
// 寄存器、某个 SSE 寄存器、调用者栈上的参数槛位、本槛位自己的脚手架区，
// 或者还没有决定（AnyReg）、根本不存在（None）。它是纯值类型，相等性
// 是结构相等（spec §3："Equality is structural."）。
package rewriter

import (
	"fmt"

	"github.com/novalang/icrewriter/asm"
)

// LocationKind 标识 Location 的种类
type LocationKind int

const (
	LocNone LocationKind = iota
	LocUninitialized
	LocRegister
	LocXMMRegister
	LocStack         // 调用者栈上的参数槛位，以 SP 的字节偏移表示
	LocScratch       // 本槛位脚手架区内的字节偏移
	LocAnyReg        // "任意通用寄存器"通配符，只在请求分配时使用，从不是已实现位置
	LocStackIndirect // 两级寻址：outer 定位容器，inner 是容器内的字节偏移
)

// Location 是一个标记联合：具体取哪个字段有意义取决于 Kind。
type Location struct {
	Kind LocationKind

	Reg    asm.Register
	XMMReg asm.XMMRegister

	// StackOffset / ScratchOffset 是字节偏移
	StackOffset   int32
	ScratchOffset int32

	// Outer/Inner 仅 LocStackIndirect 使用
	Outer *Location
	Inner int32
}

// RegLoc 构造一个通用寄存器位置
func RegLoc(r asm.Register) Location { return Location{Kind: LocRegister, Reg: r} }

// XMMLoc 构造一个 SSE 寄存器位置
func XMMLoc(r asm.XMMRegister) Location { return Location{Kind: LocXMMRegister, XMMReg: r} }

// StackLoc 构造一个调用者栈参数位置
func StackLoc(offset int32) Location { return Location{Kind: LocStack, StackOffset: offset} }

// ScratchLoc 构造一个脚手架区位置
func ScratchLoc(offset int32) Location { return Location{Kind: LocScratch, ScratchOffset: offset} }

// AnyReg 是请求"任意可分配通用寄存器"的通配符位置
var AnyReg = Location{Kind: LocAnyReg}

// NoneLoc 表示"没有位置"（例如常量在首次使用前）
var NoneLoc = Location{Kind: LocNone}

// UninitializedLoc 是表示"已预留但尚未填充"的位置值（spec §3 不变式 1，
// 区别于"这里没有变量"）。脚手架分配器本身不用它：预留状态记在
// scratchUsed 位图里。
var UninitializedLoc = Location{Kind: LocUninitialized}

// StackIndirectLoc 构造两级寻址位置：先到 outer，再在其基础上加 inner
// 字节偏移（spec §4.6，用于拥有型脚手架容器的内部字段）。
func StackIndirectLoc(outer Location, inner int32) Location {
	o := outer
	return Location{Kind: LocStackIndirect, Outer: &o, Inner: inner}
}

// Equal 报告两个位置是否结构相等
func (l Location) Equal(other Location) bool {
	if l.Kind != other.Kind {
		return false
	}
	switch l.Kind {
	case LocRegister:
		return l.Reg == other.Reg
	case LocXMMRegister:
		return l.XMMReg == other.XMMReg
	case LocStack:
		return l.StackOffset == other.StackOffset
	case LocScratch:
		return l.ScratchOffset == other.ScratchOffset
	case LocStackIndirect:
		return l.Inner == other.Inner && l.Outer != nil && other.Outer != nil && l.Outer.Equal(*other.Outer)
	default:
		return true
	}
}

// IsClobberedByCall 报告一次普通调用是否会破坏这个位置存放的值
// （spec §3："true for non-callee-save integer registers and for all
// SSE registers, false for stack and scratch."）
func (l Location) IsClobberedByCall() bool {
	switch l.Kind {
	case LocRegister:
		return !l.Reg.IsCalleeSave()
	case LocXMMRegister:
		return true
	case LocStack, LocScratch:
		return false
	default:
		return false
	}
}

// IsCalleeSaveRegister 报告该位置是否是一个被调用者保存的通用寄存器
func (l Location) IsCalleeSaveRegister() bool {
	return l.Kind == LocRegister && l.Reg.IsCalleeSave()
}

func (l Location) String() string {
	switch l.Kind {
	case LocNone:
		return "<none>"
	case LocUninitialized:
		return "<uninitialized>"
	case LocRegister:
		return l.Reg.String()
	case LocXMMRegister:
		return l.XMMReg.String()
	case LocStack:
		return fmt.Sprintf("stack(%d)", l.StackOffset)
	case LocScratch:
		return fmt.Sprintf("scratch(%d)", l.ScratchOffset)
	case LocAnyReg:
		return "<any-reg>"
	case LocStackIndirect:
		return fmt.Sprintf("indirect(%s+%d)", l.Outer, l.Inner)
	default:
		return "<invalid-location>"
	}
}
