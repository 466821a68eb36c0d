// guard.go - 守卫与慢路径跳转的 trampoline 复用
//
// 守卫永远排在动作队列的前缀（spec §4.7），失败时跳到槛位末尾的慢路径。
// 近条件跳转编码需要 6 字节；如果一个槛位里同一种条件的守卫反复出现，
// 让后面的守卫改跳到前一条同条件近跳转的起始地址，自己只用 2 字节的短
// 跳转，省下的字节数相当可观（original_source: Rewriter::_nextSlotJump）。
// 这依赖一个前提：两条守卫之间只允许搬运寄存器这种不影响标志位的指令，
// 所以复用目标跳转时，当前标志位仍然反映的是刚做完的那次比较。
package rewriter

import (
	"github.com/novalang/icrewriter/asm"
	"github.com/novalang/icrewriter/icslot"
)

type guardJumpRecord struct {
	offset int
	cond   CondCode
}

// nextSlotJump 写出一条条件跳转，落到槛位末尾的慢路径；条件相同且足够
// 近的既有跳转可以被直接当成 trampoline 复用。
func (e *Rewriter) nextSlotJump(cond CondCode) {
	last := -1
	for i := len(e.guardJumps) - 1; i >= 0; i-- {
		if e.guardJumps[i].cond == cond {
			last = e.guardJumps[i].offset
			break
		}
	}
	// 2 字节短跳转的 rel8 从它的末尾算起，最远到 -128
	if last != -1 && e.asmBuf.BytesWritten()+2-last <= 0x80 {
		immOff := e.asmBuf.JccShort(cond, asm.At(0))
		e.asmBuf.PatchRel8(immOff, last)
		return
	}
	offset := e.asmBuf.BytesWritten()
	immOff := e.asmBuf.Jcc(cond, asm.SlotEnd())
	e.pendingJumps = append(e.pendingJumps, icslot.PendingJump{ImmOffset: immOff, Short: false})
	e.guardJumps = append(e.guardJumps, guardJumpRecord{offset: offset, cond: cond})
}

// AddGuard 排队一个"var == val"守卫（spec §6 fluent API: add_guard）。
// 对已知是常量的 var，这在编译期就能判定——恒真时直接放行，恒假在收集
// 阶段就没有意义继续重写，直接 panic（这是调用方的编程错误，不是运行期
// 资源问题：没有任何专门化是以一个必然失败的守卫开头还值得生成的）。
func (e *Rewriter) AddGuard(v *Var, val int64) {
	e.assertCollecting()
	if v.isConstant {
		if v.constantValue != val {
			panic("rewriter: AddGuard on a constant var with a value that can never match")
		}
		return
	}
	valVar := e.constLoader.getOrCreate(e, val)
	e.addAction(func(e *Rewriter, idx int) {
		e.emitAddGuard(v, valVar, false, idx)
	}, []*Var{v, valVar}, ActionGuard)
}

// AddGuardNotEq 排队一个"var != val"守卫
func (e *Rewriter) AddGuardNotEq(v *Var, val int64) {
	e.assertCollecting()
	valVar := e.constLoader.getOrCreate(e, val)
	e.addAction(func(e *Rewriter, idx int) {
		e.emitAddGuard(v, valVar, true, idx)
	}, []*Var{v, valVar}, ActionGuard)
}

// AddGuardNotLt0 排队一个"var 不是负数"守卫——典型用途是校验索引/长度
func (e *Rewriter) AddGuardNotLt0(v *Var) {
	e.assertCollecting()
	e.addAction(func(e *Rewriter, idx int) {
		reg := e.GetInReg(v, AnyReg, NoneLoc)
		if e.failed {
			return
		}
		e.asmBuf.TestRegReg(reg, reg)
		e.nextSlotJump(CondL)
	}, []*Var{v}, ActionGuard)
}

func (e *Rewriter) emitAddGuard(v, valVar *Var, negate bool, idx int) {
	varReg := e.GetInReg(v, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	if asm.Imm(valVar.constantValue).FitsInt32() {
		if valVar.constantValue == 0 {
			e.asmBuf.TestRegReg(varReg, varReg)
		} else {
			e.asmBuf.CmpRegImm32(varReg, int32(valVar.constantValue))
		}
	} else {
		valReg := e.GetInReg(valVar, AnyReg, RegLoc(varReg))
		if e.failed {
			return
		}
		e.asmBuf.CmpRegReg(varReg, valReg)
	}
	cond := CondNE
	if negate {
		cond = CondE
	}
	e.nextSlotJump(cond)
}

// AddAttrGuard 排队一个属性守卫——比较 var+offset 处的内存内容
// （spec §4.7 "Attr guard dedup"）。同一个 (offset,val,negate) 组合在同一
// var 上重复添加时直接跳过，不排队第二次比较。
func (e *Rewriter) AddAttrGuard(v *Var, offset int32, val int64, negate bool) {
	e.assertCollecting()
	key := attrGuardKey{Offset: offset, Value: val, Negate: negate}
	if v.attrGuards != nil && v.attrGuards[key] {
		return
	}
	if v.attrGuards == nil {
		v.attrGuards = make(map[attrGuardKey]bool)
	}
	v.attrGuards[key] = true

	valVar := e.constLoader.getOrCreate(e, val)
	e.addAction(func(e *Rewriter, idx int) {
		e.emitAddAttrGuard(v, offset, valVar, negate, idx)
	}, []*Var{v, valVar}, ActionGuard)
}

func (e *Rewriter) emitAddAttrGuard(v *Var, offset int32, valVar *Var, negate bool, idx int) {
	varReg := e.GetInReg(v, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	if asm.Imm(valVar.constantValue).FitsInt32() {
		e.asmBuf.CmpMemImm32(asm.Mem(varReg, offset), int32(valVar.constantValue), MovQ)
	} else {
		valReg := e.GetInReg(valVar, AnyReg, RegLoc(varReg))
		if e.failed {
			return
		}
		tmp := e.AllocReg(AnyReg, RegLoc(varReg), nil)
		if e.failed {
			return
		}
		e.asmBuf.MovRegMem(tmp, asm.Mem(varReg, offset), MovQ)
		e.asmBuf.CmpRegReg(tmp, valReg)
	}
	cond := CondNE
	if negate {
		cond = CondE
	}
	e.nextSlotJump(cond)
}
