// regalloc.go - 寄存器分配器
//
// 重写器的寄存器分配不是经典的线性扫描（那是整函数、编译期离线做的）；
// 它是"按需"的：发射阶段每跑到一条需要某个变量在寄存器里的动作，才去
// 问分配器要一个寄存器，必要时现场溢出别的变量（spec §4.3）。这正是
// IC 代码生成器和普通函数编译器的关键区别——IC 很短，没必要预先做整段
// 活跃区间分析。
package rewriter

import "github.com/novalang/icrewriter/asm"

// AllocReg 按 spec §4.3 的三种模式选择一个物理寄存器：
//   - dest 是具体寄存器：空闲则直接返回；否则溢出占用者（保留 otherThan）
//   - dest 是 AnyReg：在 validSet 中找空闲寄存器；找不到就选
//     next-use 最大（即离下次使用最远）的占用者溢出
//   - 被调用者保存寄存器默认不在可分配集合里，只作为溢出目的地
func (e *Rewriter) AllocReg(dest Location, otherThan Location, validSet []asm.Register) asm.Register {
	e.assertEmitting()

	if dest.Kind == LocRegister {
		occupant := e.varsByLocation[dest]
		if occupant == nil {
			return dest.Reg
		}
		e.SpillRegister(dest.Reg, otherThan)
		return dest.Reg
	}

	if len(validSet) == 0 {
		validSet = e.config.AllocatableRegisters
	}

	var freeReg asm.Register = asm.NoRegister
	for _, r := range validSet {
		if r == otherThan.Reg && otherThan.Kind == LocRegister {
			continue
		}
		if _, occupied := e.varsByLocation[RegLoc(r)]; !occupied {
			freeReg = r
			break
		}
	}
	if freeReg != asm.NoRegister {
		return freeReg
	}

	// 没有空闲寄存器：选择 next-use 最大的占用者溢出
	var victim asm.Register = asm.NoRegister
	bestNextUse := -1
	for _, r := range validSet {
		if r == otherThan.Reg && otherThan.Kind == LocRegister {
			continue
		}
		occupant := e.varsByLocation[RegLoc(r)]
		if occupant == nil {
			continue
		}
		if occupant.isPinnedArg(e.doneGuarding) {
			continue
		}
		if !occupant.hasFurtherUses() {
			// 没有更多使用了，直接释放即可拿到这个寄存器：不需要溢出代码，
			// 但如果它是一份还没交接走的拥有引用，release 会先在原地补发
			// 一次 decref/xdecref（占用者此刻仍然物化在 r 里，decref 序列
			// 就地复用这个寄存器，不会额外挪动）。
			occupant.release(e)
			if e.failed {
				return asm.NoRegister
			}
			return r
		}
		nu := occupant.nextUseIndex()
		if nu > bestNextUse {
			bestNextUse = nu
			victim = r
		}
	}
	if victim == asm.NoRegister {
		e.fail(errResourceExhausted("no register available to spill for AnyReg allocation"))
		return asm.NoRegister
	}
	e.SpillRegister(victim, otherThan)
	return victim
}

// SpillRegister 把 reg 当前占用者移出寄存器（spec §4.3）。如果该变量还
// 活在别的位置、是常量、或拥有脚手架分配，直接丢弃这个寄存器位置即可；
// 否则要么搬到一个空闲的被调用者保存寄存器，要么溢出到脚手架区。
func (e *Rewriter) SpillRegister(reg asm.Register, preserve Location) {
	e.assertEmitting()
	loc := RegLoc(reg)
	occupant := e.varsByLocation[loc]
	if occupant == nil {
		return
	}
	delete(e.varsByLocation, loc)
	occupant.removeLocation(loc)

	if len(occupant.locations) > 0 || occupant.isConstant || occupant.scratchAllocation != nil {
		return
	}

	for _, cs := range e.config.CalleeSaveRegisters {
		if cs == preserve.Reg && preserve.Kind == LocRegister {
			continue
		}
		csLoc := RegLoc(cs)
		if _, occupied := e.varsByLocation[csLoc]; !occupied {
			e.asmBuf.MovRegReg(cs, reg)
			occupant.addLocation(csLoc)
			e.varsByLocation[csLoc] = occupant
			return
		}
	}

	slot := e.allocScratch(1)
	if slot == nil {
		e.fail(errResourceExhausted("no scratch slot available to spill register"))
		return
	}
	scratchLoc := ScratchLoc(int32(slot.OffsetSlots * 8))
	e.asmBuf.MovMemReg(asm.Mem(e.scratchBaseReg, int32(slot.OffsetSlots*8)), reg, MovQ)
	occupant.scratchAllocation = slot
	occupant.addLocation(scratchLoc)
	e.varsByLocation[scratchLoc] = occupant
}

// GetInReg 确保 v 物化在寄存器里，按 spec §4.3 的四种情形依次处理，是
// 幂等操作：已经在那儿就什么都不做。dest 既可以是具体寄存器，也可以是
// AnyReg 通配符——调用方不需要（也不应该）先自己调 AllocReg 把 AnyReg
// 解析成具体寄存器再传进来：那样会在 v 自己就是"唯一候选溢出对象"时
// 把 v 自己挤掉（v 最后一次使用、寄存器全满的场景下会直接 panic）。
// 只有在确认 v 真的不在任何寄存器里时才向分配器要一个新寄存器，这样
// AllocReg 的溢出扫描永远看不到 v 自己。
func (e *Rewriter) GetInReg(v *Var, dest Location, otherThan Location) asm.Register {
	e.assertEmitting()

	if dest.Kind == LocRegister && v.hasLocation(dest) {
		return dest.Reg
	}

	for _, loc := range v.locations {
		if loc.Kind != LocRegister {
			continue
		}
		if dest.Kind != LocRegister {
			// dest 是通配符：已经在某个寄存器里了，直接复用，不搬运
			return loc.Reg
		}
		// dest 是具体寄存器：腾出 dest，再把 v 搬过去
		reg := e.AllocReg(dest, otherThan, nil)
		if e.failed {
			return reg
		}
		e.asmBuf.MovRegReg(reg, loc.Reg)
		regLoc := RegLoc(reg)
		v.addLocation(regLoc)
		e.varsByLocation[regLoc] = v
		return reg
	}

	// v 只在内存里，或者是尚未物化的常量：分配一个新寄存器并加载
	reg := e.AllocReg(dest, otherThan, nil)
	if e.failed {
		return reg
	}
	destLoc := RegLoc(reg)

	if v.isConstant {
		e.constLoader.loadConstIntoReg(e, v.constantValue, reg)
	} else {
		loaded := false
		for _, loc := range v.locations {
			switch loc.Kind {
			case LocScratch:
				e.asmBuf.MovRegMem(reg, asm.Mem(e.scratchBaseReg, loc.ScratchOffset), MovQ)
				loaded = true
			case LocStack:
				e.asmBuf.MovRegMem(reg, asm.Mem(asm.RSP, loc.StackOffset), MovQ)
				loaded = true
			}
			if loaded {
				break
			}
		}
		if !loaded && len(v.locations) == 0 {
			panic("rewriter: GetInReg on a var with no locations and no constant value")
		}
	}

	v.addLocation(destLoc)
	e.varsByLocation[destLoc] = v
	return reg
}

// AllocRegForCompare 是比较结果（setcc 写入）专用的分配包装：限制候选
// 集合为字节可寻址的低位寄存器（spec §4.3 "Tie-breaks"）。
func (e *Rewriter) AllocRegForCompare(otherThan Location) asm.Register {
	byteAddressable := []asm.Register{asm.RAX, asm.RBX, asm.RCX, asm.RDX}
	valid := intersectAllocatable(byteAddressable, e.config.AllocatableRegisters)
	return e.AllocReg(AnyReg, otherThan, valid)
}

func intersectAllocatable(candidates, allocatable []asm.Register) []asm.Register {
	set := make(map[asm.Register]bool, len(allocatable))
	for _, r := range allocatable {
		set[r] = true
	}
	var out []asm.Register
	for _, r := range candidates {
		if set[r] {
			out = append(out, r)
		}
	}
	return out
}
