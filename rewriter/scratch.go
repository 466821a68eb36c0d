// scratch.go - 脚手架区分配
//
// 脚手架区是槛位自带的一小段栈上空间（spec GLOSSARY: "Scratch slot: an
// 8-byte aligned slot in a fixed per-IC scratch region on the stack"），
// 用作溢出目的地和小型拥有数组的存储。分配按 8 字节粒度的位图管理；
// 两个活跃分配永不重叠（spec §8 可测性质 5）。
package rewriter

import "github.com/novalang/icrewriter/asm"

// allocScratch 分配 n 个连续的 8 字节槛位，失败（没有足够连续空间）时
// 返回 nil。
func (e *Rewriter) allocScratch(n int) *ScratchAllocation {
	total := len(e.scratchUsed)
	run := 0
	for i := 0; i < total; i++ {
		if !e.scratchUsed[i] {
			run++
			if run == n {
				start := i - n + 1
				for j := start; j <= i; j++ {
					e.scratchUsed[j] = true
				}
				return &ScratchAllocation{OffsetSlots: start, LengthSlots: n}
			}
		} else {
			run = 0
		}
	}
	return nil
}

// freeScratch 释放之前分配的脚手架区域
func (e *Rewriter) freeScratch(a *ScratchAllocation) {
	for j := a.OffsetSlots; j < a.OffsetSlots+a.LengthSlots; j++ {
		if j >= 0 && j < len(e.scratchUsed) {
			e.scratchUsed[j] = false
		}
	}
}

// Allocate 排队一次脚手架区分配，返回一个占有 n 个槛位的新 Var（spec §6
// fluent API: allocate(n)；original_source: Rewriter::allocate 把实际分配
// 延迟到 _allocate，和其余构建方法一样只在发射阶段真正动位图）。
func (e *Rewriter) Allocate(n int) *Var {
	e.assertCollecting()
	result := e.newVar()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitAllocate(result, n)
	}, nil, ActionNormal)
	return result
}

func (e *Rewriter) emitAllocate(result *Var, n int) {
	alloc := e.allocScratch(n)
	if alloc == nil {
		e.fail(errResourceExhausted("scratch area exhausted"))
		return
	}
	result.scratchAllocation = alloc
	loc := ScratchLoc(int32(alloc.OffsetSlots * 8))
	result.addLocation(loc)
	e.varsByLocation[loc] = result
}

// AllocateAndCopy 排队一次脚手架分配，随后从 ptr 处拷贝 n*8 字节进去
// （spec §6 fluent API: allocate_and_copy(ptr, n)）。
func (e *Rewriter) AllocateAndCopy(ptr *Var, n int) *Var {
	e.assertCollecting()
	result := e.newVar()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitAllocateAndCopy(result, ptr, n, 0)
	}, []*Var{ptr}, ActionNormal)
	return result
}

// emitAllocateAndCopy 分配 n+extra 个槛位，把 ptr 处的 n*8 字节拷进前 n 个
func (e *Rewriter) emitAllocateAndCopy(dst, ptr *Var, n, extra int) {
	e.emitAllocate(dst, n+extra)
	if e.failed {
		return
	}
	baseReg := e.GetInReg(ptr, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	for i := 0; i < n; i++ {
		tmp := e.AllocReg(AnyReg, RegLoc(baseReg), nil)
		if e.failed {
			return
		}
		e.asmBuf.MovRegMem(tmp, asm.Mem(baseReg, int32(i*8)), MovQ)
		e.asmBuf.MovMemReg(asm.Mem(e.scratchBaseReg, int32(dst.scratchAllocation.OffsetSlots*8+i*8)), tmp, MovQ)
	}
}

// AllocateAndCopyPlus1 与 AllocateAndCopy 相同，但多分配一个槛位并把它
// 清零——典型用途是"变长数组末尾的哨兵/长度字段"（spec §6 fluent API:
// allocate_and_copy_plus1）。
func (e *Rewriter) AllocateAndCopyPlus1(ptr *Var, n int) *Var {
	e.assertCollecting()
	result := e.newVar()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitAllocateAndCopyPlus1(result, ptr, n)
	}, []*Var{ptr}, ActionNormal)
	return result
}

func (e *Rewriter) emitAllocateAndCopyPlus1(dst, ptr *Var, n int) {
	e.emitAllocateAndCopy(dst, ptr, n, 1)
	if e.failed {
		return
	}
	tmp := e.AllocReg(AnyReg, NoneLoc, nil)
	if e.failed {
		return
	}
	e.asmBuf.XorClear(tmp)
	e.asmBuf.MovMemReg(asm.Mem(e.scratchBaseReg, int32(dst.scratchAllocation.OffsetSlots*8+n*8)), tmp, MovQ)
}
