// refcount.go - 引用计数的释放与展开信息
//
// 本文件实现两套互相独立的机制（均来自 original_source 里的 _decref /
// _xdecref / getDecrefLocations）：
//   - Decref/Xdecref 是客户端显式调用的动作，在发射阶段直接生成"减一、
//     归零则调用析构函数"的内联序列，立即、同步地释放一个拥有的引用。
//   - getDecrefLocations/registerDecrefInfoHere 不生成任何代码；它们在每
//     一个可能抛出异常的调用点，把"此刻仍然拥有、还没被消费"的变量记进
//     decref-info 表，留给调用点之后的异常展开器在真的抛出时代为释放。
// 两者从不互相替代：正常路径靠前者回收，异常路径靠后者兜底。
package rewriter

import (
	"sync/atomic"
	"unsafe"

	"github.com/novalang/icrewriter/asm"
	"github.com/novalang/icrewriter/icslot"
)

// RefConsumed 标记 v 的一份拥有引用被最近排队的那个动作交接走了
// （spec §4.5 "Hand-off semantics"）。调用方负责保证语义正确——典型调用
// 点紧跟在一次会偷走引用的 SetAttr/ReplaceAttr 之后（design notes：
// "plain SetAttr doesn't consume a ref by itself; only a caller who knows
// the store is a hand-off calls RefConsumed right after queuing it"）。
func (e *Rewriter) RefConsumed(v *Var) {
	e.assertCollecting()
	if len(e.actions) == 0 {
		panic("rewriter: RefConsumed called with no action queued yet")
	}
	idx := len(e.actions) - 1
	v.refConsumed(idx)
	e.actions[idx].consumedRefs = append(e.actions[idx].consumedRefs, v)
}

// Incref 排队一次引用计数自增（spec §6 fluent API: incref）。常量 0（即
// null）不需要自增；其余常量指针和一般变量都先物化进寄存器再自增，这比
// original_source 对"小常量"直接用绝对地址立即数自增的快路径简单，但
// 正确性等价（design notes，在 DESIGN.md 中记录为简化）。
func (e *Rewriter) Incref(v *Var) {
	e.assertCollecting()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitIncref(v, 1)
	}, []*Var{v}, ActionMutation)
}

func (e *Rewriter) emitIncref(v *Var, numRefs int) {
	if v.isConstant && v.constantValue == 0 {
		return
	}
	reg := e.GetInReg(v, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	for i := 0; i < numRefs; i++ {
		e.asmBuf.IncMem(asm.Mem(reg, e.config.RefcntOffset), MovQ)
	}
}

// Decref 队列一次同步引用释放：发射阶段把 v 的引用计数减一，归零时调用
// 其类型对象的析构函数。v 必须是非空（non-nullable）的拥有引用——可能为
// null 的值必须走 Xdecref。
func (e *Rewriter) Decref(v *Var) {
	e.assertCollecting()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitDecref(v, idx)
	}, []*Var{v}, ActionMutation)
}

// Xdecref 与 Decref 相同，但先做一次 null 检查——v 可能为 null（spec §6
// fluent API: xdecref）。
func (e *Rewriter) Xdecref(v *Var) {
	e.assertCollecting()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitXdecref(v, idx)
	}, []*Var{v}, ActionMutation)
}

func (e *Rewriter) emitDecref(v *Var, idx int) {
	reg := e.GetInReg(v, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	v.refConsumed(idx)
	e.emitDecrefSequence(reg)
}

func (e *Rewriter) emitXdecref(v *Var, idx int) {
	reg := e.GetInReg(v, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	v.refConsumed(idx)
	e.asmBuf.TestRegReg(reg, reg)
	skipNull := asm.NewForwardJump(e.asmBuf, CondE, false)
	e.emitDecrefSequence(reg)
	skipNull.Close()
}

// emitDecrefSequence 写出 "dec [reg+refcnt]; jnz skip; <call tp_dealloc>;
// skip:" 序列（见 original_source 中 Rewriter::_decref 的析构分支）。
func (e *Rewriter) emitDecrefSequence(reg asm.Register) {
	e.asmBuf.DecMem(asm.Mem(reg, e.config.RefcntOffset), MovQ)
	notZero := asm.NewForwardJump(e.asmBuf, CondNZ, false)
	clsReg := e.AllocReg(AnyReg, RegLoc(reg), nil)
	if e.failed {
		return
	}
	e.asmBuf.MovRegMem(clsReg, asm.Mem(reg, e.config.ClsOffset), MovQ)
	e.asmBuf.MovRegMem(clsReg, asm.Mem(clsReg, e.config.DeallocOffset), MovQ)
	e.asmBuf.CallIndirect(clsReg) // call [[reg+ClsOffset]+DeallocOffset]
	notZero.Close()
}

// refcntPtr 把一个对象地址翻译成指向其引用计数字段的指针（按
// Config.RefcntOffset 给出的偏移）。只用于 RetainReference 这条跨出
// 生成代码、直达进程内真实对象内存的路径——重写器在自己的收集/发射期
// 就运行在目标对象所在的进程里，这与它发射出去、之后才会执行的机器码
// 不同（spec §4.9 步骤 3; original_source: Rewriter::addGCReference 用
// Py_INCREF/Py_REFCNT 直接操作当前进程内的对象）。
func (e *Rewriter) refcntPtr(addr int64) *int64 {
	return (*int64)(unsafe.Pointer(uintptr(addr) + uintptr(e.config.RefcntOffset)))
}

// RetainReference 在整个重写构建期间为 v 所代表的对象地址持有一份额外
// 引用（spec §4.9 步骤 3 "Retained object references"）。v 必须是一个
// 已知地址的常量 var（典型用途：一个被守卫锁定的类型对象指针）。登记
// 立即给该对象的引用计数加一；commit 前会检查是否所有登记对象都还有
// 别的持有者——如果某个对象只剩这一份（调用方自己那份在构建期间被释放
// 了），说明这次专门化正在针对一个即将消亡的对象，commit 时静默放弃
// （spec §7 第三类失败 "Stale optimization"）。
func (e *Rewriter) RetainReference(v *Var) {
	e.assertCollecting()
	if !v.isConstant {
		panic("rewriter: RetainReference requires a constant var holding a known object address")
	}
	atomic.AddInt64(e.refcntPtr(v.constantValue), 1)
	e.retainedConstRefs = append(e.retainedConstRefs, v)
}

// checkRetainedReferencesStale 报告是否存在一个登记的保留引用，其对象
// 当前引用计数恰好是 1——也就是说重写器自己持有的那份已经是唯一剩下的
// 引用了。
func (e *Rewriter) checkRetainedReferencesStale() bool {
	for _, v := range e.retainedConstRefs {
		if atomic.LoadInt64(e.refcntPtr(v.constantValue)) == 1 {
			return true
		}
	}
	return false
}

// releaseRetainedReferences 释放重写器为每个保留引用额外持有的那一份
// 计数。只在放弃这次重写时调用——commit 成功时，这份持有权随 Commit 的
// retainedRefs 参数转交给槛位，由外部失效器在丢弃这段代码时负责释放
// （icslot.Slot.ReleaseRetainedRefs）。
func (e *Rewriter) releaseRetainedReferences() {
	for _, v := range e.retainedConstRefs {
		atomic.AddInt64(e.refcntPtr(v.constantValue), -1)
	}
	e.retainedConstRefs = nil
}

// RegisterOwnedAttr 登记一个"拥有型"容器字段——container 位于脚手架区，
// 偏移 offset 处存着一个该容器拥有引用的对象指针。一旦登记，只要该容器
// 仍然活着，异常展开时都会把它一并释放（spec §4.6）。
func (e *Rewriter) RegisterOwnedAttr(container *Var, offset int32) {
	e.assertEmitting()
	e.ownedAttrs = append(e.ownedAttrs, ownedAttrEntry{container: container, offset: offset})
}

// UnregisterOwnedAttr 撤销此前的登记——典型用法是该字段的所有权已经被
// 转移走（例如存进了最终对象），异常展开器不应该再重复释放它。
func (e *Rewriter) UnregisterOwnedAttr(container *Var, offset int32) {
	e.assertEmitting()
	for i, ent := range e.ownedAttrs {
		if ent.container == container && ent.offset == offset {
			e.ownedAttrs = append(e.ownedAttrs[:i], e.ownedAttrs[i+1:]...)
			return
		}
	}
}

// getDecrefLocations 枚举"此刻仍然拥有、还没被消费"的所有变量位置
// （spec §4.6）。每个变量最多贡献一个位置：脚手架位置翻译成槛位相对偏移
// （展开器看不到脚手架窗口在 commit 之后落在哪里，所以必须提前转换成
// 偏移量），寄存器位置必须是被调用者保存的寄存器（非被调用者保存的寄存器
// 在调用点已经被破坏，记录它毫无意义）——两者都找不到就是资源耗尽。
func (e *Rewriter) getDecrefLocations(idx int) []icslot.DecrefLocation {
	var out []icslot.DecrefLocation
	for _, v := range e.vars {
		if len(v.locations) == 0 || !v.needsDecref(idx) {
			continue
		}
		found := false
		for _, loc := range v.locations {
			switch loc.Kind {
			case LocScratch:
				out = append(out, icslot.DecrefLocation{Kind: icslot.LocStack, Value: int(loc.ScratchOffset)})
				found = true
			case LocRegister:
				if loc.IsClobberedByCall() {
					continue
				}
				out = append(out, icslot.DecrefLocation{Kind: icslot.LocCalleeSaveRegister, Value: loc.Reg.DwarfNumber()})
				found = true
			}
			if found {
				break
			}
		}
		if !found {
			e.fail(errResourceExhausted("no unwind-safe location to record a decref for a live owned var"))
			return nil
		}
	}

	for _, ent := range e.ownedAttrs {
		var outer Location
		found := false
		for _, loc := range ent.container.locations {
			if loc.Kind == LocScratch || loc.Kind == LocStack {
				outer = loc
				found = true
				break
			}
		}
		if !found {
			e.fail(errResourceExhausted("owned attribute container is not addressable at an unwind point"))
			return nil
		}
		innerOffset := int(outer.ScratchOffset)
		if outer.Kind == LocStack {
			innerOffset = int(outer.StackOffset)
		}
		out = append(out, icslot.DecrefLocation{Kind: icslot.LocIndirect, Value: innerOffset, Inner: int(ent.offset)})
	}
	return out
}

// registerDecrefInfoHere 在当前代码位置为尚未结束的 action idx 快照一份
// decref-info 记录，供异常展开器在调用点之后抛出的异常里使用
// （spec §4.6; original_source: registerDecrefInfoHere）。
func (e *Rewriter) registerDecrefInfoHere(idx int) {
	locs := e.getDecrefLocations(idx)
	if e.failed {
		return
	}
	e.decrefInfos = append(e.decrefInfos, icslot.DecrefInfo{IP: e.asmBuf.BytesWritten(), Locations: locs})
}
