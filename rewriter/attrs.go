// attrs.go - 属性读写的指令发射
//
// get_attr/set_attr 是重写器最常见的一对操作：把容器指针和一个偏移量
// 变成一条 mov 指令。两者唯一需要小心的地方是操作数宽度（MovType）和
// 目的/源到底落在通用寄存器还是 XMM 寄存器（spec §4.2, original_source:
// Rewriter::_getAttr / _getAttrFloat / _getAttrDouble / _setAttr）。
package rewriter

import "github.com/novalang/icrewriter/asm"

// emitGetAttr 把 obj+offset 处的值加载进一个新分配的通用寄存器
func (e *Rewriter) emitGetAttr(obj *Var, offset int32, loadType MovType, result *Var, idx int) {
	ptrReg := e.GetInReg(obj, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	dstReg := e.AllocReg(AnyReg, RegLoc(ptrReg), nil)
	if e.failed {
		return
	}
	e.asmBuf.MovRegMem(dstReg, asm.Mem(ptrReg, offset), loadType)
	loc := RegLoc(dstReg)
	result.addLocation(loc)
	e.varsByLocation[loc] = result
}

// emitGetAttrFloat 加载一个 32 位浮点字段，转换为双精度存进一个 XMM 寄存器
// （spec §6 fluent API: get_attr_float；original_source 也在加载后立即
// cvtss2sd，统一用双精度表示浮点结果，简化下游代码只需处理一种宽度）。
func (e *Rewriter) emitGetAttrFloat(obj *Var, offset int32, result *Var, idx int) {
	ptrReg := e.GetInReg(obj, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	dstXMM := e.allocXMMReg()
	e.asmBuf.MovssRegMem(dstXMM, asm.Mem(ptrReg, offset))
	e.asmBuf.Cvtss2sd(dstXMM, dstXMM)
	loc := XMMLoc(dstXMM)
	result.addLocation(loc)
	e.varsByLocation[loc] = result
}

// emitGetAttrDouble 加载一个 64 位双精度浮点字段
func (e *Rewriter) emitGetAttrDouble(obj *Var, offset int32, result *Var, idx int) {
	ptrReg := e.GetInReg(obj, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	dstXMM := e.allocXMMReg()
	e.asmBuf.MovsdRegMem(dstXMM, asm.Mem(ptrReg, offset))
	loc := XMMLoc(dstXMM)
	result.addLocation(loc)
	e.varsByLocation[loc] = result
}

// allocXMMReg 挑一个当前空闲的 XMM 寄存器。重写器目前只处理一到两个同时
// 活跃的浮点字段（属性读取场景不会并发持有很多浮点中间值），所以用线性
// 扫描而不是复用整数寄存器分配器的溢出逻辑——这与整数寄存器池是分开的
// 资源，互不挤占。
func (e *Rewriter) allocXMMReg() asm.XMMRegister {
	for r := asm.XMM0; r <= asm.XMM15; r++ {
		if _, occupied := e.varsByLocation[XMMLoc(r)]; !occupied {
			return r
		}
	}
	e.fail(errResourceExhausted("no free XMM register available"))
	return asm.XMM0
}

// emitSetAttr 把 val 存入 obj+offset。如果 val 是一个脚手架分配（拥有型
// 数组），存入字段之后必须取消它的"脚手架所有权"标记，否则重写器会认为
// 它已经没有更多使用而提前释放底层槛位（spec §4.6 提到的拥有型容器生命
// 周期陷阱；original_source: _setAttr 末尾 "if val->isScratchAllocation()
// val->resetIsScratchAllocation()"）。
func (e *Rewriter) emitSetAttr(obj, val *Var, offset int32, storeType MovType, idx int) {
	ptrReg := e.GetInReg(obj, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	valReg := e.GetInReg(val, AnyReg, RegLoc(ptrReg))
	if e.failed {
		return
	}
	e.asmBuf.MovMemReg(asm.Mem(ptrReg, offset), valReg, storeType)

	// 一旦存进字段，这份脚手架空间的生命周期就跟着容器走了——不再属于
	// val；停止让 kill() 在 val 用尽时把它当成死代码回收（那会在容器仍然
	// 指向它的情况下把位图标记回"空闲"，被后续分配覆盖）。
	val.scratchAllocation = nil
}
