// var.go - 符号操作数
//
// Var 是重写器的中心实体（spec §3）。收集阶段里，每一个会被某个 action
// 读取或写入的值都对应一个 Var；发射阶段里，寄存器分配器、引用计数追踪
// 器和守卫管理器都只通过 Var 的字段互相协作，从不直接互相调用。
package rewriter

import "github.com/novalang/icrewriter/asm"

// RefType 是一个 Var 所持有指针的引用计数语义（spec §3）
type RefType int

const (
	RefUnknown RefType = iota
	RefOwned
	RefBorrowed
)

// ScratchAllocation 描述一个 Var 拥有的连续脚手架区域
type ScratchAllocation struct {
	OffsetSlots int // 起始槛位号（每槛位 8 字节）
	LengthSlots int
}

// attrGuardKey 用于属性守卫去重（spec §4.7 "Attr guard dedup"）
type attrGuardKey struct {
	Offset int32
	Value  int64
	Negate bool
}

// getAttrKey 是 get_attr 备忘表的键（spec §4.2）
type getAttrKey struct {
	Offset    int32
	LoadWidth asm.MovType
}

// Var 是重写器跟踪的一个符号操作数
type Var struct {
	id int // 在 arena 中的稳定编号，仅用于调试/trace

	// locations 是该变量当前同时物化在哪些位置（spec §3 不变式 1）
	locations []Location

	isConstant    bool
	constantValue int64

	refType  RefType
	nullable bool

	// uses 是在收集阶段构建的、单调递增的 action 索引列表；next_use 是
	// 发射阶段的游标（spec §4.1 "Var creation and use-list construction"）。
	uses    []int
	nextUse int

	// 引用"交接"（hand-off）记账（spec §4.5）
	numRefsConsumed        int
	lastRefConsumedNumUses int
	lastRefConsumedAction  int

	// 调用参数相关（spec §4.3 "Pinned arg vars"）
	argLoc Location
	isArg  bool

	scratchAllocation *ScratchAllocation

	attrGuards map[attrGuardKey]bool
	getattrs   map[getAttrKey]*Var

	// dead 标记该变量已经被显式 kill 掉（spec 设计注记 "kill()"）
	dead bool

	isFloat  bool
	isDouble bool
}

// newVar 在给定 arena 中分配一个新的 Var
func (e *Rewriter) newVar() *Var {
	v := &Var{id: len(e.vars), refType: RefUnknown}
	e.vars = append(e.vars, v)
	return v
}

// IsConstant 报告该变量是否代表一个编译期已知的 64 位常量
func (v *Var) IsConstant() bool { return v.isConstant }

// ConstantValue 返回常量值；仅在 IsConstant() 为 true 时有意义
func (v *Var) ConstantValue() int64 { return v.constantValue }

// RefType 返回该变量的引用计数语义
func (v *Var) RefType() RefType { return v.refType }

// SetType 设置该变量的引用计数语义与可空性（spec §6 fluent API: SetType）
func (v *Var) SetType(t RefType, nullable bool) {
	v.refType = t
	v.nullable = nullable
}

// Nullable 报告该变量是否可能是 null/None
func (v *Var) Nullable() bool { return v.nullable }

// Locations 返回该变量当前物化的所有位置（只读快照）
func (v *Var) Locations() []Location {
	out := make([]Location, len(v.locations))
	copy(out, v.locations)
	return out
}

// hasLocation 报告 loc 是否在当前位置集合中
func (v *Var) hasLocation(loc Location) bool {
	for _, l := range v.locations {
		if l.Equal(loc) {
			return true
		}
	}
	return false
}

// addLocation 把 loc 加入该变量的位置集合（不去重失败即幂等添加）
func (v *Var) addLocation(loc Location) {
	if !v.hasLocation(loc) {
		v.locations = append(v.locations, loc)
	}
}

// removeLocation 把 loc 从位置集合中移除
func (v *Var) removeLocation(loc Location) {
	for i, l := range v.locations {
		if l.Equal(loc) {
			v.locations = append(v.locations[:i], v.locations[i+1:]...)
			return
		}
	}
}

// isPinnedArg 报告该变量是否仍是一个被钉住的参数变量（spec §4.3:
// "Pinned arg vars (while !done_guarding) are skipped."）
func (v *Var) isPinnedArg(doneGuarding bool) bool {
	return v.isArg && !doneGuarding
}

// hasFurtherUses 报告从 nextUse 游标往后是否还有未运行的使用
// （spec §4.3: "A var with no further uses is skipped (it is mid-release)."）
func (v *Var) hasFurtherUses() bool {
	return v.nextUse < len(v.uses)
}

// nextUseIndex 返回下一次使用对应的 action 索引；没有更多使用时返回一个
// 远大于任何真实索引的值，这样"farthest-next-use"比较会自然地把它排在
// 最后（即最该被选为溢出受害者，因为它反正要死了）。
func (v *Var) nextUseIndex() int {
	if !v.hasFurtherUses() {
		return 1 << 30
	}
	return v.uses[v.nextUse]
}

// bumpUse 推进该变量的 use 游标，必须传入当前正在运行的 action 索引，
// 用来断言账务是精确的（spec 可测性质 2）。用尽最后一次使用的那一刻，
// 自动释放该变量——除非它还是一个在守卫期间被钉住的参数变量，那种情况
// 留给 onDoneGuarding 统一处理（spec §4.3；original_source:
// RewriterVar::bumpUse，到 next_use==uses.size() 就调用 _release()，唯一
// 的例外也是同一条 pinned-arg 判断）。
func (v *Var) bumpUse(e *Rewriter, actionIdx int) {
	if v.nextUse >= len(v.uses) || v.uses[v.nextUse] != actionIdx {
		panic("rewriter: bumpUse called out of order or with exhausted use list")
	}
	v.nextUse++
	if v.nextUse == len(v.uses) {
		if v.isPinnedArg(e.doneGuarding) {
			return
		}
		v.release(e)
	}
}

// refHandedOff 报告这份拥有引用是否已经在它最后一次被使用的那个动作里
// 被交接走了——交接走的引用不需要重写器再补一次 decref（spec §4.5;
// original_source: RewriterVar::refHandedOff）。
func (v *Var) refHandedOff() bool {
	return v.refType == RefOwned && v.numRefsConsumed > 0 && v.lastRefConsumedNumUses == len(v.uses)
}

// release 是变量生命周期真正的终点：如果它仍然持有一份没被交接走的拥有
// 引用，先补发一次 decref（或 xdecref，取决于是否可空），再回收它所有
// 的位置与脚手架分配，不留下任何痕迹（spec §3 不变式 4、§4.5："either a
// handoff ... or a synthesized decref at the last use"；original_source:
// RewriterVar::_release）。对已经释放过的变量再调用一次是安全的空操作。
func (v *Var) release(e *Rewriter) {
	if v.dead {
		return
	}
	if v.refType == RefOwned && !v.refHandedOff() {
		if v.nullable {
			e.emitXdecref(v, e.currentActionIdx)
		} else {
			e.emitDecref(v, e.currentActionIdx)
		}
		if e.failed {
			return
		}
	}
	v.kill(e)
}

// refConsumed 记录一次"引用被消费"事件（spec §4.5 "Hand-off semantics"）。
// actionIdx 是当前正在运行的 action 索引。
func (v *Var) refConsumed(actionIdx int) {
	v.numRefsConsumed++
	v.lastRefConsumedNumUses = len(v.uses)
	v.lastRefConsumedAction = actionIdx
}

// needsDecref 实现 spec §4.5 的 needs_decref(action_idx) 规则
func (v *Var) needsDecref(actionIdx int) bool {
	if v.refType != RefOwned {
		return false
	}
	if v.numRefsConsumed == 0 {
		return true
	}
	return v.lastRefConsumedAction != actionIdx
}

// kill 释放该变量的所有位置与脚手架分配，不生成任何代码（design notes
// "kill()"；用于溢出受害者原来就没有后续使用的情形）。
func (v *Var) kill(e *Rewriter) {
	for _, loc := range v.locations {
		delete(e.varsByLocation, loc)
	}
	v.locations = nil
	if v.scratchAllocation != nil {
		e.freeScratch(v.scratchAllocation)
		v.scratchAllocation = nil
	}
	v.dead = true
}
