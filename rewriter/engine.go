// engine.go - 重写器状态机
//
// Rewriter 是整个包对外的门面：收集阶段把客户端的 fluent 调用记录成
// action 队列（spec §4.1），commit() 把阶段切到发射、按顺序把队列跑一遍
// 编码成机器码，最后把结果交给 icslot.Slot 完成安装或废弃（spec §4.9）。
// 一个 Rewriter 只使用一次——commit 或 abort 之后它就不再接受任何调用。
package rewriter

import (
	"go.uber.org/zap"

	"github.com/novalang/icrewriter/asm"
	"github.com/novalang/icrewriter/icslot"
)

// phase 标识重写器当前处于收集还是发射阶段（spec §2："two phases，严格
// 不重叠"）。误用（发射阶段调用收集期 API 或反过来）是编程错误，直接 panic。
type phase int

const (
	phaseCollecting phase = iota
	phaseEmitting
	phaseDone
)

// liveOutReq 记录一个值编号在 commit 时必须落在某个具体寄存器里的要求
// （spec §4.9 步骤 7 "Live-out placement"，来自 icslot.Policy.LiveOut）。
type liveOutReq struct {
	valueID int
	reg     asm.Register
	v       *Var
}

// Rewriter 驱动一次 IC 专门化的完整生命周期
type Rewriter struct {
	phase phase

	vars    []*Var
	actions []*action

	varsByLocation map[Location]*Var

	config      *Config
	constLoader *ConstLoader
	logger      *zap.Logger

	asmBuf         *asm.Assembler
	scratchUsed    []bool
	scratchBaseReg asm.Register

	slot   *icslot.Slot
	policy *icslot.Policy

	failed      bool
	failReasons error

	doneGuarding      bool
	lastGuardAction   int
	addedChangingAction bool

	// guardJumps 记录已经发射的、指向槛位末尾的守卫跳转，按条件码索引，
	// 供后续同条件的守卫复用同一条 trampoline（spec §4.7 "Trampoline reuse"）。
	guardJumps []guardJumpRecord

	// ownedAttrs 跟踪当前通过 RegisterOwnedAttr 登记的、需要在异常展开时
	// 一并 decref 的拥有型属性容器（spec §4.6）。
	ownedAttrs []ownedAttrEntry

	decrefInfos  []icslot.DecrefInfo
	pendingJumps []icslot.PendingJump

	// retainedConstRefs 记录 commit 完成后仍需要被槛位保留引用的常量 Var
	// （spec §4.9 步骤 3："Retained object references"）。
	retainedConstRefs []*Var

	// args 是这次重写从一开始就钉在调用约定位置上的输入参数
	// （spec §4.3 "Pinned arg vars"; original_source: Rewriter::Rewriter）。
	args []*Var

	liveOuts []liveOutReq

	// markedInsideIC 记录是否已经为这次重写调用过一次 slot.EnterSideEffectful
	// ——只第一次带副作用的调用会触发，随后的调用共享同一个"已进入"状态
	// （spec §4.8 "one-shot EnterSideEffectful"; original_source:
	// Rewriter::_setupCall 里的 marked_inside_ic）。
	markedInsideIC bool

	// currentActionIdx 是当前正在运行的 action 的索引。runActions 在为每个
	// action 推进依赖的 use 游标之前就把它更新好，这样 bumpUse 触发的
	// Var.release（进而是 emitDecref/emitXdecref）总能拿到正确的 action
	// 索引——不需要把它作为参数一路传给 AllocReg/setupCall/placeLiveOuts/
	// onDoneGuarding 这些本来不知道"当前 action"概念的发射期辅助函数。
	currentActionIdx int
}

type ownedAttrEntry struct {
	container *Var
	offset    int32
}

// NewRewriter 构造一个新的重写器，绑定到一个已经从 arena 拿到的槛位，
// 并为 numArgs 个输入参数创建按调用约定钉住位置的变量（spec §4.3）。
func NewRewriter(slot *icslot.Slot, policy *icslot.Policy, cfg *Config, logger *zap.Logger, numArgs int) *Rewriter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Rewriter{
		phase:           phaseCollecting,
		varsByLocation:  make(map[Location]*Var),
		config:          cfg,
		constLoader:     newConstLoader(),
		logger:          logger,
		asmBuf:          asm.NewAssembler(slot.CodeCapacity()),
		scratchUsed:     make([]bool, slot.ScratchSize()/8),
		scratchBaseReg:  cfg.ScratchBaseRegister,
		slot:            slot,
		policy:          policy,
		lastGuardAction: -1,
		currentActionIdx: -1,
	}
	for i := 0; i < numArgs; i++ {
		loc := ArgLocation(i)
		v := e.newVar()
		v.addLocation(loc)
		e.varsByLocation[loc] = v
		v.isArg = true
		v.argLoc = loc
		e.args = append(e.args, v)
	}
	return e
}

// Args 返回这次重写的输入参数变量，按调用约定的参数位置排序
func (e *Rewriter) Args() []*Var { return e.args }

// MarkLiveOut 把 v 登记为一个存活输出：按 valueID 在槛位策略的 LiveOut
// 表里查出要求落地的具体寄存器，commit 时会把它搬过去（spec §4.9 步骤 7）。
// valueID 在策略表里没有对应项时什么都不做——调用方可能登记了比策略要求
// 更多的候选存活输出。
func (e *Rewriter) MarkLiveOut(v *Var, valueID int) {
	e.assertCollecting()
	reg, ok := e.policy.LiveOut[valueID]
	if !ok {
		return
	}
	v.SetType(RefUnknown, v.nullable)
	e.liveOuts = append(e.liveOuts, liveOutReq{valueID: valueID, reg: asm.Register(reg), v: v})
}

func (e *Rewriter) assertCollecting() {
	if e.phase != phaseCollecting {
		panic("rewriter: collecting-phase API called outside the collecting phase")
	}
}

func (e *Rewriter) assertEmitting() {
	if e.phase != phaseEmitting {
		panic("rewriter: emitting-phase API called outside the emitting phase")
	}
}

// Failed 报告到目前为止是否已经因为资源耗尽/过期优化放弃了这次重写
func (e *Rewriter) Failed() bool { return e.failed }

// Logger 暴露底层 zap.Logger 给需要记录诊断信息的 fluent API（guard.go、
// call.go 用它打日志，而不是各自从 Config 里再拿一份）。
func (e *Rewriter) Logger() *zap.Logger { return e.logger }

// runActions 把动作队列按顺序跑一遍，编码进 asmBuf。每个 action 先跑它
// 自己的代码——这时它所有依赖都还在各自当前的位置上，可以放心读取——
// 跑完之后才为每个依赖推进 use 游标（spec §4.1）。推进到某个变量的最后
// 一次使用时，bumpUse 会自动释放它：仍持有、没被交接走的拥有引用在那
// 一刻补发一次 decref/xdecref（spec §3 不变式 4、§4.5："either a handoff
// ... or a synthesized decref at the last use"）。这个顺序是必须的——
// Decref/Xdecref 这类动作本身把自己也列为依赖，它们在 act.run 里先调用
// emitDecref/emitXdecref 记下"已经被消费"，bumpUse 随后检查 refHandedOff
// 才不会在已经手动释放过的变量上又补发一次；颠倒过来会在该变量身上发生
// 两次 decref（original_source 的各个 _* 发射函数同样是先做事、再在
// lambda 末尾调用 bumpUse，从不提前调用）。
//
// 如果同一个 var 的引用被交接了不止一次（例如先后存进两个不同的字段），
// 只有按队列顺序最后一次交接是"真正"的移交——更早的那些交接实际上是在
// 凭空分走一份引用，必须先补一次 incref 才不会欠账（spec §4.5 最后一段）。
func (e *Rewriter) runActions() {
	e.currentActionIdx = -1
	if e.lastGuardAction == -1 {
		e.onDoneGuarding()
		if e.failed {
			return
		}
	}
	for idx, act := range e.actions {
		if e.failed {
			return
		}
		for _, v := range act.consumedRefs {
			if v.lastRefConsumedAction != idx {
				e.emitIncref(v, 1)
				if e.failed {
					return
				}
			}
		}
		e.currentActionIdx = idx
		act.run(e, idx)
		if e.failed {
			return
		}
		for _, v := range act.deps {
			v.bumpUse(e, idx)
			if e.failed {
				return
			}
		}
		if idx == e.lastGuardAction {
			e.onDoneGuarding()
			if e.failed {
				return
			}
		}
	}
}

// onDoneGuarding 翻转 doneGuarding 标志并释放那些已经没有更多使用、却
// 因为还在守卫期间而被强制钉住没释放的参数变量（spec §4.3 的注记："An
// arg that finishes its uses before guarding ends isn't released until
// guarding ends"; original_source: on_done_guarding lambda 调用
// arg->_release()，不是裸的 kill）。
func (e *Rewriter) onDoneGuarding() {
	if e.doneGuarding {
		return
	}
	e.doneGuarding = true
	for _, arg := range e.args {
		if !arg.hasFurtherUses() {
			arg.release(e)
			if e.failed {
				return
			}
		}
	}
}

// Commit 结束收集阶段，按 spec §4.9 的顺序跑完发射阶段，并把结果安装进
// 槛位。非 nil 的 error 代表资源耗尽类失败（spec §7 第二类）或过期优化
// 类失败，调用方可以用 IsStale 区分。
func (e *Rewriter) Commit() error {
	return e.commitCore(nil)
}

// CommitReturning 与 Commit 相同，但额外把 retVal 放入返回寄存器
// （spec §6 fluent API: commit_returning / commit_returning_non_python 的
// 一般形式）。
func (e *Rewriter) CommitReturning(retVal *Var) error {
	return e.commitCore(retVal)
}

// CommitReturningNonPython 与 CommitReturning 相同，但不要求返回值具有
// 任何引用计数语义——调用方约定返回的是原始整数/布尔结果，不是对象指针
// （spec §6 fluent API 列表单独列出这个名字，区分调用方是否需要对返回值
// 做引用计数记账）。
func (e *Rewriter) CommitReturningNonPython(retVal *Var) error {
	return e.commitCore(retVal)
}

func (e *Rewriter) commitCore(retVal *Var) error {
	e.assertCollecting()
	e.phase = phaseEmitting

	e.runActions()

	if !e.failed && e.checkRetainedReferencesStale() {
		e.fail(errStaleOptimization("a retained object reference has no other holder left"))
	}

	if !e.failed && retVal != nil {
		reg := e.GetInReg(retVal, RegLoc(asm.Register(e.policy.ReturnRegister)), NoneLoc)
		_ = reg
	}

	if !e.failed {
		e.placeLiveOuts()
	}

	if e.failed {
		return e.doAbort()
	}

	e.asmBuf.FillWithNops()
	if e.asmBuf.HasFailed() {
		e.fail(errResourceExhausted("generated code exceeds slot capacity"))
		return e.doAbort()
	}

	if e.markedInsideIC {
		e.slot.ExitSideEffectful()
	}

	retained := make([]uintptr, len(e.retainedConstRefs))
	for i, v := range e.retainedConstRefs {
		retained[i] = uintptr(v.constantValue)
	}
	if err := e.slot.Commit(e.asmBuf.Code(), e.decrefInfos, e.pendingJumps, retained, e.config.RefcntOffset); err != nil {
		return err
	}
	e.retainedConstRefs = nil
	e.phase = phaseDone
	return nil
}

// placeLiveOuts 为 icslot.Policy 中声明的每一个存活输出，在提交前把对应
// 的变量搬到策略要求的具体寄存器里（spec §4.9 步骤 7）。按"目标寄存器当前
// 空闲与否"分两轮处理，避免两个存活输出互相踩到对方还没搬完的寄存器
// （环状依赖在找不到空闲中转位置时被判定为资源耗尽，§4.9 步骤 7 末尾）。
func (e *Rewriter) placeLiveOuts() {
	for _, req := range e.liveOuts {
		dest := RegLoc(req.reg)
		if req.v.hasLocation(dest) {
			continue
		}
		if occupant := e.varsByLocation[dest]; occupant != nil && occupant != req.v {
			if !occupant.hasFurtherUses() {
				occupant.release(e)
			} else {
				e.SpillRegister(req.reg, NoneLoc)
			}
			if e.failed {
				return
			}
		}
		e.GetInReg(req.v, RegLoc(req.reg), NoneLoc)
		if e.failed {
			return
		}
	}
}

// doAbort 是失败路径的统一出口：把槛位还给 arena 并把引擎切到终止状态。
func (e *Rewriter) doAbort() error {
	e.phase = phaseDone
	e.releaseRetainedReferences()
	if e.markedInsideIC {
		e.slot.ExitSideEffectful()
	}
	if err := e.slot.Abort(); err != nil {
		return err
	}
	if e.failReasons != nil {
		return e.failReasons
	}
	return errResourceExhausted("rewrite aborted with no recorded reason")
}

// Abort 显式放弃这次重写，不安装任何代码（spec §4.9: "Abort at any point
// releases any retained object references... and tells the collaborator
// to abandon the slot."）。可以在收集阶段或发射阶段的任意时刻调用。
func (e *Rewriter) Abort() error {
	if e.phase == phaseDone {
		panic("rewriter: Abort called after commit/abort already finished this rewrite")
	}
	e.phase = phaseEmitting
	return e.doAbort()
}

// CheckAndThrowCapiException 在最近一次 Call 之后插入一次"返回值为 NULL
// 就跳到槛位末尾的慢路径"检查（spec §4.8 步骤 6 的常见收尾用法，对应
// CPython C-API 调用约定：NULL 返回值表示已经有未处理的异常在飞）。
func (e *Rewriter) CheckAndThrowCapiException(result *Var, onErrorJumpsToSlotEnd bool) {
	e.assertEmitting()
	reg := e.GetInReg(result, AnyReg, NoneLoc)
	if e.failed {
		return
	}
	e.asmBuf.TestRegReg(reg, reg)
	if onErrorJumpsToSlotEnd {
		off := e.asmBuf.Jcc(CondE, asm.SlotEnd())
		e.pendingJumps = append(e.pendingJumps, icslot.PendingJump{ImmOffset: off, Short: false})
	}
}
