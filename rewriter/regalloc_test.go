package rewriter

import (
	"testing"

	"github.com/novalang/icrewriter/asm"
)

func TestAllocRegAnyPicksFreeRegisterFirst(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	reg := e.AllocReg(AnyReg, NoneLoc, nil)
	if e.failed {
		t.Fatalf("unexpected failure: %v", e.failReasons)
	}
	if _, occupied := e.varsByLocation[RegLoc(reg)]; occupied {
		t.Fatalf("AllocReg should have returned a free register, %v is occupied", reg)
	}
}

func TestAllocRegSpillsFarthestNextUseVictim(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	// 占满所有可分配寄存器，每个变量的下一次使用索引不同
	var occupants []*Var
	for i, r := range e.config.AllocatableRegisters {
		v := e.newVar()
		v.uses = []int{100 + i} // 下标越大的寄存器，下一次使用越晚
		loc := RegLoc(r)
		v.addLocation(loc)
		e.varsByLocation[loc] = v
		occupants = append(occupants, v)
	}

	victim := e.AllocReg(AnyReg, NoneLoc, nil)
	if e.failed {
		t.Fatalf("unexpected failure: %v", e.failReasons)
	}

	lastReg := e.config.AllocatableRegisters[len(e.config.AllocatableRegisters)-1]
	if victim != lastReg {
		t.Fatalf("expected the register holding the farthest-next-use var (%v) to be spilled, got %v", lastReg, victim)
	}
	if _, stillThere := e.varsByLocation[RegLoc(lastReg)]; stillThere {
		t.Error("the spilled register should no longer point at its old occupant in this exact location")
	}
	_ = occupants
}

func TestAllocRegKillsVictimWithNoFurtherUses(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	for _, r := range e.config.AllocatableRegisters {
		v := e.newVar()
		// uses 为空：已经没有更多使用了，AllocReg 应该直接 kill 掉它而不生成溢出代码
		loc := RegLoc(r)
		v.addLocation(loc)
		e.varsByLocation[loc] = v
	}

	before := e.asmBuf.BytesWritten()
	reg := e.AllocReg(AnyReg, NoneLoc, nil)
	if e.failed {
		t.Fatalf("unexpected failure: %v", e.failReasons)
	}
	if e.asmBuf.BytesWritten() != before {
		t.Error("killing a victim with no further uses should not emit any spill code")
	}
	if _, occupied := e.varsByLocation[RegLoc(reg)]; occupied {
		t.Error("the killed victim's old location should be free")
	}
}

func TestAllocRegAutoDecrefsOwnedVictimWithNoFurtherUses(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	var owned *Var
	var ownedReg asm.Register
	for i, r := range e.config.AllocatableRegisters {
		v := e.newVar()
		// uses 为空：已经没有更多使用了。第一个占用者额外标成拥有引用、
		// 从未交接——AllocReg 选中它做受害者时必须先补发一次 decref，
		// 不能像对 RefUnknown 的占用者那样直接悄悄回收。
		if i == 0 {
			v.SetType(RefOwned, false)
			owned = v
			ownedReg = r
		}
		loc := RegLoc(r)
		v.addLocation(loc)
		e.varsByLocation[loc] = v
	}

	before := e.asmBuf.BytesWritten()
	reg := e.AllocReg(AnyReg, NoneLoc, nil)
	if e.failed {
		t.Fatalf("unexpected failure: %v", e.failReasons)
	}
	if reg != ownedReg {
		t.Fatalf("expected the owned var's register (%v) to be reclaimed first, got %v", ownedReg, reg)
	}
	if e.asmBuf.BytesWritten() == before {
		t.Error("reclaiming an owned, not-handed-off var's register must emit a decref sequence")
	}
	if _, occupied := e.varsByLocation[RegLoc(reg)]; occupied {
		t.Error("the released victim's old location should be free")
	}
	if !owned.dead {
		t.Error("the released victim should be marked dead")
	}
}

func TestAllocRegSkipsPinnedArgsBeforeDoneGuarding(t *testing.T) {
	e := newTestRewriter(t, 1)
	e.phase = phaseEmitting
	e.doneGuarding = false

	arg := e.Args()[0]
	// 占满除了 arg 所在寄存器之外的所有可分配寄存器，都没有更多使用
	argLoc := arg.locations[0]
	for _, r := range e.config.AllocatableRegisters {
		if r == argLoc.Reg {
			continue
		}
		v := e.newVar()
		loc := RegLoc(r)
		v.addLocation(loc)
		e.varsByLocation[loc] = v
	}

	// 此刻唯一"可以不费力回收"的寄存器之外，分配器不应该把 arg 选为受害者
	reg := e.AllocReg(AnyReg, NoneLoc, nil)
	if reg == argLoc.Reg {
		t.Fatal("a pinned arg var must not be chosen as a spill/kill victim before doneGuarding")
	}
}

func TestGetInRegIsIdempotent(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	v := e.newVar()
	v.isConstant = true
	v.constantValue = 42

	reg := e.GetInReg(v, RegLoc(asm.RAX), NoneLoc)
	before := e.asmBuf.BytesWritten()
	reg2 := e.GetInReg(v, RegLoc(reg), NoneLoc)
	if reg != reg2 {
		t.Fatalf("GetInReg should keep returning the same register: %v vs %v", reg, reg2)
	}
	if e.asmBuf.BytesWritten() != before {
		t.Error("a second GetInReg call for an already-materialized location should not emit more code")
	}
}

// TestGetInRegOnLastUseWithFullRegisters 覆盖 v 自己占着最后一个寄存器、
// 且这正是它最后一次使用的场景：GetInReg 必须直接认出 v 已经在寄存器里
// 并复用它，而不能先把 AnyReg 解析成一个具体寄存器——那会让分配器的
// 溢出扫描把 v 自己当成"没有更多使用、可以直接 kill"的受害者,在 v 的
// 位置被清空之后再去找它，只会 panic。
func TestGetInRegOnLastUseWithFullRegisters(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	var v *Var
	for i, r := range e.config.AllocatableRegisters {
		loc := RegLoc(r)
		// uses 为空：每个占用者都已经没有更多使用了，最后一个就是本测试的 v
		cand := e.newVar()
		cand.addLocation(loc)
		e.varsByLocation[loc] = cand
		if i == len(e.config.AllocatableRegisters)-1 {
			v = cand
		}
	}

	reg := e.GetInReg(v, AnyReg, NoneLoc)
	if loc := RegLoc(reg); e.varsByLocation[loc] != v {
		t.Fatalf("GetInReg should have returned v's own register, got a register owned by %v", e.varsByLocation[loc])
	}
}
