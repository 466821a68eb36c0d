package rewriter

import (
	"testing"

	"github.com/novalang/icrewriter/asm"
)

func TestArgLocationSpillsToStackAfterRegisters(t *testing.T) {
	last := len(asm.ArgRegisters) - 1
	loc := ArgLocation(last)
	if loc.Kind != LocRegister || loc.Reg != asm.ArgRegisters[last] {
		t.Fatalf("ArgLocation(%d) should be the last register slot", last)
	}
	overflow := ArgLocation(len(asm.ArgRegisters))
	if overflow.Kind != LocStack || overflow.StackOffset != 0 {
		t.Fatalf("ArgLocation past the register count should land on the stack at offset 0, got %+v", overflow)
	}
	overflow2 := ArgLocation(len(asm.ArgRegisters) + 1)
	if overflow2.StackOffset != 8 {
		t.Fatalf("expected the next stack arg slot to be 8 bytes further, got %d", overflow2.StackOffset)
	}
}

func TestCallQueuesMutationCategoryWhenSideEffectful(t *testing.T) {
	e := newTestRewriter(t, 1)
	arg := e.Args()[0]

	e.Call(true, 0x1000, []*Var{arg}, nil, nil)
	if e.actions[len(e.actions)-1].category != ActionMutation {
		t.Error("a side-effectful call must queue an ActionMutation")
	}
}

func TestCallPureDoesNotInvalidateGetAttrMemo(t *testing.T) {
	e := newTestRewriter(t, 1)
	obj := e.Args()[0]

	a := e.GetAttr(obj, 8, MovQ)
	e.Call(false, 0x2000, nil, nil, nil)
	b := e.GetAttr(obj, 8, MovQ)
	if a != b {
		t.Error("a pure (non-side-effectful) call must not invalidate the get_attr memo")
	}
}

func TestSetupCallPanicsOnSideEffectfulCallBeforeDoneGuarding(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting
	e.doneGuarding = false

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic when a side-effectful call runs before guarding is finished")
		}
	}()
	e.setupCall(true, nil, nil)
}

func TestSetupCallEntersSideEffectfulOnlyOnce(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting
	e.doneGuarding = true

	e.setupCall(true, nil, nil)
	if !e.markedInsideIC {
		t.Fatal("expected markedInsideIC to be set after the first side-effectful call setup")
	}
	e.setupCall(true, nil, nil)
	// 第二次不应该 panic 或者重复调用 slot.EnterSideEffectful——
	// 这里只验证 flag 保持为真、不会被第二次调用意外清掉。
	if !e.markedInsideIC {
		t.Fatal("markedInsideIC must remain set across multiple side-effectful calls in the same rewrite")
	}
}

func TestSetupCallSpillsNonArgRegistersWithFurtherUses(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting
	e.doneGuarding = true

	victim := e.newVar()
	reg := e.config.AllocatableRegisters[len(e.config.AllocatableRegisters)-1]
	loc := RegLoc(reg)
	victim.addLocation(loc)
	victim.uses = []int{500}
	e.varsByLocation[loc] = victim

	before := e.asmBuf.BytesWritten()
	e.setupCall(false, nil, nil)
	if e.failed {
		t.Fatalf("unexpected failure: %v", e.failReasons)
	}
	if e.asmBuf.BytesWritten() == before {
		t.Error("expected setupCall to emit a spill for a caller-saved register with further uses")
	}
	if _, stillOccupied := e.varsByLocation[loc]; stillOccupied {
		t.Error("the spilled register should be vacated at its old location")
	}
}

func TestEmitCallBindsReturnValueToPolicyReturnRegister(t *testing.T) {
	e := newTestRewriter(t, 0)
	result := e.Call(false, 0x3000, nil, nil, nil)
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	retLoc := RegLoc(asm.Register(e.policy.ReturnRegister))
	if !result.hasLocation(retLoc) {
		t.Error("the call's result var should end up in the policy's return register")
	}
}
