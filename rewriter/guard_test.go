package rewriter

import "testing"

func TestAddGuardOnConstantVarIsCompileTimeDecided(t *testing.T) {
	e := newTestRewriter(t, 0)
	v := e.constLoader.getOrCreate(e, 7)

	before := len(e.actions)
	e.AddGuard(v, 7) // 恒真：不应该排队任何动作
	if len(e.actions) != before {
		t.Error("a guard that is always true for a constant var should not queue an action")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic for a guard that can never succeed on a constant var")
		}
	}()
	e.AddGuard(v, 8)
}

func TestAddGuardQueuesAsGuardCategory(t *testing.T) {
	e := newTestRewriter(t, 1)
	arg := e.Args()[0]
	e.AddGuard(arg, 123)
	if len(e.actions) != 1 {
		t.Fatalf("expected exactly one queued action, got %d", len(e.actions))
	}
	if e.actions[0].category != ActionGuard {
		t.Error("AddGuard must queue an ActionGuard, not a normal/mutation action")
	}
	if e.lastGuardAction != 0 {
		t.Errorf("lastGuardAction = %d, want 0", e.lastGuardAction)
	}
}

func TestAddAttrGuardDeduplicatesIdenticalGuards(t *testing.T) {
	e := newTestRewriter(t, 1)
	arg := e.Args()[0]
	e.AddAttrGuard(arg, 16, 99, false)
	e.AddAttrGuard(arg, 16, 99, false)
	if len(e.actions) != 1 {
		t.Fatalf("expected the second identical attr guard to be a no-op, got %d actions", len(e.actions))
	}
	e.AddAttrGuard(arg, 16, 100, false) // 不同的 value，应该排队一次新守卫
	if len(e.actions) != 2 {
		t.Fatalf("expected a distinct (offset,value) attr guard to queue, got %d actions", len(e.actions))
	}
}

func TestNextSlotJumpReusesTrampolineWithinWindow(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	e.nextSlotJump(CondE)
	firstLen := e.asmBuf.BytesWritten()
	if len(e.pendingJumps) != 1 {
		t.Fatalf("expected the first guard jump to register a pending near jump, got %d", len(e.pendingJumps))
	}

	e.nextSlotJump(CondE)
	secondDelta := e.asmBuf.BytesWritten() - firstLen
	if secondDelta != 2 {
		t.Fatalf("expected the second same-condition guard to reuse a 2-byte short jump, wrote %d bytes", secondDelta)
	}
	if len(e.pendingJumps) != 1 {
		t.Error("a reused trampoline jump must not register another pending slot-end patch")
	}
}

func TestNextSlotJumpDoesNotReuseAcrossDifferentConditions(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	e.nextSlotJump(CondE)
	e.nextSlotJump(CondNE)
	if len(e.pendingJumps) != 2 {
		t.Fatalf("a different condition code must not reuse the previous trampoline, want 2 pending jumps, got %d", len(e.pendingJumps))
	}
}
