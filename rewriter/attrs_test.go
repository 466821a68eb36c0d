package rewriter

import "testing"

func TestGetAttrMemoizesUntilMutation(t *testing.T) {
	e := newTestRewriter(t, 1)
	obj := e.Args()[0]

	a := e.GetAttr(obj, 16, MovQ)
	b := e.GetAttr(obj, 16, MovQ)
	if a != b {
		t.Fatal("a repeated get_attr with the same (offset, width) should be memoized")
	}

	c := e.GetAttr(obj, 24, MovQ)
	if c == a {
		t.Fatal("a different offset must not share the memo entry")
	}

	// 一次 mutation 动作之后，旧的 memo 不能再复用
	other := e.newVar()
	e.SetAttr(obj, other, 32, MovQ)
	d := e.GetAttr(obj, 16, MovQ)
	if d == a {
		t.Fatal("get_attr memo must be invalidated by an intervening mutation action")
	}
}

func TestSetAttrDoesNotConsumeReference(t *testing.T) {
	e := newTestRewriter(t, 1)
	obj := e.Args()[0]
	val := e.newVar()
	val.SetType(RefOwned, false)

	e.SetAttr(obj, val, 8, MovQ)
	if val.numRefsConsumed != 0 {
		t.Fatal("plain SetAttr must not call refConsumed on its own")
	}
}

func TestReplaceAttrConsumesNewAndReleasesOld(t *testing.T) {
	e := newTestRewriter(t, 1)
	obj := e.Args()[0]
	newVal := e.newVar()

	e.ReplaceAttr(obj, newVal, 8, MovQ, true)

	// ReplaceAttr 排队了 get_attr、set_attr 和 decref/xdecref 三个动作；
	// RefConsumed 不进队列，在收集阶段立即执行，所以这里已经能看到交接记录。
	if newVal.numRefsConsumed != 1 {
		t.Fatal("ReplaceAttr must mark the new value's reference as consumed")
	}
	if len(e.actions) < 3 {
		t.Fatalf("expected ReplaceAttr to queue at least get_attr + set_attr + decref/xdecref, got %d actions", len(e.actions))
	}
}

func TestEmitSetAttrRetainsScratchOwnership(t *testing.T) {
	e := newTestRewriter(t, 1)
	obj := e.Args()[0]
	val := e.Allocate(1)

	e.SetAttr(obj, val, 8, MovQ)
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if val.scratchAllocation != nil {
		t.Error("storing a scratch-backed var into a field must drop its own tracking of the allocation")
	}
}
