package rewriter

import "testing"

func TestAllocateQueuesAndProducesDisjointRegions(t *testing.T) {
	e := newTestRewriter(t, 0)

	a := e.Allocate(2)
	b := e.Allocate(3)

	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if a.scratchAllocation == nil || b.scratchAllocation == nil {
		t.Fatal("expected both allocations to have been resolved by commit time")
	}
	aStart, aEnd := a.scratchAllocation.OffsetSlots, a.scratchAllocation.OffsetSlots+a.scratchAllocation.LengthSlots
	bStart, bEnd := b.scratchAllocation.OffsetSlots, b.scratchAllocation.OffsetSlots+b.scratchAllocation.LengthSlots
	if aStart < bEnd && bStart < aEnd {
		t.Fatalf("overlapping scratch regions: a=[%d,%d) b=[%d,%d)", aStart, aEnd, bStart, bEnd)
	}
}

func TestAllocateFailsWhenScratchExhausted(t *testing.T) {
	e := newTestRewriter(t, 0)
	total := len(e.scratchUsed)

	e.Allocate(total + 1)

	if err := e.Commit(); err == nil {
		t.Fatal("expected Commit to report a resource-exhaustion error")
	} else if IsStale(err) {
		t.Error("scratch exhaustion is a resource-exhausted failure, not a stale optimization")
	}
}

func TestAllocateAndCopyQueuedAsCollectingPhaseCall(t *testing.T) {
	e := newTestRewriter(t, 1)
	ptr := e.Args()[0]

	dst := e.AllocateAndCopy(ptr, 2)
	if dst == nil {
		t.Fatal("AllocateAndCopy should return a result var immediately (deferred to the emitting phase)")
	}
	if e.phase != phaseCollecting {
		t.Fatal("queuing an allocation must not advance the phase")
	}
	if err := e.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}
