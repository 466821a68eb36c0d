package icslot

import (
	"testing"
	"unsafe"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestArenaPrepareEntryExhaustion(t *testing.T) {
	ar, err := NewArena(2, 64, 16)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()

	s1 := ar.PrepareEntry()
	s2 := ar.PrepareEntry()
	if s1 == nil || s2 == nil {
		t.Fatal("expected two slots to be available")
	}
	if s3 := ar.PrepareEntry(); s3 != nil {
		t.Fatal("expected nil slot when arena is exhausted")
	}
	if ar.NumFree() != 0 {
		t.Fatalf("expected 0 free slots, got %d", ar.NumFree())
	}
}

func TestArenaLogsLifecycleEvents(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ar, err := NewArena(1, 64, 16)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()
	ar.SetLogger(zap.New(core))

	s := ar.PrepareEntry()
	if s == nil {
		t.Fatal("expected a slot")
	}
	if ar.PrepareEntry() != nil {
		t.Fatal("expected nil slot when arena is exhausted")
	}
	if err := s.Commit(nil, nil, nil, nil, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	var levels []zapcore.Level
	for _, entry := range logs.All() {
		levels = append(levels, entry.Level)
	}
	if logs.FilterMessage("ic slot prepared").Len() != 1 {
		t.Errorf("expected one 'ic slot prepared' entry, got levels %v", levels)
	}
	if logs.FilterMessage("ic arena exhausted, no free slot to prepare").Len() != 1 {
		t.Errorf("expected one exhaustion warning, got levels %v", levels)
	}
	if logs.FilterMessage("ic slot committed").Len() != 1 {
		t.Errorf("expected one 'ic slot committed' entry, got levels %v", levels)
	}
}

func TestSlotAbortReturnsSlotToArena(t *testing.T) {
	ar, err := NewArena(1, 64, 16)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()

	s := ar.PrepareEntry()
	if s == nil {
		t.Fatal("expected a slot")
	}
	if err := s.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if ar.NumFree() != 1 {
		t.Fatalf("expected slot to be returned to arena, NumFree=%d", ar.NumFree())
	}
	if err := s.Abort(); err == nil {
		t.Fatal("expected second Abort to fail (commit/abort idempotence, spec property 7)")
	}
}

func TestSlotCommitRejectsOversizedCode(t *testing.T) {
	ar, err := NewArena(1, 8, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()

	s := ar.PrepareEntry()
	code := make([]byte, 64)
	if err := s.Commit(code, nil, nil, nil, 0); err == nil {
		t.Fatal("expected Commit to reject code larger than slot capacity")
	}
}

func TestSlotCommitPatchesSlotEndJump(t *testing.T) {
	ar, err := NewArena(1, 32, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()

	s := ar.PrepareEntry()
	// code: E9 <4-byte rel> followed by 3 bytes, jump target is slot end.
	code := []byte{0xE9, 0, 0, 0, 0, 0x90, 0x90, 0x90}
	if err := s.Commit(code, nil, []PendingJump{{ImmOffset: 1, Short: false}}, nil, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// rel32 从跳转指令末尾（偏移 5）算到槛位代码末尾（偏移 8）
	rel := int32(s.code[1]) | int32(s.code[2])<<8 | int32(s.code[3])<<16 | int32(s.code[4])<<24
	if want := int32(len(code) - 5); rel != want {
		t.Fatalf("patched slot-end displacement = %d, want %d", rel, want)
	}
	if err := s.Commit(code, nil, nil, nil, 0); err == nil {
		t.Fatal("expected second Commit to fail (commit/abort idempotence)")
	}
}

func TestNumInsideCounterRoundTrips(t *testing.T) {
	ar, err := NewArena(1, 16, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()
	s := ar.PrepareEntry()

	s.EnterSideEffectful()
	s.EnterSideEffectful()
	if got := s.NumInside(); got != 2 {
		t.Fatalf("NumInside = %d, want 2", got)
	}
	s.ExitSideEffectful()
	if got := s.NumInside(); got != 1 {
		t.Fatalf("NumInside = %d, want 1", got)
	}
}

func TestCommitTransfersRetainedRefsAndReleaseDecrements(t *testing.T) {
	ar, err := NewArena(1, 16, 0)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	defer ar.Close()
	s := ar.PrepareEntry()

	// 伪造一个最小的"对象头"：8 字节引用计数紧跟在起始地址处
	fakeObj := make([]byte, 16)
	refcntOffset := int32(0)
	addr := addrOf(&fakeObj[0])
	*(*int64)(unsafe.Pointer(addr)) = 2

	code := make([]byte, 4)
	if err := s.Commit(code, nil, nil, []uintptr{addr}, refcntOffset); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(s.RetainedRefs()) != 1 {
		t.Fatal("expected Commit to record the retained reference")
	}

	s.ReleaseRetainedRefs()
	if got := *(*int64)(unsafe.Pointer(addr)); got != 1 {
		t.Fatalf("expected ReleaseRetainedRefs to decrement the refcount to 1, got %d", got)
	}
	if len(s.RetainedRefs()) != 0 {
		t.Error("ReleaseRetainedRefs should clear the retained list so it is not released twice")
	}
}

func TestDefaultPolicyConfigToPolicy(t *testing.T) {
	cfg := DefaultPolicyConfig()
	pol := cfg.ToPolicy(nil)
	if pol.ReturnRegister != 0 {
		t.Errorf("ReturnRegister = %d, want 0 (RAX)", pol.ReturnRegister)
	}
	if len(pol.AllocatableRegisters) == 0 {
		t.Error("expected non-empty allocatable register set")
	}
	if pol.Megamorphic() {
		t.Error("expected default megamorphic predicate to be false")
	}
}
