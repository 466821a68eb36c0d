package rewriter

import "testing"

func TestGetOrCreateReturnsSameVarForSameValue(t *testing.T) {
	e := newTestRewriter(t, 0)
	a := e.constLoader.getOrCreate(e, 42)
	b := e.constLoader.getOrCreate(e, 42)
	if a != b {
		t.Fatal("requesting the same constant twice must return the same Var")
	}
	c := e.constLoader.getOrCreate(e, 43)
	if c == a {
		t.Fatal("a different value must get a distinct Var")
	}
	if !a.isConstant || a.constantValue != 42 {
		t.Error("the returned var must be marked constant with the requested value")
	}
}

func TestLoadConstIntoRegZeroUsesXorClear(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	before := e.asmBuf.BytesWritten()
	e.constLoader.loadConstIntoReg(e, 0, e.config.AllocatableRegisters[0])
	if e.asmBuf.BytesWritten() == before {
		t.Fatal("expected loadConstIntoReg(0, ...) to emit the zero-idiom xor-clear")
	}
}

func TestLoadConstIntoRegReusesRegResidentConstant(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	v := e.constLoader.getOrCreate(e, 999)
	srcReg := e.config.AllocatableRegisters[0]
	v.addLocation(RegLoc(srcReg))
	e.varsByLocation[RegLoc(srcReg)] = v

	dstReg := e.config.AllocatableRegisters[1]
	before := e.asmBuf.BytesWritten()
	e.constLoader.loadConstIntoReg(e, 999, dstReg)
	// 不解码机器码，只按写入的字节数区分路径：reg-reg mov 是 3 字节，
	// 满尺寸立即数加载是 10 字节。
	if got := e.asmBuf.BytesWritten() - before; got != 3 {
		t.Fatalf("expected a 3-byte reg-reg mov from the resident copy, wrote %d bytes", got)
	}
}

func TestTryLeaSkipsSmallConstants(t *testing.T) {
	e := newTestRewriter(t, 0)
	if e.constLoader.tryLea(e, 5, e.config.AllocatableRegisters[0]) {
		t.Error("a value that fits in int32 is not \"large\" and must not use the lea path")
	}
}

func TestTryLeaFindsNearbyLiveConstant(t *testing.T) {
	e := newTestRewriter(t, 0)
	e.phase = phaseEmitting

	base := int64(1) << 40
	baseVar := e.constLoader.getOrCreate(e, base)
	reg := e.config.AllocatableRegisters[0]
	baseVar.addLocation(RegLoc(reg))
	e.varsByLocation[RegLoc(reg)] = baseVar

	target := base + 100
	ok := e.constLoader.tryLea(e, target, e.config.AllocatableRegisters[1])
	if !ok {
		t.Fatal("expected tryLea to find the nearby live constant and emit a lea")
	}
}
