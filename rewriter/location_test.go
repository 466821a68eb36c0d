package rewriter

import (
	"testing"

	"github.com/novalang/icrewriter/asm"
)

func TestLocationEqualityIsStructural(t *testing.T) {
	a := RegLoc(asm.RAX)
	b := RegLoc(asm.RAX)
	c := RegLoc(asm.RCX)
	if !a.Equal(b) {
		t.Error("two RegLoc(RAX) values should be equal")
	}
	if a.Equal(c) {
		t.Error("RegLoc(RAX) should not equal RegLoc(RCX)")
	}

	s1 := ScratchLoc(8)
	s2 := ScratchLoc(8)
	s3 := ScratchLoc(16)
	if !s1.Equal(s2) || s1.Equal(s3) {
		t.Error("scratch locations should compare by offset")
	}
}

func TestIsClobberedByCall(t *testing.T) {
	if RegLoc(asm.RBX).IsClobberedByCall() {
		t.Error("RBX is callee-save, should survive a call")
	}
	if !RegLoc(asm.RAX).IsClobberedByCall() {
		t.Error("RAX is caller-save, should be clobbered by a call")
	}
	if ScratchLoc(0).IsClobberedByCall() {
		t.Error("scratch memory survives calls")
	}
	if StackLoc(0).IsClobberedByCall() {
		t.Error("caller stack slots survive calls")
	}
}

func TestStackIndirectLocEquality(t *testing.T) {
	outer := ScratchLoc(8)
	a := StackIndirectLoc(outer, 4)
	b := StackIndirectLoc(outer, 4)
	c := StackIndirectLoc(outer, 12)
	if !a.Equal(b) {
		t.Error("indirect locations with the same outer+inner should be equal")
	}
	if a.Equal(c) {
		t.Error("indirect locations with different inner offsets should not be equal")
	}
}
