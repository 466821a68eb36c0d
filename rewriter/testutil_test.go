package rewriter

import (
	"testing"

	"github.com/novalang/icrewriter/icslot"
)

// newTestRewriter 构造一个绑定到真实（可执行内存）槛位的引擎，供测试驱动
// 完整的收集/发射流程。slotSize/scratchBytes 给得比典型场景宽松，避免
// 测试本身因为槛位太小而意外触发资源耗尽路径。
func newTestRewriter(t *testing.T, numArgs int) *Rewriter {
	t.Helper()
	arena, err := icslot.NewArena(1, 512, 256)
	if err != nil {
		t.Fatalf("icslot.NewArena: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close() })

	slot := arena.PrepareEntry()
	if slot == nil {
		t.Fatal("expected a free slot")
	}

	policy := icslot.DefaultPolicyConfig().ToPolicy(nil)
	return NewRewriter(slot, policy, DefaultConfig(), nil, numArgs)
}
