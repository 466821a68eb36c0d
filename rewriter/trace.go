// trace.go - 把内部状态拍成一份调试/测试用的快照
//
// Trace 只读取 commit/abort 之后已经定案的状态，不会在收集/发射阶段
// 中途调用（动作队列此时已经跑完，vars 的 uses/consumedRefs 都不会再变）。
package rewriter

import (
	"encoding/hex"
	"errors"

	"github.com/novalang/icrewriter/icslot"
	"github.com/novalang/icrewriter/rewriter/trace"
)

// Trace 把这次重写的动作队列、decref-info 表和生成的代码拍成一份可以
// JSON 编码的快照（spec §6 "trace dump" 用法，供 cmd/icdump 和测试使用）。
// commitErr 传入 Commit()/CommitReturning() 的返回值，用来区分"干净提交"
// 和"资源耗尽/过期优化中止"。
func (e *Rewriter) Trace(commitErr error) *trace.Trace {
	t := &trace.Trace{
		NumVars:   len(e.vars),
		Committed: e.phase == phaseDone && commitErr == nil,
		Aborted:   commitErr != nil,
		CodeLen:   e.asmBuf.BytesWritten(),
	}

	for idx, act := range e.actions {
		at := trace.ActionTrace{Index: idx, Category: categoryName(act.category)}
		for _, v := range act.deps {
			at.Deps = append(at.Deps, v.id)
		}
		for _, v := range act.consumedRefs {
			at.ConsumedRefs = append(at.ConsumedRefs, v.id)
		}
		t.Actions = append(t.Actions, at)
	}

	for _, di := range e.decrefInfos {
		dit := trace.DecrefInfoTrace{IP: di.IP}
		for _, loc := range di.Locations {
			dit.Locations = append(dit.Locations, trace.DecrefLocationTrace{
				Kind:  decrefKindName(loc.Kind),
				Value: loc.Value,
				Inner: loc.Inner,
			})
		}
		t.DecrefInfos = append(t.DecrefInfos, dit)
	}

	if commitErr != nil {
		var re *RewriteError
		if errors.As(commitErr, &re) {
			t.FailKind = failureKindName(re.Kind)
		}
		t.FailMsg = commitErr.Error()
	} else {
		t.CodeHex = hex.EncodeToString(e.asmBuf.Code())
	}

	return t
}

func categoryName(c ActionCategory) string {
	switch c {
	case ActionGuard:
		return "guard"
	case ActionMutation:
		return "mutation"
	default:
		return "normal"
	}
}

func decrefKindName(k icslot.DecrefLocationKind) string {
	switch k {
	case icslot.LocStack:
		return "stack"
	case icslot.LocCalleeSaveRegister:
		return "callee_save_register"
	case icslot.LocIndirect:
		return "indirect"
	default:
		return "unknown"
	}
}

func failureKindName(k FailureKind) string {
	if k == FailureStaleOptimization {
		return "stale_optimization"
	}
	return "resource_exhausted"
}
