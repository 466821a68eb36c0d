// errors.go - 失败分类
//
// spec §7 区分三类失败：程序员误用（assert 并终止）、资源耗尽（置位
// failed，commit 时干净地 abort）、过期优化（静默 abort）。第一类用
// panic；后两类都以 *RewriteError 的形式从 Commit 返回，用 IsStale 区分。
// 一次 commit 过程中可能累积多个资源耗尽的原因（例如既没有脚手架空间
// 也没有寄存器可溢出），用 go.uber.org/multierr 聚合成一个 error 返回，
// 而不是只报告第一个——这与 teacher 的诊断系统一次收集多条诊断信息是
// 同一思路，这里换成了成熟的 multierr 而不是手搓一个 Diagnostics 切片。
package rewriter

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// FailureKind 对应 spec §7 的三种失败
type FailureKind int

const (
	// FailureResourceExhausted: 脚手架耗尽、编码器耗尽、decref-info 无法
	// 放置、活跃输出形成环——commit 干净地 abort。引擎不维护中止次数
	// 的统计计数。
	FailureResourceExhausted FailureKind = iota
	// FailureStaleOptimization: 构建期间发现保留的对象引用已经失效，
	// 这次专门化已经没有意义——静默 abort。
	FailureStaleOptimization
)

// RewriteError 包一个分类过的失败原因
type RewriteError struct {
	Kind FailureKind
	Msg  string
}

func (e *RewriteError) Error() string { return e.Msg }

func errResourceExhausted(msg string, args ...interface{}) *RewriteError {
	return &RewriteError{Kind: FailureResourceExhausted, Msg: fmt.Sprintf(msg, args...)}
}

func errStaleOptimization(msg string) *RewriteError {
	return &RewriteError{Kind: FailureStaleOptimization, Msg: msg}
}

// fail 记录一个资源耗尽/过期优化原因并把引擎标记为 failed。可以被调用
// 多次；所有原因会在 Commit() 返回时用 multierr 聚合在一起。
func (e *Rewriter) fail(reason error) {
	e.failed = true
	e.failReasons = multierr.Append(e.failReasons, reason)
	if e.logger != nil {
		e.logger.Debug("rewrite aborted", zap.String("reason", reason.Error()))
	}
}

// IsStale 报告一次失败是否是"过期优化"类型——调用方据此决定是否要
// 记录统计信息（过期优化是预期之内的常态，不值得告警）。
func IsStale(err error) bool {
	var re *RewriteError
	if errors.As(err, &re) {
		return re.Kind == FailureStaleOptimization
	}
	return false
}
