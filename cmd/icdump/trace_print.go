// trace_print.go - 人类可读地打印一份 trace 快照
package main

import (
	"fmt"
	"strings"

	"github.com/novalang/icrewriter/rewriter/trace"
)

func prettyPrintTrace(data []byte) (string, error) {
	tr, err := trace.Decode(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "变量数: %d\n", tr.NumVars)
	if tr.Aborted {
		fmt.Fprintf(&b, "状态: 中止 (%s)\n原因: %s\n", tr.FailKind, tr.FailMsg)
	} else {
		fmt.Fprintf(&b, "状态: 已提交\n代码长度: %d 字节\n", tr.CodeLen)
	}

	fmt.Fprintf(&b, "\n动作 (%d):\n", len(tr.Actions))
	for _, a := range tr.Actions {
		fmt.Fprintf(&b, "  #%d [%s] deps=%v", a.Index, a.Category, a.Deps)
		if len(a.ConsumedRefs) > 0 {
			fmt.Fprintf(&b, " consumed=%v", a.ConsumedRefs)
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "\ndecref-info (%d):\n", len(tr.DecrefInfos))
	for _, di := range tr.DecrefInfos {
		fmt.Fprintf(&b, "  ip=%d:\n", di.IP)
		for _, loc := range di.Locations {
			fmt.Fprintf(&b, "    %s value=%d", loc.Kind, loc.Value)
			if loc.Kind == "indirect" {
				fmt.Fprintf(&b, " inner=%d", loc.Inner)
			}
			b.WriteByte('\n')
		}
	}

	return b.String(), nil
}
