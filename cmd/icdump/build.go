// build.go - 把一份场景描述翻译成对重写引擎的一连串调用
//
// 场景文件里的字符串引用（"arg:N" / "var:name"）在这里解析成具体的
// *rewriter.Var，按文件里出现的顺序排队：guards 在前（spec §4.7
// "Guards are always the first actions"的前提下，场景文件本身就要求
// 作者把 guards 段放在最前面），随后是 get_attrs、calls、set_attrs，
// 最后可选地指定一个返回变量。
package main

import (
	"fmt"
	"strings"

	"github.com/novalang/icrewriter/rewriter"
)

type buildResult struct {
	vars      map[string]*rewriter.Var
	returnSet *rewriter.Var
}

func widthOf(s string) rewriter.MovType {
	switch strings.ToLower(s) {
	case "b":
		return rewriter.MovB
	case "w":
		return rewriter.MovW
	case "l":
		return rewriter.MovL
	default:
		return rewriter.MovQ
	}
}

func buildScenario(e *rewriter.Rewriter, sc *ScenarioConfig) (*buildResult, error) {
	res := &buildResult{vars: make(map[string]*rewriter.Var)}

	args := e.Args()
	resolve := func(ref string) (*rewriter.Var, error) {
		switch {
		case strings.HasPrefix(ref, "arg:"):
			var idx int
			if _, err := fmt.Sscanf(strings.TrimPrefix(ref, "arg:"), "%d", &idx); err != nil {
				return nil, fmt.Errorf("icdump: bad arg reference %q: %w", ref, err)
			}
			if idx < 0 || idx >= len(args) {
				return nil, fmt.Errorf("icdump: arg index %d out of range (num_args=%d)", idx, len(args))
			}
			return args[idx], nil
		case strings.HasPrefix(ref, "var:"):
			name := strings.TrimPrefix(ref, "var:")
			v, ok := res.vars[name]
			if !ok {
				return nil, fmt.Errorf("icdump: undefined var reference %q", ref)
			}
			return v, nil
		default:
			return nil, fmt.Errorf("icdump: reference %q must be prefixed arg: or var:", ref)
		}
	}

	for _, g := range sc.Guards {
		if g.ArgIndex < 0 || g.ArgIndex >= len(args) {
			return nil, fmt.Errorf("icdump: guard arg_index %d out of range", g.ArgIndex)
		}
		v := args[g.ArgIndex]
		switch g.Kind {
		case "attr":
			e.AddAttrGuard(v, g.Offset, g.Value, g.Negate)
		default:
			if g.Negate {
				e.AddGuardNotEq(v, g.Value)
			} else {
				e.AddGuard(v, g.Value)
			}
		}
	}

	for _, ga := range sc.GetAttrs {
		if ga.ArgIndex < 0 || ga.ArgIndex >= len(args) {
			return nil, fmt.Errorf("icdump: get_attr arg_index %d out of range", ga.ArgIndex)
		}
		result := e.GetAttr(args[ga.ArgIndex], ga.Offset, widthOf(ga.Width))
		res.vars[ga.Name] = result
	}

	for _, c := range sc.Calls {
		callArgs := make([]*rewriter.Var, 0, len(c.Args))
		for _, ref := range c.Args {
			v, err := resolve(ref)
			if err != nil {
				return nil, err
			}
			callArgs = append(callArgs, v)
		}
		result := e.Call(c.HasSideEffects, c.FnAddr, callArgs, nil, nil)
		if c.Name != "" {
			res.vars[c.Name] = result
		}
	}

	for _, sa := range sc.SetAttrs {
		obj, err := resolve(sa.Obj)
		if err != nil {
			return nil, err
		}
		val, err := resolve(sa.Val)
		if err != nil {
			return nil, err
		}
		e.SetAttr(obj, val, sa.Offset, widthOf(sa.Width))
	}

	if sc.Return != "" {
		v, err := resolve(sc.Return)
		if err != nil {
			return nil, err
		}
		res.returnSet = v
	}

	return res, nil
}
