// scenario.go - 从 TOML 文件描述一次重写场景
//
// 动作闭包本身没法序列化，所以场景文件只描述一组受限的、按固定顺序
// 排队的操作（guard/attr-guard/get-attr/call/set-attr），按 teacher 的
// sola.toml / 性能分析配置同样用 go-toml/v2 加载的方式来读（见
// internal/pkg 的 PackageConfig 加载方式，这里是同一套路换了一份 schema）。
package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/novalang/icrewriter/icslot"
)

// ScenarioConfig 是 icdump run 子命令读取的顶层场景描述
type ScenarioConfig struct {
	NumArgs int `toml:"num_args"`

	Policy icslot.PolicyConfig `toml:"policy"`

	Guards []struct {
		ArgIndex int    `toml:"arg_index"`
		Value    int64  `toml:"value"`
		Negate   bool   `toml:"negate"`
		Kind     string `toml:"kind"` // "eq" (default), "attr"
		Offset   int32  `toml:"offset"`
	} `toml:"guards"`

	GetAttrs []struct {
		Name     string `toml:"name"`
		ArgIndex int    `toml:"arg_index"`
		Offset   int32  `toml:"offset"`
		Width    string `toml:"width"` // b,w,l,q
	} `toml:"get_attrs"`

	Calls []struct {
		Name           string   `toml:"name"`
		FnAddr         int64    `toml:"fn_addr"`
		HasSideEffects bool     `toml:"has_side_effects"`
		Args           []string `toml:"args"` // names of arg_index or get_attr results, prefixed "arg:"/"var:"
	} `toml:"calls"`

	SetAttrs []struct {
		Obj    string `toml:"obj"`
		Val    string `toml:"val"`
		Offset int32  `toml:"offset"`
		Width  string `toml:"width"`
	} `toml:"set_attrs"`

	Return string `toml:"return"` // name of a var to return, "" for void
}

func loadScenario(path string) (*ScenarioConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("icdump: failed to read scenario: %w", err)
	}
	var sc ScenarioConfig
	if err := toml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("icdump: failed to parse scenario: %w", err)
	}
	return &sc, nil
}
