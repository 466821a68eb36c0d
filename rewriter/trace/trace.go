// trace.go - 重写结果的可序列化快照
//
// Trace 不参与重写本身，只是把一次 commit/abort 之后还留在引擎里的状态
// （跑过的动作、decref-info 表、生成的字节、失败原因）拍成一份可以存盘
// 或者在测试里断言的结构。用 segmentio/encoding/json 而不是标准库的
// encoding/json 编码——与 teacher 在其 native_json.go 里为同样的理由
// （drop-in 更快的编码器）引入这个包是同一手法。
package trace

import (
	"fmt"

	"github.com/segmentio/encoding/json"
)

// ActionTrace 记录一个动作在收集阶段被记下来的静态信息——deps/consumed
// 引用的变量编号，而不是重新编码它具体做了什么（那是 run 闭包的事，
// 闭包本身不可序列化）。
type ActionTrace struct {
	Index        int    `json:"index"`
	Category     string `json:"category"`
	Deps         []int  `json:"deps"`
	ConsumedRefs []int  `json:"consumed_refs,omitempty"`
}

// DecrefLocationTrace 是 icslot.DecrefLocation 的可序列化镜像
type DecrefLocationTrace struct {
	Kind  string `json:"kind"`
	Value int    `json:"value"`
	Inner int    `json:"inner,omitempty"`
}

// DecrefInfoTrace 是 icslot.DecrefInfo 的可序列化镜像
type DecrefInfoTrace struct {
	IP        int                   `json:"ip"`
	Locations []DecrefLocationTrace `json:"locations"`
}

// Trace 是一次重写从收集到 commit/abort 的完整快照
type Trace struct {
	Actions     []ActionTrace     `json:"actions"`
	DecrefInfos []DecrefInfoTrace `json:"decref_infos"`
	NumVars     int               `json:"num_vars"`

	Committed bool   `json:"committed"`
	Aborted   bool   `json:"aborted"`
	CodeLen   int    `json:"code_len"`
	CodeHex   string `json:"code_hex,omitempty"`
	FailKind  string `json:"fail_kind,omitempty"`
	FailMsg   string `json:"fail_msg,omitempty"`
}

// Encode 把 Trace 编码为缩进的 JSON
func (t *Trace) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("trace: failed to encode: %w", err)
	}
	return data, nil
}

// Decode 从 JSON 还原一个 Trace（icdump trace 子命令用它读取已保存的快照）
func Decode(data []byte) (*Trace, error) {
	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("trace: failed to decode: %w", err)
	}
	return &t, nil
}
