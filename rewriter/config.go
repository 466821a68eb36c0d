// config.go - 重写器级别的静态配置
//
// Config 持有一次重写过程中不随收集/发射阶段变化的常量：可分配/被调用者
// 保存寄存器集合、脚手架区总槛位数、常量加载器判定"大常量"的阈值。
// 与 icslot.PolicyConfig 的关系：PolicyConfig 描述的是槛位这一侧
// （外部协作方）的静态元数据；Config 是重写器自己的旋钮，两者一起
// 由 NewRewriter 的调用方组装（典型地来自同一份 .toml 文件）。
package rewriter

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/novalang/icrewriter/asm"
)

// Config 是驱动一次重写的静态参数
type Config struct {
	AllocatableRegisters []asm.Register
	CalleeSaveRegisters  []asm.Register
	ScratchBaseRegister  asm.Register
	// NumScratchSlots 可以从配置文件读入，但引擎不读取它——脚手架区的
	// 大小取自槛位的 ScratchSize()。
	NumScratchSlots int
	// LargeConstantThreshold 未被直接使用——"大"常量的唯一定义是
	// asm.Immediate.FitsInt32（design notes），这个字段只是把阈值暴露给
	// 想要离线诊断/日志的调用方。
	LargeConstantThreshold int64

	// 对象头部布局（spec §4.6，照搬 CPython 的 PyObject/PyTypeObject 约定）：
	// RefcntOffset 是引用计数字段的偏移，ClsOffset 是类型指针字段的偏移，
	// DeallocOffset 是类型对象内 tp_dealloc 函数指针字段的偏移。
	RefcntOffset  int32
	ClsOffset     int32
	DeallocOffset int32

	// InvalidationHeaderSize 是槛位开头必须保留的最小字节数，留给外部
	// 失效器用一条跳转整个覆盖掉（spec §4.8 步骤 2 "invalidation header"）。
	// 只有带副作用的调用才强制这个下限——没有副作用的专门化允许随时被
	// 跳过，不需要给失效器预留覆盖窗口。
	InvalidationHeaderSize int
}

// configFile 是 Config 的可序列化形式，字段与 icslot.PolicyConfig 呼应
type configFile struct {
	AllocatableRegisters []int `toml:"allocatable_registers"`
	CalleeSaveRegisters  []int `toml:"callee_save_registers"`
	ScratchBaseRegister  int   `toml:"scratch_base_register"`
	NumScratchSlots      int   `toml:"num_scratch_slots"`
	RefcntOffset         int32 `toml:"refcnt_offset"`
	ClsOffset            int32 `toml:"cls_offset"`
	DeallocOffset        int32 `toml:"dealloc_offset"`
}

// DefaultConfig 返回与 icslot.DefaultPolicyConfig 的 System V AMD64
// 约定一致的默认值：R15 专用作脚手架基址寄存器（不进入可分配集合，
// 与 teacher 的 jit 包把一个寄存器固定留给运行时上下文是同一手法）。
func DefaultConfig() *Config {
	return &Config{
		AllocatableRegisters: []asm.Register{asm.RAX, asm.RCX, asm.RDX, asm.RSI, asm.RDI, asm.R8, asm.R9, asm.R10, asm.R11},
		CalleeSaveRegisters:  []asm.Register{asm.RBX, asm.R12, asm.R13, asm.R14},
		ScratchBaseRegister:  asm.R15,
		NumScratchSlots:      32,
		LargeConstantThreshold: 1 << 31,
		RefcntOffset:         8,  // CPython: PyObject.ob_refcnt follows ob_base
		ClsOffset:            16, // PyObject.ob_type
		DeallocOffset:        64, // PyTypeObject.tp_dealloc (approximate, policy-overridable)
		InvalidationHeaderSize: 5,
	}
}

// LoadConfig 从 TOML 文件加载 Config，缺省字段落回 DefaultConfig 的值。
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rewriter: failed to read config: %w", err)
	}
	var cf configFile
	if err := toml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("rewriter: failed to parse config: %w", err)
	}
	cfg := DefaultConfig()
	if len(cf.AllocatableRegisters) > 0 {
		cfg.AllocatableRegisters = intsToRegisters(cf.AllocatableRegisters)
	}
	if len(cf.CalleeSaveRegisters) > 0 {
		cfg.CalleeSaveRegisters = intsToRegisters(cf.CalleeSaveRegisters)
	}
	if cf.ScratchBaseRegister != 0 {
		cfg.ScratchBaseRegister = asm.Register(cf.ScratchBaseRegister)
	}
	if cf.NumScratchSlots > 0 {
		cfg.NumScratchSlots = cf.NumScratchSlots
	}
	if cf.RefcntOffset != 0 {
		cfg.RefcntOffset = cf.RefcntOffset
	}
	if cf.ClsOffset != 0 {
		cfg.ClsOffset = cf.ClsOffset
	}
	if cf.DeallocOffset != 0 {
		cfg.DeallocOffset = cf.DeallocOffset
	}
	return cfg, nil
}

func intsToRegisters(ints []int) []asm.Register {
	out := make([]asm.Register, len(ints))
	for i, v := range ints {
		out[i] = asm.Register(v)
	}
	return out
}
