// config.go - 槛位策略的 TOML 配置
//
// 每个 IC 站点的静态元数据（可分配寄存器集合、返回寄存器、存活输出、
// 超多态判定）通常由调用方（IC 插入点）在编译期决定，但为了方便离线
// 调试和测试场景复现，本包允许从一个 .toml 文件加载一份 PolicyConfig
// 并转换成 Policy——与 teacher 的 internal/pkg.PackageConfig 加载
// sola.toml 是同一套路。
package icslot

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// PolicyConfig 是 Policy 的可序列化形式
type PolicyConfig struct {
	AllocatableRegisters []int         `toml:"allocatable_registers"`
	CalleeSaveRegisters  []int         `toml:"callee_save_registers"`
	ReturnRegister       int           `toml:"return_register"`
	LiveOut              map[string]int `toml:"live_out"` // 值编号的字符串形式 -> 寄存器（asm.Register 机器编码）
}

// LoadPolicyConfig 从 TOML 文件加载策略配置
func LoadPolicyConfig(path string) (*PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("icslot: failed to read policy config: %w", err)
	}
	var cfg PolicyConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("icslot: failed to parse policy config: %w", err)
	}
	return &cfg, nil
}

// ToPolicy 把配置转换为运行期 Policy；megamorphic 判定函数由调用方注入，
// 因为它通常依赖运行时调用点统计，不是静态配置。
func (c *PolicyConfig) ToPolicy(megamorphic func() bool) *Policy {
	liveOut := make(map[int]int, len(c.LiveOut))
	for k, v := range c.LiveOut {
		var valueID int
		fmt.Sscanf(k, "%d", &valueID)
		liveOut[valueID] = v
	}
	if megamorphic == nil {
		megamorphic = func() bool { return false }
	}
	return &Policy{
		AllocatableRegisters: c.AllocatableRegisters,
		CalleeSaveRegisters:  c.CalleeSaveRegisters,
		ReturnRegister:       c.ReturnRegister,
		LiveOut:              liveOut,
		Megamorphic:          megamorphic,
	}
}

// DefaultPolicyConfig 返回 System V AMD64 下的默认策略：可分配寄存器为
// teacher 的 std_allocatable_regs 对应集合（排除 RSP/RBP 与被调用者
// 保存寄存器），返回寄存器为 RAX。
func DefaultPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		AllocatableRegisters: []int{0, 1, 2, 6, 7, 8, 9, 10, 11}, // RAX,RCX,RDX,RSI,RDI,R8-R11
		CalleeSaveRegisters:  []int{3, 12, 13, 14, 15},           // RBX,R12-R15
		ReturnRegister:       0,                                  // RAX
		LiveOut:              map[string]int{},
	}
}
