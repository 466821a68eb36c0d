// arena.go - 可执行内存管理
//
// 本文件提供跨平台的可执行内存分配接口，是重写器的"IC 槽位协作方"
// （spec §6: "The patchpoint / IC-slot infrastructure... external
// collaborators"）的内存后端。重写器本身从不直接 mmap；它只向
// Arena 要一段槛位字节范围来写入机器码。
//
// 安全注意事项：
// - 分配的页面同时具有读、写、执行权限（RWX），生产环境通常想要
//   W^X，但该策略属于槛位基础设施，不是本包的职责范围。
package icslot

import (
	"fmt"

	"go.uber.org/zap"
)

// Arena 管理一段可执行内存，按固定大小的槛位切分。
type Arena struct {
	mem        []byte
	slotSize   int
	numSlots   int
	free       []bool
	scratchOff int // 每个槛位内，脚手架区相对槛位起始的偏移
	scratchLen int // 脚手架区大小（字节）
	logger     *zap.Logger
}

// NewArena 分配 numSlots 个大小为 slotSize 字节的槛位，每个槛位预留
// scratchLen 字节的脚手架区（scratch area，紧跟在 slotSize 之后）。默认
// 使用一个空操作的 logger——调用 SetLogger 换成真正的 logger 才会看到
// 槛位生命周期的诊断输出（与 rewriter.NewRewriter 的可选 logger 是同一
// 约定）。
func NewArena(numSlots, slotSize, scratchLen int) (*Arena, error) {
	if numSlots <= 0 || slotSize <= 0 {
		return nil, fmt.Errorf("icslot: invalid arena dimensions (slots=%d, slotSize=%d)", numSlots, slotSize)
	}
	perSlot := slotSize + scratchLen
	mem, err := allocExecutable(perSlot * numSlots)
	if err != nil {
		return nil, fmt.Errorf("icslot: failed to allocate executable memory: %w", err)
	}
	free := make([]bool, numSlots)
	for i := range free {
		free[i] = true
	}
	return &Arena{
		mem:        mem,
		slotSize:   slotSize + scratchLen,
		numSlots:   numSlots,
		free:       free,
		scratchOff: slotSize,
		scratchLen: scratchLen,
		logger:     zap.NewNop(),
	}, nil
}

// SetLogger 替换这个 arena（以及它分发出去的所有槛位）用来记录生命周期
// 事件的 logger。nil 会被当成空操作 logger 处理。
func (ar *Arena) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ar.logger = logger
}

// Close 释放 arena 占用的所有可执行内存。在任何槛位仍处于"已提交且未废弃"
// 状态时调用是调用方的编程错误——Arena 不做引用计数。
func (ar *Arena) Close() error {
	if len(ar.mem) == 0 {
		return nil
	}
	err := freeExecutable(ar.mem)
	ar.mem = nil
	return err
}

// PrepareEntry 分配一个空闲槛位并返回其句柄，没有空闲槛位时返回 nil
// （spec §6: "A prepare_entry() that allocates the concrete slot or
// returns null."）。
func (ar *Arena) PrepareEntry() *Slot {
	for i, f := range ar.free {
		if f {
			ar.free[i] = false
			base := i * ar.slotSize
			ar.logger.Debug("ic slot prepared", zap.Int("slot", i), zap.Int("freeAfter", ar.NumFree()))
			return &Slot{
				arena:        ar,
				index:        i,
				code:         ar.mem[base : base+ar.scratchOff : base+ar.scratchOff],
				scratch:      ar.mem[base+ar.scratchOff : base+ar.slotSize : base+ar.slotSize],
				scratchBytes: ar.scratchLen,
			}
		}
	}
	ar.logger.Warn("ic arena exhausted, no free slot to prepare", zap.Int("numSlots", ar.numSlots))
	return nil
}

// abandon 把槛位标记回空闲——仅由 Slot.Abort 调用
func (ar *Arena) abandon(index int) {
	ar.free[index] = true
	ar.logger.Debug("ic slot abandoned", zap.Int("slot", index))
}

// NumFree 返回当前空闲槛位数量，供诊断/测试使用
func (ar *Arena) NumFree() int {
	n := 0
	for _, f := range ar.free {
		if f {
			n++
		}
	}
	return n
}
