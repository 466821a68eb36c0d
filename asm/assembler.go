// assembler.go - x86-64 指令编码器
//
// 本文件实现了重写器所消费的底层指令编码器（spec §6 的"External Interfaces"
// 中列出的指令集）。它只管把操作数编码成字节，不做寄存器分配、不做活跃区间
// 分析——那些都是 rewriter 包的职责。这个包本身始终是"哑"的：给定操作数，
// 总是编码出确定的字节序列。
//
// x86-64 指令编码格式：
// [前缀] [REX] [操作码] [ModR/M] [SIB] [位移] [立即数]
package asm

import "encoding/binary"

// Assembler 按顺序把指令编码进一段字节缓冲区。缓冲区的容量在构造时固定
// （对应一个 IC 槽位的可写字节数），写满后 has_failed 变为 true 而不是
// 扩容——重写器据此判断槽位资源耗尽，发起 abort。
type Assembler struct {
	buf    []byte
	cap    int
	failed bool

	comments []comment // 仅用于调试打印，不影响编码
}

type comment struct {
	offset int
	text   string
}

// NewAssembler 创建一个编码器，缓冲区最多写入 capacity 字节
func NewAssembler(capacity int) *Assembler {
	return &Assembler{buf: make([]byte, 0, capacity), cap: capacity}
}

// BytesWritten 返回已写入的字节数（spec: bytes_written()）
func (a *Assembler) BytesWritten() int { return len(a.buf) }

// HasFailed 报告编码器是否已经耗尽缓冲区容量（spec: has_failed()）
func (a *Assembler) HasFailed() bool { return a.failed }

// Code 返回已编码的字节切片
func (a *Assembler) Code() []byte { return a.buf }

// Remaining 返回缓冲区剩余可写字节数
func (a *Assembler) Remaining() int { return a.cap - len(a.buf) }

// Comment 记录一条不影响编码的调试注释，绑定到当前偏移（spec: comment()）
func (a *Assembler) Comment(text string) {
	a.comments = append(a.comments, comment{offset: len(a.buf), text: text})
}

// Comments 返回记录的注释，按偏移升序
func (a *Assembler) Comments() []string {
	out := make([]string, len(a.comments))
	for i, c := range a.comments {
		out[i] = c.text
	}
	return out
}

func (a *Assembler) emit(bytes ...byte) {
	if a.failed {
		return
	}
	if len(a.buf)+len(bytes) > a.cap {
		a.failed = true
		return
	}
	a.buf = append(a.buf, bytes...)
}

func (a *Assembler) emitU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.emit(b[:]...)
}

func (a *Assembler) emitU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.emit(b[:]...)
}

func rex(w, r, x, b bool) byte {
	v := byte(0x40)
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 0x7) << 3) | (rm & 0x7)
}

// emitMemOperand 编码 ModR/M(+SIB)(+disp) 形式的内存操作数 [base+offset]，
// reg 是 ModR/M.reg 字段（寄存器操作数，或某些指令的操作码扩展）。
func (a *Assembler) emitMemOperand(reg byte, base Register, offset int32) {
	baseCode := base.LowBits()
	needSIB := base == RSP || base == R12

	switch {
	case offset == 0 && base != RBP && base != R13:
		if needSIB {
			a.emit(modrm(0, reg, 4), 0x24)
		} else {
			a.emit(modrm(0, reg, baseCode))
		}
	case offset >= -128 && offset <= 127:
		if needSIB {
			a.emit(modrm(1, reg, 4), 0x24)
		} else {
			a.emit(modrm(1, reg, baseCode))
		}
		a.emit(byte(offset))
	default:
		if needSIB {
			a.emit(modrm(2, reg, 4), 0x24)
		} else {
			a.emit(modrm(2, reg, baseCode))
		}
		a.emitU32(uint32(offset))
	}
}

// ----------------------------------------------------------------------------
// 数据移动
// ----------------------------------------------------------------------------

// MovRegReg mov dst, src (64 位)
func (a *Assembler) MovRegReg(dst, src Register) {
	a.emit(rex(true, src.IsExtended(), false, dst.IsExtended()))
	a.emit(0x89)
	a.emit(modrm(3, src.LowBits(), dst.LowBits()))
}

// MovRegImm64 mov reg, imm64 — 全尺寸 10 字节立即数加载，是 ConstLoader
// 的最后手段（spec §4.4 步骤 4）。10 个字节一次写出：容量不足时一个
// 字节也不写。
func (a *Assembler) MovRegImm64(reg Register, imm uint64) {
	var b [10]byte
	b[0] = rex(true, false, false, reg.IsExtended())
	b[1] = 0xB8 + reg.LowBits()
	binary.LittleEndian.PutUint64(b[2:], imm)
	a.emit(b[:]...)
}

// MovRegImm32 mov reg, imm32（符号扩展到 64 位）
func (a *Assembler) MovRegImm32(reg Register, imm int32) {
	a.emit(rex(true, false, false, reg.IsExtended()))
	a.emit(0xC7)
	a.emit(modrm(3, 0, reg.LowBits()))
	a.emitU32(uint32(imm))
}

// MovRegMem mov dst, [mem]，宽度由 t 决定
func (a *Assembler) MovRegMem(dst Register, mem Indirect, t MovType) {
	switch t {
	case MovB:
		a.emit(rex(false, dst.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x8A)
	case MovW:
		a.emit(0x66)
		a.emit(rex(false, dst.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x8B)
	case MovL:
		a.emit(rex(false, dst.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x8B)
	default: // MovQ
		a.emit(rex(true, dst.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x8B)
	}
	a.emitMemOperand(dst.LowBits(), mem.Base, mem.Offset)
}

// MovMemReg mov [mem], src，宽度由 t 决定
func (a *Assembler) MovMemReg(mem Indirect, src Register, t MovType) {
	switch t {
	case MovB:
		a.emit(rex(false, src.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x88)
	case MovW:
		a.emit(0x66)
		a.emit(rex(false, src.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x89)
	case MovL:
		a.emit(rex(false, src.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x89)
	default: // MovQ
		a.emit(rex(true, src.IsExtended(), false, mem.Base.IsExtended()))
		a.emit(0x89)
	}
	a.emitMemOperand(src.LowBits(), mem.Base, mem.Offset)
}

// Lea lea dst, [mem]
func (a *Assembler) Lea(dst Register, mem Indirect) {
	a.emit(rex(true, dst.IsExtended(), false, mem.Base.IsExtended()))
	a.emit(0x8D)
	a.emitMemOperand(dst.LowBits(), mem.Base, mem.Offset)
}

// XorClear xor reg, reg — ConstLoader 的零值惯用法（spec §4.4 步骤 1）
func (a *Assembler) XorClear(reg Register) {
	a.emit(rex(true, reg.IsExtended(), false, reg.IsExtended()))
	a.emit(0x31)
	a.emit(modrm(3, reg.LowBits(), reg.LowBits()))
}

// MovsdRegReg movsd dst, src（双精度浮点搬运）
func (a *Assembler) MovsdRegReg(dst, src XMMRegister) {
	a.emit(0xF2)
	a.emit(rex(false, dst.IsExtended(), false, src.IsExtended()))
	a.emit(0x0F, 0x10)
	a.emit(modrm(3, dst.LowBits(), src.LowBits()))
}

// MovsdMemReg movsd [mem], src
func (a *Assembler) MovsdMemReg(mem Indirect, src XMMRegister) {
	a.emit(0xF2)
	a.emit(rex(false, src.IsExtended(), false, mem.Base.IsExtended()))
	a.emit(0x0F, 0x11)
	a.emitMemOperand(src.LowBits(), mem.Base, mem.Offset)
}

// MovsdRegMem movsd dst, [mem]
func (a *Assembler) MovsdRegMem(dst XMMRegister, mem Indirect) {
	a.emit(0xF2)
	a.emit(rex(false, dst.IsExtended(), false, mem.Base.IsExtended()))
	a.emit(0x0F, 0x10)
	a.emitMemOperand(dst.LowBits(), mem.Base, mem.Offset)
}

// MovssRegMem movss dst, [mem]（单精度浮点加载）
func (a *Assembler) MovssRegMem(dst XMMRegister, mem Indirect) {
	a.emit(0xF3)
	a.emit(rex(false, dst.IsExtended(), false, mem.Base.IsExtended()))
	a.emit(0x0F, 0x10)
	a.emitMemOperand(dst.LowBits(), mem.Base, mem.Offset)
}

// Cvtss2sd cvtss2sd dst, src（单精度转双精度）
func (a *Assembler) Cvtss2sd(dst, src XMMRegister) {
	a.emit(0xF3)
	a.emit(rex(false, dst.IsExtended(), false, src.IsExtended()))
	a.emit(0x0F, 0x5A)
	a.emit(modrm(3, dst.LowBits(), src.LowBits()))
}

// ----------------------------------------------------------------------------
// 算术 / 比较
// ----------------------------------------------------------------------------

// AddRegImm32 add reg, imm32
func (a *Assembler) AddRegImm32(reg Register, imm int32) {
	a.emit(rex(true, false, false, reg.IsExtended()))
	if imm >= -128 && imm <= 127 {
		a.emit(0x83)
		a.emit(modrm(3, 0, reg.LowBits()))
		a.emit(byte(imm))
	} else {
		a.emit(0x81)
		a.emit(modrm(3, 0, reg.LowBits()))
		a.emitU32(uint32(imm))
	}
}

// IncMem inc [mem] — ConstLoader-side refcount fast path for constant
// pointers (spec §4.5 _incref 对常量指针的直接内存自增)
func (a *Assembler) IncMem(mem Indirect, t MovType) {
	switch t {
	case MovQ:
		a.emit(rex(true, false, false, mem.Base.IsExtended()))
	default:
		a.emit(rex(false, false, false, mem.Base.IsExtended()))
	}
	a.emit(0xFF)
	a.emitMemOperand(0, mem.Base, mem.Offset)
}

// DecMem dec [mem]
func (a *Assembler) DecMem(mem Indirect, t MovType) {
	switch t {
	case MovQ:
		a.emit(rex(true, false, false, mem.Base.IsExtended()))
	default:
		a.emit(rex(false, false, false, mem.Base.IsExtended()))
	}
	a.emit(0xFF)
	a.emitMemOperand(1, mem.Base, mem.Offset)
}

// CmpRegImm32 cmp reg, imm32
func (a *Assembler) CmpRegImm32(reg Register, imm int32) {
	a.emit(rex(true, false, false, reg.IsExtended()))
	if imm >= -128 && imm <= 127 {
		a.emit(0x83)
		a.emit(modrm(3, 7, reg.LowBits()))
		a.emit(byte(imm))
	} else {
		a.emit(0x81)
		a.emit(modrm(3, 7, reg.LowBits()))
		a.emitU32(uint32(imm))
	}
}

// CmpRegReg cmp left, right
func (a *Assembler) CmpRegReg(left, right Register) {
	a.emit(rex(true, right.IsExtended(), false, left.IsExtended()))
	a.emit(0x39)
	a.emit(modrm(3, right.LowBits(), left.LowBits()))
}

// CmpMemImm32 cmp [mem], imm32 — 用于属性守卫（attr guard）直接比较内存
func (a *Assembler) CmpMemImm32(mem Indirect, imm int32, t MovType) {
	if t == MovQ {
		a.emit(rex(true, false, false, mem.Base.IsExtended()))
	} else {
		a.emit(rex(false, false, false, mem.Base.IsExtended()))
	}
	if imm >= -128 && imm <= 127 {
		a.emit(0x83)
		a.emitMemOperand(7, mem.Base, mem.Offset)
		a.emit(byte(imm))
	} else {
		a.emit(0x81)
		a.emitMemOperand(7, mem.Base, mem.Offset)
		a.emitU32(uint32(imm))
	}
}

// TestRegReg test reg1, reg2
func (a *Assembler) TestRegReg(reg1, reg2 Register) {
	a.emit(rex(true, reg2.IsExtended(), false, reg1.IsExtended()))
	a.emit(0x85)
	a.emit(modrm(3, reg2.LowBits(), reg1.LowBits()))
}

// setcc 家族：条件设置到寄存器的低字节
func (a *Assembler) setcc(opcode byte, reg Register) {
	if reg.IsExtended() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0x0F, opcode)
	a.emit(modrm(3, 0, reg.LowBits()))
}

// SetE sete reg
func (a *Assembler) SetE(reg Register) { a.setcc(0x94, reg) }

// SetNE setne reg
func (a *Assembler) SetNE(reg Register) { a.setcc(0x95, reg) }

// SetNZ setnz reg（与 setne 同编码，按位测试语境单独命名，见 spec §6）
func (a *Assembler) SetNZ(reg Register) { a.setcc(0x95, reg) }

// ----------------------------------------------------------------------------
// 控制流
// ----------------------------------------------------------------------------

// Nop 写入 n 字节的 nop 填充
func (a *Assembler) Nop(n int) {
	for n > 0 {
		chunk := n
		if chunk > 9 {
			chunk = 9
		}
		a.emit(nopSequences[chunk]...)
		n -= chunk
	}
}

// FillWithNops 用 nop 填满缓冲区剩余容量（spec: fill_with_nops()）
func (a *Assembler) FillWithNops() {
	if a.failed {
		return
	}
	a.Nop(a.cap - len(a.buf))
}

// nopSequences[n] 是长度为 n 的单条多字节 nop 编码（n: 1..9）
var nopSequences = [10][]byte{
	{},
	{0x90},
	{0x66, 0x90},
	{0x0F, 0x1F, 0x00},
	{0x0F, 0x1F, 0x40, 0x00},
	{0x0F, 0x1F, 0x44, 0x00, 0x00},
	{0x66, 0x0F, 0x1F, 0x44, 0x00, 0x00},
	{0x0F, 0x1F, 0x80, 0x00, 0x00, 0x00, 0x00},
	{0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
	{0x66, 0x0F, 0x1F, 0x84, 0x00, 0x00, 0x00, 0x00, 0x00},
}

// Jmp 写入一条 32 位相对无条件跳转，指向 dest；返回该跳转立即数字段的
// 缓冲区偏移，供调用者（guard/trampoline 管理器）稍后通过 PatchRel32 回填。
func (a *Assembler) Jmp(dest JumpDestination) int {
	a.emit(0xE9)
	off := len(a.buf)
	a.emitRelPlaceholder(dest)
	return off
}

// Jcc 写入一条 32 位相对条件跳转
func (a *Assembler) Jcc(cc CondCode, dest JumpDestination) int {
	op := jccOpcode(cc)
	a.emit(0x0F, op)
	off := len(a.buf)
	a.emitRelPlaceholder(dest)
	return off
}

// JccShort 写入一条 8 位相对条件跳转（trampoline 复用的短编码，spec §4.7）。
// 调用者必须已确认 dest 落在 ±128 字节窗口内。
func (a *Assembler) JccShort(cc CondCode, dest JumpDestination) int {
	op := jccShortOpcode(cc)
	a.emit(op)
	off := len(a.buf)
	a.emit(0) // 占位，由 PatchRel8 回填
	return off
}

func (a *Assembler) emitRelPlaceholder(dest JumpDestination) {
	if !dest.IsSlotEnd {
		rel := int32(dest.Offset - (len(a.buf) + 4))
		a.emitU32(uint32(rel))
		return
	}
	a.emitU32(0) // 占位，slot-end 在 commit 时回填
}

func jccOpcode(cc CondCode) byte {
	switch cc {
	case CondE:
		return 0x84
	case CondNE, CondNZ:
		return 0x85
	case CondL:
		return 0x8C
	case CondLE:
		return 0x8E
	case CondG:
		return 0x8F
	case CondGE:
		return 0x8D
	default:
		return 0x85
	}
}

func jccShortOpcode(cc CondCode) byte {
	switch cc {
	case CondE:
		return 0x74
	case CondNE, CondNZ:
		return 0x75
	case CondL:
		return 0x7C
	case CondLE:
		return 0x7E
	case CondG:
		return 0x7F
	case CondGE:
		return 0x7D
	default:
		return 0x75
	}
}

// PatchRel32 回填此前某条 32 位相对跳转的位移字段，使其指向 targetOffset
// （相对于代码缓冲区起始）。immOffset 是 Jmp/Jcc 返回的立即数字段偏移。
func (a *Assembler) PatchRel32(immOffset, targetOffset int) {
	rel := int32(targetOffset - (immOffset + 4))
	binary.LittleEndian.PutUint32(a.buf[immOffset:immOffset+4], uint32(rel))
}

// PatchRel8 回填此前某条 8 位相对跳转的位移字段
func (a *Assembler) PatchRel8(immOffset, targetOffset int) {
	rel := targetOffset - (immOffset + 1)
	a.buf[immOffset] = byte(int8(rel))
}

// Call 写入一条近相对 call（目标以 32 位位移编码），返回立即数字段偏移
func (a *Assembler) Call(dest JumpDestination) int {
	a.emit(0xE8)
	off := len(a.buf)
	a.emitRelPlaceholder(dest)
	return off
}

// CallIndirect callq *reg — 通过寄存器间接调用，用于目标超出 32 位位移
// 范围的情况（spec §4.8 步骤 5）
func (a *Assembler) CallIndirect(reg Register) {
	if reg.IsExtended() {
		a.emit(rex(false, false, false, true))
	}
	a.emit(0xFF)
	a.emit(modrm(3, 2, reg.LowBits()))
}

// Ret 写入 ret
func (a *Assembler) Ret() { a.emit(0xC3) }

// ForwardJump 是一个"正向跳转作用域"：构造时写出一条条件跳转到一个尚未
// 确定的前向标签，Close 时把标签落在当前位置并回填跳转位移（spec §6:
// "A forward-jump scope object that, when constructed with a condition
// code, emits a jcc to a forward label and patches it when the scope
// closes."）。典型用法是 decref 的 "if refcount == 0 { call dealloc }" 块。
type ForwardJump struct {
	asm       *Assembler
	immOffset int
	short     bool
}

// NewForwardJump 构造一个正向跳转作用域，立即写出条件跳转指令
func NewForwardJump(a *Assembler, cc CondCode, short bool) *ForwardJump {
	fj := &ForwardJump{asm: a, short: short}
	if short {
		fj.immOffset = a.JccShort(cc, At(0))
	} else {
		fj.immOffset = a.Jcc(cc, At(0))
	}
	return fj
}

// Close 把跳转目标落在当前代码位置
func (fj *ForwardJump) Close() {
	target := len(fj.asm.buf)
	if fj.short {
		fj.asm.PatchRel8(fj.immOffset, target)
	} else {
		fj.asm.PatchRel32(fj.immOffset, target)
	}
}
