package rewriter

import "github.com/novalang/icrewriter/asm"

// MovType 重新导出 asm.MovType，这样客户端代码写 rewriter.MovQ 而不必
// 直接依赖 asm 包（重写器的公共 API 表面应该只暴露自己的词汇）。
type MovType = asm.MovType

const (
	MovB = asm.MovB
	MovW = asm.MovW
	MovL = asm.MovL
	MovQ = asm.MovQ
)

// CondCode 重新导出 asm.CondCode
type CondCode = asm.CondCode

const (
	CondE  = asm.CondE
	CondNE = asm.CondNE
	CondL  = asm.CondL
	CondLE = asm.CondLE
	CondG  = asm.CondG
	CondGE = asm.CondGE
	CondNZ = asm.CondNZ
)
