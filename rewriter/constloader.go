// constloader.go - 常量加载器
//
// ConstLoader 把一个 64 位常量以最省字节的方式物化到寄存器，按 spec
// §4.4 给出的四级策略：零惯用法 / reg-reg 搬运 / lea 相对偏移 / 全尺寸
// 10 字节立即数加载。"large" 的唯一定义——是否能装进带符号 32 位立即
// 数——集中在 asm.Immediate.FitsInt32，供 ConstLoader 和比较指令选择
// 共用；调用总是经寄存器间接发出，不做这一判定（design notes
// "Large-constant threshold"）。
package rewriter

import "github.com/novalang/icrewriter/asm"

// ConstLoader 在收集阶段记录每个被请求过的常量对应的 Var，发射阶段为
// 它们挑选最便宜的加载序列。
type ConstLoader struct {
	byValue map[int64]*Var
	order   []int64 // 插入顺序，用于 lea 的"就近"启发式扫描保持稳定
}

func newConstLoader() *ConstLoader {
	return &ConstLoader{byValue: make(map[int64]*Var)}
}

// getOrCreate 返回值为 value 的常量 Var，如果之前没请求过就创建它
// （spec §4.4: "every distinct constant becomes a dedicated Var so the
// allocator can track its register residency."）
func (cl *ConstLoader) getOrCreate(e *Rewriter, value int64) *Var {
	if v, ok := cl.byValue[value]; ok {
		return v
	}
	v := e.newVar()
	v.isConstant = true
	v.constantValue = value
	v.refType = RefBorrowed
	cl.byValue[value] = v
	cl.order = append(cl.order, value)
	return v
}

// loadConstIntoReg 在发射阶段把 value 物化进 dst 寄存器，选择 spec §4.4
// 描述的四种序列中最便宜的一种。
func (cl *ConstLoader) loadConstIntoReg(e *Rewriter, value int64, dst asm.Register) {
	if value == 0 {
		e.asmBuf.XorClear(dst)
		return
	}
	if cl.tryRegRegMove(e, value, dst) {
		return
	}
	if cl.tryLea(e, value, dst) {
		return
	}
	e.asmBuf.MovRegImm64(dst, uint64(value))
}

// tryRegRegMove 如果 value 已经活在某个寄存器里，直接搬运
func (cl *ConstLoader) tryRegRegMove(e *Rewriter, value int64, dst asm.Register) bool {
	v, ok := cl.byValue[value]
	if !ok {
		return false
	}
	for _, loc := range v.locations {
		if loc.Kind == LocRegister {
			if loc.Reg != dst {
				e.asmBuf.MovRegReg(dst, loc.Reg)
			}
			return true
		}
	}
	return false
}

// leaDisplacementWindow 是 lea [base+disp] 可编码的有符号位移范围的宽度
// （[-2^31, 2^31)）
const leaDisplacementWindow = 1 << 32

// tryLea 如果 value 是"大"常量，且存在一个当前活跃的常量落在 32 位
// 有符号位移范围内，通过 lea [base+disp] 计算出 value（spec §4.4 步骤 3）。
func (cl *ConstLoader) tryLea(e *Rewriter, value int64, dst asm.Register) bool {
	if asm.Imm(value).FitsInt32() {
		return false // 不是"大"常量，没必要走 lea
	}
	for _, other := range cl.order {
		if other == value {
			continue
		}
		disp := value - other
		if disp < -leaDisplacementWindow/2 || disp >= leaDisplacementWindow/2 {
			continue
		}
		if !(disp >= -(1<<31) && disp <= (1<<31)-1) {
			continue
		}
		v := cl.byValue[other]
		for _, loc := range v.locations {
			if loc.Kind == LocRegister {
				e.asmBuf.Lea(dst, asm.Mem(loc.Reg, int32(disp)))
				return true
			}
		}
	}
	return false
}
