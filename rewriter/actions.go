// actions.go - 延迟动作队列
//
// 收集阶段只做一件事：把客户端的构建调用（get_attr / add_guard / call /
// set_attr / incref / ...）记录成一个个闭包，连同它们读写的 Var 集合
// 和一个分类标签，顺序追加进队列；真正的指令编码要等到 commit() 进入
// 发射阶段才按顺序跑一遍（spec §4.1, design notes "Action closures"）。
package rewriter

// ActionCategory 决定 action 在哪些阶段断言和哪些 memo 失效规则下运行
type ActionCategory int

const (
	// ActionNormal 是不改变"可观察的对象图"的普通动作（读取、计算、守卫）
	ActionNormal ActionCategory = iota
	// ActionGuard 是守卫：必须出现在队列前缀（spec §4.7: "Guards are
	// always the first actions"）
	ActionGuard
	// ActionMutation 会让之前所有 get_attr 备忘失效（spec §4.2）
	ActionMutation
)

// action 是队列中的一项
type action struct {
	run      func(e *Rewriter, idx int)
	deps     []*Var
	category ActionCategory
	// consumedRefs 是这个 action 会调用 refConsumed 的那些变量——用于
	// commit 步骤 5a 判断是否要在运行前插入 incref（多次交接中，非最终
	// 交接者需要先补一次 incref，spec §4.5 最后一段）。
	consumedRefs []*Var
}

// addAction 把一个新动作追加进队列，并为每个依赖更新其 use 列表
// （spec §4.2: "for each v in deps, v.uses.append(action_index)"）。
func (e *Rewriter) addAction(run func(e *Rewriter, idx int), deps []*Var, category ActionCategory) int {
	e.assertCollecting()
	idx := len(e.actions)
	for _, v := range deps {
		v.uses = append(v.uses, idx)
	}
	e.actions = append(e.actions, &action{run: run, deps: deps, category: category})
	if category == ActionGuard {
		e.lastGuardAction = idx
	}
	if category == ActionMutation {
		e.addedChangingAction = true
	}
	return idx
}

// CreateVar 分配一个新的、尚无位置的符号变量（spec §4.2 "create_var"）。
// 客户端 fluent API 的大多数构建方法内部都会调用它来产生结果变量。
func (e *Rewriter) CreateVar() *Var {
	e.assertCollecting()
	return e.newVar()
}

// GetAttr 按 spec §4.2 实现值编号式的 get-attr 备忘：仅当尚未发生过任何
// mutation 动作、且 (offset, loadType) 已在某个 Var 的备忘表里时复用旧
// 结果；否则创建新的结果变量并排队一次加载动作。这是重写器唯一做的
// "优化"（spec §1 Non-goals: "no CSE beyond a trivial get-attr memo"）。
func (e *Rewriter) GetAttr(obj *Var, offset int32, loadType MovType) *Var {
	e.assertCollecting()
	key := getAttrKey{Offset: offset, LoadWidth: loadType}
	if !e.addedChangingAction {
		if obj.getattrs != nil {
			if cached, ok := obj.getattrs[key]; ok {
				return cached
			}
		}
	}
	result := e.newVar()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitGetAttr(obj, offset, loadType, result, idx)
	}, []*Var{obj}, ActionNormal)
	if obj.getattrs == nil {
		obj.getattrs = make(map[getAttrKey]*Var)
	}
	obj.getattrs[key] = result
	return result
}

// GetAttrFloat / GetAttrDouble 是 get_attr 的浮点特化：load_type 固定为
// 单/双精度宽度，结果物化到 XMM 寄存器而不是通用寄存器（spec §6 fluent
// API 列表）。
func (e *Rewriter) GetAttrFloat(obj *Var, offset int32) *Var {
	e.assertCollecting()
	result := e.newVar()
	result.isFloat = true
	e.addAction(func(e *Rewriter, idx int) {
		e.emitGetAttrFloat(obj, offset, result, idx)
	}, []*Var{obj}, ActionNormal)
	return result
}

// GetAttrDouble 同 GetAttrFloat，但加载 8 字节双精度值
func (e *Rewriter) GetAttrDouble(obj *Var, offset int32) *Var {
	e.assertCollecting()
	result := e.newVar()
	result.isFloat = true
	result.isDouble = true
	e.addAction(func(e *Rewriter, idx int) {
		e.emitGetAttrDouble(obj, offset, result, idx)
	}, []*Var{obj}, ActionNormal)
	return result
}

// SetAttr 把 val 存入 obj+offset 处，这是一个 mutation 动作，会使所有
// get_attr 备忘失效（spec §4.2）。这是一次普通的内存写入——它本身不会
// 消费 val 的引用计数；调用方如果知道这次存储偷走了 val 的引用（而不是
// 存一个借用指针），必须紧接着显式调用 RefConsumed(val)。
func (e *Rewriter) SetAttr(obj, val *Var, offset int32, storeType MovType) {
	e.assertCollecting()
	e.addAction(func(e *Rewriter, idx int) {
		e.emitSetAttr(obj, val, offset, storeType, idx)
	}, []*Var{obj, val}, ActionMutation)
}

// ReplaceAttr 替换一个已经持有拥有引用的字段：先读出旧值，存入新值并把
// 它的引用标记为已交接，再释放旧值（spec §6 fluent API: replace_attr；
// original_source: RewriterVar::replaceAttr）。prevNullable 决定旧值走
// Decref 还是 Xdecref。
func (e *Rewriter) ReplaceAttr(obj, val *Var, offset int32, storeType MovType, prevNullable bool) {
	e.assertCollecting()
	prev := e.GetAttr(obj, offset, storeType)
	e.SetAttr(obj, val, offset, storeType)
	e.RefConsumed(val)
	if prevNullable {
		prev.SetType(RefOwned, true)
		e.Xdecref(prev)
	} else {
		prev.SetType(RefOwned, false)
		e.Decref(prev)
	}
}
