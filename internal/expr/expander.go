package expr

import (
	"fmt"

	"github.com/tinyrange/vplan/internal/ir"
)

// Expander turns expressions into IR at a chosen position.
type Expander struct {
	b    *ir.Builder
	name string
}

// NewExpander returns an expander emitting through b. name prefixes the
// names of the emitted instructions.
func NewExpander(b *ir.Builder, name string) *Expander {
	return &Expander{b: b, name: name}
}

// ExpandCodeFor emits e converted to t right before at (or at the builder's
// cursor when at is nil). The builder cursor is preserved.
func (x *Expander) ExpandCodeFor(e Expr, t ir.Type, at *ir.Inst) ir.Value {
	restore := x.b.PreserveInsertPoint()
	defer restore()
	if at != nil {
		x.b.SetInsertPointBefore(at)
	}
	v := x.expand(e)
	if v.Type() == t {
		return v
	}
	if !v.Type().IsInt() || !t.IsInt() {
		panic(fmt.Sprintf("expr: cannot convert expansion of %s from %s to %s", e, v.Type(), t))
	}
	if v.Type().Bits > t.Bits {
		return x.b.CreateCast(ir.OpTrunc, v, t, x.name)
	}
	return x.b.CreateCast(ir.OpSExt, v, t, x.name)
}

func (x *Expander) expand(e Expr) ir.Value {
	switch e := e.(type) {
	case Constant:
		return e.Value
	case Unknown:
		return e.Value
	case Add:
		return x.fold(e.Ops, func(l, r ir.Value) ir.Value {
			if l.Type().IsFloat() {
				return x.b.CreateBinOp(ir.OpFAdd, l, r, x.name)
			}
			return x.b.CreateAdd(l, r, x.name, false, false)
		})
	case Mul:
		return x.fold(e.Ops, func(l, r ir.Value) ir.Value {
			if l.Type().IsFloat() {
				return x.b.CreateBinOp(ir.OpFMul, l, r, x.name)
			}
			return x.b.CreateMul(l, r, x.name, false, false)
		})
	}
	panic(fmt.Sprintf("expr: cannot expand %T", e))
}

func (x *Expander) fold(ops []Expr, f func(l, r ir.Value) ir.Value) ir.Value {
	acc := x.expand(ops[0])
	for _, op := range ops[1:] {
		acc = f(acc, x.expand(op))
	}
	return acc
}
