// Package expr models closed-form loop expressions (steps, trip counts) and
// expands them into IR.
package expr

import (
	"fmt"
	"strings"

	"github.com/tinyrange/vplan/internal/ir"
)

// Expr is a symbolic expression over constants and values defined outside
// the loop.
type Expr interface {
	Type() ir.Type
	String() string
}

// Constant is a literal.
type Constant struct {
	Value *ir.Const
}

// Unknown is an opaque value computed outside the loop.
type Unknown struct {
	Value ir.Value
}

// Add is the sum of its operands.
type Add struct {
	Ops []Expr
}

// Mul is the product of its operands.
type Mul struct {
	Ops []Expr
}

// Int returns a constant integer expression.
func Int(t ir.Type, v int64) Expr {
	return Constant{Value: ir.ConstInt(t, v)}
}

// Of wraps an IR value: constants become Constant, anything else Unknown.
func Of(v ir.Value) Expr {
	if c, ok := v.(*ir.Const); ok {
		return Constant{Value: c}
	}
	return Unknown{Value: v}
}

// NewAdd builds an Add; all operands must share a type.
func NewAdd(ops ...Expr) Expr {
	checkTypes("add", ops)
	return Add{Ops: ops}
}

// NewMul builds a Mul; all operands must share a type.
func NewMul(ops ...Expr) Expr {
	checkTypes("mul", ops)
	return Mul{Ops: ops}
}

func checkTypes(what string, ops []Expr) {
	if len(ops) < 2 {
		panic(fmt.Sprintf("expr: %s needs at least two operands", what))
	}
	for _, op := range ops[1:] {
		if op.Type() != ops[0].Type() {
			panic(fmt.Sprintf("expr: %s operand types differ: %s vs %s", what, ops[0].Type(), op.Type()))
		}
	}
}

func (c Constant) Type() ir.Type  { return c.Value.Type() }
func (c Constant) String() string { return c.Value.String() }
func (u Unknown) Type() ir.Type   { return u.Value.Type() }
func (u Unknown) String() string  { return u.Value.String() }
func (a Add) Type() ir.Type       { return a.Ops[0].Type() }
func (a Add) String() string      { return join("+", a.Ops) }
func (m Mul) Type() ir.Type       { return m.Ops[0].Type() }
func (m Mul) String() string      { return join("*", m.Ops) }

func join(op string, ops []Expr) string {
	parts := make([]string, len(ops))
	for i, e := range ops {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

// AsConstant returns the literal behind e, if it is one.
func AsConstant(e Expr) (*ir.Const, bool) {
	c, ok := e.(Constant)
	if !ok {
		return nil, false
	}
	return c.Value, true
}

// IsOne reports whether e is the literal one.
func IsOne(e Expr) bool {
	c, ok := AsConstant(e)
	return ok && c.IsOne()
}

// IsZero reports whether e is the literal zero.
func IsZero(e Expr) bool {
	c, ok := AsConstant(e)
	return ok && c.IsZero()
}
