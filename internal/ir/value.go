package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is anything an instruction can take as an operand.
type Value interface {
	Type() Type
	// Name is the symbolic name of the value, empty for constants and
	// unnamed instructions.
	Name() string
	String() string
}

// Const is a constant scalar or vector. Lanes hold raw bits: integers are
// truncated to the type width and floats are stored as float64 bits. A
// scalable vector constant can only be a splat.
type Const struct {
	typ   Type
	lanes []uint64
	splat bool
}

func maskBits(bits int) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<uint(bits) - 1
}

func signExtend(v uint64, bits int) int64 {
	if bits >= 64 {
		return int64(v)
	}
	shift := uint(64 - bits)
	return int64(v<<shift) >> shift
}

func encodeFloat(t Type, f float64) uint64 {
	if t.Bits == 32 {
		f = float64(float32(f))
	}
	return math.Float64bits(f)
}

// ConstInt returns an integer constant of the scalar type t.
func ConstInt(t Type, v int64) *Const {
	if !t.IsInt() || t.IsVector() {
		panic("ir: ConstInt requires a scalar integer type, got " + t.String())
	}
	return &Const{typ: t, lanes: []uint64{uint64(v) & maskBits(t.Bits)}}
}

// ConstFloat returns a floating point constant of the scalar type t.
func ConstFloat(t Type, f float64) *Const {
	if !t.IsFloat() || t.IsVector() {
		panic("ir: ConstFloat requires a scalar float type, got " + t.String())
	}
	return &Const{typ: t, lanes: []uint64{encodeFloat(t, f)}}
}

// ConstBool returns an i1 constant.
func ConstBool(b bool) *Const {
	if b {
		return ConstInt(I1, 1)
	}
	return ConstInt(I1, 0)
}

// ConstNull returns the all-zero constant of t (scalar or vector).
func ConstNull(t Type) *Const {
	if t.IsVector() {
		return ConstSplat(t.EC, ConstNull(t.ScalarType()))
	}
	return &Const{typ: t, lanes: []uint64{0}}
}

// ConstAllOnes returns the integer constant with every bit set.
func ConstAllOnes(t Type) *Const {
	if t.IsVector() {
		return ConstSplat(t.EC, ConstAllOnes(t.ScalarType()))
	}
	return ConstInt(t, -1)
}

// ConstSplat broadcasts the scalar constant c to ec lanes.
func ConstSplat(ec ElementCount, c *Const) *Const {
	if c.typ.IsVector() {
		panic("ir: splat of vector constant")
	}
	if ec.Scalable {
		return &Const{typ: VectorOf(c.typ, ec), lanes: []uint64{c.lanes[0]}, splat: true}
	}
	lanes := make([]uint64, ec.Min)
	for i := range lanes {
		lanes[i] = c.lanes[0]
	}
	return &Const{typ: VectorOf(c.typ, ec), lanes: lanes}
}

// ConstVector builds a fixed vector constant from scalar lanes that share a
// type.
func ConstVector(elems ...*Const) *Const {
	if len(elems) == 0 {
		panic("ir: empty vector constant")
	}
	elem := elems[0].typ
	lanes := make([]uint64, len(elems))
	for i, e := range elems {
		if e.typ != elem {
			panic(fmt.Sprintf("ir: mixed vector constant lanes %s and %s", elem, e.typ))
		}
		lanes[i] = e.lanes[0]
	}
	return &Const{typ: VectorOf(elem, Fixed(len(elems))), lanes: lanes}
}

// ConstInts is shorthand for a fixed integer vector constant.
func ConstInts(elem Type, vals ...int64) *Const {
	elems := make([]*Const, len(vals))
	for i, v := range vals {
		elems[i] = ConstInt(elem, v)
	}
	return ConstVector(elems...)
}

func (c *Const) Type() Type   { return c.typ }
func (c *Const) Name() string { return "" }

// IsSplat reports whether every lane holds the same value.
func (c *Const) IsSplat() bool {
	if c.splat || len(c.lanes) == 1 {
		return true
	}
	for _, l := range c.lanes[1:] {
		if l != c.lanes[0] {
			return false
		}
	}
	return true
}

// Lane returns the scalar constant held in lane i.
func (c *Const) Lane(i int) *Const {
	return &Const{typ: c.typ.ScalarType(), lanes: []uint64{c.raw(i)}}
}

// NumLanes returns the number of materialised lanes (1 for scalable splats).
func (c *Const) NumLanes() int {
	return len(c.lanes)
}

func (c *Const) raw(i int) uint64 {
	if c.splat || len(c.lanes) == 1 {
		return c.lanes[0]
	}
	return c.lanes[i]
}

// Int returns lane i sign-extended to int64.
func (c *Const) Int(i int) int64 {
	return signExtend(c.raw(i), c.typ.Bits)
}

// Uint returns lane i zero-extended to uint64.
func (c *Const) Uint(i int) uint64 {
	return c.raw(i) & maskBits(c.typ.Bits)
}

// Float returns lane i as a float64.
func (c *Const) Float(i int) float64 {
	return math.Float64frombits(c.raw(i))
}

// Ints returns every lane sign-extended. Scalable splats return one lane.
func (c *Const) Ints() []int64 {
	out := make([]int64, len(c.lanes))
	for i := range c.lanes {
		out[i] = c.Int(i)
	}
	return out
}

// Floats returns every lane as float64.
func (c *Const) Floats() []float64 {
	out := make([]float64, len(c.lanes))
	for i := range c.lanes {
		out[i] = c.Float(i)
	}
	return out
}

// IsZero reports whether every lane is the zero bit pattern.
func (c *Const) IsZero() bool {
	for i := range c.lanes {
		if c.raw(i) != 0 {
			return false
		}
	}
	return true
}

// IsOne reports whether every lane is the integer (or float) one.
func (c *Const) IsOne() bool {
	for i := range c.lanes {
		if c.typ.IsFloat() {
			if c.Float(i) != 1 {
				return false
			}
		} else if c.Uint(i) != 1 {
			return false
		}
	}
	return true
}

func (c *Const) scalarString(i int) string {
	switch c.typ.Kind {
	case TypeFloat:
		f := c.Float(i)
		if f == 0 && math.Signbit(f) {
			return "-0.0"
		}
		return strconv.FormatFloat(f, 'g', -1, 64)
	case TypeInt:
		if c.typ.Bits == 1 {
			if c.raw(i) != 0 {
				return "true"
			}
			return "false"
		}
		return strconv.FormatInt(c.Int(i), 10)
	case TypePtr:
		if c.raw(i) == 0 {
			return "null"
		}
		return fmt.Sprintf("inttoptr(%d)", c.raw(i))
	}
	return "?"
}

func (c *Const) String() string {
	if !c.typ.IsVector() {
		return c.scalarString(0)
	}
	elem := c.typ.ScalarType()
	if c.IsSplat() && c.raw(0) == 0 {
		return "zeroinitializer"
	}
	if c.splat {
		return fmt.Sprintf("splat (%s %s)", elem, c.scalarString(0))
	}
	parts := make([]string, len(c.lanes))
	for i := range c.lanes {
		parts[i] = elem.String() + " " + c.scalarString(i)
	}
	return "<" + strings.Join(parts, ", ") + ">"
}

// Poison is an undefined value of a type.
type Poison struct {
	typ Type
}

// PoisonOf returns the poison value of t.
func PoisonOf(t Type) *Poison {
	return &Poison{typ: t}
}

func (p *Poison) Type() Type     { return p.typ }
func (p *Poison) Name() string   { return "" }
func (p *Poison) String() string { return "poison" }

// Arg is a function argument, the way values defined outside the emitted
// code enter it.
type Arg struct {
	typ  Type
	name string
	fn   *Function
	idx  int
}

func (a *Arg) Type() Type     { return a.typ }
func (a *Arg) Name() string   { return a.name }
func (a *Arg) String() string { return "%" + a.name }

// Index returns the position of the argument in its function signature.
func (a *Arg) Index() int { return a.idx }

var (
	_ Value = (*Const)(nil)
	_ Value = (*Poison)(nil)
	_ Value = (*Arg)(nil)
	_ Value = (*Inst)(nil)
)
