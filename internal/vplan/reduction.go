package vplan

import (
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
)

var reduceIntrinsics = map[iv.RecurKind]string{
	iv.RecurAdd:     "llvm.vector.reduce.add",
	iv.RecurMul:     "llvm.vector.reduce.mul",
	iv.RecurAnd:     "llvm.vector.reduce.and",
	iv.RecurOr:      "llvm.vector.reduce.or",
	iv.RecurXor:     "llvm.vector.reduce.xor",
	iv.RecurSMin:    "llvm.vector.reduce.smin",
	iv.RecurSMax:    "llvm.vector.reduce.smax",
	iv.RecurUMin:    "llvm.vector.reduce.umin",
	iv.RecurUMax:    "llvm.vector.reduce.umax",
	iv.RecurFAdd:    "llvm.vector.reduce.fadd",
	iv.RecurFMul:    "llvm.vector.reduce.fmul",
	iv.RecurFMin:    "llvm.vector.reduce.fmin",
	iv.RecurFMax:    "llvm.vector.reduce.fmax",
	iv.RecurFMulAdd: "llvm.vector.reduce.fadd",
}

// Reduction folds a vector into a scalar chain inside the loop. Operands
// are the chain value, the vector operand and an optional condition
// selecting the lanes that take part.
type Reduction struct {
	recipeBase
	Desc iv.RecurrenceDescriptor
}

// NewReduction creates an in-loop reduction of vec into chain for inst.
func NewReduction(inst *ir.Inst, desc iv.RecurrenceDescriptor, chain, vec, cond *Value) *Reduction {
	r := &Reduction{Desc: desc}
	r.init(r, KindReduction, inst, chain, vec)
	if cond != nil {
		r.AddOperand(cond)
	}
	r.define()
	return r
}

func (r *Reduction) ChainOp() *Value { return r.Operand(0) }
func (r *Reduction) VecOp() *Value   { return r.Operand(1) }

// CondOp returns the lane condition, or nil when every lane takes part.
func (r *Reduction) CondOp() *Value {
	if r.NumOperands() < 3 {
		return nil
	}
	return r.Operand(2)
}

func (r *Reduction) Execute(s *State) {
	check(s.Instance == nil, "reduction executing an instance")
	b := s.Builder
	kind := r.Desc.Kind
	check(!kind.IsSelectCmp(), "select-compare reduction %s performed in the loop", kind)
	ordered := r.Desc.IsOrdered()

	restore := b.PreserveFastMathFlags()
	defer restore()
	b.SetFastMathFlags(r.Desc.FastMath)

	prev := s.Get(r.ChainOp(), 0)
	for part := 0; part < s.UF; part++ {
		vec := s.Get(r.VecOp(), part)
		if cond := r.CondOp(); cond != nil {
			// Lanes outside the condition contribute the identity.
			ident := ir.Value(r.Desc.Identity(vec.Type().ScalarType()))
			if vec.Type().IsVector() {
				ident = b.CreateVectorSplat(vec.Type().EC, ident, "")
			}
			vec = b.CreateSelect(s.Get(cond, part), vec, ident, "")
		}

		var red, next ir.Value
		if ordered {
			if s.VF.IsVector() {
				red = r.reduce(b, vec, prev)
			} else {
				red = b.CreateBinOp(kind.Opcode(), prev, vec, "")
			}
			prev = red
		} else {
			prev = s.Get(r.ChainOp(), part)
			red = r.reduce(b, vec, nil)
		}

		switch {
		case kind.IsMinMax():
			next = createMinMax(b, kind, red, prev)
		case ordered:
			next = red
		default:
			next = b.CreateBinOp(kind.Opcode(), red, prev, "")
		}
		s.Set(r.Result(), next, part)
	}
}

// reduce emits the horizontal reduction of vec. Floating point add and mul
// reductions take a start value: acc when given, the identity otherwise.
func (r *Reduction) reduce(b *ir.Builder, vec, acc ir.Value) ir.Value {
	if !vec.Type().IsVector() {
		return vec
	}
	kind := r.Desc.Kind
	name, ok := reduceIntrinsics[kind]
	check(ok, "no horizontal reduction for %s", kind)
	elem := vec.Type().ScalarType()

	args := []ir.Value{vec}
	switch kind {
	case iv.RecurFAdd, iv.RecurFMulAdd, iv.RecurFMul:
		if acc == nil {
			acc = r.Desc.Identity(elem)
		}
		args = []ir.Value{acc, vec}
	}
	red := b.CreateIntrinsic(name, elem, args, "")
	if i, ok := red.(*ir.Inst); ok && elem.IsFloat() {
		i.SetFastMath(r.Desc.FastMath)
	}
	return red
}

// createMinMax picks between two partial min/max results.
func createMinMax(b *ir.Builder, kind iv.RecurKind, l, r ir.Value) ir.Value {
	pred := kind.MinMaxPredicate()
	var cmp ir.Value
	if kind.IsFloatingPoint() {
		cmp = b.CreateFCmp(pred, l, r, "rdx.minmax.cmp")
	} else {
		cmp = b.CreateICmp(pred, l, r, "rdx.minmax.cmp")
	}
	return b.CreateSelect(cmp, l, r, "rdx.minmax.select")
}
