package vplan

import (
	"github.com/tinyrange/vplan/internal/ir"
)

// Widen emits one vector operation per part for a scalar arithmetic,
// freeze, compare or cast instruction.
type Widen struct {
	recipeBase
}

// NewWiden creates a Widen recipe for inst with the given operands.
func NewWiden(inst *ir.Inst, operands ...*Value) *Widen {
	r := &Widen{}
	r.init(r, KindWiden, inst, operands...)
	r.define()
	return r
}

func (r *Widen) Execute(s *State) {
	inst := r.mustUnderlying()
	b := s.Builder
	op := inst.Opcode()
	switch {
	case op == ir.OpCall, op == ir.OpBr, op == ir.OpCondBr, op == ir.OpPhi,
		op == ir.OpGEP, op == ir.OpSelect:
		bug("%s is handled by a different recipe", op)

	case op.IsBinaryOp() || op.IsUnaryOp():
		s.SetDebugLocFromInst(inst)
		for part := 0; part < s.UF; part++ {
			ops := make([]ir.Value, r.NumOperands())
			for i, o := range r.Operands() {
				ops[i] = s.Get(o, part)
			}
			v := b.CreateNAryOp(op, ops, inst.Name())
			if vi, ok := v.(*ir.Inst); ok {
				vi.CopyIRFlags(inst)
				// The guard that made the flags hold is gone once the
				// control flow is linearized.
				if s.MayGeneratePoison[r] {
					vi.DropPoisonGeneratingFlags()
				}
			}
			s.Set(r.Result(), v, part)
			s.AddMetadata(v, inst)
		}

	case op == ir.OpFreeze:
		s.SetDebugLocFromInst(inst)
		for part := 0; part < s.UF; part++ {
			s.Set(r.Result(), b.CreateFreeze(s.Get(r.Operand(0), part), inst.Name()), part)
		}

	case op == ir.OpICmp || op == ir.OpFCmp:
		s.SetDebugLocFromInst(inst)
		for part := 0; part < s.UF; part++ {
			a := s.Get(r.Operand(0), part)
			c := s.Get(r.Operand(1), part)
			var v ir.Value
			if op == ir.OpFCmp {
				restore := b.PreserveFastMathFlags()
				b.SetFastMathFlags(inst.FastMath())
				v = b.CreateFCmp(inst.Predicate(), a, c, inst.Name())
				restore()
			} else {
				v = b.CreateICmp(inst.Predicate(), a, c, inst.Name())
			}
			s.Set(r.Result(), v, part)
			s.AddMetadata(v, inst)
		}

	case op.IsCast():
		s.SetDebugLocFromInst(inst)
		dest := ir.VectorOrScalar(inst.Type(), s.VF)
		for part := 0; part < s.UF; part++ {
			v := b.CreateCast(op, s.Get(r.Operand(0), part), dest, inst.Name())
			s.Set(r.Result(), v, part)
			s.AddMetadata(v, inst)
		}

	default:
		bug("unhandled instruction %s", ir.Format(inst))
	}
}

// WidenSelect emits a vector select per part. A loop invariant condition is
// read once from lane 0 of part 0 and reused.
type WidenSelect struct {
	recipeBase
	InvariantCond bool
}

// NewWidenSelect creates a WidenSelect recipe with operands cond, t and f.
func NewWidenSelect(inst *ir.Inst, cond, t, f *Value, invariantCond bool) *WidenSelect {
	r := &WidenSelect{InvariantCond: invariantCond}
	r.init(r, KindWidenSelect, inst, cond, t, f)
	r.define()
	return r
}

func (r *WidenSelect) Execute(s *State) {
	inst := r.mustUnderlying()
	s.SetDebugLocFromInst(inst)

	var invCond ir.Value
	if r.InvariantCond {
		invCond = s.GetLane(r.Operand(0), Instance{})
	}
	for part := 0; part < s.UF; part++ {
		cond := invCond
		if cond == nil {
			cond = s.Get(r.Operand(0), part)
		}
		t := s.Get(r.Operand(1), part)
		f := s.Get(r.Operand(2), part)
		v := s.Builder.CreateSelect(cond, t, f, inst.Name())
		s.Set(r.Result(), v, part)
		s.AddMetadata(v, inst)
	}
}

// WidenGEP emits a getelementptr producing a vector of pointers. Operand 0
// is the base pointer and the rest are indices.
type WidenGEP struct {
	recipeBase
}

// NewWidenGEP creates a WidenGEP recipe mirroring the GEP inst.
func NewWidenGEP(inst *ir.Inst, operands ...*Value) *WidenGEP {
	if inst.Opcode() != ir.OpGEP {
		panic("vplan: WidenGEP of " + inst.Opcode().String())
	}
	r := &WidenGEP{}
	r.init(r, KindWidenGEP, inst, operands...)
	r.define()
	return r
}

func (r *WidenGEP) isPointerLoopInvariant() bool {
	return r.Operand(0).DefinedOutsideVectorRegions()
}

func (r *WidenGEP) isIndexLoopInvariant(i int) bool {
	return r.Operand(i + 1).DefinedOutsideVectorRegions()
}

func (r *WidenGEP) areAllOperandsInvariant() bool {
	for _, op := range r.Operands() {
		if !op.DefinedOutsideVectorRegions() {
			return false
		}
	}
	return true
}

func (r *WidenGEP) Execute(s *State) {
	gep := r.mustUnderlying()
	b := s.Builder

	if r.areAllOperandsInvariant() {
		// Every operand is invariant, so a GEP built from them would be a
		// scalar pointer. Broadcast a clone of the original instead.
		clone := gep.Clone()
		for i, op := range r.Operands() {
			clone.SetOperand(i, s.GetLane(op, Instance{}))
		}
		b.Insert(clone, "")
		for part := 0; part < s.UF; part++ {
			v := ir.Value(clone)
			if s.VF.IsVector() {
				v = b.CreateVectorSplat(s.VF, clone, "")
			}
			s.Set(r.Result(), v, part)
			s.AddMetadata(v, gep)
		}
		return
	}

	for part := 0; part < s.UF; part++ {
		var ptr ir.Value
		if r.isPointerLoopInvariant() {
			ptr = s.GetLane(r.Operand(0), Instance{})
		} else {
			ptr = s.Get(r.Operand(0), part)
		}
		idxs := make([]ir.Value, 0, r.NumOperands()-1)
		for i, op := range r.Operands()[1:] {
			if r.isIndexLoopInvariant(i) {
				idxs = append(idxs, s.GetLane(op, Instance{}))
			} else {
				idxs = append(idxs, s.Get(op, part))
			}
		}
		// A predicated GEP loses inbounds: lanes that were not executed
		// before may now compute out of bounds addresses.
		inbounds := gep.Flags().Has(ir.FlagInBounds) && !s.MayGeneratePoison[r]
		v := b.CreateGEP(gep.SourceElementType(), ptr, idxs, inbounds, gep.Name())
		check(s.VF.IsScalar() || v.Type().IsVector(), "widened GEP is not a vector of pointers")
		s.Set(r.Result(), v, part)
		s.AddMetadata(v, gep)
	}
}

// WidenCall emits one call to a vector variant of the scalar callee per
// part.
type WidenCall struct {
	recipeBase
	// Variant is the vector function or intrinsic called.
	Variant string
	// ScalarOperands lists the argument positions passed as scalars.
	ScalarOperands map[int]bool
}

// NewWidenCall creates a WidenCall recipe; operands are the call arguments.
func NewWidenCall(call *ir.Inst, variant string, operands ...*Value) *WidenCall {
	if call.Opcode() != ir.OpCall {
		panic("vplan: WidenCall of " + call.Opcode().String())
	}
	r := &WidenCall{Variant: variant, ScalarOperands: map[int]bool{}}
	r.init(r, KindWidenCall, call, operands...)
	if !call.Type().IsVoid() {
		r.define()
	}
	return r
}

func (r *WidenCall) Execute(s *State) {
	call := r.mustUnderlying()
	check(r.Variant != "", "no vector variant for call to %s", call.Callee())
	s.SetDebugLocFromInst(call)
	ret := ir.Void
	if !call.Type().IsVoid() {
		ret = ir.VectorOrScalar(call.Type(), s.VF)
	}
	for part := 0; part < s.UF; part++ {
		args := make([]ir.Value, r.NumOperands())
		for i, op := range r.Operands() {
			if r.ScalarOperands[i] {
				args[i] = s.GetLane(op, Instance{})
			} else {
				args[i] = s.Get(op, part)
			}
		}
		v := s.Builder.CreateCall(r.Variant, ret, call.CallAttrs(), args, call.Name())
		if ret.ScalarType().IsFloat() {
			v.SetFastMath(call.FastMath())
		}
		if len(r.Defs()) > 0 {
			s.Set(r.Result(), v, part)
		}
		s.AddMetadata(v, call)
	}
}
