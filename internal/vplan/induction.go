package vplan

import (
	"github.com/tinyrange/vplan/internal/expr"
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
)

// CanonicalIVPHI is the scalar counter of the vector loop. It starts at the
// start operand and is incremented by VF*UF each vector iteration. Every
// part shares the single phi.
type CanonicalIVPHI struct {
	recipeBase
}

// NewCanonicalIVPHI creates the canonical induction starting at start. The
// back-edge value is added later with AddOperand.
func NewCanonicalIVPHI(start *Value, dl ir.DebugLoc) *CanonicalIVPHI {
	r := &CanonicalIVPHI{}
	r.init(r, KindCanonicalIVPHI, nil, start)
	r.dl = dl
	r.define()
	return r
}

func (r *CanonicalIVPHI) StartValue() *Value { return r.Operand(0) }

// BackedgeValue returns the incoming value from the latch, or nil when it
// has not been added yet.
func (r *CanonicalIVPHI) BackedgeValue() *Value {
	if r.NumOperands() < 2 {
		return nil
	}
	return r.Operand(1)
}

func (r *CanonicalIVPHI) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	return true
}

func (r *CanonicalIVPHI) Execute(s *State) {
	start := r.StartValue().LiveInIRValue()
	check(start != nil, "canonical induction start is not a live-in")
	phi := ir.InsertPhi(s.CFG.PrevBB, start.Type(), "index")
	phi.AddIncoming(start, s.preheaderFor(r))
	phi.SetDebugLoc(r.dl)
	for part := 0; part < s.UF; part++ {
		s.Set(r.Result(), phi, part)
	}
}

// WidenIntOrFpInduction produces a vector induction <start, start+step, ...>
// from an integer or floating point induction phi of the scalar loop.
type WidenIntOrFpInduction struct {
	recipeBase
	Desc iv.InductionDescriptor
}

// NewWidenIntOrFpInduction creates the recipe for the induction phi with
// start and step operands.
func NewWidenIntOrFpInduction(phi *ir.Inst, start, step *Value, desc iv.InductionDescriptor) *WidenIntOrFpInduction {
	if desc.Kind != iv.InductionInt && desc.Kind != iv.InductionFP {
		panic("vplan: WidenIntOrFpInduction of a " + desc.Kind.String() + " induction")
	}
	r := &WidenIntOrFpInduction{Desc: desc}
	r.init(r, KindWidenIntOrFpInduction, phi, start, step)
	r.define()
	return r
}

func (r *WidenIntOrFpInduction) StartValue() *Value { return r.Operand(0) }
func (r *WidenIntOrFpInduction) StepValue() *Value  { return r.Operand(1) }

// IsCanonical reports whether the induction starts at the constant zero and
// steps by the constant one.
func (r *WidenIntOrFpInduction) IsCanonical() bool {
	c, ok := r.StartValue().LiveInIRValue().(*ir.Const)
	if !ok || !c.Type().IsInt() || !c.IsZero() {
		return false
	}
	step, ok := r.Desc.Step.(expr.Constant)
	return ok && step.Value.Type().IsInt() && step.Value.IsOne()
}

func (r *WidenIntOrFpInduction) Execute(s *State) {
	check(s.Instance == nil, "int or fp induction executing an instance")
	check(s.VF.IsVector(), "int or fp induction widened with a scalar VF")
	phi := r.mustUnderlying()
	b := s.Builder
	ty := phi.Type()

	restoreFMF := b.PreserveFastMathFlags()
	defer restoreFMF()
	if r.Desc.Kind == iv.InductionFP {
		b.SetFastMathFlags(r.Desc.FastMath)
	}

	start := s.GetLane(r.StartValue(), Instance{})
	step := s.GetLane(r.StepValue(), Instance{})

	addOp := ir.OpAdd
	if ty.IsFloat() {
		addOp = r.Desc.BinOp
	}

	restore := s.atPreheaderEnd(r)
	splatStart := b.CreateVectorSplat(s.VF, start, "")
	splatStep := b.CreateVectorSplat(s.VF, step, "")
	steppedStart := stepVector(b, splatStart, splatStep, addOp)

	// One vector iteration advances every lane by VF steps.
	var mul ir.Value
	if ty.IsFloat() {
		mul = b.CreateBinOp(ir.OpFMul, step, runtimeVFAsFloat(b, ty, s.VF, 1), "")
	} else {
		mul = b.CreateMul(step, runtimeVF(b, ty, s.VF), "", false, false)
	}
	splatVF := b.CreateVectorSplat(s.VF, mul, ".splat")
	restore()

	s.SetDebugLocFromInst(phi)
	vecPhi := ir.InsertPhi(s.CFG.PrevBB, ir.VectorOf(ty, s.VF), "vec.ind")
	vecPhi.AddIncoming(steppedStart, s.preheaderFor(r))
	vecPhi.SetDebugLoc(phi.DebugLoc())

	last := ir.Value(vecPhi)
	for part := 0; part < s.UF; part++ {
		s.Set(r.Result(), last, part)
		last = b.CreateBinOp(addOp, last, splatVF, "step.add")
		s.AddMetadata(last, phi)
	}
	next, ok := last.(*ir.Inst)
	check(ok, "induction increment folded to a constant")
	next.SetName("vec.ind.next")
	// The latch does not exist yet: the incoming block is rewritten and the
	// increment moved there once the loop is emitted.
	vecPhi.AddIncoming(next, s.preheaderFor(r))
}

// stepVector returns val + <0, 1, ..., VF-1> * step, where val and step are
// vectors of the same type.
func stepVector(b *ir.Builder, val, step ir.Value, addOp ir.Opcode) ir.Value {
	vt := val.Type()
	st := vt.ScalarType()
	seq := b.CreateStepVector(ir.VectorOf(ir.Int(st.Bits), vt.EC), "")
	if st.IsInt() {
		mul := b.CreateMul(seq, step, "", false, false)
		return b.CreateAdd(val, mul, "induction", false, false)
	}
	seq = b.CreateCast(ir.OpUIToFP, seq, vt, "")
	mul := b.CreateBinOp(ir.OpFMul, seq, step, "")
	return b.CreateBinOp(addOp, val, mul, "induction")
}

// WidenPointerInduction lowers a pointer induction, either as a vector of
// pointers off a pointer phi or as per-lane scalar GEPs when no user needs
// the vector.
type WidenPointerInduction struct {
	recipeBase
	Desc iv.InductionDescriptor
}

// NewWidenPointerInduction creates the recipe for the pointer phi with start
// and step operands.
func NewWidenPointerInduction(phi *ir.Inst, start, step *Value, desc iv.InductionDescriptor) *WidenPointerInduction {
	if desc.Kind != iv.InductionPointer {
		panic("vplan: WidenPointerInduction of a " + desc.Kind.String() + " induction")
	}
	r := &WidenPointerInduction{Desc: desc}
	r.init(r, KindWidenPointerInduction, phi, start, step)
	r.define()
	return r
}

func (r *WidenPointerInduction) StartValue() *Value { return r.Operand(0) }
func (r *WidenPointerInduction) StepValue() *Value  { return r.Operand(1) }

// OnlyScalarsGenerated reports whether the recipe is lowered to scalar
// pointers only: every user reads scalars and the lanes are either known at
// compile time or only lane 0 is used.
func (r *WidenPointerInduction) OnlyScalarsGenerated(vf ir.ElementCount) bool {
	v := r.Result()
	for _, u := range v.Users() {
		if !u.UsesScalars(v) {
			return false
		}
	}
	return OnlyFirstLaneUsed(v) || !vf.Scalable
}

func (r *WidenPointerInduction) Execute(s *State) {
	phi := r.mustUnderlying()
	check(phi.Type().IsPtr(), "pointer induction of type %s", phi.Type())
	b := s.Builder
	check(s.plan != nil && s.plan.CanonicalIV() != nil, "pointer induction without a canonical induction")
	canIV := s.Get(s.plan.CanonicalIV().Result(), 0)
	stepTy := r.Desc.Step.Type()

	if r.OnlyScalarsGenerated(s.VF) {
		ptrInd := b.CreateSExtOrTrunc(canIV, stepTy, "")
		uniform := OnlyFirstLaneUsed(r.Result())
		check(uniform || !s.VF.Scalable, "cannot scalarize a scalable VF")
		lanes := s.VF.Min
		if uniform {
			lanes = 1
		}
		step := s.GetLane(r.StepValue(), Instance{})
		for part := 0; part < s.UF; part++ {
			partStart := stepForVF(b, stepTy, s.VF, part)
			for lane := 0; lane < lanes; lane++ {
				idx := b.CreateAdd(partStart, ir.ConstInt(stepTy, int64(lane)), "", false, false)
				global := b.CreateAdd(ptrInd, idx, "", false, false)
				gep := emitTransformedIndex(b, global, r.StartValue().LiveInIRValue(), step, &r.Desc)
				if i, ok := gep.(*ir.Inst); ok {
					i.SetName("next.gep")
				}
				s.SetLane(r.Result(), gep, Instance{Part: part, Lane: NewLane(lane, LaneFirst)})
			}
		}
		return
	}

	_, ok := r.Desc.ConstIntStep()
	check(ok, "vector pointer induction with a non-constant step")

	start := r.StartValue().LiveInIRValue()
	ptrPhi := ir.InsertPhi(s.CFG.PrevBB, start.Type(), "pointer.phi")
	ptrPhi.AddIncoming(start, s.preheaderFor(r))

	step := s.expander().ExpandCodeFor(r.Desc.Step, stepTy, nil)
	rvf := runtimeVF(b, stepTy, s.VF)
	numUnrolled := b.CreateMul(rvf, ir.ConstInt(stepTy, int64(s.UF)), "", false, false)
	inc := b.CreateGEP(r.Desc.ElemType, ptrPhi, []ir.Value{b.CreateMul(step, numUnrolled, "", false, false)}, false, "ptr.ind")
	// Moved to the latch once the loop is emitted.
	ptrPhi.AddIncoming(inc, s.preheaderFor(r))

	vecTy := ir.VectorOf(stepTy, s.VF)
	for part := 0; part < s.UF; part++ {
		offset := b.CreateMul(rvf, ir.ConstInt(stepTy, int64(part)), "", false, false)
		offsets := b.CreateAdd(b.CreateVectorSplat(s.VF, offset, ""), b.CreateStepVector(vecTy, ""), "", false, false)
		scaled := b.CreateMul(offsets, b.CreateVectorSplat(s.VF, step, ""), "", false, false)
		gep := b.CreateGEP(r.Desc.ElemType, ptrPhi, []ir.Value{scaled}, false, "vector.gep")
		s.Set(r.Result(), gep, part)
	}
}

// emitTransformedIndex computes start + index*step in the domain of the
// induction described by desc.
func emitTransformedIndex(b *ir.Builder, index, start, step ir.Value, desc *iv.InductionDescriptor) ir.Value {
	add := func(x, y ir.Value) ir.Value {
		if c, ok := x.(*ir.Const); ok && c.IsZero() {
			return y
		}
		if c, ok := y.(*ir.Const); ok && c.IsZero() {
			return x
		}
		return b.CreateAdd(x, y, "", false, false)
	}
	mul := func(x, y ir.Value) ir.Value {
		if c, ok := x.(*ir.Const); ok && c.IsOne() {
			return y
		}
		if c, ok := y.(*ir.Const); ok && c.IsOne() {
			return x
		}
		return b.CreateMul(x, y, "", false, false)
	}

	switch desc.Kind {
	case iv.InductionInt:
		check(!index.Type().IsVector(), "vector index for a scalar induction")
		check(index.Type() == start.Type(), "index type %s does not match start type %s", index.Type(), start.Type())
		if c, ok := step.(*ir.Const); ok && c.Int(0) == -1 {
			return b.CreateSub(start, index, "", false, false)
		}
		return add(start, mul(index, step))
	case iv.InductionPointer:
		return b.CreateGEP(desc.ElemType, start, []ir.Value{mul(index, step)}, false, "")
	case iv.InductionFP:
		check(desc.BinOp == ir.OpFAdd || desc.BinOp == ir.OpFSub, "fp induction binop %s", desc.BinOp)
		m := b.CreateBinOp(ir.OpFMul, step, index, "")
		return b.CreateBinOp(desc.BinOp, start, m, "induction")
	}
	bug("transformed index of a %s induction", desc.Kind)
	return nil
}

// ScalarIVSteps produces the scalar induction values base + (part*VF +
// lane) * step for each instance, off the canonical induction.
type ScalarIVSteps struct {
	recipeBase
	Desc iv.InductionDescriptor
}

// NewScalarIVSteps creates the recipe with operands canonical IV, start and
// step.
func NewScalarIVSteps(canIV, start, step *Value, desc iv.InductionDescriptor) *ScalarIVSteps {
	r := &ScalarIVSteps{Desc: desc}
	r.init(r, KindScalarIVSteps, nil, canIV, start, step)
	r.define()
	return r
}

// CanonicalIV returns the canonical induction recipe the steps are based on.
func (r *ScalarIVSteps) CanonicalIV() *CanonicalIVPHI {
	c, _ := r.Operand(0).Def().(*CanonicalIVPHI)
	return c
}

func (r *ScalarIVSteps) StartValue() *Value { return r.Operand(1) }
func (r *ScalarIVSteps) StepValue() *Value  { return r.Operand(2) }

// IsCanonical reports whether the steps start where the canonical induction
// starts and step by a live-in constant one.
func (r *ScalarIVSteps) IsCanonical() bool {
	can := r.CanonicalIV()
	if can == nil || can.StartValue() != r.StartValue() {
		return false
	}
	step := r.StepValue()
	if step.Def() != nil {
		return false
	}
	c, ok := step.LiveInIRValue().(*ir.Const)
	return ok && c.Type().IsInt() && c.IsOne()
}

func (r *ScalarIVSteps) UsesScalars(op *Value) bool {
	r.mustUse(op)
	return true
}

func (r *ScalarIVSteps) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	return true
}

func (r *ScalarIVSteps) Execute(s *State) {
	b := s.Builder
	start := r.StartValue().LiveInIRValue()
	check(start != nil, "scalar induction steps start is not a live-in")
	ty := start.Type()

	restoreFMF := b.PreserveFastMathFlags()
	defer restoreFMF()
	if r.Desc.Kind == iv.InductionFP {
		b.SetFastMathFlags(r.Desc.FastMath)
	}

	step := s.GetLane(r.StepValue(), Instance{})
	scalarIV := s.GetLane(r.Operand(0), Instance{})
	if !r.IsCanonical() || scalarIV.Type() != ty {
		if ty.IsFloat() {
			scalarIV = b.CreateCast(ir.OpSIToFP, scalarIV, ty, "")
		} else {
			scalarIV = b.CreateSExtOrTrunc(scalarIV, ty, "")
		}
		scalarIV = emitTransformedIndex(b, scalarIV, start, step, &r.Desc)
		if i, ok := scalarIV.(*ir.Inst); ok {
			i.SetName("offset.idx")
		}
	}

	if s.VF.IsVector() {
		r.buildScalarSteps(s, scalarIV, step)
		return
	}
	for part := 0; part < s.UF; part++ {
		var v ir.Value
		if ty.IsFloat() {
			idx := runtimeVFAsFloat(b, ty, s.VF, part)
			v = b.CreateBinOp(r.Desc.BinOp, scalarIV, b.CreateBinOp(ir.OpFMul, idx, step, ""), "")
		} else {
			idx := stepForVF(b, ty, s.VF, part)
			v = b.CreateAdd(scalarIV, b.CreateMul(idx, step, "", false, false), "induction", false, false)
		}
		s.Set(r.Result(), v, part)
	}
}

func (r *ScalarIVSteps) buildScalarSteps(s *State, scalarIV, step ir.Value) {
	b := s.Builder
	ty := scalarIV.Type()
	addOp, mulOp := ir.OpAdd, ir.OpMul
	if ty.IsFloat() {
		addOp, mulOp = r.Desc.BinOp, ir.OpFMul
	}
	intTy := ir.Int(ty.Bits)

	firstLaneOnly := OnlyFirstLaneUsed(r.Result())
	lanes := s.VF.Min
	if firstLaneOnly {
		lanes = 1
	}

	var unitSteps, splatStep, splatIV ir.Value
	vectorToo := !firstLaneOnly && s.VF.Scalable
	if vectorToo {
		unitSteps = b.CreateStepVector(ir.VectorOf(intTy, s.VF), "")
		splatStep = b.CreateVectorSplat(s.VF, step, "")
		splatIV = b.CreateVectorSplat(s.VF, scalarIV, "")
	}

	for part := 0; part < s.UF; part++ {
		start0 := stepForVF(b, intTy, s.VF, part)
		if vectorToo {
			init := b.CreateAdd(b.CreateVectorSplat(s.VF, start0, ""), unitSteps, "", false, false)
			if ty.IsFloat() {
				init = b.CreateCast(ir.OpSIToFP, init, ir.VectorOf(ty, s.VF), "")
			}
			mul := b.CreateBinOp(mulOp, init, splatStep, "")
			s.Set(r.Result(), b.CreateBinOp(addOp, splatIV, mul, ""), part)
		}
		if ty.IsFloat() {
			start0 = b.CreateCast(ir.OpSIToFP, start0, ty, "")
		}
		for lane := 0; lane < lanes; lane++ {
			var laneC ir.Value
			if ty.IsFloat() {
				laneC = ir.ConstFloat(ty, float64(lane))
			} else {
				laneC = ir.ConstInt(ty, int64(lane))
			}
			idx := b.CreateBinOp(addOp, start0, laneC, "")
			check(s.VF.Scalable || isConst(idx), "lane index did not fold for a fixed VF")
			mul := b.CreateBinOp(mulOp, idx, step, "")
			v := b.CreateBinOp(addOp, scalarIV, mul, "")
			s.SetLane(r.Result(), v, Instance{Part: part, Lane: NewLane(lane, LaneFirst)})
		}
	}
}

func isConst(v ir.Value) bool {
	_, ok := v.(*ir.Const)
	return ok
}

// WidenCanonicalIV materializes the canonical induction as a vector
// <iv, iv+1, ..., iv+VF-1> per part.
type WidenCanonicalIV struct {
	recipeBase
}

// NewWidenCanonicalIV creates the recipe widening canIV.
func NewWidenCanonicalIV(canIV *Value) *WidenCanonicalIV {
	r := &WidenCanonicalIV{}
	r.init(r, KindWidenCanonicalIV, nil, canIV)
	r.define()
	return r
}

func (r *WidenCanonicalIV) Execute(s *State) {
	canIV := s.Get(r.Operand(0), 0)
	ty := canIV.Type()
	b := s.Builder

	restore := b.PreserveInsertPoint()
	defer restore()
	b.SetInsertPointBefore(s.CFG.PrevBB.Terminator())

	vstart := canIV
	if s.VF.IsVector() {
		vstart = b.CreateVectorSplat(s.VF, canIV, "broadcast")
	}
	for part := 0; part < s.UF; part++ {
		vstep := stepForVF(b, ty, s.VF, part)
		if s.VF.IsVector() {
			vstep = b.CreateVectorSplat(s.VF, vstep, "")
			vstep = b.CreateAdd(vstep, b.CreateStepVector(vstep.Type(), ""), "", false, false)
		}
		s.Set(r.Result(), b.CreateAdd(vstart, vstep, "vec.iv", false, false), part)
	}
}

// ExpandExpr emits a loop invariant closed-form expression once and shares
// the value across all parts.
type ExpandExpr struct {
	recipeBase
	Expr expr.Expr
}

// NewExpandExpr creates the recipe for e.
func NewExpandExpr(e expr.Expr) *ExpandExpr {
	r := &ExpandExpr{Expr: e}
	r.init(r, KindExpandExpr, nil)
	r.define()
	return r
}

func (r *ExpandExpr) Execute(s *State) {
	check(s.Instance == nil, "expression expansion executing an instance")
	v := s.expander().ExpandCodeFor(r.Expr, r.Expr.Type(), nil)
	for part := 0; part < s.UF; part++ {
		s.Set(r.Result(), v, part)
	}
}
