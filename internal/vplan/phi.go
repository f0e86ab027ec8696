package vplan

import (
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
)

// FirstOrderRecurrencePHI carries the value of the previous scalar iteration
// into the vector loop. Operand 0 is the start value, operand 1 the value of
// the current iteration once it is added.
type FirstOrderRecurrencePHI struct {
	recipeBase
}

// NewFirstOrderRecurrencePHI creates the recurrence phi of phi starting at
// start.
func NewFirstOrderRecurrencePHI(phi *ir.Inst, start *Value) *FirstOrderRecurrencePHI {
	r := &FirstOrderRecurrencePHI{}
	r.init(r, KindFirstOrderRecurrencePHI, phi, start)
	r.define()
	return r
}

func (r *FirstOrderRecurrencePHI) StartValue() *Value { return r.Operand(0) }

// BackedgeValue returns the value of the current iteration, or nil when it
// has not been added yet.
func (r *FirstOrderRecurrencePHI) BackedgeValue() *Value {
	if r.NumOperands() < 2 {
		return nil
	}
	return r.Operand(1)
}

func (r *FirstOrderRecurrencePHI) Execute(s *State) {
	b := s.Builder
	init := r.StartValue().LiveInIRValue()
	check(init != nil, "recurrence start is not a live-in")
	vecTy := ir.VectorOrScalar(init.Type(), s.VF)
	ph := s.preheaderFor(r)

	if s.VF.IsVector() {
		// The start value occupies the last lane so that the splice of the
		// first iteration sees it as the previous value.
		restore := s.atPreheaderEnd(r)
		last := b.CreateSub(runtimeVF(b, ir.I32, s.VF), ir.ConstInt(ir.I32, 1), "", false, false)
		init = b.CreateInsertElement(ir.PoisonOf(vecTy), init, last, "vector.recur.init")
		restore()
	}

	phi := ir.InsertPhi(s.CFG.PrevBB, vecTy, "vector.recur")
	phi.AddIncoming(init, ph)
	s.Set(r.Result(), phi, 0)
}

// ReductionPHI is the accumulator phi of a reduction. Unordered reductions
// get one phi per part; ordered ones a single phi chained across parts.
type ReductionPHI struct {
	recipeBase
	Desc iv.RecurrenceDescriptor
	// IsInLoop marks reductions performed in the loop body, whose
	// accumulator stays scalar.
	IsInLoop bool
}

// NewReductionPHI creates the accumulator phi of phi starting at start.
func NewReductionPHI(phi *ir.Inst, start *Value, desc iv.RecurrenceDescriptor, inLoop bool) *ReductionPHI {
	if desc.Ordered && !inLoop {
		panic("vplan: ordered reduction must be performed in the loop")
	}
	r := &ReductionPHI{Desc: desc, IsInLoop: inLoop}
	r.init(r, KindReductionPHI, phi, start)
	r.define()
	return r
}

func (r *ReductionPHI) StartValue() *Value { return r.Operand(0) }

func (r *ReductionPHI) BackedgeValue() *Value {
	if r.NumOperands() < 2 {
		return nil
	}
	return r.Operand(1)
}

// IsOrdered reports whether the reduction keeps the scalar evaluation order.
func (r *ReductionPHI) IsOrdered() bool { return r.Desc.IsOrdered() }

// numParts returns how many phis the recipe creates.
func (r *ReductionPHI) numParts(uf int) int {
	if r.IsOrdered() {
		return 1
	}
	return uf
}

func (r *ReductionPHI) Execute(s *State) {
	phi := r.mustUnderlying()
	b := s.Builder

	scalarPHI := s.VF.IsScalar() || r.IsInLoop
	vecTy := phi.Type()
	if !scalarPHI {
		vecTy = ir.VectorOf(phi.Type(), s.VF)
	}

	header := s.CFG.PrevBB
	check(s.CurrentVectorLoop != nil && s.CurrentVectorLoop.Header == header,
		"reduction phi must be in the vector loop header")
	parts := r.numParts(s.UF)
	phis := make([]*ir.Inst, parts)
	for part := range phis {
		phis[part] = ir.InsertPhi(header, vecTy, "vec.phi")
		s.Set(r.Result(), phis[part], part)
	}

	ph := s.preheaderFor(r)
	start := r.StartValue().LiveInIRValue()
	check(start != nil, "reduction start is not a live-in")

	var ident ir.Value
	if r.Desc.Kind.IsMinMax() || r.Desc.Kind.IsSelectCmp() {
		// No neutral element: every part starts from the start value.
		if scalarPHI {
			ident = start
		} else {
			restore := s.atPreheaderEnd(r)
			start = b.CreateVectorSplat(s.VF, start, "minmax.ident")
			ident = start
			restore()
		}
	} else {
		ident = r.Desc.Identity(vecTy.ScalarType())
		if !scalarPHI {
			restore := s.atPreheaderEnd(r)
			ident = b.CreateVectorSplat(s.VF, ident, "")
			start = b.CreateInsertElement(ident, start, ir.ConstInt(ir.I32, 0), "")
			restore()
		}
	}

	// Only part 0 starts from the start value, so it is counted once.
	for part, p := range phis {
		v := ident
		if part == 0 {
			v = start
		}
		p.AddIncoming(v, ph)
	}
}

// WidenPHI widens a phi of an inner block of an outer loop. Incoming values
// are added once every predecessor has been emitted.
type WidenPHI struct {
	recipeBase
	incoming []*BasicBlock
}

// NewWidenPHI creates the recipe for phi. Incoming edges are added with
// AddIncoming.
func NewWidenPHI(phi *ir.Inst) *WidenPHI {
	r := &WidenPHI{}
	r.init(r, KindWidenPHI, phi)
	r.define()
	return r
}

// AddIncoming adds v as the value flowing in from bb.
func (r *WidenPHI) AddIncoming(v *Value, bb *BasicBlock) {
	r.AddOperand(v)
	r.incoming = append(r.incoming, bb)
}

func (r *WidenPHI) IncomingBlock(i int) *BasicBlock { return r.incoming[i] }

func (r *WidenPHI) Execute(s *State) {
	check(s.NativePath, "widen phi outside of the native path")

	// In a loop header the type is taken from the value coming from the
	// preheader, which is already emitted.
	parent := r.Parent()
	startIdx := 0
	if loop := parent.EnclosingLoopRegion(); loop != nil && loop.EntryBasicBlock() == parent {
		if pred := singleBlock(loop.Predecessors()); pred != nil {
			for i := range r.Operands() {
				if r.incoming[i] == pred.ExitingBasicBlock() {
					startIdx = i
				}
			}
		}
	}
	op0 := s.Get(r.Operand(startIdx), 0)
	phi := ir.InsertPhi(s.Builder.InsertBlock(), op0.Type(), "vec.phi")
	s.Set(r.Result(), phi, 0)
}

// fixIncoming adds the incoming edges of the emitted phi.
func (r *WidenPHI) fixIncoming(s *State) {
	phi, ok := s.Get(r.Result(), 0).(*ir.Inst)
	check(ok, "widen phi has no emitted phi")
	for i, op := range r.Operands() {
		bb := s.CFG.VPBB2IRBB[r.incoming[i]]
		check(bb != nil, "incoming block %s of widen phi was not emitted", r.incoming[i].Name())
		phi.AddIncoming(s.Get(op, 0), bb)
	}
}

// PredInstPHI merges the result of a predicated replicated instruction with
// poison (or the unmodified vector being packed) on the path where the
// instruction did not execute.
type PredInstPHI struct {
	recipeBase
}

// NewPredInstPHI creates the merge for the predicated value v.
func NewPredInstPHI(v *Value) *PredInstPHI {
	r := &PredInstPHI{}
	r.init(r, KindPredInstPHI, nil, v)
	r.define()
	return r
}

func (r *PredInstPHI) UsesScalars(op *Value) bool {
	r.mustUse(op)
	return true
}

func (r *PredInstPHI) Execute(s *State) {
	check(s.Instance != nil, "predicated instruction phi outside of an instance")
	inst := *s.Instance
	op := r.Operand(0)
	_, isReplicate := op.Def().(*Replicate)
	check(isReplicate, "predicated instruction phi of a %s recipe", kindOf(op))

	scalar, ok := s.GetLane(op, inst).(*ir.Inst)
	check(ok, "predicated value is not an instruction")
	predicated := scalar.Block()
	predicating := predicated.SinglePredecessor()
	check(predicating != nil, "predicated block %s has no single predecessor", predicated.Name())

	b := s.Builder
	part := inst.Part
	if vec, packing := s.pack[op]; packing && vec[part] != nil {
		// The lane was inserted into the vector in the predicated block;
		// merge it with the vector of the previous lanes.
		ins, ok := vec[part].(*ir.Inst)
		check(ok && ins.Opcode() == ir.OpInsertElement, "packed value is not an insertelement")
		vphi := b.CreatePHI(ins.Type(), "")
		vphi.AddIncoming(ins.Operand(0), predicating)
		vphi.AddIncoming(ins, predicated)
		vec[part] = vphi
		s.packTo(r.Result(), vphi, inst)
		if s.isLastPackedLane(inst) {
			s.publishPack(op, part)
			s.publishPack(r.Result(), part)
		}
		return
	}

	phi := b.CreatePHI(scalar.Type(), "")
	phi.AddIncoming(ir.PoisonOf(scalar.Type()), predicating)
	phi.AddIncoming(scalar, predicated)
	s.SetLane(r.Result(), phi, inst)
}

func kindOf(v *Value) string {
	if v.Def() == nil {
		return "live-in"
	}
	return v.Def().Kind().String()
}
