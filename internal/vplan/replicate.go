package vplan

import (
	"github.com/tinyrange/vplan/internal/ir"
)

// Replicate emits clones of a scalar instruction, one per lane and part.
type Replicate struct {
	recipeBase
	// IsUniform marks instructions whose lanes all compute the same value;
	// only lane 0 of each part is emitted.
	IsUniform bool
	// IsPredicated marks instructions emitted inside a replicator region
	// under a per-lane mask.
	IsPredicated bool
	// AlsoPack additionally assembles the lanes into a vector for vector
	// users.
	AlsoPack bool
}

// NewReplicate creates a Replicate recipe for inst. The operands mirror
// the operands of inst.
func NewReplicate(inst *ir.Inst, operands []*Value, uniform, predicated bool) *Replicate {
	if len(operands) != inst.NumOperands() {
		panic("vplan: replicate operands do not match " + inst.Opcode().String())
	}
	r := &Replicate{IsUniform: uniform, IsPredicated: predicated}
	r.init(r, KindReplicate, inst, operands...)
	if !inst.Type().IsVoid() {
		r.define()
	}
	return r
}

func (r *Replicate) UsesScalars(op *Value) bool {
	r.mustUse(op)
	return true
}

func (r *Replicate) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	return r.IsUniform
}

func (r *Replicate) Execute(s *State) {
	inst := r.mustUnderlying()

	if s.Instance != nil {
		check(!s.VF.Scalable, "cannot scalarize a scalable VF")
		r.scalarize(s, *s.Instance)
		if r.AlsoPack && s.VF.IsVector() && len(r.Defs()) > 0 {
			s.packLane(r.Result(), *s.Instance)
			// A predicated value is published by the phi merging it.
			if !r.IsPredicated && s.isLastPackedLane(*s.Instance) {
				s.publishPack(r.Result(), s.Instance.Part)
			}
		}
		return
	}

	if r.IsUniform {
		op := inst.Opcode()
		if (op == ir.OpLoad || op == ir.OpStore) && r.allOperandsInvariant() {
			// Uniform across parts too: one copy serves every part.
			r.scalarize(s, Instance{})
			if len(r.Defs()) > 0 && r.Result().NumUsers() > 0 {
				v := s.GetLane(r.Result(), Instance{})
				for part := 1; part < s.UF; part++ {
					s.SetLane(r.Result(), v, Instance{Part: part})
				}
			}
			return
		}
		for part := 0; part < s.UF; part++ {
			r.scalarize(s, Instance{Part: part})
		}
		return
	}

	// Only the last store to an invariant address is observable.
	if inst.Opcode() == ir.OpStore && r.Operand(1).Def() == nil {
		r.scalarize(s, Instance{Part: s.UF - 1, Lane: LastLaneForVF(s.VF)})
		return
	}

	check(!s.VF.Scalable, "cannot scalarize a scalable VF")
	for part := 0; part < s.UF; part++ {
		for lane := 0; lane < s.VF.Min; lane++ {
			r.scalarize(s, Instance{Part: part, Lane: NewLane(lane, LaneFirst)})
		}
	}
}

func (r *Replicate) allOperandsInvariant() bool {
	for _, op := range r.Operands() {
		if !op.DefinedOutsideVectorRegions() {
			return false
		}
	}
	return true
}

// scalarize emits one clone of the instruction for inst.
func (r *Replicate) scalarize(s *State, inst Instance) {
	orig := r.mustUnderlying()
	s.SetDebugLocFromInst(orig)

	clone := orig.Clone()
	if !orig.Type().IsVoid() {
		clone.SetName(orig.Name() + ".cloned")
	}
	// The address computation of a load or store that lost its guard must
	// not carry flags that assumed it.
	if s.MayGeneratePoison[r] {
		clone.DropPoisonGeneratingFlags()
	}
	clone.SetDebugLoc(s.Builder.CurrentDebugLoc())

	for i, op := range r.Operands() {
		in := inst
		if rep, ok := op.Def().(*Replicate); ok && rep.IsUniform {
			in.Lane = FirstLane()
		}
		clone.SetOperand(i, s.GetLane(op, in))
	}
	s.AddMetadata(clone, orig)
	s.Builder.Insert(clone, "")
	if len(r.Defs()) > 0 {
		s.SetLane(r.Result(), clone, inst)
	}
}

// Blend merges the incoming values of a phi whose control flow was
// linearized, selecting by the mask of each incoming edge. Operands are
// in0 [, mask0], in1, mask1, ...: a single incoming value has no mask.
type Blend struct {
	recipeBase
}

// NewBlend creates a Blend recipe for phi.
func NewBlend(phi *ir.Inst, operands ...*Value) *Blend {
	if len(operands) == 0 || (len(operands) != 1 && len(operands)%2 != 0) {
		panic("vplan: blend needs one incoming value or value and mask pairs")
	}
	r := &Blend{}
	r.init(r, KindBlend, phi, operands...)
	r.define()
	return r
}

// NumIncoming returns the number of incoming values.
func (r *Blend) NumIncoming() int { return (r.NumOperands() + 1) / 2 }

func (r *Blend) IncomingValue(i int) *Value { return r.Operand(2 * i) }
func (r *Blend) Mask(i int) *Value          { return r.Operand(2*i + 1) }

func (r *Blend) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	return OnlyFirstLaneUsed(r.Result())
}

func (r *Blend) Execute(s *State) {
	phi := r.mustUnderlying()
	s.SetDebugLocFromInst(phi)

	// select(m3, in3, select(m2, in2, select(m1, in1, in0)))
	entry := make([]ir.Value, s.UF)
	for in := 0; in < r.NumIncoming(); in++ {
		for part := 0; part < s.UF; part++ {
			v := s.Get(r.IncomingValue(in), part)
			if in == 0 {
				entry[part] = v
				continue
			}
			cond := s.Get(r.Mask(in), part)
			entry[part] = s.Builder.CreateSelect(cond, v, entry[part], "predphi")
		}
	}
	for part, v := range entry {
		s.Set(r.Result(), v, part)
	}
}

// BranchOnMask ends the block guarding a predicated replicated instruction
// with a branch on the lane's mask bit. Without a mask the branch is always
// taken.
type BranchOnMask struct {
	recipeBase
}

// NewBranchOnMask creates the branch; mask may be nil for an all-true mask.
func NewBranchOnMask(mask *Value) *BranchOnMask {
	r := &BranchOnMask{}
	if mask != nil {
		r.init(r, KindBranchOnMask, nil, mask)
	} else {
		r.init(r, KindBranchOnMask, nil)
	}
	return r
}

// Mask returns the mask operand, or nil when all lanes are active.
func (r *BranchOnMask) Mask() *Value {
	if r.NumOperands() == 0 {
		return nil
	}
	return r.Operand(0)
}

func (r *BranchOnMask) UsesScalars(op *Value) bool {
	r.mustUse(op)
	return true
}

func (r *BranchOnMask) Execute(s *State) {
	check(s.Instance != nil, "branch on mask outside of an instance")
	part := s.Instance.Part
	lane := s.Instance.Lane.KnownLane()

	var bit ir.Value = ir.ConstBool(true)
	if mask := r.Mask(); mask != nil {
		bit = s.Get(mask, part)
		if bit.Type().IsVector() {
			bit = s.Builder.CreateExtractElement(bit, ir.ConstInt(ir.I32, int64(lane)), "")
		}
	}
	// Both targets are created later by the region emitting this lane.
	br := s.Builder.CreateCondBr(bit, nil, nil)
	s.replacePlaceholderTerminator(br)
}
