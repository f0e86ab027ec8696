package vplan

import (
	"fmt"

	"github.com/tinyrange/vplan/internal/ir"
)

// Opcode is the operation of an Instruction recipe: either an IR opcode
// (binary operations and select) or one of the plan-specific opcodes below.
type Opcode int

// Plan-specific opcodes start past the IR opcode space.
const (
	OpNot Opcode = 1000 + iota
	OpICmpULE
	OpActiveLaneMask
	OpFirstOrderRecurrenceSplice
	OpCanonicalIVIncrement
	OpCanonicalIVIncrementNUW
	OpBranchOnCount
	OpBranchOnCond
)

var planOpcodeNames = map[Opcode]string{
	OpNot:                        "not",
	OpICmpULE:                    "icmp ule",
	OpActiveLaneMask:             "active lane mask",
	OpFirstOrderRecurrenceSplice: "first-order splice",
	OpCanonicalIVIncrement:       "VF * UF +",
	OpCanonicalIVIncrementNUW:    "VF * UF +(nuw)",
	OpBranchOnCount:              "branch-on-count",
	OpBranchOnCond:               "branch-on-cond",
}

// IROp returns the plan opcode for an IR opcode.
func IROp(op ir.Opcode) Opcode { return Opcode(op) }

// IR returns the IR opcode of op and whether op is one.
func (op Opcode) IR() (ir.Opcode, bool) {
	if op < OpNot {
		return ir.Opcode(op), true
	}
	return ir.OpInvalid, false
}

func (op Opcode) String() string {
	if s, ok := planOpcodeNames[op]; ok {
		return s
	}
	if o, ok := op.IR(); ok {
		return o.String()
	}
	return fmt.Sprintf("opcode(%d)", int(op))
}

// ParseOpcode resolves an IR or plan opcode name.
func ParseOpcode(s string) (Opcode, bool) {
	for op, name := range planOpcodeNames {
		if name == s {
			return op, true
		}
	}
	if op, ok := ir.ParseOpcode(s); ok {
		return IROp(op), true
	}
	return 0, false
}

func (op Opcode) isBranch() bool {
	return op == OpBranchOnCount || op == OpBranchOnCond
}

// Instruction is a recipe emitting a plan-level operation that has no
// scalar counterpart: mask and induction arithmetic, recurrence splices and
// the loop branches.
type Instruction struct {
	recipeBase
	Opcode Opcode
	fmf    ir.FastMathFlags
	name   string
}

// NewInstruction creates an Instruction recipe.
func NewInstruction(op Opcode, operands []*Value, dl ir.DebugLoc) *Instruction {
	r := &Instruction{Opcode: op}
	r.init(r, KindInstruction, nil, operands...)
	r.dl = dl
	if !op.isBranch() {
		r.define()
	}
	return r
}

// SetName sets the name given to the emitted IR.
func (r *Instruction) SetName(name string) { r.name = name }
func (r *Instruction) Name() string        { return r.name }

func (r *Instruction) FastMathFlags() ir.FastMathFlags { return r.fmf }

// SetFastMathFlags sets the flags the emitted operations carry. Only
// floating point opcodes take them.
func (r *Instruction) SetFastMathFlags(f ir.FastMathFlags) {
	o, ok := r.Opcode.IR()
	check(ok && o.IsFPMath(), "%s can't take fast-math flags", r.Opcode)
	r.fmf = f
}

func (r *Instruction) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	if r.Operand(0) != op {
		return false
	}
	switch r.Opcode {
	case OpActiveLaneMask, OpCanonicalIVIncrement, OpCanonicalIVIncrementNUW, OpBranchOnCount:
		return true
	}
	return false
}

func (r *Instruction) Execute(s *State) {
	check(s.Instance == nil, "instruction recipe executing an instance")
	restore := s.Builder.PreserveFastMathFlags()
	defer restore()
	s.Builder.SetFastMathFlags(r.fmf)
	for part := 0; part < s.UF; part++ {
		r.generate(s, part)
	}
}

func (r *Instruction) generate(s *State, part int) {
	b := s.Builder
	b.SetCurrentDebugLoc(r.dl)

	if o, ok := r.Opcode.IR(); ok && o.IsBinaryOp() {
		a := s.Get(r.Operand(0), part)
		c := s.Get(r.Operand(1), part)
		s.Set(r.Result(), b.CreateBinOp(o, a, c, r.name), part)
		return
	}

	switch r.Opcode {
	case OpNot:
		s.Set(r.Result(), b.CreateNot(s.Get(r.Operand(0), part), r.name), part)
	case OpICmpULE:
		iv := s.Get(r.Operand(0), part)
		tc := s.Get(r.Operand(1), part)
		s.Set(r.Result(), b.CreateICmpULE(iv, tc, r.name), part)
	case IROp(ir.OpSelect):
		cond := s.Get(r.Operand(0), part)
		t := s.Get(r.Operand(1), part)
		f := s.Get(r.Operand(2), part)
		s.Set(r.Result(), b.CreateSelect(cond, t, f, r.name), part)
	case OpActiveLaneMask:
		// Lane 0 of the induction against the scalar trip count.
		base := s.GetLane(r.Operand(0), Instance{Part: part})
		tc := s.GetLane(r.Operand(1), Instance{Part: part})
		predTy := ir.VectorOf(ir.I1, s.VF)
		s.Set(r.Result(), b.CreateIntrinsic(ir.IntrinsicActiveLaneMask, predTy, []ir.Value{base, tc}, "active.lane.mask"), part)
	case OpFirstOrderRecurrenceSplice:
		// Part 0 combines with the recurrence phi, later parts with the
		// previous part of the current value.
		var prev ir.Value
		if part == 0 {
			prev = s.Get(r.Operand(0), 0)
		} else {
			prev = s.Get(r.Operand(1), part-1)
		}
		if !prev.Type().IsVector() {
			s.Set(r.Result(), prev, part)
			return
		}
		cur := s.Get(r.Operand(1), part)
		s.Set(r.Result(), b.CreateVectorSplice(prev, cur, -1, r.name), part)
	case OpCanonicalIVIncrement, OpCanonicalIVIncrementNUW:
		// The canonical induction is one counter shared by all parts:
		// only part 0 computes the increment.
		var next ir.Value
		if part == 0 {
			phi := s.Get(r.Operand(0), 0)
			step := stepForVF(b, phi.Type(), s.VF, s.UF)
			next = b.CreateAdd(phi, step, "index.next", r.Opcode == OpCanonicalIVIncrementNUW, false)
		} else {
			next = s.Get(r.Result(), 0)
		}
		s.Set(r.Result(), next, part)
	case OpBranchOnCond:
		if part != 0 {
			return
		}
		cond := s.GetLane(r.Operand(0), Instance{})
		region := r.Parent().Parent()
		check(region != nil, "branch-on-cond outside of a region")
		header := s.CFG.VPBB2IRBB[region.EntryBasicBlock()]
		// The exit edge is bound by the driver once the exit block exists.
		br := b.CreateCondBr(cond, nil, nil)
		if r.Parent().IsExiting() {
			br.SetSuccessor(1, header)
		}
		s.replacePlaceholderTerminator(br)
	case OpBranchOnCount:
		if part != 0 {
			return
		}
		iv := s.Get(r.Operand(0), part)
		tc := s.GetLane(r.Operand(1), Instance{Part: part})
		cond := b.CreateICmpEQ(iv, tc, "")
		header := s.CFG.VPBB2IRBB[s.plan.VectorLoop.EntryBasicBlock()]
		check(header != nil, "branch-on-count before the loop header was emitted")
		br := b.CreateCondBr(cond, nil, header)
		s.replacePlaceholderTerminator(br)
	default:
		bug("unsupported opcode %s for instruction recipe", r.Opcode)
	}
}

// replacePlaceholderTerminator removes the temporary unreachable ending the
// current IR block now that br terminates it.
func (s *State) replacePlaceholderTerminator(br *ir.Inst) {
	bb := br.Block()
	last := bb.Last()
	check(last != nil && last.Opcode() == ir.OpUnreachable,
		"block %s has no placeholder terminator", bb.Name())
	last.EraseFromParent()
	s.Builder.SetInsertPointBefore(br)
}
