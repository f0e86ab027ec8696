package vplan

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/vplan/internal/ir"
)

// Execute lowers the plan into the function of s.Builder. s.CFG.PrevBB (or
// s.CFG.VectorPreHeader) must be the vector preheader, ending in an
// unconditional branch to the block the vector loop exits to.
//
// An invariant violation aborts the lowering and is returned as an
// *InvariantError; the function is left partially emitted.
func (p *Plan) Execute(s *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			err = ie
		}
	}()

	s.plan = p
	ph := s.CFG.PrevBB
	if ph == nil {
		ph = s.CFG.VectorPreHeader
	}
	check(ph != nil, "no vector preheader")
	term := ph.Terminator()
	check(term != nil && term.Opcode() == ir.OpBr, "vector preheader %s must end in an unconditional branch", ph.Name())
	s.CFG.VectorPreHeader = ph
	s.CFG.PrevBB = ph
	s.CFG.PrevVPBB = nil
	if s.CFG.ExitBB == nil {
		s.CFG.ExitBB = term.Successor(0)
	}
	check(s.CFG.ExitBB != nil, "vector preheader %s has no successor", ph.Name())

	s.logger().Debug("lowering plan", "vf", s.VF.String(), "uf", s.UF, "preheader", ph.Name())
	s.Builder.SetInsertPointBefore(term)

	p.Entry.execute(s)
	p.VectorLoop.execute(s)

	latchVPBB := p.VectorLoop.ExitingBasicBlock()
	latch := s.CFG.VPBB2IRBB[latchVPBB]
	check(latch != nil, "vector latch %s was not emitted", latchVPBB.Name())
	p.bindExit(s, latch)
	p.fixHeaderPhis(s, latch)
	for bb := range p.VectorLoop.BasicBlocks() {
		for r := range bb.All() {
			if w, ok := r.(*WidenPHI); ok {
				w.fixIncoming(s)
			}
		}
	}
	for _, loop := range s.loops {
		for _, bb := range loop.Blocks {
			for _, phi := range bb.Phis() {
				phi.Seal()
			}
		}
	}

	exit := s.CFG.ExitBB
	if t := exit.Terminator(); t != nil {
		s.Builder.SetInsertPointBefore(t)
	} else {
		s.Builder.SetInsertPoint(exit)
	}
	for _, lo := range p.liveOuts {
		lo.FixPhi(s)
	}
	return nil
}

// bindExit points the unbound successor of the latch terminator at the exit
// block.
func (p *Plan) bindExit(s *State, latch *ir.Block) {
	t := latch.Last()
	check(t != nil, "vector latch %s is empty", latch.Name())
	if t.Opcode() == ir.OpUnreachable {
		t.EraseFromParent()
		restore := s.Builder.PreserveInsertPoint()
		s.Builder.SetInsertPoint(latch)
		s.Builder.CreateBr(s.CFG.ExitBB)
		restore()
		return
	}
	bound := 0
	for i := 0; i < t.NumSuccessors(); i++ {
		if t.Successor(i) == nil {
			t.SetSuccessor(i, s.CFG.ExitBB)
			bound++
		}
	}
	check(bound == 1, "vector latch %s has %d unbound successors", latch.Name(), bound)
}

// fixHeaderPhis adds the back-edge incoming of every header phi now that
// the latch exists.
func (p *Plan) fixHeaderPhis(s *State, latch *ir.Block) {
	header := p.VectorLoop.EntryBasicBlock()
	for _, r := range header.Phis() {
		switch r := r.(type) {
		case *WidenPHI:
			continue
		case *WidenIntOrFpInduction:
			phi, ok := s.Get(r.Result(), 0).(*ir.Inst)
			check(ok && phi.Opcode() == ir.OpPhi, "widened induction has no phi")
			moveIncrementToLatch(phi, latch)
			continue
		case *WidenPointerInduction:
			if r.OnlyScalarsGenerated(s.VF) {
				continue
			}
			gep, ok := s.Get(r.Result(), 0).(*ir.Inst)
			check(ok && gep.Opcode() == ir.OpGEP, "pointer induction has no gep")
			phi, ok := gep.Operand(0).(*ir.Inst)
			check(ok && phi.Opcode() == ir.OpPhi, "pointer induction gep is not based on a phi")
			moveIncrementToLatch(phi, latch)
			continue
		}

		var backedge *Value
		single := false
		switch r := r.(type) {
		case *CanonicalIVPHI:
			backedge, single = r.BackedgeValue(), true
		case *FirstOrderRecurrencePHI:
			backedge, single = r.BackedgeValue(), true
		case *ReductionPHI:
			backedge, single = r.BackedgeValue(), r.IsOrdered()
		default:
			bug("unexpected header phi %s", r.Kind())
		}
		check(backedge != nil, "%s has no back-edge value", r.Kind())

		// The canonical induction, first-order recurrences and ordered
		// reductions have a single phi fed by the last part.
		parts := s.UF
		if single {
			parts = 1
		}
		for part := 0; part < parts; part++ {
			phi, ok := s.Get(r.Result(), part).(*ir.Inst)
			check(ok && phi.Opcode() == ir.OpPhi, "%s part %d is not a phi", r.Kind(), part)
			from := part
			if single {
				from = s.UF - 1
			}
			phi.AddIncoming(s.Get(backedge, from), latch)
		}
		s.logger().Debug("fixed header phi", "kind", r.Kind().String(), "parts", parts)
	}
}

// moveIncrementToLatch rewires the temporary second incoming edge of an
// induction phi to the latch and moves the increment there, before the
// compare feeding the latch branch if there is one.
func moveIncrementToLatch(phi *ir.Inst, latch *ir.Block) {
	check(phi.NumIncoming() == 2, "induction phi %s has %d incoming edges", phi.Name(), phi.NumIncoming())
	phi.SetIncomingBlock(1, latch)
	inc, ok := phi.IncomingValue(1).(*ir.Inst)
	check(ok, "induction increment of %s is not an instruction", phi.Name())
	pos := latch.Terminator()
	check(pos != nil, "vector latch %s has no terminator", latch.Name())
	if pos.Opcode() == ir.OpCondBr {
		if prev := pos.Prev(); prev != nil && pos.Condition() == ir.Value(prev) {
			pos = prev
		}
	}
	inc.MoveBefore(pos)
}

func (s *State) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (bb *BasicBlock) execute(s *State) {
	replica := s.Instance != nil && !(s.Instance.Part == 0 && s.Instance.Lane.IsFirstLane())
	prev := s.CFG.PrevVPBB
	irbb := s.CFG.PrevBB

	// The current IR block is reused when
	//  - bb is the first block lowered, which goes into the preheader;
	//  - bb continues straight-line code in the same loop region: its single
	//    predecessor exits through prev and prev has a single successor;
	//  - bb is the entry of a replica of a replicator region.
	reuse := prev == nil
	if !reuse {
		if pred := singleBlock(hierarchicalPredecessors(bb)); pred != nil &&
			pred.ExitingBasicBlock() == prev &&
			singleBlock(hierarchicalSuccessors(prev)) != nil &&
			pred.Parent() == bb.EnclosingLoopRegion() && !isLoopRegion(pred) {
			reuse = true
		}
	}
	if !reuse && replica && len(bb.Predecessors()) == 0 {
		reuse = true
	}

	if !reuse {
		irbb = bb.createIRBlock(s)
		s.Builder.SetInsertPoint(irbb)
		placeholder := s.Builder.CreateUnreachable()
		if s.CurrentVectorLoop != nil {
			if s.CurrentVectorLoop.Header == nil {
				s.CurrentVectorLoop.Header = irbb
			}
			s.CurrentVectorLoop.Blocks = append(s.CurrentVectorLoop.Blocks, irbb)
		}
		s.Builder.SetInsertPointBefore(placeholder)
		s.CFG.PrevBB = irbb
	}

	s.logger().Debug("lowering block", "block", bb.name, "ir", irbb.Name(), "reused", reuse)
	s.CFG.VPBB2IRBB[bb] = irbb
	s.CFG.PrevVPBB = bb

	for r := range bb.All() {
		r.Execute(s)
	}
}

func isLoopRegion(b Block) bool {
	r, ok := b.(*Region)
	return ok && !r.Replicator
}

// createIRBlock creates the IR block of bb after the current one and binds
// the pending successors of its predecessors to it.
func (bb *BasicBlock) createIRBlock(s *State) *ir.Block {
	fn := s.CFG.PrevBB.Function()
	nb := fn.NewBlockAfter(uniqueBlockName(fn, bb.name), s.CFG.PrevBB)
	s.logger().Debug("created block", "name", nb.Name())

	for _, pred := range hierarchicalPredecessors(bb) {
		predVPBB := pred.ExitingBasicBlock()
		predBB := s.CFG.VPBB2IRBB[predVPBB]
		check(predBB != nil, "predecessor %s of %s was not emitted", predVPBB.Name(), bb.name)
		t := predBB.Last()
		check(t != nil && t.Opcode().IsTerminator(), "predecessor block %s has no terminator", predBB.Name())

		switch t.Opcode() {
		case ir.OpUnreachable:
			check(len(hierarchicalSuccessors(predVPBB)) == 1,
				"predecessor %s ending without a branch has several successors", predVPBB.Name())
			dl := t.DebugLoc()
			t.EraseFromParent()
			restore := s.Builder.PreserveInsertPoint()
			s.Builder.SetInsertPoint(predBB)
			s.Builder.CreateBr(nb).SetDebugLoc(dl)
			restore()
		case ir.OpBr:
			t.SetSuccessor(0, nb)
		case ir.OpCondBr:
			idx := 1
			if succs := hierarchicalSuccessors(predVPBB); len(succs) > 0 && succs[0] == Block(bb) {
				idx = 0
			}
			check(t.Successor(idx) == nil, "successor %d of %s is already bound", idx, predBB.Name())
			t.SetSuccessor(idx, nb)
		default:
			bug("cannot hook %s terminator of %s", t.Opcode(), predBB.Name())
		}
	}
	return nb
}

// uniqueBlockName returns name, suffixed with a number when a block of that
// name already exists in fn.
func uniqueBlockName(fn *ir.Function, name string) string {
	if _, ok := fn.Block(name); !ok {
		return name
	}
	for n := 1; ; n++ {
		cand := fmt.Sprintf("%s%d", name, n)
		if _, ok := fn.Block(cand); !ok {
			return cand
		}
	}
}

func (r *Region) execute(s *State) {
	if !r.Replicator {
		prevLoop := s.CurrentVectorLoop
		loop := &LoopInfo{}
		s.CurrentVectorLoop = loop
		s.loops = append(s.loops, loop)
		for _, b := range r.Blocks {
			b.execute(s)
		}
		s.CurrentVectorLoop = prevLoop
		return
	}

	check(s.Instance == nil, "replicating region %s inside an instance", r.name)
	check(!s.VF.Scalable, "cannot replicate region %s for a scalable VF", r.name)
	inst := &Instance{}
	s.Instance = inst
	defer func() { s.Instance = nil }()
	for part := 0; part < s.UF; part++ {
		inst.Part = part
		for lane := 0; lane < s.VF.Min; lane++ {
			inst.Lane = NewLane(lane, LaneFirst)
			for _, b := range r.Blocks {
				b.execute(s)
			}
		}
	}
}
