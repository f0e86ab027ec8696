package vplan

import (
	"github.com/tinyrange/vplan/internal/ir"
)

// Plan describes how one scalar loop is turned into a vector loop: the
// recipes of the vector preheader followed by the vector loop region.
type Plan struct {
	// Name labels the plan in printed output.
	Name string
	// Entry holds the recipes emitted into the vector preheader.
	Entry *BasicBlock
	// VectorLoop is the region emitted as the vector loop.
	VectorLoop *Region

	liveIns  map[ir.Value]*Value
	liveOuts []*LiveOut
}

// NewPlan returns a plan whose preheader leads into the loop region.
func NewPlan(entry *BasicBlock, loop *Region) *Plan {
	if loop.Replicator {
		panic("vplan: vector loop region cannot be a replicator")
	}
	Connect(entry, loop)
	return &Plan{Entry: entry, VectorLoop: loop, liveIns: make(map[ir.Value]*Value)}
}

// LiveIn returns the plan value standing for an IR value defined outside
// the plan, creating it on first use.
func (p *Plan) LiveIn(v ir.Value) *Value {
	if lv, ok := p.liveIns[v]; ok {
		return lv
	}
	lv := NewLiveIn(v)
	p.liveIns[v] = lv
	return lv
}

// CanonicalIV returns the canonical induction phi at the top of the loop
// header, or nil.
func (p *Plan) CanonicalIV() *CanonicalIVPHI {
	for _, r := range p.VectorLoop.EntryBasicBlock().Phis() {
		if c, ok := r.(*CanonicalIVPHI); ok {
			return c
		}
	}
	return nil
}

// AddLiveOut records that the exit phi takes the final value of v.
func (p *Plan) AddLiveOut(phi *ir.Inst, v *Value) *LiveOut {
	if phi.Opcode() != ir.OpPhi {
		panic("vplan: live-out must feed a phi, got " + phi.Opcode().String())
	}
	lo := &LiveOut{Phi: phi, op: v}
	p.liveOuts = append(p.liveOuts, lo)
	return lo
}

func (p *Plan) LiveOuts() []*LiveOut { return p.liveOuts }

// LiveOut binds a value computed in the vector loop to a phi of the scalar
// exit block.
type LiveOut struct {
	Phi *ir.Inst
	op  *Value
}

func (lo *LiveOut) Operand() *Value { return lo.op }

// FixPhi adds the incoming edge from the block the builder is in: the last
// lane of the last part, or lane 0 when the value is uniform.
func (lo *LiveOut) FixPhi(s *State) {
	lane := LastLaneForVF(s.VF)
	if IsUniformAfterVectorization(lo.op) {
		lane = FirstLane()
	}
	v := s.GetLane(lo.op, Instance{Part: s.UF - 1, Lane: lane})
	lo.Phi.AddIncoming(v, s.Builder.InsertBlock())
}
