package vplan

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/vplan/internal/expr"
	"github.com/tinyrange/vplan/internal/ir"
)

// LaneKind says how a lane index is counted.
type LaneKind uint8

const (
	// LaneFirst counts from the first lane.
	LaneFirst LaneKind = iota
	// LaneScalableLast counts from the start of the last known-minimum
	// chunk of a scalable vector.
	LaneScalableLast
)

// Lane is a position within a vector.
type Lane struct {
	idx  int
	kind LaneKind
}

func NewLane(idx int, kind LaneKind) Lane { return Lane{idx: idx, kind: kind} }

// FirstLane returns lane 0.
func FirstLane() Lane { return Lane{} }

// LastLaneForVF returns the last lane of a vector of vf lanes.
func LastLaneForVF(vf ir.ElementCount) Lane {
	if vf.Scalable {
		return Lane{idx: vf.Min - 1, kind: LaneScalableLast}
	}
	return Lane{idx: vf.Min - 1}
}

func (l Lane) Kind() LaneKind    { return l.kind }
func (l Lane) IsFirstLane() bool { return l.idx == 0 && l.kind == LaneFirst }

// KnownLane returns the lane index; only valid for LaneFirst lanes.
func (l Lane) KnownLane() int {
	check(l.kind == LaneFirst, "lane %d is not known at compile time", l.idx)
	return l.idx
}

// cacheIndex maps the lane to a slot of a per-part cache of 2*VF.Min
// entries for scalable and VF.Min entries for fixed vectors.
func (l Lane) cacheIndex(vf ir.ElementCount) int {
	if l.kind == LaneScalableLast {
		return vf.Min + l.idx
	}
	return l.idx
}

// RuntimeIndex emits the lane index as an i32 value.
func (l Lane) RuntimeIndex(b *ir.Builder, vf ir.ElementCount) ir.Value {
	if l.kind == LaneFirst {
		return ir.ConstInt(ir.I32, int64(l.idx))
	}
	rvf := runtimeVF(b, ir.I32, vf)
	return b.CreateSub(rvf, ir.ConstInt(ir.I32, int64(vf.Min-l.idx)), "", false, false)
}

func (l Lane) String() string {
	if l.kind == LaneScalableLast {
		return fmt.Sprintf("last-%d", l.idx)
	}
	return fmt.Sprint(l.idx)
}

// Instance is a (part, lane) pair.
type Instance struct {
	Part int
	Lane Lane
}

// LoopInfo records the IR blocks emitted for the vector loop.
type LoopInfo struct {
	Header *ir.Block
	Blocks []*ir.Block
}

// CFGState tracks the IR blocks emitted so far.
type CFGState struct {
	// PrevBB is the IR block emission currently happens in.
	PrevBB *ir.Block
	// PrevVPBB is the plan block emitted last.
	PrevVPBB *BasicBlock
	// VPBB2IRBB maps each emitted plan block to its IR block.
	VPBB2IRBB map[*BasicBlock]*ir.Block
	// VectorPreHeader is the IR block before the vector loop. It must end
	// in an unconditional branch.
	VectorPreHeader *ir.Block
	// ExitBB is the IR block the vector loop exits to. It defaults to the
	// successor of the preheader branch.
	ExitBB *ir.Block
}

// State is the context of one lowering of a plan: the vector width and
// unroll count, the IR emitted for every plan value and the emission cursor.
// A State is used for a single Execute call and is not safe for concurrent
// use.
type State struct {
	VF ir.ElementCount
	UF int

	// Instance is set while a replicator region is emitted for one lane.
	Instance *Instance

	Builder *ir.Builder
	CFG     CFGState

	CurrentVectorLoop *LoopInfo

	// MayGeneratePoison holds the recipes whose original instruction was
	// guarded by a condition that vectorization removes.
	MayGeneratePoison map[Recipe]bool

	// NativePath enables recipes that only the outer-loop path produces.
	NativePath bool
	// ProfileDebugInfo scales the duplication factor of debug locations by
	// the number of copies emitted per scalar instruction.
	ProfileDebugInfo bool

	Logger *slog.Logger

	plan       *Plan
	perPart    map[*Value][]ir.Value
	perLane    map[*Value][][]ir.Value
	broadcasts map[*Value]ir.Value
	// pack holds vectors still being assembled lane by lane inside
	// replicator regions.
	pack map[*Value][]ir.Value
	// loops are the vector loops emitted so far.
	loops []*LoopInfo
}

// NewState returns a lowering state for width vf and unroll count uf that
// emits through b into the function of b.
func NewState(vf ir.ElementCount, uf int, b *ir.Builder) *State {
	if vf.Min < 1 {
		panic(fmt.Sprintf("vplan: invalid vector width %s", vf))
	}
	if uf < 1 {
		panic(fmt.Sprintf("vplan: invalid unroll count %d", uf))
	}
	return &State{
		VF:                vf,
		UF:                uf,
		Builder:           b,
		CFG:               CFGState{VPBB2IRBB: make(map[*BasicBlock]*ir.Block)},
		MayGeneratePoison: make(map[Recipe]bool),
		Logger:            slog.Default(),
		perPart:           make(map[*Value][]ir.Value),
		perLane:           make(map[*Value][][]ir.Value),
		broadcasts:        make(map[*Value]ir.Value),
		pack:              make(map[*Value][]ir.Value),
	}
}

// Plan returns the plan being executed.
func (s *State) Plan() *Plan { return s.plan }

func (s *State) laneSlots() int {
	if s.VF.Scalable {
		return 2 * s.VF.Min
	}
	return s.VF.Min
}

// HasVectorValue reports whether a value was recorded for (v, part).
func (s *State) HasVectorValue(v *Value, part int) bool {
	parts, ok := s.perPart[v]
	return ok && parts[part] != nil
}

// HasScalarValue reports whether a value was recorded for (v, instance).
func (s *State) HasScalarValue(v *Value, inst Instance) bool {
	parts, ok := s.perLane[v]
	if !ok || parts[inst.Part] == nil {
		return false
	}
	return parts[inst.Part][inst.Lane.cacheIndex(s.VF)] != nil
}

// Set records the IR value of v for part. Every entry is set at most once.
func (s *State) Set(v *Value, val ir.Value, part int) {
	check(v.def != nil, "setting a value for live-in %s", v.liveIn)
	check(val != nil, "setting nil value for %s part %d", v.def.Kind(), part)
	parts, ok := s.perPart[v]
	if !ok {
		parts = make([]ir.Value, s.UF)
		s.perPart[v] = parts
	}
	check(parts[part] == nil, "value of %s part %d is already set", v.def.Kind(), part)
	parts[part] = val
}

// SetLane records the IR value of v for a single instance.
func (s *State) SetLane(v *Value, val ir.Value, inst Instance) {
	check(v.def != nil, "setting a lane value for live-in %s", v.liveIn)
	parts, ok := s.perLane[v]
	if !ok {
		parts = make([][]ir.Value, s.UF)
		s.perLane[v] = parts
	}
	if parts[inst.Part] == nil {
		parts[inst.Part] = make([]ir.Value, s.laneSlots())
	}
	idx := inst.Lane.cacheIndex(s.VF)
	check(parts[inst.Part][idx] == nil, "value of %s instance (%d, %s) is already set", v.def.Kind(), inst.Part, inst.Lane)
	parts[inst.Part][idx] = val
}

// Get returns the IR value of v for part. Live-ins are broadcast in the
// preheader; values only produced per lane are broadcast or packed into a
// vector on first use.
func (s *State) Get(v *Value, part int) ir.Value {
	if s.HasVectorValue(v, part) {
		return s.perPart[v][part]
	}
	if v.def == nil {
		return s.broadcast(v)
	}
	first := Instance{Part: part}
	check(s.HasScalarValue(v, first), "no value for %s part %d", v.def.Kind(), part)
	scalar := s.GetLane(v, first)
	if s.VF.IsScalar() {
		s.Set(v, scalar, part)
		return scalar
	}

	uniform := IsUniformAfterVectorization(v)
	lastLane := s.VF.Min - 1
	if uniform {
		lastLane = 0
	}
	if !s.HasScalarValue(v, Instance{Part: part, Lane: NewLane(lastLane, LaneFirst)}) {
		k := v.def.Kind()
		check(k == KindWidenIntOrFpInduction || k == KindScalarIVSteps,
			"%s recipe only has a value for lane 0", k)
		uniform, lastLane = true, 0
	}
	last := s.GetLane(v, Instance{Part: part, Lane: NewLane(lastLane, LaneFirst)})

	restore := s.Builder.PreserveInsertPoint()
	defer restore()
	if i, ok := last.(*ir.Inst); ok && i.Block() != nil {
		if i.Opcode() == ir.OpPhi {
			s.Builder.SetInsertPointBefore(i.Block().FirstInsertionPt())
		} else {
			s.Builder.SetInsertPointAfter(i)
		}
	}

	var vec ir.Value
	if uniform {
		vec = s.Builder.CreateVectorSplat(s.VF, scalar, "broadcast")
	} else {
		check(!s.VF.Scalable, "cannot pack lanes into a scalable vector")
		vec = ir.PoisonOf(ir.VectorOf(scalar.Type(), s.VF))
		for lane := 0; lane < s.VF.Min; lane++ {
			elt := s.GetLane(v, Instance{Part: part, Lane: NewLane(lane, LaneFirst)})
			vec = s.Builder.CreateInsertElement(vec, elt, ir.ConstInt(ir.I32, int64(lane)), "")
		}
	}
	s.Set(v, vec, part)
	return vec
}

// GetLane returns the scalar IR value of v for one instance, extracting it
// from the part's vector when no scalar was recorded.
func (s *State) GetLane(v *Value, inst Instance) ir.Value {
	if v.def == nil {
		return v.liveIn
	}
	if s.HasScalarValue(v, inst) {
		return s.perLane[v][inst.Part][inst.Lane.cacheIndex(s.VF)]
	}
	if r, ok := v.def.(*Replicate); ok && r.IsUniform && !inst.Lane.IsFirstLane() {
		first := Instance{Part: inst.Part}
		if s.HasScalarValue(v, first) {
			return s.GetLane(v, first)
		}
	}
	check(s.HasVectorValue(v, inst.Part), "no value for %s part %d", v.def.Kind(), inst.Part)
	vec := s.perPart[v][inst.Part]
	if !vec.Type().IsVector() {
		check(inst.Lane.IsFirstLane(), "cannot get lane %s of a scalar", inst.Lane)
		return vec
	}
	return s.Builder.CreateExtractElement(vec, inst.Lane.RuntimeIndex(s.Builder, s.VF), "")
}

// packTo records val as the vector assembled so far for v in the part of
// inst.
func (s *State) packTo(v *Value, val ir.Value, inst Instance) {
	parts, ok := s.pack[v]
	if !ok {
		parts = make([]ir.Value, s.UF)
		s.pack[v] = parts
	}
	parts[inst.Part] = val
}

// packLane inserts the lane value of v for inst into the vector being
// assembled, starting from poison at lane 0.
func (s *State) packLane(v *Value, inst Instance) {
	check(!s.VF.Scalable, "cannot pack lanes into a scalable vector")
	elt := s.GetLane(v, inst)
	var vec ir.Value
	if parts := s.pack[v]; parts != nil {
		vec = parts[inst.Part]
	}
	if vec == nil {
		check(inst.Lane.IsFirstLane(), "packing %s starts at lane %s", v.def.Kind(), inst.Lane)
		vec = ir.PoisonOf(ir.VectorOf(elt.Type(), s.VF))
	}
	vec = s.Builder.CreateInsertElement(vec, elt, inst.Lane.RuntimeIndex(s.Builder, s.VF), "")
	s.packTo(v, vec, inst)
}

func (s *State) isLastPackedLane(inst Instance) bool {
	return inst.Lane.kind == LaneFirst && inst.Lane.idx == s.VF.Min-1
}

// publishPack makes the assembled vector of v the value of part.
func (s *State) publishPack(v *Value, part int) {
	parts := s.pack[v]
	check(parts != nil && parts[part] != nil, "no packed vector for %s part %d", v.def.Kind(), part)
	s.Set(v, parts[part], part)
	parts[part] = nil
}

func (s *State) broadcast(v *Value) ir.Value {
	if s.VF.IsScalar() {
		return v.liveIn
	}
	if b, ok := s.broadcasts[v]; ok {
		return b
	}
	restore := s.Builder.PreserveInsertPoint()
	if pre := s.CFG.VectorPreHeader; pre != nil && pre.Terminator() != nil {
		s.Builder.SetInsertPointBefore(pre.Terminator())
	}
	b := s.Builder.CreateVectorSplat(s.VF, v.liveIn, "broadcast")
	restore()
	s.broadcasts[v] = b
	return b
}

// AddMetadata copies the metadata of the scalar instruction onto the emitted
// value, when it is an instruction.
func (s *State) AddMetadata(to ir.Value, from *ir.Inst) {
	i, ok := to.(*ir.Inst)
	if !ok || from == nil {
		return
	}
	for k, v := range from.AllMetadata() {
		i.SetMetadata(k, v)
	}
}

// SetDebugLocFromInst makes the builder tag new instructions with the
// location of i.
func (s *State) SetDebugLocFromInst(i *ir.Inst) {
	if i == nil {
		s.Builder.SetCurrentDebugLoc(ir.DebugLoc{})
		return
	}
	dl := i.DebugLoc()
	if s.ProfileDebugInfo {
		dl = dl.WithDuplicationFactor(s.UF * s.VF.Min)
	}
	s.Builder.SetCurrentDebugLoc(dl)
}

// preheaderFor returns the IR preheader of the loop holding r.
func (s *State) preheaderFor(Recipe) *ir.Block {
	check(s.CFG.VectorPreHeader != nil, "no vector preheader")
	return s.CFG.VectorPreHeader
}

// atPreheaderEnd moves the builder before the preheader terminator and
// returns a func restoring the previous position.
func (s *State) atPreheaderEnd(r Recipe) func() {
	restore := s.Builder.PreserveInsertPoint()
	ph := s.preheaderFor(r)
	if t := ph.Terminator(); t != nil {
		s.Builder.SetInsertPointBefore(t)
	} else {
		s.Builder.SetInsertPoint(ph)
	}
	return restore
}

func (s *State) expander() *expr.Expander {
	return expr.NewExpander(s.Builder, "induction")
}

// stepForVF returns step * VF as a value of the integer type t.
func stepForVF(b *ir.Builder, t ir.Type, vf ir.ElementCount, step int) ir.Value {
	c := ir.ConstInt(t, int64(step*vf.Min))
	if !vf.Scalable || c.IsZero() {
		return c
	}
	return b.CreateVScale(c, "")
}

func runtimeVF(b *ir.Builder, t ir.Type, vf ir.ElementCount) ir.Value {
	return stepForVF(b, t, vf, 1)
}

func runtimeVFAsFloat(b *ir.Builder, t ir.Type, vf ir.ElementCount, step int) ir.Value {
	if !vf.Scalable {
		return ir.ConstFloat(t, float64(step*vf.Min))
	}
	n := stepForVF(b, ir.Int(t.Bits), vf, step)
	return b.CreateCast(ir.OpUIToFP, n, t, "")
}
