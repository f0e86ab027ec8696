package vplan

import (
	"fmt"

	"github.com/tinyrange/vplan/internal/ir"
)

// RecipeKind is the closed set of recipe kinds.
type RecipeKind uint8

const (
	KindInvalid RecipeKind = iota
	KindInstruction
	KindWiden
	KindWidenSelect
	KindWidenGEP
	KindWidenCall
	KindWidenMemory
	KindReplicate
	KindBlend
	KindBranchOnMask
	KindPredInstPHI
	KindReduction
	KindExpandExpr
	KindScalarIVSteps
	KindWidenCanonicalIV
	KindCanonicalIVPHI
	KindWidenIntOrFpInduction
	KindWidenPointerInduction
	KindFirstOrderRecurrencePHI
	KindReductionPHI
	KindWidenPHI
)

var kindNames = [...]string{
	KindInvalid:                 "invalid",
	KindInstruction:             "instruction",
	KindWiden:                   "widen",
	KindWidenSelect:             "widen-select",
	KindWidenGEP:                "widen-gep",
	KindWidenCall:               "widen-call",
	KindWidenMemory:             "widen-memory",
	KindReplicate:               "replicate",
	KindBlend:                   "blend",
	KindBranchOnMask:            "branch-on-mask",
	KindPredInstPHI:             "pred-inst-phi",
	KindReduction:               "reduction",
	KindExpandExpr:              "expand-expr",
	KindScalarIVSteps:           "scalar-iv-steps",
	KindWidenCanonicalIV:        "widen-canonical-iv",
	KindCanonicalIVPHI:          "canonical-iv-phi",
	KindWidenIntOrFpInduction:   "widen-int-or-fp-induction",
	KindWidenPointerInduction:   "widen-pointer-induction",
	KindFirstOrderRecurrencePHI: "first-order-recurrence-phi",
	KindReductionPHI:            "reduction-phi",
	KindWidenPHI:                "widen-phi",
}

func (k RecipeKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsHeaderPhi reports whether recipes of this kind live at the top of the
// loop header and receive a back-edge value after the loop is emitted.
func (k RecipeKind) IsHeaderPhi() bool {
	switch k {
	case KindCanonicalIVPHI, KindWidenIntOrFpInduction, KindWidenPointerInduction,
		KindFirstOrderRecurrencePHI, KindReductionPHI, KindWidenPHI:
		return true
	}
	return false
}

// Recipe is one node of a plan: it reads operand values, defines result
// values and knows how to emit IR for itself across all parts and lanes.
type Recipe interface {
	Kind() RecipeKind
	Parent() *BasicBlock
	Next() Recipe
	Prev() Recipe

	Operands() []*Value
	Operand(i int) *Value
	NumOperands() int
	SetOperand(i int, v *Value)
	AddOperand(v *Value)

	// Defs returns the values defined by the recipe.
	Defs() []*Value
	// Result returns the single value defined by the recipe.
	Result() *Value
	// Underlying is the scalar instruction the recipe mirrors, if any.
	Underlying() *ir.Inst
	DebugLoc() ir.DebugLoc

	MayReadFromMemory() bool
	MayWriteToMemory() bool
	MayHaveSideEffects() bool

	// UsesScalars reports whether the recipe only reads scalar lanes of op.
	UsesScalars(op *Value) bool
	// OnlyFirstLaneUsed reports whether the recipe reads only lane 0 of op.
	OnlyFirstLaneUsed(op *Value) bool

	InsertBefore(pos Recipe)
	InsertBeforeIn(bb *BasicBlock, it Recipe)
	InsertAfter(pos Recipe)
	RemoveFromParent()
	EraseFromParent() Recipe
	MoveAfter(pos Recipe)
	MoveBefore(bb *BasicBlock, it Recipe)

	// Execute emits the IR of the recipe for every part of s.
	Execute(s *State)

	print(p *printer)
	base() *recipeBase
}

// recipeBase carries the state shared by every recipe kind. It is embedded
// by the concrete recipe types.
type recipeBase struct {
	self       Recipe
	kind       RecipeKind
	parent     *BasicBlock
	prev, next *recipeBase

	operands   []*Value
	defs       []*Value
	underlying *ir.Inst
	dl         ir.DebugLoc
}

// init wires the base to its concrete recipe and registers operand uses.
func (r *recipeBase) init(self Recipe, kind RecipeKind, underlying *ir.Inst, operands ...*Value) {
	r.self = self
	r.kind = kind
	r.underlying = underlying
	if underlying != nil {
		r.dl = underlying.DebugLoc()
	}
	for _, op := range operands {
		r.AddOperand(op)
	}
}

// define adds a result value owned by the recipe.
func (r *recipeBase) define() *Value {
	v := &Value{def: r.self}
	r.defs = append(r.defs, v)
	return v
}

func (r *recipeBase) base() *recipeBase    { return r }
func (r *recipeBase) Kind() RecipeKind     { return r.kind }
func (r *recipeBase) Parent() *BasicBlock  { return r.parent }
func (r *recipeBase) Operands() []*Value   { return r.operands }
func (r *recipeBase) Operand(i int) *Value { return r.operands[i] }
func (r *recipeBase) NumOperands() int     { return len(r.operands) }
func (r *recipeBase) Defs() []*Value       { return r.defs }
func (r *recipeBase) Underlying() *ir.Inst { return r.underlying }
func (r *recipeBase) DebugLoc() ir.DebugLoc {
	return r.dl
}

// SetDebugLoc overrides the location emitted instructions are tagged with.
func (r *recipeBase) SetDebugLoc(dl ir.DebugLoc) { r.dl = dl }

func (r *recipeBase) Next() Recipe {
	if r.next == nil {
		return nil
	}
	return r.next.self
}

func (r *recipeBase) Prev() Recipe {
	if r.prev == nil {
		return nil
	}
	return r.prev.self
}

func (r *recipeBase) Result() *Value {
	check(len(r.defs) == 1, "%s recipe defines %d values, not one", r.kind, len(r.defs))
	return r.defs[0]
}

func (r *recipeBase) AddOperand(v *Value) {
	if v == nil {
		bug("nil operand for %s recipe", r.kind)
	}
	r.operands = append(r.operands, v)
	v.addUser(r.self)
}

func (r *recipeBase) SetOperand(i int, v *Value) {
	r.operands[i].removeUser(r.self)
	r.operands[i] = v
	v.addUser(r.self)
}

func (r *recipeBase) dropAllReferences() {
	for _, op := range r.operands {
		op.removeUser(r.self)
	}
	r.operands = nil
}

// UsesScalars defaults to OnlyFirstLaneUsed: a recipe reading only lane 0
// reads a scalar.
func (r *recipeBase) UsesScalars(op *Value) bool {
	return r.self.OnlyFirstLaneUsed(op)
}

func (r *recipeBase) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	return false
}

func (r *recipeBase) mustUse(op *Value) {
	for _, o := range r.operands {
		if o == op {
			return
		}
	}
	bug("%s recipe does not use the queried operand", r.kind)
}

// InsertBefore links the unlinked recipe right before pos.
func (r *recipeBase) InsertBefore(pos Recipe) {
	check(r.parent == nil, "recipe already in a block")
	pb := pos.base()
	check(pb.parent != nil, "insertion position not in any block")
	pb.parent.link(r, pb)
}

// InsertBeforeIn links the unlinked recipe into bb before it; a nil it
// appends at the end.
func (r *recipeBase) InsertBeforeIn(bb *BasicBlock, it Recipe) {
	check(r.parent == nil, "recipe already in a block")
	var pos *recipeBase
	if it != nil {
		pos = it.base()
		check(pos.parent == bb, "insertion position is not in block %s", bb.Name())
	}
	bb.link(r, pos)
}

// InsertAfter links the unlinked recipe right after pos.
func (r *recipeBase) InsertAfter(pos Recipe) {
	check(r.parent == nil, "recipe already in a block")
	pb := pos.base()
	check(pb.parent != nil, "insertion position not in any block")
	pb.parent.link(r, pb.next)
}

// RemoveFromParent unlinks the recipe, keeping its operands.
func (r *recipeBase) RemoveFromParent() {
	check(r.parent != nil, "recipe not in any block")
	r.parent.unlink(r)
}

// EraseFromParent unlinks the recipe, drops its operand uses and returns the
// recipe that followed it.
func (r *recipeBase) EraseFromParent() Recipe {
	check(r.parent != nil, "recipe not in any block")
	next := r.Next()
	r.parent.unlink(r)
	r.dropAllReferences()
	return next
}

func (r *recipeBase) MoveAfter(pos Recipe) {
	r.RemoveFromParent()
	r.InsertAfter(pos)
}

func (r *recipeBase) MoveBefore(bb *BasicBlock, it Recipe) {
	r.RemoveFromParent()
	r.InsertBeforeIn(bb, it)
}

// MayWriteToMemory classifies the recipe by kind. Pure kinds assert that the
// mirrored instruction agrees.
func (r *recipeBase) MayWriteToMemory() bool {
	switch r.kind {
	case KindWidenMemory:
		return r.self.(*WidenMemory).IsStore()
	case KindReplicate, KindWidenCall:
		return r.mustUnderlying().MayWriteToMemory()
	case KindBranchOnMask:
		return false
	case KindWidenIntOrFpInduction, KindWidenCanonicalIV, KindWidenPHI, KindBlend,
		KindWiden, KindWidenGEP, KindReduction, KindWidenSelect:
		check(r.underlying == nil || !r.underlying.MayWriteToMemory(),
			"underlying instruction of %s recipe may write to memory", r.kind)
		return false
	}
	return true
}

func (r *recipeBase) MayReadFromMemory() bool {
	switch r.kind {
	case KindWidenMemory:
		return !r.self.(*WidenMemory).IsStore()
	case KindReplicate, KindWidenCall:
		return r.mustUnderlying().MayReadFromMemory()
	case KindBranchOnMask:
		return false
	case KindWidenIntOrFpInduction, KindWidenCanonicalIV, KindWidenPHI, KindBlend,
		KindWiden, KindWidenGEP, KindReduction, KindWidenSelect:
		check(r.underlying == nil || !r.underlying.MayReadFromMemory(),
			"underlying instruction of %s recipe may read from memory", r.kind)
		return false
	}
	return true
}

func (r *recipeBase) MayHaveSideEffects() bool {
	switch r.kind {
	case KindWidenIntOrFpInduction, KindWidenPointerInduction, KindWidenCanonicalIV,
		KindWidenPHI, KindBlend, KindWiden, KindWidenGEP, KindReduction,
		KindWidenSelect, KindScalarIVSteps:
		check(r.underlying == nil || !r.underlying.MayHaveSideEffects(),
			"underlying instruction of %s recipe has side effects", r.kind)
		return false
	case KindReplicate:
		return r.mustUnderlying().MayHaveSideEffects()
	}
	return true
}

func (r *recipeBase) mustUnderlying() *ir.Inst {
	check(r.underlying != nil, "%s recipe has no underlying instruction", r.kind)
	return r.underlying
}
