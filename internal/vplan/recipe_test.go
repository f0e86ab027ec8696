package vplan

import (
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"github.com/tinyrange/vplan/internal/expr"
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
)

// requireInvariant runs f and requires it to abort with an *InvariantError.
func requireInvariant(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		_, ok := r.(*InvariantError)
		require.True(t, ok, "want *InvariantError panic, got %v", r)
	}()
	f()
}

func i32(v int64) *Value { return NewLiveIn(ir.ConstInt(ir.I32, v)) }
func i64(v int64) *Value { return NewLiveIn(ir.ConstInt(ir.I64, v)) }

func newNot() Recipe {
	return NewInstruction(OpNot, []*Value{NewLiveIn(ir.ConstBool(true))}, ir.DebugLoc{})
}

var pureOpcodes = []ir.Opcode{
	ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpShl,
}

func TestPureRecipesHaveNoEffects(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	a, b := i32(3), i32(4)
	ptr := NewLiveIn(ir.ConstNull(ir.Ptr))
	cond := NewLiveIn(ir.ConstBool(false))

	properties.Property("widening kinds never touch memory", prop.ForAll(
		func(opIdx, kind int) bool {
			op := pureOpcodes[opIdx%len(pureOpcodes)]
			var r Recipe
			switch kind {
			case 0:
				r = NewWiden(ir.NewInst(op, ir.I32, "x", a.LiveInIRValue(), b.LiveInIRValue()), a, b)
			case 1:
				sel := ir.NewInst(ir.OpSelect, ir.I32, "s", cond.LiveInIRValue(), a.LiveInIRValue(), b.LiveInIRValue())
				r = NewWidenSelect(sel, cond, a, b, opIdx%2 == 0)
			case 2:
				gep := ir.NewInst(ir.OpGEP, ir.Ptr, "g", ptr.LiveInIRValue(), a.LiveInIRValue())
				gep.SetSourceElementType(ir.I32)
				r = NewWidenGEP(gep, ptr, a)
			default:
				r = NewBlend(ir.NewInst(ir.OpPhi, ir.I32, "p"), a)
			}
			return !r.MayReadFromMemory() && !r.MayWriteToMemory() && !r.MayHaveSideEffects()
		},
		gen.IntRange(0, 100), gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestMemoryEffects(t *testing.T) {
	ptr := NewLiveIn(ir.ConstNull(ir.Ptr))
	val := i32(1)

	load := ir.NewInst(ir.OpLoad, ir.I32, "ld", ptr.LiveInIRValue())
	store := ir.NewInst(ir.OpStore, ir.Void, "", val.LiveInIRValue(), ptr.LiveInIRValue())

	wl := NewWidenLoad(load, ptr, nil, true, false)
	require.True(t, wl.MayReadFromMemory())
	require.False(t, wl.MayWriteToMemory())

	ws := NewWidenStore(store, ptr, val, nil, true, false)
	require.False(t, ws.MayReadFromMemory())
	require.True(t, ws.MayWriteToMemory())

	// Replicated instructions answer for what they mirror.
	rl := NewReplicate(load, []*Value{ptr}, false, false)
	require.True(t, rl.MayReadFromMemory())
	require.False(t, rl.MayWriteToMemory())
	rs := NewReplicate(store, []*Value{val, ptr}, false, true)
	require.True(t, rs.MayWriteToMemory())
	require.True(t, rs.MayHaveSideEffects())

	call := ir.NewCall("sqrtf", ir.F32, ir.AttrReadNone|ir.AttrNoUnwind|ir.AttrWillReturn, "r", ir.ConstFloat(ir.F32, 2))
	wc := NewWidenCall(call, "", NewLiveIn(ir.ConstFloat(ir.F32, 2)))
	require.False(t, wc.MayReadFromMemory())
	require.False(t, wc.MayWriteToMemory())

	bom := NewBranchOnMask(nil)
	require.False(t, bom.MayReadFromMemory())
	require.False(t, bom.MayWriteToMemory())

	// Everything else is conservative.
	require.True(t, newNot().MayHaveSideEffects())
	require.True(t, newNot().MayReadFromMemory())
}

func TestPureRecipeOverMemoryInstruction(t *testing.T) {
	ptr := NewLiveIn(ir.ConstNull(ir.Ptr))
	load := ir.NewInst(ir.OpLoad, ir.I32, "ld", ptr.LiveInIRValue())
	w := NewWiden(load, ptr)
	requireInvariant(t, func() { w.MayReadFromMemory() })
	requireInvariant(t, func() { w.MayWriteToMemory() })
	// A plain load has no side effects of its own.
	require.False(t, w.MayHaveSideEffects())

	call := ir.NewCall("g", ir.I32, 0, "c")
	require.True(t, call.MayHaveSideEffects())
	requireInvariant(t, func() { NewWiden(call).MayHaveSideEffects() })
}

func TestInsertRemoveRestoresBlock(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("insert then remove is the identity", prop.ForAll(
		func(n, pos int, after bool) bool {
			bb := NewBasicBlock("bb")
			for i := 0; i < n; i++ {
				bb.Append(newNot())
			}
			before := bb.Recipes()
			at := before[pos%n]

			r := newNot()
			if after {
				r.InsertAfter(at)
			} else {
				r.InsertBefore(at)
			}
			if r.Parent() != bb || bb.Len() != n+1 {
				return false
			}
			if after && at.Next() != r || !after && at.Prev() != r {
				return false
			}
			r.RemoveFromParent()
			return r.Parent() == nil && slices.Equal(bb.Recipes(), before)
		},
		gen.IntRange(1, 8), gen.IntRange(0, 7), gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestBlockMembershipPreconditions(t *testing.T) {
	bb := NewBasicBlock("bb")
	a, b := newNot(), newNot()
	bb.Append(a)

	requireInvariant(t, func() { a.InsertBefore(a) })
	requireInvariant(t, func() { b.RemoveFromParent() })
	requireInvariant(t, func() { b.InsertAfter(newNot()) })
	requireInvariant(t, func() { b.InsertBeforeIn(bb, newNot()) })

	b.InsertBeforeIn(bb, nil)
	require.Equal(t, []Recipe{a, b}, bb.Recipes())

	b.MoveBefore(bb, a)
	require.Equal(t, []Recipe{b, a}, bb.Recipes())
	b.MoveAfter(a)
	require.Equal(t, []Recipe{a, b}, bb.Recipes())

	next := a.EraseFromParent()
	require.Equal(t, b, next)
	require.Nil(t, a.Parent())
	require.Equal(t, []Recipe{b}, bb.Recipes())
}

func TestEraseDropsUses(t *testing.T) {
	src := newNot()
	user := NewInstruction(OpNot, []*Value{src.Result()}, ir.DebugLoc{})
	bb := NewBasicBlock("bb", src, user)
	require.Equal(t, 1, src.Result().NumUsers())

	user.EraseFromParent()
	require.Equal(t, 0, src.Result().NumUsers())
	require.Equal(t, 1, bb.Len())
}

func TestWidenIntOrFpInductionCanonical(t *testing.T) {
	phi := ir.NewInst(ir.OpPhi, ir.I64, "iv")
	zero, one := ir.ConstInt(ir.I64, 0), ir.ConstInt(ir.I64, 1)

	r := NewWidenIntOrFpInduction(phi, NewLiveIn(zero), NewLiveIn(one), iv.NewIntInduction(zero, expr.Of(one)))
	require.True(t, r.IsCanonical())

	two := ir.ConstInt(ir.I64, 2)
	r = NewWidenIntOrFpInduction(phi, NewLiveIn(two), NewLiveIn(one), iv.NewIntInduction(two, expr.Of(one)))
	require.False(t, r.IsCanonical())

	r = NewWidenIntOrFpInduction(phi, NewLiveIn(zero), NewLiveIn(two), iv.NewIntInduction(zero, expr.Of(two)))
	require.False(t, r.IsCanonical())
}

func TestScalarIVStepsCanonical(t *testing.T) {
	start := i64(0)
	can := NewCanonicalIVPHI(start, ir.DebugLoc{})
	desc := iv.NewIntInduction(start.LiveInIRValue(), expr.Of(ir.ConstInt(ir.I64, 1)))

	require.True(t, NewScalarIVSteps(can.Result(), start, i64(1), desc).IsCanonical())

	// The start has to be the very value the canonical induction starts at.
	require.False(t, NewScalarIVSteps(can.Result(), i64(0), i64(1), desc).IsCanonical())
	require.False(t, NewScalarIVSteps(can.Result(), start, i64(2), desc).IsCanonical())

	// A computed step is not canonical even when it is one.
	step := NewExpandExpr(expr.Of(ir.ConstInt(ir.I64, 1)))
	require.False(t, NewScalarIVSteps(can.Result(), start, step.Result(), desc).IsCanonical())
}

func TestHeaderPhiKinds(t *testing.T) {
	for _, k := range []RecipeKind{KindCanonicalIVPHI, KindWidenIntOrFpInduction, KindWidenPointerInduction,
		KindFirstOrderRecurrencePHI, KindReductionPHI, KindWidenPHI} {
		require.True(t, k.IsHeaderPhi(), k.String())
	}
	for _, k := range []RecipeKind{KindInstruction, KindWiden, KindBlend, KindPredInstPHI, KindReplicate} {
		require.False(t, k.IsHeaderPhi(), k.String())
	}
}

func TestParseOpcode(t *testing.T) {
	for _, op := range []Opcode{OpNot, OpICmpULE, OpActiveLaneMask, OpFirstOrderRecurrenceSplice,
		OpCanonicalIVIncrement, OpCanonicalIVIncrementNUW, OpBranchOnCount, OpBranchOnCond, IROp(ir.OpAdd)} {
		got, ok := ParseOpcode(op.String())
		require.True(t, ok, op.String())
		require.Equal(t, op, got)
	}
	_, ok := ParseOpcode("VF * UF")
	require.False(t, ok)
}

func TestFastMathOnIntegerInstruction(t *testing.T) {
	in := NewInstruction(IROp(ir.OpAdd), []*Value{i32(1), i32(2)}, ir.DebugLoc{})
	requireInvariant(t, func() { in.SetFastMathFlags(ir.FastMathFlags(1)) })
}
