package vplan

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyrange/vplan/internal/expr"
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
)

// newBodyState returns a state emitting into the single block of a fresh
// function.
func newBodyState(vf ir.ElementCount, uf int) (*ir.Function, *ir.Block, *State) {
	fn := ir.NewFunction("f")
	bb := fn.NewBlock("body")
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(bb)
	return fn, bb, NewState(vf, uf, b)
}

// partValues defines a plan value whose parts are fresh function arguments
// of type ty.
func partValues(s *State, fn *ir.Function, name string, ty ir.Type) (Recipe, []ir.Value) {
	r := newNot()
	vals := make([]ir.Value, s.UF)
	for part := range vals {
		vals[part] = fn.AddArg(fmt.Sprintf("%s.%d", name, part), ty)
		s.Set(r.Result(), vals[part], part)
	}
	return r, vals
}

func TestWidenCanonicalIVPerPart(t *testing.T) {
	lf := newLoopFunc()
	loop := newCountedLoop(lf.n)
	w := NewWidenCanonicalIV(loop.can.Result())
	w.InsertAfter(loop.can)

	s := lf.state(ir.Fixed(4), 3)
	require.NoError(t, loop.plan.Execute(s))

	index := s.Get(loop.can.Result(), 0)
	var broadcast ir.Value
	for part, lanes := range [][]int64{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9, 10, 11}} {
		v, ok := s.Get(w.Result(), part).(*ir.Inst)
		require.True(t, ok)
		require.Equal(t, ir.OpAdd, v.Opcode())
		require.Equal(t, "vec.iv", v.Name())
		require.Equal(t, ir.VectorOf(ir.I64, ir.Fixed(4)), v.Type())

		// One broadcast of the induction serves every part.
		if broadcast == nil {
			broadcast = v.Operand(0)
		}
		require.Equal(t, broadcast, v.Operand(0))

		step, ok := v.Operand(1).(*ir.Const)
		require.True(t, ok, "part %d step is %v", part, v.Operand(1))
		require.Equal(t, lanes, step.Ints())
	}

	splat, ok := broadcast.(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpShuffleVector, splat.Opcode())
	ins, ok := splat.Operand(0).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, index, ins.Operand(1))
}

func TestWidenSelectCondition(t *testing.T) {
	for _, invariant := range []bool{false, true} {
		t.Run(fmt.Sprint("invariant=", invariant), func(t *testing.T) {
			fn, bb, s := newBodyState(ir.Fixed(4), 2)
			cond, conds := partValues(s, fn, "c", ir.VectorOf(ir.I1, ir.Fixed(4)))
			tv, ts := partValues(s, fn, "t", ir.VectorOf(ir.I32, ir.Fixed(4)))
			fv, fs := partValues(s, fn, "f", ir.VectorOf(ir.I32, ir.Fixed(4)))

			sel := NewWidenSelect(ir.NewInst(ir.OpSelect, ir.I32, "sel"), cond.Result(), tv.Result(), fv.Result(), invariant)
			sel.Execute(s)

			var first ir.Value
			for part := 0; part < s.UF; part++ {
				v, ok := s.Get(sel.Result(), part).(*ir.Inst)
				require.True(t, ok)
				require.Equal(t, ir.OpSelect, v.Opcode())
				require.Equal(t, ts[part], v.Operand(1))
				require.Equal(t, fs[part], v.Operand(2))
				if !invariant {
					require.Equal(t, conds[part], v.Operand(0))
					continue
				}
				if first == nil {
					first = v.Operand(0)
				}
				require.Equal(t, first, v.Operand(0), "part %d", part)
			}
			if !invariant {
				require.Equal(t, 2, bb.Len())
				return
			}

			// Lane 0 of part 0, extracted once.
			ext, ok := first.(*ir.Inst)
			require.True(t, ok)
			require.Equal(t, ir.OpExtractElement, ext.Opcode())
			require.Equal(t, conds[0], ext.Operand(0))
			idx, ok := ext.Operand(1).(*ir.Const)
			require.True(t, ok)
			require.True(t, idx.IsZero())
			require.Equal(t, 3, bb.Len())
		})
	}
}

func TestActiveLaneMask(t *testing.T) {
	fn, _, s := newBodyState(ir.Fixed(4), 2)
	n := fn.AddArg("n", ir.I64)
	base, bases := partValues(s, fn, "iv", ir.I64)

	alm := NewInstruction(OpActiveLaneMask, []*Value{base.Result(), NewLiveIn(n)}, ir.DebugLoc{})
	alm.Execute(s)
	for part := 0; part < s.UF; part++ {
		v, ok := s.Get(alm.Result(), part).(*ir.Inst)
		require.True(t, ok)
		require.Equal(t, ir.OpCall, v.Opcode())
		require.Equal(t, ir.IntrinsicActiveLaneMask, v.Callee())
		require.Equal(t, "active.lane.mask", v.Name())
		require.Equal(t, ir.VectorOf(ir.I1, ir.Fixed(4)), v.Type())
		require.Equal(t, bases[part], v.Operand(0))
		require.Equal(t, ir.Value(n), v.Operand(1))
	}

	// Known bounds fold: lanes 6 and 7 are below the trip count of 8.
	_, bb, s := newBodyState(ir.Fixed(4), 1)
	alm = NewInstruction(OpActiveLaneMask, []*Value{i64(6), i64(8)}, ir.DebugLoc{})
	alm.Execute(s)
	c, ok := s.Get(alm.Result(), 0).(*ir.Const)
	require.True(t, ok)
	var got []uint64
	for lane := 0; lane < 4; lane++ {
		got = append(got, c.Uint(lane))
	}
	require.Equal(t, []uint64{1, 1, 0, 0}, got)
	require.Equal(t, 0, bb.Len())
}

func TestBranchOnCond(t *testing.T) {
	lf := newLoopFunc()
	done := lf.fn.AddArg("done", ir.I1)

	can := NewCanonicalIVPHI(i64(0), ir.DebugLoc{})
	inc := NewInstruction(OpCanonicalIVIncrementNUW, []*Value{can.Result()}, ir.DebugLoc{})
	can.AddOperand(inc.Result())
	br := NewInstruction(OpBranchOnCond, []*Value{NewLiveIn(done)}, ir.DebugLoc{})
	body := NewBasicBlock("vector.body", can, inc, br)
	plan := NewPlan(NewBasicBlock("vector.ph"), NewRegion("vector loop", false, body))

	require.NoError(t, plan.Execute(lf.state(ir.Fixed(4), 2)))

	header, ok := lf.fn.Block("vector.body")
	require.True(t, ok)
	term := header.Terminator()
	require.Equal(t, ir.OpCondBr, term.Opcode())
	require.Equal(t, ir.Value(done), term.Condition())
	require.Equal(t, lf.middle, term.Successor(0))
	require.Equal(t, header, term.Successor(1))
	// Only one branch is emitted however many parts there are.
	require.Equal(t, 0, countOpcode(header, ir.OpICmp))
}

func countOpcode(bb *ir.Block, op ir.Opcode) int {
	n := 0
	for i := range bb.Insts() {
		if i.Opcode() == op {
			n++
		}
	}
	return n
}

// reductionBody returns the recipes computing the next accumulator value of
// a kind reduction of x into red.
func reductionBody(kind iv.RecurKind, phi *ir.Inst, red *ReductionPHI, x *ir.Arg) []Recipe {
	xv := NewLiveIn(x)
	if !kind.IsMinMax() {
		return []Recipe{NewWiden(ir.NewInst(kind.Opcode(), ir.I32, "rdx", phi, x), red.Result(), xv)}
	}
	cmp := ir.NewCmp(kind.MinMaxPredicate(), "cmp", phi, x)
	c := NewWiden(cmp, red.Result(), xv)
	sel := NewWidenSelect(ir.NewInst(ir.OpSelect, ir.I32, "rdx", cmp, phi, x), c.Result(), red.Result(), xv, false)
	return []Recipe{c, sel}
}

func TestReductionStartValues(t *testing.T) {
	for _, tc := range []struct {
		kind  iv.RecurKind
		start int64
		want  [][]int64
	}{
		{iv.RecurMul, 3, [][]int64{{3, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}}},
		{iv.RecurAnd, 5, [][]int64{{5, -1, -1, -1}, {-1, -1, -1, -1}, {-1, -1, -1, -1}}},
		{iv.RecurXor, 9, [][]int64{{9, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 0, 0}}},
		// Min and max have no neutral element: every part starts from the
		// start value.
		{iv.RecurSMax, 10, [][]int64{{10, 10, 10, 10}, {10, 10, 10, 10}, {10, 10, 10, 10}}},
		{iv.RecurUMin, 7, [][]int64{{7, 7, 7, 7}, {7, 7, 7, 7}, {7, 7, 7, 7}}},
	} {
		t.Run(tc.kind.String(), func(t *testing.T) {
			lf := newLoopFunc()
			x := lf.fn.AddArg("x", ir.I32)
			start := ir.ConstInt(ir.I32, tc.start)
			phi := ir.NewInst(ir.OpPhi, ir.I32, "acc")
			red := NewReductionPHI(phi, NewLiveIn(start), iv.RecurrenceDescriptor{Kind: tc.kind, Start: start}, false)
			body := reductionBody(tc.kind, phi, red, x)
			next := body[len(body)-1]
			red.AddOperand(next.Result())

			loop := newCountedLoop(lf.n, append([]Recipe{red}, body...)...)
			s := lf.state(ir.Fixed(4), 3)
			require.NoError(t, loop.plan.Execute(s))

			header, _ := lf.fn.Block("vector.body")
			require.Len(t, header.Phis(), 4)
			for part, lanes := range tc.want {
				p, ok := s.Get(red.Result(), part).(*ir.Inst)
				require.True(t, ok)
				require.Equal(t, "vec.phi", p.Name())
				require.Equal(t, ir.VectorOf(ir.I32, ir.Fixed(4)), p.Type())

				init, ok := p.IncomingValue(0).(*ir.Const)
				require.True(t, ok, "part %d start is %v", part, p.IncomingValue(0))
				require.Equal(t, lanes, init.Ints(), "part %d", part)
				require.Equal(t, lf.ph, p.IncomingBlock(0))
				require.Equal(t, s.Get(next.Result(), part), p.IncomingValue(1))
			}
		})
	}
}

func TestInLoopReductionPhis(t *testing.T) {
	for _, tc := range []struct {
		name    string
		ordered bool
		phis    int
	}{
		{"ordered", true, 1},
		{"unordered", false, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lf := newLoopFunc()
			x := lf.fn.AddArg("x", ir.F32)
			start := ir.ConstFloat(ir.F32, 1.5)
			desc := iv.RecurrenceDescriptor{Kind: iv.RecurFAdd, Start: start, Ordered: tc.ordered}

			phi := ir.NewInst(ir.OpPhi, ir.F32, "sum")
			red := NewReductionPHI(phi, NewLiveIn(start), desc, true)
			fadd := ir.NewInst(ir.OpFAdd, ir.F32, "sum.next", phi, x)
			rdx := NewReduction(fadd, desc, red.Result(), NewLiveIn(x), nil)
			red.AddOperand(rdx.Result())

			loop := newCountedLoop(lf.n, red, rdx)
			s := lf.state(ir.Fixed(4), 2)
			require.NoError(t, loop.plan.Execute(s))

			header, _ := lf.fn.Block("vector.body")
			var accs []*ir.Inst
			for _, p := range header.Phis() {
				if p.Name() == "vec.phi" {
					accs = append(accs, p)
				}
			}
			require.Len(t, accs, tc.phis)
			for _, acc := range accs {
				require.Equal(t, ir.F32, acc.Type())
			}
			first, ok := accs[0].IncomingValue(0).(*ir.Const)
			require.True(t, ok)
			require.Equal(t, 1.5, first.Float(0))

			last := s.Get(rdx.Result(), 1)
			if !tc.ordered {
				// Later parts start from the identity and fold in their own
				// result.
				ident, ok := accs[1].IncomingValue(0).(*ir.Const)
				require.True(t, ok)
				require.Zero(t, ident.Float(0))
				require.True(t, math.Signbit(ident.Float(0)))
				require.Equal(t, last, accs[1].IncomingValue(1))
				return
			}

			// The chain runs through every part in order.
			require.Equal(t, last, accs[0].IncomingValue(1))
			r1, ok := last.(*ir.Inst)
			require.True(t, ok)
			require.Equal(t, "llvm.vector.reduce.fadd", r1.Callee())
			r0, ok := r1.Operand(0).(*ir.Inst)
			require.True(t, ok)
			require.Equal(t, ir.Value(r0), s.Get(rdx.Result(), 0))
			require.Equal(t, ir.Value(accs[0]), r0.Operand(0))
		})
	}
}

func TestPointerInductionScalarsOnly(t *testing.T) {
	null := ir.ConstNull(ir.Ptr)
	for _, tc := range []struct {
		name            string
		user            func(v *Value) Recipe
		fixed, scalable bool
	}{
		{"no users", nil, true, true},
		{"scalar user", func(v *Value) Recipe {
			return NewReplicate(ir.NewInst(ir.OpLoad, ir.I32, "ld", null), []*Value{v}, false, false)
		}, true, false},
		{"uniform user", func(v *Value) Recipe {
			return NewReplicate(ir.NewInst(ir.OpLoad, ir.I32, "ld", null), []*Value{v}, true, false)
		}, true, true},
		{"vector user", func(v *Value) Recipe {
			gep := ir.NewInst(ir.OpGEP, ir.Ptr, "g", null, ir.ConstInt(ir.I64, 1))
			gep.SetSourceElementType(ir.I32)
			return NewWidenGEP(gep, v, i64(1))
		}, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			desc := iv.NewPointerInduction(null, expr.Int(ir.I64, 1), ir.I32)
			ind := NewWidenPointerInduction(ir.NewInst(ir.OpPhi, ir.Ptr, "p"), NewLiveIn(null), i64(1), desc)
			if tc.user != nil {
				tc.user(ind.Result())
			}
			require.Equal(t, tc.fixed, ind.OnlyScalarsGenerated(ir.Fixed(4)))
			require.Equal(t, tc.scalable, ind.OnlyScalarsGenerated(ir.Scalable(4)))
		})
	}
}

func TestExpandExprSharedAcrossParts(t *testing.T) {
	fn, bb, s := newBodyState(ir.Fixed(4), 3)
	n := fn.AddArg("n", ir.I64)

	r := NewExpandExpr(expr.NewMul(expr.Of(n), expr.Int(ir.I64, 4)))
	r.Execute(s)

	v, ok := s.Get(r.Result(), 0).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpMul, v.Opcode())
	require.Equal(t, ir.Value(n), v.Operand(0))
	for part := 1; part < s.UF; part++ {
		require.Equal(t, ir.Value(v), s.Get(r.Result(), part))
	}
	require.Equal(t, 1, bb.Len())
}

func TestBlendSelectsByMask(t *testing.T) {
	vec := ir.VectorOf(ir.I32, ir.Fixed(4))
	mask := ir.VectorOf(ir.I1, ir.Fixed(4))
	phi := ir.NewInst(ir.OpPhi, ir.I32, "p")

	fn, bb, s := newBodyState(ir.Fixed(4), 2)
	in0, v0 := partValues(s, fn, "in0", vec)
	m0, _ := partValues(s, fn, "m0", mask)
	in1, v1 := partValues(s, fn, "in1", vec)
	m1, k1 := partValues(s, fn, "m1", mask)
	in2, v2 := partValues(s, fn, "in2", vec)
	m2, k2 := partValues(s, fn, "m2", mask)

	blend := NewBlend(phi, in0.Result(), m0.Result(), in1.Result(), m1.Result(), in2.Result(), m2.Result())
	require.Equal(t, 3, blend.NumIncoming())
	blend.Execute(s)

	for part := 0; part < s.UF; part++ {
		outer, ok := s.Get(blend.Result(), part).(*ir.Inst)
		require.True(t, ok)
		require.Equal(t, ir.OpSelect, outer.Opcode())
		require.Equal(t, "predphi", outer.Name())
		require.Equal(t, k2[part], outer.Operand(0))
		require.Equal(t, v2[part], outer.Operand(1))

		inner, ok := outer.Operand(2).(*ir.Inst)
		require.True(t, ok)
		require.Equal(t, k1[part], inner.Operand(0))
		require.Equal(t, v1[part], inner.Operand(1))
		require.Equal(t, v0[part], inner.Operand(2))
	}
	require.Equal(t, 4, bb.Len())

	// A single incoming value passes through.
	fn, bb, s = newBodyState(ir.Fixed(4), 2)
	only, vals := partValues(s, fn, "in", vec)
	blend = NewBlend(phi, only.Result())
	blend.Execute(s)
	for part := 0; part < s.UF; part++ {
		require.Equal(t, vals[part], s.Get(blend.Result(), part))
	}
	require.Equal(t, 0, bb.Len())
}

func TestReplicateLanes(t *testing.T) {
	newAdd := func(fn *ir.Function) (*ir.Inst, []*Value) {
		a := fn.AddArg("a", ir.I32)
		add := ir.NewInst(ir.OpAdd, ir.I32, "x", a, ir.ConstInt(ir.I32, 1))
		return add, []*Value{NewLiveIn(a), i32(1)}
	}

	t.Run("uniform", func(t *testing.T) {
		fn, bb, s := newBodyState(ir.Fixed(4), 2)
		add, ops := newAdd(fn)
		r := NewReplicate(add, ops, true, false)
		r.Execute(s)

		require.Equal(t, 2, bb.Len())
		for part := 0; part < s.UF; part++ {
			first := Instance{Part: part}
			require.True(t, s.HasScalarValue(r.Result(), first))
			require.False(t, s.HasScalarValue(r.Result(), Instance{Part: part, Lane: NewLane(1, LaneFirst)}))
			clone, ok := s.GetLane(r.Result(), first).(*ir.Inst)
			require.True(t, ok)
			require.Equal(t, "x.cloned", clone.Name())
			// Every lane reads lane 0.
			require.Equal(t, ir.Value(clone), s.GetLane(r.Result(), Instance{Part: part, Lane: NewLane(3, LaneFirst)}))
		}
	})

	t.Run("per lane", func(t *testing.T) {
		fn, bb, s := newBodyState(ir.Fixed(4), 1)
		add, ops := newAdd(fn)
		r := NewReplicate(add, ops, false, false)
		r.Execute(s)

		require.Equal(t, 4, bb.Len())
		seen := map[ir.Value]bool{}
		for lane := 0; lane < 4; lane++ {
			v := s.GetLane(r.Result(), Instance{Lane: NewLane(lane, LaneFirst)})
			require.False(t, seen[v], "lane %d reuses a clone", lane)
			seen[v] = true
		}
	})

	t.Run("packed", func(t *testing.T) {
		fn, bb, s := newBodyState(ir.Fixed(4), 1)
		add, ops := newAdd(fn)
		r := NewReplicate(add, ops, false, false)
		r.AlsoPack = true

		clones := make([]ir.Value, 4)
		for lane := range clones {
			require.False(t, s.HasVectorValue(r.Result(), 0), "published before lane %d", lane)
			inst := Instance{Lane: NewLane(lane, LaneFirst)}
			s.Instance = &inst
			r.Execute(s)
			clones[lane] = s.GetLane(r.Result(), inst)
		}
		s.Instance = nil
		require.True(t, s.HasVectorValue(r.Result(), 0))
		require.Equal(t, 8, bb.Len())

		// Walk the insertelement chain back from the last lane.
		v := s.Get(r.Result(), 0)
		for lane := 3; lane >= 0; lane-- {
			ins, ok := v.(*ir.Inst)
			require.True(t, ok)
			require.Equal(t, ir.OpInsertElement, ins.Opcode())
			require.Equal(t, clones[lane], ins.Operand(1))
			idx, ok := ins.Operand(2).(*ir.Const)
			require.True(t, ok)
			require.EqualValues(t, lane, idx.Int(0))
			v = ins.Operand(0)
		}
		_, ok := v.(*ir.Const)
		require.True(t, ok)
	})
}

func TestWidenIntInduction(t *testing.T) {
	lf := newLoopFunc()
	phi := ir.NewInst(ir.OpPhi, ir.I32, "iv")
	desc := iv.NewIntInduction(ir.ConstInt(ir.I32, 5), expr.Int(ir.I32, 2))
	ind := NewWidenIntOrFpInduction(phi, i32(5), i32(2), desc)
	loop := newCountedLoop(lf.n, ind)

	s := lf.state(ir.Fixed(4), 2)
	require.NoError(t, loop.plan.Execute(s))
	body, _ := lf.fn.Block("vector.body")

	vecPhi, ok := s.Get(ind.Result(), 0).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpPhi, vecPhi.Opcode())
	require.Equal(t, "vec.ind", vecPhi.Name())
	require.Equal(t, ir.VectorOf(ir.I32, ir.Fixed(4)), vecPhi.Type())

	start, ok := vecPhi.IncomingValue(0).(*ir.Const)
	require.True(t, ok)
	require.Equal(t, []int64{5, 7, 9, 11}, start.Ints())
	require.Equal(t, lf.ph, vecPhi.IncomingBlock(0))

	// Part 1 is part 0 advanced by VF steps.
	part1, ok := s.Get(ind.Result(), 1).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, "step.add", part1.Name())
	require.Equal(t, ir.Value(vecPhi), part1.Operand(0))
	step, ok := part1.Operand(1).(*ir.Const)
	require.True(t, ok)
	require.Equal(t, []int64{8, 8, 8, 8}, step.Ints())

	next, ok := vecPhi.IncomingValue(1).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, "vec.ind.next", next.Name())
	require.Equal(t, ir.Value(part1), next.Operand(0))
	require.Equal(t, body, vecPhi.IncomingBlock(1))
	require.Equal(t, body, next.Block())
	// The increment sits right before the exit compare.
	require.Equal(t, body.Terminator().Condition(), ir.Value(next.Next()))
}

func TestWidenFPInduction(t *testing.T) {
	lf := newLoopFunc()
	phi := ir.NewInst(ir.OpPhi, ir.F32, "f")
	desc := iv.NewFPInduction(ir.ConstFloat(ir.F32, 0.5), expr.Of(ir.ConstFloat(ir.F32, 0.25)), ir.OpFAdd)
	desc.FastMath = ir.FMFFast
	ind := NewWidenIntOrFpInduction(phi, NewLiveIn(ir.ConstFloat(ir.F32, 0.5)), NewLiveIn(ir.ConstFloat(ir.F32, 0.25)), desc)
	loop := newCountedLoop(lf.n, ind)

	s := lf.state(ir.Fixed(4), 1)
	require.NoError(t, loop.plan.Execute(s))

	vecPhi, ok := s.Get(ind.Result(), 0).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.VectorOf(ir.F32, ir.Fixed(4)), vecPhi.Type())
	start, ok := vecPhi.IncomingValue(0).(*ir.Const)
	require.True(t, ok)
	require.Equal(t, []float64{0.5, 0.75, 1, 1.25}, start.Floats())

	next, ok := vecPhi.IncomingValue(1).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpFAdd, next.Opcode())
	require.Equal(t, ir.FMFFast, next.FastMath())
	step, ok := next.Operand(1).(*ir.Const)
	require.True(t, ok)
	require.Equal(t, []float64{1, 1, 1, 1}, step.Floats())
}

func TestWidenFCmpFastMath(t *testing.T) {
	fn, _, s := newBodyState(ir.Fixed(4), 2)
	vec := ir.VectorOf(ir.F32, ir.Fixed(4))
	lhs, _ := partValues(s, fn, "l", vec)
	rhs, _ := partValues(s, fn, "r", vec)

	cmp := ir.NewCmp(ir.FCmpOLT, "lt", ir.ConstFloat(ir.F32, 0), ir.ConstFloat(ir.F32, 1))
	cmp.SetFastMath(ir.FMFNoNaNs | ir.FMFNoInfs)
	s.Builder.SetFastMathFlags(ir.FMFReassoc)

	NewWiden(cmp, lhs.Result(), rhs.Result()).Execute(s)
	for i := range fn.Blocks()[0].Insts() {
		require.Equal(t, ir.OpFCmp, i.Opcode())
		require.Equal(t, ir.FCmpOLT, i.Predicate())
		require.Equal(t, ir.FMFNoNaNs|ir.FMFNoInfs, i.FastMath())
		require.Equal(t, ir.VectorOf(ir.I1, ir.Fixed(4)), i.Type())
	}
	require.Equal(t, ir.FMFReassoc, s.Builder.FastMathFlags())
}

func TestWidenCastDestination(t *testing.T) {
	for _, tc := range []struct {
		vf       ir.ElementCount
		src, dst ir.Type
	}{
		{ir.Fixed(4), ir.VectorOf(ir.I32, ir.Fixed(4)), ir.VectorOf(ir.I64, ir.Fixed(4))},
		{ir.Fixed(1), ir.I32, ir.I64},
	} {
		t.Run(tc.vf.String(), func(t *testing.T) {
			fn, _, s := newBodyState(tc.vf, 2)
			src, srcs := partValues(s, fn, "v", tc.src)
			ext := ir.NewInst(ir.OpSExt, ir.I64, "ext", ir.ConstInt(ir.I32, 0))
			w := NewWiden(ext, src.Result())
			w.Execute(s)
			for part := 0; part < s.UF; part++ {
				v, ok := s.Get(w.Result(), part).(*ir.Inst)
				require.True(t, ok)
				require.Equal(t, ir.OpSExt, v.Opcode())
				require.Equal(t, tc.dst, v.Type())
				require.Equal(t, srcs[part], v.Operand(0))
			}
		})
	}
}
