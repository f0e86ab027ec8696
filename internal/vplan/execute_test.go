package vplan

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
)

// loopFunc is a function with an empty vector preheader branching to the
// middle block, ready to receive a vector loop.
type loopFunc struct {
	fn     *ir.Function
	n      *ir.Arg
	ph     *ir.Block
	middle *ir.Block
}

func newLoopFunc() *loopFunc {
	fn := ir.NewFunction("f")
	lf := &loopFunc{
		fn:     fn,
		n:      fn.AddArg("n", ir.I64),
		ph:     fn.NewBlock("vector.ph"),
		middle: fn.NewBlock("middle.block"),
	}
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(lf.ph)
	b.CreateBr(lf.middle)
	b.SetInsertPoint(lf.middle)
	b.CreateRet(nil)
	return lf
}

func (lf *loopFunc) state(vf ir.ElementCount, uf int) *State {
	s := NewState(vf, uf, ir.NewBuilder(lf.fn))
	s.CFG.PrevBB = lf.ph
	return s
}

// countedLoop is a plan with a single-block loop counting up to n.
type countedLoop struct {
	plan *Plan
	body *BasicBlock
	can  *CanonicalIVPHI
	inc  *Instruction
}

// newCountedLoop builds the loop; extra recipes go between the induction
// and its increment.
func newCountedLoop(n ir.Value, extra ...Recipe) *countedLoop {
	can := NewCanonicalIVPHI(NewLiveIn(ir.ConstInt(ir.I64, 0)), ir.DebugLoc{})
	inc := NewInstruction(OpCanonicalIVIncrementNUW, []*Value{can.Result()}, ir.DebugLoc{})
	can.AddOperand(inc.Result())
	br := NewInstruction(OpBranchOnCount, []*Value{inc.Result(), NewLiveIn(n)}, ir.DebugLoc{})

	body := NewBasicBlock("vector.body", can)
	for _, r := range extra {
		body.Append(r)
	}
	body.Append(inc)
	body.Append(br)
	plan := NewPlan(NewBasicBlock("vector.ph"), NewRegion("vector loop", false, body))
	plan.Name = "counted"
	return &countedLoop{plan: plan, body: body, can: can, inc: inc}
}

func TestCanonicalInductionSharedAcrossParts(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 40
	properties := gopter.NewProperties(parameters)

	properties.Property("one phi and one increment by VF*UF", prop.ForAll(
		func(vf, uf int) bool {
			lf := newLoopFunc()
			loop := newCountedLoop(lf.n)
			s := lf.state(ir.Fixed(vf), uf)
			if err := loop.plan.Execute(s); err != nil {
				return false
			}

			next, ok := s.Get(loop.inc.Result(), 0).(*ir.Inst)
			if !ok || next.Name() != "index.next" || !next.Flags().Has(ir.FlagNUW) {
				return false
			}
			step, ok := next.Operand(1).(*ir.Const)
			if !ok || step.Int(0) != int64(vf*uf) {
				return false
			}
			phi := s.Get(loop.can.Result(), 0)
			for part := 1; part < uf; part++ {
				if s.Get(loop.inc.Result(), part) != next || s.Get(loop.can.Result(), part) != phi {
					return false
				}
			}

			body, ok := lf.fn.Block("vector.body")
			if !ok || len(body.Phis()) != 1 {
				return false
			}
			index := body.Phis()[0]
			return index.NumIncoming() == 2 && index.IncomingBlock(1) == body &&
				index.IncomingValue(1) == ir.Value(next) && index.Sealed()
		},
		gen.IntRange(1, 8), gen.IntRange(1, 4),
	))

	properties.TestingRun(t)
}

func TestExecuteWiresLoop(t *testing.T) {
	lf := newLoopFunc()
	loop := newCountedLoop(lf.n)
	require.NoError(t, loop.plan.Execute(lf.state(ir.Fixed(4), 1)))

	body, ok := lf.fn.Block("vector.body")
	require.True(t, ok)
	require.Equal(t, body, lf.ph.Terminator().Successor(0))

	term := body.Terminator()
	require.Equal(t, ir.OpCondBr, term.Opcode())
	require.Equal(t, lf.middle, term.Successor(0))
	require.Equal(t, body, term.Successor(1))

	cmp, ok := term.Condition().(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpICmp, cmp.Opcode())
	require.Equal(t, ir.Value(lf.n), cmp.Operand(1))

	// No placeholder survives.
	for _, b := range lf.fn.Blocks() {
		for i := range b.Insts() {
			require.NotEqual(t, ir.OpUnreachable, i.Opcode(), "in %s", b.Name())
		}
	}
}

func TestExecuteRejectsBadPreheader(t *testing.T) {
	fn := ir.NewFunction("f")
	n := fn.AddArg("n", ir.I64)
	ph := fn.NewBlock("vector.ph")
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(ph)
	b.CreateRet(nil)

	s := NewState(ir.Fixed(4), 1, ir.NewBuilder(fn))
	s.CFG.PrevBB = ph
	err := newCountedLoop(n).plan.Execute(s)
	var ie *InvariantError
	require.True(t, errors.As(err, &ie), "got %v", err)
	require.Contains(t, err.Error(), "unconditional branch")
}

func TestReductionSeedsOnlyFirstPart(t *testing.T) {
	lf := newLoopFunc()
	ten, one := ir.ConstInt(ir.I32, 10), ir.ConstInt(ir.I32, 1)
	phi := ir.NewInst(ir.OpPhi, ir.I32, "sum")
	red := NewReductionPHI(phi, NewLiveIn(ten), iv.RecurrenceDescriptor{Kind: iv.RecurAdd, Start: ten}, false)
	add := NewWiden(ir.NewInst(ir.OpAdd, ir.I32, "sum.next", phi, one), red.Result(), NewLiveIn(one))
	red.AddOperand(add.Result())

	loop := newCountedLoop(lf.n, red, add)
	s := lf.state(ir.Fixed(4), 2)
	require.NoError(t, loop.plan.Execute(s))

	body, _ := lf.fn.Block("vector.body")
	want := [][]int64{{10, 0, 0, 0}, {0, 0, 0, 0}}
	for part, lanes := range want {
		p, ok := s.Get(red.Result(), part).(*ir.Inst)
		require.True(t, ok)
		require.Equal(t, "vec.phi", p.Name())
		require.Equal(t, ir.VectorOf(ir.I32, ir.Fixed(4)), p.Type())
		require.Equal(t, 2, p.NumIncoming())

		start, ok := p.IncomingValue(0).(*ir.Const)
		require.True(t, ok, "part %d start is %v", part, p.IncomingValue(0))
		require.Equal(t, lanes, start.Ints())
		require.Equal(t, lf.ph, p.IncomingBlock(0))

		// Each part accumulates its own partial sum.
		require.Equal(t, s.Get(add.Result(), part), p.IncomingValue(1))
		require.Equal(t, body, p.IncomingBlock(1))
	}
}

func TestRecurrenceSplice(t *testing.T) {
	for _, tc := range []struct {
		name string
		vf   ir.ElementCount
		mask []int
	}{
		{"scalar", ir.Fixed(1), nil},
		{"fixed", ir.Fixed(4), []int{3, 4, 5, 6}},
		{"wide", ir.Fixed(8), []int{7, 8, 9, 10, 11, 12, 13, 14}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fn := ir.NewFunction("f")
			ty := ir.VectorOrScalar(ir.I32, tc.vf)
			recur := fn.AddArg("recur", ty)
			cur0 := fn.AddArg("cur0", ty)
			cur1 := fn.AddArg("cur1", ty)
			bb := fn.NewBlock("body")
			b := ir.NewBuilder(fn)
			b.SetInsertPoint(bb)
			s := NewState(tc.vf, 2, b)

			phi := NewFirstOrderRecurrencePHI(ir.NewInst(ir.OpPhi, ir.I32, "r"), NewLiveIn(ir.ConstInt(ir.I32, 0)))
			cur := NewInstruction(OpNot, []*Value{NewLiveIn(ir.ConstBool(true))}, ir.DebugLoc{})
			s.Set(phi.Result(), recur, 0)
			s.Set(cur.Result(), cur0, 0)
			s.Set(cur.Result(), cur1, 1)

			splice := NewInstruction(OpFirstOrderRecurrenceSplice, []*Value{phi.Result(), cur.Result()}, ir.DebugLoc{})
			splice.Execute(s)

			if tc.mask == nil {
				// Without vectors the previous value is passed through.
				require.Equal(t, ir.Value(recur), s.Get(splice.Result(), 0))
				require.Equal(t, ir.Value(cur0), s.Get(splice.Result(), 1))
				return
			}
			for part, ops := range [][2]ir.Value{{recur, cur0}, {cur0, cur1}} {
				v, ok := s.Get(splice.Result(), part).(*ir.Inst)
				require.True(t, ok)
				require.Equal(t, ir.OpShuffleVector, v.Opcode())
				require.Equal(t, tc.mask, v.ShuffleMask())
				require.Equal(t, ops[0], v.Operand(0))
				require.Equal(t, ops[1], v.Operand(1))
			}
		})
	}
}

func TestWidenDropsPoisonFlags(t *testing.T) {
	for _, drop := range []bool{false, true} {
		fn := ir.NewFunction("f")
		ty := ir.VectorOf(ir.I32, ir.Fixed(4))
		x, y := fn.AddArg("x", ty), fn.AddArg("y", ty)
		bb := fn.NewBlock("body")
		b := ir.NewBuilder(fn)
		b.SetInsertPoint(bb)
		s := NewState(ir.Fixed(4), 1, b)

		lhs, rhs := newNot(), newNot()
		s.Set(lhs.Result(), x, 0)
		s.Set(rhs.Result(), y, 0)

		scalar := ir.NewInst(ir.OpAdd, ir.I32, "add", ir.ConstInt(ir.I32, 0), ir.ConstInt(ir.I32, 0))
		scalar.SetFlags(ir.FlagNSW | ir.FlagNUW)
		w := NewWiden(scalar, lhs.Result(), rhs.Result())
		s.MayGeneratePoison[w] = drop
		w.Execute(s)

		v, ok := s.Get(w.Result(), 0).(*ir.Inst)
		require.True(t, ok)
		require.Equal(t, !drop, v.Flags().Has(ir.FlagNSW))
		require.Equal(t, !drop, v.Flags().Has(ir.FlagNUW))
	}
}

func TestStateCachesAreWriteOnce(t *testing.T) {
	fn := ir.NewFunction("f")
	x := fn.AddArg("x", ir.I32)
	s := NewState(ir.Fixed(4), 2, ir.NewBuilder(fn))
	r := newNot()

	s.Set(r.Result(), x, 1)
	require.True(t, s.HasVectorValue(r.Result(), 1))
	require.False(t, s.HasVectorValue(r.Result(), 0))
	requireInvariant(t, func() { s.Set(r.Result(), x, 1) })

	inst := Instance{Part: 0, Lane: NewLane(2, LaneFirst)}
	s.SetLane(r.Result(), x, inst)
	require.True(t, s.HasScalarValue(r.Result(), inst))
	require.Equal(t, ir.Value(x), s.GetLane(r.Result(), inst))
	requireInvariant(t, func() { s.SetLane(r.Result(), x, inst) })

	requireInvariant(t, func() { s.Set(NewLiveIn(x), x, 0) })
}

func TestGetLaneExtractsFromVector(t *testing.T) {
	fn := ir.NewFunction("f")
	v := fn.AddArg("v", ir.VectorOf(ir.I32, ir.Fixed(4)))
	bb := fn.NewBlock("body")
	b := ir.NewBuilder(fn)
	b.SetInsertPoint(bb)
	s := NewState(ir.Fixed(4), 1, b)
	r := newNot()
	s.Set(r.Result(), v, 0)

	got, ok := s.GetLane(r.Result(), Instance{Lane: LastLaneForVF(s.VF)}).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpExtractElement, got.Opcode())
	idx, ok := got.Operand(1).(*ir.Const)
	require.True(t, ok)
	require.EqualValues(t, 3, idx.Int(0))
}

func TestNewStateRejectsBadShape(t *testing.T) {
	b := ir.NewBuilder(ir.NewFunction("f"))
	require.Panics(t, func() { NewState(ir.Fixed(0), 1, b) })
	require.Panics(t, func() { NewState(ir.Fixed(4), 0, b) })
}

func TestPrintRecipeNumbersWithinPlan(t *testing.T) {
	lf := newLoopFunc()
	loop := newCountedLoop(lf.n)

	require.Equal(t, "EMIT vp<%0> = CANONICAL-INDUCTION", PrintRecipe(loop.can))
	require.Equal(t, "EMIT vp<%1> = VF * UF +(nuw) vp<%0>", PrintRecipe(loop.inc))
	require.Equal(t, "EMIT branch-on-count vp<%1> ir<%n>", PrintRecipe(loop.body.Last()))

	out := loop.plan.String()
	require.Contains(t, out, "VPlan 'counted' {")
	require.Contains(t, out, "<x1> vector loop: {")
}
