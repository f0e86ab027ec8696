package ir

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func newTestBuilder() (*Function, *Block, *Builder) {
	fn := NewFunction("f")
	bb := fn.NewBlock("entry")
	b := NewBuilder(fn)
	b.SetInsertPoint(bb)
	return fn, bb, b
}

func TestParseType(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Type
	}{
		{"i1", I1},
		{"i32", I32},
		{"i64", I64},
		{"float", F32},
		{"f32", F32},
		{"double", F64},
		{"ptr", Ptr},
		{"void", Void},
		{"<4 x i32>", VectorOf(I32, Fixed(4))},
		{"<vscale x 2 x double>", VectorOf(F64, Scalable(2))},
	} {
		got, err := ParseType(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)

		again, err := ParseType(got.String())
		require.NoError(t, err)
		require.Equal(t, got, again)
	}

	for _, bad := range []string{"", "i", "x32", "<4 i32>", "<0 x i32>", "<4 x void>", "<2 x <2 x i8>>"} {
		_, err := ParseType(bad)
		require.Error(t, err, bad)
	}
}

func TestFoldIntegerArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	_, bb, b := newTestBuilder()

	properties.Property("constant i32 arithmetic wraps like int32", prop.ForAll(
		func(x, y int32) bool {
			l, r := ConstInt(I32, int64(x)), ConstInt(I32, int64(y))
			sum, ok1 := b.CreateAdd(l, r, "", false, false).(*Const)
			diff, ok2 := b.CreateSub(l, r, "", false, false).(*Const)
			prod, ok3 := b.CreateMul(l, r, "", false, false).(*Const)
			return ok1 && ok2 && ok3 &&
				sum.Int(0) == int64(x+y) &&
				diff.Int(0) == int64(x-y) &&
				prod.Int(0) == int64(x*y)
		},
		gen.Int32(), gen.Int32(),
	))

	properties.Property("vector lanes fold independently", prop.ForAll(
		func(x, y int8) bool {
			l := ConstInts(I8, int64(x), int64(y))
			r := ConstInts(I8, int64(y), int64(x))
			v, ok := b.CreateBinOp(OpXor, l, r, "").(*Const)
			return ok && v.Int(0) == int64(x^y) && v.Int(1) == int64(y^x)
		},
		gen.Int8(), gen.Int8(),
	))

	properties.TestingRun(t)
	require.Equal(t, 0, bb.Len(), "folded operations must not emit instructions")
}

func TestDivisionByZeroIsNotFolded(t *testing.T) {
	_, bb, b := newTestBuilder()
	v := b.CreateBinOp(OpSDiv, ConstInt(I32, 7), ConstInt(I32, 0), "div")
	i, ok := v.(*Inst)
	require.True(t, ok)
	require.Equal(t, OpSDiv, i.Opcode())
	require.Equal(t, 1, bb.Len())
}

func TestWrappingFlags(t *testing.T) {
	fn, _, b := newTestBuilder()
	x := fn.AddArg("x", I32)
	v := b.CreateAdd(x, ConstInt(I32, 1), "inc", true, true)
	i, ok := v.(*Inst)
	require.True(t, ok)
	require.True(t, i.Flags().Has(FlagNUW|FlagNSW))
	require.True(t, i.HasPoisonGeneratingFlags())
	require.Contains(t, fn.String(), "%inc = add nuw nsw i32 %x, 1")

	i.DropPoisonGeneratingFlags()
	require.False(t, i.HasPoisonGeneratingFlags())
}

func TestVectorSplat(t *testing.T) {
	fn, bb, b := newTestBuilder()
	vf := Fixed(4)

	c, ok := b.CreateVectorSplat(vf, ConstInt(I32, 7), "").(*Const)
	require.True(t, ok)
	require.Equal(t, []int64{7, 7, 7, 7}, c.Ints())
	require.True(t, c.IsSplat())
	require.Equal(t, 0, bb.Len())

	x := fn.AddArg("x", I32)
	v, ok := b.CreateVectorSplat(vf, x, "").(*Inst)
	require.True(t, ok)
	require.Equal(t, OpShuffleVector, v.Opcode())
	require.Equal(t, []int{0, 0, 0, 0}, v.ShuffleMask())
	require.Equal(t, "broadcast.splat", v.Name())
	ins, ok := v.Operand(0).(*Inst)
	require.True(t, ok)
	require.Equal(t, OpInsertElement, ins.Opcode())
	require.Equal(t, "broadcast.splatinsert", ins.Name())
}

func TestInsertExtractFold(t *testing.T) {
	_, bb, b := newTestBuilder()
	zero := ConstSplat(Fixed(4), ConstInt(I32, 0))

	v, ok := b.CreateInsertElement(zero, ConstInt(I32, 10), ConstInt(I32, 0), "").(*Const)
	require.True(t, ok)
	require.Equal(t, []int64{10, 0, 0, 0}, v.Ints())
	require.Equal(t, "<i32 10, i32 0, i32 0, i32 0>", v.String())

	e, ok := b.CreateExtractElement(v, ConstInt(I32, 0), "").(*Const)
	require.True(t, ok)
	require.EqualValues(t, 10, e.Int(0))
	require.Equal(t, 0, bb.Len())

	// A scalable splat has no materialised lanes to rewrite.
	sc := ConstSplat(Scalable(4), ConstInt(I32, 0))
	_, ok = b.CreateInsertElement(sc, ConstInt(I32, 1), ConstInt(I32, 0), "").(*Inst)
	require.True(t, ok)
}

func TestVectorSplice(t *testing.T) {
	_, _, b := newTestBuilder()
	l := ConstInts(I32, 0, 1, 2, 3)
	r := ConstInts(I32, 4, 5, 6, 7)
	v, ok := b.CreateVectorSplice(l, r, -1, "").(*Const)
	require.True(t, ok)
	require.Equal(t, []int64{3, 4, 5, 6}, v.Ints())
}

func TestSelectFold(t *testing.T) {
	fn, _, b := newTestBuilder()
	x, y := fn.AddArg("x", I32), fn.AddArg("y", I32)
	require.Equal(t, Value(x), b.CreateSelect(ConstBool(true), x, y, ""))
	require.Equal(t, Value(y), b.CreateSelect(ConstBool(false), x, y, ""))

	cond := ConstInts(I1, 1, 0)
	v, ok := b.CreateSelect(cond, ConstInts(I32, 1, 2), ConstInts(I32, 3, 4), "").(*Const)
	require.True(t, ok)
	require.Equal(t, []int64{1, 4}, v.Ints())
}

func TestConstPredicates(t *testing.T) {
	require.True(t, ConstInt(I64, 0).IsZero())
	require.True(t, ConstInt(I64, 1).IsOne())
	require.True(t, ConstFloat(F32, 1).IsOne())
	require.False(t, ConstInts(I32, 1, 2).IsSplat())
	require.False(t, ConstAllOnes(I8).IsOne())
	require.EqualValues(t, -1, ConstAllOnes(I8).Int(0))
	require.Equal(t, "zeroinitializer", ConstNull(VectorOf(I32, Fixed(4))).String())
	require.Equal(t, "splat (i32 2)", ConstSplat(Scalable(4), ConstInt(I32, 2)).String())
}

func TestPhiAndBlocks(t *testing.T) {
	fn := NewFunction("loop")
	entry := fn.NewBlock("entry")
	exit := fn.NewBlock("exit")
	body := fn.NewBlockAfter("body", entry)
	require.Equal(t, []*Block{entry, body, exit}, fn.Blocks())

	b := NewBuilder(fn)
	b.SetInsertPoint(entry)
	b.CreateBr(body)
	b.SetInsertPoint(body)
	b.CreateCondBr(ConstBool(true), exit, body)
	b.SetInsertPoint(exit)
	b.CreateRet(nil)

	phi := InsertPhi(body, I32, "p")
	phi.AddIncoming(ConstInt(I32, 0), entry)
	phi.AddIncoming(ConstInt(I32, 1), body)
	second := InsertPhi(body, I32, "q")
	require.Equal(t, []*Inst{phi, second}, body.Phis())
	require.ElementsMatch(t, []*Block{entry, body}, body.Predecessors())
	require.Equal(t, body, exit.SinglePredecessor())

	out := fn.String()
	require.Contains(t, out, "define void @loop() {")
	require.Contains(t, out, "%p = phi i32 [ 0, %entry ], [ 1, %body ]")
	require.Contains(t, out, "br i1 true, label %exit, label %body")
}

func TestDebugLocDuplication(t *testing.T) {
	d := DebugLoc{File: "a.c", Line: 3, Col: 7}
	require.Equal(t, "a.c:3:7", d.String())
	require.Equal(t, "a.c:3:7 (x8)", d.WithDuplicationFactor(4).WithDuplicationFactor(2).String())
	require.Equal(t, d, d.WithDuplicationFactor(1))
	require.False(t, DebugLoc{}.WithDuplicationFactor(4).IsValid())
}

func TestPrintNamesInDefinitionOrder(t *testing.T) {
	fn := NewFunction("f")
	x := fn.AddArg("x", I32)
	entry := fn.NewBlock("entry")
	body := fn.NewBlock("body")
	exit := fn.NewBlock("exit")

	b := NewBuilder(fn)
	b.SetInsertPoint(entry)
	b.CreateBr(body)
	b.SetInsertPoint(body)
	first := b.CreateAdd(x, ConstInt(I32, 1), "v", false, false)
	second := b.CreateAdd(first, ConstInt(I32, 2), "v", false, false)
	b.CreateCondBr(ConstBool(true), exit, body)
	b.SetInsertPoint(exit)
	b.CreateRet(nil)

	// The phi precedes both definitions but refers to the second one.
	phi := InsertPhi(body, I32, "p")
	phi.AddIncoming(ConstInt(I32, 0), entry)
	phi.AddIncoming(second, body)

	out := fn.String()
	require.Contains(t, out, "%p = phi i32 [ 0, %entry ], [ %v1, %body ]")
	require.Contains(t, out, "%v = add i32 %x, 1")
	require.Contains(t, out, "%v1 = add i32 %v, 2")
}
