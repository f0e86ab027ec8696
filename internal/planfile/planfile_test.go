package planfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/vplan"
)

func loadTestdata(t *testing.T, name string) *Loaded {
	t.Helper()
	l, err := Load(filepath.Join("testdata", name))
	require.NoError(t, err)
	return l
}

func block(t *testing.T, fn *ir.Function, name string) *ir.Block {
	t.Helper()
	b, ok := fn.Block(name)
	require.True(t, ok, "no block %s in\n%s", name, fn)
	return b
}

func countOps(fn *ir.Function, op ir.Opcode) int {
	n := 0
	for _, b := range fn.Blocks() {
		for i := range b.Insts() {
			if i.Opcode() == op {
				n++
			}
		}
	}
	return n
}

func TestLowerAddOne(t *testing.T) {
	l := loadTestdata(t, "addone.yaml")
	require.Equal(t, "addone", l.Name)
	require.NoError(t, l.Lower(LowerOptions{VF: ir.Fixed(4), UF: 1}))

	fn := l.Func
	ph := block(t, fn, "vector.ph")
	body := block(t, fn, "vector.body")
	exit := block(t, fn, "middle.block")

	require.Equal(t, body, ph.Terminator().Successor(0))

	term := body.Terminator()
	require.Equal(t, ir.OpCondBr, term.Opcode())
	require.Equal(t, exit, term.Successor(0))
	require.Equal(t, body, term.Successor(1))

	phis := body.Phis()
	require.Len(t, phis, 1)
	index := phis[0]
	require.Equal(t, "index", index.Name())
	require.Equal(t, 2, index.NumIncoming())
	require.Equal(t, ph, index.IncomingBlock(0))
	require.Equal(t, body, index.IncomingBlock(1))
	require.True(t, index.Sealed())

	last := block(t, fn, "exit").Phis()[0]
	require.Equal(t, 1, last.NumIncoming())
	require.Equal(t, exit, last.IncomingBlock(0))
	ext, ok := last.IncomingValue(0).(*ir.Inst)
	require.True(t, ok)
	require.Equal(t, ir.OpExtractElement, ext.Opcode())

	require.Equal(t, 1, countOps(fn, ir.OpLoad))
	require.Equal(t, 1, countOps(fn, ir.OpStore))

	out := fn.String()
	require.Contains(t, out, "wide.load")
	require.Contains(t, out, "index.next")
	require.Contains(t, out, "!dbg addone.c:4:12")
}

func TestLowerAddOneUnrolled(t *testing.T) {
	l := loadTestdata(t, "addone.yaml")
	require.NoError(t, l.Lower(LowerOptions{VF: ir.Fixed(4), UF: 2}))

	require.Equal(t, 2, countOps(l.Func, ir.OpLoad))
	require.Equal(t, 2, countOps(l.Func, ir.OpStore))
	// The canonical induction stays a single phi across parts.
	require.Len(t, block(t, l.Func, "vector.body").Phis(), 1)
}

func TestLowerScalarWidthFails(t *testing.T) {
	l := loadTestdata(t, "addone.yaml")
	var err error
	require.NotPanics(t, func() { err = l.Lower(LowerOptions{VF: ir.Fixed(1), UF: 2}) })

	var ie *vplan.InvariantError
	require.True(t, errors.As(err, &ie), "got %v", err)
	require.Contains(t, err.Error(), "lower addone")
	require.Contains(t, err.Error(), "widen-memory with a scalar VF")
}

func TestLowerSum(t *testing.T) {
	l := loadTestdata(t, "sum.yaml")
	require.NoError(t, l.Lower(LowerOptions{VF: ir.Fixed(4), UF: 1}))

	body := block(t, l.Func, "vector.body")
	var acc *ir.Inst
	for _, phi := range body.Phis() {
		if phi.Name() == "vec.phi" {
			acc = phi
		}
	}
	require.NotNil(t, acc, "no accumulator in\n%s", l.Func)
	require.Equal(t, ir.I32, acc.Type())
	require.Equal(t, 2, acc.NumIncoming())
	require.Equal(t, body, acc.IncomingBlock(1))

	var reduce bool
	for i := range body.Insts() {
		if i.Opcode() == ir.OpCall && i.Callee() == "llvm.vector.reduce.add" {
			reduce = true
		}
	}
	require.True(t, reduce, "no horizontal reduction in\n%s", l.Func)
}

func calls(fn *ir.Function, callee string) int {
	n := 0
	for _, b := range fn.Blocks() {
		for i := range b.Insts() {
			if i.Opcode() == ir.OpCall && i.Callee() == callee {
				n++
			}
		}
	}
	return n
}

func named(fn *ir.Function, name string) []*ir.Inst {
	var out []*ir.Inst
	for _, b := range fn.Blocks() {
		for i := range b.Insts() {
			if i.Name() == name {
				out = append(out, i)
			}
		}
	}
	return out
}

func TestLowerRecurrence(t *testing.T) {
	for _, vf := range []ir.ElementCount{ir.Fixed(4), ir.Scalable(4)} {
		t.Run(vf.String(), func(t *testing.T) {
			l := loadTestdata(t, "recur.yaml")
			require.NoError(t, l.Lower(LowerOptions{VF: vf, UF: 2}))
			fn := l.Func
			ph := block(t, fn, "vector.ph")
			body := block(t, fn, "vector.body")

			phis := body.Phis()
			require.Len(t, phis, 3)
			require.Equal(t, "index", phis[0].Name())
			ind, recur := phis[1], phis[2]
			for _, phi := range phis {
				require.Equal(t, 2, phi.NumIncoming(), phi.Name())
				require.Equal(t, ph, phi.IncomingBlock(0), phi.Name())
				require.Equal(t, body, phi.IncomingBlock(1), phi.Name())
				require.True(t, phi.Sealed(), phi.Name())
			}

			require.Equal(t, "vec.ind", ind.Name())
			require.Equal(t, ir.VectorOf(ir.I32, vf), ind.Type())
			next, ok := ind.IncomingValue(1).(*ir.Inst)
			require.True(t, ok)
			require.Equal(t, "vec.ind.next", next.Name())
			require.Equal(t, body, next.Block())

			// The recurrence is fed by the load of the last part.
			require.Equal(t, "vector.recur", recur.Name())
			require.Equal(t, ir.VectorOf(ir.I32, vf), recur.Type())
			loads := named(fn, "wide.masked.load")
			require.Len(t, loads, 2)
			require.Equal(t, ir.Value(loads[1]), recur.IncomingValue(1))

			require.Equal(t, 2, calls(fn, ir.IntrinsicMaskedLoad))
			require.Equal(t, 2, calls(fn, ir.IntrinsicMaskedStore))
			require.Equal(t, 2, countOps(fn, ir.OpSelect))
			require.Len(t, named(fn, "vec.iv"), 2)
			if vf.Scalable {
				require.Equal(t, 2, calls(fn, ir.IntrinsicVectorSplice))
			} else {
				require.Equal(t, 0, calls(fn, ir.IntrinsicVectorSplice))
				splices := named(fn, "splice")
				require.Len(t, splices, 2)
				for _, sp := range splices {
					require.Equal(t, ir.OpShuffleVector, sp.Opcode())
					require.Equal(t, []int{3, 4, 5, 6}, sp.ShuffleMask())
				}
			}
		})
	}
}

func TestLowerPredicatedStore(t *testing.T) {
	l := loadTestdata(t, "predstore.yaml")
	require.NoError(t, l.Lower(LowerOptions{VF: ir.Fixed(4), UF: 1}))

	ifs := 0
	for _, b := range l.Func.Blocks() {
		if strings.HasPrefix(b.Name(), "pred.store.if") {
			ifs++
		}
	}
	require.Equal(t, 4, ifs)
	require.Equal(t, 4, countOps(l.Func, ir.OpStore))

	// The latch is the last continue block and loops back to the header.
	body := block(t, l.Func, "vector.body")
	exit := block(t, l.Func, "middle.block")
	var latch *ir.Block
	for _, b := range l.Func.Blocks() {
		if term := b.Terminator(); term != nil && term.Opcode() == ir.OpCondBr && term.Successor(0) == exit {
			latch = b
		}
	}
	require.NotNil(t, latch)
	require.Equal(t, body, latch.Terminator().Successor(1))
	require.True(t, strings.HasPrefix(latch.Name(), "pred.store.continue"))
}

func TestPrintPlan(t *testing.T) {
	l := loadTestdata(t, "addone.yaml")
	out := l.Plan.String()
	for _, want := range []string{
		"VPlan 'addone' {",
		"<x1> vector loop: {",
		"= CANONICAL-INDUCTION",
		"REPLICATE ir<%gep.b> = getelementptr ir<%b>, vp<%",
		"WIDEN ir<%ld> = load ir<%gep.b>",
		"WIDEN ir<%add> = add ir<%ld>, ir<1>",
		"WIDEN store ir<%gep.a>, ir<%add>",
		"EMIT vp<%",
		"branch-on-count",
		"Live-out i32 %last = ir<%add>",
	} {
		require.Contains(t, out, want)
	}

	l = loadTestdata(t, "predstore.yaml")
	out = l.Plan.String()
	require.Contains(t, out, "<xVFxUF> pred.store: {")
	require.Contains(t, out, "BRANCH-ON-MASK ir<%c>")
	require.Contains(t, out, "Successor(s): pred.store.if, pred.store.continue")
}

func TestFormatVersion(t *testing.T) {
	for _, tc := range []struct {
		version string
		ok      bool
	}{
		{"v1.0.0", true},
		{"v1.1.0", true},
		{"", false},
		{"banana", false},
		{"v0.9.0", false},
		{"v1.2.0", false},
		{"v2.0.0", false},
	} {
		_, err := Decode([]byte("format: \"" + tc.version + "\"\n"))
		if tc.ok {
			require.NoError(t, err, tc.version)
		} else {
			require.Error(t, err, tc.version)
		}
	}
}

func TestEncodeStampsFormat(t *testing.T) {
	data, err := Encode(&File{Name: "x"})
	require.NoError(t, err)
	f, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, FormatVersion, f.Format)
}

func TestLoadNamesFromPath(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "sum.yaml"))
	require.NoError(t, err)
	data = []byte(strings.Replace(string(data), "name: sum\n", "", 1))

	path := filepath.Join(t.TempDir(), "unnamed.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	l, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "unnamed.yaml", l.Name)
}

func TestBuildErrors(t *testing.T) {
	base, err := os.ReadFile(filepath.Join("testdata", "addone.yaml"))
	require.NoError(t, err)

	for _, tc := range []struct {
		name, old, new, want string
	}{
		{"undefined plan value", "operands: [$ld, \"i32 1\"]", "operands: [$nope, \"i32 1\"]", "undefined plan value $nope"},
		{"unknown kind", "kind: widen, def: add", "kind: widen-everything, def: add", "unknown recipe kind"},
		{"duplicate def", "def: gep.a, inst: gep.a", "def: gep.b, inst: gep.a", "defined twice"},
		{"unknown scalar", "inst: ld,", "inst: ldx,", "unknown scalar instruction"},
		{"backedge on widen", "kind: widen, def: add, inst: add,", "kind: widen, def: add, inst: add, backedge: $index,", "backedge on a widen recipe"},
		{"bad literal", "\"i32 1\"]}\n            - {kind: replicate", "\"i32 one\"]}\n            - {kind: replicate", "bad integer literal"},
		{"unknown live-out", "phi: \"%last\"", "phi: \"%add\"", "is not a phi of the function"},
		{"bad opcode", "\"VF * UF +(nuw)\"", "\"VF * UF\"", "unknown opcode"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := string(base)
			require.Contains(t, src, tc.old)
			_, err := Parse([]byte(strings.Replace(src, tc.old, tc.new, 1)))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLowerRejectsBadOptions(t *testing.T) {
	l := loadTestdata(t, "addone.yaml")
	require.Error(t, l.Lower(LowerOptions{VF: ir.Fixed(0), UF: 1}))
	require.Error(t, l.Lower(LowerOptions{VF: ir.Fixed(4), UF: 0}))
}

func TestMayGeneratePoison(t *testing.T) {
	base, err := os.ReadFile(filepath.Join("testdata", "addone.yaml"))
	require.NoError(t, err)
	src := strings.Replace(string(base),
		"{kind: widen, def: add, inst: add, operands: [$ld, \"i32 1\"]}",
		"{kind: widen, def: add, inst: add, operands: [$ld, \"i32 1\"], mayGeneratePoison: true}", 1)

	l, err := Parse([]byte(src))
	require.NoError(t, err)
	require.Len(t, l.MayGeneratePoison, 1)
	require.NoError(t, l.Lower(LowerOptions{VF: ir.Fixed(4), UF: 1}))

	for i := range block(t, l.Func, "vector.body").Insts() {
		if i.Opcode() == ir.OpAdd && i.Name() == "add" {
			require.False(t, i.Flags().Has(ir.FlagNSW))
			return
		}
	}
	t.Fatalf("no widened add in\n%s", l.Func)
}
