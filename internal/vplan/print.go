package vplan

import (
	"fmt"
	"io"
	"strings"

	"github.com/tinyrange/vplan/internal/ir"
)

// printer renders a plan. Values defined by recipes without a named scalar
// instruction are numbered in the order they are defined.
type printer struct {
	sb     strings.Builder
	slots  map[*Value]int
	indent string
}

func newPrinter(p *Plan) *printer {
	pr := &printer{slots: make(map[*Value]int)}
	assign := func(bb *BasicBlock) {
		for r := range bb.All() {
			for _, d := range r.Defs() {
				pr.slots[d] = len(pr.slots)
			}
		}
	}
	assign(p.Entry)
	for bb := range p.VectorLoop.BasicBlocks() {
		assign(bb)
	}
	return pr
}

func (p *printer) printf(format string, args ...any) {
	fmt.Fprintf(&p.sb, format, args...)
}

// operand formats v as ir<...> when it stands for a named IR value or
// constant and as vp<%N> otherwise.
func (p *printer) operand(v *Value) string {
	switch u := v.Underlying().(type) {
	case nil:
	case *ir.Inst:
		if u.Name() != "" {
			return "ir<%" + u.Name() + ">"
		}
	default:
		return "ir<" + u.String() + ">"
	}
	if n, ok := p.slots[v]; ok {
		return fmt.Sprintf("vp<%%%d>", n)
	}
	return "<badref>"
}

func (p *printer) operands(ops []*Value) string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		parts[i] = p.operand(op)
	}
	return strings.Join(parts, ", ")
}

func fmfSuffix(f ir.FastMathFlags) string {
	if f == 0 {
		return ""
	}
	return " " + f.String()
}

func (p *printer) block(b Block) {
	switch b := b.(type) {
	case *BasicBlock:
		p.printf("%s%s:\n", p.indent, b.Name())
		for r := range b.All() {
			p.printf("%s  ", p.indent)
			r.print(p)
			p.printf("\n")
		}
	case *Region:
		tag := "<x1>"
		if b.Replicator {
			tag = "<xVFxUF>"
		}
		p.printf("%s%s %s: {\n", p.indent, tag, b.Name())
		outer := p.indent
		p.indent += "  "
		for i, inner := range b.Blocks {
			if i > 0 {
				p.printf("\n")
			}
			p.block(inner)
		}
		p.indent = outer
		p.printf("%s}\n", p.indent)
	}
	p.successors(b)
}

func (p *printer) successors(b Block) {
	succs := b.Successors()
	if len(succs) == 0 {
		p.printf("%sNo successors\n", p.indent)
		return
	}
	names := make([]string, len(succs))
	for i, s := range succs {
		names[i] = s.Name()
	}
	p.printf("%sSuccessor(s): %s\n", p.indent, strings.Join(names, ", "))
}

// Print writes a textual form of the plan to w.
func (pl *Plan) Print(w io.Writer) error {
	p := newPrinter(pl)
	if pl.Name != "" {
		p.printf("VPlan '%s' {\n", pl.Name)
	} else {
		p.printf("VPlan {\n")
	}
	p.block(pl.Entry)
	p.printf("\n")
	p.block(pl.VectorLoop)
	for _, lo := range pl.liveOuts {
		p.printf("Live-out %s %%%s = %s\n", lo.Phi.Type(), lo.Phi.Name(), p.operand(lo.op))
	}
	p.printf("}\n")
	_, err := io.WriteString(w, p.sb.String())
	return err
}

func (pl *Plan) String() string {
	var sb strings.Builder
	_ = pl.Print(&sb)
	return sb.String()
}

// PrintRecipe renders a single recipe, numbering values within the plan
// holding it when there is one.
func PrintRecipe(r Recipe) string {
	p := &printer{slots: make(map[*Value]int)}
	if bb := r.Parent(); bb != nil {
		if pl := planOf(bb); pl != nil {
			p = newPrinter(pl)
		}
	}
	for _, d := range r.Defs() {
		if _, ok := p.slots[d]; !ok {
			p.slots[d] = len(p.slots)
		}
	}
	r.print(p)
	return p.sb.String()
}

// planOf finds the plan of bb through the region tree; only the top-level
// loop region knows its preheader.
func planOf(bb *BasicBlock) *Plan {
	var top Block = bb
	for top.Parent() != nil {
		top = top.Parent()
	}
	loop, ok := top.(*Region)
	if !ok {
		return nil
	}
	entry, ok := singleBlock(loop.Predecessors()).(*BasicBlock)
	if !ok {
		return nil
	}
	return &Plan{Entry: entry, VectorLoop: loop}
}

func (r *Instruction) print(p *printer) {
	p.printf("EMIT ")
	if len(r.Defs()) > 0 {
		p.printf("%s = ", p.operand(r.Result()))
	}
	p.printf("%s%s", r.Opcode, fmfSuffix(r.fmf))
	for _, op := range r.Operands() {
		p.printf(" %s", p.operand(op))
	}
	if r.dl.IsValid() {
		p.printf(", !dbg %s", r.dl)
	}
}

func (r *Widen) print(p *printer) {
	p.printf("WIDEN %s = %s %s", p.operand(r.Result()), r.underlying.Opcode(), p.operands(r.Operands()))
}

func (r *WidenSelect) print(p *printer) {
	p.printf("WIDEN-SELECT %s = select %s", p.operand(r.Result()), p.operands(r.Operands()))
	if r.InvariantCond {
		p.printf(" (condition is loop invariant)")
	}
}

func (r *WidenGEP) print(p *printer) {
	p.printf("WIDEN-GEP %s", invVar(r.isPointerLoopInvariant()))
	for i := 1; i < r.NumOperands(); i++ {
		p.printf("[%s]", invVar(r.isIndexLoopInvariant(i-1)))
	}
	p.printf(" %s = getelementptr %s", p.operand(r.Result()), p.operands(r.Operands()))
}

func invVar(inv bool) string {
	if inv {
		return "Inv"
	}
	return "Var"
}

func (r *WidenCall) print(p *printer) {
	p.printf("WIDEN-CALL ")
	if len(r.Defs()) == 0 {
		p.printf("void ")
	} else {
		p.printf("%s = ", p.operand(r.Result()))
	}
	p.printf("call @%s(%s)", r.underlying.Callee(), p.operands(r.Operands()))
	if r.Variant != "" {
		p.printf(" (using %s)", r.Variant)
	}
}

func (r *WidenMemory) print(p *printer) {
	p.printf("WIDEN ")
	if !r.IsStore() {
		p.printf("%s = ", p.operand(r.Result()))
	}
	p.printf("%s %s", r.underlying.Opcode(), p.operands(r.Operands()))
	if r.Reverse {
		p.printf(" (reverse)")
	}
}

func (r *Replicate) print(p *printer) {
	if r.IsUniform {
		p.printf("CLONE ")
	} else {
		p.printf("REPLICATE ")
	}
	if len(r.Defs()) > 0 {
		p.printf("%s = ", p.operand(r.Result()))
	}
	if r.underlying.Opcode() == ir.OpCall {
		p.printf("call @%s(%s)", r.underlying.Callee(), p.operands(r.Operands()))
	} else {
		p.printf("%s %s", r.underlying.Opcode(), p.operands(r.Operands()))
	}
	if r.AlsoPack {
		p.printf(" (S->V)")
	}
}

func (r *Blend) print(p *printer) {
	p.printf("BLEND %%%s =", r.underlying.Name())
	if r.NumIncoming() == 1 {
		p.printf(" %s", p.operand(r.IncomingValue(0)))
		return
	}
	for i := 0; i < r.NumIncoming(); i++ {
		p.printf(" %s/%s", p.operand(r.IncomingValue(i)), p.operand(r.Mask(i)))
	}
}

func (r *BranchOnMask) print(p *printer) {
	p.printf("BRANCH-ON-MASK ")
	if m := r.Mask(); m != nil {
		p.printf("%s", p.operand(m))
	} else {
		p.printf("all_one")
	}
}

func (r *PredInstPHI) print(p *printer) {
	p.printf("PHI-PREDICATED-INSTRUCTION %s = %s", p.operand(r.Result()), p.operands(r.Operands()))
}

func (r *Reduction) print(p *printer) {
	p.printf("REDUCE %s = %s +%s reduce.%s (%s",
		p.operand(r.Result()), p.operand(r.ChainOp()), fmfSuffix(r.Desc.FastMath),
		r.Desc.Kind.Opcode(), p.operand(r.VecOp()))
	if c := r.CondOp(); c != nil {
		p.printf(", %s", p.operand(c))
	}
	p.printf(")")
	if r.Desc.IntermediateStore {
		p.printf(" (with final reduction value stored in invariant address sank outside of loop)")
	}
}

func (r *ExpandExpr) print(p *printer) {
	p.printf("EMIT %s = EXPAND EXPR %s", p.operand(r.Result()), r.Expr)
}

func (r *ScalarIVSteps) print(p *printer) {
	p.printf("%s = SCALAR-STEPS %s", p.operand(r.Result()), p.operands(r.Operands()))
}

func (r *WidenCanonicalIV) print(p *printer) {
	p.printf("EMIT %s = WIDEN-CANONICAL-INDUCTION %s", p.operand(r.Result()), p.operands(r.Operands()))
}

func (r *CanonicalIVPHI) print(p *printer) {
	p.printf("EMIT %s = CANONICAL-INDUCTION", p.operand(r.Result()))
}

func (r *WidenIntOrFpInduction) print(p *printer) {
	p.printf("WIDEN-INDUCTION %s, %s", ir.Format(r.underlying), p.operand(r.StepValue()))
}

func (r *WidenPointerInduction) print(p *printer) {
	p.printf("EMIT %s = WIDEN-POINTER-INDUCTION %s, %s", p.operand(r.Result()), p.operand(r.StartValue()), r.Desc.Step)
}

func (r *FirstOrderRecurrencePHI) print(p *printer) {
	p.printf("FIRST-ORDER-RECURRENCE-PHI %s = phi %s", p.operand(r.Result()), p.operands(r.Operands()))
}

func (r *ReductionPHI) print(p *printer) {
	p.printf("WIDEN-REDUCTION-PHI %s = phi %s", p.operand(r.Result()), p.operands(r.Operands()))
}

func (r *WidenPHI) print(p *printer) {
	p.printf("WIDEN-PHI %s = phi %s", p.operand(r.Result()), p.operands(r.Operands()))
}
