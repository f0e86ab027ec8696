package planfile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tinyrange/vplan/internal/expr"
	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/iv"
	"github.com/tinyrange/vplan/internal/vplan"
)

// Loaded is a built plan file: the function to emit into and the plan.
type Loaded struct {
	Name      string
	Func      *ir.Function
	Preheader *ir.Block
	Plan      *vplan.Plan
	// Scalar maps the names of the original loop instructions to them.
	Scalar map[string]*ir.Inst
	// MayGeneratePoison holds the recipes marked mayGeneratePoison.
	MayGeneratePoison []vplan.Recipe
}

type builder struct {
	f      *File
	fn     *ir.Function
	values map[string]ir.Value
	scalar map[string]*ir.Inst

	// literals interns constants so equal literals share one live-in.
	literals map[string]ir.Value

	liveIns map[ir.Value]*vplan.Value
	defs    map[string]*vplan.Value
	blocks  map[string]*vplan.BasicBlock
	poison  []vplan.Recipe
	// fixups run once every recipe exists, for operands that may be
	// defined later in the loop.
	fixups []func() error
}

// Build turns a decoded file into IR and a plan.
func Build(f *File) (l *Loaded, err error) {
	// The ir and vplan constructors panic on malformed input; a file is
	// untrusted input, so report those as errors.
	defer func() {
		if r := recover(); r != nil {
			l, err = nil, fmt.Errorf("planfile: %v", r)
		}
	}()

	b := &builder{
		f:        f,
		values:   make(map[string]ir.Value),
		scalar:   make(map[string]*ir.Inst),
		literals: make(map[string]ir.Value),
		liveIns:  make(map[ir.Value]*vplan.Value),
		defs:     make(map[string]*vplan.Value),
		blocks:   make(map[string]*vplan.BasicBlock),
	}
	ph, err := b.buildFunction()
	if err != nil {
		return nil, fmt.Errorf("planfile: function %s: %w", f.Function.Name, err)
	}
	for _, si := range f.Scalar {
		i, err := b.newInst(si)
		if err != nil {
			return nil, fmt.Errorf("planfile: scalar %s: %w", si.Name, err)
		}
		if err := b.define(si.Name, i); err != nil {
			return nil, fmt.Errorf("planfile: scalar: %w", err)
		}
		b.scalar[si.Name] = i
	}
	plan, err := b.buildPlan()
	if err != nil {
		return nil, fmt.Errorf("planfile: plan: %w", err)
	}
	return &Loaded{
		Name:              f.Name,
		Func:              b.fn,
		Preheader:         ph,
		Plan:              plan,
		Scalar:            b.scalar,
		MayGeneratePoison: b.poison,
	}, nil
}

func (b *builder) define(name string, v ir.Value) error {
	if name == "" {
		return nil
	}
	if _, ok := b.values[name]; ok {
		return fmt.Errorf("value %%%s defined twice", name)
	}
	b.values[name] = v
	return nil
}

func (b *builder) buildFunction() (*ir.Block, error) {
	fd := b.f.Function
	if fd.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if len(fd.Blocks) == 0 {
		return nil, fmt.Errorf("no blocks")
	}
	b.fn = ir.NewFunction(fd.Name)
	for _, a := range fd.Args {
		t, err := ir.ParseType(a.Type)
		if err != nil {
			return nil, fmt.Errorf("arg %s: %w", a.Name, err)
		}
		if err := b.define(a.Name, b.fn.AddArg(a.Name, t)); err != nil {
			return nil, err
		}
	}

	blocks := make([]*ir.Block, len(fd.Blocks))
	for i, bs := range fd.Blocks {
		if _, ok := b.fn.Block(bs.Name); ok {
			return nil, fmt.Errorf("block %s defined twice", bs.Name)
		}
		blocks[i] = b.fn.NewBlock(bs.Name)
	}

	ib := ir.NewBuilder(b.fn)
	for i, bs := range fd.Blocks {
		ib.SetInsertPoint(blocks[i])
		for _, is := range bs.Insts {
			if err := b.emit(ib, is); err != nil {
				return nil, fmt.Errorf("block %s: %s: %w", bs.Name, is.Op, err)
			}
		}
	}

	if fd.Preheader == "" {
		return blocks[0], nil
	}
	ph, ok := b.fn.Block(fd.Preheader)
	if !ok {
		return nil, fmt.Errorf("unknown preheader block %s", fd.Preheader)
	}
	return ph, nil
}

// emit appends one instruction of the function skeleton.
func (b *builder) emit(ib *ir.Builder, is InstSpec) error {
	block := func(name string) (*ir.Block, error) {
		bb, ok := b.fn.Block(name)
		if !ok {
			return nil, fmt.Errorf("unknown block %s", name)
		}
		return bb, nil
	}

	switch is.Op {
	case "br":
		switch {
		case len(is.Succs) == 1 && len(is.Operands) == 0:
			dest, err := block(is.Succs[0])
			if err != nil {
				return err
			}
			ib.CreateBr(dest)
		case len(is.Succs) == 2 && len(is.Operands) == 1:
			cond, err := b.value(is.Operands[0])
			if err != nil {
				return err
			}
			t, err := block(is.Succs[0])
			if err != nil {
				return err
			}
			f, err := block(is.Succs[1])
			if err != nil {
				return err
			}
			ib.CreateCondBr(cond, t, f)
		default:
			return fmt.Errorf("br needs one target, or a condition and two targets")
		}
		return nil
	case "ret":
		if len(is.Operands) == 0 {
			ib.CreateRet(nil)
			return nil
		}
		v, err := b.value(is.Operands[0])
		if err != nil {
			return err
		}
		ib.CreateRet(v)
		return nil
	case "unreachable":
		ib.CreateUnreachable()
		return nil
	case "phi":
		// Exit phis start without incoming values; the lowering adds them.
		t, err := ir.ParseType(is.Type)
		if err != nil {
			return err
		}
		return b.define(is.Name, ib.CreatePHI(t, is.Name))
	}

	i, err := b.newInst(is)
	if err != nil {
		return err
	}
	ib.Insert(i, "")
	return b.define(is.Name, i)
}

// newInst creates a detached instruction from its description.
func (b *builder) newInst(is InstSpec) (*ir.Inst, error) {
	op, ok := ir.ParseOpcode(is.Op)
	if !ok {
		return nil, fmt.Errorf("unknown opcode %q", is.Op)
	}
	ops := make([]ir.Value, len(is.Operands))
	for n, s := range is.Operands {
		v, err := b.value(s)
		if err != nil {
			return nil, err
		}
		ops[n] = v
	}

	var t ir.Type
	switch {
	case is.Type != "":
		var err error
		if t, err = ir.ParseType(is.Type); err != nil {
			return nil, err
		}
	case op == ir.OpStore:
		t = ir.Void
	case op.IsBinaryOp() || op.IsUnaryOp() || op == ir.OpPhi:
		if len(ops) == 0 {
			return nil, fmt.Errorf("%s needs a type or an operand", op)
		}
		t = ops[0].Type()
	case op == ir.OpSelect:
		if len(ops) != 3 {
			return nil, fmt.Errorf("select needs three operands")
		}
		t = ops[1].Type()
	case op == ir.OpGEP:
		t = ir.Ptr
	case op != ir.OpICmp && op != ir.OpFCmp:
		return nil, fmt.Errorf("%s needs a type", op)
	}

	var i *ir.Inst
	switch op {
	case ir.OpICmp, ir.OpFCmp:
		if len(ops) != 2 {
			return nil, fmt.Errorf("%s needs two operands", op)
		}
		pred, ok := ir.ParsePredicate(is.Pred, op == ir.OpFCmp)
		if !ok {
			return nil, fmt.Errorf("unknown %s predicate %q", op, is.Pred)
		}
		i = ir.NewCmp(pred, is.Name, ops[0], ops[1])
	case ir.OpCall:
		if is.Callee == "" {
			return nil, fmt.Errorf("call without callee")
		}
		attrs, err := parseAttrs(is.Attrs)
		if err != nil {
			return nil, err
		}
		i = ir.NewCall(is.Callee, t, attrs, is.Name, ops...)
	default:
		i = ir.NewInst(op, t, is.Name, ops...)
	}

	flags, err := parseFlags(is.Flags)
	if err != nil {
		return nil, err
	}
	i.SetFlags(flags)
	if is.FMF != "" {
		fmf, err := ir.ParseFastMathFlags(is.FMF)
		if err != nil {
			return nil, err
		}
		i.SetFastMath(fmf)
	}
	if is.ElemType != "" {
		et, err := ir.ParseType(is.ElemType)
		if err != nil {
			return nil, err
		}
		i.SetSourceElementType(et)
	} else if op == ir.OpGEP {
		return nil, fmt.Errorf("getelementptr needs elemType")
	}
	i.SetVolatile(is.Volatile)
	if is.Dbg != "" {
		dl, err := parseDebugLoc(is.Dbg)
		if err != nil {
			return nil, err
		}
		i.SetDebugLoc(dl)
	}
	for k, v := range is.Metadata {
		i.SetMetadata(k, v)
	}
	return i, nil
}

// value resolves a reference to an IR value.
func (b *builder) value(s string) (ir.Value, error) {
	s = strings.TrimSpace(s)
	if name, ok := strings.CutPrefix(s, "%"); ok {
		v, ok := b.values[name]
		if !ok {
			return nil, fmt.Errorf("undefined value %%%s", name)
		}
		return v, nil
	}
	if v, ok := b.literals[s]; ok {
		return v, nil
	}
	v, err := parseLiteral(s)
	if err != nil {
		return nil, err
	}
	b.literals[s] = v
	return v, nil
}

// parseLiteral parses "poison <type>", "true", "false" or "<type> <value>".
func parseLiteral(s string) (ir.Value, error) {
	switch s {
	case "true":
		return ir.ConstBool(true), nil
	case "false":
		return ir.ConstBool(false), nil
	}
	if ts, ok := strings.CutPrefix(s, "poison "); ok {
		t, err := ir.ParseType(ts)
		if err != nil {
			return nil, err
		}
		return ir.PoisonOf(t), nil
	}
	sp := strings.LastIndexByte(s, ' ')
	if sp < 0 {
		return nil, fmt.Errorf("bad literal %q", s)
	}
	t, err := ir.ParseType(s[:sp])
	if err != nil {
		return nil, err
	}
	if t.IsVector() {
		return nil, fmt.Errorf("vector literal %q not supported", s)
	}
	lit := s[sp+1:]
	switch {
	case t.IsInt():
		if t.Bits == 1 && (lit == "true" || lit == "false") {
			return ir.ConstBool(lit == "true"), nil
		}
		n, err := strconv.ParseInt(lit, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer literal %q: %w", s, err)
		}
		return ir.ConstInt(t, n), nil
	case t.IsFloat():
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, fmt.Errorf("bad float literal %q: %w", s, err)
		}
		return ir.ConstFloat(t, f), nil
	case t.IsPtr() && lit == "null":
		return ir.ConstNull(t), nil
	}
	return nil, fmt.Errorf("bad literal %q", s)
}

func parseFlags(names []string) (ir.Flags, error) {
	var f ir.Flags
	for _, n := range names {
		switch n {
		case "nuw":
			f |= ir.FlagNUW
		case "nsw":
			f |= ir.FlagNSW
		case "exact":
			f |= ir.FlagExact
		case "inbounds":
			f |= ir.FlagInBounds
		default:
			return 0, fmt.Errorf("unknown flag %q", n)
		}
	}
	return f, nil
}

func parseAttrs(names []string) (ir.CallAttrs, error) {
	var a ir.CallAttrs
	for _, n := range names {
		switch n {
		case "readnone":
			a |= ir.AttrReadNone
		case "readonly":
			a |= ir.AttrReadOnly
		case "writeonly":
			a |= ir.AttrWriteOnly
		case "nounwind":
			a |= ir.AttrNoUnwind
		case "willreturn":
			a |= ir.AttrWillReturn
		default:
			return 0, fmt.Errorf("unknown call attribute %q", n)
		}
	}
	return a, nil
}

// parseDebugLoc parses file:line:col.
func parseDebugLoc(s string) (ir.DebugLoc, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ir.DebugLoc{}, fmt.Errorf("debug location %q is not file:line:col", s)
	}
	line, err := strconv.Atoi(parts[1])
	if err != nil {
		return ir.DebugLoc{}, fmt.Errorf("debug location %q: %w", s, err)
	}
	col, err := strconv.Atoi(parts[2])
	if err != nil {
		return ir.DebugLoc{}, fmt.Errorf("debug location %q: %w", s, err)
	}
	return ir.DebugLoc{File: parts[0], Line: line, Col: col}, nil
}

func (b *builder) parseExpr(e ExprSpec) (expr.Expr, error) {
	set := 0
	for _, ok := range []bool{e.Value != "", len(e.Add) > 0, len(e.Mul) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("expression needs exactly one of value, add or mul")
	}
	if e.Value != "" {
		v, err := b.value(e.Value)
		if err != nil {
			return nil, err
		}
		return expr.Of(v), nil
	}
	terms := e.Add
	if len(e.Mul) > 0 {
		terms = e.Mul
	}
	ops := make([]expr.Expr, len(terms))
	for i, t := range terms {
		x, err := b.parseExpr(t)
		if err != nil {
			return nil, err
		}
		ops[i] = x
	}
	if len(e.Mul) > 0 {
		return expr.NewMul(ops...), nil
	}
	return expr.NewAdd(ops...), nil
}

func (b *builder) parseInduction(is *InductionSpec) (iv.InductionDescriptor, error) {
	start, err := b.value(is.Start)
	if err != nil {
		return iv.InductionDescriptor{}, err
	}
	step, err := b.parseExpr(is.Step)
	if err != nil {
		return iv.InductionDescriptor{}, fmt.Errorf("step: %w", err)
	}
	var d iv.InductionDescriptor
	switch is.Kind {
	case "int":
		d = iv.NewIntInduction(start, step)
	case "fp":
		op, ok := ir.ParseOpcode(is.BinOp)
		if !ok {
			return d, fmt.Errorf("unknown induction opcode %q", is.BinOp)
		}
		d = iv.NewFPInduction(start, step, op)
	case "ptr":
		et, err := ir.ParseType(is.ElemType)
		if err != nil {
			return d, err
		}
		d = iv.NewPointerInduction(start, step, et)
	default:
		return d, fmt.Errorf("unknown induction kind %q", is.Kind)
	}
	if is.FMF != "" {
		if d.FastMath, err = ir.ParseFastMathFlags(is.FMF); err != nil {
			return d, err
		}
	}
	return d, nil
}

func (b *builder) parseRecurrence(rs *RecurrenceSpec) (iv.RecurrenceDescriptor, error) {
	kind, err := iv.ParseRecurKind(rs.Kind)
	if err != nil {
		return iv.RecurrenceDescriptor{}, err
	}
	start, err := b.value(rs.Start)
	if err != nil {
		return iv.RecurrenceDescriptor{}, err
	}
	d := iv.RecurrenceDescriptor{Kind: kind, Start: start, Ordered: rs.Ordered, IntermediateStore: rs.IntermediateStore}
	if rs.FMF != "" {
		if d.FastMath, err = ir.ParseFastMathFlags(rs.FMF); err != nil {
			return d, err
		}
	}
	return d, nil
}
