package planfile

import (
	"fmt"
	"strings"

	"github.com/tinyrange/vplan/internal/ir"
	"github.com/tinyrange/vplan/internal/vplan"
)

func (b *builder) buildPlan() (*vplan.Plan, error) {
	ps := b.f.Plan
	if ps.Preheader.Name == "" {
		ps.Preheader.Name = "vector.ph"
	}
	entry, err := b.buildBlock(ps.Preheader)
	if err != nil {
		return nil, err
	}
	if ps.Loop.Replicator {
		return nil, fmt.Errorf("loop region %s cannot be a replicator", ps.Loop.Name)
	}
	loop, err := b.buildRegion(ps.Loop)
	if err != nil {
		return nil, err
	}
	for _, fix := range b.fixups {
		if err := fix(); err != nil {
			return nil, err
		}
	}

	plan := vplan.NewPlan(entry, loop)
	plan.Name = b.f.Name
	for _, lo := range ps.LiveOuts {
		pv, ok := b.values[strings.TrimPrefix(lo.Phi, "%")]
		phi, isInst := pv.(*ir.Inst)
		if !ok || !isInst || phi.Opcode() != ir.OpPhi {
			return nil, fmt.Errorf("live-out %s is not a phi of the function", lo.Phi)
		}
		v, err := b.operand(lo.Value)
		if err != nil {
			return nil, fmt.Errorf("live-out %s: %w", lo.Phi, err)
		}
		plan.AddLiveOut(phi, v)
	}
	return plan, nil
}

func (b *builder) buildRegion(rs RegionSpec) (*vplan.Region, error) {
	if len(rs.Blocks) == 0 {
		return nil, fmt.Errorf("region %s has no blocks", rs.Name)
	}
	nodes := make([]vplan.Block, len(rs.Blocks))
	byName := make(map[string]vplan.Block)
	for i, ns := range rs.Blocks {
		var n vplan.Block
		switch {
		case ns.Block != nil && ns.Region == nil:
			bb, err := b.buildBlock(*ns.Block)
			if err != nil {
				return nil, err
			}
			n = bb
		case ns.Region != nil && ns.Block == nil:
			r, err := b.buildRegion(*ns.Region)
			if err != nil {
				return nil, err
			}
			n = r
		default:
			return nil, fmt.Errorf("region %s entry %d needs exactly one of block or region", rs.Name, i)
		}
		if _, dup := byName[n.Name()]; dup {
			return nil, fmt.Errorf("region %s: %s defined twice", rs.Name, n.Name())
		}
		byName[n.Name()] = n
		nodes[i] = n
	}

	for i, ns := range rs.Blocks {
		if len(ns.Succs) == 0 {
			if i+1 < len(nodes) {
				vplan.Connect(nodes[i], nodes[i+1])
			}
			continue
		}
		for _, s := range ns.Succs {
			to, ok := byName[s]
			if !ok {
				return nil, fmt.Errorf("region %s: unknown successor %s of %s", rs.Name, s, nodes[i].Name())
			}
			vplan.Connect(nodes[i], to)
		}
	}
	return vplan.NewRegion(rs.Name, rs.Replicator, nodes...), nil
}

func (b *builder) buildBlock(bs PlanBlockSpec) (*vplan.BasicBlock, error) {
	if bs.Name == "" {
		return nil, fmt.Errorf("plan block without name")
	}
	if _, dup := b.blocks[bs.Name]; dup {
		return nil, fmt.Errorf("plan block %s defined twice", bs.Name)
	}
	bb := vplan.NewBasicBlock(bs.Name)
	b.blocks[bs.Name] = bb
	for i, rs := range bs.Recipes {
		r, err := b.buildRecipe(rs)
		if err != nil {
			return nil, fmt.Errorf("block %s recipe %d (%s): %w", bs.Name, i, rs.Kind, err)
		}
		bb.Append(r)
		if rs.MayGeneratePoison {
			b.poison = append(b.poison, r)
		}
		if rs.Def == "" {
			continue
		}
		if len(r.Defs()) != 1 {
			return nil, fmt.Errorf("block %s recipe %d (%s) defines no value to name %s", bs.Name, i, rs.Kind, rs.Def)
		}
		if _, dup := b.defs[rs.Def]; dup {
			return nil, fmt.Errorf("plan value $%s defined twice", rs.Def)
		}
		b.defs[rs.Def] = r.Result()
	}
	return bb, nil
}

// operand resolves a plan value reference: $name for recipe results,
// anything else is an IR value used as a live-in.
func (b *builder) operand(s string) (*vplan.Value, error) {
	s = strings.TrimSpace(s)
	if name, ok := strings.CutPrefix(s, "$"); ok {
		v, ok := b.defs[name]
		if !ok {
			return nil, fmt.Errorf("undefined plan value $%s", name)
		}
		return v, nil
	}
	v, err := b.value(s)
	if err != nil {
		return nil, err
	}
	if lv, ok := b.liveIns[v]; ok {
		return lv, nil
	}
	lv := vplan.NewLiveIn(v)
	b.liveIns[v] = lv
	return lv, nil
}

func (b *builder) operands(ss []string) ([]*vplan.Value, error) {
	out := make([]*vplan.Value, len(ss))
	for i, s := range ss {
		v, err := b.operand(s)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// optional resolves s, returning nil for an empty reference.
func (b *builder) optional(s string) (*vplan.Value, error) {
	if s == "" {
		return nil, nil
	}
	return b.operand(s)
}

func (b *builder) scalarInst(name string) (*ir.Inst, error) {
	if name == "" {
		return nil, fmt.Errorf("missing inst")
	}
	i, ok := b.scalar[strings.TrimPrefix(name, "%")]
	if !ok {
		return nil, fmt.Errorf("unknown scalar instruction %s", name)
	}
	return i, nil
}

func wantOperands(ops []*vplan.Value, n int) error {
	if len(ops) != n {
		return fmt.Errorf("want %d operands, got %d", n, len(ops))
	}
	return nil
}

func (b *builder) buildRecipe(rs RecipeSpec) (vplan.Recipe, error) {
	ops, err := b.operands(rs.Operands)
	if err != nil {
		return nil, err
	}
	mask, err := b.optional(rs.Mask)
	if err != nil {
		return nil, err
	}
	needsInst := rs.Kind != "instruction" && rs.Kind != "branch-on-mask" && rs.Kind != "pred-inst-phi" &&
		rs.Kind != "expand-expr" && rs.Kind != "scalar-iv-steps" && rs.Kind != "widen-canonical-iv" &&
		rs.Kind != "canonical-iv-phi"
	var inst *ir.Inst
	if needsInst {
		if inst, err = b.scalarInst(rs.Inst); err != nil {
			return nil, err
		}
	}
	var dl ir.DebugLoc
	if rs.Dbg != "" {
		if dl, err = parseDebugLoc(rs.Dbg); err != nil {
			return nil, err
		}
	}

	var r vplan.Recipe
	switch rs.Kind {
	case "instruction":
		op, ok := vplan.ParseOpcode(rs.Opcode)
		if !ok {
			return nil, fmt.Errorf("unknown opcode %q", rs.Opcode)
		}
		in := vplan.NewInstruction(op, ops, dl)
		if rs.Def != "" {
			in.SetName(rs.Def)
		}
		if rs.FMF != "" {
			fmf, err := ir.ParseFastMathFlags(rs.FMF)
			if err != nil {
				return nil, err
			}
			in.SetFastMathFlags(fmf)
		}
		r = in
	case "widen":
		r = vplan.NewWiden(inst, ops...)
	case "widen-select":
		if err := wantOperands(ops, 3); err != nil {
			return nil, err
		}
		r = vplan.NewWidenSelect(inst, ops[0], ops[1], ops[2], rs.InvariantCond)
	case "widen-gep":
		r = vplan.NewWidenGEP(inst, ops...)
	case "widen-call":
		wc := vplan.NewWidenCall(inst, rs.Variant, ops...)
		for _, i := range rs.ScalarOperands {
			wc.ScalarOperands[i] = true
		}
		r = wc
	case "widen-memory":
		switch inst.Opcode() {
		case ir.OpLoad:
			if err := wantOperands(ops, 1); err != nil {
				return nil, err
			}
			r = vplan.NewWidenLoad(inst, ops[0], mask, rs.Consecutive, rs.Reverse)
		case ir.OpStore:
			if err := wantOperands(ops, 2); err != nil {
				return nil, err
			}
			r = vplan.NewWidenStore(inst, ops[0], ops[1], mask, rs.Consecutive, rs.Reverse)
		default:
			return nil, fmt.Errorf("widen-memory of %s", inst.Opcode())
		}
	case "replicate":
		rep := vplan.NewReplicate(inst, ops, rs.Uniform, rs.Predicated)
		rep.AlsoPack = rs.AlsoPack
		r = rep
	case "blend":
		r = vplan.NewBlend(inst, ops...)
	case "branch-on-mask":
		r = vplan.NewBranchOnMask(mask)
	case "pred-inst-phi":
		if err := wantOperands(ops, 1); err != nil {
			return nil, err
		}
		r = vplan.NewPredInstPHI(ops[0])
	case "reduction":
		if rs.Recurrence == nil {
			return nil, fmt.Errorf("missing recurrence")
		}
		desc, err := b.parseRecurrence(rs.Recurrence)
		if err != nil {
			return nil, err
		}
		if err := wantOperands(ops, 2); err != nil {
			return nil, err
		}
		r = vplan.NewReduction(inst, desc, ops[0], ops[1], mask)
	case "expand-expr":
		if rs.Expr == nil {
			return nil, fmt.Errorf("missing expr")
		}
		e, err := b.parseExpr(*rs.Expr)
		if err != nil {
			return nil, err
		}
		r = vplan.NewExpandExpr(e)
	case "scalar-iv-steps":
		if rs.Induction == nil {
			return nil, fmt.Errorf("missing induction")
		}
		desc, err := b.parseInduction(rs.Induction)
		if err != nil {
			return nil, err
		}
		if err := wantOperands(ops, 3); err != nil {
			return nil, err
		}
		r = vplan.NewScalarIVSteps(ops[0], ops[1], ops[2], desc)
	case "widen-canonical-iv":
		if err := wantOperands(ops, 1); err != nil {
			return nil, err
		}
		r = vplan.NewWidenCanonicalIV(ops[0])
	case "canonical-iv-phi":
		if err := wantOperands(ops, 1); err != nil {
			return nil, err
		}
		r = vplan.NewCanonicalIVPHI(ops[0], dl)
	case "widen-int-or-fp-induction", "widen-pointer-induction":
		if rs.Induction == nil {
			return nil, fmt.Errorf("missing induction")
		}
		desc, err := b.parseInduction(rs.Induction)
		if err != nil {
			return nil, err
		}
		if err := wantOperands(ops, 2); err != nil {
			return nil, err
		}
		if rs.Kind == "widen-pointer-induction" {
			r = vplan.NewWidenPointerInduction(inst, ops[0], ops[1], desc)
		} else {
			r = vplan.NewWidenIntOrFpInduction(inst, ops[0], ops[1], desc)
		}
	case "first-order-recurrence-phi":
		if err := wantOperands(ops, 1); err != nil {
			return nil, err
		}
		r = vplan.NewFirstOrderRecurrencePHI(inst, ops[0])
	case "reduction-phi":
		if rs.Recurrence == nil {
			return nil, fmt.Errorf("missing recurrence")
		}
		desc, err := b.parseRecurrence(rs.Recurrence)
		if err != nil {
			return nil, err
		}
		if err := wantOperands(ops, 1); err != nil {
			return nil, err
		}
		r = vplan.NewReductionPHI(inst, ops[0], desc, rs.InLoop)
	case "widen-phi":
		wp := vplan.NewWidenPHI(inst)
		for _, in := range rs.Incoming {
			b.fixups = append(b.fixups, func() error {
				v, err := b.operand(in.Value)
				if err != nil {
					return fmt.Errorf("widen-phi incoming: %w", err)
				}
				bb, ok := b.blocks[in.Block]
				if !ok {
					return fmt.Errorf("widen-phi incoming: unknown block %s", in.Block)
				}
				wp.AddIncoming(v, bb)
				return nil
			})
		}
		r = wp
	default:
		return nil, fmt.Errorf("unknown recipe kind %q", rs.Kind)
	}

	if rs.Dbg != "" {
		if d, ok := r.(interface{ SetDebugLoc(ir.DebugLoc) }); ok {
			d.SetDebugLoc(dl)
		}
	}
	if rs.Backedge != "" {
		if !r.Kind().IsHeaderPhi() || rs.Kind == "widen-phi" {
			return nil, fmt.Errorf("backedge on a %s recipe", rs.Kind)
		}
		b.fixups = append(b.fixups, func() error {
			v, err := b.operand(rs.Backedge)
			if err != nil {
				return fmt.Errorf("backedge: %w", err)
			}
			r.AddOperand(v)
			return nil
		})
	}
	return r, nil
}
