package iv

import (
	"fmt"

	"github.com/tinyrange/vplan/internal/expr"
	"github.com/tinyrange/vplan/internal/ir"
)

// InductionKind classifies an induction variable.
type InductionKind int

const (
	InductionNone InductionKind = iota
	InductionInt
	InductionFP
	InductionPointer
)

func (k InductionKind) String() string {
	switch k {
	case InductionInt:
		return "int"
	case InductionFP:
		return "fp"
	case InductionPointer:
		return "ptr"
	default:
		return "none"
	}
}

// InductionDescriptor describes an induction: start + i * step.
type InductionDescriptor struct {
	Kind  InductionKind
	Start ir.Value
	Step  expr.Expr
	// BinOp is the fadd/fsub of floating point inductions.
	BinOp ir.Opcode
	// FastMath are the flags of BinOp.
	FastMath ir.FastMathFlags
	// ElemType is the element a pointer induction strides over.
	ElemType ir.Type
}

// NewIntInduction returns an integer induction descriptor.
func NewIntInduction(start ir.Value, step expr.Expr) InductionDescriptor {
	if !start.Type().IsInt() {
		panic(fmt.Sprintf("iv: integer induction with start of type %s", start.Type()))
	}
	return InductionDescriptor{Kind: InductionInt, Start: start, Step: step}
}

// NewFPInduction returns a floating point induction descriptor stepping with
// fadd or fsub.
func NewFPInduction(start ir.Value, step expr.Expr, binOp ir.Opcode) InductionDescriptor {
	if binOp != ir.OpFAdd && binOp != ir.OpFSub {
		panic("iv: floating point induction must use fadd or fsub, got " + binOp.String())
	}
	return InductionDescriptor{Kind: InductionFP, Start: start, Step: step, BinOp: binOp}
}

// NewPointerInduction returns a pointer induction striding over elem.
func NewPointerInduction(start ir.Value, step expr.Expr, elem ir.Type) InductionDescriptor {
	return InductionDescriptor{Kind: InductionPointer, Start: start, Step: step, ElemType: elem}
}

// ConstIntStep returns the step when it is an integer literal.
func (d *InductionDescriptor) ConstIntStep() (int64, bool) {
	c, ok := expr.AsConstant(d.Step)
	if !ok || !c.Type().IsInt() {
		return 0, false
	}
	return c.Int(0), true
}
