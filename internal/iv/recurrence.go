// Package iv holds the read-only descriptors of the inductions and
// recurrences found in a loop: what they start from, how they step and
// which operation folds them.
package iv

import (
	"fmt"
	"math"

	"github.com/tinyrange/vplan/internal/ir"
)

// RecurKind is the operation a reduction folds values with.
type RecurKind int

const (
	RecurNone RecurKind = iota
	RecurAdd
	RecurMul
	RecurOr
	RecurAnd
	RecurXor
	RecurSMin
	RecurSMax
	RecurUMin
	RecurUMax
	RecurFAdd
	RecurFMul
	RecurFMin
	RecurFMax
	RecurFMulAdd
	RecurSelectICmp
	RecurSelectFCmp
)

var recurNames = map[RecurKind]string{
	RecurNone:       "none",
	RecurAdd:        "add",
	RecurMul:        "mul",
	RecurOr:         "or",
	RecurAnd:        "and",
	RecurXor:        "xor",
	RecurSMin:       "smin",
	RecurSMax:       "smax",
	RecurUMin:       "umin",
	RecurUMax:       "umax",
	RecurFAdd:       "fadd",
	RecurFMul:       "fmul",
	RecurFMin:       "fmin",
	RecurFMax:       "fmax",
	RecurFMulAdd:    "fmuladd",
	RecurSelectICmp: "select-icmp",
	RecurSelectFCmp: "select-fcmp",
}

func (k RecurKind) String() string {
	if s, ok := recurNames[k]; ok {
		return s
	}
	return fmt.Sprintf("recur(%d)", int(k))
}

// ParseRecurKind resolves a kind name as printed by String.
func ParseRecurKind(s string) (RecurKind, error) {
	for k, name := range recurNames {
		if name == s && k != RecurNone {
			return k, nil
		}
	}
	return RecurNone, fmt.Errorf("iv: unknown recurrence kind %q", s)
}

// IsMinMax reports whether the kind is one of the min/max reductions.
func (k RecurKind) IsMinMax() bool {
	switch k {
	case RecurSMin, RecurSMax, RecurUMin, RecurUMax, RecurFMin, RecurFMax:
		return true
	}
	return false
}

// IsSelectCmp reports whether the kind is a select-of-compare reduction.
func (k RecurKind) IsSelectCmp() bool {
	return k == RecurSelectICmp || k == RecurSelectFCmp
}

// IsFloatingPoint reports whether the kind operates on floating point values.
func (k RecurKind) IsFloatingPoint() bool {
	switch k {
	case RecurFAdd, RecurFMul, RecurFMin, RecurFMax, RecurFMulAdd, RecurSelectFCmp:
		return true
	}
	return false
}

// Opcode returns the binary opcode reducing two partial results.
func (k RecurKind) Opcode() ir.Opcode {
	switch k {
	case RecurAdd:
		return ir.OpAdd
	case RecurMul:
		return ir.OpMul
	case RecurOr:
		return ir.OpOr
	case RecurAnd:
		return ir.OpAnd
	case RecurXor:
		return ir.OpXor
	case RecurFAdd, RecurFMulAdd:
		return ir.OpFAdd
	case RecurFMul:
		return ir.OpFMul
	case RecurSMin, RecurSMax, RecurUMin, RecurUMax, RecurSelectICmp:
		return ir.OpICmp
	case RecurFMin, RecurFMax, RecurSelectFCmp:
		return ir.OpFCmp
	}
	panic("iv: unknown recurrence kind " + k.String())
}

// MinMaxPredicate returns the compare used to pick between two partial
// results of a min/max reduction.
func (k RecurKind) MinMaxPredicate() ir.Predicate {
	switch k {
	case RecurSMin:
		return ir.ICmpSLT
	case RecurSMax:
		return ir.ICmpSGT
	case RecurUMin:
		return ir.ICmpULT
	case RecurUMax:
		return ir.ICmpUGT
	case RecurFMin:
		return ir.FCmpOLT
	case RecurFMax:
		return ir.FCmpOGT
	}
	panic("iv: not a min/max recurrence kind: " + k.String())
}

// RecurrenceDescriptor describes a reduction recognised in the scalar loop.
type RecurrenceDescriptor struct {
	Kind RecurKind
	// Start is the value the reduction holds before the loop.
	Start ir.Value
	// FastMath is the set of flags every operation of the chain carries.
	FastMath ir.FastMathFlags
	// Ordered marks floating point reductions that must keep the original
	// evaluation order.
	Ordered bool
	// IntermediateStore is set when the final value is stored to an
	// invariant address inside the loop.
	IntermediateStore bool
}

// Opcode returns the binary opcode reducing two partial results.
func (d *RecurrenceDescriptor) Opcode() ir.Opcode {
	return d.Kind.Opcode()
}

// IsOrdered reports whether the reduction must be evaluated in order.
func (d *RecurrenceDescriptor) IsOrdered() bool {
	return d.Ordered
}

// Identity returns the neutral element of the recurrence for type t.
func (d *RecurrenceDescriptor) Identity(t ir.Type) *ir.Const {
	return Identity(d.Kind, t, d.FastMath)
}

// Identity returns the neutral element of kind for the scalar type t.
// Select-compare reductions have none and panic.
func Identity(kind RecurKind, t ir.Type, fmf ir.FastMathFlags) *ir.Const {
	switch kind {
	case RecurXor, RecurAdd, RecurOr, RecurUMax:
		return ir.ConstInt(t, 0)
	case RecurMul:
		return ir.ConstInt(t, 1)
	case RecurAnd, RecurUMin:
		return ir.ConstAllOnes(t)
	case RecurSMin:
		return ir.ConstInt(t, int64(^uint64(0)>>uint(65-t.Bits)))
	case RecurSMax:
		return ir.ConstInt(t, -1<<uint(t.Bits-1))
	case RecurFMul:
		return ir.ConstFloat(t, 1)
	case RecurFMulAdd, RecurFAdd:
		if fmf.NoSignedZeros() {
			return ir.ConstFloat(t, 0)
		}
		return ir.ConstFloat(t, math.Copysign(0, -1))
	case RecurFMin:
		return ir.ConstFloat(t, math.Inf(1))
	case RecurFMax:
		return ir.ConstFloat(t, math.Inf(-1))
	}
	panic("iv: unknown recurrence identity for " + kind.String())
}
