package ir

import (
	"fmt"
	"strings"
)

type Opcode int

const (
	OpInvalid Opcode = iota

	// Binary operators.
	OpAdd
	OpSub
	OpMul
	OpUDiv
	OpSDiv
	OpURem
	OpSRem
	OpShl
	OpLShr
	OpAShr
	OpAnd
	OpOr
	OpXor
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem

	// Unary operators.
	OpFNeg
	OpFreeze

	// Casts.
	OpTrunc
	OpZExt
	OpSExt
	OpFPToUI
	OpFPToSI
	OpUIToFP
	OpSIToFP
	OpFPTrunc
	OpFPExt
	OpPtrToInt
	OpIntToPtr
	OpBitCast

	OpICmp
	OpFCmp
	OpSelect
	OpPhi
	OpGEP
	OpLoad
	OpStore
	OpCall
	OpExtractElement
	OpInsertElement
	OpShuffleVector

	// Terminators.
	OpBr
	OpCondBr
	OpUnreachable
	OpRet
)

var opcodeNames = map[Opcode]string{
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpUDiv:           "udiv",
	OpSDiv:           "sdiv",
	OpURem:           "urem",
	OpSRem:           "srem",
	OpShl:            "shl",
	OpLShr:           "lshr",
	OpAShr:           "ashr",
	OpAnd:            "and",
	OpOr:             "or",
	OpXor:            "xor",
	OpFAdd:           "fadd",
	OpFSub:           "fsub",
	OpFMul:           "fmul",
	OpFDiv:           "fdiv",
	OpFRem:           "frem",
	OpFNeg:           "fneg",
	OpFreeze:         "freeze",
	OpTrunc:          "trunc",
	OpZExt:           "zext",
	OpSExt:           "sext",
	OpFPToUI:         "fptoui",
	OpFPToSI:         "fptosi",
	OpUIToFP:         "uitofp",
	OpSIToFP:         "sitofp",
	OpFPTrunc:        "fptrunc",
	OpFPExt:          "fpext",
	OpPtrToInt:       "ptrtoint",
	OpIntToPtr:       "inttoptr",
	OpBitCast:        "bitcast",
	OpICmp:           "icmp",
	OpFCmp:           "fcmp",
	OpSelect:         "select",
	OpPhi:            "phi",
	OpGEP:            "getelementptr",
	OpLoad:           "load",
	OpStore:          "store",
	OpCall:           "call",
	OpExtractElement: "extractelement",
	OpInsertElement:  "insertelement",
	OpShuffleVector:  "shufflevector",
	OpBr:             "br",
	OpCondBr:         "br",
	OpUnreachable:    "unreachable",
	OpRet:            "ret",
}

func (op Opcode) String() string {
	if s, ok := opcodeNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseOpcode maps an opcode mnemonic back to its Opcode.
func ParseOpcode(s string) (Opcode, bool) {
	for op, name := range opcodeNames {
		if name == s && op != OpCondBr {
			return op, true
		}
	}
	return OpInvalid, false
}

func (op Opcode) IsBinaryOp() bool { return op >= OpAdd && op <= OpFRem }
func (op Opcode) IsUnaryOp() bool  { return op == OpFNeg }
func (op Opcode) IsCast() bool     { return op >= OpTrunc && op <= OpBitCast }

func (op Opcode) IsTerminator() bool {
	return op >= OpBr && op <= OpRet
}

// IsFPMath reports whether the opcode accepts fast-math flags.
func (op Opcode) IsFPMath() bool {
	switch op {
	case OpFAdd, OpFSub, OpFMul, OpFDiv, OpFRem, OpFNeg, OpFCmp:
		return true
	}
	return false
}

// Predicate is the comparison performed by icmp and fcmp.
type Predicate uint8

const (
	PredInvalid Predicate = iota
	ICmpEQ
	ICmpNE
	ICmpUGT
	ICmpUGE
	ICmpULT
	ICmpULE
	ICmpSGT
	ICmpSGE
	ICmpSLT
	ICmpSLE
	FCmpOEQ
	FCmpOGT
	FCmpOGE
	FCmpOLT
	FCmpOLE
	FCmpONE
	FCmpORD
	FCmpUNO
	FCmpUEQ
	FCmpUGT
	FCmpUGE
	FCmpULT
	FCmpULE
	FCmpUNE
)

var predicateNames = [...]string{
	PredInvalid: "invalid",
	ICmpEQ:      "eq",
	ICmpNE:      "ne",
	ICmpUGT:     "ugt",
	ICmpUGE:     "uge",
	ICmpULT:     "ult",
	ICmpULE:     "ule",
	ICmpSGT:     "sgt",
	ICmpSGE:     "sge",
	ICmpSLT:     "slt",
	ICmpSLE:     "sle",
	FCmpOEQ:     "oeq",
	FCmpOGT:     "ogt",
	FCmpOGE:     "oge",
	FCmpOLT:     "olt",
	FCmpOLE:     "ole",
	FCmpONE:     "one",
	FCmpORD:     "ord",
	FCmpUNO:     "uno",
	FCmpUEQ:     "ueq",
	FCmpUGT:     "ugt",
	FCmpUGE:     "uge",
	FCmpULT:     "ult",
	FCmpULE:     "ule",
	FCmpUNE:     "une",
}

func (p Predicate) String() string {
	if int(p) < len(predicateNames) {
		return predicateNames[p]
	}
	return "invalid"
}

func (p Predicate) IsIntPredicate() bool { return p >= ICmpEQ && p <= ICmpSLE }
func (p Predicate) IsFPPredicate() bool  { return p >= FCmpOEQ && p <= FCmpUNE }

// ParsePredicate resolves a predicate mnemonic; fp selects the fcmp table.
func ParsePredicate(s string, fp bool) (Predicate, bool) {
	lo, hi := ICmpEQ, ICmpSLE
	if fp {
		lo, hi = FCmpOEQ, FCmpUNE
	}
	for p := lo; p <= hi; p++ {
		if predicateNames[p] == s {
			return p, true
		}
	}
	return PredInvalid, false
}

// Flags are the numeric-safety flags an instruction can carry. All of them
// may turn a result into poison when their assumption is violated.
type Flags uint8

const (
	FlagNUW Flags = 1 << iota
	FlagNSW
	FlagExact
	FlagInBounds
)

func (f Flags) Has(o Flags) bool { return f&o == o }

func (f Flags) String() string {
	var parts []string
	if f.Has(FlagNUW) {
		parts = append(parts, "nuw")
	}
	if f.Has(FlagNSW) {
		parts = append(parts, "nsw")
	}
	if f.Has(FlagExact) {
		parts = append(parts, "exact")
	}
	if f.Has(FlagInBounds) {
		parts = append(parts, "inbounds")
	}
	return strings.Join(parts, " ")
}

// FastMathFlags relax IEEE semantics on floating point operations.
type FastMathFlags uint8

const (
	FMFReassoc FastMathFlags = 1 << iota
	FMFNoNaNs
	FMFNoInfs
	FMFNoSignedZeros
	FMFAllowReciprocal
	FMFAllowContract
	FMFApproxFunc

	FMFFast = FMFReassoc | FMFNoNaNs | FMFNoInfs | FMFNoSignedZeros |
		FMFAllowReciprocal | FMFAllowContract | FMFApproxFunc
)

func (f FastMathFlags) Has(o FastMathFlags) bool { return f&o == o }
func (f FastMathFlags) NoSignedZeros() bool      { return f.Has(FMFNoSignedZeros) }

func (f FastMathFlags) String() string {
	if f == FMFFast {
		return "fast"
	}
	names := []struct {
		flag FastMathFlags
		name string
	}{
		{FMFReassoc, "reassoc"},
		{FMFNoNaNs, "nnan"},
		{FMFNoInfs, "ninf"},
		{FMFNoSignedZeros, "nsz"},
		{FMFAllowReciprocal, "arcp"},
		{FMFAllowContract, "contract"},
		{FMFApproxFunc, "afn"},
	}
	var parts []string
	for _, n := range names {
		if f.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// ParseFastMathFlags parses a space or comma separated list of flag names.
func ParseFastMathFlags(s string) (FastMathFlags, error) {
	var f FastMathFlags
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' }) {
		switch tok {
		case "fast":
			f |= FMFFast
		case "reassoc":
			f |= FMFReassoc
		case "nnan":
			f |= FMFNoNaNs
		case "ninf":
			f |= FMFNoInfs
		case "nsz":
			f |= FMFNoSignedZeros
		case "arcp":
			f |= FMFAllowReciprocal
		case "contract":
			f |= FMFAllowContract
		case "afn":
			f |= FMFApproxFunc
		default:
			return 0, fmt.Errorf("ir: unknown fast-math flag %q", tok)
		}
	}
	return f, nil
}

// CallAttrs describe the memory and control behaviour of a callee.
type CallAttrs uint8

const (
	AttrReadNone CallAttrs = 1 << iota
	AttrReadOnly
	AttrWriteOnly
	AttrNoUnwind
	AttrWillReturn
)

func (a CallAttrs) Has(o CallAttrs) bool { return a&o == o }

// DebugLoc is a source position attached to emitted instructions.
// Duplication records how many copies of the original instruction the
// vectorized code carries.
type DebugLoc struct {
	File        string
	Line        int
	Col         int
	Duplication int
}

func (d DebugLoc) IsValid() bool { return d.Line > 0 }

func (d DebugLoc) String() string {
	if !d.IsValid() {
		return ""
	}
	s := fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Col)
	if d.Duplication > 1 {
		s += fmt.Sprintf(" (x%d)", d.Duplication)
	}
	return s
}

// WithDuplicationFactor multiplies the location's duplication factor by n.
func (d DebugLoc) WithDuplicationFactor(n int) DebugLoc {
	if !d.IsValid() || n <= 1 {
		return d
	}
	if d.Duplication == 0 {
		d.Duplication = 1
	}
	d.Duplication *= n
	return d
}
