package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind enumerates the scalar type families the IR understands.
type TypeKind uint8

const (
	TypeInvalid TypeKind = iota
	TypeVoid
	TypeInt
	TypeFloat
	TypePtr
	TypeLabel
)

func (k TypeKind) String() string {
	switch k {
	case TypeVoid:
		return "void"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypePtr:
		return "ptr"
	case TypeLabel:
		return "label"
	default:
		return "invalid"
	}
}

// ElementCount is the number of lanes of a vector. Scalable counts are
// multiplied by the runtime vscale of the target.
type ElementCount struct {
	Min      int
	Scalable bool
}

// Fixed returns a fixed element count of n lanes.
func Fixed(n int) ElementCount {
	return ElementCount{Min: n}
}

// Scalable returns a scalable element count of vscale x n lanes.
func Scalable(n int) ElementCount {
	return ElementCount{Min: n, Scalable: true}
}

// IsScalar reports whether the count is exactly one fixed lane.
func (ec ElementCount) IsScalar() bool {
	return ec.Min == 1 && !ec.Scalable
}

// IsVector reports whether the count describes more than one lane.
func (ec ElementCount) IsVector() bool {
	return (ec.Scalable && ec.Min != 0) || ec.Min > 1
}

// Mul scales the known minimum of the count by n.
func (ec ElementCount) Mul(n int) ElementCount {
	return ElementCount{Min: ec.Min * n, Scalable: ec.Scalable}
}

func (ec ElementCount) String() string {
	if ec.Scalable {
		return fmt.Sprintf("vscale x %d", ec.Min)
	}
	return fmt.Sprintf("%d", ec.Min)
}

// Type describes a scalar or vector IR type. A zero EC means scalar.
type Type struct {
	Kind TypeKind
	Bits int
	EC   ElementCount
}

var (
	Void  = Type{Kind: TypeVoid}
	Label = Type{Kind: TypeLabel}
	I1    = Int(1)
	I8    = Int(8)
	I16   = Int(16)
	I32   = Int(32)
	I64   = Int(64)
	F32   = Float(32)
	F64   = Float(64)
	Ptr   = Type{Kind: TypePtr, Bits: 64}
)

// Int returns the integer type of the requested width.
func Int(bits int) Type {
	if bits <= 0 || bits > 64 {
		panic(fmt.Sprintf("ir: unsupported integer width %d", bits))
	}
	return Type{Kind: TypeInt, Bits: bits}
}

// Float returns the floating point type of the requested width (32 or 64).
func Float(bits int) Type {
	if bits != 32 && bits != 64 {
		panic(fmt.Sprintf("ir: unsupported float width %d", bits))
	}
	return Type{Kind: TypeFloat, Bits: bits}
}

// VectorOf returns a vector of ec lanes of the scalar type elem.
func VectorOf(elem Type, ec ElementCount) Type {
	if elem.IsVector() {
		panic("ir: vector of vector type " + elem.String())
	}
	if ec.Min <= 0 {
		panic(fmt.Sprintf("ir: invalid element count %s", ec))
	}
	elem.EC = ec
	return elem
}

// VectorOrScalar returns elem when ec is scalar and a vector type otherwise.
func VectorOrScalar(elem Type, ec ElementCount) Type {
	if ec.IsScalar() {
		return elem.ScalarType()
	}
	return VectorOf(elem.ScalarType(), ec)
}

func (t Type) IsVector() bool { return t.EC.Min > 0 }
func (t Type) IsInt() bool    { return t.Kind == TypeInt }
func (t Type) IsFloat() bool  { return t.Kind == TypeFloat }
func (t Type) IsPtr() bool    { return t.Kind == TypePtr }
func (t Type) IsVoid() bool   { return t.Kind == TypeVoid }

// ScalarType strips the vector shape, if any.
func (t Type) ScalarType() Type {
	t.EC = ElementCount{}
	return t
}

// Lanes returns the known number of lanes: 1 for scalars and the known
// minimum for scalable vectors.
func (t Type) Lanes() int {
	if !t.IsVector() {
		return 1
	}
	return t.EC.Min
}

func (t Type) String() string {
	var s string
	switch t.Kind {
	case TypeInt:
		s = fmt.Sprintf("i%d", t.Bits)
	case TypeFloat:
		if t.Bits == 32 {
			s = "float"
		} else {
			s = "double"
		}
	default:
		s = t.Kind.String()
	}
	if t.IsVector() {
		return fmt.Sprintf("<%s x %s>", t.EC, s)
	}
	return s
}

// ParseType parses a type as printed by Type.String. "f32" and "f64" are
// accepted for float and double.
func ParseType(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">") {
		fields := strings.Fields(s[1 : len(s)-1])
		var ec ElementCount
		if len(fields) == 5 && fields[0] == "vscale" && fields[1] == "x" {
			ec.Scalable = true
			fields = fields[2:]
		}
		if len(fields) != 3 || fields[1] != "x" {
			return Type{}, fmt.Errorf("ir: malformed vector type %q", s)
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil || n <= 0 {
			return Type{}, fmt.Errorf("ir: bad lane count in %q", s)
		}
		ec.Min = n
		elem, err := ParseType(fields[2])
		if err != nil {
			return Type{}, err
		}
		if elem.IsVector() || elem.IsVoid() || elem.Kind == TypeLabel {
			return Type{}, fmt.Errorf("ir: bad element type in %q", s)
		}
		return VectorOf(elem, ec), nil
	}
	switch s {
	case "void":
		return Void, nil
	case "label":
		return Label, nil
	case "ptr":
		return Ptr, nil
	case "float", "f32":
		return F32, nil
	case "double", "f64":
		return F64, nil
	}
	if bits, ok := strings.CutPrefix(s, "i"); ok {
		n, err := strconv.Atoi(bits)
		if err == nil && n > 0 && n <= 64 {
			return Int(n), nil
		}
	}
	return Type{}, fmt.Errorf("ir: unknown type %q", s)
}
