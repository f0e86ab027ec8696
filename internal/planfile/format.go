// Package planfile loads a loop plan and the scalar function around it from
// YAML, so plans can be lowered outside of a vectorizer.
package planfile

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	// FormatVersion is the newest plan file format this package writes.
	FormatVersion = "v1.1.0"
	// minFormatVersion is the oldest format still understood.
	minFormatVersion = "v1.0.0"
)

// File is the on-disk form of a plan.
//
// IR values are referenced as %name (function arguments, instructions of
// the function or of the scalar loop) or as typed literals such as "i32 7",
// "float 0.5", "i1 true", "ptr null" and "poison i32". Plan values defined
// by recipes are referenced as $name.
type File struct {
	Format string `yaml:"format"`
	Name   string `yaml:"name,omitempty"`

	Function FunctionSpec `yaml:"function"`
	// Scalar lists the instructions of the original loop. They are not
	// placed in the function; recipes mirror them.
	Scalar []InstSpec `yaml:"scalar,omitempty"`
	Plan   PlanSpec   `yaml:"plan"`
}

type FunctionSpec struct {
	Name string    `yaml:"name"`
	Args []ArgSpec `yaml:"args,omitempty"`
	// Preheader names the block the vector loop is entered from. It
	// defaults to the first block.
	Preheader string      `yaml:"preheader,omitempty"`
	Blocks    []BlockSpec `yaml:"blocks"`
}

type ArgSpec struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

type BlockSpec struct {
	Name  string     `yaml:"name"`
	Insts []InstSpec `yaml:"insts,omitempty"`
}

type InstSpec struct {
	Name     string   `yaml:"name,omitempty"`
	Op       string   `yaml:"op"`
	Type     string   `yaml:"type,omitempty"`
	Operands []string `yaml:"operands,omitempty"`
	// Succs are the targets of br.
	Succs    []string          `yaml:"succs,omitempty"`
	Pred     string            `yaml:"pred,omitempty"`
	Flags    []string          `yaml:"flags,omitempty"`
	FMF      string            `yaml:"fmf,omitempty"`
	Callee   string            `yaml:"callee,omitempty"`
	Attrs    []string          `yaml:"attrs,omitempty"`
	ElemType string            `yaml:"elemType,omitempty"`
	Volatile bool              `yaml:"volatile,omitempty"`
	Dbg      string            `yaml:"dbg,omitempty"`
	Metadata map[string]string `yaml:"metadata,omitempty"`
}

type PlanSpec struct {
	// Preheader holds the recipes emitted before the loop.
	Preheader PlanBlockSpec `yaml:"preheader"`
	Loop      RegionSpec    `yaml:"loop"`
	LiveOuts  []LiveOutSpec `yaml:"liveOuts,omitempty"`
}

type RegionSpec struct {
	Name       string     `yaml:"name"`
	Replicator bool       `yaml:"replicator,omitempty"`
	Blocks     []NodeSpec `yaml:"blocks"`
}

// NodeSpec is one entry of a region: exactly one of Block and Region is set.
// Succs name sibling entries; without them an entry falls through to the
// next one.
type NodeSpec struct {
	Block  *PlanBlockSpec `yaml:"block,omitempty"`
	Region *RegionSpec    `yaml:"region,omitempty"`
	Succs  []string       `yaml:"succs,omitempty"`
}

type PlanBlockSpec struct {
	Name    string       `yaml:"name"`
	Recipes []RecipeSpec `yaml:"recipes,omitempty"`
}

type RecipeSpec struct {
	Kind string `yaml:"kind"`
	// Def names the value the recipe defines.
	Def string `yaml:"def,omitempty"`
	// Inst names the scalar instruction the recipe mirrors.
	Inst     string   `yaml:"inst,omitempty"`
	Opcode   string   `yaml:"opcode,omitempty"`
	Operands []string `yaml:"operands,omitempty"`
	Mask     string   `yaml:"mask,omitempty"`
	// Backedge is the value a header phi receives from the latch. It may
	// be defined later in the loop.
	Backedge string         `yaml:"backedge,omitempty"`
	Incoming []IncomingSpec `yaml:"incoming,omitempty"`
	FMF      string         `yaml:"fmf,omitempty"`
	Dbg      string         `yaml:"dbg,omitempty"`

	InvariantCond  bool   `yaml:"invariantCond,omitempty"`
	Variant        string `yaml:"variant,omitempty"`
	ScalarOperands []int  `yaml:"scalarOperands,omitempty"`
	Consecutive    bool   `yaml:"consecutive,omitempty"`
	Reverse        bool   `yaml:"reverse,omitempty"`
	Uniform        bool   `yaml:"uniform,omitempty"`
	Predicated     bool   `yaml:"predicated,omitempty"`
	AlsoPack       bool   `yaml:"alsoPack,omitempty"`
	InLoop         bool   `yaml:"inLoop,omitempty"`
	// MayGeneratePoison marks recipes whose guarding condition is dropped
	// by vectorization.
	MayGeneratePoison bool `yaml:"mayGeneratePoison,omitempty"`

	Induction  *InductionSpec  `yaml:"induction,omitempty"`
	Recurrence *RecurrenceSpec `yaml:"recurrence,omitempty"`
	Expr       *ExprSpec       `yaml:"expr,omitempty"`
}

type IncomingSpec struct {
	Value string `yaml:"value"`
	Block string `yaml:"block"`
}

type InductionSpec struct {
	Kind     string   `yaml:"kind"`
	Start    string   `yaml:"start"`
	Step     ExprSpec `yaml:"step"`
	BinOp    string   `yaml:"binOp,omitempty"`
	FMF      string   `yaml:"fmf,omitempty"`
	ElemType string   `yaml:"elemType,omitempty"`
}

type RecurrenceSpec struct {
	Kind              string `yaml:"kind"`
	Start             string `yaml:"start"`
	FMF               string `yaml:"fmf,omitempty"`
	Ordered           bool   `yaml:"ordered,omitempty"`
	IntermediateStore bool   `yaml:"intermediateStore,omitempty"`
}

// ExprSpec is a closed-form expression: a value, or the sum or product of
// sub-expressions.
type ExprSpec struct {
	Value string     `yaml:"value,omitempty"`
	Add   []ExprSpec `yaml:"add,omitempty"`
	Mul   []ExprSpec `yaml:"mul,omitempty"`
}

type LiveOutSpec struct {
	// Phi names a phi of the function.
	Phi   string `yaml:"phi"`
	Value string `yaml:"value"`
}

// checkFormat accepts any v1 format at least as new as minFormatVersion.
func checkFormat(v string) error {
	if v == "" {
		return fmt.Errorf("missing format version")
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("invalid format version %q", v)
	}
	if semver.Major(v) != semver.Major(FormatVersion) || semver.Compare(v, minFormatVersion) < 0 {
		return fmt.Errorf("unsupported format version %s (want %s)", v, semver.Major(FormatVersion))
	}
	if semver.Compare(v, FormatVersion) > 0 {
		return fmt.Errorf("format version %s is newer than %s", v, FormatVersion)
	}
	return nil
}

// Decode parses and version-checks a plan file without building it.
func Decode(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("planfile: parse: %w", err)
	}
	if err := checkFormat(f.Format); err != nil {
		return nil, fmt.Errorf("planfile: %w", err)
	}
	return &f, nil
}

// Parse decodes and builds a plan file.
func Parse(data []byte) (*Loaded, error) {
	f, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return Build(f)
}

// Load reads and builds the plan file at path.
func Load(path string) (*Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("planfile: read %s: %w", filepath.Base(path), err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if l.Name == "" {
		l.Name = filepath.Base(path)
	}
	return l, nil
}

// Encode renders f as YAML, stamping the current format version when none
// is set.
func Encode(f *File) ([]byte, error) {
	if f.Format == "" {
		f.Format = FormatVersion
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("planfile: encode: %w", err)
	}
	return data, nil
}
