package ir

import "fmt"

// Inst is a single IR instruction. The same type models the scalar
// instructions of the original loop and the instructions emitted for the
// vectorized loop.
type Inst struct {
	op       Opcode
	typ      Type
	name     string
	operands []Value

	flags Flags
	fmf   FastMathFlags
	pred  Predicate

	callee   string
	attrs    CallAttrs
	mask     []int
	volatile bool
	elemTy   Type

	metadata map[string]string
	loc      DebugLoc

	block      *Block
	prev, next *Inst

	// Incoming blocks of a phi, parallel to operands.
	incoming []*Block
	sealed   bool

	succs []*Block
}

// NewInst creates a detached instruction. It is mostly used to describe the
// scalar instructions of the loop being vectorized.
func NewInst(op Opcode, typ Type, name string, operands ...Value) *Inst {
	return &Inst{op: op, typ: typ, name: name, operands: operands}
}

// NewCmp creates a detached compare instruction.
func NewCmp(pred Predicate, name string, a, b Value) *Inst {
	op := OpICmp
	if pred.IsFPPredicate() {
		op = OpFCmp
	}
	return &Inst{op: op, typ: cmpResultType(a.Type()), name: name, pred: pred, operands: []Value{a, b}}
}

// NewCall creates a detached call instruction.
func NewCall(callee string, ret Type, attrs CallAttrs, name string, args ...Value) *Inst {
	return &Inst{op: OpCall, typ: ret, name: name, callee: callee, attrs: attrs, operands: args}
}

func cmpResultType(t Type) Type {
	if t.IsVector() {
		return VectorOf(I1, t.EC)
	}
	return I1
}

func (i *Inst) Type() Type              { return i.typ }
func (i *Inst) Name() string            { return i.name }
func (i *Inst) Opcode() Opcode          { return i.op }
func (i *Inst) Block() *Block           { return i.block }
func (i *Inst) Next() *Inst             { return i.next }
func (i *Inst) Prev() *Inst             { return i.prev }
func (i *Inst) NumOperands() int        { return len(i.operands) }
func (i *Inst) Operand(n int) Value     { return i.operands[n] }
func (i *Inst) Operands() []Value       { return i.operands }
func (i *Inst) Flags() Flags            { return i.flags }
func (i *Inst) FastMath() FastMathFlags { return i.fmf }
func (i *Inst) Predicate() Predicate    { return i.pred }
func (i *Inst) Callee() string          { return i.callee }
func (i *Inst) CallAttrs() CallAttrs    { return i.attrs }
func (i *Inst) ShuffleMask() []int      { return i.mask }
func (i *Inst) DebugLoc() DebugLoc      { return i.loc }
func (i *Inst) IsVolatile() bool        { return i.volatile }

// SourceElementType is the element type a GEP indexes over.
func (i *Inst) SourceElementType() Type { return i.elemTy }

func (i *Inst) SetName(name string)         { i.name = name }
func (i *Inst) SetFlags(f Flags)            { i.flags = f }
func (i *Inst) SetFastMath(f FastMathFlags) { i.fmf = f }
func (i *Inst) SetDebugLoc(d DebugLoc)      { i.loc = d }
func (i *Inst) SetVolatile(v bool)          { i.volatile = v }
func (i *Inst) SetSourceElementType(t Type) { i.elemTy = t }
func (i *Inst) SetOperand(n int, v Value)   { i.operands[n] = v }

func (i *Inst) String() string {
	if i.name == "" {
		return fmt.Sprintf("%%<%s>", i.op)
	}
	return "%" + i.name
}

// Metadata returns the value of a metadata kind attached to the instruction.
func (i *Inst) Metadata(kind string) (string, bool) {
	v, ok := i.metadata[kind]
	return v, ok
}

// SetMetadata attaches a metadata node to the instruction.
func (i *Inst) SetMetadata(kind, value string) {
	if i.metadata == nil {
		i.metadata = make(map[string]string)
	}
	i.metadata[kind] = value
}

// AllMetadata returns a copy of every attached metadata node.
func (i *Inst) AllMetadata() map[string]string {
	out := make(map[string]string, len(i.metadata))
	for k, v := range i.metadata {
		out[k] = v
	}
	return out
}

// CopyIRFlags copies the numeric-safety and fast-math flags of src onto i,
// keeping only the flags that are meaningful for i's opcode.
func (i *Inst) CopyIRFlags(src *Inst) {
	var keep Flags
	switch i.op {
	case OpAdd, OpSub, OpMul, OpShl:
		keep = FlagNUW | FlagNSW
	case OpUDiv, OpSDiv, OpLShr, OpAShr:
		keep = FlagExact
	case OpGEP:
		keep = FlagInBounds
	}
	i.flags = src.flags & keep
	if i.op.IsFPMath() && src.op.IsFPMath() {
		i.fmf = src.fmf
	}
}

// DropPoisonGeneratingFlags clears every flag whose violated assumption
// yields poison.
func (i *Inst) DropPoisonGeneratingFlags() {
	i.flags = 0
	i.fmf &^= FMFNoNaNs | FMFNoInfs
}

// HasPoisonGeneratingFlags reports whether any flag could produce poison.
func (i *Inst) HasPoisonGeneratingFlags() bool {
	return i.flags != 0 || i.fmf&(FMFNoNaNs|FMFNoInfs) != 0
}

// MayReadFromMemory reports whether executing the instruction may read memory.
func (i *Inst) MayReadFromMemory() bool {
	switch i.op {
	case OpLoad:
		return true
	case OpStore:
		return i.volatile
	case OpCall:
		return !i.attrs.Has(AttrReadNone) && !i.attrs.Has(AttrWriteOnly)
	}
	return false
}

// MayWriteToMemory reports whether executing the instruction may write memory.
func (i *Inst) MayWriteToMemory() bool {
	switch i.op {
	case OpStore:
		return true
	case OpLoad:
		return i.volatile
	case OpCall:
		return !i.attrs.Has(AttrReadNone) && !i.attrs.Has(AttrReadOnly)
	}
	return false
}

// MayThrow reports whether the instruction may unwind.
func (i *Inst) MayThrow() bool {
	return i.op == OpCall && !i.attrs.Has(AttrNoUnwind)
}

// WillReturn reports whether control is guaranteed to reach the next
// instruction.
func (i *Inst) WillReturn() bool {
	if i.op == OpCall {
		return i.attrs.Has(AttrWillReturn)
	}
	return true
}

// MayHaveSideEffects reports whether the instruction writes memory, may
// unwind, or may not return.
func (i *Inst) MayHaveSideEffects() bool {
	return i.MayWriteToMemory() || i.MayThrow() || !i.WillReturn()
}

// Clone returns a detached copy of the instruction with the same operands.
func (i *Inst) Clone() *Inst {
	c := *i
	c.operands = append([]Value(nil), i.operands...)
	c.mask = append([]int(nil), i.mask...)
	c.metadata = i.AllMetadata()
	c.incoming = nil
	c.succs = nil
	c.block, c.prev, c.next = nil, nil, nil
	c.sealed = false
	return &c
}

// EraseFromParent unlinks the instruction from its block.
func (i *Inst) EraseFromParent() {
	if i.block == nil {
		panic("ir: erasing instruction that is not in a block")
	}
	i.block.unlink(i)
}

// MoveBefore moves the instruction right before pos, possibly into another
// block.
func (i *Inst) MoveBefore(pos *Inst) {
	if pos.block == nil {
		panic("ir: move position is not in a block")
	}
	if i.block != nil {
		i.block.unlink(i)
	}
	pos.block.insertBefore(i, pos)
}

// NumIncoming returns the number of incoming edges of a phi.
func (i *Inst) NumIncoming() int { return len(i.incoming) }

func (i *Inst) IncomingValue(n int) Value  { return i.operands[n] }
func (i *Inst) IncomingBlock(n int) *Block { return i.incoming[n] }

// AddIncoming adds an incoming edge to a phi. A phi stays pending until it is
// sealed; adding edges afterwards is a bug.
func (i *Inst) AddIncoming(v Value, from *Block) {
	if i.op != OpPhi {
		panic("ir: AddIncoming on non-phi " + i.op.String())
	}
	if i.sealed {
		panic("ir: adding incoming edge to sealed phi " + i.String())
	}
	i.operands = append(i.operands, v)
	i.incoming = append(i.incoming, from)
}

// SetIncomingBlock rewires the block of an existing incoming edge.
func (i *Inst) SetIncomingBlock(n int, bb *Block) {
	if i.sealed {
		panic("ir: rewiring sealed phi " + i.String())
	}
	i.incoming[n] = bb
}

// Seal freezes the incoming edges of a phi.
func (i *Inst) Seal()        { i.sealed = true }
func (i *Inst) Sealed() bool { return i.sealed }

// NumSuccessors returns the number of successor slots of a branch.
func (i *Inst) NumSuccessors() int { return len(i.succs) }

// Successor returns successor n; nil means the edge has not been bound yet.
func (i *Inst) Successor(n int) *Block { return i.succs[n] }

// SetSuccessor binds (or unbinds, with nil) successor slot n.
func (i *Inst) SetSuccessor(n int, bb *Block) {
	if !i.op.IsTerminator() {
		panic("ir: SetSuccessor on non-terminator " + i.op.String())
	}
	i.succs[n] = bb
}

// Condition returns the condition of a conditional branch.
func (i *Inst) Condition() Value {
	if i.op != OpCondBr {
		panic("ir: Condition on " + i.op.String())
	}
	return i.operands[0]
}
