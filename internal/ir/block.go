package ir

import (
	"fmt"
	"iter"
)

// Block is a basic block: an ordered list of instructions ending in at most
// one terminator.
type Block struct {
	name        string
	fn          *Function
	first, last *Inst
	n           int
}

func (b *Block) Name() string        { return b.name }
func (b *Block) Function() *Function { return b.fn }
func (b *Block) First() *Inst        { return b.first }
func (b *Block) Last() *Inst         { return b.last }
func (b *Block) Len() int            { return b.n }
func (b *Block) String() string      { return "%" + b.name }

// Insts iterates over the instructions of the block in order. The iteration
// tolerates removal of the current instruction.
func (b *Block) Insts() iter.Seq[*Inst] {
	return func(yield func(*Inst) bool) {
		for i := b.first; i != nil; {
			next := i.next
			if !yield(i) {
				return
			}
			i = next
		}
	}
}

// Terminator returns the terminator of the block, or nil.
func (b *Block) Terminator() *Inst {
	if b.last != nil && b.last.op.IsTerminator() {
		return b.last
	}
	return nil
}

// FirstInsertionPt returns the first instruction that is not a phi, or nil
// when the block only holds phis.
func (b *Block) FirstInsertionPt() *Inst {
	for i := b.first; i != nil; i = i.next {
		if i.op != OpPhi {
			return i
		}
	}
	return nil
}

// Phis returns the phis at the top of the block.
func (b *Block) Phis() []*Inst {
	var out []*Inst
	for i := b.first; i != nil && i.op == OpPhi; i = i.next {
		out = append(out, i)
	}
	return out
}

// Predecessors returns the blocks of the function whose terminator has b as
// a bound successor, in layout order.
func (b *Block) Predecessors() []*Block {
	if b.fn == nil {
		return nil
	}
	var out []*Block
	for _, p := range b.fn.blocks {
		t := p.Terminator()
		if t == nil {
			continue
		}
		for _, s := range t.succs {
			if s == b {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// SinglePredecessor returns the only predecessor of b, or nil.
func (b *Block) SinglePredecessor() *Block {
	if preds := b.Predecessors(); len(preds) == 1 {
		return preds[0]
	}
	return nil
}

// Append adds a detached instruction at the end of the block.
func (b *Block) Append(i *Inst) {
	b.insertBefore(i, nil)
}

func (b *Block) insertBefore(i, pos *Inst) {
	if i.block != nil {
		panic("ir: instruction " + i.String() + " is already in a block")
	}
	if pos != nil && pos.block != b {
		panic("ir: insertion position is in another block")
	}
	i.block = b
	if pos == nil {
		i.prev = b.last
		i.next = nil
		if b.last != nil {
			b.last.next = i
		} else {
			b.first = i
		}
		b.last = i
	} else {
		i.next = pos
		i.prev = pos.prev
		if pos.prev != nil {
			pos.prev.next = i
		} else {
			b.first = i
		}
		pos.prev = i
	}
	b.n++
}

func (b *Block) unlink(i *Inst) {
	if i.prev != nil {
		i.prev.next = i.next
	} else {
		b.first = i.next
	}
	if i.next != nil {
		i.next.prev = i.prev
	} else {
		b.last = i.prev
	}
	i.prev, i.next, i.block = nil, nil, nil
	b.n--
}

// Function is a list of blocks plus the arguments that bring outside values
// into the emitted code.
type Function struct {
	name   string
	args   []*Arg
	blocks []*Block
}

// NewFunction creates an empty function.
func NewFunction(name string) *Function {
	return &Function{name: name}
}

func (f *Function) Name() string     { return f.name }
func (f *Function) Args() []*Arg     { return f.args }
func (f *Function) Blocks() []*Block { return f.blocks }

// AddArg appends an argument to the function signature.
func (f *Function) AddArg(name string, t Type) *Arg {
	for _, a := range f.args {
		if a.name == name {
			panic(fmt.Sprintf("ir: duplicate argument %q", name))
		}
	}
	a := &Arg{typ: t, name: name, fn: f, idx: len(f.args)}
	f.args = append(f.args, a)
	return a
}

// Arg looks up an argument by name.
func (f *Function) Arg(name string) (*Arg, bool) {
	for _, a := range f.args {
		if a.name == name {
			return a, true
		}
	}
	return nil, false
}

// NewBlock appends a new empty block.
func (f *Function) NewBlock(name string) *Block {
	b := &Block{name: name, fn: f}
	f.blocks = append(f.blocks, b)
	return b
}

// NewBlockAfter inserts a new empty block right after the given one in
// layout order.
func (f *Function) NewBlockAfter(name string, after *Block) *Block {
	b := &Block{name: name, fn: f}
	for idx, cur := range f.blocks {
		if cur == after {
			f.blocks = append(f.blocks[:idx+1], append([]*Block{b}, f.blocks[idx+1:]...)...)
			return b
		}
	}
	f.blocks = append(f.blocks, b)
	return b
}

// Block looks up a block by name.
func (f *Function) Block(name string) (*Block, bool) {
	for _, b := range f.blocks {
		if b.name == name {
			return b, true
		}
	}
	return nil, false
}
