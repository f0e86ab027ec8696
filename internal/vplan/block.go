package vplan

import "iter"

// Block is a node of the plan's control flow: a BasicBlock or a Region.
type Block interface {
	Name() string
	// Parent is the region holding the block, nil at the top level.
	Parent() *Region
	Successors() []Block
	Predecessors() []Block
	// EntryBasicBlock is the first basic block control reaches.
	EntryBasicBlock() *BasicBlock
	// ExitingBasicBlock is the basic block control leaves from.
	ExitingBasicBlock() *BasicBlock

	node() *blockNode
	execute(s *State)
}

type blockNode struct {
	name   string
	parent *Region
	succs  []Block
	preds  []Block
}

func (n *blockNode) node() *blockNode      { return n }
func (n *blockNode) Name() string          { return n.name }
func (n *blockNode) Parent() *Region       { return n.parent }
func (n *blockNode) Successors() []Block   { return n.succs }
func (n *blockNode) Predecessors() []Block { return n.preds }

// Connect adds an edge from one block to another.
func Connect(from, to Block) {
	from.node().succs = append(from.node().succs, to)
	to.node().preds = append(to.node().preds, from)
}

// hierarchicalSuccessors returns the successors of b, or those of the
// closest enclosing region when b has none.
func hierarchicalSuccessors(b Block) []Block {
	for {
		if s := b.Successors(); len(s) > 0 {
			return s
		}
		p := b.Parent()
		if p == nil {
			return nil
		}
		b = p
	}
}

func hierarchicalPredecessors(b Block) []Block {
	for {
		if s := b.Predecessors(); len(s) > 0 {
			return s
		}
		p := b.Parent()
		if p == nil {
			return nil
		}
		b = p
	}
}

func singleBlock(bs []Block) Block {
	if len(bs) == 1 {
		return bs[0]
	}
	return nil
}

// BasicBlock holds an ordered list of recipes. List order is emission order.
type BasicBlock struct {
	blockNode
	first, last *recipeBase
	n           int
}

// NewBasicBlock creates a block holding the given recipes in order.
func NewBasicBlock(name string, recipes ...Recipe) *BasicBlock {
	bb := &BasicBlock{blockNode: blockNode{name: name}}
	for _, r := range recipes {
		bb.Append(r)
	}
	return bb
}

func (bb *BasicBlock) EntryBasicBlock() *BasicBlock   { return bb }
func (bb *BasicBlock) ExitingBasicBlock() *BasicBlock { return bb }

// Len returns the number of recipes in the block.
func (bb *BasicBlock) Len() int { return bb.n }

func (bb *BasicBlock) First() Recipe {
	if bb.first == nil {
		return nil
	}
	return bb.first.self
}

func (bb *BasicBlock) Last() Recipe {
	if bb.last == nil {
		return nil
	}
	return bb.last.self
}

// Append links an unlinked recipe at the end of the block.
func (bb *BasicBlock) Append(r Recipe) {
	r.InsertBeforeIn(bb, nil)
}

// All iterates over the recipes in order. Removing the current recipe while
// iterating is allowed.
func (bb *BasicBlock) All() iter.Seq[Recipe] {
	return func(yield func(Recipe) bool) {
		for r := bb.first; r != nil; {
			next := r.next
			if !yield(r.self) {
				return
			}
			r = next
		}
	}
}

// Recipes returns a snapshot of the recipe list.
func (bb *BasicBlock) Recipes() []Recipe {
	out := make([]Recipe, 0, bb.n)
	for r := range bb.All() {
		out = append(out, r)
	}
	return out
}

// Phis returns the header phi recipes at the top of the block.
func (bb *BasicBlock) Phis() []Recipe {
	var out []Recipe
	for r := bb.first; r != nil && r.kind.IsHeaderPhi(); r = r.next {
		out = append(out, r.self)
	}
	return out
}

// IsExiting reports whether control leaves the enclosing region from bb.
func (bb *BasicBlock) IsExiting() bool {
	return bb.parent != nil && bb.parent.ExitingBasicBlock() == bb
}

// EnclosingLoopRegion returns the closest enclosing region that is not a
// replicator.
func (bb *BasicBlock) EnclosingLoopRegion() *Region {
	for p := bb.parent; p != nil; p = p.parent {
		if !p.Replicator {
			return p
		}
	}
	return nil
}

// link inserts r before pos, or at the end when pos is nil.
func (bb *BasicBlock) link(r, pos *recipeBase) {
	r.parent = bb
	if pos == nil {
		r.prev, r.next = bb.last, nil
		if bb.last != nil {
			bb.last.next = r
		} else {
			bb.first = r
		}
		bb.last = r
	} else {
		r.next, r.prev = pos, pos.prev
		if pos.prev != nil {
			pos.prev.next = r
		} else {
			bb.first = r
		}
		pos.prev = r
	}
	bb.n++
}

func (bb *BasicBlock) unlink(r *recipeBase) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		bb.first = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	} else {
		bb.last = r.prev
	}
	r.prev, r.next, r.parent = nil, nil, nil
	bb.n--
}

// Region is a single-entry single-exit group of blocks. A loop region is
// emitted once; a replicator region is emitted once per part and lane.
type Region struct {
	blockNode
	// Blocks are kept in reverse post order; Blocks[0] is the entry and the
	// last block is the exiting block.
	Blocks     []Block
	Replicator bool
}

// NewRegion groups blocks, given in reverse post order, into a region.
func NewRegion(name string, replicator bool, blocks ...Block) *Region {
	if len(blocks) == 0 {
		panic("vplan: region " + name + " has no blocks")
	}
	r := &Region{blockNode: blockNode{name: name}, Blocks: blocks, Replicator: replicator}
	for _, b := range blocks {
		if b.Parent() != nil {
			panic("vplan: block " + b.Name() + " already belongs to a region")
		}
		b.node().parent = r
	}
	return r
}

func (r *Region) Entry() Block { return r.Blocks[0] }

func (r *Region) EntryBasicBlock() *BasicBlock {
	return r.Blocks[0].EntryBasicBlock()
}

func (r *Region) ExitingBasicBlock() *BasicBlock {
	return r.Blocks[len(r.Blocks)-1].ExitingBasicBlock()
}

// BasicBlocks iterates over every basic block nested in the region.
func (r *Region) BasicBlocks() iter.Seq[*BasicBlock] {
	return func(yield func(*BasicBlock) bool) {
		r.walk(yield)
	}
}

func (r *Region) walk(yield func(*BasicBlock) bool) bool {
	for _, b := range r.Blocks {
		switch b := b.(type) {
		case *BasicBlock:
			if !yield(b) {
				return false
			}
		case *Region:
			if !b.walk(yield) {
				return false
			}
		}
	}
	return true
}
