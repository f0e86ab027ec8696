package ir

import "fmt"

// Intrinsic names understood by the builder.
const (
	IntrinsicActiveLaneMask = "llvm.get.active.lane.mask"
	IntrinsicVScale         = "llvm.vscale"
	IntrinsicStepVector     = "llvm.experimental.stepvector"
	IntrinsicVectorSplice   = "llvm.experimental.vector.splice"
	IntrinsicVectorReverse  = "llvm.experimental.vector.reverse"
	IntrinsicMaskedLoad     = "llvm.masked.load"
	IntrinsicMaskedStore    = "llvm.masked.store"
	IntrinsicMaskedGather   = "llvm.masked.gather"
	IntrinsicMaskedScatter  = "llvm.masked.scatter"
)

// InsertPoint is a saved builder position.
type InsertPoint struct {
	block  *Block
	before *Inst
}

func (ip InsertPoint) Block() *Block { return ip.block }

// Builder emits instructions at a cursor. Binary operations, compares,
// selects, casts and vector shuffles of constants are folded instead of
// emitted.
type Builder struct {
	fn     *Function
	block  *Block
	before *Inst
	loc    DebugLoc
	fmf    FastMathFlags
}

// NewBuilder returns a builder for fn with no insertion point.
func NewBuilder(fn *Function) *Builder {
	return &Builder{fn: fn}
}

func (b *Builder) Function() *Function { return b.fn }

// SetInsertPoint positions the builder at the end of bb.
func (b *Builder) SetInsertPoint(bb *Block) {
	b.block, b.before = bb, nil
}

// SetInsertPointBefore positions the builder right before i.
func (b *Builder) SetInsertPointBefore(i *Inst) {
	if i.block == nil {
		panic("ir: insertion point instruction is not in a block")
	}
	b.block, b.before = i.block, i
}

// SetInsertPointAfter positions the builder right after i.
func (b *Builder) SetInsertPointAfter(i *Inst) {
	if i.block == nil {
		panic("ir: insertion point instruction is not in a block")
	}
	b.block, b.before = i.block, i.next
}

func (b *Builder) InsertBlock() *Block { return b.block }

func (b *Builder) InsertPoint() InsertPoint {
	return InsertPoint{block: b.block, before: b.before}
}

func (b *Builder) RestoreInsertPoint(ip InsertPoint) {
	b.block, b.before = ip.block, ip.before
}

// PreserveInsertPoint saves the cursor and returns a func restoring it.
func (b *Builder) PreserveInsertPoint() func() {
	ip := b.InsertPoint()
	return func() { b.RestoreInsertPoint(ip) }
}

func (b *Builder) FastMathFlags() FastMathFlags     { return b.fmf }
func (b *Builder) SetFastMathFlags(f FastMathFlags) { b.fmf = f }

// PreserveFastMathFlags saves the default fast-math flags and returns a func
// restoring them.
func (b *Builder) PreserveFastMathFlags() func() {
	saved := b.fmf
	return func() { b.fmf = saved }
}

func (b *Builder) CurrentDebugLoc() DebugLoc     { return b.loc }
func (b *Builder) SetCurrentDebugLoc(d DebugLoc) { b.loc = d }

func (b *Builder) insert(i *Inst) *Inst {
	if b.block == nil {
		panic("ir: builder has no insertion point")
	}
	if !i.loc.IsValid() {
		i.loc = b.loc
	}
	b.block.insertBefore(i, b.before)
	return i
}

func sameType(op string, x, y Value) {
	if x.Type() != y.Type() {
		panic(fmt.Sprintf("ir: %s operand types differ: %s vs %s", op, x.Type(), y.Type()))
	}
}

// CreateBinOp emits a binary operation. Floating point operations pick up the
// builder's fast-math flags.
func (b *Builder) CreateBinOp(op Opcode, l, r Value, name string) Value {
	if !op.IsBinaryOp() {
		panic("ir: CreateBinOp with " + op.String())
	}
	sameType(op.String(), l, r)
	if lc, ok := l.(*Const); ok {
		if rc, ok := r.(*Const); ok {
			if c, ok := foldBinOp(op, lc, rc); ok {
				return c
			}
		}
	}
	i := NewInst(op, l.Type(), name, l, r)
	if op.IsFPMath() {
		i.fmf = b.fmf
	}
	return b.insert(i)
}

// CreateNAryOp emits a unary or binary operation from an operand list.
func (b *Builder) CreateNAryOp(op Opcode, ops []Value, name string) Value {
	switch {
	case op.IsUnaryOp() && len(ops) == 1:
		return b.CreateFNeg(ops[0], name)
	case op.IsBinaryOp() && len(ops) == 2:
		return b.CreateBinOp(op, ops[0], ops[1], name)
	}
	panic(fmt.Sprintf("ir: cannot create %s with %d operands", op, len(ops)))
}

func (b *Builder) createWrapping(op Opcode, l, r Value, name string, nuw, nsw bool) Value {
	v := b.CreateBinOp(op, l, r, name)
	if i, ok := v.(*Inst); ok {
		if nuw {
			i.flags |= FlagNUW
		}
		if nsw {
			i.flags |= FlagNSW
		}
	}
	return v
}

func (b *Builder) CreateAdd(l, r Value, name string, nuw, nsw bool) Value {
	return b.createWrapping(OpAdd, l, r, name, nuw, nsw)
}

func (b *Builder) CreateSub(l, r Value, name string, nuw, nsw bool) Value {
	return b.createWrapping(OpSub, l, r, name, nuw, nsw)
}

func (b *Builder) CreateMul(l, r Value, name string, nuw, nsw bool) Value {
	return b.createWrapping(OpMul, l, r, name, nuw, nsw)
}

// CreateNot emits a bitwise not as xor with all ones.
func (b *Builder) CreateNot(v Value, name string) Value {
	return b.CreateBinOp(OpXor, v, ConstAllOnes(v.Type()), name)
}

func (b *Builder) CreateFNeg(v Value, name string) Value {
	if c, ok := v.(*Const); ok {
		if out, ok := foldFNeg(c); ok {
			return out
		}
	}
	i := NewInst(OpFNeg, v.Type(), name, v)
	i.fmf = b.fmf
	return b.insert(i)
}

func (b *Builder) CreateFreeze(v Value, name string) Value {
	if c, ok := v.(*Const); ok {
		return c
	}
	return b.insert(NewInst(OpFreeze, v.Type(), name, v))
}

func (b *Builder) CreateICmp(pred Predicate, l, r Value, name string) Value {
	if !pred.IsIntPredicate() {
		panic("ir: CreateICmp with predicate " + pred.String())
	}
	return b.createCmp(OpICmp, pred, l, r, name)
}

func (b *Builder) CreateICmpEQ(l, r Value, name string) Value {
	return b.CreateICmp(ICmpEQ, l, r, name)
}

func (b *Builder) CreateICmpULE(l, r Value, name string) Value {
	return b.CreateICmp(ICmpULE, l, r, name)
}

// CreateFCmp emits a floating point compare carrying the builder's fast-math
// flags.
func (b *Builder) CreateFCmp(pred Predicate, l, r Value, name string) Value {
	if !pred.IsFPPredicate() {
		panic("ir: CreateFCmp with predicate " + pred.String())
	}
	return b.createCmp(OpFCmp, pred, l, r, name)
}

func (b *Builder) createCmp(op Opcode, pred Predicate, l, r Value, name string) Value {
	sameType(op.String(), l, r)
	if lc, ok := l.(*Const); ok {
		if rc, ok := r.(*Const); ok {
			if c, ok := foldCmp(pred, lc, rc); ok {
				return c
			}
		}
	}
	i := &Inst{op: op, typ: cmpResultType(l.Type()), name: name, pred: pred, operands: []Value{l, r}}
	if op == OpFCmp {
		i.fmf = b.fmf
	}
	return b.insert(i)
}

func (b *Builder) CreateSelect(cond, t, f Value, name string) Value {
	sameType("select", t, f)
	if c, ok := cond.(*Const); ok {
		if v, ok := foldSelect(c, t, f); ok {
			return v
		}
	}
	return b.insert(NewInst(OpSelect, t.Type(), name, cond, t, f))
}

// CreateCast emits a cast of v to dest.
func (b *Builder) CreateCast(op Opcode, v Value, dest Type, name string) Value {
	if !op.IsCast() {
		panic("ir: CreateCast with " + op.String())
	}
	if v.Type() == dest && op == OpBitCast {
		return v
	}
	if v.Type().Lanes() != dest.Lanes() || v.Type().IsVector() != dest.IsVector() {
		panic(fmt.Sprintf("ir: cast %s changes shape: %s to %s", op, v.Type(), dest))
	}
	if c, ok := v.(*Const); ok {
		if out, ok := foldCast(op, c, dest); ok {
			return out
		}
	}
	return b.insert(NewInst(op, dest, name, v))
}

// CreateSExtOrTrunc converts the integer v to dest, extending with the sign
// bit or truncating as needed.
func (b *Builder) CreateSExtOrTrunc(v Value, dest Type, name string) Value {
	src := v.Type()
	switch {
	case src == dest:
		return v
	case src.ScalarType().Bits > dest.ScalarType().Bits:
		return b.CreateCast(OpTrunc, v, dest, name)
	default:
		return b.CreateCast(OpSExt, v, dest, name)
	}
}

func (b *Builder) CreateExtractElement(vec, idx Value, name string) Value {
	if !vec.Type().IsVector() {
		panic("ir: extractelement from scalar " + vec.Type().String())
	}
	if vc, ok := vec.(*Const); ok {
		if ic, ok := idx.(*Const); ok {
			if out, ok := foldExtract(vc, ic); ok {
				return out
			}
		}
	}
	return b.insert(NewInst(OpExtractElement, vec.Type().ScalarType(), name, vec, idx))
}

func (b *Builder) CreateInsertElement(vec, elt, idx Value, name string) Value {
	if vec.Type().ScalarType() != elt.Type() {
		panic(fmt.Sprintf("ir: insertelement of %s into %s", elt.Type(), vec.Type()))
	}
	if vc, ok := vec.(*Const); ok {
		if ec, ok := elt.(*Const); ok {
			if ic, ok := idx.(*Const); ok {
				if out, ok := foldInsert(vc, ec, ic); ok {
					return out
				}
			}
		}
	}
	return b.insert(NewInst(OpInsertElement, vec.Type(), name, vec, elt, idx))
}

// CreateShuffleVector emits a shuffle of v1 and v2. Mask entries index the
// concatenation of both inputs; -1 selects an undefined lane.
func (b *Builder) CreateShuffleVector(v1, v2 Value, mask []int, name string) Value {
	sameType("shufflevector", v1, v2)
	resTy := VectorOf(v1.Type().ScalarType(), Fixed(len(mask)))
	if v1.Type().EC.Scalable {
		for _, m := range mask {
			if m != 0 {
				panic("ir: scalable shufflevector only supports a zero mask")
			}
		}
		resTy = v1.Type()
	}
	if out, ok := foldShuffle(v1, v2, mask, resTy); ok {
		return out
	}
	i := NewInst(OpShuffleVector, resTy, name, v1, v2)
	i.mask = append([]int(nil), mask...)
	return b.insert(i)
}

// CreateVectorSplat broadcasts the scalar v to ec lanes.
func (b *Builder) CreateVectorSplat(ec ElementCount, v Value, name string) Value {
	if c, ok := v.(*Const); ok {
		return ConstSplat(ec, c)
	}
	if name == "" {
		name = "broadcast"
	}
	vecTy := VectorOf(v.Type(), ec)
	ins := b.CreateInsertElement(PoisonOf(vecTy), v, ConstInt(I32, 0), name+".splatinsert")
	mask := make([]int, ec.Min)
	if ec.Scalable {
		mask = []int{0}
	}
	return b.CreateShuffleVector(ins, PoisonOf(vecTy), mask, name+".splat")
}

// CreateVectorSplice concatenates v1 and v2 and extracts a vector starting at
// imm (counted from the end of v1 when negative).
func (b *Builder) CreateVectorSplice(v1, v2 Value, imm int, name string) Value {
	sameType("vector splice", v1, v2)
	t := v1.Type()
	if t.EC.Scalable {
		return b.CreateIntrinsic(IntrinsicVectorSplice, t, []Value{v1, v2, ConstInt(I32, int64(imm))}, name)
	}
	n := t.Lanes()
	start := imm
	if imm < 0 {
		start = n + imm
	}
	mask := make([]int, n)
	for i := range mask {
		mask[i] = start + i
	}
	return b.CreateShuffleVector(v1, v2, mask, name)
}

// CreateVectorReverse reverses the lanes of v.
func (b *Builder) CreateVectorReverse(v Value, name string) Value {
	t := v.Type()
	if t.EC.Scalable {
		return b.CreateIntrinsic(IntrinsicVectorReverse, t, []Value{v}, name)
	}
	n := t.Lanes()
	mask := make([]int, n)
	for i := range mask {
		mask[i] = n - 1 - i
	}
	return b.CreateShuffleVector(v, PoisonOf(t), mask, name)
}

// CreateStepVector returns the lane index ramp <0, 1, 2, ...> of type t.
func (b *Builder) CreateStepVector(t Type, name string) Value {
	if !t.IsVector() {
		panic("ir: step vector of scalar type " + t.String())
	}
	if t.EC.Scalable {
		return b.CreateIntrinsic(IntrinsicStepVector, t, nil, name)
	}
	elems := make([]*Const, t.Lanes())
	for i := range elems {
		if t.IsFloat() {
			elems[i] = ConstFloat(t.ScalarType(), float64(i))
		} else {
			elems[i] = ConstInt(t.ScalarType(), int64(i))
		}
	}
	return ConstVector(elems...)
}

// CreateVScale returns vscale * scaling.
func (b *Builder) CreateVScale(scaling *Const, name string) Value {
	vs := b.CreateIntrinsic(IntrinsicVScale, scaling.Type(), nil, "vscale")
	if scaling.IsOne() {
		return vs
	}
	return b.CreateMul(vs, scaling, name, false, false)
}

// CreateIntrinsic emits a call to a side-effect free intrinsic.
func (b *Builder) CreateIntrinsic(callee string, ret Type, args []Value, name string) Value {
	if out, ok := foldIntrinsic(callee, ret, args); ok {
		return out
	}
	i := NewCall(callee, ret, AttrReadNone|AttrNoUnwind|AttrWillReturn, name, args...)
	if ret.ScalarType().IsFloat() {
		i.fmf = b.fmf
	}
	return b.insert(i)
}

// CreateCall emits a call to a named function with the given attributes.
func (b *Builder) CreateCall(callee string, ret Type, attrs CallAttrs, args []Value, name string) *Inst {
	if ret.IsVoid() {
		name = ""
	}
	return b.insert(NewCall(callee, ret, attrs, name, args...))
}

// CreatePHI emits an empty phi at the insertion point.
func (b *Builder) CreatePHI(t Type, name string) *Inst {
	return b.insert(NewInst(OpPhi, t, name))
}

// InsertPhi creates an empty phi at the first insertion point of bb, after any
// existing phis, independent of the builder cursor.
func InsertPhi(bb *Block, t Type, name string) *Inst {
	i := NewInst(OpPhi, t, name)
	bb.insertBefore(i, bb.FirstInsertionPt())
	return i
}

func (b *Builder) CreateGEP(elem Type, ptr Value, idxs []Value, inbounds bool, name string) Value {
	resTy := Ptr
	for _, v := range append([]Value{ptr}, idxs...) {
		if v.Type().IsVector() {
			resTy = VectorOf(Ptr, v.Type().EC)
		}
	}
	i := NewInst(OpGEP, resTy, name, append([]Value{ptr}, idxs...)...)
	i.elemTy = elem
	if inbounds {
		i.flags |= FlagInBounds
	}
	return b.insert(i)
}

func (b *Builder) CreateLoad(t Type, ptr Value, name string) Value {
	return b.insert(NewInst(OpLoad, t, name, ptr))
}

func (b *Builder) CreateStore(v, ptr Value) *Inst {
	return b.insert(NewInst(OpStore, Void, "", v, ptr))
}

func (b *Builder) CreateMaskedLoad(t Type, ptr, mask, passthru Value, name string) Value {
	return b.insert(NewCall(IntrinsicMaskedLoad, t, AttrReadOnly|AttrNoUnwind|AttrWillReturn, name, ptr, mask, passthru))
}

func (b *Builder) CreateMaskedStore(v, ptr, mask Value) *Inst {
	return b.insert(NewCall(IntrinsicMaskedStore, Void, AttrWriteOnly|AttrNoUnwind|AttrWillReturn, "", v, ptr, mask))
}

func (b *Builder) CreateMaskedGather(t Type, ptrs, mask Value, name string) Value {
	return b.insert(NewCall(IntrinsicMaskedGather, t, AttrReadOnly|AttrNoUnwind|AttrWillReturn, name, ptrs, mask))
}

func (b *Builder) CreateMaskedScatter(v, ptrs, mask Value) *Inst {
	return b.insert(NewCall(IntrinsicMaskedScatter, Void, AttrWriteOnly|AttrNoUnwind|AttrWillReturn, "", v, ptrs, mask))
}

// CreateBr emits an unconditional branch; dest may be nil to leave the edge
// unbound.
func (b *Builder) CreateBr(dest *Block) *Inst {
	i := NewInst(OpBr, Void, "")
	i.succs = []*Block{dest}
	return b.insert(i)
}

// CreateCondBr emits a conditional branch. Either successor may be nil and
// bound later with SetSuccessor.
func (b *Builder) CreateCondBr(cond Value, t, f *Block) *Inst {
	i := NewInst(OpCondBr, Void, "", cond)
	i.succs = []*Block{t, f}
	return b.insert(i)
}

func (b *Builder) CreateUnreachable() *Inst {
	return b.insert(NewInst(OpUnreachable, Void, ""))
}

func (b *Builder) CreateRet(v Value) *Inst {
	if v == nil {
		return b.insert(NewInst(OpRet, Void, ""))
	}
	return b.insert(NewInst(OpRet, Void, "", v))
}

// Insert places a detached instruction (for example a clone) at the cursor.
func (b *Builder) Insert(i *Inst, name string) *Inst {
	if name != "" {
		i.name = name
	}
	return b.insert(i)
}
