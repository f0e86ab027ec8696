package vplan

import (
	"github.com/tinyrange/vplan/internal/ir"
)

// WidenMemory emits a wide load or store. Consecutive accesses use one
// (possibly masked) contiguous access per part; others a gather or scatter
// through a vector of addresses.
type WidenMemory struct {
	recipeBase
	// Consecutive marks accesses to adjacent elements across lanes.
	Consecutive bool
	// Reverse marks consecutive accesses walking down in memory.
	Reverse bool
}

// NewWidenLoad creates the recipe for load with address addr and optional
// mask.
func NewWidenLoad(load *ir.Inst, addr, mask *Value, consecutive, reverse bool) *WidenMemory {
	if load.Opcode() != ir.OpLoad {
		panic("vplan: NewWidenLoad of " + load.Opcode().String())
	}
	r := newWidenMemory(consecutive, reverse)
	r.init(r, KindWidenMemory, load, addr)
	if mask != nil {
		r.AddOperand(mask)
	}
	r.define()
	return r
}

// NewWidenStore creates the recipe for store writing stored to addr under
// an optional mask.
func NewWidenStore(store *ir.Inst, addr, stored, mask *Value, consecutive, reverse bool) *WidenMemory {
	if store.Opcode() != ir.OpStore {
		panic("vplan: NewWidenStore of " + store.Opcode().String())
	}
	r := newWidenMemory(consecutive, reverse)
	r.init(r, KindWidenMemory, store, addr, stored)
	if mask != nil {
		r.AddOperand(mask)
	}
	return r
}

func newWidenMemory(consecutive, reverse bool) *WidenMemory {
	if reverse && !consecutive {
		panic("vplan: reversed access must be consecutive")
	}
	return &WidenMemory{Consecutive: consecutive, Reverse: reverse}
}

// IsStore reports whether the recipe writes memory.
func (r *WidenMemory) IsStore() bool { return r.underlying.Opcode() == ir.OpStore }

func (r *WidenMemory) Addr() *Value { return r.Operand(0) }

// StoredValue returns the value written by a store, nil for loads.
func (r *WidenMemory) StoredValue() *Value {
	if !r.IsStore() {
		return nil
	}
	return r.Operand(1)
}

// Mask returns the mask operand, or nil for unmasked accesses.
func (r *WidenMemory) Mask() *Value {
	n := 1
	if r.IsStore() {
		n = 2
	}
	if r.NumOperands() == n {
		return nil
	}
	return r.Operand(n)
}

// OnlyFirstLaneUsed: a consecutive access only needs the address of lane 0,
// unless the same value is also the one stored.
func (r *WidenMemory) OnlyFirstLaneUsed(op *Value) bool {
	r.mustUse(op)
	return op == r.Addr() && r.Consecutive && (!r.IsStore() || op != r.StoredValue())
}

func (r *WidenMemory) Execute(s *State) {
	inst := r.mustUnderlying()
	check(s.VF.IsVector(), "widen-memory with a scalar VF")
	b := s.Builder

	var elemTy ir.Type
	if r.IsStore() {
		elemTy = inst.Operand(0).Type()
	} else {
		elemTy = inst.Type()
	}
	dataTy := ir.VectorOf(elemTy, s.VF)

	var masks []ir.Value
	if m := r.Mask(); m != nil {
		masks = make([]ir.Value, s.UF)
		for part := range masks {
			masks[part] = s.Get(m, part)
		}
	}
	maskFor := func(part int) ir.Value {
		if masks == nil {
			return ir.ConstSplat(s.VF, ir.ConstBool(true))
		}
		return masks[part]
	}

	partPtr := func(part int, ptr ir.Value) ir.Value {
		inbounds := false
		if gep, ok := ptr.(*ir.Inst); ok && gep.Opcode() == ir.OpGEP {
			inbounds = gep.Flags().Has(ir.FlagInBounds)
		}
		if r.Reverse {
			// The part starts at its last element: ptr - part*VF + 1 - VF.
			rvf := runtimeVF(b, ir.I32, s.VF)
			numElt := b.CreateMul(ir.ConstInt(ir.I32, int64(-part)), rvf, "", false, false)
			lastLane := b.CreateSub(ir.ConstInt(ir.I32, 1), rvf, "", false, false)
			p := b.CreateGEP(elemTy, ptr, []ir.Value{numElt}, inbounds, "")
			p = b.CreateGEP(elemTy, p, []ir.Value{lastLane}, inbounds, "")
			if masks != nil {
				masks[part] = b.CreateVectorReverse(masks[part], "reverse")
			}
			return p
		}
		inc := stepForVF(b, ir.I32, s.VF, part)
		return b.CreateGEP(elemTy, ptr, []ir.Value{inc}, inbounds, "")
	}

	if r.IsStore() {
		s.SetDebugLocFromInst(inst)
		for part := 0; part < s.UF; part++ {
			stored := s.Get(r.StoredValue(), part)
			var store *ir.Inst
			if !r.Consecutive {
				store = b.CreateMaskedScatter(stored, s.Get(r.Addr(), part), maskFor(part))
			} else {
				if r.Reverse {
					// The stored vector is reversed only for this store; the
					// cached value stays in lane order.
					stored = b.CreateVectorReverse(stored, "reverse")
				}
				ptr := partPtr(part, s.GetLane(r.Addr(), Instance{}))
				if masks != nil {
					store = b.CreateMaskedStore(stored, ptr, masks[part])
				} else {
					store = b.CreateStore(stored, ptr)
				}
			}
			s.AddMetadata(store, inst)
		}
		return
	}

	s.SetDebugLocFromInst(inst)
	for part := 0; part < s.UF; part++ {
		var load ir.Value
		if !r.Consecutive {
			load = b.CreateMaskedGather(dataTy, s.Get(r.Addr(), part), maskFor(part), "wide.masked.gather")
			s.AddMetadata(load, inst)
		} else {
			ptr := partPtr(part, s.GetLane(r.Addr(), Instance{}))
			if masks != nil {
				load = b.CreateMaskedLoad(dataTy, ptr, masks[part], ir.PoisonOf(dataTy), "wide.masked.load")
			} else {
				load = b.CreateLoad(dataTy, ptr, "wide.load")
			}
			s.AddMetadata(load, inst)
			if r.Reverse {
				load = b.CreateVectorReverse(load, "reverse")
			}
		}
		s.Set(r.Result(), load, part)
	}
}
