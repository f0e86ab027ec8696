package vplan

import (
	"slices"

	"github.com/tinyrange/vplan/internal/ir"
)

// Value is an SSA value of the plan. It is either defined by a recipe or is
// a live-in: an IR value computed outside the vector loop.
type Value struct {
	def    Recipe
	users  []Recipe
	liveIn ir.Value
}

// NewLiveIn wraps an IR value defined outside the plan. Prefer Plan.LiveIn,
// which hands out one Value per IR value.
func NewLiveIn(v ir.Value) *Value {
	if v == nil {
		panic("vplan: live-in of nil IR value")
	}
	return &Value{liveIn: v}
}

// Def returns the recipe defining v, or nil for live-ins.
func (v *Value) Def() Recipe { return v.def }

// IsLiveIn reports whether v has no defining recipe.
func (v *Value) IsLiveIn() bool { return v.def == nil }

// LiveInIRValue returns the IR value of a live-in, or nil.
func (v *Value) LiveInIRValue() ir.Value { return v.liveIn }

// Underlying returns the scalar instruction mirrored by the defining recipe,
// or the IR value of a live-in.
func (v *Value) Underlying() ir.Value {
	if v.def == nil {
		return v.liveIn
	}
	if u := v.def.Underlying(); u != nil {
		return u
	}
	return nil
}

func (v *Value) Users() []Recipe { return v.users }
func (v *Value) NumUsers() int   { return len(v.users) }

func (v *Value) addUser(r Recipe) {
	v.users = append(v.users, r)
}

func (v *Value) removeUser(r Recipe) {
	if i := slices.Index(v.users, r); i >= 0 {
		v.users = slices.Delete(v.users, i, i+1)
	}
}

// DefinedOutsideVectorRegions reports whether v is a live-in or is defined
// in a block that is not part of any region, such as the preheader.
func (v *Value) DefinedOutsideVectorRegions() bool {
	if v.def == nil {
		return true
	}
	bb := v.def.Parent()
	return bb == nil || bb.Parent() == nil
}

// OnlyFirstLaneUsed reports whether every user of v reads only lane 0.
func OnlyFirstLaneUsed(v *Value) bool {
	for _, u := range v.users {
		if !u.OnlyFirstLaneUsed(v) {
			return false
		}
	}
	return true
}

// IsUniformAfterVectorization reports whether every lane of v holds the
// same value in the vector loop.
func IsUniformAfterVectorization(v *Value) bool {
	if v.DefinedOutsideVectorRegions() {
		return true
	}
	switch r := v.def.(type) {
	case *Replicate:
		return r.IsUniform
	case *WidenGEP:
		for _, op := range r.Operands() {
			if !IsUniformAfterVectorization(op) {
				return false
			}
		}
		return true
	}
	return false
}
