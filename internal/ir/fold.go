package ir

import "math"

func lanesOf(t Type) (n int, splat bool) {
	if t.IsVector() && t.EC.Scalable {
		return 1, true
	}
	return t.Lanes(), false
}

func buildConst(t Type, f func(i int) (uint64, bool)) (*Const, bool) {
	n, splat := lanesOf(t)
	lanes := make([]uint64, n)
	for i := range lanes {
		v, ok := f(i)
		if !ok {
			return nil, false
		}
		lanes[i] = v
	}
	return &Const{typ: t, lanes: lanes, splat: splat}, true
}

func foldBinOp(op Opcode, a, b *Const) (*Const, bool) {
	t := a.typ
	elem := t.ScalarType()
	w := elem.Bits
	m := maskBits(w)
	if elem.IsFloat() {
		return buildConst(t, func(i int) (uint64, bool) {
			x, y := a.Float(i), b.Float(i)
			var r float64
			switch op {
			case OpFAdd:
				r = x + y
			case OpFSub:
				r = x - y
			case OpFMul:
				r = x * y
			case OpFDiv:
				r = x / y
			case OpFRem:
				r = math.Mod(x, y)
			default:
				return 0, false
			}
			return encodeFloat(elem, r), true
		})
	}
	if !elem.IsInt() {
		return nil, false
	}
	return buildConst(t, func(i int) (uint64, bool) {
		x, y := a.Uint(i), b.Uint(i)
		sx, sy := a.Int(i), b.Int(i)
		switch op {
		case OpAdd:
			return (x + y) & m, true
		case OpSub:
			return (x - y) & m, true
		case OpMul:
			return (x * y) & m, true
		case OpAnd:
			return x & y, true
		case OpOr:
			return x | y, true
		case OpXor:
			return (x ^ y) & m, true
		case OpShl:
			if y >= uint64(w) {
				return 0, false
			}
			return (x << y) & m, true
		case OpLShr:
			if y >= uint64(w) {
				return 0, false
			}
			return x >> y, true
		case OpAShr:
			if y >= uint64(w) {
				return 0, false
			}
			return uint64(sx>>y) & m, true
		case OpUDiv:
			if y == 0 {
				return 0, false
			}
			return x / y, true
		case OpURem:
			if y == 0 {
				return 0, false
			}
			return x % y, true
		case OpSDiv:
			if sy == 0 || (sy == -1 && sx == signExtend(1<<uint(w-1), w)) {
				return 0, false
			}
			return uint64(sx/sy) & m, true
		case OpSRem:
			if sy == 0 || (sy == -1 && sx == signExtend(1<<uint(w-1), w)) {
				return 0, false
			}
			return uint64(sx%sy) & m, true
		}
		return 0, false
	})
}

func foldFNeg(c *Const) (*Const, bool) {
	if !c.typ.ScalarType().IsFloat() {
		return nil, false
	}
	return buildConst(c.typ, func(i int) (uint64, bool) {
		return encodeFloat(c.typ.ScalarType(), -c.Float(i)), true
	})
}

func evalPredicate(pred Predicate, a, b *Const, i int) (bool, bool) {
	if pred.IsIntPredicate() {
		x, y := a.Uint(i), b.Uint(i)
		sx, sy := a.Int(i), b.Int(i)
		switch pred {
		case ICmpEQ:
			return x == y, true
		case ICmpNE:
			return x != y, true
		case ICmpUGT:
			return x > y, true
		case ICmpUGE:
			return x >= y, true
		case ICmpULT:
			return x < y, true
		case ICmpULE:
			return x <= y, true
		case ICmpSGT:
			return sx > sy, true
		case ICmpSGE:
			return sx >= sy, true
		case ICmpSLT:
			return sx < sy, true
		case ICmpSLE:
			return sx <= sy, true
		}
		return false, false
	}
	x, y := a.Float(i), b.Float(i)
	unordered := math.IsNaN(x) || math.IsNaN(y)
	switch pred {
	case FCmpORD:
		return !unordered, true
	case FCmpUNO:
		return unordered, true
	case FCmpOEQ:
		return !unordered && x == y, true
	case FCmpOGT:
		return !unordered && x > y, true
	case FCmpOGE:
		return !unordered && x >= y, true
	case FCmpOLT:
		return !unordered && x < y, true
	case FCmpOLE:
		return !unordered && x <= y, true
	case FCmpONE:
		return !unordered && x != y, true
	case FCmpUEQ:
		return unordered || x == y, true
	case FCmpUGT:
		return unordered || x > y, true
	case FCmpUGE:
		return unordered || x >= y, true
	case FCmpULT:
		return unordered || x < y, true
	case FCmpULE:
		return unordered || x <= y, true
	case FCmpUNE:
		return unordered || x != y, true
	}
	return false, false
}

func foldCmp(pred Predicate, a, b *Const) (*Const, bool) {
	return buildConst(cmpResultType(a.typ), func(i int) (uint64, bool) {
		r, ok := evalPredicate(pred, a, b, i)
		if !ok {
			return 0, false
		}
		if r {
			return 1, true
		}
		return 0, true
	})
}

func foldSelect(cond *Const, t, f Value) (Value, bool) {
	if !cond.typ.IsVector() {
		if cond.Uint(0) != 0 {
			return t, true
		}
		return f, true
	}
	tc, ok1 := t.(*Const)
	fc, ok2 := f.(*Const)
	if !ok1 || !ok2 {
		if cond.IsSplat() {
			if cond.Uint(0) != 0 {
				return t, true
			}
			return f, true
		}
		return nil, false
	}
	return buildConst(t.Type(), func(i int) (uint64, bool) {
		if cond.Uint(i) != 0 {
			return tc.raw(i), true
		}
		return fc.raw(i), true
	})
}

func foldCast(op Opcode, c *Const, dest Type) (*Const, bool) {
	src := c.typ.ScalarType()
	elem := dest.ScalarType()
	m := maskBits(elem.Bits)
	return buildConst(dest, func(i int) (uint64, bool) {
		switch op {
		case OpTrunc, OpZExt, OpPtrToInt, OpIntToPtr:
			return c.Uint(i) & m, true
		case OpSExt:
			return uint64(c.Int(i)) & m, true
		case OpSIToFP:
			return encodeFloat(elem, float64(c.Int(i))), true
		case OpUIToFP:
			return encodeFloat(elem, float64(c.Uint(i))), true
		case OpFPToSI:
			f := c.Float(i)
			if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) >= math.Ldexp(1, elem.Bits-1) {
				return 0, false
			}
			return uint64(int64(f)) & m, true
		case OpFPToUI:
			f := c.Float(i)
			if math.IsNaN(f) || f < 0 || f >= math.Ldexp(1, elem.Bits) {
				return 0, false
			}
			return uint64(f) & m, true
		case OpFPExt, OpFPTrunc:
			return encodeFloat(elem, c.Float(i)), true
		case OpBitCast:
			if src.Kind == elem.Kind && src.Bits == elem.Bits {
				return c.raw(i), true
			}
		}
		return 0, false
	})
}

func foldExtract(vec, idx *Const) (*Const, bool) {
	n := idx.Uint(0)
	if vec.splat {
		return vec.Lane(0), true
	}
	if n >= uint64(len(vec.lanes)) {
		return nil, false
	}
	return vec.Lane(int(n)), true
}

func foldInsert(vec, elt, idx *Const) (*Const, bool) {
	if vec.splat {
		return nil, false
	}
	n := idx.Uint(0)
	if n >= uint64(len(vec.lanes)) {
		return nil, false
	}
	lanes := append([]uint64(nil), vec.lanes...)
	lanes[n] = elt.lanes[0]
	return &Const{typ: vec.typ, lanes: lanes}, true
}

func foldShuffle(v1, v2 Value, mask []int, resTy Type) (*Const, bool) {
	c1, ok := v1.(*Const)
	if !ok {
		return nil, false
	}
	if resTy.EC.Scalable {
		return ConstSplat(resTy.EC, c1.Lane(0)), true
	}
	n := v1.Type().Lanes()
	c2, _ := v2.(*Const)
	return buildConst(resTy, func(i int) (uint64, bool) {
		m := mask[i]
		switch {
		case m < 0:
			return 0, false
		case m < n:
			return c1.raw(m), true
		case c2 != nil:
			return c2.raw(m - n), true
		}
		return 0, false
	})
}

func foldIntrinsic(callee string, ret Type, args []Value) (Value, bool) {
	switch callee {
	case IntrinsicActiveLaneMask:
		if ret.EC.Scalable || len(args) != 2 {
			return nil, false
		}
		base, ok1 := args[0].(*Const)
		tc, ok2 := args[1].(*Const)
		if !ok1 || !ok2 {
			return nil, false
		}
		w := base.typ.Bits
		return buildConst(ret, func(i int) (uint64, bool) {
			idx := base.Uint(0) + uint64(i)
			if idx&maskBits(w) < base.Uint(0) && i > 0 {
				return 0, true
			}
			if idx&maskBits(w) < tc.Uint(0) {
				return 1, true
			}
			return 0, true
		})
	}
	return nil, false
}
