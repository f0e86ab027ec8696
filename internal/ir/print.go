package ir

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// namer hands out unique printable names for the instructions of a function.
type namer struct {
	names map[*Inst]string
	used  map[string]int
	next  int
}

func newNamer() *namer {
	return &namer{names: make(map[*Inst]string), used: make(map[string]int)}
}

func (n *namer) name(i *Inst) string {
	if s, ok := n.names[i]; ok {
		return s
	}
	var s string
	if i.name == "" {
		s = strconv.Itoa(n.next)
		n.next++
	} else {
		s = i.name
		if cnt, ok := n.used[s]; ok {
			n.used[s] = cnt + 1
			s = fmt.Sprintf("%s%d", s, cnt)
		} else {
			n.used[s] = 1
		}
	}
	n.names[i] = s
	return s
}

func (n *namer) ref(v Value) string {
	if i, ok := v.(*Inst); ok {
		return "%" + n.name(i)
	}
	return v.String()
}

func (n *namer) typed(v Value) string {
	return v.Type().String() + " " + n.ref(v)
}

func blockRef(b *Block) string {
	if b == nil {
		return "label <unbound>"
	}
	return "label %" + b.name
}

// Format renders one instruction using the given namer.
func (n *namer) format(i *Inst) string {
	var sb strings.Builder
	if !i.typ.IsVoid() {
		fmt.Fprintf(&sb, "%%%s = ", n.name(i))
	}
	sb.WriteString(i.op.String())
	if s := i.flags.String(); s != "" {
		sb.WriteString(" " + s)
	}
	if i.fmf != 0 {
		sb.WriteString(" " + i.fmf.String())
	}
	switch {
	case i.op.IsBinaryOp():
		fmt.Fprintf(&sb, " %s, %s", n.typed(i.operands[0]), n.ref(i.operands[1]))
	case i.op.IsCast():
		fmt.Fprintf(&sb, " %s to %s", n.typed(i.operands[0]), i.typ)
	case i.op == OpICmp || i.op == OpFCmp:
		fmt.Fprintf(&sb, " %s %s, %s", i.pred, n.typed(i.operands[0]), n.ref(i.operands[1]))
	case i.op == OpPhi:
		fmt.Fprintf(&sb, " %s", i.typ)
		for k := range i.incoming {
			if k > 0 {
				sb.WriteString(",")
			}
			from := "<unbound>"
			if i.incoming[k] != nil {
				from = "%" + i.incoming[k].name
			}
			fmt.Fprintf(&sb, " [ %s, %s ]", n.ref(i.operands[k]), from)
		}
	case i.op == OpGEP:
		fmt.Fprintf(&sb, " %s", i.elemTy)
		for _, op := range i.operands {
			fmt.Fprintf(&sb, ", %s", n.typed(op))
		}
	case i.op == OpLoad:
		fmt.Fprintf(&sb, " %s, %s", i.typ, n.typed(i.operands[0]))
	case i.op == OpCall:
		args := make([]string, len(i.operands))
		for k, op := range i.operands {
			args[k] = n.typed(op)
		}
		fmt.Fprintf(&sb, " %s @%s(%s)", i.typ, i.callee, strings.Join(args, ", "))
	case i.op == OpShuffleVector:
		mask := make([]string, len(i.mask))
		for k, m := range i.mask {
			if m < 0 {
				mask[k] = "undef"
			} else {
				mask[k] = strconv.Itoa(m)
			}
		}
		fmt.Fprintf(&sb, " %s, %s, <%s>", n.typed(i.operands[0]), n.typed(i.operands[1]), strings.Join(mask, ", "))
	case i.op == OpBr:
		fmt.Fprintf(&sb, " %s", blockRef(i.succs[0]))
	case i.op == OpCondBr:
		fmt.Fprintf(&sb, " %s, %s, %s", n.typed(i.operands[0]), blockRef(i.succs[0]), blockRef(i.succs[1]))
	default:
		for k, op := range i.operands {
			if k > 0 {
				sb.WriteString(",")
			}
			sb.WriteString(" " + n.typed(op))
		}
	}
	if len(i.metadata) > 0 {
		keys := make([]string, 0, len(i.metadata))
		for k := range i.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, ", !%s !%q", k, i.metadata[k])
		}
	}
	if i.loc.IsValid() {
		fmt.Fprintf(&sb, ", !dbg %s", i.loc)
	}
	return sb.String()
}

// Print writes the textual form of the function to w.
func (f *Function) Print(w io.Writer) error {
	n := newNamer()
	args := make([]string, len(f.args))
	for k, a := range f.args {
		args[k] = a.typ.String() + " %" + a.name
	}
	if _, err := fmt.Fprintf(w, "define void @%s(%s) {\n", f.name, strings.Join(args, ", ")); err != nil {
		return err
	}
	// Number values in definition order, not in the order they are first
	// referenced.
	for _, b := range f.blocks {
		for i := range b.Insts() {
			if !i.typ.IsVoid() {
				n.name(i)
			}
		}
	}
	for _, b := range f.blocks {
		if _, err := fmt.Fprintf(w, "%s:\n", b.name); err != nil {
			return err
		}
		for i := range b.Insts() {
			if _, err := fmt.Fprintf(w, "  %s\n", n.format(i)); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}

func (f *Function) String() string {
	var sb strings.Builder
	_ = f.Print(&sb)
	return sb.String()
}

// Format renders a single instruction outside of a function listing.
func Format(i *Inst) string {
	return newNamer().format(i)
}
