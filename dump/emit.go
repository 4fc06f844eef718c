// Package dump implements the IR textual dump format: a
// stable, testable rendering of a method's IR, plus a parser for it so
// dumps round-trip.
package dump

import (
	"fmt"
	"strings"

	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// intrinsicNames maps every intrinsic op to the dotted spelling used in
// dumps (the same spelling the frontend recognizes in bytecode).
var intrinsicNames = map[ir.IntrinsicOp]string{
	ir.GridDimX: "grid.dim.x", ir.GridDimY: "grid.dim.y", ir.GridDimZ: "grid.dim.z",
	ir.GroupDimX: "group.dim.x", ir.GroupDimY: "group.dim.y", ir.GroupDimZ: "group.dim.z",
	ir.GroupIdxX: "group.idx.x", ir.GroupIdxY: "group.idx.y", ir.GroupIdxZ: "group.idx.z",
	ir.LocalIdxX: "local.idx.x", ir.LocalIdxY: "local.idx.y", ir.LocalIdxZ: "local.idx.z",
	ir.Barrier: "barrier", ir.WarpShuffle: "warp.shuffle",
	ir.MathSqrt: "math.sqrt", ir.MathSin: "math.sin", ir.MathCos: "math.cos",
	ir.MathExp: "math.exp", ir.MathLog: "math.log",
}

// Emit renders m's IR in the textual dump format. Value names are
// renumbered densely in reverse post-order so the text is deterministic
// regardless of how many ids transformation passes burned through.
func Emit(m *ir.Method) string {
	scope := analysis.ComputeScope(m)
	e := &emitState{
		scope:  scope,
		num:    make(map[*ir.Value]int),
		labels: make(map[*ir.Block]string),
	}
	for i, p := range m.Params {
		e.num[p] = i
	}
	e.next = len(m.Params)
	for i, blk := range scope.Blocks() {
		e.labels[blk] = fmt.Sprintf("BB%d", i)
		for _, v := range blk.Values() {
			if v.Type.Kind != types.Void && !v.IsTerminator() {
				e.num[v] = e.next
				e.next++
			}
		}
	}

	var out strings.Builder
	out.WriteString(m.Name())
	out.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			out.WriteString(", ")
		}
		fmt.Fprintf(&out, "param%d : %s", i, p.Type)
	}
	out.WriteString(") -> ")
	if rt := m.Declaration.ReturnType; rt != nil {
		out.WriteString(rt.String())
	} else {
		out.WriteString("void")
	}
	out.WriteByte('\n')

	for _, blk := range scope.Blocks() {
		out.WriteString(e.labels[blk])
		out.WriteString(":\n")
		for _, v := range blk.Values() {
			out.WriteString("  ")
			out.WriteString(e.line(v))
			out.WriteByte('\n')
		}
	}
	return out.String()
}

type emitState struct {
	scope  *analysis.Scope
	num    map[*ir.Value]int
	labels map[*ir.Block]string
	next   int
}

func (e *emitState) ref(v *ir.Value) string {
	return fmt.Sprintf("%%%d", e.num[v])
}

func (e *emitState) refs(vs []*ir.Value) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = e.ref(v)
	}
	return strings.Join(parts, ", ")
}

func (e *emitState) assign(v *ir.Value) string {
	return fmt.Sprintf("%s : %s = ", e.ref(v), v.Type)
}

func constText(t *types.Type, bits uint64) string {
	if t.Kind.IsFloat() {
		return fmt.Sprintf("const(0x%x:%s)", bits, t)
	}
	return fmt.Sprintf("const(%d:%s)", bits, t)
}

func (e *emitState) line(v *ir.Value) string {
	switch v.Kind {
	case ir.KConst:
		imm := v.Imm.(ir.ConstImm)
		return e.assign(v) + constText(v.Type, imm.Bits)
	case ir.KUnary:
		imm := v.Imm.(ir.UnaryImm)
		op := imm.Op.String()
		if imm.FastMath {
			op += ".fast"
		}
		return e.assign(v) + op + " " + e.ref(v.Operand(0))
	case ir.KBinary:
		imm := v.Imm.(ir.BinaryImm)
		op := imm.Op.String()
		if imm.Unsigned {
			op += ".u"
		}
		if imm.FastMath {
			op += ".fast"
		}
		return e.assign(v) + op + " " + e.refs(v.Operands())
	case ir.KCompare:
		imm := v.Imm.(ir.CompareImm)
		op := "cmp." + imm.Relation.String()
		if imm.Unsigned {
			op += ".u"
		}
		if imm.Unordered {
			op += ".un"
		}
		return e.assign(v) + op + " " + e.refs(v.Operands())
	case ir.KConvert:
		return e.assign(v) + "convert " + e.ref(v.Operand(0))
	case ir.KCast:
		imm := v.Imm.(ir.CastImm)
		op := "cast"
		if imm.BitPreserving {
			op = "bitcast"
		}
		return e.assign(v) + op + " " + e.ref(v.Operand(0))
	case ir.KLoad:
		imm := v.Imm.(ir.MemImm)
		return e.assign(v) + fmt.Sprintf("load.%s %s", imm.Space, e.ref(v.Operand(0)))
	case ir.KStore:
		imm := v.Imm.(ir.MemImm)
		return fmt.Sprintf("store.%s %s, %s", imm.Space, e.ref(v.Operand(0)), e.ref(v.Operand(1)))
	case ir.KAlloca:
		return e.assign(v) + "alloca"
	case ir.KMemBarrier:
		return "membar"
	case ir.KGetField:
		imm := v.Imm.(ir.FieldImm)
		return e.assign(v) + fmt.Sprintf("getfield.%d %s", imm.Index, e.ref(v.Operand(0)))
	case ir.KSetField:
		imm := v.Imm.(ir.FieldImm)
		return e.assign(v) + fmt.Sprintf("setfield.%d %s", imm.Index, e.refs(v.Operands()))
	case ir.KLoadFieldAddress:
		imm := v.Imm.(ir.FieldImm)
		return e.assign(v) + fmt.Sprintf("fieldaddr.%d %s", imm.Index, e.ref(v.Operand(0)))
	case ir.KAtomicRMW:
		imm := v.Imm.(ir.AtomicRMWImm)
		return e.assign(v) + fmt.Sprintf("atomic.%s.%s %s", atomicName(imm.Op), imm.Space, e.refs(v.Operands()))
	case ir.KAtomicCAS:
		imm := v.Imm.(ir.AtomicCASImm)
		return e.assign(v) + fmt.Sprintf("cas.%s %s", imm.Space, e.refs(v.Operands()))
	case ir.KBr:
		imm := v.Imm.(ir.SwitchImm)
		return "br " + e.labels[imm.Default]
	case ir.KCondBr:
		imm := v.Imm.(ir.SwitchImm)
		return fmt.Sprintf("condbr %s, %s, %s", e.ref(v.Operand(0)), e.labels[imm.Targets[0]], e.labels[imm.Targets[1]])
	case ir.KSwitch:
		imm := v.Imm.(ir.SwitchImm)
		parts := make([]string, len(imm.Cases))
		for i, c := range imm.Cases {
			parts[i] = fmt.Sprintf("%d: %s", c, e.labels[imm.Targets[i]])
		}
		return fmt.Sprintf("switch %s, [%s], %s", e.ref(v.Operand(0)), strings.Join(parts, ", "), e.labels[imm.Default])
	case ir.KRet:
		if v.NumOperands() == 0 {
			return "ret"
		}
		return "ret " + e.ref(v.Operand(0))
	case ir.KPhi:
		preds, vals := ir.PhiIncoming(v)
		parts := make([]string, len(preds))
		for i := range preds {
			parts[i] = fmt.Sprintf("%s: %s", e.labels[preds[i]], e.ref(vals[i]))
		}
		return e.assign(v) + "phi [" + strings.Join(parts, ", ") + "]"
	case ir.KCall:
		imm := v.Imm.(ir.CallImm)
		call := fmt.Sprintf("call @%s(%s)", imm.Callee.Name(), e.refs(v.Operands()))
		if v.Type.Kind == types.Void {
			return call
		}
		return e.assign(v) + call
	case ir.KIntrinsic:
		imm := v.Imm.(ir.IntrinsicImm)
		name := intrinsicNames[imm.Op]
		if imm.Op == ir.WarpShuffle {
			name = fmt.Sprintf("warp.shuffle.%s.%d", imm.ShuffleMode, imm.Width)
		}
		if imm.Op == ir.Barrier {
			return "intrinsic.barrier"
		}
		out := "intrinsic." + name
		if v.NumOperands() > 0 {
			out += " " + e.refs(v.Operands())
		}
		if v.Type.Kind == types.Void {
			return out
		}
		return e.assign(v) + out
	case ir.KStringConst:
		imm := v.Imm.(ir.StringImm)
		return e.assign(v) + fmt.Sprintf("str.%d %q", imm.ID, imm.Value)
	case ir.KNull:
		return e.assign(v) + "null"
	case ir.KPoison:
		return e.assign(v) + "poison"
	default:
		return "; unknown " + v.Kind.String()
	}
}

func atomicName(op ir.AtomicOp) string {
	switch op {
	case ir.AtomicAdd:
		return "add"
	case ir.AtomicAnd:
		return "and"
	case ir.AtomicOr:
		return "or"
	case ir.AtomicXor:
		return "xor"
	case ir.AtomicExchange:
		return "exchange"
	case ir.AtomicMin:
		return "min"
	case ir.AtomicMax:
		return "max"
	default:
		return "add"
	}
}
