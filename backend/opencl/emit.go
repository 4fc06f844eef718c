package opencl

import (
	"fmt"
	"math"
	"strings"

	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// Output is the result of compiling one method to OpenCL C.
type Output struct {
	Text    string
	Symbol  string
	Version string // "1.2", or "2.0" when an emitted atomic requires it
}

// Compile walks m's fully simplified IR and emits OpenCL C 1.2 text
// (2.0 if a used atomic requires it) for it.
// m must already have gone through the transform pipeline.
func Compile(m *ir.Method, abi *types.ABI) (*Output, error) {
	scope := analysis.ComputeScope(m)
	dom := analysis.ComputeDominators(scope)
	e := &emitter{
		m:      m,
		abi:    abi,
		scope:  scope,
		dom:    dom,
		types:  NewTypeGenerator(),
		names: make(map[*ir.Value]string),
		hoist: make(map[*ir.Block][]string),
	}
	if err := e.run(); err != nil {
		return nil, err
	}
	version := "1.2"
	if e.needs2 {
		version = "2.0"
	}
	return &Output{Text: e.render(), Symbol: "ILGPUKernel", Version: version}, nil
}

type emitter struct {
	m     *ir.Method
	abi   *types.ABI
	scope *analysis.Scope
	dom   *analysis.Dominators
	types *TypeGenerator
	names map[*ir.Value]string
	sink  Sink
	hoist map[*ir.Block][]string // φ variable declarations hoisted to their common-dominator block

	needs2 bool // an emitted atomic requires OpenCL 2.0
}

func (e *emitter) varName(v *ir.Value) string {
	if name, ok := e.names[v]; ok {
		return name
	}
	name := fmt.Sprintf("v%d", v.ID)
	e.names[v] = name
	return name
}

func (e *emitter) run() error {
	e.planPhiHoisting()
	e.bindParams()

	for _, blk := range e.scope.Blocks() {
		e.sink.Label(blockLabel(blk))
		for _, decl := range e.hoist[blk] {
			e.sink.Line(decl)
		}
		values := blk.Values()
		for i, v := range values {
			if v.IsTerminator() {
				e.emitPhiAssignments(blk)
			}
			if err := e.emitValue(v, i == 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// bindParams names every parameter after its position in the flattened
// argument list. View parameters arrive split into pointer + length
// scalars and are reassembled into their struct pair before
// the entry block runs, so the body can treat them like any other value.
func (e *emitter) bindParams() {
	for i, p := range e.m.Params {
		if p.Type.Kind == types.View {
			name := fmt.Sprintf("param%d_v", i)
			e.names[p] = name
			e.sink.Line("%s %s; %s.ptr = param%d_ptr; %s.len = param%d_len;",
				e.types.Name(p.Type), name, name, i, name, i)
			continue
		}
		e.names[p] = fmt.Sprintf("param%d", i)
	}
}

// planPhiHoisting precomputes, for each φ in the method, the variable
// declaration to hoist to the immediate common dominator of its incoming
// blocks.
func (e *emitter) planPhiHoisting() {
	for _, blk := range e.scope.Blocks() {
		for _, v := range blk.Values() {
			if v.Kind != ir.KPhi {
				continue
			}
			preds, _ := ir.PhiIncoming(v)
			target := blk
			if len(preds) > 0 {
				target = e.dom.CommonDominator(preds)
			}
			decl := fmt.Sprintf("%s %s;", e.types.Name(v.Type), e.varName(v))
			e.hoist[target] = append(e.hoist[target], decl)
		}
	}
}

// emitPhiAssignments writes, at the tail of blk (just before its
// terminator), one assignment per φ this block feeds, for the edge
// corresponding to blk.
func (e *emitter) emitPhiAssignments(blk *ir.Block) {
	for _, succ := range blk.Successors() {
		for _, v := range succ.Values() {
			if v.Kind != ir.KPhi {
				break // φs are always at the head of a block (invariant 2)
			}
			preds, vals := ir.PhiIncoming(v)
			for i, p := range preds {
				if p == blk {
					e.sink.Line("%s = %s;", e.varName(v), e.ref(vals[i]))
				}
			}
		}
	}
}

func blockLabel(b *ir.Block) string { return fmt.Sprintf("BB%d", b.ID) }

func (e *emitter) ref(v *ir.Value) string {
	if v.Kind == ir.KConst {
		return constLiteral(v)
	}
	return e.varName(v)
}

func constLiteral(v *ir.Value) string {
	imm := v.Imm.(ir.ConstImm)
	if v.Type.Kind.IsFloat() {
		return floatLiteral(v.Type, imm.Bits)
	}
	return fmt.Sprintf("%d", imm.Bits)
}

func (e *emitter) declare(v *ir.Value) string {
	return fmt.Sprintf("%s %s", e.types.Name(v.Type), e.varName(v))
}

func (e *emitter) emitValue(v *ir.Value, firstInBlock bool) error {
	switch v.Kind {
	case ir.KConst, ir.KParam, ir.KPhi:
		return nil // consts are inlined, params and φs already have bindings
	case ir.KUnary:
		return e.emitUnary(v)
	case ir.KBinary:
		return e.emitBinary(v)
	case ir.KCompare:
		return e.emitCompare(v)
	case ir.KConvert:
		e.sink.Line("%s = (%s)%s;", e.declare(v), e.types.Name(v.Type), e.ref(v.Operand(0)))
		return nil
	case ir.KCast:
		return e.emitCast(v)
	case ir.KLoad:
		e.sink.Line("%s = *%s;", e.declare(v), e.ref(v.Operand(0)))
		return nil
	case ir.KStore:
		e.sink.Line("*%s = %s;", e.ref(v.Operand(0)), e.ref(v.Operand(1)))
		return nil
	case ir.KAlloca:
		e.sink.Line("%s %s_storage; %s = &%s_storage;", e.types.Name(v.Type.Elem), e.varName(v), e.declare(v), e.varName(v))
		return nil
	case ir.KMemBarrier:
		e.sink.Line("barrier(CLK_GLOBAL_MEM_FENCE | CLK_LOCAL_MEM_FENCE);")
		return nil
	case ir.KGetField:
		imm := v.Imm.(ir.FieldImm)
		if v.Operand(0).Type.Kind == types.View {
			field := "ptr"
			if imm.Index == 1 {
				field = "len"
			}
			e.sink.Line("%s = %s.%s;", e.declare(v), e.ref(v.Operand(0)), field)
			return nil
		}
		e.sink.Line("%s = %s._f%d;", e.declare(v), e.ref(v.Operand(0)), imm.Index)
		return nil
	case ir.KSetField:
		return e.emitSetField(v)
	case ir.KLoadFieldAddress:
		return e.emitLoadFieldAddress(v)
	case ir.KAtomicRMW:
		return e.emitAtomicRMW(v)
	case ir.KAtomicCAS:
		e.needs2 = true // atomic_compare_exchange requires OpenCL 2.0 atomics
		e.sink.Line("%s = atomic_cmpxchg(%s, %s, %s);", e.declare(v), e.ref(v.Operand(0)), e.ref(v.Operand(1)), e.ref(v.Operand(2)))
		return nil
	case ir.KBr:
		imm := v.Imm.(ir.SwitchImm)
		e.sink.Line("goto %s;", blockLabel(imm.Default))
		return nil
	case ir.KCondBr:
		imm := v.Imm.(ir.SwitchImm)
		e.sink.Line("if (%s) goto %s; else goto %s;", e.ref(v.Operand(0)), blockLabel(imm.Targets[0]), blockLabel(imm.Targets[1]))
		return nil
	case ir.KSwitch:
		return e.emitSwitch(v)
	case ir.KRet:
		if v.NumOperands() == 0 {
			e.sink.Line("return;")
		} else {
			e.sink.Line("return %s;", e.ref(v.Operand(0)))
		}
		return nil
	case ir.KCall:
		return e.emitCall(v)
	case ir.KIntrinsic:
		return e.emitIntrinsic(v)
	case ir.KStringConst:
		imm := v.Imm.(ir.StringImm)
		e.sink.Line("__constant char %s[] = %q;", e.varName(v), imm.Value)
		return nil
	case ir.KNull:
		return e.emitNull(v)
	case ir.KPoison:
		e.sink.Line("%s = 0; // poison", e.declare(v))
		return nil
	default:
		return diag.InvalidCodeGeneration(e.m.Name(), fmt.Sprintf("unhandled value kind %s in OpenCL backend", v.Kind))
	}
}

func floatLiteral(t *types.Type, bits uint64) string {
	if t.Kind == types.Float32 {
		return fmt.Sprintf("%gf", math.Float32frombits(uint32(bits)))
	}
	return fmt.Sprintf("%g", math.Float64frombits(bits))
}

func (e *emitter) emitUnary(v *ir.Value) error {
	imm := v.Imm.(ir.UnaryImm)
	operand := v.Operand(0)
	switch imm.Op {
	case ir.Neg:
		e.sink.Line("%s = -%s;", e.declare(v), e.ref(operand))
	case ir.Not:
		e.sink.Line("%s = ~%s;", e.declare(v), e.ref(operand))
	case ir.Abs:
		if v.Type.Kind.IsFloat() {
			e.sink.Line("%s = fabs(%s);", e.declare(v), e.ref(operand))
		} else {
			e.sink.Line("%s = abs(%s);", e.declare(v), e.ref(operand))
		}
	default:
		return diag.InvalidCodeGeneration(e.m.Name(), "unknown unary op")
	}
	return nil
}

var binOpSymbol = map[ir.BinOp]string{
	ir.Add: "+", ir.Sub: "-", ir.Mul: "*", ir.Div: "/", ir.Rem: "%",
	ir.And: "&", ir.Or: "|", ir.Xor: "^", ir.Shl: "<<", ir.Shr: ">>",
}

func (e *emitter) emitBinary(v *ir.Value) error {
	imm := v.Imm.(ir.BinaryImm)
	lhs, rhs := v.Operand(0), v.Operand(1)
	switch imm.Op {
	case ir.Min:
		e.sink.Line("%s = min(%s, %s);", e.declare(v), e.ref(lhs), e.ref(rhs))
	case ir.Max:
		e.sink.Line("%s = max(%s, %s);", e.declare(v), e.ref(lhs), e.ref(rhs))
	default:
		sym, ok := binOpSymbol[imm.Op]
		if !ok {
			return diag.InvalidCodeGeneration(e.m.Name(), "unknown binary op")
		}
		if imm.Unsigned && v.Type.Kind.IsInteger() {
			e.sink.Line("%s = (%s)((u%s)%s %s (u%s)%s);", e.declare(v), e.types.Name(v.Type), e.types.Name(v.Type), e.ref(lhs), sym, e.types.Name(v.Type), e.ref(rhs))
		} else {
			e.sink.Line("%s = %s %s %s;", e.declare(v), e.ref(lhs), sym, e.ref(rhs))
		}
	}
	return nil
}

var relSymbol = map[ir.Relation]string{
	ir.RelEQ: "==", ir.RelNE: "!=", ir.RelLT: "<", ir.RelLE: "<=", ir.RelGT: ">", ir.RelGE: ">=",
}

func (e *emitter) emitCompare(v *ir.Value) error {
	imm := v.Imm.(ir.CompareImm)
	lhs, rhs := v.Operand(0), v.Operand(1)
	sym := relSymbol[imm.Relation]
	if lhs.Type.Kind.IsFloat() && imm.Unordered {
		e.sink.Line("%s = isnan(%s) || isnan(%s) || (%s %s %s);", e.declare(v), e.ref(lhs), e.ref(rhs), e.ref(lhs), sym, e.ref(rhs))
		return nil
	}
	e.sink.Line("%s = %s %s %s;", e.declare(v), e.ref(lhs), sym, e.ref(rhs))
	return nil
}

func (e *emitter) emitCast(v *ir.Value) error {
	imm := v.Imm.(ir.CastImm)
	operand := v.Operand(0)
	if imm.BitPreserving {
		e.sink.Line("%s = as_%s(%s);", e.declare(v), e.types.Name(v.Type), e.ref(operand))
	} else {
		e.sink.Line("%s = (%s)%s;", e.declare(v), e.types.Name(v.Type), e.ref(operand))
	}
	return nil
}

func (e *emitter) emitSetField(v *ir.Value) error {
	imm := v.Imm.(ir.FieldImm)
	base, val := v.Operand(0), v.Operand(1)
	e.sink.Line("%s = %s;", e.declare(v), e.ref(base))
	e.sink.Line("%s._f%d = %s;", e.varName(v), imm.Index, e.ref(val))
	return nil
}

func (e *emitter) emitLoadFieldAddress(v *ir.Value) error {
	imm := v.Imm.(ir.FieldImm)
	base := v.Operand(0)
	structTy := base.Type.Elem
	off := e.abi.FieldOffset(structTy, imm.Index)
	if off == 0 {
		e.sink.Line("%s = (%s)%s;", e.declare(v), e.types.Name(v.Type), e.ref(base))
		return nil
	}
	e.sink.Line("%s = &%s->_f%d;", e.declare(v), e.ref(base), imm.Index)
	return nil
}

var atomicFunc = map[ir.AtomicOp]string{
	ir.AtomicAdd: "atomic_add", ir.AtomicAnd: "atomic_and", ir.AtomicOr: "atomic_or",
	ir.AtomicXor: "atomic_xor", ir.AtomicExchange: "atomic_xchg",
	ir.AtomicMin: "atomic_min", ir.AtomicMax: "atomic_max",
}

func (e *emitter) emitAtomicRMW(v *ir.Value) error {
	imm := v.Imm.(ir.AtomicRMWImm)
	ptr, val := v.Operand(0), v.Operand(1)
	e.sink.Line("%s = %s(%s, %s);", e.declare(v), atomicFunc[imm.Op], e.ref(ptr), e.ref(val))
	return nil
}

func (e *emitter) emitSwitch(v *ir.Value) error {
	imm := v.Imm.(ir.SwitchImm)
	e.sink.Line("switch (%s) {", e.ref(v.Operand(0)))
	e.sink.Indent()
	for i, c := range imm.Cases {
		e.sink.Line("case %d: goto %s;", c, blockLabel(imm.Targets[i]))
	}
	if imm.Default != nil {
		e.sink.Line("default: goto %s;", blockLabel(imm.Default))
	}
	e.sink.Dedent()
	e.sink.Line("}")
	return nil
}

func (e *emitter) emitCall(v *ir.Value) error {
	imm := v.Imm.(ir.CallImm)
	var args []string
	for _, a := range v.Operands() {
		args = append(args, e.ref(a))
	}
	call := fmt.Sprintf("%s(%s)", imm.Callee.Name(), strings.Join(args, ", "))
	if v.Type.Kind == types.Void {
		e.sink.Line("%s;", call)
		return nil
	}
	e.sink.Line("%s = %s;", e.declare(v), call)
	return nil
}

func (e *emitter) emitIntrinsic(v *ir.Value) error {
	imm := v.Imm.(ir.IntrinsicImm)
	switch imm.Op {
	case ir.GridDimX, ir.GridDimY, ir.GridDimZ:
		e.sink.Line("%s = get_global_size(%d);", e.declare(v), axisIndex(imm.Op, ir.GridDimX))
	case ir.GroupDimX, ir.GroupDimY, ir.GroupDimZ:
		e.sink.Line("%s = get_local_size(%d);", e.declare(v), axisIndex(imm.Op, ir.GroupDimX))
	case ir.GroupIdxX, ir.GroupIdxY, ir.GroupIdxZ:
		e.sink.Line("%s = get_group_id(%d);", e.declare(v), axisIndex(imm.Op, ir.GroupIdxX))
	case ir.LocalIdxX, ir.LocalIdxY, ir.LocalIdxZ:
		e.sink.Line("%s = get_local_id(%d);", e.declare(v), axisIndex(imm.Op, ir.LocalIdxX))
	case ir.Barrier:
		e.sink.Line("barrier(CLK_LOCAL_MEM_FENCE);")
	case ir.MathSqrt:
		e.sink.Line("%s = sqrt(%s);", e.declare(v), e.ref(v.Operand(0)))
	case ir.MathSin:
		e.sink.Line("%s = sin(%s);", e.declare(v), e.ref(v.Operand(0)))
	case ir.MathCos:
		e.sink.Line("%s = cos(%s);", e.declare(v), e.ref(v.Operand(0)))
	case ir.MathExp:
		e.sink.Line("%s = exp(%s);", e.declare(v), e.ref(v.Operand(0)))
	case ir.MathLog:
		e.sink.Line("%s = log(%s);", e.declare(v), e.ref(v.Operand(0)))
	case ir.WarpShuffle:
		// Lowered to a sub_group_shuffle call reading lane 0; any delta
		// operand is not used. The width is clamped to 32 as in the PTX
		// backend and only recorded in a trailing comment.
		width := imm.Width
		if width <= 0 || width > 32 {
			width = 32
		}
		e.sink.Line("%s = sub_group_shuffle(%s, %d); // width=%d", e.declare(v), e.ref(v.Operand(0)), 0, width)
	default:
		return diag.InvalidCodeGeneration(e.m.Name(), "unhandled intrinsic in OpenCL backend")
	}
	return nil
}

func axisIndex(op, base ir.IntrinsicOp) int { return int(op - base) }

// emitNull lowers a null value the same way as the PTX backend: views
// become a (ptr=0, len=0) pair, never a bare zero scalar.
func (e *emitter) emitNull(v *ir.Value) error {
	if v.Type.Kind == types.View {
		e.sink.Line("%s = (%s){0, 0};", e.declare(v), e.types.Name(v.Type))
		return nil
	}
	e.sink.Line("%s = 0;", e.declare(v))
	return nil
}

func (e *emitter) render() string {
	var out strings.Builder
	for _, def := range e.types.Definitions() {
		out.WriteString(def)
		out.WriteString("\n\n")
	}
	out.WriteString("__kernel void ILGPUKernel(\n")
	var params []string
	for i, p := range e.m.Params {
		if p.Type.Kind == types.View {
			params = append(params, fmt.Sprintf("    %s %s* param%d_ptr, long param%d_len",
				addressSpaceQualifier(p.Type.Space), e.types.Name(p.Type.Elem), i, i))
		} else {
			params = append(params, fmt.Sprintf("    %s param%d", e.types.Name(p.Type), i))
		}
	}
	out.WriteString(strings.Join(params, ",\n"))
	out.WriteString("\n) {\n")
	out.WriteString(e.sink.String())
	out.WriteString("}\n")
	return out.String()
}
