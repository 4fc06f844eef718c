package ptx

import (
	"fmt"
	"strings"

	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// Output is the result of compiling one method to PTX.
type Output struct {
	Text   string
	Symbol string
}

// Compile walks m's fully simplified IR and emits PTX ISA 6.0+ assembly
// text for it. m must have already gone through the
// transform pipeline; Compile does not re-run any passes.
func Compile(m *ir.Method, abi *types.ABI) (*Output, error) {
	scope := analysis.ComputeScope(m)
	live := analysis.ComputeLiveness(scope)
	e := &emitter{
		m:     m,
		abi:   abi,
		scope: scope,
		alloc: NewAllocator(live),
	}
	if err := e.run(); err != nil {
		return nil, err
	}
	return &Output{Text: e.render(), Symbol: e.symbol()}, nil
}

type emitter struct {
	m     *ir.Method
	abi   *types.ABI
	scope *analysis.Scope
	alloc *Allocator

	body    []string
	strings []string // .global string constant directives
	locals  []string // .local alloca directives
}

func (e *emitter) symbol() string {
	return fmt.Sprintf("ILGPUKernel%d", handleHash(e.m.Declaration.Handle))
}

// handleHash gives a stable small integer derived from the handle text,
// used only to name the kernel entry point.
func handleHash(h ir.Handle) uint32 {
	var x uint32 = 2166136261
	for _, c := range []byte(h) {
		x ^= uint32(c)
		x *= 16777619
	}
	return x
}

func (e *emitter) run() error {
	e.emitParamPrologue()
	for _, blk := range e.scope.Blocks() {
		if blk != e.m.Entry {
			e.emit("%s:", blockLabel(blk))
		}
		values := blk.Values()
		for pos, v := range values {
			if v.IsTerminator() {
				e.emitPhiMoves(blk)
			}
			if err := e.emitValue(v, pos); err != nil {
				return err
			}
			e.alloc.ReleaseIfDead(v, pos)
		}
	}
	return nil
}

// emitPhiMoves writes, just before blk's terminator, one mov per φ in a
// successor block for the edge leaving blk, the PTX analogue of the
// OpenCL backend's predecessor-tail φ assignments.
func (e *emitter) emitPhiMoves(blk *ir.Block) {
	for _, succ := range blk.Successors() {
		for _, v := range succ.Values() {
			if v.Kind != ir.KPhi {
				break // φs sit at the head of a block
			}
			preds, vals := ir.PhiIncoming(v)
			for i, p := range preds {
				if p != blk {
					continue
				}
				b := e.alloc.Bind(v)
				e.emit("mov%s %s, %s;", movSuffix(v.Type), b.Reg, e.operandRef(vals[i]))
			}
		}
	}
}

// emitParamPrologue materializes every parameter out of the .param space
// into registers before the entry block's body runs. Views arrive as two
// scalar .param slots (pointer + length) and bind to their
// two-register tuple; structs load field by field at their ABI offsets.
func (e *emitter) emitParamPrologue() {
	for i, p := range e.m.Params {
		if p.NumUses() == 0 {
			continue
		}
		b := e.alloc.Bind(p)
		switch p.Type.Kind {
		case types.View:
			e.emit("ld.param.u64 %s, [param%d_ptr];", b.Fields[0].Reg, i)
			e.emit("ld.param.u64 %s, [param%d_len];", b.Fields[1].Reg, i)
		case types.Struct:
			for fi, f := range p.Type.Fields {
				e.emit("ld.param.%s %s, [param%d+%d];", mnemonicType(f, true), b.Fields[fi].Reg, i, e.abi.FieldOffset(p.Type, fi))
			}
		default:
			e.emit("ld.param.%s %s, [param%d];", mnemonicType(p.Type, true), b.Reg, i)
		}
	}
}

func blockLabel(b *ir.Block) string { return fmt.Sprintf("BB%d", b.ID) }

func (e *emitter) emit(format string, args ...any) {
	e.body = append(e.body, fmt.Sprintf(format, args...))
}

func (e *emitter) emitValue(v *ir.Value, pos int) error {
	switch v.Kind {
	case ir.KConst:
		return e.emitConst(v)
	case ir.KParam:
		return nil // already bound to registers by the ld.param prologue
	case ir.KUnary:
		return e.emitUnary(v)
	case ir.KBinary:
		return e.emitBinary(v)
	case ir.KCompare:
		return e.emitCompare(v)
	case ir.KConvert:
		return e.emitConvert(v)
	case ir.KCast:
		return e.emitCast(v)
	case ir.KLoad:
		return e.emitLoad(v)
	case ir.KStore:
		return e.emitStore(v)
	case ir.KAlloca:
		return e.emitAlloca(v)
	case ir.KMemBarrier:
		e.emit("membar.gl;")
		return nil
	case ir.KGetField:
		return e.emitGetField(v)
	case ir.KSetField:
		return e.emitSetField(v)
	case ir.KLoadFieldAddress:
		return e.emitLoadFieldAddress(v)
	case ir.KAtomicRMW:
		return e.emitAtomicRMW(v)
	case ir.KAtomicCAS:
		return e.emitAtomicCAS(v)
	case ir.KBr:
		imm := v.Imm.(ir.SwitchImm)
		e.emit("bra %s;", blockLabel(imm.Default))
		return nil
	case ir.KCondBr:
		return e.emitCondBr(v)
	case ir.KSwitch:
		return e.emitSwitch(v)
	case ir.KRet:
		return e.emitRet(v)
	case ir.KPhi:
		e.alloc.Bind(v) // reserve the register; assignments land at predecessor terminators
		return nil
	case ir.KCall:
		return e.emitCall(v)
	case ir.KIntrinsic:
		return e.emitIntrinsic(v)
	case ir.KStringConst:
		return e.emitStringConst(v)
	case ir.KNull:
		return e.emitNull(v)
	case ir.KPoison:
		b := e.alloc.Bind(v)
		e.emit("mov%s %s, 0; // poison", movSuffix(v.Type), b.Reg)
		return nil
	default:
		return diag.InvalidCodeGeneration(e.m.Name(), fmt.Sprintf("unhandled value kind %s in PTX backend", v.Kind))
	}
}

func mnemonicType(t *types.Type, unsigned bool) string {
	switch t.Kind {
	case types.Int1:
		return "pred"
	case types.Int8:
		if unsigned {
			return "u8"
		}
		return "s8"
	case types.Int16:
		if unsigned {
			return "u16"
		}
		return "s16"
	case types.Int32:
		if unsigned {
			return "u32"
		}
		return "s32"
	case types.Int64, types.Pointer:
		if unsigned {
			return "u64"
		}
		return "s64"
	case types.Float32:
		return "f32"
	case types.Float64:
		return "f64"
	default:
		return "b32"
	}
}

func movSuffix(t *types.Type) string {
	switch regKindFor(t) {
	case RegPred:
		return ".pred"
	case RegInt64:
		return ".u64"
	case RegFloat32:
		return ".f32"
	case RegFloat64:
		return ".f64"
	default:
		return ".u32"
	}
}

func (e *emitter) operandRef(v *ir.Value) string {
	if c, ok := v.Imm.(ir.ConstImm); ok && v.Kind == ir.KConst {
		return literalOf(v.Type, c.Bits)
	}
	b, ok := e.alloc.Binding(v)
	if !ok {
		b = e.alloc.Bind(v)
	}
	return b.Reg.String()
}

func literalOf(t *types.Type, bits uint64) string {
	if t.Kind == types.Float64 {
		return fmt.Sprintf("0d%016X", bits)
	}
	if t.Kind == types.Float32 {
		return fmt.Sprintf("0f%08X", uint32(bits))
	}
	return fmt.Sprintf("%d", bits)
}

func (e *emitter) emitConst(v *ir.Value) error {
	b := e.alloc.Bind(v)
	imm := v.Imm.(ir.ConstImm)
	e.emit("mov%s %s, %s;", movSuffix(v.Type), b.Reg, literalOf(v.Type, imm.Bits))
	return nil
}

func (e *emitter) emitUnary(v *ir.Value) error {
	imm := v.Imm.(ir.UnaryImm)
	operand := v.Operand(0)
	b := e.alloc.Bind(v)
	ty := mnemonicType(v.Type, false)
	switch imm.Op {
	case ir.Neg:
		e.emit("neg.%s %s, %s;", ty, b.Reg, e.operandRef(operand))
	case ir.Not:
		e.emit("not.%s %s, %s;", bitwiseType(v.Type), b.Reg, e.operandRef(operand))
	case ir.Abs:
		e.emit("abs.%s %s, %s;", ty, b.Reg, e.operandRef(operand))
	default:
		return diag.InvalidCodeGeneration(e.m.Name(), "unknown unary op")
	}
	return nil
}

func bitwiseType(t *types.Type) string {
	switch regKindFor(t) {
	case RegInt64:
		return "b64"
	default:
		return "b32"
	}
}

// binaryMnemonic selects a PTX mnemonic keyed by op kind, base type,
// and the fast-math flag.
func binaryMnemonic(op ir.BinOp, t *types.Type, unsigned, fastMath bool) string {
	float := t.Kind.IsFloat()
	switch op {
	case ir.Add:
		return "add"
	case ir.Sub:
		return "sub"
	case ir.Mul:
		if float {
			return "mul"
		}
		return "mul.lo" // integer mul keeps the low half
	case ir.Div:
		if float {
			if fastMath {
				return "div.approx"
			}
			return "div.rn"
		}
		return "div"
	case ir.Rem:
		return "rem"
	case ir.And:
		return "and"
	case ir.Or:
		return "or"
	case ir.Xor:
		return "xor"
	case ir.Shl:
		return "shl"
	case ir.Shr:
		return "shr"
	case ir.Min:
		return "min"
	case ir.Max:
		return "max"
	default:
		_ = unsigned
		return "add"
	}
}

func (e *emitter) emitBinary(v *ir.Value) error {
	imm := v.Imm.(ir.BinaryImm)
	lhs, rhs := v.Operand(0), v.Operand(1)
	b := e.alloc.Bind(v)
	mnem := binaryMnemonic(imm.Op, v.Type, imm.Unsigned, imm.FastMath)
	ty := mnemonicType(v.Type, imm.Unsigned)
	if imm.Op == ir.And || imm.Op == ir.Or || imm.Op == ir.Xor {
		ty = bitwiseType(v.Type)
	}
	e.emit("%s.%s %s, %s, %s;", mnem, ty, b.Reg, e.operandRef(lhs), e.operandRef(rhs))
	return nil
}

func (e *emitter) emitCompare(v *ir.Value) error {
	imm := v.Imm.(ir.CompareImm)
	lhs, rhs := v.Operand(0), v.Operand(1)
	b := e.alloc.Bind(v)
	rel := ptxRelation(imm.Relation, lhs.Type.Kind.IsFloat(), imm.Unordered)
	ty := mnemonicType(lhs.Type, imm.Unsigned)
	e.emit("setp.%s.%s %s, %s, %s;", rel, ty, b.Reg, e.operandRef(lhs), e.operandRef(rhs))
	return nil
}

func ptxRelation(r ir.Relation, float, unordered bool) string {
	base := map[ir.Relation]string{
		ir.RelEQ: "eq", ir.RelNE: "ne", ir.RelLT: "lt",
		ir.RelLE: "le", ir.RelGT: "gt", ir.RelGE: "ge",
	}[r]
	if float && unordered {
		return "n" + base // PTX unordered float compares use the "nXX" forms, e.g. nlt
	}
	return base
}

func (e *emitter) emitConvert(v *ir.Value) error {
	operand := v.Operand(0)
	b := e.alloc.Bind(v)
	if operand.Type.Kind == types.Int1 {
		e.emit("selp%s %s, 1, 0, %s;", movSuffix(v.Type), b.Reg, e.operandRef(operand))
		return nil
	}
	e.emit("cvt.%s.%s %s, %s;", mnemonicType(v.Type, false), mnemonicType(operand.Type, false), b.Reg, e.operandRef(operand))
	return nil
}

// materializePred widens a predicate into a fresh .u32 register so it can
// be stored through a non-predicate path.
func (e *emitter) materializePred(v *ir.Value) Register {
	r := Register{Kind: RegInt32, Num: e.alloc.allocNum(RegInt32)}
	e.emit("selp.u32 %s, 1, 0, %s;", r, e.operandRef(v))
	return r
}

func (e *emitter) emitCast(v *ir.Value) error {
	imm := v.Imm.(ir.CastImm)
	operand := v.Operand(0)
	b := e.alloc.Bind(v)
	if imm.BitPreserving {
		e.emit("mov.b%d %s, %s; // bitcast", bitWidth(v.Type), b.Reg, e.operandRef(operand))
	} else if bitWidth(v.Type) == bitWidth(operand.Type) {
		e.emit("mov.b%d %s, %s;", bitWidth(v.Type), b.Reg, e.operandRef(operand))
	} else {
		e.emit("cvt.%s.%s %s, %s;", mnemonicType(v.Type, true), mnemonicType(operand.Type, true), b.Reg, e.operandRef(operand))
	}
	return nil
}

func bitWidth(t *types.Type) int {
	if regKindFor(t) == RegInt64 || regKindFor(t) == RegFloat64 {
		return 64
	}
	return 32
}

func spaceQualifier(s types.AddressSpace) string {
	switch s {
	case types.Global:
		return "global"
	case types.Shared:
		return "shared"
	case types.Local:
		return "local"
	case types.Constant:
		return "const"
	default:
		return "generic"
	}
}

func (e *emitter) emitLoad(v *ir.Value) error {
	imm := v.Imm.(ir.MemImm)
	ptr := v.Operand(0)
	if v.Type.Kind == types.Struct {
		return e.emitStructLoad(v, ptr, imm)
	}
	b := e.alloc.Bind(v)
	e.emit("ld.%s.%s %s, [%s];", spaceQualifier(imm.Space), mnemonicType(v.Type, true), b.Reg, e.operandRef(ptr))
	return nil
}

// emitStructLoad decomposes a structure load into offsetted primitive
// loads using ABI offsets.
func (e *emitter) emitStructLoad(v *ir.Value, ptr *ir.Value, imm ir.MemImm) error {
	b := e.alloc.Bind(v)
	for i, f := range v.Type.Fields {
		off := e.abi.FieldOffset(v.Type, i)
		e.emit("ld.%s.%s %s, [%s+%d];", spaceQualifier(imm.Space), mnemonicType(f, true), b.Fields[i].Reg, e.operandRef(ptr), off)
	}
	return nil
}

func (e *emitter) emitStore(v *ir.Value) error {
	imm := v.Imm.(ir.MemImm)
	ptr, val := v.Operand(0), v.Operand(1)
	if val.Type.Kind == types.Struct {
		b, ok := e.alloc.Binding(val)
		if !ok {
			b = e.alloc.Bind(val)
		}
		for i, f := range val.Type.Fields {
			off := e.abi.FieldOffset(val.Type, i)
			e.emit("st.%s.%s [%s+%d], %s;", spaceQualifier(imm.Space), mnemonicType(f, true), e.operandRef(ptr), off, b.Fields[i].Reg)
		}
		return nil
	}
	if val.Type.Kind == types.Int1 {
		widened := e.materializePred(val)
		e.emit("st.%s.u8 [%s], %s;", spaceQualifier(imm.Space), e.operandRef(ptr), widened)
		return nil
	}
	e.emit("st.%s.%s [%s], %s;", spaceQualifier(imm.Space), mnemonicType(val.Type, true), e.operandRef(ptr), e.operandRef(val))
	return nil
}

func (e *emitter) emitAlloca(v *ir.Value) error {
	imm := v.Imm.(ir.MemImm)
	elem := v.Type.Elem
	size := e.abi.SizeOf(elem)
	align := e.abi.AlignOf(elem)
	name := fmt.Sprintf("__local%d", v.ID)
	e.locals = append(e.locals, fmt.Sprintf(".%s .align %d .b8 %s[%d];", spaceQualifier(imm.Space), align, name, size))
	b := e.alloc.Bind(v)
	e.emit("mov.u64 %s, %s;", b.Reg, name)
	return nil
}

func (e *emitter) emitGetField(v *ir.Value) error {
	imm := v.Imm.(ir.FieldImm)
	base := v.Operand(0)
	bb, ok := e.alloc.Binding(base)
	if !ok {
		bb = e.alloc.Bind(base)
	}
	// struct field access is a pure renaming of an existing register, no
	// instruction needed: the binding is shared, not copied.
	e.alloc.bindings[v] = bb.Fields[imm.Index]
	return nil
}

func (e *emitter) emitSetField(v *ir.Value) error {
	imm := v.Imm.(ir.FieldImm)
	base, val := v.Operand(0), v.Operand(1)
	bb, ok := e.alloc.Binding(base)
	if !ok {
		bb = e.alloc.Bind(base)
	}
	result := e.alloc.Bind(v)
	for i := range result.Fields {
		if i == imm.Index {
			e.emit("mov%s %s, %s;", movSuffix(val.Type), result.Fields[i].Reg, e.operandRef(val))
		} else {
			e.emit("mov%s %s, %s;", movSuffix(v.Type.Fields[i]), result.Fields[i].Reg, bb.Fields[i].Reg)
		}
	}
	return nil
}

// emitLoadFieldAddress aliases the source pointer when the field offset
// is zero rather than emitting an add.
func (e *emitter) emitLoadFieldAddress(v *ir.Value) error {
	imm := v.Imm.(ir.FieldImm)
	base := v.Operand(0)
	structTy := base.Type.Elem
	off := e.abi.FieldOffset(structTy, imm.Index)
	if off == 0 {
		e.alloc.bindings[v] = e.ensureBinding(base)
		return nil
	}
	b := e.alloc.Bind(v)
	e.emit("add.u64 %s, %s, %d;", b.Reg, e.operandRef(base), off)
	return nil
}

func (e *emitter) ensureBinding(v *ir.Value) Binding {
	if b, ok := e.alloc.Binding(v); ok {
		return b
	}
	return e.alloc.Bind(v)
}

func (e *emitter) emitAtomicRMW(v *ir.Value) error {
	imm := v.Imm.(ir.AtomicRMWImm)
	ptr, val := v.Operand(0), v.Operand(1)
	b := e.alloc.Bind(v)
	e.emit("atom.%s.%s.%s %s, [%s], %s;", spaceQualifier(imm.Space), atomicMnemonic(imm.Op), mnemonicType(val.Type, true), b.Reg, e.operandRef(ptr), e.operandRef(val))
	return nil
}

func atomicMnemonic(op ir.AtomicOp) string {
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
		return "exch"
	case ir.AtomicMin:
		return "min"
	case ir.AtomicMax:
		return "max"
	default:
		return "add"
	}
}

func (e *emitter) emitAtomicCAS(v *ir.Value) error {
	imm := v.Imm.(ir.AtomicCASImm)
	ptr, cmp, newVal := v.Operand(0), v.Operand(1), v.Operand(2)
	b := e.alloc.Bind(v)
	e.emit("atom.%s.cas.%s %s, [%s], %s, %s;", spaceQualifier(imm.Space), mnemonicType(cmp.Type, true), b.Reg, e.operandRef(ptr), e.operandRef(cmp), e.operandRef(newVal))
	return nil
}

func (e *emitter) emitCondBr(v *ir.Value) error {
	imm := v.Imm.(ir.SwitchImm)
	cond := v.Operand(0)
	e.emit("@%s bra %s;", e.operandRef(cond), blockLabel(imm.Targets[0]))
	e.emit("bra %s;", blockLabel(imm.Targets[1]))
	return nil
}

func (e *emitter) emitSwitch(v *ir.Value) error {
	imm := v.Imm.(ir.SwitchImm)
	val := v.Operand(0)
	predKind := mnemonicType(val.Type, false)
	for i, c := range imm.Cases {
		tmpPred := Register{Kind: RegPred, Num: e.alloc.allocNum(RegPred)}
		e.emit("setp.eq.%s %s, %s, %d;", predKind, tmpPred, e.operandRef(val), c)
		e.emit("@%s bra %s;", tmpPred, blockLabel(imm.Targets[i]))
	}
	if imm.Default != nil {
		e.emit("bra %s;", blockLabel(imm.Default))
	}
	return nil
}

func (e *emitter) emitRet(v *ir.Value) error {
	if v.NumOperands() == 0 {
		e.emit("ret;")
		return nil
	}
	val := v.Operand(0)
	if val.Type.Kind == types.Struct {
		b := e.ensureBinding(val)
		for i, f := range val.Type.Fields {
			e.emit("st.param.%s [retval0+%d], %s;", mnemonicType(f, true), e.abi.FieldOffset(val.Type, i), b.Fields[i].Reg)
		}
	} else {
		e.emit("st.param.%s [retval0], %s;", mnemonicType(val.Type, true), e.operandRef(val))
	}
	e.emit("ret;")
	return nil
}

func (e *emitter) emitCall(v *ir.Value) error {
	imm := v.Imm.(ir.CallImm)
	var args []string
	for _, a := range v.Operands() {
		args = append(args, e.operandRef(a))
	}
	if v.Type.Kind == types.Void {
		e.emit("call.uni (), %s, (%s);", imm.Callee.Name(), strings.Join(args, ", "))
		return nil
	}
	b := e.alloc.Bind(v)
	e.emit("call.uni (%s), %s, (%s);", b.Reg, imm.Callee.Name(), strings.Join(args, ", "))
	return nil
}

func (e *emitter) emitIntrinsic(v *ir.Value) error {
	imm := v.Imm.(ir.IntrinsicImm)
	switch imm.Op {
	case ir.GridDimX, ir.GridDimY, ir.GridDimZ:
		b := e.alloc.Bind(v)
		e.emit("mov.u32 %s, %%nctaid.%s;", b.Reg, axisOf(imm.Op, ir.GridDimX))
	case ir.GroupDimX, ir.GroupDimY, ir.GroupDimZ:
		b := e.alloc.Bind(v)
		e.emit("mov.u32 %s, %%ntid.%s;", b.Reg, axisOf(imm.Op, ir.GroupDimX))
	case ir.GroupIdxX, ir.GroupIdxY, ir.GroupIdxZ:
		b := e.alloc.Bind(v)
		e.emit("mov.u32 %s, %%ctaid.%s;", b.Reg, axisOf(imm.Op, ir.GroupIdxX))
	case ir.LocalIdxX, ir.LocalIdxY, ir.LocalIdxZ:
		b := e.alloc.Bind(v)
		e.emit("mov.u32 %s, %%tid.%s;", b.Reg, axisOf(imm.Op, ir.LocalIdxX))
	case ir.Barrier:
		e.emit("bar.sync 0;")
	case ir.MathSqrt, ir.MathSin, ir.MathCos, ir.MathExp, ir.MathLog:
		operand := v.Operand(0)
		b := e.alloc.Bind(v)
		e.emit("%s.approx.%s %s, %s;", mathMnemonic(imm.Op), mnemonicType(v.Type, false), b.Reg, e.operandRef(operand))
	case ir.WarpShuffle:
		return e.emitShuffle(v, imm)
	default:
		return diag.InvalidCodeGeneration(e.m.Name(), "unhandled intrinsic in PTX backend")
	}
	return nil
}

func axisOf(op, base ir.IntrinsicOp) string {
	switch op - base {
	case 0:
		return "x"
	case 1:
		return "y"
	default:
		return "z"
	}
}

func mathMnemonic(op ir.IntrinsicOp) string {
	switch op {
	case ir.MathSqrt:
		return "sqrt"
	case ir.MathSin:
		return "sin"
	case ir.MathCos:
		return "cos"
	case ir.MathExp:
		return "ex2"
	case ir.MathLog:
		return "lg2"
	default:
		return "sqrt"
	}
}

// emitShuffle lowers a warp shuffle: sub-warp widths select a partial
// membership mask, full-warp shuffles use 0xffffffff.
func (e *emitter) emitShuffle(v *ir.Value, imm ir.IntrinsicImm) error {
	val := v.Operand(0)
	width := imm.Width
	if width <= 0 || width > 32 {
		width = 32
	}
	mask := "0xffffffff"
	if width < 32 {
		mask = fmt.Sprintf("0x%08x", (uint32(1)<<uint(width))-1)
	}
	var delta string
	if len(v.Operands()) > 1 {
		delta = e.operandRef(v.Operand(1))
	} else {
		delta = "0"
	}
	b := e.alloc.Bind(v)
	e.emit("shfl.sync.%s.b32 %s, %s, %s, %d, %s;", imm.ShuffleMode, b.Reg, e.operandRef(val), delta, width-1, mask)
	return nil
}

func (e *emitter) emitStringConst(v *ir.Value) error {
	imm := v.Imm.(ir.StringImm)
	name := fmt.Sprintf("__strconst%d", imm.ID)
	e.strings = append(e.strings, fmt.Sprintf(".global .align 1 .b8 %s[%d] = {%s};", name, len(imm.Value)+1, cStringBytes(imm.Value)))
	b := e.alloc.Bind(v)
	e.emit("mov.u64 %s, %s;", b.Reg, name)
	return nil
}

func cStringBytes(s string) string {
	parts := make([]string, 0, len(s)+1)
	for _, c := range []byte(s) {
		parts = append(parts, fmt.Sprintf("%d", c))
	}
	parts = append(parts, "0")
	return strings.Join(parts, ", ")
}

// emitNull lowers a null value: View types become a (pointer=0, length=0)
// pair, never a single zero scalar.
func (e *emitter) emitNull(v *ir.Value) error {
	if v.Type.Kind == types.View {
		b := e.alloc.Bind(v)
		e.emit("mov.u64 %s, 0; // null view pointer", b.Fields[0].Reg)
		e.emit("mov.u64 %s, 0; // null view length", b.Fields[1].Reg)
		return nil
	}
	b := e.alloc.Bind(v)
	e.emit("mov%s %s, 0;", movSuffix(v.Type), b.Reg)
	return nil
}

func (e *emitter) render() string {
	var out strings.Builder
	for _, s := range e.strings {
		out.WriteString(s)
		out.WriteByte('\n')
	}
	fmt.Fprintf(&out, ".visible .entry %s(\n", e.symbol())
	var decls []string
	for i, p := range e.m.Params {
		switch p.Type.Kind {
		case types.View:
			decls = append(decls,
				fmt.Sprintf(".param .u64 param%d_ptr", i),
				fmt.Sprintf(".param .u64 param%d_len", i))
		case types.Struct:
			decls = append(decls,
				fmt.Sprintf(".param .align %d .b8 param%d[%d]", e.abi.AlignOf(p.Type), i, e.abi.SizeOf(p.Type)))
		default:
			decls = append(decls, fmt.Sprintf(".param .%s param%d", mnemonicType(p.Type, true), i))
		}
	}
	for i, d := range decls {
		sep := ","
		if i == len(decls)-1 {
			sep = ""
		}
		fmt.Fprintf(&out, "\t%s%s\n", d, sep)
	}
	out.WriteString(")\n{\n")
	for _, d := range e.alloc.Declarations() {
		out.WriteString("\t")
		out.WriteString(d)
		out.WriteByte('\n')
	}
	for _, l := range e.locals {
		out.WriteString("\t")
		out.WriteString(l)
		out.WriteByte('\n')
	}
	for _, line := range e.body {
		if strings.HasSuffix(line, ":") {
			out.WriteString(line)
		} else {
			out.WriteString("\t")
			out.WriteString(line)
		}
		out.WriteByte('\n')
	}
	out.WriteString("}\n")
	return out.String()
}
