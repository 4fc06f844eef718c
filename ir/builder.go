package ir

import (
	"go.uber.org/zap"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/types"
)

// Builder is the sole mutator of a Method's IR. At most
// one Builder is live per method at a time (ir.Context.CreateBuilder
// enforces this via atomic compare-and-swap on the method).
type Builder struct {
	ctx    *Context
	method *Method
	cur    *Block
}

// Method returns the method this builder is mutating.
func (b *Builder) Method() *Method { return b.method }

// Block returns the block currently being appended to.
func (b *Builder) Block() *Block { return b.cur }

// SetBlock moves insertion to an existing block.
func (b *Builder) SetBlock(blk *Block) { b.cur = blk }

// NewBlock creates a fresh block owned by this builder's method.
func (b *Builder) NewBlock(name string) *Block {
	return b.ctx.NewBlock(b.method, name)
}

// Param returns the i-th parameter value.
func (b *Builder) Param(i int) *Value { return b.method.Params[i] }

func (b *Builder) newValue(kind ValueKind, t *types.Type, imm any, operands ...*Value) *Value {
	v := &Value{
		ID:    b.ctx.NextValueID(),
		Type:  t,
		Kind:  kind,
		Imm:   imm,
		users: make(map[*Value]int),
	}
	for _, op := range operands {
		b.addOperand(v, op)
	}
	return v
}

// addOperand appends operand to v's operand list and symmetrically records
// the reverse use edge. All edge maintenance goes through the builder so
// the symmetry invariant has a single owner.
func (b *Builder) addOperand(v, operand *Value) {
	v.operand = append(v.operand, operand)
	operand.users[v]++
}

// removeOperand drops all of v's operand edges (used when a value is
// replaced or deleted), keeping use edges symmetric.
func (b *Builder) removeOperand(v *Value) {
	for _, op := range v.operand {
		if n := op.users[v]; n <= 1 {
			delete(op.users, v)
		} else {
			op.users[v] = n - 1
		}
	}
	v.operand = nil
}

// FoldBinary evaluates a binary op over two constant bit patterns without
// appending the result anywhere, for passes that replace an existing
// value in place rather than grow a block (transform.ConstantFolder).
func (b *Builder) FoldBinary(t *types.Type, op BinOp, unsigned bool, lhsBits, rhsBits uint64) *Value {
	return b.foldBinary(t, op, unsigned, lhsBits, rhsBits)
}

// FoldUnary evaluates a unary op over a constant bit pattern without
// appending the result anywhere.
func (b *Builder) FoldUnary(op UnaryOp, t *types.Type, bits uint64) *Value {
	width := widthOf(t.Kind)
	var out uint64
	if t.Kind.IsFloat() {
		out = evalUnaryFloat(op, width, bits)
	} else {
		out = evalUnaryInt(op, width, bits)
	}
	return b.newValue(KConst, t, ConstImm{Bits: out})
}

// FoldCompare evaluates a comparison over two constant bit patterns of
// type t without appending the result anywhere.
func (b *Builder) FoldCompare(rel Relation, t *types.Type, unsigned, unordered bool, lhsBits, rhsBits uint64) *Value {
	width := widthOf(t.Kind)
	var result bool
	if t.Kind.IsFloat() {
		result = evalCompareFloat(rel, unordered, width, lhsBits, rhsBits)
	} else {
		result = evalCompareInt(rel, unsigned, width, lhsBits, rhsBits)
	}
	bits := uint64(0)
	if result {
		bits = 1
	}
	i1 := b.ctx.Types.Primitive(types.Int1)
	return b.newValue(KConst, i1, ConstImm{Bits: bits})
}

// ReplaceInPlace swaps old for replacement at old's position within its
// block, rewiring every use edge, without disturbing the terminator
// invariant (used by passes that run after the block is already
// finished, unlike Builder's append-based construction API).
func (b *Builder) ReplaceInPlace(old, replacement *Value) {
	replacement.Block = old.Block
	if old.Block != nil {
		for i, v := range old.Block.values {
			if v == old {
				old.Block.values[i] = replacement
				break
			}
		}
		old.Block.MarkDirty()
	}
	b.ReplaceAllUses(old, replacement)
	b.removeOperand(old)
}

// ConstNoAppend builds a constant Value without appending it anywhere,
// for passes that splice a replacement into an already-finished block
// (transform.Specialization).
func (b *Builder) ConstNoAppend(t *types.Type, bits uint64) *Value {
	if t.Kind.IsInteger() {
		bits &= maskFor(widthOf(t.Kind))
	}
	return b.newValue(KConst, t, ConstImm{Bits: bits})
}

// RemoveValue deletes v from its block, dropping its operand edges
// symmetrically. v must have no remaining uses and must not be a φ-node still
// referenced by another block's incoming edges.
func (b *Builder) RemoveValue(v *Value) {
	blk := v.Block
	if blk == nil {
		return
	}
	for i, cur := range blk.values {
		if cur == v {
			blk.values = append(blk.values[:i], blk.values[i+1:]...)
			break
		}
	}
	b.removeOperand(v)
	blk.MarkDirty()
}

// ReplaceAllUses rewrites every operand edge pointing at old to point at
// replacement instead, preserving symmetric use-edge bookkeeping.
func (b *Builder) ReplaceAllUses(old, replacement *Value) {
	for user := range old.users {
		n := old.users[user]
		for i, op := range user.operand {
			if op == old {
				user.operand[i] = replacement
			}
		}
		replacement.users[user] += n
	}
	old.users = make(map[*Value]int)
}

// append places v at the tail of the current block, enforcing invariant 3
// (exactly one terminator, at the tail): appending after a terminator is
// an implementation bug and panics.
func (b *Builder) append(v *Value) *Value {
	if b.cur.Terminator() != nil {
		panic("ir: append after block terminator: " + b.cur.Name)
	}
	v.Block = b.cur
	b.cur.values = append(b.cur.values, v)
	b.cur.MarkDirty()
	return v
}

func (b *Builder) checkType(cond bool, detail string) {
	if !cond {
		panic(diag.TypeError(diag.PhaseBuild, b.method.Name(), detail))
	}
}

// Const creates a typed primitive literal. bits is the raw bit pattern:
// zero/sign-extended for integers, IEEE-754 bits for floats.
func (b *Builder) Const(t *types.Type, bits uint64) *Value {
	b.checkType(t.Kind.IsInteger() || t.Kind.IsFloat(), "Const requires a primitive type")
	if t.Kind.IsInteger() {
		bits &= maskFor(widthOf(t.Kind))
	}
	return b.append(b.newValue(KConst, t, ConstImm{Bits: bits}))
}

// Null creates a null value; for View types this lowers conceptually to
// (pointer=0, length=0) at the backend, not a single zero scalar.
func (b *Builder) Null(t *types.Type) *Value {
	return b.append(b.newValue(KNull, t, nil))
}

// Poison creates a dedicated null-like Poison value.
func (b *Builder) Poison(t *types.Type) *Value {
	return b.append(b.newValue(KPoison, t, nil))
}

// StringConst interns a string literal for this method.
func (b *Builder) StringConst(s string, id int) *Value {
	strTy := b.ctx.Types.PointerTo(types.Constant, b.ctx.Types.Primitive(types.Int8))
	return b.append(b.newValue(KStringConst, strTy, StringImm{Value: s, ID: id}))
}

// Binary creates (or constant-folds) a binary arithmetic/bitwise op. If
// both operands are KConst, the builder evaluates the operation and
// returns a fresh primitive constant instead of an op node.
func (b *Builder) Binary(op BinOp, lhs, rhs *Value, unsigned, fastMath bool) *Value {
	b.checkType(lhs.Type == rhs.Type, "binary operand types must match")
	resultType := lhs.Type

	if lc, ok := lhs.Imm.(ConstImm); ok {
		if rc, ok := rhs.Imm.(ConstImm); ok {
			return b.append(b.foldBinary(resultType, op, unsigned, lc.Bits, rc.Bits))
		}
	}
	return b.append(b.newValue(KBinary, resultType, BinaryImm{Op: op, Unsigned: unsigned, FastMath: fastMath}, lhs, rhs))
}

func (b *Builder) foldBinary(t *types.Type, op BinOp, unsigned bool, a, bBits uint64) *Value {
	width := widthOf(t.Kind)
	if t.Kind.IsFloat() {
		bits := evalBinaryFloat(op, width, a, bBits)
		return b.newValue(KConst, t, ConstImm{Bits: bits})
	}
	result, poison := evalBinaryInt(op, unsigned, width, a, bBits)
	if poison {
		return b.newValue(KPoison, t, nil)
	}
	return b.newValue(KConst, t, ConstImm{Bits: result})
}

// Unary creates (or constant-folds) a unary arithmetic op.
func (b *Builder) Unary(op UnaryOp, operand *Value, fastMath bool) *Value {
	if c, ok := operand.Imm.(ConstImm); ok {
		width := widthOf(operand.Type.Kind)
		var bits uint64
		if operand.Type.Kind.IsFloat() {
			bits = evalUnaryFloat(op, width, c.Bits)
		} else {
			bits = evalUnaryInt(op, width, c.Bits)
		}
		return b.append(b.newValue(KConst, operand.Type, ConstImm{Bits: bits}))
	}
	return b.append(b.newValue(KUnary, operand.Type, UnaryImm{Op: op, FastMath: fastMath}, operand))
}

// Compare creates (or constant-folds) a comparison, producing an Int1
// result.
func (b *Builder) Compare(rel Relation, lhs, rhs *Value, unsigned, unordered bool) *Value {
	b.checkType(lhs.Type == rhs.Type, "compare operand types must match")
	i1 := b.ctx.Types.Primitive(types.Int1)

	if lc, ok := lhs.Imm.(ConstImm); ok {
		if rc, ok := rhs.Imm.(ConstImm); ok {
			var result bool
			width := widthOf(lhs.Type.Kind)
			if lhs.Type.Kind.IsFloat() {
				result = evalCompareFloat(rel, unordered, width, lc.Bits, rc.Bits)
			} else {
				result = evalCompareInt(rel, unsigned, width, lc.Bits, rc.Bits)
			}
			bits := uint64(0)
			if result {
				bits = 1
			}
			return b.append(b.newValue(KConst, i1, ConstImm{Bits: bits}))
		}
	}
	return b.append(b.newValue(KCompare, i1, CompareImm{Relation: rel, Unsigned: unsigned, Unordered: unordered}, lhs, rhs))
}

// Convert performs a numeric conversion (widening/narrowing/int<->float).
func (b *Builder) Convert(target *types.Type, v *Value) *Value {
	return b.append(b.newValue(KConvert, target, nil, v))
}

// Cast performs a pointer cast or a bit-preserving float<->int reinterpret.
func (b *Builder) Cast(target *types.Type, v *Value, bitPreserving bool) *Value {
	return b.append(b.newValue(KCast, target, CastImm{BitPreserving: bitPreserving}, v))
}

// Load reads a value of type elemType through ptr.
func (b *Builder) Load(ptr *Value, elemType *types.Type, space types.AddressSpace) *Value {
	b.checkType(ptr.Type.Kind == types.Pointer, "Load requires a pointer operand")
	return b.append(b.newValue(KLoad, elemType, MemImm{Space: space}, ptr))
}

// Store writes val through ptr. Stores always count as side effects:
// dead-code elimination never removes them.
func (b *Builder) Store(ptr, val *Value, space types.AddressSpace) *Value {
	b.checkType(ptr.Type.Kind == types.Pointer, "Store requires a pointer operand")
	voidTy := b.ctx.Types.Primitive(types.Void)
	return b.append(b.newValue(KStore, voidTy, MemImm{Space: space}, ptr, val))
}

// Alloca reserves a local slot of type t.
func (b *Builder) Alloca(t *types.Type, space types.AddressSpace) *Value {
	ptrTy := b.ctx.Types.PointerTo(space, t)
	return b.append(b.newValue(KAlloca, ptrTy, MemImm{Space: space}))
}

// MemBarrier inserts a memory fence.
func (b *Builder) MemBarrier() *Value {
	voidTy := b.ctx.Types.Primitive(types.Void)
	return b.append(b.newValue(KMemBarrier, voidTy, MemImm{}))
}

// GetField reads struct field index i out of base (a struct-typed value,
// not a pointer). Views are addressable as a two-field aggregate: index 0
// is the base pointer, index 1 the length.
func (b *Builder) GetField(base *Value, index int) *Value {
	if base.Type.Kind == types.View {
		b.checkType(index == 0 || index == 1, "view field index must be 0 (ptr) or 1 (len)")
		fieldType := b.ctx.Types.PointerTo(base.Type.Space, base.Type.Elem)
		if index == 1 {
			fieldType = b.ctx.Types.Primitive(types.Int64)
		}
		return b.append(b.newValue(KGetField, fieldType, FieldImm{Index: index}, base))
	}
	b.checkType(base.Type.Kind == types.Struct, "GetField requires a struct operand")
	fieldType := base.Type.Fields[index]
	return b.append(b.newValue(KGetField, fieldType, FieldImm{Index: index}, base))
}

// SetField returns a new struct value with field index i replaced by val
// (SSA: structs are immutable values, not memory).
func (b *Builder) SetField(base, val *Value, index int) *Value {
	b.checkType(base.Type.Kind == types.Struct, "SetField requires a struct operand")
	return b.append(b.newValue(KSetField, base.Type, FieldImm{Index: index}, base, val))
}

// LoadFieldAddress computes the address of field index i within the
// struct pointed to by basePtr. When the field's ABI offset is zero, the
// backend aliases the source pointer instead of emitting an add; that
// optimization lives in the backend, not here, since it depends on the
// target ABI.
func (b *Builder) LoadFieldAddress(basePtr *Value, index int) *Value {
	b.checkType(basePtr.Type.Kind == types.Pointer, "LoadFieldAddress requires a pointer operand")
	b.checkType(basePtr.Type.Elem.Kind == types.Struct, "LoadFieldAddress requires a pointer-to-struct")
	fieldTy := basePtr.Type.Elem.Fields[index]
	resultTy := b.ctx.Types.PointerTo(basePtr.Type.Space, fieldTy)
	return b.append(b.newValue(KLoadFieldAddress, resultTy, FieldImm{Index: index}, basePtr))
}

// AtomicRMW performs a generic read-modify-write atomic op.
func (b *Builder) AtomicRMW(op AtomicOp, ptr, val *Value, space types.AddressSpace) *Value {
	b.checkType(ptr.Type.Kind == types.Pointer, "AtomicRMW requires a pointer operand")
	return b.append(b.newValue(KAtomicRMW, val.Type, AtomicRMWImm{Op: op, Space: space}, ptr, val))
}

// AtomicCAS performs compare-and-swap: *ptr is set to newVal iff it
// currently equals cmp; returns the value observed at ptr before the op.
func (b *Builder) AtomicCAS(ptr, cmp, newVal *Value, space types.AddressSpace) *Value {
	b.checkType(ptr.Type.Kind == types.Pointer, "AtomicCAS requires a pointer operand")
	return b.append(b.newValue(KAtomicCAS, cmp.Type, AtomicCASImm{Space: space}, ptr, cmp, newVal))
}

// Call emits a Call node referencing callee.
func (b *Builder) Call(callee *Method, args []*Value, sideEffects bool) *Value {
	v := b.newValue(KCall, callee.Declaration.ReturnType, CallImm{Callee: callee, SideEffects: sideEffects})
	for _, a := range args {
		b.addOperand(v, a)
	}
	return b.append(v)
}

// Intrinsic emits a dedicated node for a recognized device intrinsic.
func (b *Builder) Intrinsic(t *types.Type, imm IntrinsicImm, operands ...*Value) *Value {
	if imm.Op == WarpShuffle && imm.Width > 32 {
		imm.Width = 32 // sub-warp widths clamp to the warp size
	}
	return b.append(b.newValue(KIntrinsic, t, imm, operands...))
}

// Phi creates a φ-node of type t with no incoming edges yet; use
// AddIncoming to wire predecessors. φ-nodes must be the first values in
// their block.
func (b *Builder) Phi(t *types.Type) *Value {
	if len(b.cur.values) > 0 {
		b.checkType(b.cur.values[len(b.cur.values)-1].Kind == KPhi || allPhisSoFar(b.cur),
			"phi must appear at the head of a block")
	}
	return b.append(b.newValue(KPhi, t, &phiEdges{}))
}

func allPhisSoFar(blk *Block) bool {
	for _, v := range blk.values {
		if v.Kind != KPhi {
			return false
		}
	}
	return true
}

// InsertPhi creates a φ-node of type t and splices it at the head of
// blk's existing values (after any φs already there), for passes that
// introduce new φs into an already-finished block (transform.Mem2Reg)
// rather than during initial construction where Phi enforces insertion
// order via the current block cursor.
func (b *Builder) InsertPhi(blk *Block, t *types.Type) *Value {
	v := &Value{ID: b.ctx.NextValueID(), Type: t, Block: blk, Kind: KPhi, Imm: &phiEdges{}, users: make(map[*Value]int)}
	head := 0
	for head < len(blk.values) && blk.values[head].Kind == KPhi {
		head++
	}
	blk.values = append(blk.values, nil)
	copy(blk.values[head+1:], blk.values[head:])
	blk.values[head] = v
	blk.MarkDirty()
	return v
}

// phiEdges tracks (predecessor block, incoming value) pairs for a φ-node.
type phiEdges struct {
	preds []*Block
	vals  []*Value
}

// PhiIncoming returns the (predecessor, value) pairs of a φ-node, in
// insertion order.
func PhiIncoming(phi *Value) (preds []*Block, vals []*Value) {
	e := phi.Imm.(*phiEdges)
	return e.preds, e.vals
}

// AddIncoming wires one incoming edge into a φ-node.
func (b *Builder) AddIncoming(phi *Value, pred *Block, val *Value) {
	b.checkType(phi.Type == val.Type, "phi incoming value type mismatch")
	e := phi.Imm.(*phiEdges)
	e.preds = append(e.preds, pred)
	e.vals = append(e.vals, val)
	b.addOperand(phi, val)
}

// Br places an unconditional branch terminator.
func (b *Builder) Br(target *Block) *Value {
	voidTy := b.ctx.Types.Primitive(types.Void)
	return b.append(b.newValue(KBr, voidTy, SwitchImm{Default: target}))
}

// CondBr places a conditional branch terminator.
func (b *Builder) CondBr(cond *Value, ifTrue, ifFalse *Block) *Value {
	b.checkType(cond.Type.Kind == types.Int1, "CondBr condition must be i1")
	voidTy := b.ctx.Types.Primitive(types.Void)
	return b.append(b.newValue(KCondBr, voidTy, SwitchImm{Targets: []*Block{ifTrue, ifFalse}}, cond))
}

// Switch places a multi-way branch terminator.
func (b *Builder) Switch(val *Value, cases []int64, targets []*Block, def *Block) *Value {
	b.checkType(len(cases) == len(targets), "Switch cases/targets length mismatch")
	voidTy := b.ctx.Types.Primitive(types.Void)
	return b.append(b.newValue(KSwitch, voidTy, SwitchImm{Cases: cases, Targets: targets, Default: def}, val))
}

// Ret places a return terminator. val is nil for void methods.
func (b *Builder) Ret(val *Value) *Value {
	voidTy := b.ctx.Types.Primitive(types.Void)
	if val == nil {
		return b.append(b.newValue(KRet, voidTy, nil))
	}
	return b.append(b.newValue(KRet, voidTy, nil, val))
}

// Release flips the method's Dirty bit, then relinquishes the builder
// lock. It runs no simplification of its own; folding happens as values
// are built.
func (b *Builder) Release() {
	b.method.SetFlag(TFDirty)
	b.method.releaseBuilder()
	diag.Logger().Debug("builder released",
		zap.String("method", b.method.Name()))
}
