// Package ir implements the SSA-based intermediate representation:
// typed values, basic blocks, terminators, φ-nodes, and the IR context /
// builder that owns their lifetime.
package ir

import (
	"fmt"

	"github.com/wippyai/gpujit/types"
)

// ValueKind tags the variant a Value holds. Go has no sum types, so
// visitor dispatch becomes a switch over Kind and the per-kind payload
// lives in Imm.
type ValueKind int

const (
	KConst ValueKind = iota
	KParam
	KUnary
	KBinary
	KTernary
	KCompare
	KConvert
	KCast
	KLoad
	KStore
	KAlloca
	KMemBarrier
	KGetField
	KSetField
	KLoadFieldAddress
	KAtomicRMW
	KAtomicCAS
	KBr
	KCondBr
	KSwitch
	KRet
	KPhi
	KCall
	KIntrinsic
	KStringConst
	KNull
	KPoison
)

func (k ValueKind) String() string {
	names := [...]string{
		"const", "param", "unary", "binary", "ternary", "compare", "convert",
		"cast", "load", "store", "alloca", "membarrier", "getfield",
		"setfield", "loadfieldaddress", "atomicrmw", "atomiccas", "br",
		"condbr", "switch", "ret", "phi", "call", "intrinsic",
		"stringconst", "null", "poison",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "invalid"
}

// BinOp enumerates binary arithmetic/bitwise operator kinds.
type BinOp int

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr
	Min
	Max
)

func (op BinOp) String() string {
	names := [...]string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "shl", "shr", "min", "max"}
	if int(op) < len(names) {
		return names[op]
	}
	return "invalid"
}

// UnaryOp enumerates unary operator kinds.
type UnaryOp int

const (
	Neg UnaryOp = iota
	Not
	Abs
)

func (op UnaryOp) String() string {
	switch op {
	case Neg:
		return "neg"
	case Not:
		return "not"
	case Abs:
		return "abs"
	default:
		return "invalid"
	}
}

// Relation enumerates the six compare relations.
type Relation int

const (
	RelEQ Relation = iota
	RelNE
	RelLT
	RelLE
	RelGT
	RelGE
)

func (r Relation) String() string {
	names := [...]string{"eq", "ne", "lt", "le", "gt", "ge"}
	if int(r) < len(names) {
		return names[r]
	}
	return "invalid"
}

// AtomicOp enumerates the generic RMW atomic operations. CAS is a
// separate value kind (KAtomicCAS) since it has two value operands plus
// a comparand, not one.
type AtomicOp int

const (
	AtomicAdd AtomicOp = iota
	AtomicAnd
	AtomicOr
	AtomicXor
	AtomicExchange
	AtomicMin
	AtomicMax
)

// IntrinsicOp enumerates recognized device intrinsics.
type IntrinsicOp int

const (
	GridDimX IntrinsicOp = iota
	GridDimY
	GridDimZ
	GroupDimX
	GroupDimY
	GroupDimZ
	GroupIdxX
	GroupIdxY
	GroupIdxZ
	LocalIdxX
	LocalIdxY
	LocalIdxZ
	WarpShuffle
	Barrier
	MathSqrt
	MathSin
	MathCos
	MathExp
	MathLog
)

// BinaryImm is the payload for KBinary.
type BinaryImm struct {
	Op        BinOp
	Unsigned  bool // distinguishes signed/unsigned integer variants
	FastMath  bool
	Unordered bool // for Min/Max on floats: true selects minNumNaN/maxNumNaN semantics (always the default)
}

// UnaryImm is the payload for KUnary.
type UnaryImm struct {
	Op       UnaryOp
	FastMath bool
}

// TernaryImm is the payload for KTernary (select/fma style ops).
type TernaryImm struct {
	Name string // e.g. "select", "fma"
}

// CompareImm is the payload for KCompare.
type CompareImm struct {
	Relation  Relation
	Unsigned  bool
	Unordered bool // floating point unordered comparison variant
}

// CastImm is the payload for KCast.
type CastImm struct {
	BitPreserving bool // true: float<->int bitcast; false: pointer cast
}

// MemImm is the payload for KLoad/KStore/KAlloca/KMemBarrier.
type MemImm struct {
	Space    types.AddressSpace
	Volatile bool
}

// FieldImm is the payload for KGetField/KSetField/KLoadFieldAddress.
type FieldImm struct {
	Index int
}

// AtomicRMWImm is the payload for KAtomicRMW.
type AtomicRMWImm struct {
	Op    AtomicOp
	Space types.AddressSpace
}

// AtomicCASImm is the payload for KAtomicCAS.
type AtomicCASImm struct {
	Space types.AddressSpace
}

// SwitchImm is the payload for KSwitch.
type SwitchImm struct {
	Cases   []int64
	Targets []*Block
	Default *Block
}

// CallImm is the payload for KCall.
type CallImm struct {
	Callee      *Method
	SideEffects bool // Store/atomic/barrier reachable from the callee; never dead
}

// IntrinsicImm is the payload for KIntrinsic.
type IntrinsicImm struct {
	Op          IntrinsicOp
	ShuffleMode string // "up", "down", "xor", "idx" for WarpShuffle
	Width       int    // sub-warp width for WarpShuffle, clamped to 32
}

// StringImm is the payload for KStringConst.
type StringImm struct {
	Value string
	ID    int // index into the method's global string table
}

// ConstImm is the payload for KConst. Bits holds the raw bit pattern
// (sign/zero-extended for integers, IEEE-754 bits for floats) so folding
// can operate uniformly on uint64 and reinterpret per type.
type ConstImm struct {
	Bits uint64
}

// Value is an SSA node: a typed, uniquely-ided graph vertex with ordered
// operand (use) edges and a reverse use set.
type Value struct {
	ID      int
	Type    *types.Type
	Block   *Block
	Kind    ValueKind
	Imm     any // per-kind payload, see *Imm types above
	Name    string
	operand []*Value        // ordered list of operand edges
	users   map[*Value]int  // reverse edges with multiplicity (invariant 1)
}

// Operands returns a read-only view of this value's operand edges, in
// order. The returned slice must not be mutated; use the Builder to
// change operands.
func (v *Value) Operands() []*Value {
	return v.operand
}

// Operand returns the i-th operand.
func (v *Value) Operand(i int) *Value {
	return v.operand[i]
}

// NumOperands returns the number of operand edges.
func (v *Value) NumOperands() int {
	return len(v.operand)
}

// Uses returns the set of values that reference v as an operand.
func (v *Value) Uses() []*Value {
	out := make([]*Value, 0, len(v.users))
	for u := range v.users {
		out = append(out, u)
	}
	return out
}

// NumUses returns the total number of use edges into v, counting
// multiplicity (a value used twice by the same user counts as 2).
func (v *Value) NumUses() int {
	n := 0
	for _, c := range v.users {
		n += c
	}
	return n
}

// IsTerminator reports whether v is one of the control-terminator kinds.
func (v *Value) IsTerminator() bool {
	switch v.Kind {
	case KBr, KCondBr, KSwitch, KRet:
		return true
	default:
		return false
	}
}

// HasSideEffects reports whether v must never be removed by dead-code
// elimination even with zero uses.
func (v *Value) HasSideEffects() bool {
	switch v.Kind {
	case KStore, KAtomicRMW, KAtomicCAS, KMemBarrier:
		return true
	case KCall:
		if imm, ok := v.Imm.(CallImm); ok {
			return imm.SideEffects
		}
		return true
	case KIntrinsic:
		if imm, ok := v.Imm.(IntrinsicImm); ok {
			return imm.Op == Barrier
		}
		return false
	default:
		return v.IsTerminator()
	}
}

func (v *Value) String() string {
	return fmt.Sprintf("%%%d", v.ID)
}
