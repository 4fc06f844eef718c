package hostabi

import "github.com/wippyai/gpujit/types"

// The bytecode shape below is deliberately small: a managed-language
// compiler's real bytecode (MSIL-style) is an external collaborator;
// what the frontend needs from it is captured structurally
// by MethodCode, which lives in this package (not frontend) so Resolver
// can hand it back without an import cycle.

// Opcode enumerates the bytecode operations the lifter understands.
type Opcode int

const (
	OpConst Opcode = iota
	OpLoadParam
	OpLoadLocal
	OpStoreLocal
	OpBinary
	OpUnary
	OpCompare
	OpConvert
	OpCast
	OpLoad
	OpStore
	OpAlloca
	OpGetField
	OpSetField
	OpLoadFieldAddress
	OpAtomicRMW
	OpAtomicCAS
	OpCall
	OpCallIntrinsic
	OpBr
	OpCondBr
	OpRet
)

func (op Opcode) String() string {
	names := [...]string{
		"const", "loadparam", "loadlocal", "storelocal", "binary", "unary",
		"compare", "convert", "cast", "load", "store", "alloca", "getfield",
		"setfield", "loadfieldaddress", "atomicrmw", "atomiccas", "call",
		"callintrinsic", "br", "condbr", "ret",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "invalid"
}

// ConstImm is the payload for OpConst.
type ConstImm struct {
	Type *types.Type
	Bits uint64
}

// LocalImm is the payload for OpLoadParam/OpLoadLocal/OpStoreLocal.
type LocalImm struct {
	Index int
}

// BinaryImm is the payload for OpBinary.
type BinaryImm struct {
	Op       string // mirrors ir.BinOp.String()
	Unsigned bool
	FastMath bool
}

// UnaryImm is the payload for OpUnary.
type UnaryImm struct {
	Op string
}

// CompareImm is the payload for OpCompare.
type CompareImm struct {
	Relation  string
	Unsigned  bool
	Unordered bool
}

// ConvertImm is the payload for OpConvert.
type ConvertImm struct {
	Target *types.Type
}

// CastImm is the payload for OpCast: a pointer cast, or a bit-preserving
// float<->int reinterpret when BitPreserving is set.
type CastImm struct {
	Target        *types.Type
	BitPreserving bool
}

// MemImm is the payload for OpLoad/OpStore/OpAlloca.
type MemImm struct {
	Space types.AddressSpace
	Type  *types.Type // element type for Load/Alloca
}

// FieldImm is the payload for OpGetField/OpSetField/OpLoadFieldAddress.
type FieldImm struct {
	Index int
}

// AtomicImm is the payload for OpAtomicRMW/OpAtomicCAS.
type AtomicImm struct {
	Op    string
	Space types.AddressSpace
}

// CallImm is the payload for OpCall.
type CallImm struct {
	Callee string // method handle, resolved via hostabi.Resolver
	Argc   int
}

// IntrinsicImm is the payload for OpCallIntrinsic.
type IntrinsicImm struct {
	Name  string // e.g. "grid.dim.x", "warp.shuffle", "barrier", "math.sqrt"
	Argc  int
	Width int // sub-warp width, for shuffles
}

// BranchImm is the payload for OpBr.
type BranchImm struct {
	Target int // index into MethodCode.Blocks
}

// CondBranchImm is the payload for OpCondBr.
type CondBranchImm struct {
	IfTrue  int
	IfFalse int
}

// Inst is one bytecode instruction.
type Inst struct {
	Op  Opcode
	Imm any
}

// BlockCode is a straight-line run of instructions ending in a branch or
// return, the bytecode-level analogue of ir.Block.
type BlockCode struct {
	Name  string
	Insts []Inst
}

// MethodCode is what hostabi.Resolver hands the frontend for one kernel
// entry point. Blocks must be supplied in an order where every
// single-predecessor block is preceded by its one predecessor (the order
// a structured bytecode emitter naturally produces); blocks with more
// than one predecessor (joins and loop headers) get φ-nodes regardless
// of edge direction, so back-edges need no special ordering.
type MethodCode struct {
	Blocks     []BlockCode
	NumLocals  int
	LocalTypes []*types.Type
	ParamTypes []*types.Type
	RetType    *types.Type
}
