// Package ptx implements the PTX backend: a linear register allocator plus
// an instruction emitter that walks simplified IR and produces PTX ISA
// 6.0+ assembly text.
package ptx

import (
	"fmt"

	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// RegKind tags the PTX register class a value is bound to.
type RegKind int

const (
	RegPred RegKind = iota
	RegInt32
	RegInt64
	RegFloat32
	RegFloat64
	RegLaneId
	RegNctaId
	RegNtId
)

func (k RegKind) ptxType() string {
	switch k {
	case RegPred:
		return ".pred"
	case RegInt32, RegLaneId, RegNctaId, RegNtId:
		return ".u32"
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

func (k RegKind) prefix() string {
	switch k {
	case RegPred:
		return "%p"
	case RegInt32:
		return "%r"
	case RegInt64:
		return "%rd"
	case RegFloat32:
		return "%f"
	case RegFloat64:
		return "%fd"
	case RegLaneId:
		return "%laneid"
	case RegNctaId:
		return "%nctaid"
	case RegNtId:
		return "%ntid"
	default:
		return "%r"
	}
}

// regKindFor selects the register class for a primitive type.
func regKindFor(t *types.Type) RegKind {
	switch t.Kind {
	case types.Int1:
		return RegPred
	case types.Int8, types.Int16, types.Int32:
		return RegInt32
	case types.Int64, types.Pointer:
		return RegInt64
	case types.Float32:
		return RegFloat32
	case types.Float64:
		return RegFloat64
	default:
		return RegInt32
	}
}

// Register is one allocated PTX register binding.
type Register struct {
	Kind RegKind
	Num  int
}

func (r Register) String() string {
	return fmt.Sprintf("%s%d", r.Kind.prefix(), r.Num)
}

// Binding is what a Value resolves to: either a single Register, or,
// for structure-typed values, a recursive tuple of child Bindings.
type Binding struct {
	Reg      Register
	IsStruct bool
	Fields   []Binding
}

// Allocator assigns fresh registers to IR values as they are defined and
// frees them once their live range ends. Allocation is linear: one
// counter per register kind, monotonically increasing, reused only after
// a value's live range ends.
type Allocator struct {
	live     *analysis.Liveness
	bindings map[*ir.Value]Binding
	counters map[RegKind]int
	free     map[RegKind][]int
}

// NewAllocator creates an Allocator driven by a precomputed liveness
// analysis (analysis.ComputeLiveness).
func NewAllocator(live *analysis.Liveness) *Allocator {
	return &Allocator{
		live:     live,
		bindings: make(map[*ir.Value]Binding),
		counters: make(map[RegKind]int),
		free:     make(map[RegKind][]int),
	}
}

// Bind assigns v a fresh (or recycled) register, recursing into struct
// fields. Void-typed values (e.g. Store, terminators) are not bound.
func (a *Allocator) Bind(v *ir.Value) Binding {
	if b, ok := a.bindings[v]; ok {
		return b
	}
	b := a.allocate(v.Type)
	a.bindings[v] = b
	return b
}

// Binding returns the previously allocated binding for v, if any.
func (a *Allocator) Binding(v *ir.Value) (Binding, bool) {
	b, ok := a.bindings[v]
	return b, ok
}

func (a *Allocator) allocate(t *types.Type) Binding {
	if t.Kind == types.Struct {
		fields := make([]Binding, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = a.allocate(f)
		}
		return Binding{IsStruct: true, Fields: fields}
	}
	if t.Kind == types.View {
		// A view is a (pointer, length) pair, the same tuple-of-registers
		// treatment as a two-field struct.
		return Binding{IsStruct: true, Fields: []Binding{
			{Reg: Register{Kind: RegInt64, Num: a.allocNum(RegInt64)}},
			{Reg: Register{Kind: RegInt64, Num: a.allocNum(RegInt64)}},
		}}
	}
	kind := regKindFor(t)
	return Binding{Reg: Register{Kind: kind, Num: a.allocNum(kind)}}
}

func (a *Allocator) allocNum(kind RegKind) int {
	if free := a.free[kind]; len(free) > 0 {
		n := free[len(free)-1]
		a.free[kind] = free[:len(free)-1]
		return n
	}
	n := a.counters[kind]
	a.counters[kind]++
	return n
}

// ReleaseIfDead frees v's register(s) back to the pool when its live
// range ends at position pos within blk.
func (a *Allocator) ReleaseIfDead(v *ir.Value, pos int) {
	if !a.live.DiesAt(v, pos) {
		return
	}
	b, ok := a.bindings[v]
	if !ok {
		return
	}
	a.releaseBinding(b)
}

func (a *Allocator) releaseBinding(b Binding) {
	if b.IsStruct {
		for _, f := range b.Fields {
			a.releaseBinding(f)
		}
		return
	}
	a.free[b.Reg.Kind] = append(a.free[b.Reg.Kind], b.Reg.Num)
}

// Declarations renders the `.reg` declaration lines for every register
// kind this allocator actually used, one PTX directive per kind covering
// its full allocated range (PTX requires registers be declared before
// use; the emitter declares once at their peak count rather than per
// instruction).
func (a *Allocator) Declarations() []string {
	var out []string
	order := []RegKind{RegPred, RegInt32, RegInt64, RegFloat32, RegFloat64}
	for _, k := range order {
		if n := a.counters[k]; n > 0 {
			out = append(out, fmt.Sprintf(".reg %s %s<%d>;", k.ptxType(), k.prefix(), n))
		}
	}
	return out
}
