package ir

import (
	"sync/atomic"

	"github.com/wippyai/gpujit/types"
)

// MethodFlags are immutable declaration-time flags.
type MethodFlags int

const (
	FlagNone MethodFlags = 1 << iota
	FlagNoInlining
	FlagAggressiveInlining
	FlagExternalDeclaration
	FlagExternal
)

func (f MethodFlags) Has(flag MethodFlags) bool { return f&flag != 0 }

// TransformFlags are mutable flags set by the pass driver.
// "Transformation flags (mutable)").
type TransformFlags int32

const (
	TFDirty TransformFlags = 1 << iota
	TFTransformed
)

func (f TransformFlags) Has(flag TransformFlags) bool { return f&flag != 0 }

// Handle is an opaque, stable identifier for a host-language method
//. The core treats it as an opaque
// comparable key; hostabi.Resolver is what turns one into bytecode.
type Handle string

// Declaration describes a method's static signature, independent of its
// IR body.
type Declaration struct {
	Handle     Handle
	ReturnType *types.Type
	Source     string // e.g. "Kernels.VectorAdd" for diagnostics
	Flags      MethodFlags
}

// Method bundles a declaration, its parameters, and the basic blocks
// reachable from its entry block.
type Method struct {
	Declaration Declaration
	Params      []*Value
	Entry       *Block
	context     *Context

	blocks    []*Block
	transform int32 // atomic TransformFlags

	builderOwner int32 // atomic: 0 = no builder, 1 = builder held
}

// Name returns the method's handle as a string, for diagnostics.
func (m *Method) Name() string { return string(m.Declaration.Handle) }

// Blocks returns every block created for this method so far, in creation
// order. Unreachable blocks may still appear here until GC runs; use
// analysis.Scope for the reachable subset.
func (m *Method) Blocks() []*Block { return m.blocks }

// Flags returns the current mutable transform flags.
func (m *Method) Flags() TransformFlags {
	return TransformFlags(atomic.LoadInt32(&m.transform))
}

// SetFlag ORs flag into the method's mutable flags.
func (m *Method) SetFlag(flag TransformFlags) {
	for {
		old := atomic.LoadInt32(&m.transform)
		next := old | int32(flag)
		if atomic.CompareAndSwapInt32(&m.transform, old, next) {
			return
		}
	}
}

// ClearFlag clears flag from the method's mutable flags.
func (m *Method) ClearFlag(flag TransformFlags) {
	for {
		old := atomic.LoadInt32(&m.transform)
		next := old &^ int32(flag)
		if atomic.CompareAndSwapInt32(&m.transform, old, next) {
			return
		}
	}
}

// Context returns the IR context that owns this method.
func (m *Method) Context() *Context { return m.context }

// CompactBlocks drops every block for which keep returns false from the
// method's block list and clears the dirty bit on the survivors. The
// entry block is always retained. The transform driver calls this after
// the pass pipeline converges, with reachability as the keep predicate.
func (m *Method) CompactBlocks(keep func(*Block) bool) {
	out := m.blocks[:0]
	for _, b := range m.blocks {
		if b == m.Entry || keep(b) {
			b.ClearDirty()
			out = append(out, b)
		}
	}
	m.blocks = out
}

func (m *Method) tryAcquireBuilder() bool {
	return atomic.CompareAndSwapInt32(&m.builderOwner, 0, 1)
}

func (m *Method) releaseBuilder() {
	atomic.StoreInt32(&m.builderOwner, 0)
}
