package transform

import (
	"sync"

	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// Spec carries the compile-time-known parameters a kernel launch pins
// down before codegen. Values bound here let Specialization substitute
// constants for the corresponding intrinsic queries.
type Spec struct {
	MaxGroupSize uint32
	MinGroupSize *uint32 // nil if not pinned
	Flags        uint32  // bit 0: shared-memory size override, bit 1: fast-math
}

const (
	FlagSharedMemOverride uint32 = 1 << iota
	FlagFastMath
)

// Equal reports structural equality.
func (s Spec) Equal(other Spec) bool {
	if s.MaxGroupSize != other.MaxGroupSize || s.Flags != other.Flags {
		return false
	}
	if (s.MinGroupSize == nil) != (other.MinGroupSize == nil) {
		return false
	}
	if s.MinGroupSize != nil && *s.MinGroupSize != *other.MinGroupSize {
		return false
	}
	return true
}

// pending stashes the Spec to apply on a method's next Specialization
// run; the transform driver itself is Spec-agnostic (most methods compile
// with no pinned specialization). Guarded by a mutex since distinct
// contexts may compile in parallel.
var (
	pendingMu sync.Mutex
	pending   = map[*ir.Method]Spec{}
)

// Bind records the specialization that should apply to m's next
// Specialization pass run.
func Bind(m *ir.Method, s Spec) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	pending[m] = s
}

// Unbind removes any specialization bound to m.
func Unbind(m *ir.Method) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	delete(pending, m)
}

func boundSpec(m *ir.Method) (Spec, bool) {
	pendingMu.Lock()
	defer pendingMu.Unlock()
	s, ok := pending[m]
	return s, ok
}

// Specialization substitutes the GroupDimX intrinsic with the bound
// Spec's MaxGroupSize. Spec.Flags and Spec.MinGroupSize are not used by
// this pass. With no Spec bound, or a zero MaxGroupSize, it is a no-op.
type Specialization struct{}

func (*Specialization) Name() string { return "Specialization" }

func (p *Specialization) Run(b *ir.Builder, scope *analysis.Scope) (bool, error) {
	s, ok := boundSpec(b.Method())
	if !ok || s.MaxGroupSize == 0 {
		return false, nil
	}
	changed := false
	i32 := b.Method().Context().Types.Primitive(types.Int32)
	for _, blk := range scope.Blocks() {
		for _, v := range blk.Values() {
			if v.Kind != ir.KIntrinsic {
				continue
			}
			imm := v.Imm.(ir.IntrinsicImm)
			switch imm.Op {
			case ir.GroupDimX:
				// Only the X dimension is pinned by Spec.MaxGroupSize; Y/Z
				// group-size queries are left for the backend/driver since
				// the specialization key carries just one group-size
				// scalar.
				folded := b.ConstNoAppend(i32, uint64(s.MaxGroupSize))
				b.ReplaceInPlace(v, folded)
				changed = true
			}
		}
	}
	return changed, nil
}
