// Package hostabi defines the minimal contract the compiler needs from a
// host runtime. Everything else — device
// driver bindings, memory allocation, kernel launch, stream
// synchronization, debug-info extraction — is an external collaborator
// outside this module's scope.
package hostabi

import (
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// Target names which backend a Backend handle compiles for.
type Target int

const (
	TargetPTX Target = iota
	TargetOpenCL
)

func (t Target) String() string {
	if t == TargetPTX {
		return "ptx"
	}
	return "opencl"
}

// Backend names the compilation target and carries its ABI descriptor.
type Backend struct {
	Target Target
	ABI    *types.ABI
}

// ValueTypeDescriptor structurally describes a host value type the
// frontend needs to lower (field layout for structs, element type for
// arrays), independent of the host language's own reflection model.
type ValueTypeDescriptor struct {
	Type   *types.Type
	Fields []FieldDescriptor
}

// FieldDescriptor names one field of a ValueTypeDescriptor.
type FieldDescriptor struct {
	Name string
	Type *types.Type
}

// MethodInfo is what a Resolver returns for a kernel entry point: its
// typed bytecode, parameter types, and any value-type descriptors the
// method body touches.
type MethodInfo struct {
	Handle     ir.Handle
	Source     string
	Code       MethodCode
	ParamTypes []*types.Type
	RetType    *types.Type
	Flags      ir.MethodFlags
	ValueTypes map[string]ValueTypeDescriptor
}

// Resolver turns a method handle into the information the frontend needs
// to lift it. A real implementation is backed by host-language reflection
// (out of scope here); tests and the CLI use an in-memory fixture
// resolver instead (internal/testkernels).
type Resolver interface {
	Resolve(h ir.Handle) (MethodInfo, error)
}

// Clock is an optional monotonic clock used for cache timing
//. Nil is a valid Clock: timing is advisory only.
type Clock interface {
	NowNanos() int64
}
