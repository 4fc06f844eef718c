// Package diag provides the structured error type and logging used across
// every compiler stage.
package diag

import (
	"fmt"
	"strings"
)

// Phase identifies which compiler stage produced an error.
type Phase string

const (
	PhaseFrontend  Phase = "frontend"
	PhaseBuild     Phase = "build"
	PhaseTransform Phase = "transform"
	PhaseBackend   Phase = "backend"
	PhaseCache     Phase = "cache"
)

// Kind categorizes an error within a phase.
type Kind string

const (
	KindNotSupported           Kind = "not_supported"
	KindInvalidCodeGeneration  Kind = "invalid_code_generation"
	KindTypeError              Kind = "type_error"
	KindDuplicateMethod        Kind = "duplicate_method"
	KindBuilderInUse           Kind = "builder_in_use"
	KindCompilationFailed      Kind = "compilation_failed"
	KindUnsupportedInstruction Kind = "unsupported_instruction"
	KindInvalidStackState      Kind = "invalid_stack_state"
	KindUnsupportedCallTarget  Kind = "unsupported_call_target"
)

// Error is the structured error type used throughout the compiler.
type Error struct {
	Phase  Phase
	Kind   Kind
	Method string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))
	if e.Method != "" {
		b.WriteString(" in ")
		b.WriteString(e.Method)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap allows errors.Is/errors.As to reach the cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Phase and Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Builder provides fluent structured-error construction.
type Builder struct {
	err Error
}

// New starts building an error for the given phase and kind.
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

func (b *Builder) Method(name string) *Builder {
	b.err.Method = name
	return b
}

func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) Detail(format string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(format, args...)
	} else {
		b.err.Detail = format
	}
	return b
}

func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for the fatal API-misuse kinds.

func DuplicateMethod(name string) *Error {
	return New(PhaseBuild, KindDuplicateMethod).Method(name).Detail("method already registered").Build()
}

func BuilderInUse(name string) *Error {
	return New(PhaseBuild, KindBuilderInUse).Method(name).Detail("another builder is live for this method").Build()
}

func TypeError(phase Phase, method, detail string) *Error {
	return New(phase, KindTypeError).Method(method).Detail(detail).Build()
}

func NotSupported(phase Phase, method, what string) *Error {
	return New(phase, KindNotSupported).Method(method).Detail(what).Build()
}

func InvalidCodeGeneration(method, detail string) *Error {
	return New(PhaseBackend, KindInvalidCodeGeneration).Method(method).Detail(detail).Build()
}

func UnsupportedInstruction(method string, opcode fmt.Stringer) *Error {
	return New(PhaseFrontend, KindUnsupportedInstruction).Method(method).
		Detail("unhandled opcode %s", opcode).Build()
}

func InvalidStackState(method, detail string) *Error {
	return New(PhaseFrontend, KindInvalidStackState).Method(method).Detail(detail).Build()
}

func UnsupportedCallTarget(method, callee string) *Error {
	return New(PhaseFrontend, KindUnsupportedCallTarget).Method(method).
		Detail("callee %s uses features not available on device", callee).Build()
}

func CompilationFailed(method string, cause error) *Error {
	return New(PhaseBackend, KindCompilationFailed).Method(method).Cause(cause).
		Detail("backend rejected generated code").Build()
}
