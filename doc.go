// Package gpujit is a just-in-time compiler that translates kernel
// methods, identified by opaque handles and described by host bytecode,
// into GPU source/assembly text for multiple backends (NVIDIA PTX,
// OpenCL C), together with the kernel cache that memoizes compilation
// results.
//
// # Architecture Overview
//
// The library is organized into focused packages with distinct
// responsibilities:
//
//	gpujit/              Root package with the Compiler facade and Options
//	├── types/           Interned type DAG and per-target ABI layout
//	├── ir/              SSA values, basic blocks, IR context and builder
//	├── frontend/        Host bytecode → IR lifter with inlining
//	├── analysis/        Scope (RPO), dominators, liveness
//	├── transform/       Optimization passes and the fixed-point driver
//	├── backend/ptx/     Register allocation + PTX instruction emission
//	├── backend/opencl/  Variable allocation + OpenCL C statement emission
//	├── cache/           Two-tier weak-reference kernel cache with GC
//	├── dump/            IR textual dump format: emit and parse
//	├── diag/            Structured compiler errors and logging
//	└── hostabi/         Minimal contract the compiler needs from a host
//
// # Quick Start
//
// Compile a kernel to PTX:
//
//	compiler := gpujit.New(resolver, gpujit.Options{Target: hostabi.TargetPTX})
//	kernel, release, err := compiler.Compile("Kernels.VectorAdd", transform.Spec{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer release()
//	fmt.Println(kernel.Source)
//
// # Compilation Pipeline
//
// Three stages: the frontend lifts bytecode into SSA IR under an IR
// context, the transform driver runs the mandatory pass pipeline
// (inlining, CFG simplification, constant folding, dead-code
// elimination, mem2reg, specialization) to a fixed point, and a backend
// walks the final IR emitting target text. The kernel cache wraps the
// whole pipeline so repeated compilations of the same (method,
// specialization) pair are deduplicated.
//
// # Thread Safety
//
// A Compiler and its IR context are single-threaded: compile distinct
// methods in distinct Compilers to parallelize. The kernel cache is the
// sole shared structure and is safe for concurrent use.
package gpujit
