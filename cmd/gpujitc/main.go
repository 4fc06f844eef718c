// Command gpujitc compiles one of the built-in fixture kernels and prints
// the generated backend text, exercising the public API end to end.
//
// Usage:
//
//	gpujitc -kernel Kernels.VectorAdd -target ptx
//	gpujitc -list
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/wippyai/gpujit"
	"github.com/wippyai/gpujit/dump"
	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/internal/testkernels"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/transform"
	"github.com/wippyai/gpujit/types"
)

func main() {
	var (
		kernel    = flag.String("kernel", "Kernels.VectorAdd", "fixture kernel handle to compile")
		target    = flag.String("target", "ptx", "backend target: ptx or opencl")
		list      = flag.Bool("list", false, "list available fixture kernels and exit")
		showIR    = flag.Bool("ir", false, "print the IR dump instead of backend text")
		groupSize = flag.Uint("group-size", 0, "pin the specialization's max group size")
		verbose   = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	opts := gpujit.Options{}
	switch *target {
	case "ptx":
		opts.Target = hostabi.TargetPTX
	case "opencl":
		opts.Target = hostabi.TargetOpenCL
	default:
		fmt.Fprintf(os.Stderr, "unknown target %q\n", *target)
		os.Exit(2)
	}
	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		opts.Logger = logger
	}

	interner := types.NewInterner()
	resolver := testkernels.New(interner)
	opts.Types = interner
	compiler := gpujit.New(resolver, opts)

	if *list {
		handles := resolver.Handles()
		sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
		for _, h := range handles {
			fmt.Println(h)
		}
		return
	}

	spec := transform.Spec{}
	if *groupSize > 0 {
		spec.MaxGroupSize = uint32(*groupSize)
	}

	k, release, err := compiler.Compile(ir.Handle(*kernel), spec)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer release()

	if *showIR {
		m, ok := compiler.Context().Lookup(ir.Handle(*kernel))
		if !ok {
			fmt.Fprintln(os.Stderr, "kernel not found in context after compilation")
			os.Exit(1)
		}
		fmt.Print(dump.Emit(m))
		return
	}
	fmt.Printf("// %s -> %s (%s)\n", k.Handle, k.Symbol, k.Target)
	fmt.Print(k.Source)
}
