package gpujit

import (
	"go.uber.org/zap"

	"github.com/wippyai/gpujit/backend/opencl"
	"github.com/wippyai/gpujit/backend/ptx"
	"github.com/wippyai/gpujit/cache"
	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/frontend"
	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/transform"
	"github.com/wippyai/gpujit/types"
)

// Options configures a Compiler. The zero value targets PTX with caching
// enabled and the default pass iteration cap.
type Options struct {
	// Target selects the backend.
	Target hostabi.Target

	// PointerSize overrides the OpenCL pointer width in bytes (4 or 8).
	// Zero means 8. PTX always uses 64-bit pointers.
	PointerSize int

	// MaxPassIterations caps the transform driver's fixed-point loop.
	// Zero means transform.DefaultMaxIterations.
	MaxPassIterations int

	// DisableCache bypasses the kernel cache entirely: every Compile call
	// runs the full pipeline.
	DisableCache bool

	// Clock is an optional monotonic clock for cache timing.
	Clock hostabi.Clock

	// Types supplies a pre-populated type interner, letting a resolver
	// build its parameter types before the Compiler exists. Nil means a
	// fresh interner.
	Types *types.Interner

	// Logger, when set, replaces the package-wide no-op logger.
	Logger *zap.Logger
}

// Compiler owns one IR context and drives the full pipeline: lift →
// transform → emit, memoized through the kernel cache. A Compiler is
// single-threaded; use one per concurrent compilation stream.
type Compiler struct {
	opts     Options
	backend  hostabi.Backend
	ctx      *ir.Context
	lifter   *frontend.Lifter
	resolver hostabi.Resolver
	cache    *cache.Cache // nil when disabled
}

// New creates a Compiler that resolves method handles through resolver.
func New(resolver hostabi.Resolver, opts Options) *Compiler {
	if opts.Logger != nil {
		diag.SetLogger(opts.Logger)
	}
	abi := types.PTXABI
	if opts.Target == hostabi.TargetOpenCL {
		ps := opts.PointerSize
		if ps == 0 {
			ps = 8
		}
		abi = types.NewOpenCLABI(ps)
	}
	in := opts.Types
	if in == nil {
		in = types.NewInterner()
	}
	c := &Compiler{
		opts:     opts,
		backend:  hostabi.Backend{Target: opts.Target, ABI: abi},
		ctx:      ir.NewContextWith(in),
		resolver: resolver,
	}
	c.lifter = frontend.NewLifter(c.ctx, resolver)
	if !opts.DisableCache {
		c.cache = cache.New(opts.Clock)
	}
	return c
}

// Context exposes the compiler's IR context, mainly for tests and the
// dump package.
func (c *Compiler) Context() *ir.Context { return c.ctx }

// Backend returns the target descriptor this compiler emits for.
func (c *Compiler) Backend() hostabi.Backend { return c.backend }

// Compile produces the backend text for handle under spec, going through
// the kernel cache when enabled. The returned release func drops the
// caller's strong reference to the cached entry; with the cache disabled
// it is a no-op.
func (c *Compiler) Compile(handle ir.Handle, spec transform.Spec) (*cache.CompiledKernel, func(), error) {
	if c.cache == nil {
		k, err := c.compile(handle, spec)
		if err != nil {
			return nil, nil, err
		}
		return k, func() {}, nil
	}
	k, holder, err := c.cache.GetOrCompile(cache.NewCompiledKey(handle, spec), func() (*cache.CompiledKernel, error) {
		return c.compile(handle, spec)
	})
	if err != nil {
		return nil, nil, err
	}
	return k, holder.Release, nil
}

// compile is the uncached pipeline: lift (once per context), run the
// pass pipeline, verify, and emit.
func (c *Compiler) compile(handle ir.Handle, spec transform.Spec) (*cache.CompiledKernel, error) {
	m, ok := c.ctx.Lookup(handle)
	if !ok {
		info, err := c.resolver.Resolve(handle)
		if err != nil {
			return nil, diag.New(diag.PhaseFrontend, diag.KindUnsupportedCallTarget).
				Method(string(handle)).Cause(err).Detail("handle does not resolve").Build()
		}
		var b *ir.Builder
		m, b, err = c.lifter.Lift(ir.Declaration{
			Handle:     info.Handle,
			ReturnType: info.RetType,
			Source:     info.Source,
			Flags:      info.Flags,
		}, info.Code)
		if b != nil {
			b.Release()
		}
		if err != nil {
			return nil, err
		}
	}

	if !m.Flags().Has(ir.TFTransformed) {
		transform.Bind(m, spec)
		err := transform.Run(c.ctx, m, c.opts.MaxPassIterations)
		transform.Unbind(m)
		if err != nil {
			return nil, err
		}
		if err := ir.Verify(m); err != nil {
			return nil, diag.New(diag.PhaseBackend, diag.KindInvalidCodeGeneration).
				Method(m.Name()).Cause(err).Detail("IR failed verification after transforms").Build()
		}
	}

	var symbol, source string
	switch c.opts.Target {
	case hostabi.TargetOpenCL:
		out, err := opencl.Compile(m, c.backend.ABI)
		if err != nil {
			return nil, err
		}
		symbol, source = out.Symbol, out.Text
	default:
		out, err := ptx.Compile(m, c.backend.ABI)
		if err != nil {
			return nil, err
		}
		symbol, source = out.Symbol, out.Text
	}

	diag.Logger().Debug("kernel compiled",
		zap.String("handle", string(handle)),
		zap.String("target", c.opts.Target.String()),
		zap.Int("bytes", len(source)))

	return &cache.CompiledKernel{
		Handle: handle,
		Spec:   spec,
		Target: c.opts.Target,
		Symbol: symbol,
		Source: source,
	}, nil
}

// Load associates a compiled kernel with a concrete implicit group size
// through the second cache tier. load performs the actual device load
// (an external collaborator); its result is memoized alongside the
// launch bounds it reports.
func (c *Compiler) Load(k *cache.CompiledKernel, implicitGroupSize uint32, load func() (*cache.Kernel, error)) (*cache.Kernel, func(), error) {
	if c.cache == nil {
		kernel, err := load()
		if err != nil {
			return nil, nil, err
		}
		return kernel, func() {}, nil
	}
	key := cache.LoadedKey{
		Compiled:          cache.NewCompiledKey(k.Handle, k.Spec),
		ImplicitGroupSize: implicitGroupSize,
	}
	kernel, holder, err := c.cache.GetOrLoad(key, load)
	if err != nil {
		return nil, nil, err
	}
	return kernel, holder.Release, nil
}
