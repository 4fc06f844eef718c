package cache

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/transform"
)

// gcThreshold is the map size multiple that triggers a compacting sweep
// after an insertion.
const gcThreshold = 128

// CompiledKernel is the first-tier cache entry: the backend text produced
// for one (method, specialization) pair.
type CompiledKernel struct {
	Handle ir.Handle
	Spec   transform.Spec
	Target hostabi.Target
	Symbol string
	Source string // PTX assembly or OpenCL C text
}

// Kernel is the second-tier cache entry: a compiled kernel loaded onto a
// device with a concrete group size. Loading itself is an external
// collaborator; the cache only tracks the association.
type Kernel struct {
	Compiled    *CompiledKernel
	GroupSize   uint32
	MinGridSize uint32
}

// specKey flattens transform.Spec into a comparable map key. Two
// specializations compare equal iff all fields match.
type specKey struct {
	maxGroupSize uint32
	hasMin       bool
	minGroupSize uint32
	flags        uint32
}

func keyOfSpec(s transform.Spec) specKey {
	k := specKey{maxGroupSize: s.MaxGroupSize, flags: s.Flags}
	if s.MinGroupSize != nil {
		k.hasMin = true
		k.minGroupSize = *s.MinGroupSize
	}
	return k
}

// CompiledKey keys the first-tier map: (method_handle, specialization).
type CompiledKey struct {
	Handle ir.Handle
	spec   specKey
}

// NewCompiledKey builds the first-tier key for a method/specialization
// pair.
func NewCompiledKey(h ir.Handle, s transform.Spec) CompiledKey {
	return CompiledKey{Handle: h, spec: keyOfSpec(s)}
}

// LoadedKey keys the second-tier map: (compiled_key, implicit_group_size).
type LoadedKey struct {
	Compiled          CompiledKey
	ImplicitGroupSize uint32
}

type loadedEntry struct {
	ref         Ref
	groupSize   uint32
	minGridSize uint32
}

// Cache is the per-accelerator kernel cache: two keyed maps guarded by
// one mutex. Critical sections cover only map lookups,
// inserts, and GC sweeps; compile and load callbacks run outside the
// lock, so two concurrent misses for the same key may both compute and
// the second to insert wins.
type Cache struct {
	mu       sync.Mutex
	table    *Table
	compiled map[CompiledKey]Ref
	loaded   map[LoadedKey]loadedEntry

	clock hostabi.Clock // optional, timing only

	compileCount int // total cache-miss compilations, for tests and metrics
}

// New creates an enabled cache. clock may be nil.
func New(clock hostabi.Clock) *Cache {
	return &Cache{
		table:    NewTable(),
		compiled: make(map[CompiledKey]Ref),
		loaded:   make(map[LoadedKey]loadedEntry),
		clock:    clock,
	}
}

// CompileCount returns how many cache-miss compilations have run.
func (c *Cache) CompileCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compileCount
}

// GetOrCompile returns the live compiled kernel for key, or runs compile
// and inserts the result. The returned Holder is the caller's strong
// reference; releasing it lets the entry expire. Failures are never
// memoized: a failed compile leaves the map untouched and
// the next call retries.
func (c *Cache) GetOrCompile(key CompiledKey, compile func() (*CompiledKernel, error)) (*CompiledKernel, *Holder, error) {
	var start int64
	if c.clock != nil {
		start = c.clock.NowNanos()
	}

	c.mu.Lock()
	if ref, ok := c.compiled[key]; ok {
		if v, alive := ref.Get(); alive {
			c.mu.Unlock()
			diag.Logger().Debug("compiled cache hit", zap.String("handle", string(key.Handle)))
			k := v.(*kernelHolder)
			return k.kernel, k.holder.Retain(), nil
		}
	}
	c.mu.Unlock()

	k, err := compile()
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	c.compileCount++
	kh := &kernelHolder{kernel: k}
	holder, ref := c.table.Hold(kh)
	kh.holder = holder
	c.compiled[key] = ref
	c.sweepCompiledLocked()
	c.mu.Unlock()

	if c.clock != nil {
		diag.Logger().Debug("compiled cache miss",
			zap.String("handle", string(key.Handle)),
			zap.Int64("elapsed_ns", c.clock.NowNanos()-start))
	}
	return k, holder, nil
}

// kernelHolder pairs the cached kernel with its own strong holder so a
// cache hit can hand out a retained reference.
type kernelHolder struct {
	kernel *CompiledKernel
	holder *Holder
}

// GetOrLoad returns the live loaded kernel for key, or runs load and
// inserts the result alongside its launch bounds.
func (c *Cache) GetOrLoad(key LoadedKey, load func() (*Kernel, error)) (*Kernel, *Holder, error) {
	c.mu.Lock()
	if entry, ok := c.loaded[key]; ok {
		if v, alive := entry.ref.Get(); alive {
			c.mu.Unlock()
			k := v.(*loadedHolder)
			return k.kernel, k.holder.Retain(), nil
		}
	}
	c.mu.Unlock()

	k, err := load()
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	lh := &loadedHolder{kernel: k}
	holder, ref := c.table.Hold(lh)
	lh.holder = holder
	c.loaded[key] = loadedEntry{ref: ref, groupSize: k.GroupSize, minGridSize: k.MinGridSize}
	c.sweepLoadedLocked()
	c.mu.Unlock()

	return k, holder, nil
}

type loadedHolder struct {
	kernel *Kernel
	holder *Holder
}

// sweepCompiledLocked compacts the first-tier map when its size reaches a
// multiple of the threshold: live entries are copied into a fresh map and
// the old one is dropped. Caller holds
// the mutex.
func (c *Cache) sweepCompiledLocked() {
	n := len(c.compiled)
	if n < gcThreshold || n%gcThreshold != 0 {
		return
	}
	fresh := make(map[CompiledKey]Ref, n)
	for k, ref := range c.compiled {
		if ref.Alive() {
			fresh[k] = ref
		}
	}
	diag.Logger().Debug("compiled cache sweep",
		zap.Int("before", n), zap.Int("after", len(fresh)))
	c.compiled = fresh
}

func (c *Cache) sweepLoadedLocked() {
	n := len(c.loaded)
	if n < gcThreshold || n%gcThreshold != 0 {
		return
	}
	fresh := make(map[LoadedKey]loadedEntry, n)
	for k, entry := range c.loaded {
		if entry.ref.Alive() {
			fresh[k] = entry
		}
	}
	c.loaded = fresh
}

// LiveCompiled counts first-tier entries whose referent is still held.
func (c *Cache) LiveCompiled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ref := range c.compiled {
		if ref.Alive() {
			n++
		}
	}
	return n
}
