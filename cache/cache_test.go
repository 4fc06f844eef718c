package cache

import (
	"fmt"
	"testing"

	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/transform"
)

func compiledFixture(h ir.Handle) *CompiledKernel {
	return &CompiledKernel{Handle: h, Target: hostabi.TargetPTX, Symbol: "ILGPUKernel0", Source: "// ptx"}
}

func TestCacheReuse(t *testing.T) {
	// Compile the same (method, specialization) twice: one compilation,
	// second call returns the same target.
	c := New(nil)
	key := NewCompiledKey("M", transform.Spec{MaxGroupSize: 256})

	compiles := 0
	compile := func() (*CompiledKernel, error) {
		compiles++
		return compiledFixture("M"), nil
	}

	first, h1, err := c.GetOrCompile(key, compile)
	if err != nil {
		t.Fatalf("first GetOrCompile: %v", err)
	}
	second, h2, err := c.GetOrCompile(key, compile)
	if err != nil {
		t.Fatalf("second GetOrCompile: %v", err)
	}
	if compiles != 1 {
		t.Fatalf("compile count = %d, want 1", compiles)
	}
	if first != second {
		t.Fatalf("second lookup returned a different kernel")
	}
	h1.Release()
	h2.Release()
}

func TestExpiredEntryRecompiles(t *testing.T) {
	c := New(nil)
	key := NewCompiledKey("M", transform.Spec{})

	compiles := 0
	compile := func() (*CompiledKernel, error) {
		compiles++
		return compiledFixture("M"), nil
	}

	_, h, err := c.GetOrCompile(key, compile)
	if err != nil {
		t.Fatalf("GetOrCompile: %v", err)
	}
	h.Release()

	_, h2, err := c.GetOrCompile(key, compile)
	if err != nil {
		t.Fatalf("GetOrCompile after expiry: %v", err)
	}
	defer h2.Release()
	if compiles != 2 {
		t.Fatalf("compile count = %d, want 2 after the weak reference expired", compiles)
	}
}

func TestFailureNotMemoized(t *testing.T) {
	c := New(nil)
	key := NewCompiledKey("M", transform.Spec{})

	calls := 0
	failing := func() (*CompiledKernel, error) {
		calls++
		return nil, fmt.Errorf("driver rejected PTX")
	}
	if _, _, err := c.GetOrCompile(key, failing); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := c.GetOrCompile(key, failing); err == nil {
		t.Fatalf("expected error on retry")
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2: failures must not be cached", calls)
	}
	if len(c.compiled) != 0 {
		t.Fatalf("failure sentinel stored in the compiled map")
	}
}

func TestIncrementalGC(t *testing.T) {
	// Insert 128 distinct kernels, drop every referent, insert one more:
	// the compiled map must end up with exactly 1 live entry.
	c := New(nil)
	var holders []*Holder
	for i := 0; i < gcThreshold; i++ {
		h := ir.Handle(fmt.Sprintf("M%d", i))
		_, holder, err := c.GetOrCompile(NewCompiledKey(h, transform.Spec{}), func() (*CompiledKernel, error) {
			return compiledFixture(h), nil
		})
		if err != nil {
			t.Fatalf("GetOrCompile %d: %v", i, err)
		}
		holders = append(holders, holder)
	}
	for _, h := range holders {
		h.Release()
	}

	_, keep, err := c.GetOrCompile(NewCompiledKey("extra", transform.Spec{}), func() (*CompiledKernel, error) {
		return compiledFixture("extra"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompile extra: %v", err)
	}
	defer keep.Release()

	if live := c.LiveCompiled(); live != 1 {
		t.Fatalf("live entries = %d, want 1", live)
	}
}

func TestGCSweepCompacts(t *testing.T) {
	// Drive the map to a sweep boundary with dead entries: the sweep must
	// physically shrink the map, not just mark entries dead.
	c := New(nil)
	for i := 0; i < gcThreshold-1; i++ {
		h := ir.Handle(fmt.Sprintf("M%d", i))
		_, holder, err := c.GetOrCompile(NewCompiledKey(h, transform.Spec{}), func() (*CompiledKernel, error) {
			return compiledFixture(h), nil
		})
		if err != nil {
			t.Fatalf("GetOrCompile %d: %v", i, err)
		}
		holder.Release() // dead immediately
	}

	// The 128th insertion lands exactly on the threshold and sweeps.
	_, keep, err := c.GetOrCompile(NewCompiledKey("last", transform.Spec{}), func() (*CompiledKernel, error) {
		return compiledFixture("last"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompile last: %v", err)
	}
	defer keep.Release()

	c.mu.Lock()
	size := len(c.compiled)
	c.mu.Unlock()
	if size != 1 {
		t.Fatalf("map size after sweep = %d, want 1", size)
	}
}

func TestSpecializationEquality(t *testing.T) {
	min16 := uint32(16)
	min32 := uint32(32)
	cases := []struct {
		name string
		a, b transform.Spec
		eq   bool
	}{
		{"zero", transform.Spec{}, transform.Spec{}, true},
		{"same fields", transform.Spec{MaxGroupSize: 256, MinGroupSize: &min16, Flags: 1}, transform.Spec{MaxGroupSize: 256, MinGroupSize: &min16, Flags: 1}, true},
		{"different max", transform.Spec{MaxGroupSize: 128}, transform.Spec{MaxGroupSize: 256}, false},
		{"nil vs pinned min", transform.Spec{}, transform.Spec{MinGroupSize: &min16}, false},
		{"different min", transform.Spec{MinGroupSize: &min16}, transform.Spec{MinGroupSize: &min32}, false},
		{"different flags", transform.Spec{Flags: 1}, transform.Spec{Flags: 2}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Equal(tc.b); got != tc.eq {
				t.Fatalf("Equal = %v, want %v", got, tc.eq)
			}
			aKey := NewCompiledKey("M", tc.a)
			bKey := NewCompiledKey("M", tc.b)
			if (aKey == bKey) != tc.eq {
				t.Fatalf("key equality = %v, want %v", aKey == bKey, tc.eq)
			}
		})
	}
}

func TestLoadedTier(t *testing.T) {
	c := New(nil)
	ck := NewCompiledKey("M", transform.Spec{})
	compiled := compiledFixture("M")

	loads := 0
	load := func() (*Kernel, error) {
		loads++
		return &Kernel{Compiled: compiled, GroupSize: 256, MinGridSize: 4}, nil
	}
	key := LoadedKey{Compiled: ck, ImplicitGroupSize: 256}

	k1, h1, err := c.GetOrLoad(key, load)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	k2, h2, err := c.GetOrLoad(key, load)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	if loads != 1 {
		t.Fatalf("loads = %d, want 1", loads)
	}
	if k1 != k2 || k1.GroupSize != 256 || k1.MinGridSize != 4 {
		t.Fatalf("loaded tier returned inconsistent kernels")
	}
	h1.Release()
	h2.Release()

	// Distinct implicit group size is a distinct key.
	_, h3, err := c.GetOrLoad(LoadedKey{Compiled: ck, ImplicitGroupSize: 128}, load)
	if err != nil {
		t.Fatalf("GetOrLoad: %v", err)
	}
	defer h3.Release()
	if loads != 2 {
		t.Fatalf("loads = %d, want 2 for a different implicit group size", loads)
	}
}
