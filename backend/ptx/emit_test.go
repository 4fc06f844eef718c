package ptx

import (
	"strings"
	"testing"

	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// buildVectorAdd hand-assembles c[idx] = a[idx] + b[idx] over global
// views, the shape the frontend produces for the scalar add kernel.
func buildVectorAdd(t *testing.T, ctx *ir.Context) *ir.Method {
	t.Helper()
	i32 := ctx.Types.Primitive(types.Int32)
	i64 := ctx.Types.Primitive(types.Int64)
	view := ctx.Types.ViewOf(types.Global, i32)
	ptrI32 := ctx.Types.PointerTo(types.Global, i32)

	m, err := ctx.CreateMethod(ir.Declaration{Handle: "VectorAdd"}, []*types.Type{i32, view, view, view})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	defer b.Release()

	elemAddr := func(viewParam int) *ir.Value {
		base := b.GetField(b.Param(viewParam), 0)
		baseInt := b.Cast(i64, base, false)
		idx := b.Convert(i64, b.Param(0))
		off := b.Binary(ir.Mul, idx, b.Const(i64, 4), false, false)
		sum := b.Binary(ir.Add, baseInt, off, false, false)
		return b.Cast(ptrI32, sum, false)
	}

	av := b.Load(elemAddr(1), i32, types.Global)
	bv := b.Load(elemAddr(2), i32, types.Global)
	sum := b.Binary(ir.Add, av, bv, false, false)
	b.Store(elemAddr(3), sum, types.Global)
	b.Ret(nil)
	return m
}

func TestVectorAddPTX(t *testing.T) {
	ctx := ir.NewContext()
	m := buildVectorAdd(t, ctx)

	out, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	text := out.Text

	if got := strings.Count(text, "ld.global.u32"); got != 2 {
		t.Fatalf("ld.global.u32 count = %d, want 2:\n%s", got, text)
	}
	if got := strings.Count(text, "add.s32"); got != 1 {
		t.Fatalf("add.s32 count = %d, want 1:\n%s", got, text)
	}
	if got := strings.Count(text, "st.global.u32"); got != 1 {
		t.Fatalf("st.global.u32 count = %d, want 1:\n%s", got, text)
	}
	if strings.Contains(text, "call") {
		t.Fatalf("unexpected call:\n%s", text)
	}
	if strings.Contains(text, "bra") {
		t.Fatalf("unexpected branch:\n%s", text)
	}
	if !strings.Contains(text, ".visible .entry "+out.Symbol) {
		t.Fatalf("missing entry directive for %s:\n%s", out.Symbol, text)
	}
	// Views arrive as split pointer + length params.
	if !strings.Contains(text, ".param .u64 param1_ptr") || !strings.Contains(text, ".param .u64 param1_len") {
		t.Fatalf("view param not split into pointer + length:\n%s", text)
	}
}

func TestDeterministicEmission(t *testing.T) {
	ctx := ir.NewContext()
	m := buildVectorAdd(t, ctx)

	first, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	second, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if first.Text != second.Text {
		t.Fatalf("same method compiled to different text")
	}
	if first.Symbol != second.Symbol {
		t.Fatalf("symbol not stable: %s vs %s", first.Symbol, second.Symbol)
	}
}

func TestNullViewLowersToPair(t *testing.T) {
	ctx := ir.NewContext()
	i64 := ctx.Types.Primitive(types.Int64)
	view := ctx.Types.ViewOf(types.Global, i64)
	ptrI64 := ctx.Types.PointerTo(types.Global, i64)

	m, err := ctx.CreateMethod(ir.Declaration{Handle: "NullView"}, []*types.Type{ptrI64})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	nv := b.Null(view)
	base := b.GetField(nv, 0)
	asInt := b.Cast(i64, base, false)
	b.Store(b.Param(0), asInt, types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(out.Text, "null view pointer") || !strings.Contains(out.Text, "null view length") {
		t.Fatalf("null view not lowered to a (pointer, length) pair:\n%s", out.Text)
	}
}

func TestZeroOffsetFieldAddressAliases(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	s := ctx.Types.StructOf(i32, i32)
	ptrS := ctx.Types.PointerTo(types.Global, s)

	m, err := ctx.CreateMethod(ir.Declaration{Handle: "FieldAddr"}, []*types.Type{ptrS, i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	f0 := b.LoadFieldAddress(b.Param(0), 0)
	f1 := b.LoadFieldAddress(b.Param(0), 1)
	b.Store(f0, b.Param(1), types.Global)
	b.Store(f1, b.Param(1), types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// Field 0 is at offset zero: its address aliases the base pointer with
	// no add. Field 1 needs exactly one add.
	if got := strings.Count(out.Text, "add.u64"); got != 1 {
		t.Fatalf("add.u64 count = %d, want 1 (zero-offset access must alias):\n%s", got, out.Text)
	}
}

func TestWarpShuffleMasks(t *testing.T) {
	build := func(width int) string {
		ctx := ir.NewContext()
		i32 := ctx.Types.Primitive(types.Int32)
		ptrI32 := ctx.Types.PointerTo(types.Global, i32)
		m, err := ctx.CreateMethod(ir.Declaration{Handle: "Shuffle"}, []*types.Type{ptrI32, i32})
		if err != nil {
			t.Fatalf("CreateMethod: %v", err)
		}
		b, err := ctx.CreateBuilder(m)
		if err != nil {
			t.Fatalf("CreateBuilder: %v", err)
		}
		sh := b.Intrinsic(i32, ir.IntrinsicImm{Op: ir.WarpShuffle, ShuffleMode: "down", Width: width}, b.Param(1), b.Const(i32, 1))
		b.Store(b.Param(0), sh, types.Global)
		b.Ret(nil)
		b.Release()

		out, err := Compile(m, types.PTXABI)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		return out.Text
	}

	full := build(32)
	if !strings.Contains(full, "shfl.sync.down.b32") || !strings.Contains(full, "0xffffffff") {
		t.Fatalf("full-warp shuffle missing full mask:\n%s", full)
	}

	sub := build(16)
	if !strings.Contains(sub, "0x0000ffff") {
		t.Fatalf("sub-warp shuffle (width 16) missing sub mask:\n%s", sub)
	}

	// Width above the warp size clamps to 32 (builder-enforced).
	over := build(64)
	if !strings.Contains(over, "0xffffffff") {
		t.Fatalf("over-wide shuffle must clamp to the full warp:\n%s", over)
	}
}

func TestPredicateAndBranches(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	ptrI32 := ctx.Types.PointerTo(types.Global, i32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Branchy"}, []*types.Type{ptrI32, i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	then := b.NewBlock("then")
	done := b.NewBlock("done")
	cond := b.Compare(ir.RelGT, b.Param(1), b.Const(i32, 0), false, false)
	b.CondBr(cond, then, done)
	b.SetBlock(then)
	b.Store(b.Param(0), b.Param(1), types.Global)
	b.Br(done)
	b.SetBlock(done)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(out.Text, "setp.gt.s32 %p0") {
		t.Fatalf("compare must materialize into a predicate register:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "@%p0 bra") {
		t.Fatalf("conditional branch must predicate on the compare result:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "ret;") {
		t.Fatalf("missing ret:\n%s", out.Text)
	}
}

func TestStructLoadDecomposes(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	i64 := ctx.Types.Primitive(types.Int64)
	s := ctx.Types.StructOf(i32, i64)
	ptrS := ctx.Types.PointerTo(types.Global, s)
	ptrI64 := ctx.Types.PointerTo(types.Global, i64)

	m, err := ctx.CreateMethod(ir.Declaration{Handle: "StructLoad"}, []*types.Type{ptrS, ptrI64})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	sv := b.Load(b.Param(0), s, types.Global)
	second := b.GetField(sv, 1)
	b.Store(b.Param(1), second, types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.PTXABI)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	// The struct load decomposes into per-field loads at ABI offsets:
	// field 0 at +0, field 1 at +8.
	if !strings.Contains(out.Text, "+0]") || !strings.Contains(out.Text, "+8]") {
		t.Fatalf("struct load not decomposed at ABI offsets:\n%s", out.Text)
	}
}
