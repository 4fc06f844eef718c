package opencl

import (
	"strings"
	"testing"

	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

func TestGotoControlFlow(t *testing.T) {
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

	out, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	text := out.Text
	if out.Symbol != "ILGPUKernel" {
		t.Fatalf("symbol = %q, want ILGPUKernel", out.Symbol)
	}
	if !strings.Contains(text, "__kernel void ILGPUKernel(") {
		t.Fatalf("missing kernel entry:\n%s", text)
	}
	// Blocks render as labels, branches as gotos.
	if strings.Count(text, ":\n") < 3 {
		t.Fatalf("expected one label per block:\n%s", text)
	}
	if !strings.Contains(text, "if (") || !strings.Contains(text, "goto ") {
		t.Fatalf("conditional branch must render as if/goto:\n%s", text)
	}
	if !strings.Contains(text, "__global int* param0") {
		t.Fatalf("pointer param missing __global qualifier:\n%s", text)
	}
	if !strings.Contains(text, "return;") {
		t.Fatalf("missing return:\n%s", text)
	}
}

func TestPhiVariablesHoistedAndAssigned(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	ptrI32 := ctx.Types.PointerTo(types.Global, i32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Diamond"}, []*types.Type{ptrI32, i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	left := b.NewBlock("left")
	right := b.NewBlock("right")
	join := b.NewBlock("join")

	cond := b.Compare(ir.RelGT, b.Param(1), b.Const(i32, 0), false, false)
	b.CondBr(cond, left, right)

	b.SetBlock(left)
	lv := b.Binary(ir.Add, b.Param(1), b.Const(i32, 1), false, false)
	b.Br(join)
	b.SetBlock(right)
	rv := b.Binary(ir.Sub, b.Param(1), b.Const(i32, 1), false, false)
	b.Br(join)

	b.SetBlock(join)
	phi := b.Phi(i32)
	b.AddIncoming(phi, left, lv)
	b.AddIncoming(phi, right, rv)
	b.Store(b.Param(0), phi, types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	text := out.Text

	// The φ variable is declared exactly once, in the common dominator of
	// both incoming blocks (the entry block), and assigned at each
	// predecessor's tail.
	phiVar := "v" + strings.TrimPrefix(phi.String(), "%")
	if got := strings.Count(text, "int "+phiVar+";"); got != 1 {
		t.Fatalf("phi declaration count = %d, want 1 hoisted declaration:\n%s", got, text)
	}
	if got := strings.Count(text, phiVar+" = "); got != 2 {
		t.Fatalf("phi assignment count = %d, want one per predecessor:\n%s", got, text)
	}
	decl := strings.Index(text, "int "+phiVar+";")
	firstGoto := strings.Index(text, "goto ")
	if decl > firstGoto {
		t.Fatalf("phi declaration not hoisted above the branches:\n%s", text)
	}
}

func TestViewParamsSplitAndReassembled(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	view := ctx.Types.ViewOf(types.Global, i32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "ViewParam"}, []*types.Type{view})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	base := b.GetField(b.Param(0), 0)
	b.Store(base, b.Const(i32, 1), types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	text := out.Text
	if !strings.Contains(text, "param0_ptr") || !strings.Contains(text, "param0_len") {
		t.Fatalf("view param not split into scalars:\n%s", text)
	}
	if !strings.Contains(text, ".ptr = param0_ptr") {
		t.Fatalf("view not reassembled in the prologue:\n%s", text)
	}
}

func TestStructFieldsNamed(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	i64 := ctx.Types.Primitive(types.Int64)
	s := ctx.Types.StructOf(i32, i64)
	ptrS := ctx.Types.PointerTo(types.Global, s)
	ptrI64 := ctx.Types.PointerTo(types.Global, i64)

	m, err := ctx.CreateMethod(ir.Declaration{Handle: "StructUse"}, []*types.Type{ptrS, ptrI64})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	sv := b.Load(b.Param(0), s, types.Global)
	f1 := b.GetField(sv, 1)
	b.Store(b.Param(1), f1, types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	text := out.Text
	if !strings.Contains(text, "typedef struct {") {
		t.Fatalf("missing struct typedef:\n%s", text)
	}
	if !strings.Contains(text, "_f0;") || !strings.Contains(text, "_f1;") {
		t.Fatalf("struct fields must be named _f0, _f1:\n%s", text)
	}
	if !strings.Contains(text, "._f1;") {
		t.Fatalf("field access must go through the named field:\n%s", text)
	}
}

func TestAtomicsRender(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	ptrI32 := ctx.Types.PointerTo(types.Global, i32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Atomics"}, []*types.Type{ptrI32, i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	b.AtomicRMW(ir.AtomicAdd, b.Param(0), b.Param(1), types.Global)
	b.AtomicCAS(b.Param(0), b.Const(i32, 0), b.Param(1), types.Global)
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(out.Text, "atomic_add(") || !strings.Contains(out.Text, "atomic_cmpxchg(") {
		t.Fatalf("atomics not rendered:\n%s", out.Text)
	}
	if out.Version != "2.0" {
		t.Fatalf("version = %q, want 2.0 when compare-exchange is used", out.Version)
	}
}

func TestIntrinsicsRender(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	ptrI32 := ctx.Types.PointerTo(types.Global, i32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Indexing"}, []*types.Type{ptrI32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	idx := b.Intrinsic(i32, ir.IntrinsicImm{Op: ir.LocalIdxX})
	b.Store(b.Param(0), idx, types.Global)
	b.Intrinsic(ctx.Types.Primitive(types.Void), ir.IntrinsicImm{Op: ir.Barrier})
	b.Ret(nil)
	b.Release()

	out, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !strings.Contains(out.Text, "get_local_id(0)") {
		t.Fatalf("local index intrinsic not rendered:\n%s", out.Text)
	}
	if !strings.Contains(out.Text, "barrier(CLK_LOCAL_MEM_FENCE)") {
		t.Fatalf("barrier intrinsic not rendered:\n%s", out.Text)
	}
}

func TestDeterministicEmission(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	ptrI32 := ctx.Types.PointerTo(types.Global, i32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Det"}, []*types.Type{ptrI32, i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	sum := b.Binary(ir.Add, b.Param(1), b.Const(i32, 3), false, false)
	b.Store(b.Param(0), sum, types.Global)
	b.Ret(nil)
	b.Release()

	first, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("first Compile: %v", err)
	}
	second, err := Compile(m, types.NewOpenCLABI(8))
	if err != nil {
		t.Fatalf("second Compile: %v", err)
	}
	if first.Text != second.Text {
		t.Fatalf("same method compiled to different text")
	}
}
