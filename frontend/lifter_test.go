package frontend

import (
	"errors"
	"testing"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/internal/testkernels"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

func lift(t *testing.T, handle ir.Handle) (*ir.Context, *ir.Method) {
	t.Helper()
	ctx := ir.NewContext()
	resolver := testkernels.New(ctx.Types)
	info, err := resolver.Resolve(handle)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	l := NewLifter(ctx, resolver)
	m, b, err := l.Lift(ir.Declaration{
		Handle:     info.Handle,
		ReturnType: info.RetType,
		Source:     info.Source,
		Flags:      info.Flags,
	}, info.Code)
	if b != nil {
		b.Release()
	}
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	return ctx, m
}

func TestLiftVectorAddStraightLine(t *testing.T) {
	_, m := lift(t, "Kernels.VectorAdd")
	if len(m.Blocks()) != 1 {
		t.Fatalf("blocks = %d, want 1", len(m.Blocks()))
	}
	var loads, stores, phis int
	for _, v := range m.Entry.Values() {
		switch v.Kind {
		case ir.KLoad:
			loads++
		case ir.KStore:
			stores++
		case ir.KPhi:
			phis++
		}
	}
	if loads != 2 || stores != 1 || phis != 0 {
		t.Fatalf("loads/stores/phis = %d/%d/%d, want 2/1/0", loads, stores, phis)
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestLiftDiamondPlacesOnePhi(t *testing.T) {
	_, m := lift(t, "Kernels.Diamond")
	var phis int
	var joinPhi *ir.Value
	for _, blk := range m.Blocks() {
		for _, v := range blk.Values() {
			if v.Kind == ir.KPhi {
				phis++
				joinPhi = v
			}
		}
	}
	if phis != 1 {
		t.Fatalf("phis = %d, want exactly 1 at the join", phis)
	}
	preds, vals := ir.PhiIncoming(joinPhi)
	if len(preds) != 2 || len(vals) != 2 {
		t.Fatalf("join phi has %d/%d incoming edges, want 2", len(preds), len(vals))
	}
	if err := ir.Verify(m); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestLiftConstFoldsAtBuild(t *testing.T) {
	_, m := lift(t, "Kernels.ConstFold")
	term := m.Entry.Terminator()
	if term == nil || term.Kind != ir.KRet {
		t.Fatalf("missing ret terminator")
	}
	ret := term.Operand(0)
	if ret.Kind != ir.KConst || ret.Imm.(ir.ConstImm).Bits != 16 {
		t.Fatalf("return operand = %v (%v), want const 16", ret.Kind, ret.Imm)
	}
	// The binary op nodes must not exist: the builder folded them away.
	for _, v := range m.Entry.Values() {
		if v.Kind == ir.KBinary {
			t.Fatalf("unfolded binary op survived construction")
		}
	}
}

func TestLiftInlinesSmallCallee(t *testing.T) {
	ctx, m := lift(t, "Kernels.SumSquare")
	for _, blk := range m.Blocks() {
		for _, v := range blk.Values() {
			if v.Kind == ir.KCall {
				t.Fatalf("small callee was not inlined")
			}
		}
	}
	// The callee itself is not registered: its body was spliced, not
	// compiled separately.
	if _, ok := ctx.Lookup("Kernels.Square"); ok {
		t.Fatalf("inlined callee should not be registered in the context")
	}
}

func TestLiftIntrinsics(t *testing.T) {
	_, m := lift(t, "Kernels.GroupSize")
	found := false
	for _, v := range m.Entry.Values() {
		if v.Kind == ir.KIntrinsic && v.Imm.(ir.IntrinsicImm).Op == ir.GroupDimX {
			found = true
		}
	}
	if !found {
		t.Fatalf("group.dim.x intrinsic not lowered to a dedicated node")
	}
}

type emptyResolver struct{}

func (emptyResolver) Resolve(h ir.Handle) (hostabi.MethodInfo, error) {
	return hostabi.MethodInfo{}, errors.New("unknown")
}

func liftRaw(t *testing.T, code hostabi.MethodCode) error {
	t.Helper()
	ctx := ir.NewContext()
	l := NewLifter(ctx, emptyResolver{})
	_, b, err := l.Lift(ir.Declaration{Handle: ir.Handle(t.Name())}, code)
	if b != nil {
		b.Release()
	}
	return err
}

func TestLiftEmptyStackPop(t *testing.T) {
	err := liftRaw(t, hostabi.MethodCode{
		Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
			{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "add"}},
		}}},
	})
	want := &diag.Error{Phase: diag.PhaseFrontend, Kind: diag.KindInvalidStackState}
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want InvalidStackState", err)
	}
}

func TestLiftUnknownOpcode(t *testing.T) {
	err := liftRaw(t, hostabi.MethodCode{
		Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
			{Op: hostabi.Opcode(999)},
		}}},
	})
	want := &diag.Error{Phase: diag.PhaseFrontend, Kind: diag.KindUnsupportedInstruction}
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want UnsupportedInstruction", err)
	}
}

func TestLiftUnknownCallTarget(t *testing.T) {
	err := liftRaw(t, hostabi.MethodCode{
		Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
			{Op: hostabi.OpCall, Imm: hostabi.CallImm{Callee: "Nowhere", Argc: 0}},
		}}},
	})
	want := &diag.Error{Phase: diag.PhaseFrontend, Kind: diag.KindUnsupportedCallTarget}
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want UnsupportedCallTarget", err)
	}
}

func TestLiftExternalCalleeRejected(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	resolver := fixedResolver{info: hostabi.MethodInfo{
		Handle:  "Ext",
		RetType: i32,
		Flags:   ir.FlagExternal,
		Code: hostabi.MethodCode{
			RetType: i32,
			Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
				{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 0}},
				{Op: hostabi.OpRet},
			}}},
		},
	}}
	l := NewLifter(ctx, resolver)
	_, b, err := l.Lift(ir.Declaration{Handle: "Caller"}, hostabi.MethodCode{
		Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
			{Op: hostabi.OpCall, Imm: hostabi.CallImm{Callee: "Ext", Argc: 0}},
			{Op: hostabi.OpRet},
		}}},
	})
	if b != nil {
		b.Release()
	}
	want := &diag.Error{Phase: diag.PhaseFrontend, Kind: diag.KindUnsupportedCallTarget}
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want UnsupportedCallTarget for an External callee", err)
	}
}

type fixedResolver struct {
	info hostabi.MethodInfo
}

func (r fixedResolver) Resolve(h ir.Handle) (hostabi.MethodInfo, error) {
	return r.info, nil
}

func TestLiftNoInliningEmitsCall(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	resolver := fixedResolver{info: hostabi.MethodInfo{
		Handle:  "Big",
		RetType: i32,
		Flags:   ir.FlagNoInlining,
		Code: hostabi.MethodCode{
			RetType: i32,
			Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
				{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 7}},
				{Op: hostabi.OpRet},
			}}},
		},
	}}
	l := NewLifter(ctx, resolver)
	m, b, err := l.Lift(ir.Declaration{Handle: "Caller", ReturnType: i32}, hostabi.MethodCode{
		RetType: i32,
		Blocks: []hostabi.BlockCode{{Insts: []hostabi.Inst{
			{Op: hostabi.OpCall, Imm: hostabi.CallImm{Callee: "Big", Argc: 0}},
			{Op: hostabi.OpRet},
		}}},
	})
	if b != nil {
		b.Release()
	}
	if err != nil {
		t.Fatalf("Lift: %v", err)
	}
	foundCall := false
	for _, v := range m.Entry.Values() {
		if v.Kind == ir.KCall {
			foundCall = true
		}
	}
	if !foundCall {
		t.Fatalf("NoInlining callee must go through a Call node")
	}
	// The callee was compiled recursively and registered.
	if _, ok := ctx.Lookup("Big"); !ok {
		t.Fatalf("callee not registered after recursive lift")
	}
}
