// Package testkernels provides an in-memory hostabi.Resolver with small
// fixture kernels shared by package tests and the CLI driver. A real
// resolver is backed by host-language reflection; these fixtures stand in
// for it with hand-assembled bytecode.
package testkernels

import (
	"fmt"

	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// Resolver resolves the fixture kernel handles. Construct with the same
// type interner as the compiling context so types compare by pointer.
type Resolver struct {
	methods map[ir.Handle]hostabi.MethodInfo
}

// Handles every fixture kernel this resolver knows, for enumeration.
func (r *Resolver) Handles() []ir.Handle {
	out := make([]ir.Handle, 0, len(r.methods))
	for h := range r.methods {
		out = append(out, h)
	}
	return out
}

// Resolve implements hostabi.Resolver.
func (r *Resolver) Resolve(h ir.Handle) (hostabi.MethodInfo, error) {
	info, ok := r.methods[h]
	if !ok {
		return hostabi.MethodInfo{}, fmt.Errorf("testkernels: unknown handle %q", h)
	}
	return info, nil
}

// New builds the fixture set against in.
func New(in *types.Interner) *Resolver {
	i32 := in.Primitive(types.Int32)
	i64 := in.Primitive(types.Int64)
	viewI32 := in.ViewOf(types.Global, i32)
	ptrI32 := in.PointerTo(types.Global, i32)

	r := &Resolver{methods: make(map[ir.Handle]hostabi.MethodInfo)}

	// elementAddr pushes &view[idx] for the view in param viewIdx, using
	// the i32 index in param 0: base + idx*4 via pointer<->integer casts.
	elementAddr := func(viewIdx int) []hostabi.Inst {
		return []hostabi.Inst{
			{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: viewIdx}},
			{Op: hostabi.OpGetField, Imm: hostabi.FieldImm{Index: 0}},
			{Op: hostabi.OpCast, Imm: hostabi.CastImm{Target: i64}},
			{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 0}},
			{Op: hostabi.OpConvert, Imm: hostabi.ConvertImm{Target: i64}},
			{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i64, Bits: 4}},
			{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "mul"}},
			{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "add"}},
			{Op: hostabi.OpCast, Imm: hostabi.CastImm{Target: ptrI32}},
		}
	}
	loadElement := func(viewIdx int) []hostabi.Inst {
		return append(elementAddr(viewIdx),
			hostabi.Inst{Op: hostabi.OpLoad, Imm: hostabi.MemImm{Space: types.Global, Type: i32}})
	}

	// VectorAdd: c[idx] = a[idx] + b[idx]. Straight-line, no branches.
	var vectorAdd []hostabi.Inst
	vectorAdd = append(vectorAdd, elementAddr(3)...)
	vectorAdd = append(vectorAdd, loadElement(1)...)
	vectorAdd = append(vectorAdd, loadElement(2)...)
	vectorAdd = append(vectorAdd,
		hostabi.Inst{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "add"}},
		hostabi.Inst{Op: hostabi.OpStore, Imm: hostabi.MemImm{Space: types.Global}},
		hostabi.Inst{Op: hostabi.OpRet},
	)
	r.methods["Kernels.VectorAdd"] = hostabi.MethodInfo{
		Handle:     "Kernels.VectorAdd",
		Source:     "Kernels.VectorAdd",
		ParamTypes: []*types.Type{i32, viewI32, viewI32, viewI32},
		Code: hostabi.MethodCode{
			Blocks:     []hostabi.BlockCode{{Name: "entry", Insts: vectorAdd}},
			ParamTypes: []*types.Type{i32, viewI32, viewI32, viewI32},
		},
	}

	// ConstFold: return (5 + 3) * 2. Folds to a single constant at build
	// time.
	r.methods["Kernels.ConstFold"] = hostabi.MethodInfo{
		Handle:     "Kernels.ConstFold",
		Source:     "Kernels.ConstFold",
		RetType:    i32,
		ParamTypes: nil,
		Code: hostabi.MethodCode{
			Blocks: []hostabi.BlockCode{{Name: "entry", Insts: []hostabi.Inst{
				{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 5}},
				{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 3}},
				{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "add"}},
				{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 2}},
				{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "mul"}},
				{Op: hostabi.OpRet},
			}}},
			RetType: i32,
		},
	}

	// Diamond: local k = x > 0 ? x + 10 : 20 - x; return k. One φ at the
	// join.
	r.methods["Kernels.Diamond"] = hostabi.MethodInfo{
		Handle:     "Kernels.Diamond",
		Source:     "Kernels.Diamond",
		RetType:    i32,
		ParamTypes: []*types.Type{i32},
		Code: hostabi.MethodCode{
			NumLocals:  1,
			LocalTypes: []*types.Type{i32},
			ParamTypes: []*types.Type{i32},
			RetType:    i32,
			Blocks: []hostabi.BlockCode{
				{Name: "entry", Insts: []hostabi.Inst{
					{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 0}},
					{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 0}},
					{Op: hostabi.OpCompare, Imm: hostabi.CompareImm{Relation: "gt"}},
					{Op: hostabi.OpCondBr, Imm: hostabi.CondBranchImm{IfTrue: 1, IfFalse: 2}},
				}},
				{Name: "then", Insts: []hostabi.Inst{
					{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 0}},
					{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 10}},
					{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "add"}},
					{Op: hostabi.OpStoreLocal, Imm: hostabi.LocalImm{Index: 0}},
					{Op: hostabi.OpBr, Imm: hostabi.BranchImm{Target: 3}},
				}},
				{Name: "else", Insts: []hostabi.Inst{
					{Op: hostabi.OpConst, Imm: hostabi.ConstImm{Type: i32, Bits: 20}},
					{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 0}},
					{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "sub"}},
					{Op: hostabi.OpStoreLocal, Imm: hostabi.LocalImm{Index: 0}},
					{Op: hostabi.OpBr, Imm: hostabi.BranchImm{Target: 3}},
				}},
				{Name: "join", Insts: []hostabi.Inst{
					{Op: hostabi.OpLoadLocal, Imm: hostabi.LocalImm{Index: 0}},
					{Op: hostabi.OpRet},
				}},
			},
		},
	}

	// Square: single-block callee, inlined into callers at lift time.
	r.methods["Kernels.Square"] = hostabi.MethodInfo{
		Handle:     "Kernels.Square",
		Source:     "Kernels.Square",
		RetType:    i32,
		ParamTypes: []*types.Type{i32},
		Code: hostabi.MethodCode{
			ParamTypes: []*types.Type{i32},
			RetType:    i32,
			Blocks: []hostabi.BlockCode{{Name: "entry", Insts: []hostabi.Inst{
				{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 0}},
				{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 0}},
				{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "mul"}},
				{Op: hostabi.OpRet},
			}}},
		},
	}

	// SumSquare: a[idx] = Square(a[idx]) + x, exercising the inline path.
	var sumSquare []hostabi.Inst
	sumSquare = append(sumSquare, elementAddr(2)...)
	sumSquare = append(sumSquare, loadElement(2)...)
	sumSquare = append(sumSquare,
		hostabi.Inst{Op: hostabi.OpCall, Imm: hostabi.CallImm{Callee: "Kernels.Square", Argc: 1}},
		hostabi.Inst{Op: hostabi.OpLoadParam, Imm: hostabi.LocalImm{Index: 1}},
		hostabi.Inst{Op: hostabi.OpBinary, Imm: hostabi.BinaryImm{Op: "add"}},
		hostabi.Inst{Op: hostabi.OpStore, Imm: hostabi.MemImm{Space: types.Global}},
		hostabi.Inst{Op: hostabi.OpRet},
	)
	r.methods["Kernels.SumSquare"] = hostabi.MethodInfo{
		Handle:     "Kernels.SumSquare",
		Source:     "Kernels.SumSquare",
		ParamTypes: []*types.Type{i32, i32, viewI32},
		Code: hostabi.MethodCode{
			ParamTypes: []*types.Type{i32, i32, viewI32},
			Blocks:     []hostabi.BlockCode{{Name: "entry", Insts: sumSquare}},
		},
	}

	// GroupSize: c[idx] = groupDim.x, exercising intrinsics.
	r.methods["Kernels.GroupSize"] = hostabi.MethodInfo{
		Handle:     "Kernels.GroupSize",
		Source:     "Kernels.GroupSize",
		ParamTypes: []*types.Type{i32, viewI32},
		Code: hostabi.MethodCode{
			ParamTypes: []*types.Type{i32, viewI32},
			Blocks: []hostabi.BlockCode{{Name: "entry", Insts: append(append([]hostabi.Inst{},
				elementAddr(1)...),
				hostabi.Inst{Op: hostabi.OpCallIntrinsic, Imm: hostabi.IntrinsicImm{Name: "group.dim.x"}},
				hostabi.Inst{Op: hostabi.OpStore, Imm: hostabi.MemImm{Space: types.Global}},
				hostabi.Inst{Op: hostabi.OpRet},
			)}},
		},
	}

	return r
}
