package frontend

import (
	"go.uber.org/zap"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/ir"
)

// maxInlineBlocks bounds how large a callee may be and still be
// considered for automatic inlining.
const maxInlineBlocks = 4

// Lifter simulates a bytecode method's evaluation stack and local-variable
// map over its basic blocks, producing IR. It holds no
// state between Lift calls.
type Lifter struct {
	Resolver hostabi.Resolver
	ctx      *ir.Context
}

// NewLifter creates a Lifter that resolves call targets through resolver.
func NewLifter(ctx *ir.Context, resolver hostabi.Resolver) *Lifter {
	return &Lifter{Resolver: resolver, ctx: ctx}
}

type frame struct {
	blk    *ir.Block
	stack  []*ir.Value
	locals map[int]*ir.Value
}

// Lift compiles one method's bytecode into IR under the lifter's context,
// returning the ir.Method and its builder (still held, for the caller to
// run the transform pipeline before Release).
func (l *Lifter) Lift(decl ir.Declaration, code hostabi.MethodCode) (*ir.Method, *ir.Builder, error) {
	m, err := l.ctx.CreateMethod(decl, code.ParamTypes)
	if err != nil {
		return nil, nil, err
	}
	b, err := l.ctx.CreateBuilder(m)
	if err != nil {
		return nil, nil, err
	}

	blocks := make([]*ir.Block, len(code.Blocks))
	blocks[0] = m.Entry
	for i := 1; i < len(code.Blocks); i++ {
		blocks[i] = b.NewBlock(code.Blocks[i].Name)
	}

	// φ-placement: every block reachable from more than one
	// predecessor gets a φ per local up front, so AddIncoming can wire both
	// forward and back edges the moment each predecessor finishes, with no
	// dependency on processing order beyond the one documented on
	// hostabi.MethodCode (every single-predecessor block follows its
	// predecessor).
	predCount := countPredecessors(code)
	phis := make([]map[int]*ir.Value, len(code.Blocks))
	for i, n := range predCount {
		if n > 1 {
			b.SetBlock(blocks[i])
			phis[i] = make(map[int]*ir.Value)
			for local := 0; local < code.NumLocals; local++ {
				phis[i][local] = b.Phi(code.LocalTypes[local])
			}
		}
	}

	exitLocals := make([]map[int]*ir.Value, len(code.Blocks))

	for i, bc := range code.Blocks {
		b.SetBlock(blocks[i])
		fr := &frame{blk: blocks[i], locals: make(map[int]*ir.Value)}
		if phis[i] != nil {
			for k, v := range phis[i] {
				fr.locals[k] = v
			}
		} else if i > 0 {
			if pred := singlePredecessor(code, i); pred >= 0 && exitLocals[pred] != nil {
				for k, v := range exitLocals[pred] {
					fr.locals[k] = v
				}
			}
		}

		if err := l.liftBlock(b, m, fr, bc, blocks, code); err != nil {
			return m, b, err
		}
		exitLocals[i] = fr.locals

		for _, succ := range successorsOf(bc) {
			if phis[succ] == nil {
				continue
			}
			for local, val := range fr.locals {
				b.AddIncoming(phis[succ][local], fr.blk, val)
			}
		}
	}

	diag.Logger().Debug("method lifted", zap.String("method", m.Name()), zap.Int("blocks", len(blocks)))
	return m, b, nil
}

func (l *Lifter) liftBlock(b *ir.Builder, m *ir.Method, fr *frame, bc hostabi.BlockCode, blocks []*ir.Block, code hostabi.MethodCode) error {
	pop := func() (*ir.Value, error) {
		if len(fr.stack) == 0 {
			return nil, diag.InvalidStackState(m.Name(), "pop from empty evaluation stack")
		}
		v := fr.stack[len(fr.stack)-1]
		fr.stack = fr.stack[:len(fr.stack)-1]
		return v, nil
	}
	push := func(v *ir.Value) { fr.stack = append(fr.stack, v) }

	for _, inst := range bc.Insts {
		switch inst.Op {
		case hostabi.OpConst:
			imm := inst.Imm.(hostabi.ConstImm)
			push(b.Const(imm.Type, imm.Bits))

		case hostabi.OpLoadParam:
			imm := inst.Imm.(hostabi.LocalImm)
			push(b.Param(imm.Index))

		case hostabi.OpLoadLocal:
			imm := inst.Imm.(hostabi.LocalImm)
			v, ok := fr.locals[imm.Index]
			if !ok {
				return diag.InvalidStackState(m.Name(), "read of never-written local")
			}
			push(v)

		case hostabi.OpStoreLocal:
			imm := inst.Imm.(hostabi.LocalImm)
			v, err := pop()
			if err != nil {
				return err
			}
			fr.locals[imm.Index] = v

		case hostabi.OpBinary:
			imm := inst.Imm.(hostabi.BinaryImm)
			rhs, err := pop()
			if err != nil {
				return err
			}
			lhs, err := pop()
			if err != nil {
				return err
			}
			op, ok := binOpFromName(imm.Op)
			if !ok {
				return diag.UnsupportedInstruction(m.Name(), inst.Op)
			}
			push(b.Binary(op, lhs, rhs, imm.Unsigned, imm.FastMath))

		case hostabi.OpUnary:
			imm := inst.Imm.(hostabi.UnaryImm)
			v, err := pop()
			if err != nil {
				return err
			}
			op, ok := unaryOpFromName(imm.Op)
			if !ok {
				return diag.UnsupportedInstruction(m.Name(), inst.Op)
			}
			push(b.Unary(op, v, false))

		case hostabi.OpCompare:
			imm := inst.Imm.(hostabi.CompareImm)
			rhs, err := pop()
			if err != nil {
				return err
			}
			lhs, err := pop()
			if err != nil {
				return err
			}
			rel, ok := relationFromName(imm.Relation)
			if !ok {
				return diag.UnsupportedInstruction(m.Name(), inst.Op)
			}
			push(b.Compare(rel, lhs, rhs, imm.Unsigned, imm.Unordered))

		case hostabi.OpConvert:
			imm := inst.Imm.(hostabi.ConvertImm)
			v, err := pop()
			if err != nil {
				return err
			}
			push(b.Convert(imm.Target, v))

		case hostabi.OpCast:
			imm := inst.Imm.(hostabi.CastImm)
			v, err := pop()
			if err != nil {
				return err
			}
			push(b.Cast(imm.Target, v, imm.BitPreserving))

		case hostabi.OpLoad:
			imm := inst.Imm.(hostabi.MemImm)
			ptr, err := pop()
			if err != nil {
				return err
			}
			push(b.Load(ptr, imm.Type, imm.Space))

		case hostabi.OpStore:
			imm := inst.Imm.(hostabi.MemImm)
			val, err := pop()
			if err != nil {
				return err
			}
			ptr, err := pop()
			if err != nil {
				return err
			}
			push(b.Store(ptr, val, imm.Space))

		case hostabi.OpAlloca:
			imm := inst.Imm.(hostabi.MemImm)
			push(b.Alloca(imm.Type, imm.Space))

		case hostabi.OpGetField:
			imm := inst.Imm.(hostabi.FieldImm)
			base, err := pop()
			if err != nil {
				return err
			}
			push(b.GetField(base, imm.Index))

		case hostabi.OpSetField:
			imm := inst.Imm.(hostabi.FieldImm)
			val, err := pop()
			if err != nil {
				return err
			}
			base, err := pop()
			if err != nil {
				return err
			}
			push(b.SetField(base, val, imm.Index))

		case hostabi.OpLoadFieldAddress:
			imm := inst.Imm.(hostabi.FieldImm)
			base, err := pop()
			if err != nil {
				return err
			}
			push(b.LoadFieldAddress(base, imm.Index))

		case hostabi.OpAtomicRMW:
			imm := inst.Imm.(hostabi.AtomicImm)
			val, err := pop()
			if err != nil {
				return err
			}
			ptr, err := pop()
			if err != nil {
				return err
			}
			op, ok := atomicOpFromName(imm.Op)
			if !ok {
				return diag.UnsupportedInstruction(m.Name(), inst.Op)
			}
			push(b.AtomicRMW(op, ptr, val, imm.Space))

		case hostabi.OpAtomicCAS:
			imm := inst.Imm.(hostabi.AtomicImm)
			newVal, err := pop()
			if err != nil {
				return err
			}
			cmp, err := pop()
			if err != nil {
				return err
			}
			ptr, err := pop()
			if err != nil {
				return err
			}
			push(b.AtomicCAS(ptr, cmp, newVal, imm.Space))

		case hostabi.OpCallIntrinsic:
			imm := inst.Imm.(hostabi.IntrinsicImm)
			args := make([]*ir.Value, imm.Argc)
			for i := imm.Argc - 1; i >= 0; i-- {
				v, err := pop()
				if err != nil {
					return err
				}
				args[i] = v
			}
			result, err := lowerIntrinsic(b, imm, args)
			if err != nil {
				return err
			}
			if result != nil {
				push(result)
			}

		case hostabi.OpCall:
			imm := inst.Imm.(hostabi.CallImm)
			if err := l.liftCall(b, m, imm, pop, push); err != nil {
				return err
			}

		case hostabi.OpBr:
			imm := inst.Imm.(hostabi.BranchImm)
			b.Br(blocks[imm.Target])

		case hostabi.OpCondBr:
			imm := inst.Imm.(hostabi.CondBranchImm)
			cond, err := pop()
			if err != nil {
				return err
			}
			b.CondBr(cond, blocks[imm.IfTrue], blocks[imm.IfFalse])

		case hostabi.OpRet:
			if code.RetType != nil {
				v, err := pop()
				if err != nil {
					return err
				}
				b.Ret(v)
			} else {
				b.Ret(nil)
			}

		default:
			return diag.UnsupportedInstruction(m.Name(), inst.Op)
		}
	}
	return nil
}

// liftCall handles the two non-intrinsic call paths: inline small
// callees; otherwise emit a Call node and recursively lift the callee so
// the cache/driver sees every reachable method. External and
// ExternalDeclaration callees take neither path: they are rejected with
// UnsupportedCallTarget.
func (l *Lifter) liftCall(b *ir.Builder, m *ir.Method, imm hostabi.CallImm, pop func() (*ir.Value, error), push func(*ir.Value)) error {
	info, err := l.Resolver.Resolve(ir.Handle(imm.Callee))
	if err != nil {
		return diag.UnsupportedCallTarget(m.Name(), imm.Callee)
	}
	if info.Flags.Has(ir.FlagExternal) || info.Flags.Has(ir.FlagExternalDeclaration) {
		return diag.UnsupportedCallTarget(m.Name(), imm.Callee)
	}

	args := make([]*ir.Value, imm.Argc)
	for i := imm.Argc - 1; i >= 0; i-- {
		v, err := pop()
		if err != nil {
			return err
		}
		args[i] = v
	}

	// Only single-block callees splice in here; small callees with control
	// flow go through the Call path and stay Call nodes (the IR-level
	// Inliner does not splice bodies).
	shouldInline := len(info.Code.Blocks) == 1 &&
		(info.Flags.Has(ir.FlagAggressiveInlining) ||
			(!info.Flags.Has(ir.FlagNoInlining) && len(info.Code.Blocks) <= maxInlineBlocks))

	if shouldInline {
		result, err := l.inlineCallee(b, info, args)
		if err != nil {
			return err
		}
		if result != nil {
			push(result)
		}
		return nil
	}

	callee, ok := l.ctx.Lookup(info.Handle)
	if !ok {
		callee, _, err = l.Lift(ir.Declaration{Handle: info.Handle, ReturnType: info.RetType, Source: info.Source, Flags: info.Flags}, info.Code)
		if err != nil {
			return err
		}
	}
	result := b.Call(callee, args, true)
	if info.RetType != nil {
		push(result)
	}
	return nil
}

// inlineCallee splices a small callee's body into the caller at the
// current insertion point, substituting args for its parameters.
func (l *Lifter) inlineCallee(b *ir.Builder, info hostabi.MethodInfo, args []*ir.Value) (*ir.Value, error) {
	if len(info.Code.Blocks) != 1 {
		return nil, diag.NotSupported(diag.PhaseFrontend, string(info.Handle), "inlining only supports single-block callees")
	}
	subst := make(map[int]*ir.Value, len(args))
	for i, a := range args {
		subst[i] = a
	}
	fr := &frame{locals: make(map[int]*ir.Value)}
	var result *ir.Value
	for _, inst := range info.Code.Blocks[0].Insts {
		switch inst.Op {
		case hostabi.OpLoadParam:
			imm := inst.Imm.(hostabi.LocalImm)
			fr.stack = append(fr.stack, subst[imm.Index])
		case hostabi.OpRet:
			if len(fr.stack) > 0 {
				result = fr.stack[len(fr.stack)-1]
			}
		default:
			if err := l.liftBlock(b, b.Method(), fr, hostabi.BlockCode{Insts: []hostabi.Inst{inst}}, nil, info.Code); err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

func countPredecessors(code hostabi.MethodCode) []int {
	counts := make([]int, len(code.Blocks))
	for _, bc := range code.Blocks {
		for _, succ := range successorsOf(bc) {
			counts[succ]++
		}
	}
	return counts
}

func singlePredecessor(code hostabi.MethodCode, target int) int {
	pred := -1
	n := 0
	for i, bc := range code.Blocks {
		for _, succ := range successorsOf(bc) {
			if succ == target {
				pred = i
				n++
			}
		}
	}
	if n == 1 {
		return pred
	}
	return -1
}

func successorsOf(bc hostabi.BlockCode) []int {
	if len(bc.Insts) == 0 {
		return nil
	}
	last := bc.Insts[len(bc.Insts)-1]
	switch last.Op {
	case hostabi.OpBr:
		return []int{last.Imm.(hostabi.BranchImm).Target}
	case hostabi.OpCondBr:
		imm := last.Imm.(hostabi.CondBranchImm)
		return []int{imm.IfTrue, imm.IfFalse}
	default:
		return nil
	}
}

func binOpFromName(name string) (ir.BinOp, bool) {
	for op := ir.Add; op <= ir.Max; op++ {
		if op.String() == name {
			return op, true
		}
	}
	return 0, false
}

func unaryOpFromName(name string) (ir.UnaryOp, bool) {
	for op := ir.Neg; op <= ir.Abs; op++ {
		if op.String() == name {
			return op, true
		}
	}
	return 0, false
}

func relationFromName(name string) (ir.Relation, bool) {
	for r := ir.RelEQ; r <= ir.RelGE; r++ {
		if r.String() == name {
			return r, true
		}
	}
	return 0, false
}

func atomicOpFromName(name string) (ir.AtomicOp, bool) {
	names := map[string]ir.AtomicOp{
		"add": ir.AtomicAdd, "and": ir.AtomicAnd, "or": ir.AtomicOr,
		"xor": ir.AtomicXor, "exchange": ir.AtomicExchange,
		"min": ir.AtomicMin, "max": ir.AtomicMax,
	}
	op, ok := names[name]
	return op, ok
}
