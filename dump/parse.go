package dump

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// Parse reads a method dump produced by Emit and reconstructs the method
// under ctx. The handle is the dumped method name, so parsing the same
// dump twice into one context fails with DuplicateMethod.
func Parse(ctx *ir.Context, text string) (*ir.Method, error) {
	lines := splitLines(text)
	if len(lines) == 0 {
		return nil, diag.New(diag.PhaseFrontend, diag.KindUnsupportedInstruction).Detail("empty dump").Build()
	}

	p := &parser{ctx: ctx, vals: make(map[int]*ir.Value), blocks: make(map[string]*ir.Block)}
	if err := p.header(lines[0]); err != nil {
		return nil, err
	}

	// First pass: create every labeled block so branches can refer ahead.
	for _, ln := range lines[1:] {
		if label, ok := strings.CutSuffix(ln, ":"); ok {
			if label == "BB0" {
				p.blocks[label] = p.method.Entry
			} else {
				p.blocks[label] = p.builder.NewBlock(label)
			}
		}
	}

	for _, ln := range lines[1:] {
		if label, ok := strings.CutSuffix(ln, ":"); ok {
			p.builder.SetBlock(p.blocks[label])
			continue
		}
		if err := p.instruction(ln); err != nil {
			p.builder.Release()
			return nil, err
		}
	}

	// Wire φ incoming edges last: they may reference values defined after
	// their own block (back edges).
	for _, ph := range p.pendingPhis {
		for i, pred := range ph.preds {
			val, ok := p.vals[ph.valIDs[i]]
			if !ok {
				p.builder.Release()
				return nil, p.errf("phi references undefined value %%%d", ph.valIDs[i])
			}
			p.builder.AddIncoming(ph.phi, p.blocks[pred], val)
		}
	}

	p.builder.Release()
	return p.method, nil
}

type pendingPhi struct {
	phi    *ir.Value
	preds  []string
	valIDs []int
}

type parser struct {
	ctx         *ir.Context
	method      *ir.Method
	builder     *ir.Builder
	vals        map[int]*ir.Value
	blocks      map[string]*ir.Block
	pendingPhis []pendingPhi
}

func (p *parser) errf(format string, args ...any) error {
	name := ""
	if p.method != nil {
		name = p.method.Name()
	}
	return diag.New(diag.PhaseFrontend, diag.KindUnsupportedInstruction).
		Method(name).Detail(format, args...).Build()
}

func splitLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

// header parses `Name(param0 : i32, param1 : view<global, f32>) -> void`.
func (p *parser) header(line string) error {
	open := strings.IndexByte(line, '(')
	arrow := strings.LastIndex(line, "->")
	if open < 0 || arrow < 0 {
		return p.errf("malformed header %q", line)
	}
	name := line[:open]
	closeParen := strings.LastIndex(line[:arrow], ")")
	if closeParen < 0 {
		return p.errf("malformed header %q", line)
	}

	var paramTypes []*types.Type
	paramText := strings.TrimSpace(line[open+1 : closeParen])
	if paramText != "" {
		for _, part := range splitTopLevel(paramText) {
			_, tyText, ok := strings.Cut(part, ":")
			if !ok {
				return p.errf("malformed parameter %q", part)
			}
			t, err := p.parseType(strings.TrimSpace(tyText))
			if err != nil {
				return err
			}
			paramTypes = append(paramTypes, t)
		}
	}

	retText := strings.TrimSpace(line[arrow+2:])
	var retType *types.Type
	if retText != "void" {
		t, err := p.parseType(retText)
		if err != nil {
			return err
		}
		retType = t
	}

	m, err := p.ctx.CreateMethod(ir.Declaration{Handle: ir.Handle(name), ReturnType: retType}, paramTypes)
	if err != nil {
		return err
	}
	b, err := p.ctx.CreateBuilder(m)
	if err != nil {
		return err
	}
	p.method, p.builder = m, b
	for i, param := range m.Params {
		p.vals[i] = param
	}
	return nil
}

// splitTopLevel splits on commas not nested inside <>, {}, or [].
func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	start := 0
	for i, c := range s {
		switch c {
		case '<', '{', '[', '(':
			depth++
		case '>', '}', ']', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

func (p *parser) parseType(s string) (*types.Type, error) {
	in := p.ctx.Types
	switch s {
	case "i1":
		return in.Primitive(types.Int1), nil
	case "i8":
		return in.Primitive(types.Int8), nil
	case "i16":
		return in.Primitive(types.Int16), nil
	case "i32":
		return in.Primitive(types.Int32), nil
	case "i64":
		return in.Primitive(types.Int64), nil
	case "f32":
		return in.Primitive(types.Float32), nil
	case "f64":
		return in.Primitive(types.Float64), nil
	case "void":
		return in.Primitive(types.Void), nil
	}
	switch {
	case strings.HasPrefix(s, "ptr<") && strings.HasSuffix(s, ">"):
		space, elem, err := p.parseSpaceElem(s[4 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return in.PointerTo(space, elem), nil
	case strings.HasPrefix(s, "view<") && strings.HasSuffix(s, ">"):
		space, elem, err := p.parseSpaceElem(s[5 : len(s)-1])
		if err != nil {
			return nil, err
		}
		return in.ViewOf(space, elem), nil
	case strings.HasPrefix(s, "struct{") && strings.HasSuffix(s, "}"):
		inner := s[7 : len(s)-1]
		var fields []*types.Type
		if inner != "" {
			for _, part := range splitTopLevel(inner) {
				f, err := p.parseType(part)
				if err != nil {
					return nil, err
				}
				fields = append(fields, f)
			}
		}
		return in.StructOf(fields...), nil
	case strings.HasPrefix(s, "array<"):
		lb := strings.LastIndex(s, "[")
		if lb < 0 || !strings.HasSuffix(s, "]") {
			return nil, p.errf("malformed array type %q", s)
		}
		elem, err := p.parseType(strings.TrimSuffix(strings.TrimSpace(s[6:lb]), ">"))
		if err != nil {
			return nil, err
		}
		var dims []int
		for _, d := range strings.Split(s[lb+1:len(s)-1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(d))
			if err != nil {
				return nil, p.errf("malformed array dimension %q", d)
			}
			dims = append(dims, n)
		}
		return in.ArrayOf(elem, dims...), nil
	}
	return nil, p.errf("unknown type %q", s)
}

func (p *parser) parseSpaceElem(s string) (types.AddressSpace, *types.Type, error) {
	parts := splitTopLevel(s)
	if len(parts) != 2 {
		return 0, nil, p.errf("malformed pointer/view type %q", s)
	}
	space, err := parseSpace(parts[0])
	if err != nil {
		return 0, nil, p.errf("%v", err)
	}
	elem, err := p.parseType(parts[1])
	return space, elem, err
}

func parseSpace(s string) (types.AddressSpace, error) {
	switch s {
	case "generic":
		return types.Generic, nil
	case "global":
		return types.Global, nil
	case "shared":
		return types.Shared, nil
	case "local":
		return types.Local, nil
	case "constant":
		return types.Constant, nil
	}
	return 0, fmt.Errorf("unknown address space %q", s)
}

func (p *parser) valueRef(s string) (*ir.Value, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "%") {
		return nil, p.errf("expected value reference, got %q", s)
	}
	id, err := strconv.Atoi(s[1:])
	if err != nil {
		return nil, p.errf("malformed value reference %q", s)
	}
	v, ok := p.vals[id]
	if !ok {
		return nil, p.errf("reference to undefined value %%%d", id)
	}
	return v, nil
}

func (p *parser) valueRefs(s string) ([]*ir.Value, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := splitTopLevel(s)
	out := make([]*ir.Value, len(parts))
	for i, part := range parts {
		v, err := p.valueRef(part)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// instruction parses one body line: either `%n : type = op ...` or a
// bare statement (store, membar, terminators, void calls/intrinsics).
func (p *parser) instruction(line string) error {
	if eq := strings.Index(line, " = "); eq >= 0 {
		lhs := line[:eq]
		name, tyText, ok := strings.Cut(lhs, ":")
		if !ok {
			return p.errf("malformed assignment %q", line)
		}
		id, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "%")))
		if err != nil {
			return p.errf("malformed value name %q", name)
		}
		t, err := p.parseType(strings.TrimSpace(tyText))
		if err != nil {
			return err
		}
		v, err := p.expr(strings.TrimSpace(line[eq+3:]), t)
		if err != nil {
			return err
		}
		p.vals[id] = v
		return nil
	}
	return p.statement(line)
}

// expr parses the right-hand side of an assignment.
func (p *parser) expr(s string, t *types.Type) (*ir.Value, error) {
	op, rest, _ := strings.Cut(s, " ")
	b := p.builder

	switch {
	case strings.HasPrefix(op, "const("):
		return p.parseConst(s)
	case op == "convert":
		v, err := p.valueRef(rest)
		if err != nil {
			return nil, err
		}
		return b.Convert(t, v), nil
	case op == "cast", op == "bitcast":
		v, err := p.valueRef(rest)
		if err != nil {
			return nil, err
		}
		return b.Cast(t, v, op == "bitcast"), nil
	case op == "alloca":
		return b.Alloca(t.Elem, t.Space), nil
	case op == "null":
		return b.Null(t), nil
	case op == "poison":
		return b.Poison(t), nil
	case op == "phi":
		return p.parsePhi(rest, t)
	case strings.HasPrefix(op, "load."):
		space, err := parseSpace(op[len("load."):])
		if err != nil {
			return nil, p.errf("%v", err)
		}
		ptr, err := p.valueRef(rest)
		if err != nil {
			return nil, err
		}
		return b.Load(ptr, t, space), nil
	case strings.HasPrefix(op, "getfield."):
		return p.parseField(op, rest, func(idx int, ops []*ir.Value) *ir.Value {
			return b.GetField(ops[0], idx)
		})
	case strings.HasPrefix(op, "setfield."):
		return p.parseField(op, rest, func(idx int, ops []*ir.Value) *ir.Value {
			return b.SetField(ops[0], ops[1], idx)
		})
	case strings.HasPrefix(op, "fieldaddr."):
		return p.parseField(op, rest, func(idx int, ops []*ir.Value) *ir.Value {
			return b.LoadFieldAddress(ops[0], idx)
		})
	case strings.HasPrefix(op, "atomic."):
		return p.parseAtomicRMW(op, rest)
	case strings.HasPrefix(op, "cas."):
		space, err := parseSpace(op[len("cas."):])
		if err != nil {
			return nil, p.errf("%v", err)
		}
		ops, err := p.valueRefs(rest)
		if err != nil {
			return nil, err
		}
		if len(ops) != 3 {
			return nil, p.errf("cas expects 3 operands")
		}
		return b.AtomicCAS(ops[0], ops[1], ops[2], space), nil
	case strings.HasPrefix(op, "cmp."):
		return p.parseCompare(op, rest)
	case strings.HasPrefix(op, "intrinsic."):
		return p.parseIntrinsic(op, rest, t)
	case strings.HasPrefix(op, "str."):
		id, err := strconv.Atoi(op[len("str."):])
		if err != nil {
			return nil, p.errf("malformed string constant id in %q", op)
		}
		lit, err := strconv.Unquote(strings.TrimSpace(rest))
		if err != nil {
			return nil, p.errf("malformed string literal %q", rest)
		}
		return b.StringConst(lit, id), nil
	case strings.HasPrefix(op, "call"):
		return p.parseCall(s, false)
	}

	// Unary and binary arithmetic, with optional .u / .fast suffixes.
	base, unsigned, fast := opFlags(op)
	if uo, ok := unaryOpNamed(base); ok {
		v, err := p.valueRef(rest)
		if err != nil {
			return nil, err
		}
		return b.Unary(uo, v, fast), nil
	}
	if bo, ok := binOpNamed(base); ok {
		ops, err := p.valueRefs(rest)
		if err != nil {
			return nil, err
		}
		if len(ops) != 2 {
			return nil, p.errf("%s expects 2 operands", base)
		}
		return b.Binary(bo, ops[0], ops[1], unsigned, fast), nil
	}
	return nil, p.errf("unknown operation %q", op)
}

func (p *parser) statement(line string) error {
	op, rest, _ := strings.Cut(line, " ")
	b := p.builder
	switch {
	case op == "membar":
		b.MemBarrier()
		return nil
	case op == "intrinsic.barrier":
		_, err := p.parseIntrinsic(op, "", p.ctx.Types.Primitive(types.Void))
		return err
	case strings.HasPrefix(op, "store."):
		space, err := parseSpace(op[len("store."):])
		if err != nil {
			return p.errf("%v", err)
		}
		ops, err := p.valueRefs(rest)
		if err != nil {
			return err
		}
		if len(ops) != 2 {
			return p.errf("store expects 2 operands")
		}
		b.Store(ops[0], ops[1], space)
		return nil
	case op == "br":
		target, ok := p.blocks[strings.TrimSpace(rest)]
		if !ok {
			return p.errf("branch to unknown block %q", rest)
		}
		b.Br(target)
		return nil
	case op == "condbr":
		parts := splitTopLevel(rest)
		if len(parts) != 3 {
			return p.errf("condbr expects cond and two targets")
		}
		cond, err := p.valueRef(parts[0])
		if err != nil {
			return err
		}
		ifTrue, ok1 := p.blocks[parts[1]]
		ifFalse, ok2 := p.blocks[parts[2]]
		if !ok1 || !ok2 {
			return p.errf("condbr to unknown block in %q", rest)
		}
		b.CondBr(cond, ifTrue, ifFalse)
		return nil
	case op == "switch":
		return p.parseSwitch(rest)
	case op == "ret":
		if strings.TrimSpace(rest) == "" {
			b.Ret(nil)
			return nil
		}
		v, err := p.valueRef(rest)
		if err != nil {
			return err
		}
		b.Ret(v)
		return nil
	case strings.HasPrefix(op, "call"):
		_, err := p.parseCall(line, true)
		return err
	}
	return p.errf("unknown statement %q", line)
}

func (p *parser) parseConst(s string) (*ir.Value, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "const("), ")")
	lit, tyText, ok := strings.Cut(inner, ":")
	if !ok {
		return nil, p.errf("malformed constant %q", s)
	}
	t, err := p.parseType(strings.TrimSpace(tyText))
	if err != nil {
		return nil, err
	}
	var bits uint64
	if strings.HasPrefix(lit, "0x") {
		bits, err = strconv.ParseUint(lit[2:], 16, 64)
	} else {
		bits, err = strconv.ParseUint(lit, 10, 64)
	}
	if err != nil {
		return nil, p.errf("malformed constant literal %q", lit)
	}
	return p.builder.Const(t, bits), nil
}

func (p *parser) parsePhi(rest string, t *types.Type) (*ir.Value, error) {
	inner := strings.TrimSpace(rest)
	if !strings.HasPrefix(inner, "[") || !strings.HasSuffix(inner, "]") {
		return nil, p.errf("malformed phi %q", rest)
	}
	phi := p.builder.Phi(t)
	pend := pendingPhi{phi: phi}
	inner = inner[1 : len(inner)-1]
	if inner != "" {
		for _, part := range splitTopLevel(inner) {
			label, ref, ok := strings.Cut(part, ":")
			if !ok {
				return nil, p.errf("malformed phi edge %q", part)
			}
			id, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(ref), "%"))
			if err != nil {
				return nil, p.errf("malformed phi value %q", ref)
			}
			pend.preds = append(pend.preds, strings.TrimSpace(label))
			pend.valIDs = append(pend.valIDs, id)
		}
	}
	p.pendingPhis = append(p.pendingPhis, pend)
	return phi, nil
}

func (p *parser) parseField(op, rest string, build func(int, []*ir.Value) *ir.Value) (*ir.Value, error) {
	idx, err := strconv.Atoi(op[strings.LastIndexByte(op, '.')+1:])
	if err != nil {
		return nil, p.errf("malformed field index in %q", op)
	}
	ops, err := p.valueRefs(rest)
	if err != nil {
		return nil, err
	}
	return build(idx, ops), nil
}

func (p *parser) parseAtomicRMW(op, rest string) (*ir.Value, error) {
	parts := strings.Split(op, ".")
	if len(parts) != 3 {
		return nil, p.errf("malformed atomic op %q", op)
	}
	var aop ir.AtomicOp
	switch parts[1] {
	case "add":
		aop = ir.AtomicAdd
	case "and":
		aop = ir.AtomicAnd
	case "or":
		aop = ir.AtomicOr
	case "xor":
		aop = ir.AtomicXor
	case "exchange":
		aop = ir.AtomicExchange
	case "min":
		aop = ir.AtomicMin
	case "max":
		aop = ir.AtomicMax
	default:
		return nil, p.errf("unknown atomic op %q", parts[1])
	}
	space, err := parseSpace(parts[2])
	if err != nil {
		return nil, p.errf("%v", err)
	}
	ops, err := p.valueRefs(rest)
	if err != nil {
		return nil, err
	}
	if len(ops) != 2 {
		return nil, p.errf("atomic expects 2 operands")
	}
	return p.builder.AtomicRMW(aop, ops[0], ops[1], space), nil
}

func (p *parser) parseCompare(op, rest string) (*ir.Value, error) {
	parts := strings.Split(op, ".")[1:]
	if len(parts) == 0 {
		return nil, p.errf("malformed compare %q", op)
	}
	var rel ir.Relation
	found := false
	for r := ir.RelEQ; r <= ir.RelGE; r++ {
		if r.String() == parts[0] {
			rel, found = r, true
			break
		}
	}
	if !found {
		return nil, p.errf("unknown relation %q", parts[0])
	}
	unsigned, unordered := false, false
	for _, f := range parts[1:] {
		switch f {
		case "u":
			unsigned = true
		case "un":
			unordered = true
		}
	}
	ops, err := p.valueRefs(rest)
	if err != nil {
		return nil, err
	}
	if len(ops) != 2 {
		return nil, p.errf("compare expects 2 operands")
	}
	return p.builder.Compare(rel, ops[0], ops[1], unsigned, unordered), nil
}

func (p *parser) parseIntrinsic(op, rest string, t *types.Type) (*ir.Value, error) {
	name := strings.TrimPrefix(op, "intrinsic.")
	ops, err := p.valueRefs(rest)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, "warp.shuffle.") {
		tail := strings.TrimPrefix(name, "warp.shuffle.")
		mode, widthText, ok := strings.Cut(tail, ".")
		if !ok {
			return nil, p.errf("malformed shuffle %q", name)
		}
		width, err := strconv.Atoi(widthText)
		if err != nil {
			return nil, p.errf("malformed shuffle width %q", widthText)
		}
		return p.builder.Intrinsic(t, ir.IntrinsicImm{Op: ir.WarpShuffle, ShuffleMode: mode, Width: width}, ops...), nil
	}
	for iop, n := range intrinsicNames {
		if n == name {
			return p.builder.Intrinsic(t, ir.IntrinsicImm{Op: iop}, ops...), nil
		}
	}
	return nil, p.errf("unknown intrinsic %q", name)
}

func (p *parser) parseCall(s string, void bool) (*ir.Value, error) {
	at := strings.IndexByte(s, '@')
	open := strings.IndexByte(s, '(')
	if at < 0 || open < at || !strings.HasSuffix(s, ")") {
		return nil, p.errf("malformed call %q", s)
	}
	name := s[at+1 : open]
	callee, ok := p.ctx.Lookup(ir.Handle(name))
	if !ok {
		return nil, diag.New(diag.PhaseFrontend, diag.KindUnsupportedCallTarget).
			Method(p.method.Name()).Detail("call target %s not in context", name).Build()
	}
	args, err := p.valueRefs(s[open+1 : len(s)-1])
	if err != nil {
		return nil, err
	}
	return p.builder.Call(callee, args, true), nil
}

func (p *parser) parseSwitch(rest string) error {
	lb := strings.IndexByte(rest, '[')
	rb := strings.LastIndexByte(rest, ']')
	if lb < 0 || rb < lb {
		return p.errf("malformed switch %q", rest)
	}
	val, err := p.valueRef(strings.TrimSuffix(strings.TrimSpace(rest[:lb]), ","))
	if err != nil {
		return err
	}
	var cases []int64
	var targets []*ir.Block
	inner := strings.TrimSpace(rest[lb+1 : rb])
	if inner != "" {
		for _, part := range splitTopLevel(inner) {
			cText, label, ok := strings.Cut(part, ":")
			if !ok {
				return p.errf("malformed switch case %q", part)
			}
			c, err := strconv.ParseInt(strings.TrimSpace(cText), 10, 64)
			if err != nil {
				return p.errf("malformed switch case value %q", cText)
			}
			target, ok := p.blocks[strings.TrimSpace(label)]
			if !ok {
				return p.errf("switch case to unknown block %q", label)
			}
			cases = append(cases, c)
			targets = append(targets, target)
		}
	}
	defLabel := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest[rb+1:]), ","))
	def, ok := p.blocks[defLabel]
	if !ok {
		return p.errf("switch default to unknown block %q", defLabel)
	}
	p.builder.Switch(val, cases, targets, def)
	return nil
}

func opFlags(op string) (base string, unsigned, fast bool) {
	base = op
	for {
		switch {
		case strings.HasSuffix(base, ".u"):
			base = strings.TrimSuffix(base, ".u")
			unsigned = true
		case strings.HasSuffix(base, ".fast"):
			base = strings.TrimSuffix(base, ".fast")
			fast = true
		default:
			return base, unsigned, fast
		}
	}
}

func binOpNamed(name string) (ir.BinOp, bool) {
	for op := ir.Add; op <= ir.Max; op++ {
		if op.String() == name {
			return op, true
		}
	}
	return 0, false
}

func unaryOpNamed(name string) (ir.UnaryOp, bool) {
	for op := ir.Neg; op <= ir.Abs; op++ {
		if op.String() == name {
			return op, true
		}
	}
	return 0, false
}
