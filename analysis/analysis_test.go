package analysis

import (
	"testing"

	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// buildDiamond returns a method with entry → {left, right} → join and the
// blocks in creation order.
func buildDiamond(t *testing.T) (*ir.Method, []*ir.Block) {
	t.Helper()
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: ir.Handle(t.Name())}, []*types.Type{i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	defer b.Release()

	left := b.NewBlock("left")
	right := b.NewBlock("right")
	join := b.NewBlock("join")

	cond := b.Compare(ir.RelGT, b.Param(0), b.Const(i32, 0), false, false)
	b.CondBr(cond, left, right)

	b.SetBlock(left)
	b.Br(join)
	b.SetBlock(right)
	b.Br(join)
	b.SetBlock(join)
	b.Ret(nil)

	return m, []*ir.Block{m.Entry, left, right, join}
}

func TestScopeReversePostOrder(t *testing.T) {
	m, blocks := buildDiamond(t)
	scope := ComputeScope(m)

	order := scope.Blocks()
	if len(order) != 4 {
		t.Fatalf("reachable blocks = %d, want 4", len(order))
	}
	if order[0] != m.Entry {
		t.Fatalf("RPO must start at the entry block")
	}
	// Join must come after both sides.
	join := blocks[3]
	joinIdx := scope.Index(join)
	if joinIdx != 3 {
		t.Fatalf("join at RPO index %d, want 3", joinIdx)
	}

	// Determinism: recomputation yields the identical order.
	again := ComputeScope(m)
	for i, blk := range again.Blocks() {
		if blk != order[i] {
			t.Fatalf("RPO not deterministic at index %d", i)
		}
	}
}

func TestScopeExcludesUnreachable(t *testing.T) {
	ctx := ir.NewContext()
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Unreach"}, nil)
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	defer b.Release()

	orphan := b.NewBlock("orphan")
	b.Ret(nil)
	b.SetBlock(orphan)
	b.Ret(nil)

	scope := ComputeScope(m)
	if scope.Contains(orphan) {
		t.Fatalf("orphan block must not be in scope")
	}
	if scope.Index(orphan) != -1 {
		t.Fatalf("Index of unreachable block = %d, want -1", scope.Index(orphan))
	}
}

func TestDominatorsDiamond(t *testing.T) {
	m, blocks := buildDiamond(t)
	entry, left, right, join := blocks[0], blocks[1], blocks[2], blocks[3]
	scope := ComputeScope(m)
	dom := ComputeDominators(scope)

	if dom.IDom(entry) != nil {
		t.Fatalf("entry has an immediate dominator")
	}
	if dom.IDom(left) != entry || dom.IDom(right) != entry {
		t.Fatalf("branch sides must be immediately dominated by entry")
	}
	if dom.IDom(join) != entry {
		t.Fatalf("join's idom = %v, want entry (neither side dominates it)", dom.IDom(join))
	}
	if !dom.Dominates(entry, join) {
		t.Fatalf("entry must dominate join")
	}
	if dom.Dominates(left, join) {
		t.Fatalf("left must not dominate join")
	}
	if cd := dom.CommonDominator([]*ir.Block{left, right}); cd != entry {
		t.Fatalf("CommonDominator(left, right) = %v, want entry", cd)
	}
}

func TestDominatorsLoop(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Loop"}, []*types.Type{i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	defer b.Release()

	header := b.NewBlock("header")
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")

	b.Br(header)
	b.SetBlock(header)
	cond := b.Compare(ir.RelGT, b.Param(0), b.Const(i32, 0), false, false)
	b.CondBr(cond, body, exit)
	b.SetBlock(body)
	b.Br(header) // back edge
	b.SetBlock(exit)
	b.Ret(nil)

	scope := ComputeScope(m)
	dom := ComputeDominators(scope)
	if dom.IDom(header) != m.Entry {
		t.Fatalf("header idom = %v, want entry", dom.IDom(header))
	}
	if dom.IDom(body) != header || dom.IDom(exit) != header {
		t.Fatalf("body and exit must be dominated by the loop header")
	}
}

func TestLivenessDiesAtLastUse(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "Lives", ReturnType: i32}, []*types.Type{i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	defer b.Release()

	one := b.Const(i32, 1)
	sum := b.Binary(ir.Add, b.Param(0), one, false, false)
	doubled := b.Binary(ir.Add, sum, sum, false, false)
	b.Ret(doubled)

	scope := ComputeScope(m)
	live := ComputeLiveness(scope)

	values := m.Entry.Values()
	// sum's last use is `doubled` (position 2); it does not survive the block.
	sumPos := -1
	for i, v := range values {
		if v == sum {
			sumPos = i
		}
	}
	if !live.DiesAt(sum, sumPos+1) {
		t.Fatalf("sum must die at its last use")
	}
	if live.DiesAt(doubled, sumPos+1) {
		t.Fatalf("doubled is consumed by ret, it cannot die at its definition")
	}
	if live.LiveOut(m.Entry)[sum] {
		t.Fatalf("sum must not be live out of a single-block method")
	}
}

func TestLivenessAcrossBlocks(t *testing.T) {
	ctx := ir.NewContext()
	i32 := ctx.Types.Primitive(types.Int32)
	m, err := ctx.CreateMethod(ir.Declaration{Handle: "CrossBlock", ReturnType: i32}, []*types.Type{i32})
	if err != nil {
		t.Fatalf("CreateMethod: %v", err)
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		t.Fatalf("CreateBuilder: %v", err)
	}
	defer b.Release()

	next := b.NewBlock("next")
	sum := b.Binary(ir.Add, b.Param(0), b.Const(i32, 1), false, false)
	b.Br(next)
	b.SetBlock(next)
	b.Ret(sum)

	scope := ComputeScope(m)
	live := ComputeLiveness(scope)
	if !live.LiveOut(m.Entry)[sum] {
		t.Fatalf("sum is read in the next block, it must be live out of entry")
	}
}
