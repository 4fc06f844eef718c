package transform

import (
	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
)

// Mem2Reg promotes Alloca slots that are only ever loaded/stored directly
// (never have their address taken, e.g. via LoadFieldAddress or passed to
// a call) into SSA values threaded through φ-nodes.
type Mem2Reg struct{}

func (*Mem2Reg) Name() string { return "Mem2Reg" }

func (p *Mem2Reg) Run(b *ir.Builder, scope *analysis.Scope) (bool, error) {
	changed := false
	for _, alloca := range promotableAllocas(scope) {
		if promoteAlloca(b, scope, alloca) {
			changed = true
		}
	}
	return changed, nil
}

// promotableAllocas finds every Alloca whose only uses are as the direct
// pointer operand of a Load or Store (never address-taken).
func promotableAllocas(scope *analysis.Scope) []*ir.Value {
	var out []*ir.Value
	for _, blk := range scope.Blocks() {
		for _, v := range blk.Values() {
			if v.Kind != ir.KAlloca {
				continue
			}
			if isPromotable(v) {
				out = append(out, v)
			}
		}
	}
	return out
}

func isPromotable(alloca *ir.Value) bool {
	for _, user := range alloca.Uses() {
		switch user.Kind {
		case ir.KLoad:
			if user.Operand(0) != alloca {
				return false
			}
		case ir.KStore:
			if user.Operand(0) != alloca {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// promoteAlloca rewrites loads/stores of a single promotable slot within
// each block into a local value threaded via φ-nodes at block boundaries,
// a simplified single-slot version of the standard mem2reg algorithm.
func promoteAlloca(b *ir.Builder, scope *analysis.Scope, alloca *ir.Value) bool {
	blocks := scope.Blocks()
	exitValue := make(map[*ir.Block]*ir.Value)
	phiFor := make(map[*ir.Block]*ir.Value)
	changed := false

	predCounts := make(map[*ir.Block]int)
	for _, blk := range blocks {
		for _, s := range blk.Successors() {
			predCounts[s]++
		}
	}

	for _, blk := range blocks {
		var current *ir.Value
		if predCounts[blk] > 1 {
			phi := b.InsertPhi(blk, alloca.Type.Elem)
			phiFor[blk] = phi
			current = phi
		} else {
			preds := predecessorsInOrder(blocks, blk)
			if len(preds) == 1 {
				current = exitValue[preds[0]]
			}
		}

		for _, v := range append([]*ir.Value(nil), blk.Values()...) {
			switch v.Kind {
			case ir.KLoad:
				if v.Operand(0) != alloca {
					continue
				}
				if current != nil {
					// current is an existing value, so rewire uses and drop
					// the load rather than splicing a duplicate into the
					// block.
					b.ReplaceAllUses(v, current)
					b.RemoveValue(v)
					changed = true
				}
			case ir.KStore:
				if v.Operand(0) != alloca {
					continue
				}
				current = v.Operand(1)
				b.RemoveValue(v)
				changed = true
			}
		}
		exitValue[blk] = current
	}

	for blk, phi := range phiFor {
		for _, pred := range predecessorsInOrder(blocks, blk) {
			if val := exitValue[pred]; val != nil {
				b.AddIncoming(phi, pred, val)
			}
		}
	}

	if changed && len(alloca.Uses()) == 0 {
		b.RemoveValue(alloca)
	}
	return changed
}

func predecessorsInOrder(blocks []*ir.Block, target *ir.Block) []*ir.Block {
	var preds []*ir.Block
	for _, b := range blocks {
		for _, s := range b.Successors() {
			if s == target {
				preds = append(preds, b)
			}
		}
	}
	return preds
}
