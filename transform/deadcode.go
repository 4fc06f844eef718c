package transform

import (
	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
)

// DeadCodeElim removes values with zero uses and no side effects.
type DeadCodeElim struct{}

func (*DeadCodeElim) Name() string { return "DeadCodeElim" }

func (p *DeadCodeElim) Run(b *ir.Builder, scope *analysis.Scope) (bool, error) {
	changed := false
	// Iterate to a local fixed point: removing one dead value can make its
	// operands dead in turn.
	for {
		removedThisPass := false
		for _, blk := range scope.Blocks() {
			for _, v := range blk.Values() {
				if v.HasSideEffects() {
					continue
				}
				if v.NumUses() > 0 {
					continue
				}
				b.RemoveValue(v)
				removedThisPass = true
				changed = true
			}
		}
		if !removedThisPass {
			break
		}
	}
	return changed, nil
}
