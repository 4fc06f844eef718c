package transform

import (
	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
)

// SimplifyCFG removes empty blocks and folds single-successor chains.
type SimplifyCFG struct{}

func (*SimplifyCFG) Name() string { return "SimplifyCFG" }

func (p *SimplifyCFG) Run(b *ir.Builder, scope *analysis.Scope) (bool, error) {
	changed := false
	for _, blk := range scope.Blocks() {
		if blk == b.Method().Entry {
			continue
		}
		values := blk.Values()
		if len(values) != 1 {
			continue
		}
		term := values[0]
		if term.Kind != ir.KBr {
			continue
		}
		target := term.Imm.(ir.SwitchImm).Default
		if target == blk {
			continue
		}
		retargeted := retargetBranches(scope, blk, target)
		if retargeted {
			changed = true
		}
	}
	return changed, nil
}

// retargetBranches rewrites every branch/condbr/switch edge pointing at
// empty into empty's single successor target, so empty's own br becomes
// unreachable and DeadCodeElim/later GC drops it.
func retargetBranches(scope *analysis.Scope, empty, target *ir.Block) bool {
	changed := false
	for _, blk := range scope.Blocks() {
		if blk == empty {
			continue
		}
		values := blk.Values()
		if len(values) == 0 {
			continue
		}
		term := values[len(values)-1]
		switch term.Kind {
		case ir.KBr:
			imm := term.Imm.(ir.SwitchImm)
			if imm.Default == empty {
				term.Imm = ir.SwitchImm{Default: target}
				changed = true
			}
		case ir.KCondBr:
			imm := term.Imm.(ir.SwitchImm)
			rewritten := false
			for i, t := range imm.Targets {
				if t == empty {
					imm.Targets[i] = target
					rewritten = true
				}
			}
			if rewritten {
				term.Imm = imm
				changed = true
			}
		case ir.KSwitch:
			imm := term.Imm.(ir.SwitchImm)
			rewritten := false
			for i, t := range imm.Targets {
				if t == empty {
					imm.Targets[i] = target
					rewritten = true
				}
			}
			if imm.Default == empty {
				imm.Default = target
				rewritten = true
			}
			if rewritten {
				term.Imm = imm
				changed = true
			}
		}
	}
	return changed
}
