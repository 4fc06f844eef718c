package transform

import (
	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/ir"
)

// ConstantFolder re-folds values whose operands became constant after
// other passes ran. The builder already folds at
// construction time; this pass catches the cases construction-time
// folding cannot see, such as a Binary whose operand was later replaced
// by Mem2Reg or Specialization with a constant.
type ConstantFolder struct{}

func (*ConstantFolder) Name() string { return "ConstantFolder" }

func (p *ConstantFolder) Run(b *ir.Builder, scope *analysis.Scope) (bool, error) {
	changed := false
	for _, blk := range scope.Blocks() {
		for _, v := range blk.Values() {
			switch v.Kind {
			case ir.KBinary:
				lhs, rhs := v.Operand(0), v.Operand(1)
				lc, lok := lhs.Imm.(ir.ConstImm)
				rc, rok := rhs.Imm.(ir.ConstImm)
				if !lok || !rok {
					continue
				}
				imm := v.Imm.(ir.BinaryImm)
				folded := b.FoldBinary(v.Type, imm.Op, imm.Unsigned, lc.Bits, rc.Bits)
				b.ReplaceInPlace(v, folded)
				changed = true
			case ir.KUnary:
				operand := v.Operand(0)
				c, ok := operand.Imm.(ir.ConstImm)
				if !ok {
					continue
				}
				imm := v.Imm.(ir.UnaryImm)
				folded := b.FoldUnary(imm.Op, v.Type, c.Bits)
				b.ReplaceInPlace(v, folded)
				changed = true
			case ir.KCompare:
				lhs, rhs := v.Operand(0), v.Operand(1)
				lc, lok := lhs.Imm.(ir.ConstImm)
				rc, rok := rhs.Imm.(ir.ConstImm)
				if !lok || !rok {
					continue
				}
				imm := v.Imm.(ir.CompareImm)
				folded := b.FoldCompare(imm.Relation, lhs.Type, imm.Unsigned, imm.Unordered, lc.Bits, rc.Bits)
				b.ReplaceInPlace(v, folded)
				changed = true
			}
		}
	}
	return changed, nil
}
