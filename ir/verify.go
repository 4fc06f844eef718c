package ir

import (
	"github.com/wippyai/gpujit/diag"
	"go.uber.org/multierr"
)

// Verify checks the value-graph invariants against m's
// current IR and returns every violation found, combined with multierr
// so a single pass over a broken method reports everything wrong with it
// instead of stopping at the first problem.
func Verify(m *Method) error {
	var err error

	for _, blk := range m.blocks {
		err = multierr.Append(err, verifyBlock(m, blk))
	}

	return err
}

func verifyBlock(m *Method, blk *Block) error {
	var err error

	terminators := 0
	for i, v := range blk.values {
		if v.IsTerminator() {
			terminators++
			if i != len(blk.values)-1 {
				err = multierr.Append(err, diag.New(diag.PhaseBuild, diag.KindInvalidCodeGeneration).
					Method(m.Name()).
					Detail("block %s has a terminator %s before its tail", blk.Name, v).Build())
			}
		}
		if v.Kind == KPhi && i > 0 {
			for j := 0; j < i; j++ {
				if blk.values[j].Kind != KPhi {
					err = multierr.Append(err, diag.New(diag.PhaseBuild, diag.KindInvalidCodeGeneration).
						Method(m.Name()).
						Detail("phi %s does not appear at the head of block %s", v, blk.Name).Build())
					break
				}
			}
		}
		for _, op := range v.operand {
			if op.users[v] == 0 {
				err = multierr.Append(err, diag.New(diag.PhaseBuild, diag.KindInvalidCodeGeneration).
					Method(m.Name()).
					Detail("%s operand %s is missing a symmetric use edge", v, op).Build())
			}
		}
	}

	if terminators != 1 {
		err = multierr.Append(err, diag.New(diag.PhaseBuild, diag.KindInvalidCodeGeneration).
			Method(m.Name()).
			Detail("block %s has %d terminators, want exactly 1", blk.Name, terminators).Build())
	}

	return err
}
