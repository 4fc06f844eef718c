// Package transform runs the mandatory optimization passes over a
// method's IR to a fixed point.
package transform

import (
	"go.uber.org/zap"

	"github.com/wippyai/gpujit/analysis"
	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/ir"
)

// DefaultMaxIterations bounds the pass driver's fixed-point loop so a
// pass bug that keeps reporting a change cannot hang compilation.
const DefaultMaxIterations = 16

// Pass mutates a method's IR in place and reports whether it made a
// change. Passes run inside the method's own builder.
type Pass interface {
	Name() string
	Run(b *ir.Builder, scope *analysis.Scope) (changed bool, err error)
}

// Pipeline is the ordered, fixed set of mandatory passes.
func Pipeline() []Pass {
	return []Pass{
		&Inliner{},
		&SimplifyCFG{},
		&ConstantFolder{},
		&DeadCodeElim{},
		&Mem2Reg{},
		&Specialization{},
	}
}

// Run drives the pipeline to a fixed point: each pass runs in order,
// re-running the whole pipeline while any pass reports a change, up to
// maxIter rounds.
func Run(ctx *ir.Context, m *ir.Method, maxIter int) error {
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}
	if m.Flags().Has(ir.TFTransformed) {
		return nil
	}
	b, err := ctx.CreateBuilder(m)
	if err != nil {
		return err
	}
	defer b.Release()

	for round := 0; round < maxIter; round++ {
		scope := analysis.ComputeScope(m)
		anyChanged := false
		for _, pass := range Pipeline() {
			changed, err := pass.Run(b, scope)
			if err != nil {
				return diag.New(diag.PhaseTransform, diag.KindCompilationFailed).
					Method(m.Name()).Cause(err).Detail("pass %s failed", pass.Name()).Build()
			}
			if changed {
				anyChanged = true
				scope = analysis.ComputeScope(m)
			}
		}
		if !anyChanged {
			gc(m, scope)
			m.SetFlag(ir.TFTransformed)
			diag.Logger().Debug("transform converged",
				zap.String("method", m.Name()), zap.Int("rounds", round+1))
			return nil
		}
	}
	gc(m, analysis.ComputeScope(m))
	m.SetFlag(ir.TFTransformed)
	diag.Logger().Warn("transform hit max iterations without converging",
		zap.String("method", m.Name()), zap.Int("max", maxIter))
	return nil
}

// gc compacts the method after the pipeline: unreachable blocks are
// unlinked and the survivors' dirty bits reset.
func gc(m *ir.Method, scope *analysis.Scope) {
	m.CompactBlocks(scope.Contains)
}

