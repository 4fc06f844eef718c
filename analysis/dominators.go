package analysis

import "github.com/wippyai/gpujit/ir"

// Dominators holds the immediate dominator of every reachable block.
// Cooper/Harvey/Kennedy's iterative RPO intersection reaches the same
// fixed point as semi-NCA at the CFG sizes a single kernel method
// produces, so that is what this implements.
type Dominators struct {
	scope *Scope
	idom  []int // idom[i] is the RPO index of block i's immediate dominator, -1 for entry
}

// ComputeDominators builds the dominator tree for every block in scope.
func ComputeDominators(scope *Scope) *Dominators {
	n := len(scope.order)
	idom := make([]int, n)
	for i := range idom {
		idom[i] = -2 // unprocessed sentinel
	}
	idom[0] = 0 // entry dominates itself

	changed := true
	for changed {
		changed = false
		for i := 1; i < n; i++ {
			b := scope.order[i]
			preds := predecessorsOf(scope, b)
			newIdom := -2
			for _, p := range preds {
				pi := scope.Index(p)
				if pi < 0 || idom[pi] == -2 {
					continue
				}
				if newIdom == -2 {
					newIdom = pi
					continue
				}
				newIdom = intersect(idom, newIdom, pi)
			}
			if newIdom != -2 && newIdom != idom[i] {
				idom[i] = newIdom
				changed = true
			}
		}
	}

	return &Dominators{scope: scope, idom: idom}
}

func intersect(idom []int, a, b int) int {
	for a != b {
		for a > b {
			a = idom[a]
		}
		for b > a {
			b = idom[b]
		}
	}
	return a
}

// IDom returns b's immediate dominator, or nil for the entry block.
func (d *Dominators) IDom(b *ir.Block) *ir.Block {
	i := d.scope.Index(b)
	if i <= 0 {
		return nil
	}
	return d.scope.order[d.idom[i]]
}

// Dominates reports whether a dominates b (every path from entry to b
// passes through a), including a == b.
func (d *Dominators) Dominates(a, b *ir.Block) bool {
	ai, bi := d.scope.Index(a), d.scope.Index(b)
	if ai < 0 || bi < 0 {
		return false
	}
	for bi != 0 {
		if bi == ai {
			return true
		}
		bi = d.idom[bi]
	}
	return ai == 0
}

// CommonDominator returns the nearest block dominating every block in bs,
// used to hoist φ-variable declarations in the OpenCL backend.
func (d *Dominators) CommonDominator(bs []*ir.Block) *ir.Block {
	if len(bs) == 0 {
		return nil
	}
	cur := d.scope.Index(bs[0])
	for _, b := range bs[1:] {
		cur = intersect(d.idom, cur, d.scope.Index(b))
	}
	return d.scope.order[cur]
}
