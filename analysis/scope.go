// Package analysis computes the read-only facts the transform and backend
// packages need about a method's control-flow graph: reachability order,
// dominance, and liveness.
package analysis

import "github.com/wippyai/gpujit/ir"

// Scope is the set of blocks reachable from a method's entry block, in
// deterministic reverse post-order.
type Scope struct {
	order []*ir.Block
	index map[*ir.Block]int
}

// ComputeScope walks m's CFG from its entry block and returns the
// reachable blocks in deterministic reverse post-order.
func ComputeScope(m *ir.Method) *Scope {
	visited := make(map[*ir.Block]bool)
	var post []*ir.Block

	var visit func(b *ir.Block)
	visit = func(b *ir.Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, succ := range b.Successors() {
			visit(succ)
		}
		post = append(post, b)
	}
	visit(m.Entry)

	order := make([]*ir.Block, len(post))
	for i, b := range post {
		order[len(post)-1-i] = b
	}
	index := make(map[*ir.Block]int, len(order))
	for i, b := range order {
		index[b] = i
	}
	return &Scope{order: order, index: index}
}

// Blocks returns the reachable blocks in reverse post-order.
func (s *Scope) Blocks() []*ir.Block { return s.order }

// Contains reports whether b is reachable from the entry block.
func (s *Scope) Contains(b *ir.Block) bool {
	_, ok := s.index[b]
	return ok
}

// Index returns b's position in reverse post-order, or -1 if unreachable.
func (s *Scope) Index(b *ir.Block) int {
	if i, ok := s.index[b]; ok {
		return i
	}
	return -1
}

func predecessorsOf(scope *Scope, target *ir.Block) []*ir.Block {
	var preds []*ir.Block
	for _, b := range scope.order {
		for _, s := range b.Successors() {
			if s == target {
				preds = append(preds, b)
			}
		}
	}
	return preds
}
