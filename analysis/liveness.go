package analysis

import "github.com/wippyai/gpujit/ir"

// Liveness records, for every value with at least one use, the last
// instruction (by position within its defining block, or across blocks
// via LiveOut) that reads it. The PTX backend's linear allocator uses
// this to free registers "whose value has no further uses in the block
// order (simple live-range ending at last use)".
type Liveness struct {
	lastUseInBlock map[*ir.Value]int // position of the last use within the defining block, -1 if none locally
	liveOut        map[*ir.Block]map[*ir.Value]bool
}

// ComputeLiveness performs a standard backward liveness pass over scope's
// blocks, iterating to a fixed point over predecessor/successor edges.
func ComputeLiveness(scope *Scope) *Liveness {
	blocks := scope.Blocks()
	liveIn := make(map[*ir.Block]map[*ir.Value]bool, len(blocks))
	liveOut := make(map[*ir.Block]map[*ir.Value]bool, len(blocks))
	for _, b := range blocks {
		liveIn[b] = make(map[*ir.Value]bool)
		liveOut[b] = make(map[*ir.Value]bool)
	}

	changed := true
	for changed {
		changed = false
		for i := len(blocks) - 1; i >= 0; i-- {
			b := blocks[i]
			out := make(map[*ir.Value]bool)
			for _, s := range b.Successors() {
				for v := range liveIn[s] {
					out[v] = true
				}
			}
			in := make(map[*ir.Value]bool)
			for v := range out {
				in[v] = true
			}
			for j := len(b.Values()) - 1; j >= 0; j-- {
				v := b.Values()[j]
				delete(in, v)
				for _, op := range v.Operands() {
					in[op] = true
				}
			}
			if !sameSet(in, liveIn[b]) {
				liveIn[b] = in
				changed = true
			}
			if !sameSet(out, liveOut[b]) {
				liveOut[b] = out
				changed = true
			}
		}
	}

	lastUse := make(map[*ir.Value]int)
	for _, b := range blocks {
		for pos, v := range b.Values() {
			for _, op := range v.Operands() {
				if op.Block == b {
					lastUse[op] = pos
				}
			}
		}
	}

	return &Liveness{lastUseInBlock: lastUse, liveOut: liveOut}
}

func sameSet(a, b map[*ir.Value]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// LiveOut returns the set of values live on exit from b.
func (l *Liveness) LiveOut(b *ir.Block) map[*ir.Value]bool {
	return l.liveOut[b]
}

// LastUsePosition returns the index within v's defining block of the last
// instruction that consumes v, or -1 if v has no local use (it may still
// be live-out).
func (l *Liveness) LastUsePosition(v *ir.Value) int {
	if pos, ok := l.lastUseInBlock[v]; ok {
		return pos
	}
	return -1
}

// DiesAt reports whether v's live range ends at position pos within its
// own defining block and it is not live-out of that block.
func (l *Liveness) DiesAt(v *ir.Value, pos int) bool {
	if v.Block == nil {
		return false
	}
	if l.liveOut[v.Block][v] {
		return false
	}
	return l.LastUsePosition(v) == pos
}
