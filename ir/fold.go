package ir

import (
	"math"

	"github.com/wippyai/gpujit/types"
)

// widthOf returns the bit width of an integer or float primitive kind.
func widthOf(k types.Kind) int {
	switch k {
	case types.Int1:
		return 1
	case types.Int8:
		return 8
	case types.Int16:
		return 16
	case types.Int32, types.Float32:
		return 32
	case types.Int64, types.Float64:
		return 64
	default:
		return 0
	}
}

func maskFor(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (uint64(1) << width) - 1
}

func signExtend(bits uint64, width int) int64 {
	if width >= 64 {
		return int64(bits)
	}
	shift := 64 - width
	return int64(bits<<shift) >> shift
}

// evalBinaryInt implements the integer fold table:
// two's-complement wraparound on overflow, division/remainder by zero
// yields Poison (signaled via the poison return), MinValue / -1 saturates
// to MinValue rather than trapping.
func evalBinaryInt(op BinOp, unsigned bool, width int, a, b uint64) (result uint64, poison bool) {
	mask := maskFor(width)
	a &= mask
	b &= mask
	sa, sb := signExtend(a, width), signExtend(b, width)
	minVal := int64(1) << (width - 1)

	switch op {
	case Add:
		return (a + b) & mask, false
	case Sub:
		return (a - b) & mask, false
	case Mul:
		return (a * b) & mask, false
	case Div:
		if b == 0 {
			return 0, true
		}
		if unsigned {
			return (a / b) & mask, false
		}
		if sa == minVal && sb == -1 {
			return uint64(minVal) & mask, false // MinValue/-1 saturates instead of trapping
		}
		return uint64(sa/sb) & mask, false
	case Rem:
		if b == 0 {
			return 0, true
		}
		if unsigned {
			return (a % b) & mask, false
		}
		if sa == minVal && sb == -1 {
			return 0, false
		}
		return uint64(sa%sb) & mask, false
	case And:
		return (a & b) & mask, false
	case Or:
		return (a | b) & mask, false
	case Xor:
		return (a ^ b) & mask, false
	case Shl:
		sh := b % uint64(width)
		return (a << sh) & mask, false
	case Shr:
		sh := b % uint64(width)
		if unsigned {
			return (a >> sh) & mask, false
		}
		return uint64(sa>>sh) & mask, false
	case Min:
		if unsigned {
			if a < b {
				return a, false
			}
			return b, false
		}
		if sa < sb {
			return a, false
		}
		return b, false
	case Max:
		if unsigned {
			if a > b {
				return a, false
			}
			return b, false
		}
		if sa > sb {
			return a, false
		}
		return b, false
	default:
		return 0, false
	}
}

// evalBinaryFloat implements the floating-point fold table. min/max are
// NaN-aware: always return the non-NaN operand
// (minNumNaN/maxNumNaN), never propagate NaN unless both operands are NaN.
func evalBinaryFloat(op BinOp, width int, a, b uint64) uint64 {
	if width == 32 {
		fa, fb := math.Float32frombits(uint32(a)), math.Float32frombits(uint32(b))
		var r float32
		switch op {
		case Add:
			r = fa + fb
		case Sub:
			r = fa - fb
		case Mul:
			r = fa * fb
		case Div:
			r = fa / fb
		case Rem:
			r = float32(math.Mod(float64(fa), float64(fb)))
		case Min:
			r = float32(minNumNaN(float64(fa), float64(fb)))
		case Max:
			r = float32(maxNumNaN(float64(fa), float64(fb)))
		}
		return uint64(math.Float32bits(r))
	}
	fa, fb := math.Float64frombits(a), math.Float64frombits(b)
	var r float64
	switch op {
	case Add:
		r = fa + fb
	case Sub:
		r = fa - fb
	case Mul:
		r = fa * fb
	case Div:
		r = fa / fb
	case Rem:
		r = math.Mod(fa, fb)
	case Min:
		r = minNumNaN(fa, fb)
	case Max:
		r = maxNumNaN(fa, fb)
	}
	return math.Float64bits(r)
}

func minNumNaN(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	return math.Min(a, b)
}

func maxNumNaN(a, b float64) float64 {
	if math.IsNaN(a) {
		return b
	}
	if math.IsNaN(b) {
		return a
	}
	return math.Max(a, b)
}

func evalUnaryInt(op UnaryOp, width int, a uint64) uint64 {
	mask := maskFor(width)
	switch op {
	case Neg:
		return (^a + 1) & mask
	case Not:
		return (^a) & mask
	case Abs:
		sa := signExtend(a, width)
		if sa < 0 {
			return uint64(-sa) & mask
		}
		return a & mask
	default:
		return a
	}
}

// evalUnaryFloat preserves NaN bit patterns through Abs/Neg:
// these are implemented as pure bit manipulation, not arithmetic, so a
// NaN payload survives exactly.
func evalUnaryFloat(op UnaryOp, width int, a uint64) uint64 {
	if width == 32 {
		bits := uint32(a)
		switch op {
		case Neg:
			return uint64(bits ^ 0x80000000)
		case Abs:
			return uint64(bits &^ 0x80000000)
		}
		return a
	}
	switch op {
	case Neg:
		return a ^ 0x8000000000000000
	case Abs:
		return a &^ 0x8000000000000000
	}
	return a
}

func evalCompareInt(rel Relation, unsigned bool, width int, a, b uint64) bool {
	mask := maskFor(width)
	a, b = a&mask, b&mask
	if unsigned {
		switch rel {
		case RelEQ:
			return a == b
		case RelNE:
			return a != b
		case RelLT:
			return a < b
		case RelLE:
			return a <= b
		case RelGT:
			return a > b
		case RelGE:
			return a >= b
		}
		return false
	}
	sa, sb := signExtend(a, width), signExtend(b, width)
	switch rel {
	case RelEQ:
		return sa == sb
	case RelNE:
		return sa != sb
	case RelLT:
		return sa < sb
	case RelLE:
		return sa <= sb
	case RelGT:
		return sa > sb
	case RelGE:
		return sa >= sb
	}
	return false
}

// evalCompareFloat implements ordered/unordered float comparisons: an
// "ordered" comparison is false whenever either operand is NaN; its
// "unordered" counterpart is true in that case.
func evalCompareFloat(rel Relation, unordered bool, width int, a, b uint64) bool {
	var fa, fb float64
	if width == 32 {
		fa, fb = float64(math.Float32frombits(uint32(a))), float64(math.Float32frombits(uint32(b)))
	} else {
		fa, fb = math.Float64frombits(a), math.Float64frombits(b)
	}
	if math.IsNaN(fa) || math.IsNaN(fb) {
		return unordered
	}
	switch rel {
	case RelEQ:
		return fa == fb
	case RelNE:
		return fa != fb
	case RelLT:
		return fa < fb
	case RelLE:
		return fa <= fb
	case RelGT:
		return fa > fb
	case RelGE:
		return fa >= fb
	}
	return false
}
