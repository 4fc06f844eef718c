package ir

import (
	"math"
	"testing"

	"github.com/wippyai/gpujit/types"
)

// refBinary is an independent reference evaluator for the integer fold
// table, written directly against the documented semantics: two's
// complement wraparound, shift counts reduced modulo the width,
// MinValue/-1 saturating, division by zero poisoning.
func refBinary(op BinOp, unsigned bool, width int, a, b uint64) (uint64, bool) {
	mask := maskFor(width)
	a &= mask
	b &= mask
	sa, sb := signExtend(a, width), signExtend(b, width)
	minVal := int64(-1) << (width - 1)

	wrap := func(x int64) uint64 { return uint64(x) & mask }

	switch op {
	case Add:
		return wrap(sa + sb), false
	case Sub:
		return wrap(sa - sb), false
	case Mul:
		return wrap(sa * sb), false
	case Div:
		if b == 0 {
			return 0, true
		}
		if unsigned {
			return (a / b) & mask, false
		}
		if sa == minVal && sb == -1 {
			return wrap(minVal), false
		}
		return wrap(sa / sb), false
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
		return wrap(sa % sb), false
	case And:
		return a & b, false
	case Or:
		return a | b, false
	case Xor:
		return a ^ b, false
	case Shl:
		return (a << (b % uint64(width))) & mask, false
	case Shr:
		sh := b % uint64(width)
		if unsigned {
			return a >> sh, false
		}
		return wrap(sa >> sh), false
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
	}
	return 0, false
}

func TestBinaryOpExhaustive(t *testing.T) {
	ops := []BinOp{Add, Sub, Mul, Div, Rem, And, Or, Xor, Shl, Shr, Min, Max}
	widths := []struct {
		kind  types.Kind
		width int
	}{
		{types.Int8, 8}, {types.Int16, 16}, {types.Int32, 32}, {types.Int64, 64},
	}

	for _, signedness := range []bool{false, true} { // false = signed, true = unsigned
		unsigned := signedness
		for _, w := range widths {
			mask := maskFor(w.width)
			var minVal, maxVal uint64
			if unsigned {
				minVal, maxVal = 0, mask
			} else {
				minVal = uint64(1) << (w.width - 1) // sign bit only
				maxVal = minVal - 1
			}
			operands := [][2]uint64{
				{maxVal, 1},
				{minVal, maxVal},
				{(minVal + 1) & mask, maxVal},
				{0, maxVal},
				{0, (maxVal - 1) & mask},
				{1, 1},
				{6, 2},
				{5, 19},
			}
			for _, op := range ops {
				for _, pair := range operands {
					got, gotPoison := evalBinaryInt(op, unsigned, w.width, pair[0], pair[1])
					want, wantPoison := refBinary(op, unsigned, w.width, pair[0], pair[1])
					if gotPoison != wantPoison || (!gotPoison && got != want) {
						t.Fatalf("%s %s unsigned=%v (%#x, %#x): got (%#x, poison=%v), want (%#x, poison=%v)",
							op, w.kind, unsigned, pair[0], pair[1], got, gotPoison, want, wantPoison)
					}
				}
			}
		}
	}
}

func TestIntegerOverflowWraps(t *testing.T) {
	// MaxInt32 + 1 wraps to MinInt32.
	got, poison := evalBinaryInt(Add, false, 32, uint64(math.MaxInt32), 1)
	if poison {
		t.Fatalf("unexpected poison")
	}
	if int32(got) != math.MinInt32 {
		t.Fatalf("got %d, want %d", int32(got), math.MinInt32)
	}
}

func TestMinValueDivNegOneAllWidths(t *testing.T) {
	for _, width := range []int{8, 16, 32, 64} {
		minVal := uint64(1) << (width - 1)
		negOne := maskFor(width)
		got, poison := evalBinaryInt(Div, false, width, minVal, negOne)
		if poison {
			t.Fatalf("width %d: unexpected poison", width)
		}
		if got != minVal&maskFor(width) {
			t.Fatalf("width %d: got %#x, want %#x", width, got, minVal)
		}
		rem, poison := evalBinaryInt(Rem, false, width, minVal, negOne)
		if poison || rem != 0 {
			t.Fatalf("width %d: rem = (%#x, %v), want (0, false)", width, rem, poison)
		}
	}
}

func TestFloatMinMaxIgnoreNaN(t *testing.T) {
	nan := math.Float64bits(math.NaN())
	three := math.Float64bits(3.0)

	cases := []struct {
		name string
		op   BinOp
		a, b uint64
		want uint64
	}{
		{"min(NaN, 3)", Min, nan, three, three},
		{"min(3, NaN)", Min, three, nan, three},
		{"max(NaN, 3)", Max, nan, three, three},
		{"max(3, NaN)", Max, three, nan, three},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := evalBinaryFloat(tc.op, 64, tc.a, tc.b)
			if got != tc.want {
				t.Fatalf("got %v, want %v", math.Float64frombits(got), math.Float64frombits(tc.want))
			}
		})
	}

	// Both NaN: result stays NaN.
	if got := evalBinaryFloat(Min, 64, nan, nan); !math.IsNaN(math.Float64frombits(got)) {
		t.Fatalf("min(NaN, NaN) = %v, want NaN", math.Float64frombits(got))
	}
}

func TestFloatDivisionByZero(t *testing.T) {
	one := math.Float64bits(1.0)
	zero := math.Float64bits(0.0)
	negOne := math.Float64bits(-1.0)

	if got := math.Float64frombits(evalBinaryFloat(Div, 64, one, zero)); !math.IsInf(got, 1) {
		t.Fatalf("1/0 = %v, want +Inf", got)
	}
	if got := math.Float64frombits(evalBinaryFloat(Div, 64, negOne, zero)); !math.IsInf(got, -1) {
		t.Fatalf("-1/0 = %v, want -Inf", got)
	}
	if got := math.Float64frombits(evalBinaryFloat(Div, 64, zero, zero)); !math.IsNaN(got) {
		t.Fatalf("0/0 = %v, want NaN", got)
	}
}

func TestUnorderedFloatCompare(t *testing.T) {
	nan := math.Float64bits(math.NaN())
	one := math.Float64bits(1.0)

	// Ordered comparisons with a NaN operand are false; unordered true.
	for rel := RelEQ; rel <= RelGE; rel++ {
		if evalCompareFloat(rel, false, 64, nan, one) {
			t.Fatalf("ordered %s with NaN operand should be false", rel)
		}
		if !evalCompareFloat(rel, true, 64, nan, one) {
			t.Fatalf("unordered %s with NaN operand should be true", rel)
		}
	}
	if !evalCompareFloat(RelLT, false, 64, one, math.Float64bits(2.0)) {
		t.Fatalf("1 < 2 should hold")
	}
}

func TestFloat32Arithmetic(t *testing.T) {
	a := uint64(math.Float32bits(1.5))
	b := uint64(math.Float32bits(2.25))
	got := math.Float32frombits(uint32(evalBinaryFloat(Add, 32, a, b)))
	if got != 3.75 {
		t.Fatalf("1.5 + 2.25 = %v, want 3.75", got)
	}
}
