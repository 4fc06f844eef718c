package types

import "testing"

func TestPrimitiveSizes(t *testing.T) {
	in := NewInterner()
	abi := PTXABI
	cases := []struct {
		kind  Kind
		size  int
		align int
	}{
		{Int1, 1, 1},
		{Int8, 1, 1},
		{Int16, 2, 2},
		{Int32, 4, 4},
		{Int64, 8, 8},
		{Float32, 4, 4},
		{Float64, 8, 8},
		{Void, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			ty := in.Primitive(tc.kind)
			if got := abi.SizeOf(ty); got != tc.size {
				t.Fatalf("SizeOf = %d, want %d", got, tc.size)
			}
			if got := abi.AlignOf(ty); got != tc.align {
				t.Fatalf("AlignOf = %d, want %d", got, tc.align)
			}
		})
	}
}

func TestStructLayout(t *testing.T) {
	in := NewInterner()
	abi := PTXABI
	// {i8, i32, i8, i64}: offsets 0, 4, 8, 16; size 24 (tail padded to 8).
	s := in.StructOf(in.Primitive(Int8), in.Primitive(Int32), in.Primitive(Int8), in.Primitive(Int64))
	wantOffsets := []int{0, 4, 8, 16}
	for i, want := range wantOffsets {
		if got := abi.FieldOffset(s, i); got != want {
			t.Fatalf("FieldOffset(%d) = %d, want %d", i, got, want)
		}
	}
	if got := abi.SizeOf(s); got != 24 {
		t.Fatalf("SizeOf = %d, want 24", got)
	}
	if got := abi.AlignOf(s); got != 8 {
		t.Fatalf("AlignOf = %d, want 8", got)
	}
}

func TestPointerWidthPerABI(t *testing.T) {
	in := NewInterner()
	ptr := in.PointerTo(Global, in.Primitive(Int32))
	view := in.ViewOf(Global, in.Primitive(Int32))

	if got := PTXABI.SizeOf(ptr); got != 8 {
		t.Fatalf("PTX pointer size = %d, want 8", got)
	}
	if got := PTXABI.SizeOf(view); got != 16 {
		t.Fatalf("PTX view size = %d, want 16 (pointer + length)", got)
	}

	cl32 := NewOpenCLABI(4)
	if got := cl32.SizeOf(ptr); got != 4 {
		t.Fatalf("OpenCL-32 pointer size = %d, want 4", got)
	}
	if got := cl32.SizeOf(view); got != 8 {
		t.Fatalf("OpenCL-32 view size = %d, want 8", got)
	}
}

func TestArrayStride(t *testing.T) {
	in := NewInterner()
	abi := PTXABI
	// {i32, i8} has size 5 padded to 8; a [3][2] array of it is 48 bytes.
	elem := in.StructOf(in.Primitive(Int32), in.Primitive(Int8))
	arr := in.ArrayOf(elem, 3, 2)
	if got := abi.SizeOf(arr); got != 48 {
		t.Fatalf("SizeOf = %d, want 48", got)
	}
}

func TestInterningIdentity(t *testing.T) {
	in := NewInterner()
	a := in.PointerTo(Global, in.Primitive(Int32))
	b := in.PointerTo(Global, in.Primitive(Int32))
	if a != b {
		t.Fatalf("same shape interned to distinct instances")
	}
	c := in.PointerTo(Shared, in.Primitive(Int32))
	if a == c {
		t.Fatalf("distinct address spaces interned to one instance")
	}
	s1 := in.StructOf(in.Primitive(Int32), in.Primitive(Int64))
	s2 := in.StructOf(in.Primitive(Int32), in.Primitive(Int64))
	if s1 != s2 {
		t.Fatalf("same struct shape interned to distinct instances")
	}
}

func TestCanonicalStrings(t *testing.T) {
	in := NewInterner()
	cases := []struct {
		ty   *Type
		want string
	}{
		{in.Primitive(Int32), "i32"},
		{in.Primitive(Float64), "f64"},
		{in.PointerTo(Global, in.Primitive(Int8)), "ptr<global, i8>"},
		{in.ViewOf(Global, in.Primitive(Float32)), "view<global, f32>"},
		{in.StructOf(in.Primitive(Int32), in.Primitive(Int64)), "struct{i32,i64}"},
		{in.ArrayOf(in.Primitive(Float32), 4, 4), "array<f32>[4,4]"},
	}
	for _, tc := range cases {
		if got := tc.ty.String(); got != tc.want {
			t.Fatalf("String = %q, want %q", got, tc.want)
		}
	}
}
