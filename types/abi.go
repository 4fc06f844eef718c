package types

// ABI computes field offsets, alignments, and sizes for a target platform
//. Two instances are provided: PTX targets always use 64-bit
// pointers; OpenCL's pointer width is configurable (32-bit on some older
// embedded devices).
type ABI struct {
	PointerSize int // bytes
}

// PTXABI is the fixed ABI used by the PTX backend.
var PTXABI = &ABI{PointerSize: 8}

// NewOpenCLABI builds an ABI for an OpenCL target with the given pointer
// width (4 or 8 bytes).
func NewOpenCLABI(pointerSize int) *ABI {
	return &ABI{PointerSize: pointerSize}
}

// SizeOf returns the size in bytes of t under this ABI.
func (a *ABI) SizeOf(t *Type) int {
	switch t.Kind {
	case Int1, Int8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case Void:
		return 0
	case Pointer, View:
		if t.Kind == View {
			return a.PointerSize * 2 // pointer + length
		}
		return a.PointerSize
	case Array:
		n := 1
		for _, d := range t.Dims {
			n *= d
		}
		return a.AlignedSizeOf(t.Elem) * n
	case Struct:
		offset := 0
		maxAlign := 1
		for _, f := range t.Fields {
			align := a.AlignOf(f)
			if align > maxAlign {
				maxAlign = align
			}
			offset = alignUp(offset, align) + a.SizeOf(f)
		}
		return alignUp(offset, maxAlign)
	default:
		return 0
	}
}

// AlignedSizeOf returns SizeOf rounded up to t's own alignment, the
// per-element stride inside an Array.
func (a *ABI) AlignedSizeOf(t *Type) int {
	return alignUp(a.SizeOf(t), a.AlignOf(t))
}

// AlignOf returns the required alignment in bytes of t under this ABI.
func (a *ABI) AlignOf(t *Type) int {
	switch t.Kind {
	case Int1, Int8:
		return 1
	case Int16:
		return 2
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	case Pointer, View:
		return a.PointerSize
	case Array:
		return a.AlignOf(t.Elem)
	case Struct:
		maxAlign := 1
		for _, f := range t.Fields {
			if al := a.AlignOf(f); al > maxAlign {
				maxAlign = al
			}
		}
		return maxAlign
	default:
		return 1
	}
}

// FieldOffset returns the byte offset of field index i within struct type t.
func (a *ABI) FieldOffset(t *Type, i int) int {
	offset := 0
	for idx, f := range t.Fields {
		align := a.AlignOf(f)
		offset = alignUp(offset, align)
		if idx == i {
			return offset
		}
		offset += a.SizeOf(f)
	}
	panic("types: field index out of range")
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
