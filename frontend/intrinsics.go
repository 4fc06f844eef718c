package frontend

import (
	"strings"

	"github.com/wippyai/gpujit/diag"
	"github.com/wippyai/gpujit/hostabi"
	"github.com/wippyai/gpujit/ir"
	"github.com/wippyai/gpujit/types"
)

// indexIntrinsics names every grid/group/local index query, keyed by the
// dotted names a bytecode emitter uses.
var indexIntrinsics = map[string]ir.IntrinsicOp{
	"grid.dim.x": ir.GridDimX, "grid.dim.y": ir.GridDimY, "grid.dim.z": ir.GridDimZ,
	"group.dim.x": ir.GroupDimX, "group.dim.y": ir.GroupDimY, "group.dim.z": ir.GroupDimZ,
	"group.idx.x": ir.GroupIdxX, "group.idx.y": ir.GroupIdxY, "group.idx.z": ir.GroupIdxZ,
	"local.idx.x": ir.LocalIdxX, "local.idx.y": ir.LocalIdxY, "local.idx.z": ir.LocalIdxZ,
}

var mathIntrinsics = map[string]ir.IntrinsicOp{
	"math.sqrt": ir.MathSqrt, "math.sin": ir.MathSin, "math.cos": ir.MathCos,
	"math.exp": ir.MathExp, "math.log": ir.MathLog,
}

// lowerIntrinsic maps one hostabi bytecode intrinsic call onto its ir
// counterpart.
func lowerIntrinsic(b *ir.Builder, imm hostabi.IntrinsicImm, args []*ir.Value) (*ir.Value, error) {
	ctx := b.Method().Context()

	if op, ok := indexIntrinsics[imm.Name]; ok {
		i32 := ctx.Types.Primitive(types.Int32)
		return b.Intrinsic(i32, ir.IntrinsicImm{Op: op}), nil
	}
	if op, ok := mathIntrinsics[imm.Name]; ok {
		if len(args) != 1 {
			return nil, diag.InvalidStackState(b.Method().Name(), "math intrinsic expects exactly one argument")
		}
		return b.Intrinsic(args[0].Type, ir.IntrinsicImm{Op: op}, args[0]), nil
	}
	if imm.Name == "barrier" {
		void := ctx.Types.Primitive(types.Void)
		return b.Intrinsic(void, ir.IntrinsicImm{Op: ir.Barrier}), nil
	}
	if strings.HasPrefix(imm.Name, "warp.shuffle") {
		if len(args) == 0 {
			return nil, diag.InvalidStackState(b.Method().Name(), "warp.shuffle expects at least one argument")
		}
		mode := "idx"
		if i := strings.LastIndex(imm.Name, "."); i >= 0 && i+1 < len(imm.Name) {
			switch imm.Name[i+1:] {
			case "up", "down", "xor", "idx":
				mode = imm.Name[i+1:]
			}
		}
		return b.Intrinsic(args[0].Type, ir.IntrinsicImm{Op: ir.WarpShuffle, ShuffleMode: mode, Width: imm.Width}, args...), nil
	}

	return nil, diag.NotSupported(diag.PhaseFrontend, b.Method().Name(), "unrecognized intrinsic "+imm.Name)
}
