package opencl

import (
	"fmt"
	"strings"

	"github.com/wippyai/gpujit/types"
)

// TypeGenerator maps IR types to their OpenCL C spellings. The mapping is
// not one-to-one: Int1 and Int32 both spell "int", and an array spells
// as its element type.
// Structure and view types get a generated C struct typedef the first
// time they are seen; TypeGenerator remembers the assigned name so
// repeated references reuse it. Not safe for concurrent use — one
// TypeGenerator belongs to one Compile call.
type TypeGenerator struct {
	names    map[*types.Type]string
	structs  []string // emitted `typedef struct {...} name;` definitions, in first-seen order
	nextName int
}

// NewTypeGenerator creates an empty generator.
func NewTypeGenerator() *TypeGenerator {
	return &TypeGenerator{names: make(map[*types.Type]string)}
}

// Name returns the OpenCL C spelling of t, generating and registering a
// struct typedef on first encounter.
func (g *TypeGenerator) Name(t *types.Type) string {
	switch t.Kind {
	case types.Int1:
		return "int"
	case types.Int8:
		return "char"
	case types.Int16:
		return "short"
	case types.Int32:
		return "int"
	case types.Int64:
		return "long"
	case types.Float32:
		return "float"
	case types.Float64:
		return "double"
	case types.Void:
		return "void"
	case types.Pointer:
		return fmt.Sprintf("%s %s*", addressSpaceQualifier(t.Space), g.Name(t.Elem))
	case types.View:
		// Views are split into pointer + length scalars at the parameter
		// list; mid-expression a view still needs a spelling for
		// locals, rendered as the struct pair it conceptually is.
		return g.structName(t)
	case types.Array:
		return g.Name(t.Elem)
	case types.Struct:
		return g.structName(t)
	default:
		return "void"
	}
}

func (g *TypeGenerator) structName(t *types.Type) string {
	if name, ok := g.names[t]; ok {
		return name
	}
	name := fmt.Sprintf("struct_%d", g.nextName)
	g.nextName++
	g.names[t] = name // registered before recursing, so a self-referential field can't loop

	var fields []string
	if t.Kind == types.View {
		fields = []string{
			fmt.Sprintf("%s %s* ptr;", addressSpaceQualifier(t.Space), g.Name(t.Elem)),
			"long len;",
		}
	} else {
		for i, f := range t.Fields {
			fields = append(fields, fmt.Sprintf("%s _f%d;", g.Name(f), i))
		}
	}
	def := fmt.Sprintf("typedef struct {\n    %s\n} %s;", strings.Join(fields, "\n    "), name)
	g.structs = append(g.structs, def)
	return name
}

// Definitions returns every struct typedef emitted so far, in first-seen
// order, for placement at the top of the translation unit.
func (g *TypeGenerator) Definitions() []string {
	return append([]string(nil), g.structs...)
}

// addressSpaceQualifier renders the OpenCL C address-space keyword.
func addressSpaceQualifier(s types.AddressSpace) string {
	switch s {
	case types.Global:
		return "__global"
	case types.Shared, types.Local:
		return "__local"
	case types.Constant:
		return "__constant"
	default:
		return "__private"
	}
}
