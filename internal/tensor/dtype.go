package tensor

import "fmt"

// DType identifies the element type of a tensor value.
// The string form is the one used in weight manifests ("float32", "int32", ...).
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
	Uint16  DType = "uint16"
	Bool    DType = "bool"
	String  DType = "string"
	// Resource marks handle-typed values (lookup tables, variables). Resources
	// carry no payload; they exist so signatures and bindings can be typed.
	Resource DType = "resource"
)

// ElemSize returns the fixed byte width of one element, or 0 for
// variable-width (string) and payload-free (resource) types.
func (d DType) ElemSize() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint16:
		return 2
	case Uint8, Bool:
		return 1
	default:
		return 0
	}
}

// Valid reports whether d is a known dtype.
func (d DType) Valid() bool {
	switch d {
	case Float32, Float64, Int32, Int64, Uint8, Uint16, Bool, String, Resource:
		return true
	}
	return false
}

// protoNames maps dtypes to the enum names used in serialized graph
// attributes (DT_FLOAT et al), and back.
var protoNames = map[DType]string{
	Float32:  "DT_FLOAT",
	Float64:  "DT_DOUBLE",
	Int32:    "DT_INT32",
	Int64:    "DT_INT64",
	Uint8:    "DT_UINT8",
	Uint16:   "DT_UINT16",
	Bool:     "DT_BOOL",
	String:   "DT_STRING",
	Resource: "DT_RESOURCE",
}

var dtypeByProtoName = func() map[string]DType {
	m := make(map[string]DType, len(protoNames))
	for d, n := range protoNames {
		m[n] = d
	}
	return m
}()

// ProtoName returns the graph-attribute enum name for d ("DT_FLOAT").
func (d DType) ProtoName() string {
	if n, ok := protoNames[d]; ok {
		return n
	}
	return "DT_INVALID"
}

// ParseProtoName resolves a graph-attribute enum name back to a DType.
func ParseProtoName(name string) (DType, error) {
	if d, ok := dtypeByProtoName[name]; ok {
		return d, nil
	}
	return "", fmt.Errorf("tensor: unknown dtype %q", name)
}
