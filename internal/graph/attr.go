package graph

import (
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/tensor"
)

// AttrKind discriminates the value stored in an AttrValue.
type AttrKind int

const (
	AttrInvalid AttrKind = iota
	AttrString
	AttrInt
	AttrFloat
	AttrBool
	AttrType
	AttrShape
	AttrTensor
	AttrFunc
	AttrList
)

// AttrValue is one typed node attribute. Exactly one field corresponding to
// Kind is meaningful. The JSON form follows the serialized-graph convention:
// string payloads are base64, int64 values are decimal strings, dtypes are
// their enum names and shapes are {"dim":[{"size":"2"},...]} objects.
type AttrValue struct {
	Kind   AttrKind
	S      string
	I      int64
	F      float64
	B      bool
	Type   tensor.DType
	Shape  []int64
	Tensor *tensor.Value
	Func   string
	List   ListValue
}

// ListValue is the list variant of AttrValue; at most one field is populated.
type ListValue struct {
	S     []string
	I     []int64
	F     []float64
	B     []bool
	Type  []tensor.DType
	Shape [][]int64
}

func StringAttr(s string) *AttrValue        { return &AttrValue{Kind: AttrString, S: s} }
func IntAttr(i int64) *AttrValue            { return &AttrValue{Kind: AttrInt, I: i} }
func FloatAttr(f float64) *AttrValue        { return &AttrValue{Kind: AttrFloat, F: f} }
func BoolAttr(b bool) *AttrValue            { return &AttrValue{Kind: AttrBool, B: b} }
func TypeAttr(d tensor.DType) *AttrValue    { return &AttrValue{Kind: AttrType, Type: d} }
func ShapeAttr(dims []int64) *AttrValue     { return &AttrValue{Kind: AttrShape, Shape: dims} }
func TensorAttr(v *tensor.Value) *AttrValue { return &AttrValue{Kind: AttrTensor, Tensor: v} }
func FuncAttr(name string) *AttrValue       { return &AttrValue{Kind: AttrFunc, Func: name} }

func StringListAttr(s ...string) *AttrValue {
	return &AttrValue{Kind: AttrList, List: ListValue{S: s}}
}

func TypeListAttr(ts ...tensor.DType) *AttrValue {
	return &AttrValue{Kind: AttrList, List: ListValue{Type: ts}}
}

// jsonAttr is the wire layout of an attribute value.
type jsonAttr struct {
	S      *string         `json:"s,omitempty"`
	I      *string         `json:"i,omitempty"`
	F      *float64        `json:"f,omitempty"`
	B      *bool           `json:"b,omitempty"`
	Type   string          `json:"type,omitempty"`
	Shape  *jsonShape      `json:"shape,omitempty"`
	Tensor *jsonTensor     `json:"tensor,omitempty"`
	Func   *jsonFuncRef    `json:"func,omitempty"`
	List   *jsonAttrList   `json:"list,omitempty"`
}

type jsonAttrList struct {
	S     []string    `json:"s,omitempty"`
	I     []string    `json:"i,omitempty"`
	F     []float64   `json:"f,omitempty"`
	B     []bool      `json:"b,omitempty"`
	Type  []string    `json:"type,omitempty"`
	Shape []jsonShape `json:"shape,omitempty"`
}

type jsonShape struct {
	Dim         []jsonDim `json:"dim,omitempty"`
	UnknownRank bool      `json:"unknownRank,omitempty"`
}

type jsonDim struct {
	Size string `json:"size"`
}

type jsonTensor struct {
	DType         string    `json:"dtype"`
	TensorShape   jsonShape `json:"tensorShape"`
	TensorContent string    `json:"tensorContent,omitempty"`
	StringVal     []string  `json:"stringVal,omitempty"`
}

type jsonFuncRef struct {
	Name string `json:"name"`
}

func shapeToJSON(dims []int64) *jsonShape {
	if dims == nil {
		return &jsonShape{UnknownRank: true}
	}
	out := &jsonShape{Dim: make([]jsonDim, len(dims))}
	for i, d := range dims {
		out.Dim[i] = jsonDim{Size: strconv.FormatInt(d, 10)}
	}
	return out
}

func shapeFromJSON(s *jsonShape) ([]int64, error) {
	if s == nil || s.UnknownRank {
		return nil, nil
	}
	dims := make([]int64, len(s.Dim))
	for i, d := range s.Dim {
		v, err := strconv.ParseInt(d.Size, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("graph: bad shape dim %q", d.Size)
		}
		dims[i] = v
	}
	return dims, nil
}

// MarshalJSON renders the attribute in its serialized-graph layout.
func (a *AttrValue) MarshalJSON() ([]byte, error) {
	var out jsonAttr
	switch a.Kind {
	case AttrString:
		s := base64.StdEncoding.EncodeToString([]byte(a.S))
		out.S = &s
	case AttrInt:
		s := strconv.FormatInt(a.I, 10)
		out.I = &s
	case AttrFloat:
		f := a.F
		out.F = &f
	case AttrBool:
		b := a.B
		out.B = &b
	case AttrType:
		out.Type = a.Type.ProtoName()
	case AttrShape:
		out.Shape = shapeToJSON(a.Shape)
	case AttrTensor:
		jt, err := tensorToJSON(a.Tensor)
		if err != nil {
			return nil, err
		}
		out.Tensor = jt
	case AttrFunc:
		out.Func = &jsonFuncRef{Name: a.Func}
	case AttrList:
		l := &jsonAttrList{
			F: a.List.F,
			B: a.List.B,
		}
		for _, s := range a.List.S {
			l.S = append(l.S, base64.StdEncoding.EncodeToString([]byte(s)))
		}
		for _, i := range a.List.I {
			l.I = append(l.I, strconv.FormatInt(i, 10))
		}
		for _, t := range a.List.Type {
			l.Type = append(l.Type, t.ProtoName())
		}
		for _, sh := range a.List.Shape {
			l.Shape = append(l.Shape, *shapeToJSON(sh))
		}
		out.List = l
	default:
		return nil, fmt.Errorf("graph: cannot marshal attr of kind %d", a.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the serialized-graph attribute layout.
func (a *AttrValue) UnmarshalJSON(data []byte) error {
	var in jsonAttr
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch {
	case in.S != nil:
		raw, err := base64.StdEncoding.DecodeString(*in.S)
		if err != nil {
			return fmt.Errorf("graph: bad base64 string attr: %w", err)
		}
		*a = AttrValue{Kind: AttrString, S: string(raw)}
	case in.I != nil:
		v, err := strconv.ParseInt(*in.I, 10, 64)
		if err != nil {
			return fmt.Errorf("graph: bad int attr %q", *in.I)
		}
		*a = AttrValue{Kind: AttrInt, I: v}
	case in.F != nil:
		*a = AttrValue{Kind: AttrFloat, F: *in.F}
	case in.B != nil:
		*a = AttrValue{Kind: AttrBool, B: *in.B}
	case in.Type != "":
		d, err := tensor.ParseProtoName(in.Type)
		if err != nil {
			return err
		}
		*a = AttrValue{Kind: AttrType, Type: d}
	case in.Shape != nil:
		dims, err := shapeFromJSON(in.Shape)
		if err != nil {
			return err
		}
		*a = AttrValue{Kind: AttrShape, Shape: dims}
	case in.Tensor != nil:
		v, err := tensorFromJSON(in.Tensor)
		if err != nil {
			return err
		}
		*a = AttrValue{Kind: AttrTensor, Tensor: v}
	case in.Func != nil:
		*a = AttrValue{Kind: AttrFunc, Func: in.Func.Name}
	case in.List != nil:
		out := ListValue{F: in.List.F, B: in.List.B}
		for _, s := range in.List.S {
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return fmt.Errorf("graph: bad base64 list attr: %w", err)
			}
			out.S = append(out.S, string(raw))
		}
		for _, s := range in.List.I {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("graph: bad int list attr %q", s)
			}
			out.I = append(out.I, v)
		}
		for _, s := range in.List.Type {
			d, err := tensor.ParseProtoName(s)
			if err != nil {
				return err
			}
			out.Type = append(out.Type, d)
		}
		for i := range in.List.Shape {
			dims, err := shapeFromJSON(&in.List.Shape[i])
			if err != nil {
				return err
			}
			out.Shape = append(out.Shape, dims)
		}
		*a = AttrValue{Kind: AttrList, List: out}
	default:
		*a = AttrValue{Kind: AttrList}
	}
	return nil
}

func tensorToJSON(v *tensor.Value) (*jsonTensor, error) {
	if v == nil {
		return nil, fmt.Errorf("graph: nil tensor attr")
	}
	out := &jsonTensor{
		DType:       v.DType().ProtoName(),
		TensorShape: *shapeToJSON(v.Shape()),
	}
	switch v.DType() {
	case tensor.String:
		strs, err := v.Strings()
		if err != nil {
			return nil, err
		}
		for _, s := range strs {
			out.StringVal = append(out.StringVal, base64.StdEncoding.EncodeToString([]byte(s)))
		}
	case tensor.Resource:
		return nil, fmt.Errorf("graph: resource tensors cannot appear in attributes")
	default:
		out.TensorContent = base64.StdEncoding.EncodeToString(v.RawData())
	}
	return out, nil
}

func tensorFromJSON(jt *jsonTensor) (*tensor.Value, error) {
	d, err := tensor.ParseProtoName(jt.DType)
	if err != nil {
		return nil, err
	}
	dims, err := shapeFromJSON(&jt.TensorShape)
	if err != nil {
		return nil, err
	}
	if d == tensor.String {
		strs := make([]string, 0, len(jt.StringVal))
		for _, s := range jt.StringVal {
			raw, derr := base64.StdEncoding.DecodeString(s)
			if derr != nil {
				return nil, fmt.Errorf("graph: bad base64 string element: %w", derr)
			}
			strs = append(strs, string(raw))
		}
		return tensor.NewString(dims, strs)
	}
	raw, err := base64.StdEncoding.DecodeString(jt.TensorContent)
	if err != nil {
		return nil, fmt.Errorf("graph: bad base64 tensor content: %w", err)
	}
	return tensor.FromRaw(d, dims, raw)
}
