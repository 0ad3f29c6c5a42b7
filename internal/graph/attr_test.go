package graph

import (
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/tensor"
)

func roundTripAttr(t *testing.T, a *AttrValue) *AttrValue {
	t.Helper()
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back AttrValue
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return &back
}

func TestStringAttrJSON(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(StringAttr("SAME"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// String payloads are base64 on the wire.
	if string(raw) != `{"s":"U0FNRQ=="}` {
		t.Fatalf("wire form = %s", raw)
	}
	back := roundTripAttr(t, StringAttr("SAME"))
	if back.Kind != AttrString || back.S != "SAME" {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestIntAttrJSONIsDecimalString(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(IntAttr(1 << 40))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"i":"1099511627776"`) {
		t.Fatalf("wire form = %s", raw)
	}
	back := roundTripAttr(t, IntAttr(-3))
	if back.Kind != AttrInt || back.I != -3 {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestTypeAttrJSON(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(TypeAttr(tensor.Float32))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"DT_FLOAT"`) {
		t.Fatalf("wire form = %s", raw)
	}
	back := roundTripAttr(t, TypeAttr(tensor.Int64))
	if back.Kind != AttrType || back.Type != tensor.Int64 {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestShapeAttrJSON(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(ShapeAttr([]int64{2, 3}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"dim":[{"size":"2"},{"size":"3"}]`) {
		t.Fatalf("wire form = %s", raw)
	}
	back := roundTripAttr(t, ShapeAttr([]int64{2, 3}))
	if back.Kind != AttrShape || len(back.Shape) != 2 || back.Shape[1] != 3 {
		t.Fatalf("round trip = %+v", back)
	}

	// nil shape means unknown rank, and survives the trip as nil.
	unknown := roundTripAttr(t, ShapeAttr(nil))
	if unknown.Shape != nil {
		t.Fatalf("unknown rank came back as %v", unknown.Shape)
	}
}

func TestTensorAttrJSON(t *testing.T) {
	t.Parallel()
	v, err := tensor.NewFloat32([]int64{2}, []float32{1, 2})
	if err != nil {
		t.Fatalf("NewFloat32: %v", err)
	}
	back := roundTripAttr(t, TensorAttr(v))
	if back.Kind != AttrTensor {
		t.Fatalf("kind = %d", back.Kind)
	}
	vals, err := back.Tensor.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}
	if vals[0] != 1 || vals[1] != 2 {
		t.Fatalf("values = %v", vals)
	}
}

func TestStringTensorAttrJSON(t *testing.T) {
	t.Parallel()
	v, err := tensor.NewString([]int64{2}, []string{"vocab.txt", ""})
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	back := roundTripAttr(t, TensorAttr(v))
	strs, err := back.Tensor.Strings()
	if err != nil {
		t.Fatalf("Strings: %v", err)
	}
	if strs[0] != "vocab.txt" || strs[1] != "" {
		t.Fatalf("strings = %v", strs)
	}
}

func TestFuncAttrJSON(t *testing.T) {
	t.Parallel()
	raw, err := json.Marshal(FuncAttr("loop_body"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"func":{"name":"loop_body"}}` {
		t.Fatalf("wire form = %s", raw)
	}
	back := roundTripAttr(t, FuncAttr("loop_body"))
	if back.Kind != AttrFunc || back.Func != "loop_body" {
		t.Fatalf("round trip = %+v", back)
	}
}

func TestListAttrJSON(t *testing.T) {
	t.Parallel()
	back := roundTripAttr(t, StringListAttr("BiasAdd", "Relu"))
	if back.Kind != AttrList || len(back.List.S) != 2 || back.List.S[1] != "Relu" {
		t.Fatalf("round trip = %+v", back)
	}

	types := roundTripAttr(t, TypeListAttr(tensor.Float32, tensor.Int32))
	if len(types.List.Type) != 2 || types.List.Type[0] != tensor.Float32 {
		t.Fatalf("type list = %+v", types.List)
	}
}

func TestGraphJSONRoundTrip(t *testing.T) {
	t.Parallel()
	g := New()
	g.SetVersions(Versions{Producer: 987})
	x := g.MustAdd(NewNode("x", "Placeholder"))
	x.Attr["dtype"] = TypeAttr(tensor.Float32)
	g.MustAdd(NewNode("y", "Identity", "x"))

	body := New()
	body.MustAdd(NewNode("add", "AddV2", "arg0", "arg0"))
	if err := g.AddFunction(&Function{
		Name:    "double",
		Args:    []ArgDef{{Name: "arg0", Type: "DT_FLOAT"}},
		Results: []ArgDef{{Name: "out0", Type: "DT_FLOAT"}},
		Ret:     map[string]string{"out0": "add"},
		Body:    body,
	}); err != nil {
		t.Fatalf("AddFunction: %v", err)
	}

	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Graph
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if back.Len() != 2 {
		t.Fatalf("len = %d", back.Len())
	}
	if back.Nodes()[0].Name != "x" || back.Nodes()[1].Name != "y" {
		t.Fatal("node order not preserved")
	}
	if back.GraphVersions().Producer != 987 {
		t.Fatalf("versions = %+v", back.GraphVersions())
	}
	f := back.Function("double")
	if f == nil {
		t.Fatal("function library lost")
	}
	if f.Ret["out0"] != "add" || f.Body.Node("add") == nil {
		t.Fatalf("function round trip = %+v", f)
	}
	if back.Node("x").Attr["dtype"].Type != tensor.Float32 {
		t.Fatal("node attr lost")
	}
}
