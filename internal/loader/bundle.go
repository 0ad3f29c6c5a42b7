package loader

import (
	"encoding/base64"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/tensor"
)

// A package bundle is the parsed-source interchange file the external
// package reader produces: meta-graphs selected by tag set, each carrying a
// graph-def, its signatures, an optional initializer subgraph, resource
// bindings between the two, stored variable values and asset references.

// BundleFileName is the bundle file expected inside a saved-model or
// hub-module directory.
const BundleFileName = "saved_model.json"

type bundleJSON struct {
	GeneratedBy string          `json:"generatedBy,omitempty"`
	MetaGraphs  []metaGraphJSON `json:"metaGraphs"`
}

type metaGraphJSON struct {
	Tags                 []string                 `json:"tags"`
	Graph                *graph.Graph             `json:"graph"`
	Signatures           map[string]signatureJSON `json:"signatureDefs"`
	InitializerGraph     *graph.Graph             `json:"initializerGraph,omitempty"`
	InitializerSignature *signatureJSON           `json:"initializerSignature,omitempty"`
	ResourceBindings     []bindingJSON            `json:"resourceBindings,omitempty"`
	Variables            map[string]variableJSON  `json:"variables,omitempty"`
	Assets               []string                 `json:"assets,omitempty"`
}

type signatureJSON struct {
	Inputs  map[string]tensorSpecJSON `json:"inputs"`
	Outputs map[string]tensorSpecJSON `json:"outputs"`
}

type tensorSpecJSON struct {
	Name  string  `json:"name"`
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape,omitempty"`
}

type bindingJSON struct {
	InitializerOutput string `json:"initializerOutput"`
	ModelInput        string `json:"modelInput"`
}

type variableJSON struct {
	DType string  `json:"dtype"`
	Shape []int64 `json:"shape"`
	Data  string  `json:"data"` // base64, little-endian layout
	// StringData carries string tensor elements instead of Data.
	StringData []string `json:"stringData,omitempty"`
}

func readBundle(path string) (*bundleJSON, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, loadErrf(path, err, "cannot read package bundle")
	}
	var b bundleJSON
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, loadErrf(path, err, "malformed package bundle")
	}
	if len(b.MetaGraphs) == 0 {
		return nil, loadErrf(path, nil, "package bundle contains no meta-graphs")
	}
	return &b, nil
}

// selectMetaGraph finds the meta-graph whose tag set equals tags exactly.
func (b *bundleJSON) selectMetaGraph(path string, tags []string) (*metaGraphJSON, error) {
	for i := range b.MetaGraphs {
		if sameTagSet(b.MetaGraphs[i].Tags, tags) {
			return &b.MetaGraphs[i], nil
		}
	}
	return nil, loadErrf(path, nil, "no meta-graph with tag set %v", tags)
}

func sameTagSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if !set[t] {
			return false
		}
	}
	return true
}

func signatureFromJSON(key string, js signatureJSON) Signature {
	sig := Signature{
		Key:     key,
		Inputs:  make(map[string]TensorSpec, len(js.Inputs)),
		Outputs: make(map[string]TensorSpec, len(js.Outputs)),
	}
	for name, ts := range js.Inputs {
		sig.Inputs[name] = tensorSpecFromJSON(ts)
	}
	for name, ts := range js.Outputs {
		sig.Outputs[name] = tensorSpecFromJSON(ts)
	}
	return sig
}

func tensorSpecFromJSON(ts tensorSpecJSON) TensorSpec {
	spec := TensorSpec{Name: ts.Name, Shape: ts.Shape}
	if d, err := tensor.ParseProtoName(ts.DType); err == nil {
		spec.DType = d
	} else if tensor.DType(ts.DType).Valid() {
		spec.DType = tensor.DType(ts.DType)
	}
	return spec
}

func variablesFromJSON(path string, vars map[string]variableJSON) (map[string]*tensor.Value, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	out := make(map[string]*tensor.Value, len(vars))
	for name, vj := range vars {
		d := tensor.DType(vj.DType)
		if !d.Valid() {
			parsed, err := tensor.ParseProtoName(vj.DType)
			if err != nil {
				return nil, loadErrf(path, nil, "variable %s has unknown dtype %q", name, vj.DType)
			}
			d = parsed
		}
		var (
			v   *tensor.Value
			err error
		)
		if d == tensor.String {
			v, err = tensor.NewString(vj.Shape, vj.StringData)
		} else {
			var raw []byte
			raw, err = base64.StdEncoding.DecodeString(vj.Data)
			if err == nil {
				v, err = tensor.FromRaw(d, vj.Shape, raw)
			}
		}
		if err != nil {
			return nil, loadErrf(path, err, "variable %s", name)
		}
		out[name] = v
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
