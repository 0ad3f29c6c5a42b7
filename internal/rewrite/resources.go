package rewrite

import (
	"github.com/mwilde234/graphport/internal/graph"
	"github.com/mwilde234/graphport/internal/loader"
)

// wireResources copies the stable binding identifiers recorded at load time
// onto both ends of every initializer→inference resource relation: the
// inference graph's resource input node (and its signature descriptor) and
// the initializer signature's output descriptor. Runtimes bind the two by
// identifier, never by name, so renames elsewhere in the pipeline are safe.
func wireResources(st *State) error {
	m := st.Model
	if len(m.Bindings) == 0 {
		return nil
	}
	if m.Initializer == nil || m.InitializerSignature == nil {
		return invariantf("resource wiring", "bindings present without an initializer graph")
	}

	for _, b := range m.Bindings {
		inputName := graph.ParseInput(b.ModelInput).Node
		node := m.Graph.Node(inputName)
		if node == nil {
			return invariantf("resource wiring", "binding targets unknown input node %q", inputName)
		}
		node.Attr["resource_id"] = graph.StringAttr(b.ID)

		if !stampSpec(m.Signature.Inputs, b.ModelInput, b.ID) {
			return invariantf("resource wiring", "no signature input for bound tensor %q", b.ModelInput)
		}
		if !stampSpec(m.InitializerSignature.Outputs, b.InitializerOutput, b.ID) {
			return invariantf("resource wiring", "no initializer output for bound tensor %q", b.InitializerOutput)
		}
	}
	return nil
}

// stampSpec sets ResourceID on the signature entry whose tensor reference
// matches ref, returning whether a match was found. Bare refs and their
// ":0" form are treated as the same tensor.
func stampSpec(specs map[string]loader.TensorSpec, ref, id string) bool {
	want := graph.ParseInput(ref)
	for key, spec := range specs {
		if graph.ParseInput(spec.Name) != want {
			continue
		}
		spec.ResourceID = id
		specs[key] = spec
		return true
	}
	return false
}
