package resolve

import (
	"fmt"

	"github.com/mwilde234/graphport/internal/tensor"
)

// WeightStore is the ordered name → value mapping the manifest builder packs.
// Append-only; insertion order is the serialization order, so it must be
// deterministic for a given input graph.
type WeightStore struct {
	order  []string
	values map[string]*tensor.Value
}

// NewWeightStore returns an empty store.
func NewWeightStore() *WeightStore {
	return &WeightStore{values: make(map[string]*tensor.Value)}
}

// Add appends a weight. Duplicate names are an internal invariant violation
// surfaced to the caller.
func (s *WeightStore) Add(name string, v *tensor.Value) error {
	if _, ok := s.values[name]; ok {
		return fmt.Errorf("resolve: duplicate weight name %q", name)
	}
	if v == nil {
		return fmt.Errorf("resolve: nil value for weight %q", name)
	}
	s.values[name] = v
	s.order = append(s.order, name)
	return nil
}

// Get returns the named weight value, or nil.
func (s *WeightStore) Get(name string) *tensor.Value {
	return s.values[name]
}

// Has reports whether the store holds name.
func (s *WeightStore) Has(name string) bool {
	_, ok := s.values[name]
	return ok
}

// Names returns the weight names in insertion order.
func (s *WeightStore) Names() []string {
	return append([]string(nil), s.order...)
}

// Len returns the number of stored weights.
func (s *WeightStore) Len() int { return len(s.order) }
