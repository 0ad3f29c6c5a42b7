// Package weights packs a resolved weight store into size-bounded binary
// shards plus per-weight manifest records. Packing is greedy left-to-right
// in store order: deterministic, minimal for that order, and it never splits
// a single weight across shards.
package weights

import (
	"errors"
	"fmt"

	"github.com/mwilde234/graphport/internal/resolve"
	"github.com/mwilde234/graphport/internal/tensor"
)

// Entry records where one weight landed.
type Entry struct {
	Name   string
	DType  tensor.DType
	Shape  []int64
	Shard  int
	Offset int64
}

// Shard is one finished byte buffer plus the names it holds, in buffer order.
type Shard struct {
	Data    []byte
	Weights []string
}

// Manifest is the complete packed weight payload.
type Manifest struct {
	Shards  []Shard
	Entries []Entry
}

// Build packs store into shards of at most maxShardBytes each. A zero or
// negative budget disables splitting (one shard). A lone weight larger than
// the budget still gets its own shard.
func Build(store *resolve.WeightStore, maxShardBytes int64) (*Manifest, error) {
	if store == nil {
		return nil, errors.New("weights: nil store")
	}
	m := &Manifest{}
	if store.Len() == 0 {
		return m, nil
	}

	var cur Shard
	flush := func() {
		if len(cur.Weights) > 0 {
			m.Shards = append(m.Shards, cur)
			cur = Shard{}
		}
	}
	for _, name := range store.Names() {
		v := store.Get(name)
		size := v.ByteLen()
		if maxShardBytes > 0 && len(cur.Weights) > 0 && int64(len(cur.Data))+size > maxShardBytes {
			flush()
		}
		offset := int64(len(cur.Data))
		encoded, err := v.Encode(cur.Data)
		if err != nil {
			return nil, fmt.Errorf("weights: encoding %q: %w", name, err)
		}
		cur.Data = encoded
		cur.Weights = append(cur.Weights, name)
		m.Entries = append(m.Entries, Entry{
			Name:   name,
			DType:  v.DType(),
			Shape:  v.Shape(),
			Shard:  len(m.Shards),
			Offset: offset,
		})
	}
	flush()
	return m, nil
}

// ShardFileName names the idx-th of total shard files in group. The pattern
// is fixed; runtimes derive shard URLs from it.
func ShardFileName(group, idx, total int) string {
	return fmt.Sprintf("group%d-shard%dof%d.bin", group, idx+1, total)
}

// FileNames returns the shard file names for group 1, in shard order.
func (m *Manifest) FileNames() []string {
	out := make([]string, len(m.Shards))
	for i := range m.Shards {
		out[i] = ShardFileName(1, i, len(m.Shards))
	}
	return out
}

// TotalBytes sums the shard sizes.
func (m *Manifest) TotalBytes() int64 {
	var n int64
	for _, s := range m.Shards {
		n += int64(len(s.Data))
	}
	return n
}
