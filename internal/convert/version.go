package convert

import (
	"sort"

	"github.com/mwilde234/graphport/internal/version"
)

// toolStamp is the convertedBy provenance value.
func toolStamp() string {
	return "graphport " + version.String()
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
