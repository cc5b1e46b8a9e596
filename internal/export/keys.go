package export

import (
	"sort"

	"github.com/pingsantohq/smokestack/internal/classify"
)

// CursorKey names the cursor of one target's series in one stream.
func CursorKey(target string, stream classify.Stream) string {
	return target + "/" + string(stream)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
