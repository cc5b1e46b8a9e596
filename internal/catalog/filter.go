package catalog

import "sort"

// Filter selects targets. Both backends apply it through Apply so results
// are identical regardless of the authoritative backend.
type Filter struct {
	ActiveOnly bool   `json:"active_only"`
	Category   string `json:"category,omitempty"`
}

func (f Filter) Match(t Target) bool {
	if f.ActiveOnly && !t.Active {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	return true
}

// Apply returns the matching targets ordered by category, then name.
func (f Filter) Apply(targets []Target) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	SortTargets(out)
	return out
}

func SortTargets(targets []Target) {
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Category != targets[j].Category {
			return targets[i].Category < targets[j].Category
		}
		return targets[i].Name < targets[j].Name
	})
}
