package catalog

import (
	"sort"
	"strings"
	"time"
)

const (
	DefaultStepSeconds = 300
	DefaultPings       = 20
)

var knownDisplayNames = map[string]string{
	"custom":        "Custom Targets",
	"dns_resolvers": "DNS Resolvers",
	"netflix_oca":   "Netflix OCA",
	"top_sites":     "Top Sites",
}

// DisplayName returns the display name for a category name: a fixed label
// for the well-known categories, title case with spaces otherwise.
func DisplayName(name string) string {
	if v, ok := knownDisplayNames[name]; ok {
		return v
	}
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == '-' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func DefaultCategories(now time.Time) []Category {
	descriptions := map[string]string{
		"custom":        "Manually added targets",
		"dns_resolvers": "Public DNS resolvers measured by query latency",
		"netflix_oca":   "Netflix Open Connect appliances",
		"top_sites":     "Most visited sites",
	}
	names := make([]string, 0, len(knownDisplayNames))
	for name := range knownDisplayNames {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Category, 0, len(names))
	for _, name := range names {
		out = append(out, Category{
			Name:        name,
			DisplayName: knownDisplayNames[name],
			Description: descriptions[name],
			CreatedAt:   now.UTC(),
			UpdatedAt:   now.UTC(),
		})
	}
	return out
}

func DefaultProbes() []ProbeKind {
	return []ProbeKind{
		{Name: "DNS", Type: ProbeDNS, Binary: "/usr/bin/dig", StepSeconds: DefaultStepSeconds, Pings: DefaultPings},
		{Name: "FPing", Type: ProbeFPing, Binary: "/usr/sbin/fping", StepSeconds: DefaultStepSeconds, Pings: DefaultPings, IsDefault: true},
		{Name: "FPing6", Type: ProbeFPing6, Binary: "/usr/sbin/fping", StepSeconds: DefaultStepSeconds, Pings: DefaultPings},
	}
}

// InferProbeType guesses the probe module from a legacy probe name.
func InferProbeType(name string) ProbeType {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "dns"):
		return ProbeDNS
	case strings.HasSuffix(lower, "6"):
		return ProbeFPing6
	default:
		return ProbeFPing
	}
}

func DefaultBinary(name string) string {
	return "/usr/bin/" + strings.ToLower(name)
}

// Normalize completes a snapshot loaded from a legacy source: categories
// referenced only by targets are created, probe defaults are filled in and
// exactly one probe ends up flagged as default (FPing when none is).
// It returns human-readable notes for everything it changed.
func Normalize(s *Snapshot, now time.Time) []string {
	var notes []string

	for i := range s.Probes {
		p := &s.Probes[i]
		if p.Type == "" {
			p.Type = InferProbeType(p.Name)
		}
		if p.Binary == "" {
			p.Binary = DefaultBinary(p.Name)
		}
		if p.StepSeconds <= 0 {
			p.StepSeconds = DefaultStepSeconds
		}
		if p.Pings <= 0 {
			p.Pings = DefaultPings
		}
	}
	defaults := 0
	for _, p := range s.Probes {
		if p.IsDefault {
			defaults++
		}
	}
	if defaults != 1 {
		chosen := -1
		for i, p := range s.Probes {
			if p.IsDefault && chosen < 0 {
				chosen = i
			}
		}
		if chosen < 0 {
			for i, p := range s.Probes {
				if p.Name == "FPing" {
					chosen = i
				}
			}
		}
		if chosen < 0 && len(s.Probes) > 0 {
			chosen = 0
		}
		for i := range s.Probes {
			s.Probes[i].IsDefault = i == chosen
		}
		if chosen >= 0 {
			notes = append(notes, "default probe set to "+s.Probes[chosen].Name)
		}
	}

	probes := make(map[string]struct{}, len(s.Probes))
	for _, p := range s.Probes {
		probes[p.Name] = struct{}{}
	}
	def, _ := s.DefaultProbe()
	for i := range s.Targets {
		t := &s.Targets[i]
		if t.Probe == "" {
			t.Probe = def.Name
			continue
		}
		if _, ok := probes[t.Probe]; ok {
			continue
		}
		probes[t.Probe] = struct{}{}
		s.Probes = append(s.Probes, ProbeKind{
			Name:        t.Probe,
			Type:        InferProbeType(t.Probe),
			Binary:      DefaultBinary(t.Probe),
			StepSeconds: DefaultStepSeconds,
			Pings:       DefaultPings,
		})
		notes = append(notes, "created probe "+t.Probe)
	}

	known := make(map[string]struct{}, len(s.Categories))
	for _, c := range s.Categories {
		known[c.Name] = struct{}{}
	}
	for _, t := range s.Targets {
		if _, ok := known[t.Category]; ok || t.Category == "" {
			continue
		}
		known[t.Category] = struct{}{}
		s.Categories = append(s.Categories, Category{
			Name:        t.Category,
			DisplayName: DisplayName(t.Category),
			CreatedAt:   now.UTC(),
			UpdatedAt:   now.UTC(),
		})
		notes = append(notes, "created category "+t.Category)
	}
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Name < s.Categories[j].Name })
	sort.Slice(s.Probes, func(i, j int) bool { return s.Probes[i].Name < s.Probes[j].Name })
	sort.Slice(s.Sources, func(i, j int) bool { return s.Sources[i].Name < s.Sources[j].Name })
	SortTargets(s.Targets)
	return notes
}
