package catalog

import (
	"strings"
	"time"
)

// Refs resolves the category and probe references of a target.
type Refs interface {
	Category(name string) (Category, bool)
	Probe(name string) (ProbeKind, bool)
	DefaultProbe() (ProbeKind, bool)
}

// NewTarget validates spec against refs and returns the target to persist.
// Name uniqueness is the caller's concern since only the backend can check
// it inside its own transaction.
func NewTarget(spec TargetSpec, refs Refs, now time.Time) (Target, error) {
	spec = trimSpec(spec)
	if err := ValidateTargetName(spec.Name); err != nil {
		return Target{}, err
	}
	if err := ValidateHost(spec.Host); err != nil {
		return Target{}, err
	}
	if spec.Category == "" {
		return Target{}, Invalid("category", "must not be empty")
	}
	if _, ok := refs.Category(spec.Category); !ok {
		return Target{}, Invalid("category", "unknown category %q", spec.Category)
	}

	probe, err := pickProbe(spec.Probe, spec.Host, refs)
	if err != nil {
		return Target{}, err
	}
	if err := validateAgainstProbe(spec.Host, spec.Lookup, probe); err != nil {
		return Target{}, err
	}

	t := Target{
		Name:      spec.Name,
		Host:      spec.Host,
		Title:     spec.Title,
		Category:  spec.Category,
		Probe:     probe.Name,
		Lookup:    spec.Lookup,
		Active:    true,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	if t.Title == "" {
		t.Title = t.Name
	}
	if spec.Active != nil {
		t.Active = *spec.Active
	}
	if !spec.CDN.Empty() {
		cdn := *spec.CDN
		t.CDN = &cdn
	}
	return t, nil
}

// ApplyPatch returns t with patch applied and revalidated.
func ApplyPatch(t Target, patch TargetPatch, refs Refs, now time.Time) (Target, error) {
	if patch.Title != nil {
		t.Title = strings.TrimSpace(*patch.Title)
		if t.Title == "" {
			t.Title = t.Name
		}
	}
	if patch.Host != nil {
		t.Host = strings.TrimSpace(*patch.Host)
		if err := ValidateHost(t.Host); err != nil {
			return Target{}, err
		}
	}
	if patch.Category != nil {
		name := strings.TrimSpace(*patch.Category)
		if _, ok := refs.Category(name); !ok {
			return Target{}, Invalid("category", "unknown category %q", name)
		}
		t.Category = name
	}
	if patch.Probe != nil {
		t.Probe = strings.TrimSpace(*patch.Probe)
	}
	if patch.Lookup != nil {
		t.Lookup = strings.TrimSpace(*patch.Lookup)
	}
	if patch.Active != nil {
		t.Active = *patch.Active
	}
	if patch.CDN != nil {
		if patch.CDN.Empty() {
			t.CDN = nil
		} else {
			cdn := *patch.CDN
			t.CDN = &cdn
		}
	}

	probe, ok := refs.Probe(t.Probe)
	if !ok {
		return Target{}, Invalid("probe", "unknown probe %q", t.Probe)
	}
	if err := validateAgainstProbe(t.Host, t.Lookup, probe); err != nil {
		return Target{}, err
	}
	t.UpdatedAt = now.UTC()
	return t, nil
}

// pickProbe resolves an explicit probe name, or chooses the default. IPv6
// literal hosts without an explicit probe get the first IPv6 probe kind.
func pickProbe(name, host string, refs Refs) (ProbeKind, error) {
	if name != "" {
		p, ok := refs.Probe(name)
		if !ok {
			return ProbeKind{}, Invalid("probe", "unknown probe %q", name)
		}
		return p, nil
	}
	if isIPv6Literal(host) {
		if lister, ok := refs.(interface{ ProbesOfType(ProbeType) []ProbeKind }); ok {
			if v6 := lister.ProbesOfType(ProbeFPing6); len(v6) > 0 {
				return v6[0], nil
			}
		}
	}
	p, ok := refs.DefaultProbe()
	if !ok {
		return ProbeKind{}, Invalid("probe", "no probe given and no default probe configured")
	}
	return p, nil
}

func (s Snapshot) ProbesOfType(typ ProbeType) []ProbeKind {
	var out []ProbeKind
	for _, p := range s.Probes {
		if p.Type == typ {
			out = append(out, p)
		}
	}
	return out
}

func trimSpec(spec TargetSpec) TargetSpec {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Host = strings.TrimSpace(spec.Host)
	spec.Title = strings.TrimSpace(spec.Title)
	spec.Category = strings.TrimSpace(spec.Category)
	spec.Probe = strings.TrimSpace(spec.Probe)
	spec.Lookup = strings.TrimSpace(spec.Lookup)
	return spec
}
