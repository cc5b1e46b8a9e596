package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testRefs() Snapshot {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return Snapshot{
		Categories: DefaultCategories(now),
		Probes: []ProbeKind{
			{Name: "icmp_v4", Type: ProbeFPing, Binary: "/usr/sbin/fping", StepSeconds: 300, Pings: 20, IsDefault: true},
			{Name: "icmp_v6", Type: ProbeFPing6, Binary: "/usr/sbin/fping", StepSeconds: 300, Pings: 20},
			{Name: "dns", Type: ProbeDNS, Binary: "/usr/bin/dig", StepSeconds: 300, Pings: 5},
		},
	}
}

func TestNewTargetDefaults(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got, err := NewTarget(TargetSpec{Name: " google ", Host: "google.com", Category: "top_sites"}, testRefs(), now)
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	want := Target{
		Name:      "google",
		Host:      "google.com",
		Title:     "google",
		Category:  "top_sites",
		Probe:     "icmp_v4",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("target mismatch (-want +got):\n%s", diff)
	}
}

func TestNewTargetIPv6PicksV6Probe(t *testing.T) {
	got, err := NewTarget(TargetSpec{Name: "cf6", Host: "2606:4700:4700::1111", Category: "custom"}, testRefs(), time.Now())
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	if got.Probe != "icmp_v6" {
		t.Fatalf("expected icmp_v6 probe, got %s", got.Probe)
	}
}

func TestNewTargetRejects(t *testing.T) {
	inactive := false
	cases := map[string]TargetSpec{
		"empty host":        {Name: "a", Category: "custom"},
		"bad name":          {Name: "has space", Host: "a.example.com", Category: "custom"},
		"reserved name":     {Name: "Probes", Host: "a.example.com", Category: "custom"},
		"unknown category":  {Name: "a", Host: "a.example.com", Category: "nope"},
		"unknown probe":     {Name: "a", Host: "a.example.com", Category: "custom", Probe: "tcp"},
		"dns without query": {Name: "a", Host: "8.8.8.8", Category: "dns_resolvers", Probe: "dns"},
		"loopback":          {Name: "a", Host: "127.0.0.1", Category: "custom", Active: &inactive},
		"v4 on v6 probe":    {Name: "a", Host: "1.1.1.1", Category: "custom", Probe: "icmp_v6"},
		"bad hostname":      {Name: "a", Host: "-bad-.example", Category: "custom"},
	}
	for name, spec := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTarget(spec, testRefs(), time.Now())
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestApplyPatch(t *testing.T) {
	refs := testRefs()
	base, err := NewTarget(TargetSpec{Name: "quad9", Host: "9.9.9.9", Category: "custom"}, refs, time.Now())
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}

	probe, lookup, category := "dns", "example.com", "dns_resolvers"
	later := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err := ApplyPatch(base, TargetPatch{Probe: &probe, Lookup: &lookup, Category: &category}, refs, later)
	if err != nil {
		t.Fatalf("ApplyPatch: %v", err)
	}
	if got.Probe != "dns" || got.Lookup != "example.com" || got.Category != "dns_resolvers" {
		t.Fatalf("patch not applied: %+v", got)
	}
	if !got.UpdatedAt.Equal(later) {
		t.Fatalf("expected updated_at %v, got %v", later, got.UpdatedAt)
	}

	if _, err := ApplyPatch(base, TargetPatch{Probe: &probe}, refs, later); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for dns probe without lookup, got %v", err)
	}
}

func TestFilterApply(t *testing.T) {
	targets := []Target{
		{Name: "b", Category: "top_sites", Active: true},
		{Name: "a", Category: "top_sites", Active: false},
		{Name: "c", Category: "custom", Active: true},
	}
	got := Filter{ActiveOnly: true}.Apply(targets)
	if len(got) != 2 || got[0].Name != "c" || got[1].Name != "b" {
		t.Fatalf("unexpected active filter result %+v", got)
	}
	got = Filter{Category: "top_sites"}.Apply(targets)
	if len(got) != 2 || got[0].Name != "a" {
		t.Fatalf("unexpected category filter result %+v", got)
	}
}

func TestNormalizeLegacySnapshot(t *testing.T) {
	snap := Snapshot{
		Probes: []ProbeKind{{Name: "FPing6"}, {Name: "FPing"}},
		Targets: []Target{
			{Name: "x", Category: "cloud_providers", Probe: "Curl"},
			{Name: "y", Category: "custom"},
		},
	}
	notes := Normalize(&snap, time.Now())
	if len(notes) == 0 {
		t.Fatalf("expected normalization notes")
	}
	def, ok := snap.DefaultProbe()
	if !ok || def.Name != "FPing" {
		t.Fatalf("expected FPing default, got %+v", def)
	}
	if p, ok := snap.Probe("FPing6"); !ok || p.Type != ProbeFPing6 || p.Binary != "/usr/bin/fping6" {
		t.Fatalf("unexpected FPing6 probe %+v", p)
	}
	if _, ok := snap.Probe("Curl"); !ok {
		t.Fatalf("expected referenced probe to be created")
	}
	c, ok := snap.Category("cloud_providers")
	if !ok || c.DisplayName != "Cloud Providers" {
		t.Fatalf("unexpected derived category %+v", c)
	}
	for _, tg := range snap.Targets {
		if tg.Name == "y" && tg.Probe != "FPing" {
			t.Fatalf("expected default probe on y, got %q", tg.Probe)
		}
	}
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"netflix_oca":   "Netflix OCA",
		"dns_resolvers": "DNS Resolvers",
		"my_lab-hosts":  "My Lab Hosts",
	}
	for in, want := range cases {
		if got := DisplayName(in); got != want {
			t.Fatalf("DisplayName(%q) = %q, want %q", in, got, want)
		}
	}
}
