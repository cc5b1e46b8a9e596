package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

func sampleSnapshot() catalog.Snapshot {
	forks := 5
	return catalog.Snapshot{
		Categories: []catalog.Category{
			{Name: "dns_resolvers", DisplayName: "DNS Resolvers"},
			{Name: "top_sites", DisplayName: "Top Sites"},
		},
		Probes: []catalog.ProbeKind{
			{Name: "DNS", Type: catalog.ProbeDNS, Binary: "/usr/bin/dig", StepSeconds: 300, Pings: 20},
			{Name: "FPing", Type: catalog.ProbeFPing, Binary: "/usr/sbin/fping", StepSeconds: 300, Pings: 20, IsDefault: true},
			{Name: "icmp_v4", Type: catalog.ProbeFPing, Binary: "/usr/sbin/fping", StepSeconds: 60, Pings: 10, Forks: &forks},
			{Name: "FPing6", Type: catalog.ProbeFPing6, Binary: "/usr/sbin/fping", StepSeconds: 300, Pings: 20},
		},
		Targets: []catalog.Target{
			{Name: "youtube", Host: "youtube.com", Title: "YouTube", Category: "top_sites", Probe: "FPing", Active: true},
			{Name: "google", Host: "google.com", Title: "Google", Category: "top_sites", Probe: "icmp_v4", Active: true},
			{Name: "dns_google", Host: "8.8.8.8", Title: "Google DNS", Category: "dns_resolvers", Probe: "DNS", Lookup: "example.com", Active: true},
			{Name: "parked", Host: "parked.example", Title: "Parked", Category: "top_sites", Probe: "FPing6", Active: false},
		},
	}
}

func TestBuildTargets(t *testing.T) {
	cfg, err := Build(sampleSnapshot())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `*** Targets ***

probe = FPing

menu = Top
title = Network Latency Grapher

+ dns_resolvers

menu = DNS Resolvers
title = DNS Resolvers

++ dns_google

menu = dns_google
title = Google DNS
host = 8.8.8.8
probe = DNS
lookup = example.com

+ top_sites

menu = Top Sites
title = Top Sites

++ google

menu = google
title = Google
host = google.com
probe = icmp_v4

++ youtube

menu = youtube
title = YouTube
host = youtube.com
probe = FPing
`
	if diff := cmp.Diff(want, cfg.Targets); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
	if cfg.TargetCount != 3 || cfg.Categories != 2 {
		t.Fatalf("unexpected counts %+v", cfg)
	}
}

func TestBuildProbesOnlyReferenced(t *testing.T) {
	cfg, err := Build(sampleSnapshot())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := `*** Probes ***

+ DNS

binary = /usr/bin/dig
step = 300
pings = 20

+ FPing

binary = /usr/sbin/fping
step = 300
pings = 20

++ icmp_v4

binary = /usr/sbin/fping
step = 60
pings = 10
forks = 5
`
	if diff := cmp.Diff(want, cfg.Probes); diff != "" {
		t.Fatalf("probes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"DNS", "FPing", "icmp_v4"}, cfg.ProbeNames); diff != "" {
		t.Fatalf("probe names mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSubprobeWithoutBase(t *testing.T) {
	snap := catalog.Snapshot{
		Categories: []catalog.Category{{Name: "top_sites"}},
		Probes: []catalog.ProbeKind{
			{Name: "icmp_v4", Type: catalog.ProbeFPing, Binary: "/usr/sbin/fping", StepSeconds: 300, Pings: 20, IsDefault: true},
		},
		Targets: []catalog.Target{{Name: "google", Host: "google.com", Title: "google", Category: "top_sites", Probe: "icmp_v4", Active: true}},
	}
	cfg, err := Build(snap)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(cfg.Probes, "+ FPing\n\nbinary = /usr/sbin/fping\n\n++ icmp_v4\n") {
		t.Fatalf("expected FPing section with icmp_v4 subprobe:\n%s", cfg.Probes)
	}
	if !strings.Contains(cfg.Targets, "menu = Top Sites") {
		t.Fatalf("expected display name fallback:\n%s", cfg.Targets)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	a, err := Build(sampleSnapshot())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap := sampleSnapshot()
	snap.Targets[0], snap.Targets[2] = snap.Targets[2], snap.Targets[0]
	snap.Probes[0], snap.Probes[3] = snap.Probes[3], snap.Probes[0]
	b, err := Build(snap)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if a.Targets != b.Targets || a.Probes != b.Probes {
		t.Fatalf("render output depends on input order")
	}
}

func TestBuildRejectsUnknownProbe(t *testing.T) {
	snap := sampleSnapshot()
	snap.Targets[0].Probe = "Curl"
	if _, err := Build(snap); !errorsIsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	snap = sampleSnapshot()
	for i := range snap.Probes {
		snap.Probes[i].IsDefault = false
	}
	if _, err := Build(snap); !errorsIsValidation(err) {
		t.Fatalf("expected validation error without default probe, got %v", err)
	}
}

func TestWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	cfg, err := Build(sampleSnapshot())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	files, err := Write(dir, cfg)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := os.ReadFile(files.Targets)
	if err != nil {
		t.Fatalf("read targets: %v", err)
	}
	if string(got) != cfg.Targets {
		t.Fatalf("targets file content mismatch")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected only Targets and Probes, got %d entries", len(entries))
	}
}
