package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://"+filepath.Join(t.TempDir(), "catalog.db"), Options{Timeout: 5 * time.Second, Now: func() time.Time { return testNow }})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return s
}

func seedSnapshot() catalog.Snapshot {
	forks := 4
	lat, lon := 52.37, 4.89
	snap := catalog.Snapshot{
		Categories: catalog.DefaultCategories(testNow),
		Probes: []catalog.ProbeKind{
			{Name: "icmp_v4", Type: catalog.ProbeFPing, Binary: "/usr/sbin/fping", StepSeconds: 300, Pings: 20, Forks: &forks, IsDefault: true},
			{Name: "dns", Type: catalog.ProbeDNS, Binary: "/usr/bin/dig", StepSeconds: 300, Pings: 5},
		},
		Sources: []catalog.Source{{Name: "tranco", Enabled: true, Settings: map[string]string{"limit": "50"}}},
		Targets: []catalog.Target{
			{Name: "google", Host: "google.com", Title: "Google", Category: "top_sites", Probe: "icmp_v4", Active: true},
			{Name: "dns_google", Host: "8.8.8.8", Title: "Google DNS", Category: "dns_resolvers", Probe: "dns", Lookup: "google.com", Active: true},
			{Name: "oca_ams", Host: "oca1.example.net", Title: "OCA AMS", Category: "netflix_oca", Probe: "icmp_v4", Active: false,
				CDN: &catalog.CDNMetadata{ASN: "2906", City: "Amsterdam", Latitude: &lat, Longitude: &lon}},
		},
		Retired: []string{"gone"},
	}
	return snap
}

func TestParseDSN(t *testing.T) {
	if _, _, d, err := parseDSN("postgres://u:p@db:5432/smoke"); err != nil || d != dialectPostgres {
		t.Fatalf("expected postgres dialect, got %v %v", d, err)
	}
	if drv, src, d, err := parseDSN("sqlite:///var/lib/catalog.db"); err != nil || d != dialectSQLite || drv != "sqlite" || src[:20] != "/var/lib/catalog.db?" {
		t.Fatalf("unexpected sqlite parse: %s %s %v %v", drv, src, d, err)
	}
	if _, _, _, err := parseDSN("mysql://x"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: dialectPostgres}
	if got := s.rebind(`SELECT a FROM b WHERE c = ? AND d = ?`); got != `SELECT a FROM b WHERE c = $1 AND d = $2` {
		t.Fatalf("unexpected rebind %q", got)
	}
	s.dialect = dialectSQLite
	if got := s.rebind(`x = ?`); got != `x = ?` {
		t.Fatalf("sqlite query should be unchanged, got %q", got)
	}
}

func TestStatusAndImport(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	st := s.Status(ctx)
	if !st.Reachable || !st.SchemaPresent || st.Migrated {
		t.Fatalf("unexpected status before import %+v", st)
	}

	counts, err := s.ImportSnapshot(ctx, seedSnapshot(), testNow, "report-1")
	if err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	want := ImportCounts{Categories: 4, Probes: 2, Sources: 1, Targets: 3, Retired: 1}
	if diff := cmp.Diff(want, counts); diff != "" {
		t.Fatalf("counts mismatch (-want +got):\n%s", diff)
	}

	st = s.Status(ctx)
	if !st.Migrated || !st.MigratedAt.Equal(testNow) {
		t.Fatalf("expected migrated status, got %+v", st)
	}

	if _, err := s.ImportSnapshot(ctx, seedSnapshot(), testNow, "report-2"); !errors.Is(err, ErrAlreadyMigrated) {
		t.Fatalf("expected ErrAlreadyMigrated, got %v", err)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(snap.Targets))
	}
	def, ok := snap.DefaultProbe()
	if !ok || def.Name != "icmp_v4" || def.Forks == nil || *def.Forks != 4 {
		t.Fatalf("unexpected default probe %+v", def)
	}
	var oca catalog.Target
	for _, tg := range snap.Targets {
		if tg.Name == "oca_ams" {
			oca = tg
		}
	}
	if oca.CDN == nil || oca.CDN.ASN != "2906" || oca.CDN.Latitude == nil || *oca.CDN.Latitude != 52.37 {
		t.Fatalf("cdn metadata not round-tripped: %+v", oca.CDN)
	}
	if oca.Active {
		t.Fatalf("expected oca_ams to stay inactive")
	}
	if len(snap.Sources) != 1 || snap.Sources[0].Settings["limit"] != "50" {
		t.Fatalf("unexpected sources %+v", snap.Sources)
	}
}

func TestTargetLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.ImportSnapshot(ctx, seedSnapshot(), testNow, "r"); err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}

	created, err := s.CreateTarget(ctx, catalog.TargetSpec{Name: "cloudflare", Host: "1.1.1.1", Category: "custom"})
	if err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	if created.ID == 0 || created.Probe != "icmp_v4" || !created.Active {
		t.Fatalf("unexpected created target %+v", created)
	}

	if _, err := s.CreateTarget(ctx, catalog.TargetSpec{Name: "cloudflare", Host: "1.0.0.1", Category: "custom"}); !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("expected validation error for duplicate, got %v", err)
	}
	if _, err := s.CreateTarget(ctx, catalog.TargetSpec{Name: "gone", Host: "gone.example.com", Category: "custom"}); !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("expected validation error for retired name, got %v", err)
	}
	if _, err := s.CreateTarget(ctx, catalog.TargetSpec{Name: "x", Host: "x.example.com", Category: "nope"}); !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("expected validation error for unknown category, got %v", err)
	}

	title := "Cloudflare DNS"
	updated, err := s.UpdateTarget(ctx, created.ID, catalog.TargetPatch{Title: &title})
	if err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	if updated.Title != title {
		t.Fatalf("expected title %q, got %q", title, updated.Title)
	}

	toggled, err := s.ToggleTarget(ctx, created.ID)
	if err != nil {
		t.Fatalf("ToggleTarget: %v", err)
	}
	if toggled.Active {
		t.Fatalf("expected inactive after toggle")
	}

	active, err := s.ListTargets(ctx, catalog.Filter{ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	for _, tg := range active {
		if tg.Name == "cloudflare" || tg.Name == "oca_ams" {
			t.Fatalf("inactive target %s listed as active", tg.Name)
		}
	}
	custom, err := s.ListTargets(ctx, catalog.Filter{Category: "custom"})
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(custom) != 1 || custom[0].Title != title {
		t.Fatalf("unexpected custom targets %+v", custom)
	}

	if err := s.DeleteTarget(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTarget: %v", err)
	}
	if _, err := s.GetTarget(ctx, created.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.ToggleTarget(ctx, created.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected not found on toggle, got %v", err)
	}
	if _, err := s.CreateTarget(ctx, catalog.TargetSpec{Name: "cloudflare", Host: "1.1.1.1", Category: "custom"}); !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("expected deleted name to stay retired, got %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	s.Close()

	if st := s.Status(ctx); st.Reachable {
		t.Fatalf("expected closed store to be unreachable")
	}
	if _, err := s.ListTargets(ctx, catalog.Filter{}); !errors.Is(err, catalog.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable, got %v", err)
	}
}
