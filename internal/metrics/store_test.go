package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCatalogRecorder(t *testing.T) {
	store := NewStore("smokestack_catalogd")
	rec := store.CatalogRecorder()

	rec.ObserveMode(true, false)
	rec.IncFallbackReads("list_targets")
	rec.IncFallbackReads("list_targets")
	rec.IncMutation("create_target", true)
	rec.IncMutation("create_target", false)
	rec.ObserveRender(12)
	rec.IncRestart(false)

	snap := store.Snapshot()
	if !snap.DatabaseMode || snap.Degraded {
		t.Fatalf("unexpected mode snapshot %+v", snap)
	}
	if snap.FallbackReads["list_targets"] != 2 {
		t.Fatalf("expected 2 fallback reads got %d", snap.FallbackReads["list_targets"])
	}
	if snap.Mutations["create_target/ok"] != 1 || snap.Mutations["create_target/error"] != 1 {
		t.Fatalf("unexpected mutation counts %+v", snap.Mutations)
	}
	if snap.RenderedTargets != 12 || snap.Renders != 1 {
		t.Fatalf("unexpected render metrics %+v", snap)
	}
	if snap.Restarts != 1 || snap.RestartFailures != 1 {
		t.Fatalf("unexpected restart metrics %+v", snap)
	}
}

func TestExportRecorder(t *testing.T) {
	store := NewStore("smokestack_rrdexport")
	rec := store.ExportRecorder()

	rec.ObserveCycle(2*time.Second, true)
	rec.ObserveCycle(time.Second, false)
	rec.AddPoints(40)
	rec.AddPoints(-1)
	rec.IncWriteFailures()
	rec.AddStaleFiles(3)
	rec.ObserveTargets(9)

	snap := store.Snapshot()
	if snap.Cycles != 2 || snap.CycleFailures != 1 {
		t.Fatalf("unexpected cycle counts %+v", snap)
	}
	if snap.LastCycle != time.Second {
		t.Fatalf("expected last cycle 1s got %v", snap.LastCycle)
	}
	if snap.LastSuccess.IsZero() {
		t.Fatalf("expected last success timestamp")
	}
	if snap.PointsExported != 40 || snap.WriteFailures != 1 || snap.StaleFiles != 3 || snap.ExportTargets != 9 {
		t.Fatalf("unexpected export metrics %+v", snap)
	}
}

func TestWritePrometheus(t *testing.T) {
	store := NewStore("smokestack_rrdexport")
	store.ExportRecorder().AddPoints(7)
	store.CatalogRecorder().IncFallbackReads("snapshot")
	store.ObserveReadiness(false, "influx unreachable")

	var sb strings.Builder
	if err := store.WritePrometheus(&sb); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}
	output := sb.String()
	expect := []string{
		"smokestack_rrdexport_export_points_total 7",
		`smokestack_rrdexport_catalog_fallback_reads_total{op="snapshot"} 1`,
		"smokestack_rrdexport_ready 0",
		`smokestack_rrdexport_ready_info{reason="influx unreachable"} 1`,
		`smokestack_rrdexport_catalog_mutations_total{op="none",result="none"} 0`,
	}
	for _, line := range expect {
		if !strings.Contains(output, line) {
			t.Fatalf("expected output to contain %q\n%s", line, output)
		}
	}
}

func TestHTTPHandler(t *testing.T) {
	store := NewStore("smokestack_catalogd")
	srv := httptest.NewServer(NewHTTPHandler(store))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "smokestack_catalogd_ready") {
		t.Fatalf("unexpected body %s", body)
	}

	resp, err = http.Post(srv.URL, "text/plain", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", resp.StatusCode)
	}
}
