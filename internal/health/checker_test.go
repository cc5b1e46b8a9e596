package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pingsantohq/smokestack/internal/metrics"
)

func TestCheckerDependencyChecks(t *testing.T) {
	store := metrics.NewStore("smokestack")
	var dbErr error
	checker := NewChecker(store, []Check{
		{Name: "catalog", Fn: func(ctx context.Context) error { return dbErr }},
	})

	now := time.Unix(1000, 0).UTC()
	ready, reasons := checker.Ready(context.Background(), now)
	if !ready || len(reasons) != 0 {
		t.Fatalf("expected ready, got %v", reasons)
	}
	if !store.Snapshot().Ready {
		t.Fatalf("expected readiness gauge true")
	}

	dbErr = errors.New("marker unreadable")
	ready, reasons = checker.Ready(context.Background(), now)
	if ready {
		t.Fatalf("expected not ready")
	}
	if len(reasons) != 1 || reasons[0] != "catalog: marker unreadable" {
		t.Fatalf("unexpected reasons %v", reasons)
	}
	snap := store.Snapshot()
	if snap.Ready || !strings.Contains(snap.ReadyReason, "marker unreadable") {
		t.Fatalf("unexpected readiness snapshot %+v", snap)
	}
}

func TestCheckerCycleFreshness(t *testing.T) {
	store := metrics.NewStore("smokestack")
	checker := NewChecker(store, nil, WithCycleFreshness(5*time.Minute))
	now := time.Now().UTC()

	ready, reasons := checker.Ready(context.Background(), now)
	if ready || reasons[0] != "export cycle not yet succeeded" {
		t.Fatalf("expected pending cycle, got %v", reasons)
	}

	store.ExportRecorder().ObserveCycle(time.Second, true)
	if ready, reasons := checker.Ready(context.Background(), now.Add(time.Minute)); !ready {
		t.Fatalf("expected ready after a cycle, got %v", reasons)
	}

	ready, reasons = checker.Ready(context.Background(), now.Add(time.Hour))
	if ready || !strings.HasPrefix(reasons[0], "export cycle stale") {
		t.Fatalf("expected stale cycle, got %v", reasons)
	}
}

func TestHandler(t *testing.T) {
	checker := NewChecker(nil, []Check{
		{Name: "influx", Fn: func(ctx context.Context) error { return errors.New("connection refused") }},
	})
	rec := httptest.NewRecorder()
	Handler(checker).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("expected reason in body, got %s", rec.Body.String())
	}
}
