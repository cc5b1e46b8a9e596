package apiclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/catalog/filestore"
	"github.com/pingsantohq/smokestack/internal/logging"
	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/server"
	"github.com/pingsantohq/smokestack/internal/service"
)

type restartFunc func(ctx context.Context) error

func (f restartFunc) Restart(ctx context.Context) error { return f(ctx) }

func newTestServer(t *testing.T, token string, restarter service.Restarter) *httptest.Server {
	t.Helper()
	fs := filestore.New(t.TempDir())
	if _, err := fs.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	res, err := resolver.New(resolver.Options{File: fs, OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("resolver.New: %v", err)
	}
	srv := server.New(server.Config{AdminBearerToken: token}, server.Dependencies{
		Logger:    logging.Discard(),
		Catalog:   res,
		Restarter: restarter,
	})
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestClientTargetRoundTrip(t *testing.T) {
	ts := newTestServer(t, "token", nil)
	client, err := NewClient(Config{BaseURL: ts.URL + "/", Token: "token"}, Dependencies{HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	created, err := client.CreateTarget(ctx, catalog.TargetSpec{Name: "google", Host: "google.com", Category: "top_sites"})
	if err != nil {
		t.Fatalf("CreateTarget: %v", err)
	}
	got, err := client.GetTarget(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetTarget: %v", err)
	}
	if got.Name != "google" || got.Host != "google.com" {
		t.Fatalf("unexpected target %+v", got)
	}

	title := "Google Search"
	if _, err := client.UpdateTarget(ctx, created.ID, catalog.TargetPatch{Title: &title}); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	list, err := client.ListTargets(ctx, catalog.Filter{Category: "top_sites"})
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(list) != 1 || list[0].Title != title {
		t.Fatalf("unexpected list %+v", list)
	}

	report, err := client.Import(ctx, []catalog.TargetSpec{
		{Name: "google", Host: "google.com", Category: "top_sites"},
		{Name: "cloudflare", Host: "1.1.1.1", Category: "custom"},
	}, true)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(report.Created) != 1 || len(report.Skipped) != 1 {
		t.Fatalf("unexpected import report %+v", report)
	}

	rendered, err := client.Render(ctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rendered.Config.TargetCount != 2 || rendered.Mode != catalog.ModeFile {
		t.Fatalf("unexpected render result %+v", rendered)
	}

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Catalog.Targets != 2 {
		t.Fatalf("unexpected status %+v", status)
	}

	if err := client.DeleteTarget(ctx, created.ID); err != nil {
		t.Fatalf("DeleteTarget: %v", err)
	}
	if _, err := client.GetTarget(ctx, created.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := client.CreateTarget(ctx, catalog.TargetSpec{Name: "google", Host: "google.com", Category: "top_sites"}); !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("expected ErrValidation for retired name, got %v", err)
	}
}

func TestClientErrors(t *testing.T) {
	calls := 0
	restarter := service.NewThrottle(restartFunc(func(ctx context.Context) error {
		calls++
		return nil
	}), time.Hour)
	ts := newTestServer(t, "token", restarter)
	ctx := context.Background()

	anon, err := NewClient(Config{BaseURL: ts.URL}, Dependencies{HTTPClient: ts.Client()})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	var apiErr *Error
	if err := anon.Restart(ctx); !errors.As(err, &apiErr) || apiErr.Kind != "unauthorized" || apiErr.Status != 401 {
		t.Fatalf("expected unauthorized error, got %v", err)
	}

	client, _ := NewClient(Config{BaseURL: ts.URL, Token: "token"}, Dependencies{HTTPClient: ts.Client()})
	if _, err := client.Apply(ctx); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := client.Restart(ctx); !errors.Is(err, service.ErrRestartThrottled) {
		t.Fatalf("expected throttled restart, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one restart, got %d", calls)
	}
	if _, err := client.Migrate(ctx, resolver.FileToDatabase); !errors.Is(err, catalog.ErrBackendUnavailable) {
		t.Fatalf("expected backend unavailable without a database, got %v", err)
	}

	if _, err := NewClient(Config{}, Dependencies{}); err == nil {
		t.Fatalf("expected error without base URL")
	}
}
