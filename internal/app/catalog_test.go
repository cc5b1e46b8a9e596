package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/config"
	"github.com/pingsantohq/smokestack/internal/resolver"
)

func TestOpenCatalogFileOnly(t *testing.T) {
	cfg := config.CatalogConfig{Dir: filepath.Join(t.TempDir(), "catalog"), DBTimeout: config.Duration{Duration: time.Second}}
	c, err := OpenCatalog(context.Background(), cfg, CatalogOptions{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer c.Close()
	if c.DB != nil {
		t.Fatalf("expected no database handle")
	}
	d, err := c.Resolver.ResolveMode(context.Background())
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if d.Mode != catalog.ModeFile || d.DatabaseConfigured {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestOpenCatalogWithSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.CatalogConfig{
		Dir:         filepath.Join(dir, "catalog"),
		DatabaseURL: "sqlite://" + filepath.Join(dir, "catalog.db"),
		DBTimeout:   config.Duration{Duration: 5 * time.Second},
	}
	c, err := OpenCatalog(context.Background(), cfg, CatalogOptions{OutputDir: t.TempDir()})
	if err != nil {
		t.Fatalf("OpenCatalog: %v", err)
	}
	defer c.Close()

	report, err := c.Resolver.Migrate(context.Background(), resolver.FileToDatabase)
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if report.Categories != 4 {
		t.Fatalf("expected seeded categories to migrate, got %+v", report)
	}
	d, err := c.Resolver.ResolveMode(context.Background())
	if err != nil {
		t.Fatalf("ResolveMode: %v", err)
	}
	if d.Mode != catalog.ModeDatabase {
		t.Fatalf("expected DATABASE mode after migration, got %+v", d)
	}
}
