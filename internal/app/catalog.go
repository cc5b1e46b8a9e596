// Package app wires the catalog backends shared by catalogd and rrdexport.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/pingsantohq/smokestack/internal/catalog/filestore"
	"github.com/pingsantohq/smokestack/internal/catalog/sqlstore"
	"github.com/pingsantohq/smokestack/internal/config"
	"github.com/pingsantohq/smokestack/internal/metrics"
	"github.com/pingsantohq/smokestack/internal/resolver"
)

// CatalogOptions are the process-specific parts of the resolver wiring.
type CatalogOptions struct {
	OutputDir     string
	Logger        *log.Logger
	Metrics       metrics.CatalogRecorder
	Enricher      resolver.Enricher
	CDNCategories []string
}

// Catalog is an opened resolver plus the handles it owns.
type Catalog struct {
	Resolver *resolver.Resolver
	Files    *filestore.Store
	DB       *sqlstore.Store
}

func (c *Catalog) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// OpenCatalog seeds the YAML catalog when it is missing, prepares the
// relational pool when DATABASE_URL is set and builds the resolver. It never
// connects eagerly; mode resolution reports an unreachable database.
func OpenCatalog(ctx context.Context, cfg config.CatalogConfig, opts CatalogOptions) (*Catalog, error) {
	logger := opts.Logger
	files := filestore.New(cfg.Dir)
	wrote, err := files.Bootstrap(ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap catalog files: %w", err)
	}
	if wrote && logger != nil {
		logger.Info("seeded catalog files", "dir", cfg.Dir)
	}

	c := &Catalog{Files: files}
	ropts := resolver.Options{
		File:          files,
		OutputDir:     opts.OutputDir,
		Logger:        logger,
		Metrics:       opts.Metrics,
		Enricher:      opts.Enricher,
		CDNCategories: opts.CDNCategories,
	}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := sqlstore.Open(cfg.DatabaseURL, sqlstore.Options{
			Timeout:      cfg.DBTimeout.Duration,
			MaxOpenConns: cfg.MaxOpenConns,
			MaxIdleConns: cfg.MaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open catalog database: %w", err)
		}
		c.DB = db
		ropts.DB = db
	}
	res, err := resolver.New(ropts)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Resolver = res
	return c, nil
}
