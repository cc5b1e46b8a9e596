// Package resolver decides which catalog backend is authoritative, routes
// reads and mutations to it, migrates the YAML catalog into the relational
// store and renders the catalog for the probing engine.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/catalog/filestore"
	"github.com/pingsantohq/smokestack/internal/catalog/sqlstore"
	"github.com/pingsantohq/smokestack/internal/logging"
	"github.com/pingsantohq/smokestack/internal/metrics"
)

// Relational is the DATABASE backend as seen by the resolver.
type Relational interface {
	catalog.Backend
	Status(ctx context.Context) sqlstore.Status
	EnsureSchema(ctx context.Context) error
	ImportSnapshot(ctx context.Context, snap catalog.Snapshot, at time.Time, reportID string) (sqlstore.ImportCounts, error)
}

// FileBackend is the FILE backend as seen by the resolver.
type FileBackend interface {
	catalog.Backend
	Files() map[string]bool
	ReadMarker() (filestore.Marker, bool, error)
	WriteMarker(m filestore.Marker) error
	Backup(at time.Time) (string, error)
}

// Enricher fills missing CDN metadata on targets created in CDN categories.
type Enricher interface {
	Enrich(ctx context.Context, spec *catalog.TargetSpec) error
}

type Options struct {
	File FileBackend
	// DB is optional; without it the catalog is always served from FILE.
	DB            Relational
	OutputDir     string
	Logger        *log.Logger
	Metrics       metrics.CatalogRecorder
	Enricher      Enricher
	CDNCategories []string
	Now           func() time.Time
}

type Resolver struct {
	file      FileBackend
	db        Relational
	outputDir string
	logger    *log.Logger
	metrics   metrics.CatalogRecorder
	enricher  Enricher
	cdn       map[string]struct{}
	now       func() time.Time

	mu   sync.Mutex
	last *Decision
}

func New(opts Options) (*Resolver, error) {
	if opts.File == nil {
		return nil, errors.New("resolver: file backend required")
	}
	r := &Resolver{
		file:      opts.File,
		db:        opts.DB,
		outputDir: opts.OutputDir,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		enricher:  opts.Enricher,
		cdn:       map[string]struct{}{},
		now:       opts.Now,
	}
	if r.logger == nil {
		r.logger = logging.Discard()
	}
	if r.metrics == nil {
		r.metrics = metrics.NoopCatalogRecorder{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, name := range opts.CDNCategories {
		r.cdn[name] = struct{}{}
	}
	return r, nil
}

// Decision is the outcome of one mode resolution.
type Decision struct {
	Mode catalog.Mode `json:"mode"`
	// Degraded is set when the relational store is authoritative but cannot
	// be used: reads are served from FILE and mutations are refused.
	Degraded           bool            `json:"degraded"`
	Reason             string          `json:"reason,omitempty"`
	DatabaseConfigured bool            `json:"database_configured"`
	Database           sqlstore.Status `json:"database"`
	FileMarker         bool            `json:"file_marker"`
}

// DecideMode is DATABASE only when the store is reachable, carries the schema
// and has the migration marker.
func DecideMode(st sqlstore.Status, fileMarker bool) Decision {
	d := Decision{DatabaseConfigured: true, Database: st, FileMarker: fileMarker}
	switch {
	case st.Reachable && st.SchemaPresent && st.Migrated:
		d.Mode = catalog.ModeDatabase
		return d
	case !st.Reachable:
		d.Reason = "database unreachable"
	case !st.SchemaPresent:
		d.Reason = "database schema missing"
	default:
		d.Reason = "database not migrated"
	}
	if st.Err != nil {
		d.Reason = fmt.Sprintf("%s: %v", d.Reason, st.Err)
	}
	d.Mode = catalog.ModeFile
	d.Degraded = fileMarker
	return d
}

// ResolveMode probes the backends and returns the current decision. It
// fails only when the file-side migration marker cannot be read.
func (r *Resolver) ResolveMode(ctx context.Context) (Decision, error) {
	if r.db == nil {
		d := Decision{Mode: catalog.ModeFile, Reason: "no database configured"}
		r.observe(d)
		return d, nil
	}
	_, marker, err := r.file.ReadMarker()
	if err != nil {
		return Decision{}, catalog.Unavailable("file", err)
	}
	d := DecideMode(r.db.Status(ctx), marker)
	r.observe(d)
	return d, nil
}

func (r *Resolver) observe(d Decision) {
	r.metrics.ObserveMode(d.Mode == catalog.ModeDatabase, d.Degraded)

	r.mu.Lock()
	prev := r.last
	r.last = &d
	r.mu.Unlock()

	switch {
	case prev == nil:
		r.logger.Info("catalog mode resolved", "mode", d.Mode, "degraded", d.Degraded, "reason", d.Reason)
	case prev.Mode != d.Mode || prev.Degraded != d.Degraded:
		r.logger.Warn("catalog mode changed", "from", prev.Mode, "to", d.Mode, "degraded", d.Degraded, "reason", d.Reason)
	}
}

// read runs fn against the authoritative backend. A DATABASE read that fails
// because the store is unavailable is retried once against FILE.
func read[T any](ctx context.Context, r *Resolver, op string, fn func(catalog.Backend) (T, error)) (T, error) {
	d, err := r.ResolveMode(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	if d.Mode == catalog.ModeDatabase {
		v, err := fn(r.db)
		if err == nil || !errors.Is(err, catalog.ErrBackendUnavailable) {
			return v, err
		}
		r.logger.Warn("database read failed, serving from file", "op", op, "err", err)
		r.metrics.IncFallbackReads(op)
	}
	return fn(r.file)
}

// writer returns the backend mutations must go to. Nothing is ever written to
// both backends.
func (r *Resolver) writer(ctx context.Context) (catalog.Backend, error) {
	d, err := r.ResolveMode(ctx)
	if err != nil {
		return nil, err
	}
	if d.Degraded {
		return nil, catalog.Unavailable("database", errors.New(d.Reason))
	}
	if d.Mode == catalog.ModeDatabase {
		return r.db, nil
	}
	return r.file, nil
}

func (r *Resolver) mutate(op string, err error) {
	r.metrics.IncMutation(op, err == nil)
	if err != nil {
		r.logger.Debug("catalog mutation failed", "op", op, "err", err)
	}
}
