package resolver

import (
	"context"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

func (r *Resolver) Snapshot(ctx context.Context) (catalog.Snapshot, error) {
	return read(ctx, r, "snapshot", func(b catalog.Backend) (catalog.Snapshot, error) {
		return b.Snapshot(ctx)
	})
}

func (r *Resolver) ListTargets(ctx context.Context, filter catalog.Filter) ([]catalog.Target, error) {
	return read(ctx, r, "list_targets", func(b catalog.Backend) ([]catalog.Target, error) {
		return b.ListTargets(ctx, filter)
	})
}

func (r *Resolver) GetTarget(ctx context.Context, id int64) (catalog.Target, error) {
	return read(ctx, r, "get_target", func(b catalog.Backend) (catalog.Target, error) {
		return b.GetTarget(ctx, id)
	})
}

func (r *Resolver) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	return read(ctx, r, "list_categories", func(b catalog.Backend) ([]catalog.Category, error) {
		return b.ListCategories(ctx)
	})
}

func (r *Resolver) ListProbes(ctx context.Context) ([]catalog.ProbeKind, error) {
	return read(ctx, r, "list_probes", func(b catalog.Backend) ([]catalog.ProbeKind, error) {
		return b.ListProbes(ctx)
	})
}

func (r *Resolver) ListSources(ctx context.Context) ([]catalog.Source, error) {
	return read(ctx, r, "list_sources", func(b catalog.Backend) ([]catalog.Source, error) {
		return b.ListSources(ctx)
	})
}

// CreateTarget validates and stores a new target in the authoritative
// backend. The engine configuration is not re-rendered.
func (r *Resolver) CreateTarget(ctx context.Context, spec catalog.TargetSpec) (catalog.Target, error) {
	b, err := r.writer(ctx)
	if err != nil {
		r.mutate("create_target", err)
		return catalog.Target{}, err
	}
	t, err := r.create(ctx, b, spec)
	r.mutate("create_target", err)
	if err == nil {
		r.logger.Info("target created", "id", t.ID, "name", t.Name, "category", t.Category)
	}
	return t, err
}

func (r *Resolver) create(ctx context.Context, b catalog.Backend, spec catalog.TargetSpec) (catalog.Target, error) {
	r.enrich(ctx, &spec)
	return b.CreateTarget(ctx, spec)
}

func (r *Resolver) enrich(ctx context.Context, spec *catalog.TargetSpec) {
	if r.enricher == nil {
		return
	}
	if _, ok := r.cdn[spec.Category]; !ok {
		return
	}
	if err := r.enricher.Enrich(ctx, spec); err != nil {
		r.logger.Warn("cdn enrichment failed", "name", spec.Name, "host", spec.Host, "err", err)
	}
}

func (r *Resolver) UpdateTarget(ctx context.Context, id int64, patch catalog.TargetPatch) (catalog.Target, error) {
	b, err := r.writer(ctx)
	if err != nil {
		r.mutate("update_target", err)
		return catalog.Target{}, err
	}
	t, err := b.UpdateTarget(ctx, id, patch)
	r.mutate("update_target", err)
	return t, err
}

// ToggleActive flips the active flag of a target. Callers render explicitly.
func (r *Resolver) ToggleActive(ctx context.Context, id int64) (catalog.Target, error) {
	b, err := r.writer(ctx)
	if err != nil {
		r.mutate("toggle_target", err)
		return catalog.Target{}, err
	}
	t, err := b.ToggleTarget(ctx, id)
	r.mutate("toggle_target", err)
	if err == nil {
		r.logger.Info("target toggled", "id", t.ID, "name", t.Name, "active", t.Active)
	}
	return t, err
}

func (r *Resolver) DeleteTarget(ctx context.Context, id int64) error {
	b, err := r.writer(ctx)
	if err != nil {
		r.mutate("delete_target", err)
		return err
	}
	err = b.DeleteTarget(ctx, id)
	r.mutate("delete_target", err)
	if err == nil {
		r.logger.Info("target deleted", "id", id)
	}
	return err
}

// Lookup returns the target with the given name. Names are unique across
// categories.
func (r *Resolver) Lookup(ctx context.Context, name string) (catalog.Target, error) {
	targets, err := r.ListTargets(ctx, catalog.Filter{})
	if err != nil {
		return catalog.Target{}, err
	}
	for _, t := range targets {
		if t.Name == name {
			return t, nil
		}
	}
	return catalog.Target{}, catalog.NotFound("target", name)
}
