package resolver

import (
	"context"
	"errors"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

type ImportOptions struct {
	// SkipExisting treats names that exist or were retired as skipped rather
	// than failed.
	SkipExisting bool
}

type ImportFailure struct {
	Name  string `json:"name"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

type ImportReport struct {
	Created []catalog.Target `json:"created"`
	Skipped []string         `json:"skipped"`
	Failed  []ImportFailure  `json:"failed"`
}

// Import creates each spec independently; one invalid spec does not stop the
// rest. It fails as a whole only when no backend accepts writes.
func (r *Resolver) Import(ctx context.Context, specs []catalog.TargetSpec, opts ImportOptions) (ImportReport, error) {
	report := ImportReport{Created: []catalog.Target{}, Skipped: []string{}, Failed: []ImportFailure{}}
	b, err := r.writer(ctx)
	if err != nil {
		return report, err
	}

	taken := map[string]struct{}{}
	if opts.SkipExisting {
		snap, err := b.Snapshot(ctx)
		if err != nil {
			return report, err
		}
		for _, t := range snap.Targets {
			taken[t.Name] = struct{}{}
		}
		for _, name := range snap.Retired {
			taken[name] = struct{}{}
		}
	}

	for _, spec := range specs {
		if _, ok := taken[spec.Name]; ok {
			report.Skipped = append(report.Skipped, spec.Name)
			continue
		}
		t, err := r.create(ctx, b, spec)
		r.mutate("import_target", err)
		if errors.Is(err, catalog.ErrBackendUnavailable) {
			return report, err
		}
		if err != nil {
			report.Failed = append(report.Failed, ImportFailure{Name: spec.Name, Kind: ErrorKind(err), Error: err.Error()})
			continue
		}
		taken[t.Name] = struct{}{}
		report.Created = append(report.Created, t)
	}
	r.logger.Info("targets imported", "created", len(report.Created), "skipped", len(report.Skipped), "failed", len(report.Failed))
	return report, nil
}

// ErrorKind maps an error onto the catalog error taxonomy.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, catalog.ErrValidation):
		return "validation"
	case errors.Is(err, catalog.ErrNotFound):
		return "not_found"
	case errors.Is(err, catalog.ErrBackendUnavailable):
		return "backend_unavailable"
	case errors.Is(err, catalog.ErrMigration):
		return "migration"
	default:
		return "internal"
	}
}
