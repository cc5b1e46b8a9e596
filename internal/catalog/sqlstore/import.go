package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

// ErrAlreadyMigrated is returned by ImportSnapshot when the migration marker
// is already present.
var ErrAlreadyMigrated = errors.New("catalog already migrated")

// ImportCounts reports what ImportSnapshot inserted.
type ImportCounts struct {
	Categories int `json:"categories"`
	Probes     int `json:"probes"`
	Sources    int `json:"sources"`
	Targets    int `json:"targets"`
	Skipped    int `json:"skipped"`
	Retired    int `json:"retired"`
}

// ImportSnapshot copies snap into the store and writes the migration marker,
// all in one transaction. Rows whose name already exists are left as they
// are. Nothing is written when the marker is already present.
func (s *Store) ImportSnapshot(ctx context.Context, snap catalog.Snapshot, at time.Time, reportID string) (ImportCounts, error) {
	var counts ImportCounts
	err := s.inTx(ctx, "import snapshot", func(ctx context.Context, tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM system_metadata WHERE key = ?`), MigrationMarkerKey).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyMigrated
		}

		for _, c := range snap.Categories {
			res, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO target_categories (name, display_name, description, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (name) DO NOTHING`),
				c.Name, c.DisplayName, c.Description, s.ts(orNow(c.CreatedAt, at)), s.ts(orNow(c.UpdatedAt, at)))
			if err != nil {
				return err
			}
			counts.Categories += affected(res)
		}

		var defaultProbe string
		for _, p := range snap.Probes {
			if p.IsDefault {
				defaultProbe = p.Name
			}
			res, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO probes (name, probe_type, binary_path, step_seconds, pings, forks, is_default)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (name) DO NOTHING`),
				p.Name, string(p.Type), p.Binary, p.StepSeconds, p.Pings, nullInt(p.Forks), false)
			if err != nil {
				return err
			}
			counts.Probes += affected(res)
		}
		if defaultProbe != "" {
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE probes SET is_default = ? WHERE is_default = ?`), false, true); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE probes SET is_default = ? WHERE name = ?`), true, defaultProbe); err != nil {
				return err
			}
		}

		for _, src := range snap.Sources {
			settings := []byte("{}")
			if len(src.Settings) > 0 {
				var err error
				if settings, err = json.Marshal(src.Settings); err != nil {
					return err
				}
			}
			res, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO sources (name, enabled, description, settings)
VALUES (?, ?, ?, ?)
ON CONFLICT (name) DO NOTHING`),
				src.Name, src.Enabled, src.Description, string(settings))
			if err != nil {
				return err
			}
			counts.Sources += affected(res)
		}

		refs, err := s.refs(ctx, tx)
		if err != nil {
			return err
		}
		for _, t := range snap.Targets {
			if err := s.checkNameFree(ctx, tx, t.Name); err != nil {
				var verr *catalog.ValidationError
				if errors.As(err, &verr) {
					counts.Skipped++
					continue
				}
				return err
			}
			t.CreatedAt = orNow(t.CreatedAt, at)
			t.UpdatedAt = orNow(t.UpdatedAt, at)
			if t.Title == "" {
				t.Title = t.Name
			}
			if _, err := s.insertTarget(ctx, tx, t, refs); err != nil {
				return err
			}
			counts.Targets++
		}

		for _, name := range snap.Retired {
			res, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO retired_target_names (name, retired_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`),
				name, s.ts(at))
			if err != nil {
				return err
			}
			counts.Retired += affected(res)
		}

		if err := s.setMetadata(ctx, tx, migrationReportKey, reportID, at); err != nil {
			return err
		}
		// The marker goes last: its presence flips the catalog to DATABASE.
		return s.setMetadata(ctx, tx, MigrationMarkerKey, at.UTC().Format(time.RFC3339Nano), at)
	})
	if errors.Is(err, ErrAlreadyMigrated) {
		return ImportCounts{}, ErrAlreadyMigrated
	}
	return counts, err
}

func (s *Store) setMetadata(ctx context.Context, q querier, key, value string, at time.Time) error {
	_, err := q.ExecContext(ctx, s.rebind(`
INSERT INTO system_metadata (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		key, value, s.ts(at))
	return err
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
