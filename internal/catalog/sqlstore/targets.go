package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) ListTargets(ctx context.Context, filter catalog.Filter) ([]catalog.Target, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + targetColumns + targetFrom + ` WHERE 1 = 1`
	var args []any
	if filter.ActiveOnly {
		query += ` AND t.is_active = ?`
		args = append(args, true)
	}
	if filter.Category != "" {
		query += ` AND c.name = ?`
		args = append(args, filter.Category)
	}
	targets, err := s.queryTargets(ctx, s.db, query, args...)
	if err != nil {
		return nil, s.wrap("list targets", err)
	}
	return filter.Apply(targets), nil
}

func (s *Store) queryTargets(ctx context.Context, q querier, query string, args ...any) ([]catalog.Target, error) {
	rows, err := q.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTarget(ctx context.Context, id int64) (catalog.Target, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	t, err := s.getTarget(ctx, s.db, id, false)
	return t, s.wrap("get target", err)
}

func (s *Store) getTarget(ctx context.Context, q querier, id int64, lock bool) (catalog.Target, error) {
	query := `SELECT ` + targetColumns + targetFrom + ` WHERE t.id = ?`
	if lock {
		// FOR UPDATE cannot apply to the nullable side of an outer join.
		query += s.forUpdateOf("t")
	}
	t, err := scanTarget(q.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return catalog.Target{}, catalog.NotFound("target", id)
	}
	return t, err
}

func (s *Store) forUpdateOf(alias string) string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE OF " + alias
	}
	return ""
}

// refs loads categories and probe kinds for reference checks.
func (s *Store) refs(ctx context.Context, q querier) (catalog.Snapshot, error) {
	var snap catalog.Snapshot
	var err error
	if snap.Categories, err = s.listCategories(ctx, q); err != nil {
		return snap, err
	}
	if snap.Probes, err = s.listProbes(ctx, q); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Store) CreateTarget(ctx context.Context, spec catalog.TargetSpec) (catalog.Target, error) {
	var created catalog.Target
	err := s.inTx(ctx, "create target", func(ctx context.Context, tx *sql.Tx) error {
		refs, err := s.refs(ctx, tx)
		if err != nil {
			return err
		}
		t, err := catalog.NewTarget(spec, refs, s.now())
		if err != nil {
			return err
		}
		if err := s.checkNameFree(ctx, tx, t.Name); err != nil {
			return err
		}
		if t.ID, err = s.insertTarget(ctx, tx, t, refs); err != nil {
			return err
		}
		created = t
		return nil
	})
	return created, err
}

func (s *Store) checkNameFree(ctx context.Context, q querier, name string) error {
	var n int
	if err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM targets WHERE name = ?`), name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return catalog.Invalid("name", "target %q already exists", name)
	}
	if err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM retired_target_names WHERE name = ?`), name).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return catalog.Invalid("name", "%q belonged to a deleted target and cannot be reused", name)
	}
	return nil
}

func (s *Store) insertTarget(ctx context.Context, q querier, t catalog.Target, refs catalog.Snapshot) (int64, error) {
	category, ok := refs.Category(t.Category)
	if !ok {
		return 0, catalog.Invalid("category", "unknown category %q", t.Category)
	}
	probe, ok := refs.Probe(t.Probe)
	if !ok {
		return 0, catalog.Invalid("probe", "unknown probe %q", t.Probe)
	}

	const insert = `
INSERT INTO targets (name, host, title, category_id, probe_id, lookup, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING id`
	var id int64
	err := q.QueryRowContext(ctx, s.rebind(insert),
		t.Name, t.Host, t.Title, category.ID, probe.ID, t.Lookup, t.Active, s.ts(t.CreatedAt), s.ts(t.UpdatedAt),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, catalog.Invalid("name", "target %q already exists", t.Name)
		}
		return 0, err
	}
	if err := s.putCDN(ctx, q, id, t.CDN); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) putCDN(ctx context.Context, q querier, id int64, m *catalog.CDNMetadata) error {
	if _, err := q.ExecContext(ctx, s.rebind(`DELETE FROM target_cdn_metadata WHERE target_id = ?`), id); err != nil {
		return err
	}
	if m.Empty() {
		return nil
	}
	const insert = `
INSERT INTO target_cdn_metadata (target_id, asn, cache_id, city, domain, iata_code, latitude, longitude, location_code, raw_city, metadata_type)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := q.ExecContext(ctx, s.rebind(insert), id,
		nullString(m.ASN), nullString(m.CacheID), nullString(m.City), nullString(m.Domain), nullString(m.IATACode),
		nullFloat(m.Latitude), nullFloat(m.Longitude), nullString(m.LocationCode), nullString(m.RawCity), nullString(m.Type))
	return err
}

func (s *Store) UpdateTarget(ctx context.Context, id int64, patch catalog.TargetPatch) (catalog.Target, error) {
	var updated catalog.Target
	err := s.inTx(ctx, "update target", func(ctx context.Context, tx *sql.Tx) error {
		current, err := s.getTarget(ctx, tx, id, true)
		if err != nil {
			return err
		}
		refs, err := s.refs(ctx, tx)
		if err != nil {
			return err
		}
		t, err := catalog.ApplyPatch(current, patch, refs, s.now())
		if err != nil {
			return err
		}
		category, _ := refs.Category(t.Category)
		probe, _ := refs.Probe(t.Probe)

		const update = `
UPDATE targets
   SET host = ?, title = ?, category_id = ?, probe_id = ?, lookup = ?, is_active = ?, updated_at = ?
 WHERE id = ?`
		if _, err := tx.ExecContext(ctx, s.rebind(update),
			t.Host, t.Title, category.ID, probe.ID, t.Lookup, t.Active, s.ts(t.UpdatedAt), id); err != nil {
			return err
		}
		if patch.CDN != nil {
			if err := s.putCDN(ctx, tx, id, t.CDN); err != nil {
				return err
			}
		}
		updated = t
		return nil
	})
	return updated, err
}

func (s *Store) ToggleTarget(ctx context.Context, id int64) (catalog.Target, error) {
	var toggled catalog.Target
	err := s.inTx(ctx, "toggle target", func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.rebind(`UPDATE targets SET is_active = NOT is_active, updated_at = ? WHERE id = ?`),
			s.ts(s.now()), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return catalog.NotFound("target", id)
		}
		toggled, err = s.getTarget(ctx, tx, id, false)
		return err
	})
	return toggled, err
}

func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	return s.inTx(ctx, "delete target", func(ctx context.Context, tx *sql.Tx) error {
		var name string
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT name FROM targets WHERE id = ?`+s.forUpdate()), id).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.NotFound("target", id)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM target_cdn_metadata WHERE target_id = ?`), id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM targets WHERE id = ?`), id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO retired_target_names (name, retired_at) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`),
			name, s.ts(s.now()))
		return err
	})
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.listCategories(ctx, s.db)
	return out, s.wrap("list categories", err)
}

func (s *Store) listCategories(ctx context.Context, q querier) ([]catalog.Category, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, display_name, description, created_at, updated_at FROM target_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Category
	for rows.Next() {
		var c catalog.Category
		var created, updated sqlTime
		if err := rows.Scan(&c.ID, &c.Name, &c.DisplayName, &c.Description, &created, &updated); err != nil {
			return nil, err
		}
		c.CreatedAt, c.UpdatedAt = created.Time, updated.Time
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListProbes(ctx context.Context) ([]catalog.ProbeKind, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.listProbes(ctx, s.db)
	return out, s.wrap("list probes", err)
}

func (s *Store) listProbes(ctx context.Context, q querier) ([]catalog.ProbeKind, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, probe_type, binary_path, step_seconds, pings, forks, is_default FROM probes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.ProbeKind
	for rows.Next() {
		var p catalog.ProbeKind
		var typ string
		var forks sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Name, &typ, &p.Binary, &p.StepSeconds, &p.Pings, &forks, &p.IsDefault); err != nil {
			return nil, err
		}
		p.Type = catalog.ProbeType(typ)
		if forks.Valid {
			v := int(forks.Int64)
			p.Forks = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListSources(ctx context.Context) ([]catalog.Source, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.listSources(ctx, s.db)
	return out, s.wrap("list sources", err)
}

func (s *Store) listSources(ctx context.Context, q querier) ([]catalog.Source, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, enabled, description, settings FROM sources ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Source
	for rows.Next() {
		var src catalog.Source
		var settings string
		if err := rows.Scan(&src.ID, &src.Name, &src.Enabled, &src.Description, &settings); err != nil {
			return nil, err
		}
		if settings != "" && settings != "{}" {
			if err := json.Unmarshal([]byte(settings), &src.Settings); err != nil {
				return nil, err
			}
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) listRetired(ctx context.Context, q querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM retired_target_names ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// Snapshot reads the whole catalog in one read-only transaction.
func (s *Store) Snapshot(ctx context.Context) (catalog.Snapshot, error) {
	var snap catalog.Snapshot
	err := s.inTx(ctx, "snapshot", func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if snap.Categories, err = s.listCategories(ctx, tx); err != nil {
			return err
		}
		if snap.Probes, err = s.listProbes(ctx, tx); err != nil {
			return err
		}
		if snap.Sources, err = s.listSources(ctx, tx); err != nil {
			return err
		}
		if snap.Targets, err = s.queryTargets(ctx, tx, `SELECT `+targetColumns+targetFrom); err != nil {
			return err
		}
		snap.Retired, err = s.listRetired(ctx, tx)
		return err
	})
	if err != nil {
		return catalog.Snapshot{}, err
	}
	catalog.SortTargets(snap.Targets)
	return snap, nil
}
