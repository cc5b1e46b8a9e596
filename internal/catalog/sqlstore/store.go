// Package sqlstore is the DATABASE catalog backend. It runs on PostgreSQL
// through the pgx database/sql driver, or on an embedded SQLite file.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	backend = "database"

	// MigrationMarkerKey is the system_metadata key whose presence makes
	// the relational store authoritative.
	MigrationMarkerKey = "yaml_migration_completed"
	migrationReportKey = "yaml_migration_report_id"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

type Options struct {
	Timeout         time.Duration
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Now             func() time.Time
}

type Store struct {
	db      *sql.DB
	dialect dialect
	timeout time.Duration
	now     func() time.Time
}

// Open prepares a connection pool for dsn without connecting, so a process
// can start while the store is down. postgres:// and postgresql:// URLs use
// pgx; sqlite://<path> uses the embedded driver.
func Open(dsn string, opts Options) (*Store, error) {
	driver, source, d, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	s := &Store{db: db, dialect: d, timeout: opts.Timeout, now: opts.Now}
	if s.timeout <= 0 {
		s.timeout = 5 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func parseDSN(dsn string) (driver, source string, d dialect, err error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "pgx", dsn, dialectPostgres, nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "sqlite:"):
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "sqlite:")
		if path == "" {
			return "", "", 0, errors.New("sqlite dsn has no path")
		}
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return "sqlite", path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dialectSQLite, nil
	default:
		return "", "", 0, fmt.Errorf("unsupported database url %q: want postgres:// or sqlite://", redact(dsn))
	}
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "@"); i > 0 {
		if j := strings.Index(dsn, "://"); j > 0 && j < i {
			return dsn[:j+3] + "***" + dsn[i:]
		}
	}
	return dsn
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ts converts a timestamp to the column representation of the dialect.
func (s *Store) ts(t time.Time) any {
	if s.dialect == dialectSQLite {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC()
}

func (s *Store) forUpdate() string {
	if s.dialect == dialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Status describes whether the relational store can be authoritative.
type Status struct {
	Reachable     bool      `json:"reachable"`
	SchemaPresent bool      `json:"schema_present"`
	Migrated      bool      `json:"migrated"`
	MigratedAt    time.Time `json:"migrated_at,omitempty"`
	Err           error     `json:"-"`
}

func (s *Store) Status(ctx context.Context) Status {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var st Status
	if err := s.db.PingContext(ctx); err != nil {
		st.Err = err
		return st
	}
	st.Reachable = true

	present, err := s.schemaPresent(ctx)
	if err != nil {
		st.Err = err
		return st
	}
	st.SchemaPresent = present
	if !present {
		return st
	}

	var value string
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM system_metadata WHERE key = ?`), MigrationMarkerKey).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		st.Err = err
	default:
		st.Migrated = true
		if at, perr := time.Parse(time.RFC3339Nano, value); perr == nil {
			st.MigratedAt = at
		}
	}
	return st
}

func (s *Store) schemaPresent(ctx context.Context) (bool, error) {
	var query string
	if s.dialect == dialectSQLite {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN (` + placeholders(len(requiredTables)) + `)`
	} else {
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name IN (` + placeholders(len(requiredTables)) + `)`
	}
	args := make([]any, len(requiredTables))
	for i, name := range requiredTables {
		args[i] = name
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&n); err != nil {
		return false, err
	}
	return n == len(requiredTables), nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	for _, stmt := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return s.wrap("ensure schema", err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(op, err)
	}
	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return s.wrap(op, err)
	}
	if err := tx.Commit(); err != nil {
		return s.wrap(op, err)
	}
	return nil
}
