package sqlstore

// Tables checked by Status to decide whether the schema is present.
var requiredTables = []string{
	"target_categories",
	"probes",
	"targets",
	"target_cdn_metadata",
	"sources",
	"retired_target_names",
	"system_metadata",
}

func schema(d dialect) []string {
	idCol, tsCol, floatCol := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "DOUBLE PRECISION"
	boolCol, yes, no := "BOOLEAN", "TRUE", "FALSE"
	if d == dialectSQLite {
		idCol, tsCol, floatCol = "INTEGER PRIMARY KEY AUTOINCREMENT", "TEXT", "REAL"
		boolCol, yes, no = "INTEGER", "1", "0"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS target_categories (
    id ` + idCol + `,
    name TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at ` + tsCol + ` NOT NULL,
    updated_at ` + tsCol + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS probes (
    id ` + idCol + `,
    name TEXT NOT NULL UNIQUE,
    probe_type TEXT NOT NULL,
    binary_path TEXT NOT NULL,
    step_seconds INTEGER NOT NULL DEFAULT 300 CHECK (step_seconds > 0),
    pings INTEGER NOT NULL DEFAULT 20 CHECK (pings > 0),
    forks INTEGER CHECK (forks IS NULL OR forks > 0),
    is_default ` + boolCol + ` NOT NULL DEFAULT ` + no + `
)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS probes_single_default ON probes (is_default) WHERE is_default = ` + yes,
		`CREATE TABLE IF NOT EXISTS targets (
    id ` + idCol + `,
    name TEXT NOT NULL UNIQUE,
    host TEXT NOT NULL,
    title TEXT NOT NULL,
    category_id BIGINT NOT NULL REFERENCES target_categories(id),
    probe_id BIGINT NOT NULL REFERENCES probes(id),
    lookup TEXT NOT NULL DEFAULT '',
    is_active ` + boolCol + ` NOT NULL DEFAULT ` + yes + `,
    created_at ` + tsCol + ` NOT NULL,
    updated_at ` + tsCol + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS targets_category_idx ON targets (category_id)`,
		`CREATE TABLE IF NOT EXISTS target_cdn_metadata (
    target_id BIGINT PRIMARY KEY REFERENCES targets(id) ON DELETE CASCADE,
    asn TEXT,
    cache_id TEXT,
    city TEXT,
    domain TEXT,
    iata_code TEXT,
    latitude ` + floatCol + `,
    longitude ` + floatCol + `,
    location_code TEXT,
    raw_city TEXT,
    metadata_type TEXT
)`,
		`CREATE TABLE IF NOT EXISTS sources (
    id ` + idCol + `,
    name TEXT NOT NULL UNIQUE,
    enabled ` + boolCol + ` NOT NULL DEFAULT ` + yes + `,
    description TEXT NOT NULL DEFAULT '',
    settings TEXT NOT NULL DEFAULT '{}'
)`,
		`CREATE TABLE IF NOT EXISTS retired_target_names (
    name TEXT PRIMARY KEY,
    retired_at ` + tsCol + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS system_metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at ` + tsCol + ` NOT NULL
)`,
	}
}
