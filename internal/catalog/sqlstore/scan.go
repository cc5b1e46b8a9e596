package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

// sqlTime scans TIMESTAMPTZ values from PostgreSQL and RFC 3339 text from
// SQLite.
type sqlTime struct{ time.Time }

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	return nil
}

func (t *sqlTime) parse(v string) error {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, v); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable time %q", v)
}

type rowScanner interface {
	Scan(dest ...any) error
}

const targetColumns = `t.id, t.name, t.host, t.title, c.name, p.name, t.lookup, t.is_active, t.created_at, t.updated_at,
       m.target_id, m.asn, m.cache_id, m.city, m.domain, m.iata_code, m.latitude, m.longitude,
       m.location_code, m.raw_city, m.metadata_type`

const targetFrom = `
  FROM targets t
  JOIN target_categories c ON c.id = t.category_id
  JOIN probes p ON p.id = t.probe_id
  LEFT JOIN target_cdn_metadata m ON m.target_id = t.id`

func scanTarget(row rowScanner) (catalog.Target, error) {
	var (
		t                                catalog.Target
		created, updated                 sqlTime
		cdnID                            sql.NullInt64
		asn, cacheID, city, domain, iata sql.NullString
		locationCode, rawCity, metaType  sql.NullString
		lat, lon                         sql.NullFloat64
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Host, &t.Title, &t.Category, &t.Probe, &t.Lookup, &t.Active,
		&created, &updated, &cdnID, &asn, &cacheID, &city, &domain, &iata, &lat, &lon,
		&locationCode, &rawCity, &metaType); err != nil {
		return catalog.Target{}, err
	}
	t.CreatedAt = created.Time
	t.UpdatedAt = updated.Time
	if cdnID.Valid {
		m := &catalog.CDNMetadata{
			ASN:          asn.String,
			CacheID:      cacheID.String,
			City:         city.String,
			Domain:       domain.String,
			IATACode:     iata.String,
			LocationCode: locationCode.String,
			RawCity:      rawCity.String,
			Type:         metaType.String,
		}
		if lat.Valid {
			v := lat.Float64
			m.Latitude = &v
		}
		if lon.Valid {
			v := lon.Float64
			m.Longitude = &v
		}
		if !m.Empty() {
			t.CDN = m
		}
	}
	return t, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
