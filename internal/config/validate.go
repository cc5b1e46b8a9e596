package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateDaemon checks the settings catalogd needs.
func (c Config) ValidateDaemon() error {
	var errs []error
	errs = append(errs, c.Catalog.validate()...)
	if strings.TrimSpace(c.Daemon.ListenAddr) == "" {
		errs = append(errs, errors.New("LISTEN_ADDR is required"))
	}
	if strings.TrimSpace(c.Daemon.OutputDir) == "" {
		errs = append(errs, errors.New("OUTPUT_DIR is required"))
	}
	if c.Daemon.RestartMinInterval.Duration < 0 {
		errs = append(errs, errors.New("RESTART_MIN_INTERVAL must not be negative"))
	}
	if c.Daemon.RefreshInterval.Duration < 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must not be negative"))
	}
	if c.Daemon.RefreshInterval.Duration > 0 && strings.TrimSpace(c.Daemon.RefreshFile) == "" {
		errs = append(errs, errors.New("REFRESH_FILE is required when REFRESH_INTERVAL is set"))
	}
	return errors.Join(errs...)
}

// ValidateExporter checks the settings rrdexport needs.
func (c Config) ValidateExporter() error {
	var errs []error
	errs = append(errs, c.Catalog.validate()...)
	x := c.Export
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"INFLUX_URL", x.InfluxURL},
		{"INFLUX_TOKEN", x.InfluxToken},
		{"INFLUX_ORG", x.InfluxOrg},
		{"INFLUX_BUCKET", x.InfluxBucket},
		{"RRD_DIR", x.RRDDir},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	if x.Interval.Duration <= 0 {
		errs = append(errs, errors.New("EXPORT_INTERVAL must be positive"))
	}
	if x.BatchSize <= 0 {
		errs = append(errs, errors.New("EXPORT_BATCH_SIZE must be positive"))
	}
	if x.Workers <= 0 {
		errs = append(errs, errors.New("EXPORT_WORKERS must be positive"))
	}
	if x.WriteTimeout.Duration <= 0 {
		errs = append(errs, errors.New("EXPORT_WRITE_TIMEOUT must be positive"))
	}
	if x.ReadTimeout.Duration <= 0 {
		errs = append(errs, errors.New("RRD_READ_TIMEOUT must be positive"))
	}
	if x.MaxBackfill.Duration <= 0 {
		errs = append(errs, errors.New("EXPORT_MAX_BACKFILL must be positive"))
	}
	if strings.TrimSpace(x.CursorFile) == "" && strings.TrimSpace(x.CursorRedisURL) == "" {
		errs = append(errs, errors.New("CURSOR_FILE or CURSOR_REDIS_URL is required"))
	}
	return errors.Join(errs...)
}

func (c CatalogConfig) validate() []error {
	var errs []error
	if strings.TrimSpace(c.Dir) == "" {
		errs = append(errs, errors.New("CATALOG_DIR is required"))
	}
	if c.DBTimeout.Duration <= 0 {
		errs = append(errs, errors.New("DB_TIMEOUT must be positive"))
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("DB connection limits must not be negative"))
	}
	return errs
}
