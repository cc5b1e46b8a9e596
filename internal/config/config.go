// Package config loads process settings for catalogd and rrdexport from an
// optional YAML file, a .env file and the environment, in increasing order
// of precedence.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envConfigPath = "SMOKESTACK_CONFIG"

// Duration accepts Go duration syntax ("90s", "1h") or an integer number of
// seconds.
type Duration struct {
	time.Duration
}

func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseDuration(node.Value)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

type Config struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Catalog   CatalogConfig `yaml:"catalog"`
	Daemon    DaemonConfig  `yaml:"daemon"`
	Export    ExportConfig  `yaml:"export"`
}

// CatalogConfig locates both catalog backends. An empty DatabaseURL means the
// file catalog is the only backend.
type CatalogConfig struct {
	Dir          string   `yaml:"dir"`
	DatabaseURL  string   `yaml:"database_url"`
	DBTimeout    Duration `yaml:"db_timeout"`
	MaxOpenConns int      `yaml:"db_max_open_conns"`
	MaxIdleConns int      `yaml:"db_max_idle_conns"`
}

type DaemonConfig struct {
	ListenAddr         string   `yaml:"listen_addr"`
	OutputDir          string   `yaml:"output_dir"`
	AdminToken         string   `yaml:"admin_bearer_token"`
	RestartCommand     string   `yaml:"restart_command"`
	ProbePIDFile       string   `yaml:"probe_pidfile"`
	EngineContainer    string   `yaml:"engine_container"`
	RestartMinInterval Duration `yaml:"restart_min_interval"`
	GeoIPCityDB        string   `yaml:"geoip_city_db"`
	GeoIPASNDB         string   `yaml:"geoip_asn_db"`
	CDNCategories      []string `yaml:"cdn_categories"`
	RefreshFile        string   `yaml:"refresh_file"`
	RefreshInterval    Duration `yaml:"refresh_interval"`
	RefreshPubKey      string   `yaml:"refresh_pubkey"`
}

type ExportConfig struct {
	InfluxURL          string   `yaml:"influx_url"`
	InfluxToken        string   `yaml:"influx_token"`
	InfluxOrg          string   `yaml:"influx_org"`
	InfluxBucket       string   `yaml:"influx_bucket"`
	RRDDir             string   `yaml:"rrd_dir"`
	Interval           Duration `yaml:"interval"`
	BatchSize          int      `yaml:"batch_size"`
	Workers            int      `yaml:"workers"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	MaxBackfill        Duration `yaml:"max_backfill"`
	CursorFile         string   `yaml:"cursor_file"`
	CursorRedisURL     string   `yaml:"cursor_redis_url"`
	ResolverCategories []string `yaml:"resolver_categories"`
	RRDToolBin         string   `yaml:"rrdtool_bin"`
	MetricsAddr        string   `yaml:"metrics_addr"`
}

func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Catalog: CatalogConfig{
			Dir:          "/app/config",
			DBTimeout:    Duration{5 * time.Second},
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Daemon: DaemonConfig{
			ListenAddr:         ":8080",
			OutputDir:          "/app/output",
			EngineContainer:    "smokeping",
			RestartMinInterval: Duration{30 * time.Second},
			CDNCategories:      []string{"netflix_oca"},
		},
		Export: ExportConfig{
			RRDDir:             "/var/lib/smokeping",
			Interval:           Duration{60 * time.Second},
			BatchSize:          1000,
			Workers:            4,
			WriteTimeout:       Duration{10 * time.Second},
			ReadTimeout:        Duration{30 * time.Second},
			MaxBackfill:        Duration{24 * time.Hour},
			CursorFile:         "/var/lib/smokestack/cursors.json",
			ResolverCategories: []string{"dns_resolvers", "resolvers"},
			RRDToolBin:         "rrdtool",
			MetricsAddr:        ":9108",
		},
	}
}

// Load starts from Default, applies the YAML file at path when path is not
// empty, then applies overrides from lookup.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// LoadFromEnv loads .env from the working directory when present, then the
// config file named by flagPath or SMOKESTACK_CONFIG, then the environment.
func LoadFromEnv(ctx context.Context, flagPath string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	path := flagPath
	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	return Load(path, os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("LOG_LEVEL", &c.LogLevel)
	e.str("LOG_FORMAT", &c.LogFormat)

	e.str("CATALOG_DIR", &c.Catalog.Dir)
	e.str("DATABASE_URL", &c.Catalog.DatabaseURL)
	e.duration("DB_TIMEOUT", &c.Catalog.DBTimeout)
	e.integer("DB_MAX_OPEN_CONNS", &c.Catalog.MaxOpenConns)
	e.integer("DB_MAX_IDLE_CONNS", &c.Catalog.MaxIdleConns)

	e.str("LISTEN_ADDR", &c.Daemon.ListenAddr)
	e.str("OUTPUT_DIR", &c.Daemon.OutputDir)
	e.str("ADMIN_BEARER_TOKEN", &c.Daemon.AdminToken)
	e.str("RESTART_COMMAND", &c.Daemon.RestartCommand)
	e.str("PROBE_PIDFILE", &c.Daemon.ProbePIDFile)
	e.str("ENGINE_CONTAINER", &c.Daemon.EngineContainer)
	e.duration("RESTART_MIN_INTERVAL", &c.Daemon.RestartMinInterval)
	e.str("GEOIP_CITY_DB", &c.Daemon.GeoIPCityDB)
	e.str("GEOIP_ASN_DB", &c.Daemon.GeoIPASNDB)
	e.list("CDN_CATEGORIES", &c.Daemon.CDNCategories)
	e.str("REFRESH_FILE", &c.Daemon.RefreshFile)
	e.duration("REFRESH_INTERVAL", &c.Daemon.RefreshInterval)
	e.str("REFRESH_PUBKEY", &c.Daemon.RefreshPubKey)

	e.str("INFLUX_URL", &c.Export.InfluxURL)
	e.str("INFLUX_TOKEN", &c.Export.InfluxToken)
	e.str("INFLUX_ORG", &c.Export.InfluxOrg)
	e.str("INFLUX_BUCKET", &c.Export.InfluxBucket)
	e.str("RRD_DIR", &c.Export.RRDDir)
	e.duration("EXPORT_INTERVAL", &c.Export.Interval)
	e.integer("EXPORT_BATCH_SIZE", &c.Export.BatchSize)
	e.integer("EXPORT_WORKERS", &c.Export.Workers)
	e.duration("EXPORT_WRITE_TIMEOUT", &c.Export.WriteTimeout)
	e.duration("RRD_READ_TIMEOUT", &c.Export.ReadTimeout)
	e.duration("EXPORT_MAX_BACKFILL", &c.Export.MaxBackfill)
	e.str("CURSOR_FILE", &c.Export.CursorFile)
	e.str("CURSOR_REDIS_URL", &c.Export.CursorRedisURL)
	e.list("RESOLVER_CATEGORIES", &c.Export.ResolverCategories)
	e.str("RRDTOOL_BIN", &c.Export.RRDToolBin)
	e.str("METRICS_ADDR", &c.Export.MetricsAddr)

	return errors.Join(e.errs...)
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	*dst = n
}

func (e *envReader) duration(key string, dst *Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	d, err := ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	dst.Duration = d
}

func (e *envReader) list(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	*dst = SplitList(v)
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
