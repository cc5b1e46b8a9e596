// Package influx is the InfluxDB 2.x time-series sink of the exporter.
package influx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/pingsantohq/smokestack/internal/classify"
	"github.com/pingsantohq/smokestack/internal/export"
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Lookback bounds the cold-start query for the newest stored sample.
	Lookback time.Duration
	Timeout  time.Duration
}

func (c Config) Validate() error {
	var missing []string
	for name, v := range map[string]string{"INFLUX_URL": c.URL, "INFLUX_TOKEN": c.Token, "INFLUX_ORG": c.Org, "INFLUX_BUCKET": c.Bucket} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("influx: missing %s", strings.Join(sortStrings(missing), ", "))
	}
	return nil
}

type Sink struct {
	cfg    Config
	client influxdb2.Client
	writer api.WriteAPIBlocking
	query  api.QueryAPI
}

func New(cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = export.DefaultMaxBackfill
	}
	opts := influxdb2.DefaultOptions().SetPrecision(time.Second)
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout / time.Second))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	return &Sink{
		cfg:    cfg,
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
	}, nil
}

func (s *Sink) Close() { s.client.Close() }

// Ping reports whether the server answers.
func (s *Sink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influx ping: %w", err)
	}
	if !ok {
		return errors.New("influx ping: server not ready")
	}
	return nil
}

func (s *Sink) Write(ctx context.Context, points []export.Point) error {
	if len(points) == 0 {
		return nil
	}
	pts := make([]*write.Point, 0, len(points))
	for _, p := range points {
		pts = append(pts, toPoint(p))
	}
	if err := s.writer.WritePoint(ctx, pts...); err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	return nil
}

func toPoint(p export.Point) *write.Point {
	fields := make(map[string]interface{}, len(p.Fields))
	for k, v := range p.Fields {
		fields[k] = v
	}
	return influxdb2.NewPoint(string(p.Measurement), p.Tags, fields, p.Time)
}

// Latest returns the newest sample time stored for target within Lookback.
func (s *Sink) Latest(ctx context.Context, measurement classify.Stream, target string) (time.Time, bool, error) {
	res, err := s.query.Query(ctx, latestQuery(s.cfg.Bucket, string(measurement), target, s.cfg.Lookback))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("influx latest %s: %w", target, err)
	}
	defer res.Close()

	var latest time.Time
	for res.Next() {
		if t := res.Record().Time(); t.After(latest) {
			latest = t
		}
	}
	if err := res.Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("influx latest %s: %w", target, err)
	}
	return latest, !latest.IsZero(), nil
}

func latestQuery(bucket, measurement, target string, lookback time.Duration) string {
	return fmt.Sprintf(`from(bucket: %s)
  |> range(start: -%ds)
  |> filter(fn: (r) => r._measurement == %s and r.target == %s)
  |> last()
  |> keep(columns: ["_time"])`,
		fluxString(bucket), int64(lookback/time.Second), fluxString(measurement), fluxString(target))
}

func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}
