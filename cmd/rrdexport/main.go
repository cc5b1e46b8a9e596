package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/smokestack/internal/app"
	"github.com/pingsantohq/smokestack/internal/classify"
	"github.com/pingsantohq/smokestack/internal/config"
	"github.com/pingsantohq/smokestack/internal/cursor"
	"github.com/pingsantohq/smokestack/internal/export"
	"github.com/pingsantohq/smokestack/internal/health"
	"github.com/pingsantohq/smokestack/internal/influx"
	"github.com/pingsantohq/smokestack/internal/logging"
	"github.com/pingsantohq/smokestack/internal/metrics"
)

func main() {
	ctx := context.Background()

	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = run(ctx, args)
	case "once":
		err = once(ctx, args)
	case "cursors":
		err = cursors(ctx, args)
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("smokestack round-robin exporter")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  rrdexport [run] [--config smokestack.yaml]")
	fmt.Println("  rrdexport once [--config path]")
	fmt.Println("  rrdexport cursors [--config path]")
}

type env struct {
	cfg      config.Config
	logger   *log.Logger
	metrics  *metrics.Store
	catalog  *app.Catalog
	sink     *influx.Sink
	cursors  cursor.Store
	exporter *export.Exporter
	closers  []func() error
}

func (e *env) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.logger.Warn("shutdown", "err", err)
		}
	}
}

func setup(ctx context.Context, name string, args []string) (*env, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to smokestack configuration file (default $SMOKESTACK_CONFIG)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg, err := config.LoadFromEnv(ctx, *configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateExporter(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &env{
		cfg:     cfg,
		logger:  logging.New("rrdexport", cfg.LogLevel, cfg.LogFormat),
		metrics: metrics.NewStore("smokestack"),
	}
	x := cfg.Export

	c, err := app.OpenCatalog(ctx, cfg.Catalog, app.CatalogOptions{
		Logger:  e.logger.WithPrefix("resolver"),
		Metrics: e.metrics.CatalogRecorder(),
	})
	if err != nil {
		return nil, err
	}
	e.catalog = c
	e.closers = append(e.closers, c.Close)

	sink, err := influx.New(influx.Config{
		URL:      x.InfluxURL,
		Token:    x.InfluxToken,
		Org:      x.InfluxOrg,
		Bucket:   x.InfluxBucket,
		Lookback: x.MaxBackfill.Duration,
		Timeout:  x.WriteTimeout.Duration,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.sink = sink
	e.closers = append(e.closers, func() error { sink.Close(); return nil })

	if x.CursorRedisURL != "" {
		rs, err := cursor.NewRedisStore(ctx, x.CursorRedisURL, cursor.DefaultRedisKey)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.cursors = rs
		e.closers = append(e.closers, rs.Close)
		e.logger.Info("cursor store", "backend", "redis")
	} else {
		e.cursors = cursor.NewFileStore(x.CursorFile)
		e.logger.Info("cursor store", "backend", "file", "path", x.CursorFile)
	}

	exp, err := export.New(export.Options{
		Root:         x.RRDDir,
		Reader:       newReader(x.RRDToolBin, x.ReadTimeout.Duration),
		Sink:         sink,
		Cursors:      e.cursors,
		Catalog:      c.Resolver,
		Rules:        classify.NewRules(x.ResolverCategories...),
		Interval:     x.Interval.Duration,
		BatchSize:    x.BatchSize,
		Workers:      x.Workers,
		WriteTimeout: x.WriteTimeout.Duration,
		MaxBackfill:  x.MaxBackfill.Duration,
		Logger:       e.logger.WithPrefix("export"),
		Metrics:      e.metrics.ExportRecorder(),
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	e.exporter = exp
	return e, nil
}

func run(ctx context.Context, args []string) error {
	e, err := setup(ctx, "run", args)
	if err != nil {
		return err
	}
	defer e.Close()

	checker := health.NewChecker(e.metrics, []health.Check{
		{Name: "influx", Fn: e.sink.Ping},
	}, health.WithCycleFreshness(3*e.cfg.Export.Interval.Duration))

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.logger.Info("exporter starting", "rrd_dir", e.cfg.Export.RRDDir, "interval", e.cfg.Export.Interval.Duration,
		"workers", e.cfg.Export.Workers)

	grp, groupCtx := errgroup.WithContext(runCtx)
	grp.Go(func() error {
		if err := e.exporter.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	grp.Go(func() error {
		return serveMonitoring(groupCtx, e.cfg.Export.MetricsAddr, e.metrics, checker, e.logger)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	e.logger.Info("exporter stopped")
	return nil
}

func once(ctx context.Context, args []string) error {
	e, err := setup(ctx, "once", args)
	if err != nil {
		return err
	}
	defer e.Close()
	report, err := e.exporter.RunCycle(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("%d failed batches, %d skipped targets", report.FailedBatches, report.Skipped)
	}
	return nil
}

type cursorEntry struct {
	Target string    `json:"target"`
	Time   time.Time `json:"time"`
}

func cursors(ctx context.Context, args []string) error {
	e, err := setup(ctx, "cursors", args)
	if err != nil {
		return err
	}
	defer e.Close()
	loaded, err := e.cursors.Load(ctx)
	if err != nil {
		return err
	}
	out := make([]cursorEntry, 0, len(loaded))
	for name, t := range loaded {
		out = append(out, cursorEntry{Target: name, Time: t.UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return printJSON(out)
}

func serveMonitoring(ctx context.Context, addr string, store *metrics.Store, checker *health.Checker, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.NewHTTPHandler(store))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/readyz", health.Handler(checker))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
