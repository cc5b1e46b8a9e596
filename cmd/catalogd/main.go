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
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pingsantohq/smokestack/internal/app"
	"github.com/pingsantohq/smokestack/internal/config"
	"github.com/pingsantohq/smokestack/internal/geo"
	"github.com/pingsantohq/smokestack/internal/health"
	"github.com/pingsantohq/smokestack/internal/importer"
	"github.com/pingsantohq/smokestack/internal/logging"
	"github.com/pingsantohq/smokestack/internal/metrics"
	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/scheduler"
	"github.com/pingsantohq/smokestack/internal/server"
	"github.com/pingsantohq/smokestack/internal/service"
	"github.com/pingsantohq/smokestack/internal/verify"
)

const shutdownGrace = 10 * time.Second

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
	case "migrate":
		err = migrate(ctx, args)
	case "render":
		err = render(ctx, args)
	case "status":
		err = status(ctx, args)
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
	fmt.Println("smokestack catalog daemon")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  catalogd [run] [--config smokestack.yaml]")
	fmt.Println("  catalogd migrate [--config path] [--direction FILE_TO_DATABASE]")
	fmt.Println("  catalogd render [--config path] [--output dir]")
	fmt.Println("  catalogd status [--config path]")
}

type env struct {
	cfg     config.Config
	logger  *log.Logger
	metrics *metrics.Store
	catalog *app.Catalog
	geo     *geo.Enricher
}

func (e *env) Close() {
	if e.geo != nil {
		if err := e.geo.Close(); err != nil {
			e.logger.Warn("close geoip databases", "err", err)
		}
	}
	if e.catalog != nil {
		if err := e.catalog.Close(); err != nil {
			e.logger.Warn("close catalog database", "err", err)
		}
	}
}

func setup(ctx context.Context, name string, args []string, extra func(fs *flag.FlagSet)) (*env, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to smokestack configuration file (default $SMOKESTACK_CONFIG)")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg, err := config.LoadFromEnv(ctx, *configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateDaemon(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	e := &env{
		cfg:     cfg,
		logger:  logging.New("catalogd", cfg.LogLevel, cfg.LogFormat),
		metrics: metrics.NewStore("smokestack"),
	}
	opts := app.CatalogOptions{
		OutputDir:     cfg.Daemon.OutputDir,
		Logger:        e.logger.WithPrefix("resolver"),
		Metrics:       e.metrics.CatalogRecorder(),
		CDNCategories: cfg.Daemon.CDNCategories,
	}
	if cfg.Daemon.GeoIPCityDB != "" || cfg.Daemon.GeoIPASNDB != "" {
		g, err := geo.Open(cfg.Daemon.GeoIPCityDB, cfg.Daemon.GeoIPASNDB)
		if err != nil {
			return nil, fmt.Errorf("open geoip databases: %w", err)
		}
		e.geo = g
		opts.Enricher = g
	}
	c, err := app.OpenCatalog(ctx, cfg.Catalog, opts)
	if err != nil {
		e.Close()
		return nil, err
	}
	e.catalog = c
	return e, nil
}

func run(ctx context.Context, args []string) error {
	e, err := setup(ctx, "run", args, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg := e.cfg
	res := e.catalog.Resolver

	d, err := res.ResolveMode(ctx)
	if err != nil {
		e.logger.Warn("catalog mode unresolved at startup", "err", err)
	} else {
		e.logger.Info("catalog mode", "mode", d.Mode, "degraded", d.Degraded, "reason", d.Reason)
	}

	restarter := service.NewThrottle(newRestarter(cfg.Daemon, e.logger), cfg.Daemon.RestartMinInterval.Duration)
	checker := health.NewChecker(e.metrics, []health.Check{{
		Name: "catalog",
		Fn: func(ctx context.Context) error {
			_, err := res.ResolveMode(ctx)
			return err
		},
	}})

	srv := server.New(server.Config{
		Addr:             cfg.Daemon.ListenAddr,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     2 * time.Minute,
		IdleTimeout:      60 * time.Second,
		AdminBearerToken: cfg.Daemon.AdminToken,
	}, server.Dependencies{
		Logger:    e.logger.WithPrefix("http"),
		Catalog:   res,
		Restarter: restarter,
		Engine:    newChecker(cfg.Daemon),
		Health:    checker,
		Metrics:   e.metrics,
	})
	if cfg.Daemon.AdminToken == "" {
		e.logger.Warn("ADMIN_BEARER_TOKEN not set, mutating routes are unauthenticated")
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Daemon.RefreshInterval.Duration > 0 {
		refresh, err := newRefresher(cfg.Daemon, res, restarter, e.logger.WithPrefix("refresh"))
		if err != nil {
			return err
		}
		sched := scheduler.New(scheduler.WithLogger(e.logger.WithPrefix("scheduler")))
		sched.Update([]scheduler.Task{{
			Name:       "discovery-refresh",
			Interval:   cfg.Daemon.RefreshInterval.Duration,
			RunAtStart: true,
			Run:        refresh.run,
		}})
		go sched.Start(runCtx)
	}

	serverErr := make(chan error, 1)
	go func() {
		e.logger.Info("catalog API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-runCtx.Done():
		e.logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("graceful shutdown failed", "err", err)
	}
	e.logger.Info("catalogd stopped")
	return nil
}

func newRestarter(cfg config.DaemonConfig, logger *log.Logger) service.Restarter {
	if cfg.ProbePIDFile != "" {
		return &service.SignalRestarter{PIDFile: cfg.ProbePIDFile, Logger: logger}
	}
	argv := strings.Fields(cfg.RestartCommand)
	if len(argv) == 0 {
		argv = service.DefaultCommand(cfg.EngineContainer)
	}
	return &service.CommandRestarter{Command: argv, Logger: logger}
}

func newChecker(cfg config.DaemonConfig) service.Checker {
	if cfg.ProbePIDFile != "" {
		return &service.PIDChecker{PIDFile: cfg.ProbePIDFile}
	}
	return &service.CommandChecker{Container: cfg.EngineContainer}
}

// refresher imports the discovery file, then renders and restarts the engine
// when new targets were created.
type refresher struct {
	path      string
	verifier  importer.Verifier
	catalog   *resolver.Resolver
	restarter service.Restarter
	logger    *log.Logger
}

func newRefresher(cfg config.DaemonConfig, res *resolver.Resolver, restarter service.Restarter, logger *log.Logger) (*refresher, error) {
	r := &refresher{path: cfg.RefreshFile, catalog: res, restarter: restarter, logger: logger}
	if cfg.RefreshPubKey != "" {
		v, err := verify.LoadPublicKey(cfg.RefreshPubKey)
		if err != nil {
			return nil, fmt.Errorf("load refresh public key: %w", err)
		}
		r.verifier = v
	}
	return r, nil
}

func (r *refresher) run(ctx context.Context) error {
	specs, err := importer.Load(ctx, r.path, r.verifier)
	if err != nil {
		return err
	}
	report, err := r.catalog.Import(ctx, specs, resolver.ImportOptions{SkipExisting: true})
	if err != nil {
		return err
	}
	for _, f := range report.Failed {
		r.logger.Warn("discovered target rejected", "name", f.Name, "kind", f.Kind, "err", f.Error)
	}
	if len(report.Created) == 0 {
		r.logger.Debug("discovery refresh found nothing new", "skipped", len(report.Skipped))
		return nil
	}
	if _, err := r.catalog.RenderTo(ctx, ""); err != nil {
		return fmt.Errorf("render after refresh: %w", err)
	}
	if err := r.restarter.Restart(ctx); err != nil {
		if errors.Is(err, service.ErrRestartThrottled) {
			r.logger.Info("engine restart deferred by throttle")
			return nil
		}
		return err
	}
	r.logger.Info("discovery refresh applied", "created", len(report.Created))
	return nil
}

func migrate(ctx context.Context, args []string) error {
	var direction string
	e, err := setup(ctx, "migrate", args, func(fs *flag.FlagSet) {
		fs.StringVar(&direction, "direction", string(resolver.FileToDatabase), "Migration direction")
	})
	if err != nil {
		return err
	}
	defer e.Close()
	dir, err := resolver.ParseDirection(direction)
	if err != nil {
		return err
	}
	report, err := e.catalog.Resolver.Migrate(ctx, dir)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func render(ctx context.Context, args []string) error {
	var output string
	e, err := setup(ctx, "render", args, func(fs *flag.FlagSet) {
		fs.StringVar(&output, "output", "", "Output directory (default OUTPUT_DIR)")
	})
	if err != nil {
		return err
	}
	defer e.Close()
	res, err := e.catalog.Resolver.RenderTo(ctx, output)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func status(ctx context.Context, args []string) error {
	e, err := setup(ctx, "status", args, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	report, err := e.catalog.Resolver.Status(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
