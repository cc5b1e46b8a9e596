// Package server exposes the catalog resolver, renderer and restart hook over
// HTTP.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/health"
	"github.com/pingsantohq/smokestack/internal/logging"
	"github.com/pingsantohq/smokestack/internal/metrics"
	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/service"
)

// Config controls HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AdminBearerToken guards every mutating route. Empty disables auth.
	AdminBearerToken string
	// MaxBodyBytes bounds request bodies; zero means 4 MiB.
	MaxBodyBytes int64
}

// Catalog is the subset of *resolver.Resolver the API serves.
type Catalog interface {
	ResolveMode(ctx context.Context) (resolver.Decision, error)
	Status(ctx context.Context) (resolver.StatusReport, error)
	ListTargets(ctx context.Context, filter catalog.Filter) ([]catalog.Target, error)
	GetTarget(ctx context.Context, id int64) (catalog.Target, error)
	CreateTarget(ctx context.Context, spec catalog.TargetSpec) (catalog.Target, error)
	UpdateTarget(ctx context.Context, id int64, patch catalog.TargetPatch) (catalog.Target, error)
	ToggleActive(ctx context.Context, id int64) (catalog.Target, error)
	DeleteTarget(ctx context.Context, id int64) error
	Import(ctx context.Context, specs []catalog.TargetSpec, opts resolver.ImportOptions) (resolver.ImportReport, error)
	ListCategories(ctx context.Context) ([]catalog.Category, error)
	ListProbes(ctx context.Context) ([]catalog.ProbeKind, error)
	ListSources(ctx context.Context) ([]catalog.Source, error)
	Migrate(ctx context.Context, dir resolver.Direction) (resolver.MigrationReport, error)
	RenderTo(ctx context.Context, dir string) (resolver.RenderResult, error)
}

// Dependencies holds external collaborators required by the server.
type Dependencies struct {
	Logger    *log.Logger
	Catalog   Catalog
	Restarter service.Restarter
	Engine    service.Checker
	Health    *health.Checker
	Metrics   *metrics.Store
	Now       func() time.Time
}

// Server wraps http.Server for convenience.
type Server struct {
	*http.Server
	cfg  Config
	deps Dependencies
}

const defaultMaxBody = 4 << 20

func New(cfg Config, deps Dependencies) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{cfg: cfg, deps: deps}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet, http.MethodHead)
	if deps.Metrics != nil {
		r.Handle("/metrics", metrics.NewHTTPHandler(deps.Metrics))
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.status).Methods(http.MethodGet)
	api.HandleFunc("/targets", s.listTargets).Methods(http.MethodGet)
	api.Handle("/targets", s.admin(s.createTarget)).Methods(http.MethodPost)
	// registered before /targets/{id} so "import" is not taken as an id
	api.Handle("/targets/import", s.admin(s.importTargets)).Methods(http.MethodPost)
	api.HandleFunc("/targets/{id:[0-9]+}", s.getTarget).Methods(http.MethodGet)
	api.Handle("/targets/{id:[0-9]+}", s.admin(s.updateTarget)).Methods(http.MethodPatch)
	api.Handle("/targets/{id:[0-9]+}", s.admin(s.deleteTarget)).Methods(http.MethodDelete)
	api.Handle("/targets/{id:[0-9]+}/toggle", s.admin(s.toggleTarget)).Methods(http.MethodPost)
	api.HandleFunc("/categories", s.listCategories).Methods(http.MethodGet)
	api.HandleFunc("/probes", s.listProbes).Methods(http.MethodGet)
	api.HandleFunc("/sources", s.listSources).Methods(http.MethodGet)
	api.Handle("/migrate", s.admin(s.migrate)).Methods(http.MethodPost)
	api.Handle("/render", s.admin(s.render)).Methods(http.MethodPost)
	api.Handle("/restart", s.admin(s.restart)).Methods(http.MethodPost)
	api.Handle("/apply", s.admin(s.apply)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.fail(w, req, http.StatusNotFound, kindNotFound, "no such route")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		s.fail(w, req, http.StatusMethodNotAllowed, kindValidation, "method not allowed")
	})

	s.Server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.requestID(s.logRequests(r)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
		ErrorLog:     deps.Logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}
	return s
}

type ctxKey int

const requestIDKey ctxKey = iota

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.deps.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.deps.Logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", s.deps.Now().Sub(start), "request_id", requestIDFrom(r.Context()))
	})
}

// admin enforces the bearer token on mutating routes when one is configured.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authorizeAdmin(r, s.cfg.AdminBearerToken) {
			s.fail(w, r, http.StatusUnauthorized, kindUnauthorized, "missing or invalid bearer token")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		h(w, r)
	})
}

func authorizeAdmin(r *http.Request, token string) bool {
	if strings.TrimSpace(token) == "" {
		return true
	}
	const prefix = "Bearer "
	value := r.Header.Get("Authorization")
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix)) == token
}
