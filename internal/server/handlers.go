package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/importer"
	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/service"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.ok(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ready, reasons := s.deps.Health.Ready(r.Context(), s.deps.Now())
		if !ready {
			s.fail(w, r, http.StatusServiceUnavailable, kindUnavailable, strings.Join(reasons, "; "))
			return
		}
		s.ok(w, r, http.StatusOK, map[string]bool{"ready": true})
		return
	}
	d, err := s.deps.Catalog.ResolveMode(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, d)
}

type StatusResponse struct {
	Catalog     resolver.StatusReport `json:"catalog"`
	Engine      *service.EngineStatus `json:"engine,omitempty"`
	EngineError string                `json:"engine_error,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Catalog.Status(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	resp := StatusResponse{Catalog: report}
	if s.deps.Engine != nil {
		st, err := s.deps.Engine.Status(r.Context())
		if err != nil {
			resp.EngineError = err.Error()
		} else {
			resp.Engine = &st
		}
	}
	s.ok(w, r, http.StatusOK, resp)
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := catalog.Filter{Category: strings.TrimSpace(q.Get("category"))}
	if raw := q.Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.failErr(w, r, catalog.Invalid("active", "expected a boolean, got %q", raw))
			return
		}
		filter.ActiveOnly = v
	}
	targets, err := s.deps.Catalog.ListTargets(r.Context(), filter)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, targets)
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Catalog.GetTarget(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, t)
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var spec catalog.TargetSpec
	if !s.decode(w, r, &spec) {
		return
	}
	t, err := s.deps.Catalog.CreateTarget(r.Context(), spec)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusCreated, t)
}

func (s *Server) updateTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	var patch catalog.TargetPatch
	if !s.decode(w, r, &patch) {
		return
	}
	t, err := s.deps.Catalog.UpdateTarget(r.Context(), id, patch)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, t)
}

func (s *Server) toggleTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	t, err := s.deps.Catalog.ToggleActive(r.Context(), id)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, t)
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	id, ok := s.targetID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Catalog.DeleteTarget(r.Context(), id); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, map[string]int64{"deleted": id})
}

type ImportRequest struct {
	Targets      []catalog.TargetSpec `json:"targets"`
	SkipExisting bool                 `json:"skip_existing"`
}

// importTargets accepts either a JSON ImportRequest or, with a YAML content
// type, a raw discovery document; skip_existing then comes from the query.
func (s *Server) importTargets(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			s.failErr(w, r, err)
			return
		}
		specs, err := importer.Parse(data)
		if err != nil {
			s.failErr(w, r, catalog.Invalid("body", "%v", err))
			return
		}
		req.Targets = specs
		req.SkipExisting, _ = strconv.ParseBool(r.URL.Query().Get("skip_existing"))
	} else if !s.decode(w, r, &req) {
		return
	}
	report, err := s.deps.Catalog.Import(r.Context(), req.Targets, resolver.ImportOptions{SkipExisting: req.SkipExisting})
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, report)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.deps.Catalog.ListCategories(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, cats)
}

func (s *Server) listProbes(w http.ResponseWriter, r *http.Request) {
	probes, err := s.deps.Catalog.ListProbes(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, probes)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.deps.Catalog.ListSources(r.Context())
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, sources)
}

type MigrateRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) migrate(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.failErr(w, r, catalog.Invalid("body", "invalid json: %v", err))
		return
	}
	dir, err := resolver.ParseDirection(req.Direction)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	report, err := s.deps.Catalog.Migrate(r.Context(), dir)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, report)
}

func (s *Server) render(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Catalog.RenderTo(r.Context(), "")
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, res)
}

func (s *Server) restart(w http.ResponseWriter, r *http.Request) {
	if err := s.restartEngine(r); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, map[string]bool{"restarted": true})
}

type ApplyResponse struct {
	Render    resolver.RenderResult `json:"render"`
	Restarted bool                  `json:"restarted"`
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Catalog.RenderTo(r.Context(), "")
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	if err := s.restartEngine(r); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.ok(w, r, http.StatusOK, ApplyResponse{Render: res, Restarted: true})
}

func (s *Server) restartEngine(r *http.Request) error {
	if s.deps.Restarter == nil {
		return catalog.Unavailable("engine", errors.New("restart hook not configured"))
	}
	err := s.deps.Restarter.Restart(r.Context())
	if errors.Is(err, service.ErrRestartThrottled) {
		return err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CatalogRecorder().IncRestart(err == nil)
	}
	if err != nil {
		return err
	}
	s.deps.Logger.Info("probing engine restarted", "request_id", requestIDFrom(r.Context()))
	return nil
}

func (s *Server) targetID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		s.failErr(w, r, catalog.Invalid("id", "invalid target id %q", raw))
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.failErr(w, r, err)
			return false
		}
		s.failErr(w, r, catalog.Invalid("body", "invalid json: %v", err))
		return false
	}
	return true
}
