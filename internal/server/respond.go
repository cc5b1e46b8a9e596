package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/pingsantohq/smokestack/internal/resolver"
	"github.com/pingsantohq/smokestack/internal/service"
)

const (
	kindValidation   = "validation"
	kindNotFound     = "not_found"
	kindUnavailable  = "backend_unavailable"
	kindMigration    = "migration"
	kindThrottled    = "throttled"
	kindUnauthorized = "unauthorized"
	kindInternal     = "internal"
)

type Envelope struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

type APIError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, status int, data any) {
	s.write(w, status, Envelope{
		Success:   true,
		Data:      data,
		Timestamp: s.deps.Now().UTC(),
		RequestID: requestIDFrom(r.Context()),
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, kind, message string) {
	s.write(w, status, Envelope{
		Error:     &APIError{Kind: kind, Message: message},
		Timestamp: s.deps.Now().UTC(),
		RequestID: requestIDFrom(r.Context()),
	})
}

// failErr maps err onto the error taxonomy and its HTTP status.
func (s *Server) failErr(w http.ResponseWriter, r *http.Request, err error) {
	kind := resolver.ErrorKind(err)
	if errors.Is(err, service.ErrRestartThrottled) {
		kind = kindThrottled
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.fail(w, r, http.StatusRequestEntityTooLarge, kindValidation, "request body too large")
		return
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.deps.Logger.Error("request failed", "path", r.URL.Path, "kind", kind, "err", err,
			"request_id", requestIDFrom(r.Context()))
	}
	s.fail(w, r, status, kind, err.Error())
}

func statusFor(kind string) int {
	switch kind {
	case kindValidation:
		return http.StatusBadRequest
	case kindNotFound:
		return http.StatusNotFound
	case kindUnavailable:
		return http.StatusServiceUnavailable
	case kindThrottled:
		return http.StatusTooManyRequests
	case kindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) write(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.deps.Logger.Warn("encode response failed", "err", err)
	}
}
