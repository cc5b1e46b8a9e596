// Package health evaluates readiness for catalogd and rrdexport.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pingsantohq/smokestack/internal/metrics"
)

const defaultCheckTimeout = 3 * time.Second

// Check is a dependency probe; a nil error means healthy.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Checker evaluates dependency checks and, when configured, the freshness of
// export cycles recorded in the metrics store.
type Checker struct {
	metrics      *metrics.Store
	checks       []Check
	timeout      time.Duration
	cycleStale   time.Duration
	expectCycles bool
}

type Option func(*Checker)

// WithCycleFreshness marks the process not ready until an export cycle has
// succeeded within staleAfter.
func WithCycleFreshness(staleAfter time.Duration) Option {
	return func(c *Checker) {
		c.expectCycles = true
		c.cycleStale = staleAfter
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewChecker(store *metrics.Store, checks []Check, opts ...Option) *Checker {
	c := &Checker{metrics: store, checks: checks, timeout: defaultCheckTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ready runs every check and returns the overall status and the reasons for
// failure. The result is mirrored into the metrics store.
func (c *Checker) Ready(ctx context.Context, now time.Time) (bool, []string) {
	reasons := make([]string, 0, len(c.checks)+1)
	for _, check := range c.checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.Fn(cctx)
		cancel()
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("%s: %v", check.Name, err))
		}
	}

	if c.expectCycles && c.metrics != nil {
		snap := c.metrics.Snapshot()
		switch {
		case snap.LastSuccess.IsZero():
			reasons = append(reasons, "export cycle not yet succeeded")
		case c.cycleStale > 0 && now.Sub(snap.LastSuccess) > c.cycleStale:
			reasons = append(reasons, fmt.Sprintf("export cycle stale (%s)", now.Sub(snap.LastSuccess).Round(time.Second)))
		}
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		c.metrics.ObserveReadiness(ready, strings.Join(reasons, "; "))
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}

type readyResponse struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons,omitempty"`
}

// Handler serves the readiness result as JSON: 200 when ready, 503 otherwise.
func Handler(c *Checker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ready, reasons := c.Ready(r.Context(), time.Now())
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(readyResponse{Ready: ready, Reasons: reasons})
	})
}
