package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Store maintains in-memory gauges and counters for catalogd and rrdexport.
type Store struct {
	prefix string

	catalogMode     atomic.Int64 // 1 database, 0 file
	catalogDegraded atomic.Int64
	fallbackReads   sync.Map // op -> *atomic.Uint64
	mutations       sync.Map // mutationKey -> *atomic.Uint64
	renders         atomic.Uint64
	renderedTargets atomic.Int64
	restarts        atomic.Uint64
	restartFailures atomic.Uint64

	cycles          atomic.Uint64
	cycleFailures   atomic.Uint64
	lastCycleNanos  atomic.Int64
	lastSuccessUnix atomic.Int64
	points          atomic.Uint64
	writeFailures   atomic.Uint64
	staleFiles      atomic.Uint64
	exportTargets   atomic.Int64

	readinessState  atomic.Int64
	readinessReason atomic.Value
}

type mutationKey struct {
	Op     string
	Result string
}

// NewStore constructs a Store whose metric names start with prefix, for
// example "smokestack_catalogd".
func NewStore(prefix string) *Store {
	s := &Store{prefix: prefix}
	s.readinessReason.Store("")
	return s
}

type Snapshot struct {
	DatabaseMode    bool
	Degraded        bool
	FallbackReads   map[string]uint64
	Mutations       map[string]uint64
	Renders         uint64
	RenderedTargets int64
	Restarts        uint64
	RestartFailures uint64
	Cycles          uint64
	CycleFailures   uint64
	LastCycle       time.Duration
	LastSuccess     time.Time
	PointsExported  uint64
	WriteFailures   uint64
	StaleFiles      uint64
	ExportTargets   int64
	Ready           bool
	ReadyReason     string
}

func (s *Store) Snapshot() Snapshot {
	reason, _ := s.readinessReason.Load().(string)
	snap := Snapshot{
		DatabaseMode:    s.catalogMode.Load() == 1,
		Degraded:        s.catalogDegraded.Load() == 1,
		FallbackReads:   map[string]uint64{},
		Mutations:       map[string]uint64{},
		Renders:         s.renders.Load(),
		RenderedTargets: s.renderedTargets.Load(),
		Restarts:        s.restarts.Load(),
		RestartFailures: s.restartFailures.Load(),
		Cycles:          s.cycles.Load(),
		CycleFailures:   s.cycleFailures.Load(),
		LastCycle:       time.Duration(s.lastCycleNanos.Load()),
		PointsExported:  s.points.Load(),
		WriteFailures:   s.writeFailures.Load(),
		StaleFiles:      s.staleFiles.Load(),
		ExportTargets:   s.exportTargets.Load(),
		Ready:           s.readinessState.Load() == 1,
		ReadyReason:     reason,
	}
	if unix := s.lastSuccessUnix.Load(); unix > 0 {
		snap.LastSuccess = time.Unix(unix, 0).UTC()
	}
	s.fallbackReads.Range(func(key, value any) bool {
		op, _ := key.(string)
		if counter, ok := value.(*atomic.Uint64); ok {
			snap.FallbackReads[op] = counter.Load()
		}
		return true
	})
	s.mutations.Range(func(key, value any) bool {
		k, _ := key.(mutationKey)
		if counter, ok := value.(*atomic.Uint64); ok {
			snap.Mutations[k.Op+"/"+k.Result] = counter.Load()
		}
		return true
	})
	return snap
}

func counter(m *sync.Map, key any) *atomic.Uint64 {
	if value, ok := m.Load(key); ok {
		if c, ok := value.(*atomic.Uint64); ok {
			return c
		}
	}
	actual, _ := m.LoadOrStore(key, &atomic.Uint64{})
	return actual.(*atomic.Uint64)
}

func (s *Store) CatalogRecorder() CatalogRecorder { return catalogRecorder{store: s} }

func (s *Store) ExportRecorder() ExportRecorder { return exportRecorder{store: s} }

type catalogRecorder struct{ store *Store }

func (r catalogRecorder) ObserveMode(database bool, degraded bool) {
	r.store.catalogMode.Store(boolInt(database))
	r.store.catalogDegraded.Store(boolInt(degraded))
}

func (r catalogRecorder) IncFallbackReads(op string) {
	counter(&r.store.fallbackReads, op).Add(1)
}

func (r catalogRecorder) IncMutation(op string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	counter(&r.store.mutations, mutationKey{Op: op, Result: result}).Add(1)
}

func (r catalogRecorder) ObserveRender(targets int) {
	r.store.renders.Add(1)
	r.store.renderedTargets.Store(int64(targets))
}

func (r catalogRecorder) IncRestart(ok bool) {
	r.store.restarts.Add(1)
	if !ok {
		r.store.restartFailures.Add(1)
	}
}

type exportRecorder struct{ store *Store }

func (r exportRecorder) ObserveCycle(duration time.Duration, ok bool) {
	r.store.cycles.Add(1)
	r.store.lastCycleNanos.Store(int64(duration))
	if ok {
		r.store.lastSuccessUnix.Store(time.Now().Unix())
		return
	}
	r.store.cycleFailures.Add(1)
}

func (r exportRecorder) AddPoints(n int) {
	if n > 0 {
		r.store.points.Add(uint64(n))
	}
}

func (r exportRecorder) IncWriteFailures() { r.store.writeFailures.Add(1) }

func (r exportRecorder) AddStaleFiles(n int) {
	if n > 0 {
		r.store.staleFiles.Add(uint64(n))
	}
}

func (r exportRecorder) ObserveTargets(n int) { r.store.exportTargets.Store(int64(n)) }

func (s *Store) ObserveReadiness(ready bool, reason string) {
	s.readinessState.Store(boolInt(ready))
	if ready {
		reason = ""
	}
	s.readinessReason.Store(reason)
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	p := s.prefix
	reason := snap.ReadyReason
	if reason == "" {
		reason = "ready"
		if !snap.Ready {
			reason = "unknown"
		}
	}
	var lines []string
	metric := func(name, typ, help string, samples ...string) {
		lines = append(lines, fmt.Sprintf("# HELP %s_%s %s", p, name, help), fmt.Sprintf("# TYPE %s_%s %s", p, name, typ))
		for _, sample := range samples {
			lines = append(lines, p+"_"+name+sample)
		}
	}

	metric("catalog_database_mode", "gauge", "Whether the relational store is authoritative (1) or the YAML files are (0).",
		fmt.Sprintf(" %d", boolInt(snap.DatabaseMode)))
	metric("catalog_degraded", "gauge", "Whether reads are served from YAML while the relational store is authoritative but unusable.",
		fmt.Sprintf(" %d", boolInt(snap.Degraded)))
	metric("catalog_fallback_reads_total", "counter", "Reads retried against the YAML backend after a database failure.",
		labelled("op", snap.FallbackReads)...)
	metric("catalog_mutations_total", "counter", "Catalog mutations by operation and result.",
		mutationSamples(snap.Mutations)...)
	metric("render_total", "counter", "Rendered probe configurations.", fmt.Sprintf(" %d", snap.Renders))
	metric("rendered_targets", "gauge", "Targets in the most recent rendered configuration.", fmt.Sprintf(" %d", snap.RenderedTargets))
	metric("engine_restarts_total", "counter", "Probing engine restarts by result.",
		fmt.Sprintf("{result=%q} %d", "ok", snap.Restarts-snap.RestartFailures),
		fmt.Sprintf("{result=%q} %d", "error", snap.RestartFailures))
	metric("export_cycles_total", "counter", "Exporter poll cycles by result.",
		fmt.Sprintf("{result=%q} %d", "ok", snap.Cycles-snap.CycleFailures),
		fmt.Sprintf("{result=%q} %d", "error", snap.CycleFailures))
	metric("export_last_cycle_seconds", "gauge", "Duration of the most recent poll cycle.",
		fmt.Sprintf(" %g", snap.LastCycle.Seconds()))
	var lastSuccess int64
	if !snap.LastSuccess.IsZero() {
		lastSuccess = snap.LastSuccess.Unix()
	}
	metric("export_last_success_timestamp_seconds", "gauge", "Unix time of the most recent successful poll cycle.",
		fmt.Sprintf(" %d", lastSuccess))
	metric("export_points_total", "counter", "Points written to the time-series store.", fmt.Sprintf(" %d", snap.PointsExported))
	metric("export_write_failures_total", "counter", "Batches the time-series store rejected or timed out.", fmt.Sprintf(" %d", snap.WriteFailures))
	metric("export_stale_files_total", "counter", "Round-robin files skipped because no catalog target owns them.", fmt.Sprintf(" %d", snap.StaleFiles))
	metric("export_targets", "gauge", "Targets with a round-robin file in the most recent cycle.", fmt.Sprintf(" %d", snap.ExportTargets))
	metric("ready", "gauge", "Whether the process considers itself ready (1=ready).", fmt.Sprintf(" %d", boolInt(snap.Ready)))
	metric("ready_info", "gauge", "Reason associated with the most recent readiness evaluation.", fmt.Sprintf("{reason=%q} 1", reason))

	lines = append(lines, "")
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func labelled(label string, values map[string]uint64) []string {
	if len(values) == 0 {
		return []string{fmt.Sprintf("{%s=%q} 0", label, "none")}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("{%s=%q} %d", label, k, values[k]))
	}
	return out
}

func mutationSamples(values map[string]uint64) []string {
	if len(values) == 0 {
		return []string{fmt.Sprintf("{op=%q,result=%q} 0", "none", "none")}
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		op, result := k, ""
		for i := len(k) - 1; i >= 0; i-- {
			if k[i] == '/' {
				op, result = k[:i], k[i+1:]
				break
			}
		}
		out = append(out, fmt.Sprintf("{op=%q,result=%q} %d", op, result, values[k]))
	}
	return out
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
