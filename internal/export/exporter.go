// Package export moves new round-robin rows into the time-series store,
// tracking a per-target cursor so every row is written once.
package export

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/classify"
	"github.com/pingsantohq/smokestack/internal/cursor"
	"github.com/pingsantohq/smokestack/internal/logging"
	"github.com/pingsantohq/smokestack/internal/metrics"
	"github.com/pingsantohq/smokestack/internal/rrd"
	"github.com/pingsantohq/smokestack/internal/scheduler"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultBatchSize    = 1000
	DefaultWorkers      = 4
	DefaultWriteTimeout = 10 * time.Second
	DefaultMaxBackfill  = 24 * time.Hour
)

// Sink is the external time-series store.
type Sink interface {
	Write(ctx context.Context, points []Point) error
	// Latest returns the newest stored sample time for a target.
	Latest(ctx context.Context, measurement classify.Stream, target string) (time.Time, bool, error)
}

// Catalog supplies the targets that own round-robin files.
type Catalog interface {
	ListTargets(ctx context.Context, filter catalog.Filter) ([]catalog.Target, error)
}

// WriteError reports a batch the sink did not accept.
type WriteError struct {
	Batch  int
	Points int
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write batch %d (%d points): %v", e.Batch, e.Points, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

type Options struct {
	Root         string
	Reader       rrd.Reader
	Sink         Sink
	Cursors      cursor.Store
	Catalog      Catalog
	Rules        classify.Rules
	Interval     time.Duration
	BatchSize    int
	Workers      int
	WriteTimeout time.Duration
	MaxBackfill  time.Duration
	Logger       *log.Logger
	Metrics      metrics.ExportRecorder
	Now          func() time.Time
}

type Exporter struct {
	opts    Options
	logger  *log.Logger
	metrics metrics.ExportRecorder
	now     func() time.Time

	// cycleMu keeps cycles sequential; cursors is only touched while held.
	cycleMu  sync.Mutex
	loaded   bool
	cursors  map[string]time.Time
	advanced map[string]struct{}
}

func New(opts Options) (*Exporter, error) {
	if opts.Reader == nil || opts.Sink == nil || opts.Cursors == nil || opts.Catalog == nil {
		return nil, errors.New("export: reader, sink, cursor store and catalog are required")
	}
	if opts.Root == "" {
		return nil, errors.New("export: rrd root required")
	}
	if opts.Rules.IsZero() {
		opts.Rules = classify.NewRules()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxBackfill <= 0 {
		opts.MaxBackfill = DefaultMaxBackfill
	}
	e := &Exporter{opts: opts, logger: opts.Logger, metrics: opts.Metrics, now: opts.Now}
	if e.logger == nil {
		e.logger = logging.Discard()
	}
	if e.metrics == nil {
		e.metrics = metrics.NoopExportRecorder{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

type CycleReport struct {
	Started       time.Time     `json:"started"`
	Finished      time.Time     `json:"finished"`
	Files         int           `json:"files"`
	Targets       int           `json:"targets"`
	Stale         int           `json:"stale"`
	Skipped       int           `json:"skipped"`
	Points        int           `json:"points"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	Advanced      int           `json:"advanced"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// OK reports whether every target was read and every batch written.
func (r CycleReport) OK() bool { return r.FailedBatches == 0 && r.Skipped == 0 }

type job struct {
	file   rrd.File
	target catalog.Target
	stream classify.Stream
}

func (j job) key() string { return CursorKey(j.target.Name, j.stream) }

// result is written only by the goroutine that owns its slot.
type result struct {
	points   []Point
	baseline time.Time
	last     time.Time
	err      error
}

// Run polls every Interval until ctx is done.
func (e *Exporter) Run(ctx context.Context) error {
	s := scheduler.New(scheduler.WithLogger(e.logger), scheduler.WithTickResolution(time.Second))
	s.Update([]scheduler.Task{{
		Name:       "export",
		Interval:   e.opts.Interval,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			_, err := e.RunCycle(ctx)
			return err
		},
	}})
	s.Start(ctx)
	return nil
}

// RunCycle performs one poll. Per-target read failures and rejected batches
// are reported in the CycleReport and retried next cycle; the returned error
// covers failures that prevented the cycle as a whole.
func (e *Exporter) RunCycle(ctx context.Context) (CycleReport, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	report := CycleReport{Started: e.now()}
	e.advanced = map[string]struct{}{}
	err := e.cycle(ctx, &report)
	report.Finished = e.now()
	report.Duration = report.Finished.Sub(report.Started)
	e.metrics.ObserveCycle(report.Duration, err == nil && report.OK())
	if err != nil {
		e.logger.Error("export cycle failed", "err", err)
		return report, err
	}
	e.logger.Info("export cycle complete", "files", report.Files, "targets", report.Targets,
		"points", report.Points, "batches", report.Batches, "failed_batches", report.FailedBatches,
		"stale", report.Stale, "elapsed", report.Duration)
	return report, nil
}

func (e *Exporter) cycle(ctx context.Context, report *CycleReport) error {
	if !e.loaded {
		cursors, err := e.opts.Cursors.Load(ctx)
		if err != nil {
			return fmt.Errorf("load cursors: %w", err)
		}
		if cursors == nil {
			cursors = map[string]time.Time{}
		}
		e.cursors = cursors
		e.loaded = true
	}

	files, err := rrd.Scan(e.opts.Root)
	if err != nil {
		return fmt.Errorf("scan %s: %w", e.opts.Root, err)
	}
	report.Files = len(files)

	targets, err := e.opts.Catalog.ListTargets(ctx, catalog.Filter{})
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	jobs := e.plan(files, targets, report)
	report.Targets = len(jobs)
	e.metrics.ObserveTargets(len(jobs))
	e.metrics.AddStaleFiles(report.Stale)

	snapshot := make(map[string]time.Time, len(e.cursors))
	for k, v := range e.cursors {
		snapshot[k] = v
	}
	results := e.read(ctx, jobs, snapshot)

	failed, err := e.write(ctx, jobs, results, report)
	if err != nil {
		return err
	}

	// Targets whose rows were all dropped or already exported still move to
	// the newest row read, so the next fetch starts past them.
	advanced := map[string]time.Time{}
	for i, j := range jobs {
		r := results[i]
		if r.err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", j.target.Name, r.err))
			e.logger.Warn("target skipped", "target", j.target.Name, "err", r.err)
			continue
		}
		if failed[i] {
			continue
		}
		next := r.baseline
		if r.last.After(next) {
			next = r.last
		}
		e.propose(advanced, j.key(), next)
	}
	return e.commit(ctx, advanced, report)
}

// propose records next for key when it would move the cursor forward.
func (e *Exporter) propose(advanced map[string]time.Time, key string, next time.Time) {
	if cur, ok := e.cursors[key]; ok && !next.After(cur) {
		return
	}
	if cur, ok := advanced[key]; ok && !next.After(cur) {
		return
	}
	advanced[key] = next
}

// commit persists advanced cursors and only then applies them in memory.
func (e *Exporter) commit(ctx context.Context, advanced map[string]time.Time, report *CycleReport) error {
	if len(advanced) == 0 {
		return nil
	}
	if err := e.opts.Cursors.Save(ctx, advanced); err != nil {
		return fmt.Errorf("save cursors: %w", err)
	}
	for k, v := range advanced {
		if _, ok := e.advanced[k]; !ok {
			report.Advanced++
			e.advanced[k] = struct{}{}
		}
		e.cursors[k] = v
	}
	return nil
}

// plan pairs each catalog target with one file. Files whose stem matches no
// target are stale. When a target has several files, the one under its
// current category wins, else the most recently modified; the rest are
// stale leftovers of an earlier category.
func (e *Exporter) plan(files []rrd.File, targets []catalog.Target, report *CycleReport) []job {
	byName := make(map[string]catalog.Target, len(targets))
	for _, t := range targets {
		byName[t.Name] = t
	}
	chosen := map[string]int{}
	var order []string
	for i, f := range files {
		t, ok := byName[f.Stem]
		if !ok {
			report.Stale++
			e.logger.Debug("no catalog target for file", "path", f.Path)
			continue
		}
		prev, ok := chosen[t.Name]
		if !ok {
			chosen[t.Name] = i
			order = append(order, t.Name)
			continue
		}
		report.Stale++
		if preferFile(files[i], files[prev], t.Category) {
			e.logger.Debug("superseded round-robin file", "target", t.Name, "path", files[prev].Path)
			chosen[t.Name] = i
		} else {
			e.logger.Debug("superseded round-robin file", "target", t.Name, "path", f.Path)
		}
	}
	jobs := make([]job, 0, len(order))
	for _, name := range order {
		t, f := byName[name], files[chosen[name]]
		jobs = append(jobs, job{file: f, target: t, stream: e.opts.Rules.Stream(t.Category, f.SubDir)})
	}
	return jobs
}

// preferFile reports whether a should replace b as the file of a target in
// category.
func preferFile(a, b rrd.File, category string) bool {
	ac, bc := topDir(a.SubDir) == category, topDir(b.SubDir) == category
	if ac != bc {
		return ac
	}
	return a.ModTime.After(b.ModTime)
}

func topDir(subDir string) string {
	first, _, _ := strings.Cut(subDir, "/")
	return first
}

func (e *Exporter) read(ctx context.Context, jobs []job, cursors map[string]time.Time) []result {
	results := make([]result, len(jobs))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i := range jobs {
		g.Go(func() error {
			results[i] = e.readOne(ctx, jobs[i], cursors)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (e *Exporter) readOne(ctx context.Context, j job, cursors map[string]time.Time) result {
	after, ok := cursors[j.key()]
	if !ok {
		latest, found, err := e.opts.Sink.Latest(ctx, j.stream, j.target.Name)
		if err != nil {
			return result{err: fmt.Errorf("cold start lookup: %w", err)}
		}
		if found {
			after = latest
		} else {
			after = e.now().Add(-e.opts.MaxBackfill).Truncate(time.Second)
		}
	}
	series, err := e.opts.Reader.Fetch(ctx, j.file.Path, after)
	if err != nil {
		return result{err: err}
	}
	pts, last := Points(j.target, j.stream, series, after)
	return result{points: pts, baseline: after, last: last}
}

// write sends the points of all targets in time-ordered batches. After each
// accepted batch the cursors of the targets it carried are persisted, so a
// crash replays at most the batch in flight. Once a batch carrying a target
// fails, that target's cursor stays put for the rest of the cycle. It returns,
// per job index, whether any batch carrying its points failed.
func (e *Exporter) write(ctx context.Context, jobs []job, results []result, report *CycleReport) (map[int]bool, error) {
	type owned struct {
		job   int
		point Point
	}
	var all []owned
	for i := range jobs {
		for _, p := range results[i].points {
			all = append(all, owned{job: i, point: p})
		}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].point.Time.Before(all[b].point.Time) })

	failed := map[int]bool{}
	for start, n := 0, 0; start < len(all); start, n = start+e.opts.BatchSize, n+1 {
		end := min(start+e.opts.BatchSize, len(all))
		batch := make([]Point, 0, end-start)
		newest := map[int]time.Time{}
		for _, o := range all[start:end] {
			batch = append(batch, o.point)
			if o.point.Time.After(newest[o.job]) {
				newest[o.job] = o.point.Time
			}
		}
		report.Batches++

		wctx, cancel := context.WithTimeout(ctx, e.opts.WriteTimeout)
		err := e.opts.Sink.Write(wctx, batch)
		cancel()
		if err != nil {
			werr := &WriteError{Batch: n, Points: len(batch), Err: err}
			report.FailedBatches++
			report.Errors = append(report.Errors, werr.Error())
			e.metrics.IncWriteFailures()
			e.logger.Warn("batch rejected, retrying next cycle", "batch", n, "points", len(batch), "err", err)
			for idx := range newest {
				failed[idx] = true
			}
			continue
		}
		report.Points += len(batch)
		e.metrics.AddPoints(len(batch))

		advanced := map[string]time.Time{}
		for idx, t := range newest {
			if !failed[idx] {
				e.propose(advanced, jobs[idx].key(), t)
			}
		}
		if err := e.commit(ctx, advanced, report); err != nil {
			return failed, err
		}
	}
	return failed, nil
}

// Cursors returns a copy of the in-memory cursors.
func (e *Exporter) Cursors() map[string]time.Time {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	out := make(map[string]time.Time, len(e.cursors))
	for k, v := range e.cursors {
		out[k] = v
	}
	return out
}
