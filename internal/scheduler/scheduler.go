// Package scheduler runs named periodic tasks. A task never overlaps with
// itself: a tick that finds the previous run still in flight is skipped.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/pingsantohq/smokestack/internal/logging"
)

const defaultInterval = time.Minute

type Task struct {
	Name     string
	Interval time.Duration
	// RunAtStart fires the task on the first tick instead of one interval
	// after Update.
	RunAtStart bool
	Run        func(ctx context.Context) error
}

type Scheduler struct {
	tickResolution time.Duration
	now            func() time.Time
	logger         *log.Logger

	mu      sync.Mutex
	entries map[string]*entry
	wg      sync.WaitGroup
}

type entry struct {
	task    Task
	next    time.Time
	running bool
}

type Option func(*Scheduler)

func WithTickResolution(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickResolution = d
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		tickResolution: time.Second,
		now:            time.Now,
		logger:         logging.Discard(),
		entries:        make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Update replaces the task set. Tasks keep their in-flight runs.
func (s *Scheduler) Update(tasks []Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	next := make(map[string]*entry, len(tasks))
	for _, task := range tasks {
		e := &entry{task: task, next: now.Add(interval(task))}
		if task.RunAtStart {
			e.next = now
		}
		if prev, ok := s.entries[task.Name]; ok {
			e.running = prev.running
		}
		next[task.Name] = e
	}
	s.entries = next
}

// Start ticks until ctx is done, then waits for in-flight runs.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.tickResolution)
	defer ticker.Stop()

	s.tick(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		if now.Before(e.next) {
			continue
		}
		for !now.Before(e.next) {
			e.next = e.next.Add(interval(e.task))
		}
		if e.running {
			s.logger.Warn("task still running, skipping tick", "task", name)
			continue
		}
		e.running = true
		s.wg.Add(1)
		go s.run(ctx, name, e.task)
	}
}

func (s *Scheduler) run(ctx context.Context, name string, task Task) {
	defer s.wg.Done()
	start := s.now()
	err := task.Run(ctx)

	s.mu.Lock()
	if e, ok := s.entries[name]; ok {
		e.running = false
	}
	s.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Error("task failed", "task", name, "err", err, "elapsed", s.now().Sub(start))
	}
}

func interval(t Task) time.Duration {
	if t.Interval <= 0 {
		return defaultInterval
	}
	return t.Interval
}
