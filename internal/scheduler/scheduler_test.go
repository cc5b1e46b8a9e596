package scheduler

import (
	"context"
	"testing"
	"time"
)

func TestSchedulerTickFiresTasks(t *testing.T) {
	fired := make(chan string, 10)
	current := time.Unix(0, 0).UTC()
	s := New(WithNow(func() time.Time { return current }))
	ctx := context.Background()

	s.Update([]Task{{
		Name:     "export",
		Interval: 50 * time.Millisecond,
		Run: func(ctx context.Context) error {
			fired <- "export"
			return nil
		},
	}})

	current = current.Add(40 * time.Millisecond)
	s.tick(ctx, current)
	s.wg.Wait()
	select {
	case <-fired:
		t.Fatalf("unexpected run before interval elapsed")
	default:
	}

	current = current.Add(10 * time.Millisecond)
	s.tick(ctx, current)
	s.wg.Wait()
	if len(fired) != 1 {
		t.Fatalf("expected one run, got %d", len(fired))
	}

	current = current.Add(60 * time.Millisecond)
	s.tick(ctx, current)
	s.wg.Wait()
	if len(fired) != 2 {
		t.Fatalf("expected second run after reschedule, got %d", len(fired))
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	current := time.Unix(0, 0).UTC()
	s := New(WithNow(func() time.Time { return current }))
	ctx := context.Background()

	s.Update([]Task{{
		Name:       "slow",
		Interval:   10 * time.Millisecond,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		},
	}})

	s.tick(ctx, current)
	<-started

	current = current.Add(20 * time.Millisecond)
	s.tick(ctx, current)
	close(release)
	s.wg.Wait()

	if len(started) != 0 {
		t.Fatalf("expected overlapping tick to be skipped")
	}

	current = current.Add(20 * time.Millisecond)
	s.tick(ctx, current)
	s.wg.Wait()
	if len(started) != 1 {
		t.Fatalf("expected run once the previous one finished, got %d", len(started))
	}
}

func TestSchedulerStartStopsWithContext(t *testing.T) {
	ran := make(chan struct{}, 1)
	s := New(WithTickResolution(5 * time.Millisecond))
	s.Update([]Task{{
		Name:       "once",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(ctx context.Context) error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not run at start")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
