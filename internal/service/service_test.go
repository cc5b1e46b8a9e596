package service

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell and signals")
	}
}

func TestCommandRestarter(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()

	if err := (&CommandRestarter{}).Restart(ctx); err == nil {
		t.Fatalf("expected error for empty command")
	}
	if err := (&CommandRestarter{Command: []string{"sh", "-c", "exit 0"}}).Restart(ctx); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	err := (&CommandRestarter{Command: []string{"sh", "-c", "echo boom >&2; exit 3"}}).Restart(ctx)
	if err == nil {
		t.Fatalf("expected failing command to return an error")
	}
	if got := err.Error(); !strings.Contains(got, "boom") {
		t.Fatalf("expected stderr in error, got %q", got)
	}
	err = (&CommandRestarter{Command: []string{"sh", "-c", "sleep 5"}, Timeout: 50 * time.Millisecond}).Restart(ctx)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestDefaultCommand(t *testing.T) {
	got := DefaultCommand("")
	if len(got) != 3 || got[0] != "docker" || got[2] != "smokeping" {
		t.Fatalf("unexpected default command %v", got)
	}
}

func TestSignalRestarter(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "smokeping.pid")

	if err := (&SignalRestarter{PIDFile: pidFile}).Restart(context.Background()); err == nil {
		t.Fatalf("expected error for missing pid file")
	}
	if err := os.WriteFile(pidFile, []byte("not-a-pid\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if err := (&SignalRestarter{PIDFile: pidFile}).Restart(context.Background()); err == nil {
		t.Fatalf("expected error for malformed pid")
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatalf("write pid: %v", err)
	}
	if err := (&SignalRestarter{PIDFile: pidFile}).Restart(context.Background()); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	select {
	case <-hup:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected SIGHUP")
	}

	st, err := (&PIDChecker{PIDFile: pidFile}).Status(context.Background())
	if err != nil || !st.Running {
		t.Fatalf("expected own process to be running, got %+v err=%v", st, err)
	}
	st, err = (&PIDChecker{PIDFile: filepath.Join(dir, "missing.pid")}).Status(context.Background())
	if err != nil || st.Running {
		t.Fatalf("expected missing pid file to report not running, got %+v err=%v", st, err)
	}
}

type countingRestarter struct{ calls int }

func (c *countingRestarter) Restart(ctx context.Context) error {
	c.calls++
	return nil
}

func TestThrottle(t *testing.T) {
	inner := &countingRestarter{}
	th := NewThrottle(inner, time.Hour)
	ctx := context.Background()

	if err := th.Restart(ctx); err != nil {
		t.Fatalf("first restart: %v", err)
	}
	if err := th.Restart(ctx); !errors.Is(err, ErrRestartThrottled) {
		t.Fatalf("expected throttled, got %v", err)
	}
	if inner.calls != 1 {
		t.Fatalf("expected one restart, got %d", inner.calls)
	}

	unlimited := NewThrottle(inner, 0)
	for i := 0; i < 3; i++ {
		if err := unlimited.Restart(ctx); err != nil {
			t.Fatalf("unthrottled restart: %v", err)
		}
	}
}

func TestCommandChecker(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	fake := filepath.Join(dir, "docker")
	script := "#!/bin/sh\nprintf 'smokeping-exporter\\nsmokeping\\n'\n"
	if err := os.WriteFile(fake, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake docker: %v", err)
	}

	st, err := (&CommandChecker{Binary: fake}).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Running {
		t.Fatalf("expected running, got %+v", st)
	}
	st, err = (&CommandChecker{Binary: fake, Container: "grafana"}).Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Running {
		t.Fatalf("expected grafana not running, got %+v", st)
	}
}
