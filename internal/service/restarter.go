// Package service makes the probing engine pick up a newly rendered
// configuration and reports whether it is running.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

const (
	DefaultContainer      = "smokeping"
	DefaultRestartTimeout = 30 * time.Second
)

// ErrRestartThrottled is returned when a restart is requested sooner than the
// configured minimum interval after the previous one.
var ErrRestartThrottled = errors.New("restart throttled")

// Restarter restarts or reloads the probing engine.
type Restarter interface {
	Restart(ctx context.Context) error
}

// DefaultCommand restarts the engine container.
func DefaultCommand(container string) []string {
	if container == "" {
		container = DefaultContainer
	}
	return []string{"docker", "restart", container}
}

// CommandRestarter runs an external command, by default `docker restart`.
type CommandRestarter struct {
	Command []string
	Timeout time.Duration
	Logger  *log.Logger
}

func (r *CommandRestarter) Restart(ctx context.Context) error {
	if len(r.Command) == 0 || strings.TrimSpace(r.Command[0]) == "" {
		return errors.New("restart command required")
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultRestartTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if r.Logger != nil {
		r.Logger.Info("restarting probing engine", "command", strings.Join(r.Command, " "))
	}
	out, err := run(ctx, r.Command)
	if err != nil {
		return fmt.Errorf("restart command %q: %w", strings.Join(r.Command, " "), err)
	}
	if r.Logger != nil && len(out) > 0 {
		r.Logger.Debug("restart command output", "output", out)
	}
	return nil
}

// SignalRestarter sends SIGHUP to the engine process whose PID is stored in
// PIDFile, asking it to reload its configuration.
type SignalRestarter struct {
	PIDFile string
	Logger  *log.Logger
}

func (r *SignalRestarter) Restart(ctx context.Context) error {
	pid, err := readPID(r.PIDFile)
	if err != nil {
		return err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find engine process %d: %w", pid, err)
	}
	if r.Logger != nil {
		r.Logger.Info("signalling probing engine", "pid", pid, "signal", "HUP")
	}
	if err := proc.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("signal engine process %d: %w", pid, err)
	}
	return nil
}

func readPID(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("pid file required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid pid %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// Throttle limits how often the wrapped Restarter may run.
type Throttle struct {
	next    Restarter
	limiter *rate.Limiter
}

func NewThrottle(next Restarter, minInterval time.Duration) *Throttle {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Throttle{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (t *Throttle) Restart(ctx context.Context) error {
	if !t.limiter.Allow() {
		return ErrRestartThrottled
	}
	return t.next.Restart(ctx)
}

func run(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}
