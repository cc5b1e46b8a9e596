package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"time"
)

type EngineStatus struct {
	Running   bool      `json:"running"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type Checker interface {
	Status(ctx context.Context) (EngineStatus, error)
}

// CommandChecker looks the engine container up with `docker ps`.
type CommandChecker struct {
	Binary    string
	Container string
	Timeout   time.Duration
}

func (c *CommandChecker) Status(ctx context.Context) (EngineStatus, error) {
	bin := c.Binary
	if bin == "" {
		bin = "docker"
	}
	name := c.Container
	if name == "" {
		name = DefaultContainer
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	st := EngineStatus{CheckedAt: time.Now().UTC()}
	out, err := run(ctx, []string{bin, "ps", "--filter", "name=" + name, "--format", "{{.Names}}"})
	if err != nil {
		return st, err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == name {
			st.Running = true
			st.Detail = "container " + name + " running"
			return st, nil
		}
	}
	st.Detail = "container " + name + " not running"
	return st, nil
}

// PIDChecker reports the engine as running while the process named in the
// pid file exists.
type PIDChecker struct {
	PIDFile string
}

func (c *PIDChecker) Status(ctx context.Context) (EngineStatus, error) {
	st := EngineStatus{CheckedAt: time.Now().UTC()}
	pid, err := readPID(c.PIDFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			st.Detail = "pid file missing"
			return st, nil
		}
		return st, err
	}
	proc, err := os.FindProcess(pid)
	if err == nil {
		err = proc.Signal(syscall.Signal(0))
	}
	st.Running = err == nil
	if st.Running {
		st.Detail = "process running"
	} else {
		st.Detail = "process not running"
	}
	return st, nil
}
