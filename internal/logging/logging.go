package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns the process logger. level accepts debug, info, warn and error;
// format "json" switches to machine-readable output.
func New(component, level, format string) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          component,
	}
	if strings.EqualFold(format, "json") {
		opts.Formatter = log.JSONFormatter
	}
	logger := log.NewWithOptions(os.Stdout, opts)
	if lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func Discard() *log.Logger {
	return log.New(io.Discard)
}
