//go:build !rrdcgo

package main

import (
	"time"

	"github.com/pingsantohq/smokestack/internal/rrd"
)

func newReader(binary string, timeout time.Duration) rrd.Reader {
	return rrd.CLIReader{Binary: binary, Timeout: timeout}
}
