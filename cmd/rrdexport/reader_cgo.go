//go:build rrdcgo

package main

import (
	"time"

	"github.com/pingsantohq/smokestack/internal/rrd"
)

func newReader(string, time.Duration) rrd.Reader {
	return rrd.LibReader{}
}
