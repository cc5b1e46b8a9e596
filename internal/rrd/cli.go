package rrd

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const DefaultBinary = "rrdtool"

// CLIReader shells out to `rrdtool fetch`.
type CLIReader struct {
	Binary  string
	Timeout time.Duration
}

func (c CLIReader) Fetch(ctx context.Context, path string, after time.Time) (Series, error) {
	bin := c.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, "fetch", path, "AVERAGE",
		"-s", strconv.FormatInt(after.Unix(), 10), "-e", "now")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return Series{}, fmt.Errorf("rrdtool fetch %s: %w", path, err)
		}
		return Series{}, fmt.Errorf("rrdtool fetch %s: %w: %s", path, err, msg)
	}
	series, err := ParseFetch(&stdout)
	if err != nil {
		return Series{}, fmt.Errorf("parse fetch output for %s: %w", path, err)
	}
	series.Rows = After(series.Rows, after)
	return series, nil
}

// ParseFetch parses the text output of `rrdtool fetch`: a header line of
// data source names, a blank line, then "<unix>: v1 v2 ..." rows.
func ParseFetch(r io.Reader) (Series, error) {
	var s Series
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if s.DSNames == nil {
			s.DSNames = strings.Fields(line)
			continue
		}
		stamp, rest, ok := strings.Cut(line, ":")
		if !ok {
			return Series{}, fmt.Errorf("malformed row %q", line)
		}
		unix, err := strconv.ParseInt(strings.TrimSpace(stamp), 10, 64)
		if err != nil {
			return Series{}, fmt.Errorf("malformed timestamp in %q: %w", line, err)
		}
		fields := strings.Fields(rest)
		if len(fields) != len(s.DSNames) {
			return Series{}, fmt.Errorf("row %d has %d values, expected %d", unix, len(fields), len(s.DSNames))
		}
		values := make([]float64, len(fields))
		for i, f := range fields {
			values[i] = parseValue(f)
		}
		s.Rows = append(s.Rows, Row{Time: time.Unix(unix, 0).UTC(), Values: values})
	}
	if err := sc.Err(); err != nil {
		return Series{}, err
	}
	if s.DSNames == nil {
		return Series{}, errors.New("empty fetch output")
	}
	if len(s.Rows) > 1 {
		s.Step = s.Rows[1].Time.Sub(s.Rows[0].Time)
	}
	return s, nil
}

func parseValue(f string) float64 {
	switch strings.ToLower(f) {
	case "nan", "-nan", "u", "unkn":
		return math.NaN()
	}
	v, err := strconv.ParseFloat(f, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// After drops rows at or before t.
func After(rows []Row, t time.Time) []Row {
	out := rows[:0:0]
	for _, row := range rows {
		if row.Time.After(t) {
			out = append(out, row)
		}
	}
	return out
}
