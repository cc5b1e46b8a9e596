//go:build rrdcgo

package rrd

import (
	"context"
	"fmt"
	"time"

	"github.com/ziutek/rrd"
)

// LibReader reads round-robin files through librrd.
type LibReader struct{}

func (LibReader) Fetch(ctx context.Context, path string, after time.Time) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}
	res, err := rrd.Fetch(path, "AVERAGE", after, time.Now(), time.Second)
	if err != nil {
		return Series{}, fmt.Errorf("rrd fetch %s: %w", path, err)
	}
	defer res.FreeValues()

	s := Series{Step: res.Step, DSNames: append([]string(nil), res.DsNames...)}
	for i := 0; i < res.RowCnt; i++ {
		row := Row{
			Time:   res.Start.Add(time.Duration(i+1) * res.Step).UTC(),
			Values: make([]float64, len(res.DsNames)),
		}
		for j := range res.DsNames {
			row.Values[j] = res.ValueAt(j, i)
		}
		s.Rows = append(s.Rows, row)
	}
	s.Rows = After(s.Rows, after)
	return s, nil
}
