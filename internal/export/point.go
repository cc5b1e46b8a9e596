package export

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/classify"
	"github.com/pingsantohq/smokestack/internal/rrd"
)

// Point is one timestamped sample bound for the time-series store.
type Point struct {
	Measurement classify.Stream
	Tags        map[string]string
	Fields      map[string]float64
	Time        time.Time
}

// layout locates the engine's data sources in a series.
type layout struct {
	loss   int
	median int
	pings  []int
}

func newLayout(s rrd.Series) layout {
	l := layout{loss: s.Index("loss"), median: s.Index("median")}
	for i := 1; ; i++ {
		idx := s.Index("ping" + strconv.Itoa(i))
		if idx < 0 {
			break
		}
		l.pings = append(l.pings, idx)
	}
	return l
}

// Points converts rows newer than after into points. Fields that are NaN are
// omitted and rows without any finite field are dropped. last is the time of
// the newest converted row.
func Points(t catalog.Target, stream classify.Stream, s rrd.Series, after time.Time) (pts []Point, last time.Time) {
	l := newLayout(s)
	tags := map[string]string{
		"target":   t.Name,
		"category": t.Category,
		"probe":    t.Probe,
		"host":     t.Host,
	}
	for _, row := range s.Rows {
		if !row.Time.After(after) {
			continue
		}
		fields := rowFields(l, row.Values)
		if len(fields) == 0 {
			continue
		}
		pts = append(pts, Point{Measurement: stream, Tags: tags, Fields: fields, Time: row.Time})
		if row.Time.After(last) {
			last = row.Time
		}
	}
	return pts, last
}

func rowFields(l layout, values []float64) map[string]float64 {
	fields := map[string]float64{}
	set := func(name string, idx int) {
		if idx < 0 || idx >= len(values) {
			return
		}
		if v := values[idx]; !math.IsNaN(v) && !math.IsInf(v, 0) {
			fields[name] = v
		}
	}
	set("median", l.median)
	set("loss", l.loss)
	if loss, ok := fields["loss"]; ok && len(l.pings) > 0 {
		fields["loss_pct"] = loss / float64(len(l.pings)) * 100
	}
	for i, idx := range l.pings {
		set("ping"+strconv.Itoa(i+1), idx)
	}
	return fields
}

// String renders p in line protocol order, for logs and tests.
func (p Point) String() string {
	var b strings.Builder
	b.WriteString(string(p.Measurement))
	for _, k := range sortedKeys(p.Tags) {
		fmt.Fprintf(&b, ",%s=%s", k, p.Tags[k])
	}
	for i, k := range sortedKeys(p.Fields) {
		sep := ","
		if i == 0 {
			sep = " "
		}
		fmt.Fprintf(&b, "%s%s=%g", sep, k, p.Fields[k])
	}
	fmt.Fprintf(&b, " %d", p.Time.Unix())
	return b.String()
}
