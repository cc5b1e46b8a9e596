package influx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pingsantohq/smokestack/internal/classify"
	"github.com/pingsantohq/smokestack/internal/export"
)

func TestConfigValidate(t *testing.T) {
	err := Config{URL: "http://influx:8086", Org: "home"}.Validate()
	if err == nil || err.Error() != "influx: missing INFLUX_BUCKET, INFLUX_TOKEN" {
		t.Fatalf("unexpected error %v", err)
	}
	if err := (Config{URL: "u", Token: "t", Org: "o", Bucket: "b"}).Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestLatestQuery(t *testing.T) {
	got := latestQuery("smokeping", "resolution_latency", `odd"name`, 24*time.Hour)
	want := `from(bucket: "smokeping")
  |> range(start: -86400s)
  |> filter(fn: (r) => r._measurement == "resolution_latency" and r.target == "odd\"name")
  |> last()
  |> keep(columns: ["_time"])`
	if got != want {
		t.Fatalf("unexpected query:\n%s", got)
	}
}

func TestWriteSendsLineProtocol(t *testing.T) {
	var mu sync.Mutex
	var body, query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			http.NotFound(w, r)
			return
		}
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, query = string(data), r.URL.RawQuery
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sink, err := New(Config{URL: srv.URL, Token: "secret", Org: "home", Bucket: "smokeping"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	pt := export.Point{
		Measurement: classify.ResolutionLatency,
		Tags:        map[string]string{"target": "dns_google", "category": "dns_resolvers"},
		Fields:      map[string]float64{"median": 0.012},
		Time:        time.Unix(1000, 0),
	}
	if err := sink.Write(context.Background(), []export.Point{pt}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(body, "resolution_latency,category=dns_resolvers,target=dns_google median=0.012 1000") {
		t.Fatalf("unexpected line protocol %q", body)
	}
	if !strings.Contains(query, "bucket=smokeping") || !strings.Contains(query, "precision=s") {
		t.Fatalf("unexpected write query %q", query)
	}
}

func TestWriteErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"code":"unauthorized","message":"unauthorized access"}`)
	}))
	defer srv.Close()

	sink, err := New(Config{URL: srv.URL, Token: "wrong", Org: "home", Bucket: "smokeping"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer sink.Close()

	pt := export.Point{Measurement: classify.RoundTripLatency, Fields: map[string]float64{"median": 1}, Time: time.Unix(1000, 0)}
	if err := sink.Write(context.Background(), []export.Point{pt}); err == nil {
		t.Fatalf("expected write error")
	}
}
