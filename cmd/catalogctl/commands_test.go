package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateSendsSpec(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/targets" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Fatalf("unexpected auth header: %s", auth)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"active":false`) || !strings.Contains(string(body), `"name":"google"`) {
			t.Fatalf("unexpected body %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"success":true,"data":{"id":7,"name":"google","host":"google.com","active":false},"request_id":"r1"}`)
	}))
	defer ts.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{"--base-url", ts.URL, "--token", "token",
		"create", "--name", "google", "--host", "google.com", "--category", "top_sites", "--inactive"}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"id": 7`) {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestUpdateOnlySendsSetFields(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/targets/3" || r.Method != http.MethodPatch {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if strings.TrimSpace(string(body)) != `{"title":"","active":true}` {
			t.Fatalf("unexpected patch %s", body)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"id":3}}`)
	}))
	defer ts.Close()

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--base-url", ts.URL, "update", "--id", "3", "--title", "", "--active", "yes"}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := run(context.Background(), []string{"--base-url", ts.URL, "update", "--id", "3"}, &out); err == nil {
		t.Fatalf("expected error for empty update")
	}
}

func TestImportReadsDiscoveryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "discovered.yaml")
	if err := os.WriteFile(path, []byte("category: top_sites\ntargets:\n  - {name: a, host: a.example.com}\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path != "/api/v1/targets/import" || !strings.Contains(string(body), `"skip_existing":true`) ||
			!strings.Contains(string(body), `"category":"top_sites"`) {
			t.Fatalf("unexpected import request %s %s", r.URL.Path, body)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"data":{"created":[],"skipped":["a"],"failed":[]}}`)
	}))
	defer ts.Close()

	var out bytes.Buffer
	if err := run(context.Background(), []string{"--base-url", ts.URL, "--token", "", "import", "--file", path, "--skip-existing", "--pubkey", ""}, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), `"a"`) {
		t.Fatalf("unexpected output %s", out.String())
	}
}

func TestErrorsSurface(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"success":false,"error":{"kind":"not_found","message":"target \"9\" not found"},"request_id":"abc"}`)
	}))
	defer ts.Close()

	err := run(context.Background(), []string{"--base-url", ts.URL, "get", "--id", "9"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "not_found") {
		t.Fatalf("expected not_found error, got %v", err)
	}
	if err := run(context.Background(), []string{"--base-url", ts.URL, "get"}, io.Discard); err == nil {
		t.Fatalf("expected missing id error")
	}
	if err := run(context.Background(), []string{"--base-url", ts.URL, "frobnicate"}, io.Discard); err == nil {
		t.Fatalf("expected unknown command error")
	}
}
