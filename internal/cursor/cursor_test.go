package cursor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestFileStoreNeverMovesBackward(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cursors.json")
	s := NewFileStore(path)
	ctx := context.Background()

	empty, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no cursors, got %v", empty)
	}

	t1 := time.Unix(1000, 0).UTC()
	t2 := time.Unix(1300, 0).UTC()
	if err := s.Save(ctx, map[string]time.Time{"google": t2, "dns_google": t1}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, map[string]time.Time{"google": t1, "dns_google": t2}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened := NewFileStore(path)
	got, err := reopened.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := map[string]time.Time{"google": t2, "dns_google": t2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("cursor mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cursors.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMerge(t *testing.T) {
	base := map[string]time.Time{"a": time.Unix(10, 0), "b": time.Unix(20, 0)}
	next := map[string]time.Time{"a": time.Unix(5, 0), "b": time.Unix(30, 0), "c": time.Unix(1, 0)}
	got := Merge(base, next)
	want := map[string]time.Time{"a": time.Unix(10, 0), "b": time.Unix(30, 0), "c": time.Unix(1, 0)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
	if base["b"] != time.Unix(20, 0) {
		t.Fatalf("base must not be modified")
	}
}

func TestRedisEncoding(t *testing.T) {
	args := encodeArgs(map[string]time.Time{"google": time.Unix(1600, 0)})
	if diff := cmp.Diff([]any{"google", "1600"}, args); diff != "" {
		t.Fatalf("args mismatch (-want +got):\n%s", diff)
	}
	got, err := decodeHash(map[string]string{"google": "1600"})
	if err != nil {
		t.Fatalf("decodeHash: %v", err)
	}
	if !got["google"].Equal(time.Unix(1600, 0)) {
		t.Fatalf("unexpected cursor %v", got["google"])
	}
	if _, err := decodeHash(map[string]string{"google": "soon"}); err == nil {
		t.Fatalf("expected invalid value error")
	}
}

func TestRedisStoreAgainstServer(t *testing.T) {
	url := os.Getenv("SMOKESTACK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SMOKESTACK_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	key := "smokestack:test:" + t.Name()
	s, err := NewRedisStore(ctx, url, key)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer s.Close()
	defer s.client.Del(ctx, key)

	if err := s.Save(ctx, map[string]time.Time{"google": time.Unix(1300, 0)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(ctx, map[string]time.Time{"google": time.Unix(1000, 0)}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got["google"].Equal(time.Unix(1300, 0)) {
		t.Fatalf("expected cursor to stay at 1300, got %v", got["google"])
	}
}
