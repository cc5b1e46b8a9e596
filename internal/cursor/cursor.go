// Package cursor persists the per-target export high-water marks. Stores
// never move a cursor backward.
package cursor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/pingsantohq/smokestack/internal/atomicfile"
)

// Store loads and saves cursors keyed by "<target>/<series>".
type Store interface {
	Load(ctx context.Context) (map[string]time.Time, error)
	Save(ctx context.Context, cursors map[string]time.Time) error
}

// Merge returns base with every cursor of next that is newer applied.
func Merge(base, next map[string]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(base)+len(next))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range next {
		if cur, ok := out[k]; !ok || v.After(cur) {
			out[k] = v
		}
	}
	return out
}

const fileVersion = 1

type fileState struct {
	Version int                  `json:"version"`
	Cursors map[string]time.Time `json:"cursors"`
}

// FileStore keeps cursors in a JSON file replaced atomically on save.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) (map[string]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileStore) load() (map[string]time.Time, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cursor file %q: %w", s.path, err)
	}
	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode cursor file %q: %w", s.path, err)
	}
	if st.Version > fileVersion {
		return nil, fmt.Errorf("cursor file %q has unsupported version %d", s.path, st.Version)
	}
	if st.Cursors == nil {
		st.Cursors = map[string]time.Time{}
	}
	return st.Cursors, nil
}

func (s *FileStore) Save(ctx context.Context, cursors map[string]time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	merged := Merge(current, cursors)
	for k, v := range merged {
		merged[k] = v.UTC()
	}
	return atomicfile.WriteJSON(s.path, fileState{Version: fileVersion, Cursors: merged}, 0o600)
}
