// Package filestore is the FILE catalog backend: targets.yaml, probes.yaml
// and sources.yaml in one directory, replaced atomically on every mutation.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/smokestack/internal/atomicfile"
	"github.com/pingsantohq/smokestack/internal/catalog"
)

const backend = "file"

type Store struct {
	dir string
	now func() time.Time

	// mu serializes read-modify-write cycles within this process; readers
	// rely on atomic rename instead.
	mu sync.Mutex
}

type Option func(*Store)

func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(name string) string { return filepath.Join(s.dir, name) }

// Files lists the catalog files and whether each exists.
func (s *Store) Files() map[string]bool {
	out := map[string]bool{}
	for _, name := range []string{TargetsFile, ProbesFile, SourcesFile} {
		_, err := os.Stat(s.path(name))
		out[name] = err == nil
	}
	return out
}

// Bootstrap writes the seeded categories and probe kinds for any catalog
// file that does not exist yet. It reports whether anything was written.
func (s *Store) Bootstrap(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return false, fmt.Errorf("ensure catalog dir %q: %w", s.dir, err)
	}
	now := s.now()
	wrote := false

	if !exists(s.path(ProbesFile)) {
		if err := atomicfile.WriteYAML(s.path(ProbesFile), encodeProbes(catalog.DefaultProbes()), 0o640); err != nil {
			return wrote, err
		}
		wrote = true
	}
	if !exists(s.path(TargetsFile)) {
		st := state{nextID: 1}
		st.snap.Categories = catalog.DefaultCategories(now)
		assignIDs(&st)
		if err := atomicfile.WriteYAML(s.path(TargetsFile), encodeTargets(st, now), 0o640); err != nil {
			return wrote, err
		}
		wrote = true
	}
	if !exists(s.path(SourcesFile)) {
		if err := atomicfile.WriteYAML(s.path(SourcesFile), sourcesDoc{Sources: map[string]sourceDoc{}}, 0o640); err != nil {
			return wrote, err
		}
		wrote = true
	}
	return wrote, nil
}

func (s *Store) load() (state, error) {
	var (
		td targetsDoc
		pd probesDoc
		sd sourcesDoc
	)
	if err := readYAML(s.path(TargetsFile), &td); err != nil {
		return state{}, err
	}
	if err := readYAML(s.path(ProbesFile), &pd); err != nil {
		return state{}, err
	}
	if err := readYAML(s.path(SourcesFile), &sd); err != nil {
		return state{}, err
	}
	return decode(td, pd, sd, s.now()), nil
}

func (s *Store) saveTargets(st state) error {
	return atomicfile.WriteYAML(s.path(TargetsFile), encodeTargets(st, s.now()), 0o640)
}

// readYAML decodes path into v. A missing file leaves v untouched.
func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return catalog.Unavailable(backend, fmt.Errorf("read %q: %w", path, err))
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return catalog.Unavailable(backend, fmt.Errorf("parse %q: %w", path, err))
	}
	return nil
}

func (s *Store) Snapshot(ctx context.Context) (catalog.Snapshot, error) {
	st, err := s.load()
	if err != nil {
		return catalog.Snapshot{}, err
	}
	return st.snap, nil
}

func (s *Store) ListTargets(ctx context.Context, filter catalog.Filter) ([]catalog.Target, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return filter.Apply(st.snap.Targets), nil
}

func (s *Store) GetTarget(ctx context.Context, id int64) (catalog.Target, error) {
	st, err := s.load()
	if err != nil {
		return catalog.Target{}, err
	}
	i := indexOf(st.snap.Targets, id)
	if i < 0 {
		return catalog.Target{}, catalog.NotFound("target", id)
	}
	return st.snap.Targets[i], nil
}

func (s *Store) CreateTarget(ctx context.Context, spec catalog.TargetSpec) (catalog.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return catalog.Target{}, err
	}
	t, err := catalog.NewTarget(spec, st.snap, s.now())
	if err != nil {
		return catalog.Target{}, err
	}
	if err := checkNameFree(st.snap, t.Name); err != nil {
		return catalog.Target{}, err
	}
	t.ID = st.nextID
	st.nextID++
	st.snap.Targets = append(st.snap.Targets, t)
	if err := s.saveTargets(st); err != nil {
		return catalog.Target{}, err
	}
	return t, nil
}

func (s *Store) UpdateTarget(ctx context.Context, id int64, patch catalog.TargetPatch) (catalog.Target, error) {
	return s.mutate(id, func(st *state, i int) error {
		t, err := catalog.ApplyPatch(st.snap.Targets[i], patch, st.snap, s.now())
		if err != nil {
			return err
		}
		st.snap.Targets[i] = t
		return nil
	})
}

func (s *Store) ToggleTarget(ctx context.Context, id int64) (catalog.Target, error) {
	return s.mutate(id, func(st *state, i int) error {
		st.snap.Targets[i].Active = !st.snap.Targets[i].Active
		st.snap.Targets[i].UpdatedAt = s.now().UTC()
		return nil
	})
}

func (s *Store) DeleteTarget(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return err
	}
	i := indexOf(st.snap.Targets, id)
	if i < 0 {
		return catalog.NotFound("target", id)
	}
	name := st.snap.Targets[i].Name
	st.snap.Targets = slices.Delete(st.snap.Targets, i, i+1)
	if !slices.Contains(st.snap.Retired, name) {
		st.snap.Retired = append(st.snap.Retired, name)
	}
	return s.saveTargets(st)
}

func (s *Store) mutate(id int64, fn func(st *state, i int) error) (catalog.Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.load()
	if err != nil {
		return catalog.Target{}, err
	}
	i := indexOf(st.snap.Targets, id)
	if i < 0 {
		return catalog.Target{}, catalog.NotFound("target", id)
	}
	if err := fn(&st, i); err != nil {
		return catalog.Target{}, err
	}
	if err := s.saveTargets(st); err != nil {
		return catalog.Target{}, err
	}
	return st.snap.Targets[i], nil
}

func (s *Store) ListCategories(ctx context.Context) ([]catalog.Category, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.snap.Categories, nil
}

func (s *Store) ListProbes(ctx context.Context) ([]catalog.ProbeKind, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.snap.Probes, nil
}

func (s *Store) ListSources(ctx context.Context) ([]catalog.Source, error) {
	st, err := s.load()
	if err != nil {
		return nil, err
	}
	return st.snap.Sources, nil
}

func checkNameFree(snap catalog.Snapshot, name string) error {
	for _, t := range snap.Targets {
		if t.Name == name {
			return catalog.Invalid("name", "target %q already exists", name)
		}
	}
	if slices.Contains(snap.Retired, name) {
		return catalog.Invalid("name", "%q belonged to a deleted target and cannot be reused", name)
	}
	return nil
}

func indexOf(targets []catalog.Target, id int64) int {
	for i, t := range targets {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
