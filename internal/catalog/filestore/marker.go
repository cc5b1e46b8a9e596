package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/smokestack/internal/atomicfile"
	"github.com/pingsantohq/smokestack/internal/catalog"
)

const backupPrefix = "backup_pre_migration_"

// Marker records, next to the YAML files, that the relational store has
// become authoritative. It lets the resolver refuse file writes while the
// store is unreachable.
type Marker struct {
	Authority  catalog.Mode `yaml:"authority"`
	MigratedAt time.Time    `yaml:"migrated_at"`
	ReportID   string       `yaml:"report_id,omitempty"`
	BackupPath string       `yaml:"backup_path,omitempty"`
}

func (s *Store) ReadMarker() (Marker, bool, error) {
	var m Marker
	path := s.path(MarkerFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return m, false, nil
	}
	if err != nil {
		return m, false, fmt.Errorf("read marker %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, false, fmt.Errorf("parse marker %q: %w", path, err)
	}
	return m, m.Authority == catalog.ModeDatabase, nil
}

func (s *Store) WriteMarker(m Marker) error {
	if m.Authority == "" {
		m.Authority = catalog.ModeDatabase
	}
	return atomicfile.WriteYAML(s.path(MarkerFile), m, 0o640)
}

// Backup copies the catalog files into backup_pre_migration_<timestamp>
// under the catalog directory and returns the new directory.
func (s *Store) Backup(at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := filepath.Join(s.dir, backupPrefix+at.UTC().Format("20060102_150405"))
	dest := base
	for i := 1; ; i++ {
		err := os.Mkdir(dest, 0o750)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("create backup dir %q: %w", dest, err)
		}
		dest = fmt.Sprintf("%s_%d", base, i)
	}

	for _, name := range []string{TargetsFile, ProbesFile, SourcesFile} {
		if err := copyFile(s.path(name), filepath.Join(dest, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return dest, fmt.Errorf("backup %s: %w", name, err)
		}
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
