// Package rrd locates the probing engine's round-robin files and reads
// consolidated rows out of them.
package rrd

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File is one round-robin file under the store root.
type File struct {
	Path string
	// Stem is the file name without extension; the engine names files after
	// the target.
	Stem string
	// SubDir is the directory relative to the root, slash separated.
	SubDir  string
	ModTime time.Time
}

type Row struct {
	Time   time.Time
	Values []float64
}

type Series struct {
	Step    time.Duration
	DSNames []string
	Rows    []Row
}

// Index returns the position of a data source, or -1.
func (s Series) Index(name string) int {
	for i, ds := range s.DSNames {
		if ds == name {
			return i
		}
	}
	return -1
}

// Reader fetches AVERAGE rows newer than after.
type Reader interface {
	Fetch(ctx context.Context, path string, after time.Time) (Series, error)
}

// Scan walks root for *.rrd files, sorted by path.
func Scan(root string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".rrd") {
			return nil
		}
		rel, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if rel == "." {
			rel = ""
		}
		files = append(files, File{
			Path:    path,
			Stem:    strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			SubDir:  filepath.ToSlash(rel),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
