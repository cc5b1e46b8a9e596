package filestore

import (
	"fmt"
	"sort"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

const (
	TargetsFile = "targets.yaml"
	ProbesFile  = "probes.yaml"
	SourcesFile = "sources.yaml"
	MarkerFile  = ".migrated.yaml"
)

// targetsDoc is the on-disk shape of targets.yaml. active_targets is the
// legacy key; it is read but never written.
type targetsDoc struct {
	Categories    map[string]categoryDoc `yaml:"categories,omitempty"`
	Targets       map[string][]targetDoc `yaml:"targets,omitempty"`
	ActiveTargets map[string][]targetDoc `yaml:"active_targets,omitempty"`
	Retired       []string               `yaml:"retired_names,omitempty"`
	Metadata      docMetadata            `yaml:"metadata"`
}

type categoryDoc struct {
	ID          int64     `yaml:"id,omitempty"`
	DisplayName string    `yaml:"display_name"`
	Description string    `yaml:"description,omitempty"`
	CreatedAt   time.Time `yaml:"created_at,omitempty"`
	UpdatedAt   time.Time `yaml:"updated_at,omitempty"`
}

type targetDoc struct {
	ID        int64                `yaml:"id,omitempty"`
	Name      string               `yaml:"name"`
	Host      string               `yaml:"host"`
	Title     string               `yaml:"title,omitempty"`
	Probe     string               `yaml:"probe,omitempty"`
	Lookup    string               `yaml:"lookup,omitempty"`
	Active    *bool                `yaml:"active,omitempty"`
	CDN       *catalog.CDNMetadata `yaml:"cdn,omitempty"`
	CreatedAt time.Time            `yaml:"created_at,omitempty"`
	UpdatedAt time.Time            `yaml:"updated_at,omitempty"`
}

type docMetadata struct {
	LastUpdated  time.Time `yaml:"last_updated,omitempty"`
	TotalTargets int       `yaml:"total_targets"`
	NextID       int64     `yaml:"next_id,omitempty"`
}

type probesDoc struct {
	Probes       map[string]probeDoc `yaml:"probes"`
	DefaultProbe string              `yaml:"default_probe"`
}

type probeDoc struct {
	ID     int64  `yaml:"id,omitempty"`
	Type   string `yaml:"type,omitempty"`
	Binary string `yaml:"binary,omitempty"`
	Step   int    `yaml:"step,omitempty"`
	Pings  int    `yaml:"pings,omitempty"`
	Forks  *int   `yaml:"forks,omitempty"`
}

type sourcesDoc struct {
	Sources map[string]sourceDoc `yaml:"sources"`
}

type sourceDoc struct {
	ID          int64          `yaml:"id,omitempty"`
	Enabled     bool           `yaml:"enabled"`
	Description string         `yaml:"description,omitempty"`
	Settings    map[string]any `yaml:"settings,omitempty"`
}

// state is the decoded catalog plus the target ID counter.
type state struct {
	snap   catalog.Snapshot
	nextID int64
}

func decode(td targetsDoc, pd probesDoc, sd sourcesDoc, now time.Time) state {
	var st state

	for _, name := range sortedKeys(td.Categories) {
		c := td.Categories[name]
		display := c.DisplayName
		if display == "" {
			display = catalog.DisplayName(name)
		}
		st.snap.Categories = append(st.snap.Categories, catalog.Category{
			ID:          c.ID,
			Name:        name,
			DisplayName: display,
			Description: c.Description,
			CreatedAt:   c.CreatedAt,
			UpdatedAt:   c.UpdatedAt,
		})
	}

	for _, name := range sortedKeys(pd.Probes) {
		p := pd.Probes[name]
		st.snap.Probes = append(st.snap.Probes, catalog.ProbeKind{
			ID:          p.ID,
			Name:        name,
			Type:        catalog.ProbeType(p.Type),
			Binary:      p.Binary,
			StepSeconds: p.Step,
			Pings:       p.Pings,
			Forks:       p.Forks,
			IsDefault:   name == pd.DefaultProbe,
		})
	}

	for _, name := range sortedKeys(sd.Sources) {
		s := sd.Sources[name]
		src := catalog.Source{ID: s.ID, Name: name, Enabled: s.Enabled, Description: s.Description}
		if len(s.Settings) > 0 {
			src.Settings = make(map[string]string, len(s.Settings))
			for k, v := range s.Settings {
				src.Settings[k] = fmt.Sprint(v)
			}
		}
		st.snap.Sources = append(st.snap.Sources, src)
	}

	seen := map[string]struct{}{}
	add := func(groups map[string][]targetDoc) {
		for _, category := range sortedKeys(groups) {
			for _, t := range groups[category] {
				if _, dup := seen[t.Name]; dup {
					continue
				}
				seen[t.Name] = struct{}{}
				active := true
				if t.Active != nil {
					active = *t.Active
				}
				title := t.Title
				if title == "" {
					title = t.Name
				}
				st.snap.Targets = append(st.snap.Targets, catalog.Target{
					ID:        t.ID,
					Name:      t.Name,
					Host:      t.Host,
					Title:     title,
					Category:  category,
					Probe:     t.Probe,
					Lookup:    t.Lookup,
					Active:    active,
					CDN:       t.CDN,
					CreatedAt: t.CreatedAt,
					UpdatedAt: t.UpdatedAt,
				})
			}
		}
	}
	add(td.Targets)
	add(td.ActiveTargets)
	st.snap.Retired = append(st.snap.Retired, td.Retired...)

	if len(st.snap.Categories) == 0 {
		st.snap.Categories = catalog.DefaultCategories(now)
	}
	if len(st.snap.Probes) == 0 {
		st.snap.Probes = catalog.DefaultProbes()
	}
	catalog.Normalize(&st.snap, now)

	st.nextID = td.Metadata.NextID
	assignIDs(&st)
	return st
}

// assignIDs numbers entries that predate ID tracking. Target IDs come from
// the persisted counter so a deleted target's ID is never handed out again.
func assignIDs(st *state) {
	var maxTarget int64
	for _, t := range st.snap.Targets {
		if t.ID > maxTarget {
			maxTarget = t.ID
		}
	}
	if st.nextID <= maxTarget {
		st.nextID = maxTarget + 1
	}
	for i := range st.snap.Targets {
		if st.snap.Targets[i].ID == 0 {
			st.snap.Targets[i].ID = st.nextID
			st.nextID++
		}
	}
	for i := range st.snap.Categories {
		if st.snap.Categories[i].ID == 0 {
			st.snap.Categories[i].ID = int64(i + 1)
		}
	}
	for i := range st.snap.Probes {
		if st.snap.Probes[i].ID == 0 {
			st.snap.Probes[i].ID = int64(i + 1)
		}
	}
	for i := range st.snap.Sources {
		if st.snap.Sources[i].ID == 0 {
			st.snap.Sources[i].ID = int64(i + 1)
		}
	}
}

func encodeTargets(st state, now time.Time) targetsDoc {
	doc := targetsDoc{
		Categories: make(map[string]categoryDoc, len(st.snap.Categories)),
		Targets:    map[string][]targetDoc{},
		Retired:    st.snap.Retired,
		Metadata: docMetadata{
			LastUpdated:  now.UTC(),
			TotalTargets: len(st.snap.Targets),
			NextID:       st.nextID,
		},
	}
	for _, c := range st.snap.Categories {
		doc.Categories[c.Name] = categoryDoc{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			Description: c.Description,
			CreatedAt:   c.CreatedAt,
			UpdatedAt:   c.UpdatedAt,
		}
	}
	targets := append([]catalog.Target(nil), st.snap.Targets...)
	catalog.SortTargets(targets)
	for _, t := range targets {
		active := t.Active
		doc.Targets[t.Category] = append(doc.Targets[t.Category], targetDoc{
			ID:        t.ID,
			Name:      t.Name,
			Host:      t.Host,
			Title:     t.Title,
			Probe:     t.Probe,
			Lookup:    t.Lookup,
			Active:    &active,
			CDN:       t.CDN,
			CreatedAt: t.CreatedAt,
			UpdatedAt: t.UpdatedAt,
		})
	}
	return doc
}

func encodeProbes(probes []catalog.ProbeKind) probesDoc {
	doc := probesDoc{Probes: make(map[string]probeDoc, len(probes))}
	for _, p := range probes {
		doc.Probes[p.Name] = probeDoc{
			ID:     p.ID,
			Type:   string(p.Type),
			Binary: p.Binary,
			Step:   p.StepSeconds,
			Pings:  p.Pings,
			Forks:  p.Forks,
		}
		if p.IsDefault {
			doc.DefaultProbe = p.Name
		}
	}
	return doc
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
