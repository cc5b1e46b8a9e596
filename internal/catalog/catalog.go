// Package catalog defines the monitored-endpoint catalog shared by both
// storage backends: categories, probe kinds, targets, discovery sources and
// the typed error taxonomy returned by catalog operations.
package catalog

import (
	"context"
	"time"
)

// Mode names the backend that is authoritative for the catalog.
type Mode string

const (
	ModeDatabase Mode = "DATABASE"
	ModeFile     Mode = "FILE"
)

type ProbeType string

const (
	ProbeFPing  ProbeType = "FPing"
	ProbeFPing6 ProbeType = "FPing6"
	ProbeDNS    ProbeType = "DNS"
)

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ProbeKind struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        ProbeType `json:"type"`
	Binary      string    `json:"binary"`
	StepSeconds int       `json:"step_seconds"`
	Pings       int       `json:"pings"`
	Forks       *int      `json:"forks,omitempty"`
	IsDefault   bool      `json:"is_default"`
}

// CDNMetadata is the optional provider/location extension carried by
// CDN-appliance targets.
type CDNMetadata struct {
	ASN          string   `json:"asn,omitempty" yaml:"asn,omitempty"`
	CacheID      string   `json:"cache_id,omitempty" yaml:"cache_id,omitempty"`
	City         string   `json:"city,omitempty" yaml:"city,omitempty"`
	Domain       string   `json:"domain,omitempty" yaml:"domain,omitempty"`
	IATACode     string   `json:"iata_code,omitempty" yaml:"iata_code,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty" yaml:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty" yaml:"longitude,omitempty"`
	LocationCode string   `json:"location_code,omitempty" yaml:"location_code,omitempty"`
	RawCity      string   `json:"raw_city,omitempty" yaml:"raw_city,omitempty"`
	Type         string   `json:"type,omitempty" yaml:"type,omitempty"`
}

func (m *CDNMetadata) Empty() bool {
	if m == nil {
		return true
	}
	return *m == CDNMetadata{}
}

type Target struct {
	ID        int64        `json:"id"`
	Name      string       `json:"name"`
	Host      string       `json:"host"`
	Title     string       `json:"title"`
	Category  string       `json:"category"`
	Probe     string       `json:"probe"`
	Lookup    string       `json:"lookup,omitempty"`
	Active    bool         `json:"active"`
	CDN       *CDNMetadata `json:"cdn,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Source is an entry in the discovery source registry.
type Source struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Enabled     bool              `json:"enabled"`
	Description string            `json:"description,omitempty"`
	Settings    map[string]string `json:"settings,omitempty"`
}

// TargetSpec is the input to CreateTarget. Empty Title defaults to Name,
// empty Probe to the default probe kind, nil Active to true.
type TargetSpec struct {
	Name     string       `json:"name" yaml:"name"`
	Host     string       `json:"host" yaml:"host"`
	Title    string       `json:"title,omitempty" yaml:"title,omitempty"`
	Category string       `json:"category" yaml:"category"`
	Probe    string       `json:"probe,omitempty" yaml:"probe,omitempty"`
	Lookup   string       `json:"lookup,omitempty" yaml:"lookup,omitempty"`
	Active   *bool        `json:"active,omitempty" yaml:"active,omitempty"`
	CDN      *CDNMetadata `json:"cdn,omitempty" yaml:"cdn,omitempty"`
}

// TargetPatch carries the mutable target fields; nil means unchanged.
type TargetPatch struct {
	Title    *string      `json:"title,omitempty"`
	Host     *string      `json:"host,omitempty"`
	Category *string      `json:"category,omitempty"`
	Probe    *string      `json:"probe,omitempty"`
	Lookup   *string      `json:"lookup,omitempty"`
	Active   *bool        `json:"active,omitempty"`
	CDN      *CDNMetadata `json:"cdn,omitempty"`
}

func (p TargetPatch) Empty() bool {
	return p.Title == nil && p.Host == nil && p.Category == nil && p.Probe == nil &&
		p.Lookup == nil && p.Active == nil && p.CDN == nil
}

// Snapshot is a full copy of one backend's catalog.
type Snapshot struct {
	Categories []Category  `json:"categories"`
	Probes     []ProbeKind `json:"probes"`
	Sources    []Source    `json:"sources"`
	Targets    []Target    `json:"targets"`
	Retired    []string    `json:"retired,omitempty"`
}

func (s Snapshot) DefaultProbe() (ProbeKind, bool) {
	for _, p := range s.Probes {
		if p.IsDefault {
			return p, true
		}
	}
	return ProbeKind{}, false
}

func (s Snapshot) Probe(name string) (ProbeKind, bool) {
	for _, p := range s.Probes {
		if p.Name == name {
			return p, true
		}
	}
	return ProbeKind{}, false
}

func (s Snapshot) Category(name string) (Category, bool) {
	for _, c := range s.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// Backend is implemented by the FILE and DATABASE catalog stores. Mutations
// are serialized by the backend itself.
type Backend interface {
	Snapshot(ctx context.Context) (Snapshot, error)
	ListTargets(ctx context.Context, filter Filter) ([]Target, error)
	GetTarget(ctx context.Context, id int64) (Target, error)
	CreateTarget(ctx context.Context, spec TargetSpec) (Target, error)
	UpdateTarget(ctx context.Context, id int64, patch TargetPatch) (Target, error)
	ToggleTarget(ctx context.Context, id int64) (Target, error)
	DeleteTarget(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]Category, error)
	ListProbes(ctx context.Context) ([]ProbeKind, error)
	ListSources(ctx context.Context) ([]Source, error)
}
