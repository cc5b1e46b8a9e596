package resolver

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/render"
)

// pingPacketBytes is the payload size used for the bandwidth estimate.
const pingPacketBytes = 64

type StatusReport struct {
	Decision      Decision        `json:"decision"`
	Files         map[string]bool `json:"files"`
	Targets       int             `json:"targets"`
	ActiveTargets int             `json:"active_targets"`
	Categories    int             `json:"categories"`
	Probes        int             `json:"probes"`
	// BandwidthBPS estimates probe traffic in bits per second.
	BandwidthBPS float64   `json:"bandwidth_bps"`
	CheckedAt    time.Time `json:"checked_at"`
}

func (r *Resolver) Status(ctx context.Context) (StatusReport, error) {
	d, err := r.ResolveMode(ctx)
	if err != nil {
		return StatusReport{}, err
	}
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return StatusReport{}, err
	}

	files := r.file.Files()
	if r.outputDir != "" {
		for _, name := range []string{render.TargetsFile, render.ProbesFile} {
			_, err := os.Stat(filepath.Join(r.outputDir, name))
			files[name] = err == nil
		}
	}

	report := StatusReport{
		Decision:   d,
		Files:      files,
		Targets:    len(snap.Targets),
		Categories: len(snap.Categories),
		Probes:     len(snap.Probes),
		CheckedAt:  r.now().UTC(),
	}
	report.ActiveTargets, report.BandwidthBPS = estimateBandwidth(snap)
	return report, nil
}

// estimateBandwidth sums pings × packet size × 8 / step over active targets.
func estimateBandwidth(snap catalog.Snapshot) (int, float64) {
	def, _ := snap.DefaultProbe()
	active := 0
	var bps float64
	for _, t := range snap.Targets {
		if !t.Active {
			continue
		}
		active++
		p, ok := snap.Probe(t.Probe)
		if !ok {
			p = def
		}
		if p.StepSeconds <= 0 {
			continue
		}
		bps += float64(p.Pings*pingPacketBytes*8) / float64(p.StepSeconds)
	}
	return active, bps
}
