package resolver

import (
	"context"
	"errors"

	"github.com/pingsantohq/smokestack/internal/catalog"
	"github.com/pingsantohq/smokestack/internal/render"
)

type RenderResult struct {
	Mode   catalog.Mode  `json:"mode"`
	Config render.Config `json:"config"`
	Files  render.Files  `json:"files"`
}

// Render builds the engine configuration from the authoritative catalog.
func (r *Resolver) Render(ctx context.Context) (render.Config, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return render.Config{}, err
	}
	return render.Build(snap)
}

// RenderTo renders and atomically replaces the Targets and Probes files in
// dir, or in the configured output directory when dir is empty.
func (r *Resolver) RenderTo(ctx context.Context, dir string) (RenderResult, error) {
	if dir == "" {
		dir = r.outputDir
	}
	if dir == "" {
		return RenderResult{}, errors.New("render: no output directory configured")
	}
	d, err := r.ResolveMode(ctx)
	if err != nil {
		return RenderResult{}, err
	}
	cfg, err := r.Render(ctx)
	if err != nil {
		return RenderResult{}, err
	}
	files, err := render.Write(dir, cfg)
	if err != nil {
		return RenderResult{}, err
	}
	r.metrics.ObserveRender(cfg.TargetCount)
	r.logger.Info("engine configuration rendered", "dir", dir, "targets", cfg.TargetCount,
		"categories", cfg.Categories, "mode", d.Mode)
	return RenderResult{Mode: d.Mode, Config: cfg, Files: files}, nil
}
