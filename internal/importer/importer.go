// Package importer reads discovery files: lists of target specs produced by
// the discovery fetchers, in YAML or JSON.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

// Verifier checks a detached signature for path.
type Verifier interface {
	VerifyFile(ctx context.Context, path string) error
}

// groupDoc is the per-category form: {category: x, targets: [...]}. Targets
// without their own category inherit the group's.
type groupDoc struct {
	Category string               `yaml:"category"`
	Targets  []catalog.TargetSpec `yaml:"targets"`
}

// Parse decodes a discovery document. Accepted shapes are a bare list of
// specs, a single group, or a list of groups. JSON is accepted as YAML.
func Parse(data []byte) ([]catalog.TargetSpec, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse discovery file: %w", err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return []catalog.TargetSpec{}, nil
	}
	doc := root.Content[0]

	switch doc.Kind {
	case yaml.MappingNode:
		var g groupDoc
		if err := doc.Decode(&g); err != nil {
			return nil, fmt.Errorf("decode target group: %w", err)
		}
		return g.specs(), nil
	case yaml.SequenceNode:
		out := []catalog.TargetSpec{}
		for i, item := range doc.Content {
			if item.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("entry %d: expected a mapping", i)
			}
			if hasKey(item, "targets") {
				var g groupDoc
				if err := item.Decode(&g); err != nil {
					return nil, fmt.Errorf("entry %d: %w", i, err)
				}
				out = append(out, g.specs()...)
				continue
			}
			var spec catalog.TargetSpec
			if err := item.Decode(&spec); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			out = append(out, normalize(spec))
		}
		return out, nil
	default:
		return nil, errors.New("discovery file must contain a list or a target group")
	}
}

// Load reads path and parses it. When v is non-nil the file's detached
// signature must verify first.
func Load(ctx context.Context, path string, v Verifier) ([]catalog.TargetSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("discovery file path is required")
	}
	if v != nil {
		if err := v.VerifyFile(ctx, path); err != nil {
			return nil, fmt.Errorf("verify %s: %w", path, err)
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read discovery file: %w", err)
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return specs, nil
}

func (g groupDoc) specs() []catalog.TargetSpec {
	out := make([]catalog.TargetSpec, 0, len(g.Targets))
	for _, spec := range g.Targets {
		if spec.Category == "" {
			spec.Category = g.Category
		}
		out = append(out, normalize(spec))
	}
	return out
}

func normalize(spec catalog.TargetSpec) catalog.TargetSpec {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Host = strings.TrimSpace(spec.Host)
	spec.Category = strings.TrimSpace(spec.Category)
	if spec.CDN.Empty() {
		spec.CDN = nil
	}
	return spec
}

func hasKey(n *yaml.Node, key string) bool {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return true
		}
	}
	return false
}
