// Package render turns a catalog snapshot into the probing engine's Targets
// and Probes files.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pingsantohq/smokestack/internal/atomicfile"
	"github.com/pingsantohq/smokestack/internal/catalog"
)

const (
	TargetsFile = "Targets"
	ProbesFile  = "Probes"

	filePerm os.FileMode = 0o644
)

// Config is the rendered engine configuration.
type Config struct {
	Targets      string   `json:"-"`
	Probes       string   `json:"-"`
	Categories   int      `json:"categories"`
	TargetCount  int      `json:"targets"`
	ProbeNames   []string `json:"probes"`
	DefaultProbe string   `json:"default_probe"`
}

// Files names the written configuration files.
type Files struct {
	Targets string `json:"targets"`
	Probes  string `json:"probes"`
}

// Build renders the active targets of snap. The output depends only on snap.
func Build(snap catalog.Snapshot) (Config, error) {
	def, ok := snap.DefaultProbe()
	if !ok {
		return Config{}, catalog.Invalid("probes", "no default probe defined")
	}

	groups := map[string][]catalog.Target{}
	for _, t := range snap.Targets {
		if !t.Active {
			continue
		}
		groups[t.Category] = append(groups[t.Category], t)
	}

	used := map[string]catalog.ProbeKind{def.Name: def}
	cats := make([]string, 0, len(groups))
	count := 0
	for name, targets := range groups {
		cats = append(cats, name)
		sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })
		for _, t := range targets {
			probe := t.Probe
			if probe == "" {
				probe = def.Name
			}
			kind, ok := snap.Probe(probe)
			if !ok {
				return Config{}, catalog.Invalid("probe", "target %q references unknown probe %q", t.Name, probe)
			}
			used[kind.Name] = kind
			count++
		}
	}
	sort.Strings(cats)

	var b strings.Builder
	b.WriteString("*** Targets ***\n\n")
	fmt.Fprintf(&b, "probe = %s\n\n", def.Name)
	b.WriteString("menu = Top\n")
	b.WriteString("title = Network Latency Grapher\n")
	for _, name := range cats {
		display := catalog.DisplayName(name)
		if c, ok := snap.Category(name); ok && c.DisplayName != "" {
			display = c.DisplayName
		}
		fmt.Fprintf(&b, "\n+ %s\n\n", name)
		fmt.Fprintf(&b, "menu = %s\n", display)
		fmt.Fprintf(&b, "title = %s\n", display)
		for _, t := range groups[name] {
			probe := t.Probe
			if probe == "" {
				probe = def.Name
			}
			fmt.Fprintf(&b, "\n++ %s\n\n", t.Name)
			fmt.Fprintf(&b, "menu = %s\n", oneLine(t.Name))
			fmt.Fprintf(&b, "title = %s\n", oneLine(t.Title))
			fmt.Fprintf(&b, "host = %s\n", t.Host)
			fmt.Fprintf(&b, "probe = %s\n", probe)
			if t.Lookup != "" {
				fmt.Fprintf(&b, "lookup = %s\n", t.Lookup)
			}
		}
	}

	names := make([]string, 0, len(used))
	for name := range used {
		names = append(names, name)
	}
	sort.Strings(names)

	return Config{
		Targets:      b.String(),
		Probes:       buildProbes(used),
		Categories:   len(cats),
		TargetCount:  count,
		ProbeNames:   names,
		DefaultProbe: def.Name,
	}, nil
}

// buildProbes emits one "+ <module>" section per probe type. A kind named
// after its module configures the section itself; every other kind becomes a
// "++ <name>" subsection.
func buildProbes(used map[string]catalog.ProbeKind) string {
	byType := map[catalog.ProbeType][]catalog.ProbeKind{}
	for _, p := range used {
		byType[p.Type] = append(byType[p.Type], p)
	}
	types := make([]string, 0, len(byType))
	for typ := range byType {
		types = append(types, string(typ))
	}
	sort.Strings(types)

	var b strings.Builder
	b.WriteString("*** Probes ***\n")
	for _, typ := range types {
		kinds := byType[catalog.ProbeType(typ)]
		sort.Slice(kinds, func(i, j int) bool { return kinds[i].Name < kinds[j].Name })

		var base *catalog.ProbeKind
		for i := range kinds {
			if kinds[i].Name == typ {
				base = &kinds[i]
			}
		}
		fmt.Fprintf(&b, "\n+ %s\n\n", typ)
		if base != nil {
			writeProbeVars(&b, *base)
		} else {
			fmt.Fprintf(&b, "binary = %s\n", kinds[0].Binary)
		}
		for _, k := range kinds {
			if base != nil && k.Name == base.Name {
				continue
			}
			fmt.Fprintf(&b, "\n++ %s\n\n", k.Name)
			writeProbeVars(&b, k)
		}
	}
	return b.String()
}

func writeProbeVars(b *strings.Builder, p catalog.ProbeKind) {
	fmt.Fprintf(b, "binary = %s\n", p.Binary)
	fmt.Fprintf(b, "step = %d\n", p.StepSeconds)
	fmt.Fprintf(b, "pings = %d\n", p.Pings)
	if p.Forks != nil {
		fmt.Fprintf(b, "forks = %d\n", *p.Forks)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Write replaces the Targets and Probes files in dir. Each file is swapped in
// with a rename so the engine never reads a partial file.
func Write(dir string, cfg Config) (Files, error) {
	files := Files{
		Targets: filepath.Join(dir, TargetsFile),
		Probes:  filepath.Join(dir, ProbesFile),
	}
	if err := atomicfile.Write(files.Probes, []byte(cfg.Probes), filePerm); err != nil {
		return Files{}, fmt.Errorf("write probes: %w", err)
	}
	if err := atomicfile.Write(files.Targets, []byte(cfg.Targets), filePerm); err != nil {
		return Files{}, fmt.Errorf("write targets: %w", err)
	}
	return files, nil
}
