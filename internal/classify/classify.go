// Package classify assigns exported latency samples to a measurement stream.
package classify

import (
	"path/filepath"
	"strings"
)

type Stream string

const (
	ResolutionLatency Stream = "resolution_latency"
	RoundTripLatency  Stream = "round_trip_latency"
)

// DefaultResolverCategories are the categories whose targets are probed by
// issuing DNS queries.
var DefaultResolverCategories = []string{"dns_resolvers", "resolvers"}

type Rules struct {
	resolvers map[string]struct{}
}

// NewRules returns rules for the given resolver categories, or the defaults
// when none are given.
func NewRules(resolverCategories ...string) Rules {
	if len(resolverCategories) == 0 {
		resolverCategories = DefaultResolverCategories
	}
	r := Rules{resolvers: make(map[string]struct{}, len(resolverCategories))}
	for _, c := range resolverCategories {
		if c = strings.TrimSpace(c); c != "" {
			r.resolvers[c] = struct{}{}
		}
	}
	return r
}

// Stream classifies a sample by its target's category and the first element
// of its round-robin file's directory relative to the store root. The host
// is deliberately not an input.
func (r Rules) Stream(category, subDir string) Stream {
	if r.isResolver(category) {
		return ResolutionLatency
	}
	first, _, _ := strings.Cut(filepath.ToSlash(subDir), "/")
	if r.isResolver(first) {
		return ResolutionLatency
	}
	return RoundTripLatency
}

// IsZero reports whether r was never initialized through NewRules.
func (r Rules) IsZero() bool { return r.resolvers == nil }

func (r Rules) isResolver(name string) bool {
	if name == "" {
		return false
	}
	_, ok := r.resolvers[name]
	return ok
}
