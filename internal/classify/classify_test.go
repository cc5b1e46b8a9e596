package classify

import "testing"

func TestStream(t *testing.T) {
	rules := NewRules()
	cases := []struct {
		category string
		subDir   string
		want     Stream
	}{
		{"dns_resolvers", "dns_resolvers", ResolutionLatency},
		{"dns_resolvers", "", ResolutionLatency},
		{"custom", "resolvers", ResolutionLatency},
		{"", "resolvers/eu", ResolutionLatency},
		{"top_sites", "top_sites", RoundTripLatency},
		{"netflix_oca", "netflix_oca/ams", RoundTripLatency},
		{"", "", RoundTripLatency},
		{"top_sites", "eu/resolvers", RoundTripLatency},
	}
	for _, tc := range cases {
		if got := rules.Stream(tc.category, tc.subDir); got != tc.want {
			t.Fatalf("Stream(%q, %q) = %s, want %s", tc.category, tc.subDir, got, tc.want)
		}
	}
}

func TestCustomResolverCategories(t *testing.T) {
	rules := NewRules("anycast_dns", " ")
	if got := rules.Stream("anycast_dns", ""); got != ResolutionLatency {
		t.Fatalf("expected custom category to classify as resolution latency, got %s", got)
	}
	if got := rules.Stream("dns_resolvers", ""); got != RoundTripLatency {
		t.Fatalf("expected defaults to be replaced, got %s", got)
	}
}
