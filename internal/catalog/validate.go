package catalog

import (
	"net/netip"
	"regexp"
	"strings"
)

var (
	targetNamePattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,99}$`)
	categoryNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)
	hostLabelPattern    = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
)

// Section names the probing engine reserves in its configuration.
var reservedNames = map[string]struct{}{
	"targets":      {},
	"probes":       {},
	"general":      {},
	"database":     {},
	"presentation": {},
	"alerts":       {},
}

func ValidateTargetName(name string) error {
	if name == "" {
		return Invalid("name", "must not be empty")
	}
	if !targetNamePattern.MatchString(name) {
		return Invalid("name", "%q must be 1-100 letters, digits, '_' or '-' and start with a letter or digit", name)
	}
	if _, ok := reservedNames[strings.ToLower(name)]; ok {
		return Invalid("name", "%q is reserved", name)
	}
	return nil
}

func ValidateCategoryName(name string) error {
	if !categoryNamePattern.MatchString(name) {
		return Invalid("category", "%q must be 1-64 letters, digits, '_' or '-'", name)
	}
	return nil
}

// ValidateHost accepts a literal IPv4/IPv6 address or an RFC 1123 hostname.
// Loopback, unspecified and multicast addresses are rejected.
func ValidateHost(host string) error {
	if host == "" {
		return Invalid("host", "must not be empty")
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if addr.IsLoopback() || addr.IsUnspecified() || addr.IsMulticast() {
			return Invalid("host", "%s is a loopback, unspecified or multicast address", host)
		}
		return nil
	}
	return validateHostname("host", host)
}

func validateHostname(field, host string) error {
	name := strings.TrimSuffix(host, ".")
	if len(name) == 0 || len(name) > 253 {
		return Invalid(field, "%q must be 1-253 characters", host)
	}
	for _, label := range strings.Split(name, ".") {
		if !hostLabelPattern.MatchString(label) {
			return Invalid(field, "%q is not a valid hostname", host)
		}
	}
	return nil
}

func ValidateProbe(p ProbeKind) error {
	if !targetNamePattern.MatchString(p.Name) {
		return Invalid("probe", "%q is not a valid probe name", p.Name)
	}
	switch p.Type {
	case ProbeFPing, ProbeFPing6, ProbeDNS:
	default:
		return Invalid("probe", "%s has unknown type %q", p.Name, p.Type)
	}
	if strings.TrimSpace(p.Binary) == "" {
		return Invalid("probe", "%s has no binary", p.Name)
	}
	if p.StepSeconds <= 0 {
		return Invalid("probe", "%s step must be > 0", p.Name)
	}
	if p.Pings <= 0 {
		return Invalid("probe", "%s pings must be > 0", p.Name)
	}
	if p.Forks != nil && *p.Forks <= 0 {
		return Invalid("probe", "%s forks must be > 0 when set", p.Name)
	}
	return nil
}

// validateAgainstProbe checks the fields whose validity depends on the
// probe kind: DNS probes need a lookup domain, and literal addresses must
// match the address family of ICMP probes.
func validateAgainstProbe(host, lookup string, probe ProbeKind) error {
	if probe.Type == ProbeDNS {
		if lookup == "" {
			return Invalid("lookup", "required for DNS probe %s", probe.Name)
		}
		if err := validateHostname("lookup", lookup); err != nil {
			return err
		}
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case probe.Type == ProbeFPing && addr.Is6() && !addr.Is4In6():
			return Invalid("probe", "IPv6 host %s needs an IPv6 probe, not %s", host, probe.Name)
		case probe.Type == ProbeFPing6 && addr.Is4():
			return Invalid("probe", "IPv4 host %s cannot use IPv6 probe %s", host, probe.Name)
		}
	}
	return nil
}

func isIPv6Literal(host string) bool {
	addr, err := netip.ParseAddr(host)
	return err == nil && addr.Is6() && !addr.Is4In6()
}
