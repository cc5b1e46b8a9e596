// Package geo fills CDN metadata for new targets from MaxMind databases.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/pingsantohq/smokestack/internal/catalog"
)

const defaultLookupTimeout = 2 * time.Second

type cityLookup interface {
	City(ip net.IP) (*geoip2.City, error)
}

type asnLookup interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
}

type Enricher struct {
	city     cityLookup
	asn      asnLookup
	closers  []func() error
	timeout  time.Duration
	lookupIP func(ctx context.Context, host string) ([]netip.Addr, error)
}

// Open loads the City and ASN databases. Either path may be empty, not both.
func Open(cityPath, asnPath string) (*Enricher, error) {
	if cityPath == "" && asnPath == "" {
		return nil, errors.New("geo: no database configured")
	}
	e := newEnricher()
	if cityPath != "" {
		r, err := geoip2.Open(cityPath)
		if err != nil {
			return nil, fmt.Errorf("open city database %q: %w", cityPath, err)
		}
		e.city = r
		e.closers = append(e.closers, r.Close)
	}
	if asnPath != "" {
		r, err := geoip2.Open(asnPath)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("open asn database %q: %w", asnPath, err)
		}
		e.asn = r
		e.closers = append(e.closers, r.Close)
	}
	return e, nil
}

func newEnricher() *Enricher {
	return &Enricher{
		timeout: defaultLookupTimeout,
		lookupIP: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		},
	}
}

func (e *Enricher) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Enrich fills the empty CDN fields of spec. Existing values are kept.
func (e *Enricher) Enrich(ctx context.Context, spec *catalog.TargetSpec) error {
	addr, err := e.resolve(ctx, spec.Host)
	if err != nil {
		return err
	}
	ip := net.IP(addr.AsSlice())
	if spec.CDN == nil {
		spec.CDN = &catalog.CDNMetadata{}
	}
	m := spec.CDN

	var errs []error
	if e.asn != nil && m.ASN == "" {
		rec, err := e.asn.ASN(ip)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("asn lookup: %w", err))
		case rec.AutonomousSystemNumber != 0:
			m.ASN = strconv.FormatUint(uint64(rec.AutonomousSystemNumber), 10)
		}
	}
	if e.city != nil {
		rec, err := e.city.City(ip)
		if err != nil {
			errs = append(errs, fmt.Errorf("city lookup: %w", err))
		} else {
			if name := rec.City.Names["en"]; name != "" && m.City == "" {
				m.City = name
			}
			if m.Latitude == nil && m.Longitude == nil && (rec.Location.Latitude != 0 || rec.Location.Longitude != 0) {
				lat, lon := rec.Location.Latitude, rec.Location.Longitude
				m.Latitude, m.Longitude = &lat, &lon
			}
		}
	}
	if m.Empty() {
		spec.CDN = nil
	}
	return errors.Join(errs...)
}

func (e *Enricher) resolve(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr, nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	addrs, err := e.lookupIP(ctx, host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("resolve %s: no addresses", host)
	}
	return addrs[0].Unmap(), nil
}
