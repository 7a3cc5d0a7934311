package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// ErrNoCountry is returned when the database has no country for an address.
var ErrNoCountry = errors.New("no country for address")

// GeoIPCountry resolves countries from a MaxMind GeoLite2/GeoIP2 Country or City database.
type GeoIPCountry struct {
	reader *geoip2.Reader
}

// OpenGeoIP opens the database at path.
func OpenGeoIP(path string) (*GeoIPCountry, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIPCountry{reader: reader}, nil
}

// ResolveCountry implements proxy.CountryResolver.
func (g *GeoIPCountry) ResolveCountry(_ context.Context, ip string) (string, error) {
	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("lookup country: invalid ip %q", ip)
	}
	rec, err := g.reader.Country(addr)
	if err != nil {
		return "", fmt.Errorf("lookup country: %w", err)
	}
	if rec.Country.IsoCode == "" {
		return "", fmt.Errorf("%w: %s", ErrNoCountry, ip)
	}
	return rec.Country.IsoCode, nil
}

// Close releases the database.
func (g *GeoIPCountry) Close() error {
	return g.reader.Close()
}
