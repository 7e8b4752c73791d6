package enrich

import (
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// GeoProvider resolves an IP address to an ISO country code. The
// cleaning stage uses it to fill in a missing country when the raw
// event carries an IP.
type GeoProvider interface {
	CountryCode(ip string) (string, error)
	Close() error
}

// MaxMindGeoProvider implements GeoProvider using a MaxMind GeoLite2
// database file.
type MaxMindGeoProvider struct {
	reader *maxminddb.Reader
}

// NewMaxMindGeoProvider opens the GeoLite2 database at dbPath.
func NewMaxMindGeoProvider(dbPath string) (*MaxMindGeoProvider, error) {
	reader, err := maxminddb.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	return &MaxMindGeoProvider{reader: reader}, nil
}

// CountryCode returns the ISO 3166-1 country code for an IP address,
// or an empty string if the database has no record for it.
func (m *MaxMindGeoProvider) CountryCode(ip string) (string, error) {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return "", fmt.Errorf("invalid IP address: %s", ip)
	}

	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}
	if err := m.reader.Lookup(parsedIP, &record); err != nil {
		return "", err
	}
	return record.Country.ISOCode, nil
}

// Close closes the GeoIP database.
func (m *MaxMindGeoProvider) Close() error {
	if m.reader != nil {
		return m.reader.Close()
	}
	return nil
}
