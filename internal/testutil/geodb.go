// Package testutil builds MaxMind MMDB fixtures for tests.
package testutil

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
)

// CityRecord is one network entry of a generated GeoIP2-City fixture.
// Zero values are left out of the written record.
type CityRecord struct {
	Network   string
	Country   string
	Region    string
	City      string
	Latitude  float64
	Longitude float64
	TimeZone  string
}

// Well-known addresses covered by DefaultCityRecords.
const (
	LondonIP  = "81.2.69.142"
	MiltonIP  = "216.160.83.56"
	SwedenIP  = "89.160.20.112"
	TokyoIP   = "2a02:ff00::1"
	UnknownIP = "1.1.1.1"
)

// DefaultCityRecords returns the fixture records used across packages.
func DefaultCityRecords() []CityRecord {
	return []CityRecord{
		{
			Network:   "81.2.69.0/24",
			Country:   "GB",
			Region:    "ENG",
			City:      "London",
			Latitude:  51.5142,
			Longitude: -0.0931,
			TimeZone:  "Europe/London",
		},
		{
			Network:   "216.160.83.0/24",
			Country:   "US",
			Region:    "WA",
			City:      "Milton",
			Latitude:  47.2513,
			Longitude: -122.3149,
			TimeZone:  "America/Los_Angeles",
		},
		{
			Network: "89.160.20.0/24",
			Country: "SE",
		},
		{
			Network:   "2a02:ff00::/32",
			Country:   "JP",
			Latitude:  35.68536,
			Longitude: 139.75309,
			TimeZone:  "Asia/Tokyo",
		},
	}
}

// WriteCityDB writes DefaultCityRecords to a temporary MMDB file and returns
// its path.
func WriteCityDB(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "GeoLite2-City-Test.mmdb")
	WriteCityDBTo(t, path, DefaultCityRecords())
	return path
}

// WriteCityDBTo writes records to path, replacing any existing file.
func WriteCityDBTo(t testing.TB, path string, records []CityRecord) {
	t.Helper()

	tree, err := mmdbwriter.New(mmdbwriter.Options{
		DatabaseType: "GeoLite2-City",
		RecordSize:   28,
		Languages:    []string{"en"},
		Description:  map[string]string{"en": "classify test fixture"},
	})
	if err != nil {
		t.Fatalf("failed to create mmdb tree: %v", err)
	}

	for _, rec := range records {
		_, network, err := net.ParseCIDR(rec.Network)
		if err != nil {
			t.Fatalf("invalid fixture network %q: %v", rec.Network, err)
		}
		if err := tree.Insert(network, rec.value()); err != nil {
			t.Fatalf("failed to insert %s: %v", rec.Network, err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		t.Fatalf("failed to create fixture file: %v", err)
	}
	if _, err := tree.WriteTo(f); err != nil {
		f.Close()
		t.Fatalf("failed to write fixture: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close fixture: %v", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("failed to move fixture into place: %v", err)
	}
}

// WriteCorruptDB writes a file that is not a valid MMDB and returns its path.
func WriteCorruptDB(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corrupt.mmdb")
	if err := os.WriteFile(path, []byte("this is not a maxmind database"), 0o600); err != nil {
		t.Fatalf("failed to write corrupt fixture: %v", err)
	}
	return path
}

func (r CityRecord) value() mmdbtype.Map {
	m := mmdbtype.Map{}
	if r.Country != "" {
		m["country"] = mmdbtype.Map{"iso_code": mmdbtype.String(r.Country)}
	}
	if r.Region != "" {
		m["subdivisions"] = mmdbtype.Slice{
			mmdbtype.Map{"iso_code": mmdbtype.String(r.Region)},
		}
	}
	if r.City != "" {
		m["city"] = mmdbtype.Map{
			"names": mmdbtype.Map{"en": mmdbtype.String(r.City)},
		}
	}
	location := mmdbtype.Map{}
	if r.Latitude != 0 || r.Longitude != 0 {
		location["latitude"] = mmdbtype.Float64(r.Latitude)
		location["longitude"] = mmdbtype.Float64(r.Longitude)
	}
	if r.TimeZone != "" {
		location["time_zone"] = mmdbtype.String(r.TimeZone)
	}
	if len(location) > 0 {
		m["location"] = location
	}
	return m
}
