package data

import (
	"errors"
	"net/netip"
	"time"
)

// ErrNotLoaded is returned when no geo dataset has been loaded.
var ErrNotLoaded = errors.New("geo dataset not loaded")

// Location is the geographic data known for an address. Every field is
// optional: empty strings and nil coordinates mean "unknown".
type Location struct {
	Country   string   `json:"country,omitempty"`
	Region    string   `json:"region,omitempty"`
	City      string   `json:"city,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	TimeZone  string   `json:"timezone,omitempty"`
}

// LocationLookup defines the interface for IP-to-location lookups.
type LocationLookup interface {
	// Lookup returns the location for ip. The boolean is false when the
	// address is invalid or absent from the dataset; neither case is an error.
	Lookup(ip netip.Addr) (Location, bool)

	// Ready reports whether a dataset is loaded and serving lookups.
	Ready() bool
}

// Metadata describes the loaded dataset.
type Metadata struct {
	Path         string    `json:"path"`
	DatabaseType string    `json:"database_type"`
	BuildTime    time.Time `json:"build_time"`
	IPVersion    uint      `json:"ip_version"`
	NodeCount    uint      `json:"node_count"`
	LoadedAt     time.Time `json:"loaded_at"`
}
