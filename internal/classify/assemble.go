// Package classify assembles the classification payload returned to clients.
package classify

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"
	_ "time/tzdata" // zone data for TimeZoneOffset and TimeZoneLocal

	"github.com/TomasB/classify/internal/data"
)

// TimeZoneMode selects which localized time fields are derived from the
// looked-up time zone.
type TimeZoneMode string

const (
	// TimeZoneNone reports only the UTC request time.
	TimeZoneNone TimeZoneMode = "none"
	// TimeZoneOffset adds the zone's UTC offset in seconds.
	TimeZoneOffset TimeZoneMode = "offset"
	// TimeZoneLocal adds the request time rendered in the zone.
	TimeZoneLocal TimeZoneMode = "local"
)

// ParseTimeZoneMode parses a configured mode. The empty string is none.
func ParseTimeZoneMode(s string) (TimeZoneMode, error) {
	switch mode := TimeZoneMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case "", TimeZoneNone:
		return TimeZoneNone, nil
	case TimeZoneOffset, TimeZoneLocal:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown time zone mode %q", s)
	}
}

// Response is the classification payload. Nil fields encode as JSON null.
// DNT is omitted when the client sent no usable DNT header; the localized
// time fields are present (possibly null) only when their mode is enabled.
type Response struct {
	IP          *string   `json:"ip"`
	RequestTime time.Time `json:"request_time"`
	Country     *string   `json:"country"`
	Region      *string   `json:"region"`
	City        *string   `json:"city"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	TimeZone    *string   `json:"timezone"`
	DNT         *bool     `json:"dnt,omitempty"`

	UTCOffset *int    `json:"utc_offset,omitempty"`
	LocalTime *string `json:"local_time,omitempty"`

	mode TimeZoneMode
}

// MarshalJSON emits the field of the enabled time zone mode even when it is
// null.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	switch r.mode {
	case TimeZoneOffset:
		return json.Marshal(struct {
			plain
			UTCOffset *int `json:"utc_offset"`
		}{plain(r), r.UTCOffset})
	case TimeZoneLocal:
		return json.Marshal(struct {
			plain
			LocalTime *string `json:"local_time"`
		}{plain(r), r.LocalTime})
	default:
		return json.Marshal(plain(r))
	}
}

// Assemble builds the classification payload. It never fails: a missing
// location yields null location fields.
func Assemble(ip netip.Addr, loc data.Location, found bool, now time.Time, dnt *bool, mode TimeZoneMode) Response {
	resp := Response{
		RequestTime: now.UTC().Truncate(time.Second),
		DNT:         dnt,
		mode:        mode,
	}
	if ip.IsValid() {
		resp.IP = optional(ip.String())
	}
	if !found {
		loc = data.Location{}
	}

	resp.Country = optional(loc.Country)
	resp.Region = optional(loc.Region)
	resp.City = optional(loc.City)
	resp.TimeZone = optional(loc.TimeZone)
	if loc.Latitude != nil && loc.Longitude != nil {
		lat, lon := *loc.Latitude, *loc.Longitude
		resp.Latitude = &lat
		resp.Longitude = &lon
	}

	switch mode {
	case TimeZoneOffset:
		if zone := loadZone(loc.TimeZone); zone != nil {
			_, offset := now.In(zone).Zone()
			resp.UTCOffset = &offset
		}
	case TimeZoneLocal:
		if zone := loadZone(loc.TimeZone); zone != nil {
			resp.LocalTime = optional(now.In(zone).Truncate(time.Second).Format(time.RFC3339))
		}
	}

	return resp
}

// ParseDNT interprets a DNT header value. Only "1" and "0" are meaningful.
func ParseDNT(header string) *bool {
	var v bool
	switch strings.TrimSpace(header) {
	case "1":
		v = true
	case "0":
		v = false
	default:
		return nil
	}
	return &v
}

func loadZone(name string) *time.Location {
	if name == "" {
		return nil
	}
	zone, err := time.LoadLocation(name)
	if err != nil {
		return nil
	}
	return zone
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
