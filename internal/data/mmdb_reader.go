package data

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

// cityLocale is the locale used for city names.
const cityLocale = "en"

type cachedLocation struct {
	location Location
	found    bool
}

// handle is one fully loaded, verified dataset. It is never mutated after
// openHandle returns and is shared by every concurrent lookup.
type handle struct {
	db       *maxminddb.Reader
	cache    *lru.Cache[netip.Addr, cachedLocation]
	metadata Metadata
}

// openHandle reads and verifies the MMDB file at path. cacheSize of zero
// disables the lookup cache.
func openHandle(path string, cacheSize int) (*handle, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read MMDB file: %w", err)
	}

	db, err := maxminddb.FromBytes(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to open MMDB file: %w", err)
	}
	if err := db.Verify(); err != nil {
		return nil, fmt.Errorf("MMDB file %s is corrupt: %w", path, err)
	}

	h := &handle{
		db: db,
		metadata: Metadata{
			Path:         path,
			DatabaseType: db.Metadata.DatabaseType,
			BuildTime:    time.Unix(int64(db.Metadata.BuildEpoch), 0).UTC(),
			IPVersion:    db.Metadata.IPVersion,
			NodeCount:    db.Metadata.NodeCount,
			LoadedAt:     time.Now().UTC(),
		},
	}

	if cacheSize > 0 {
		cache, err := lru.New[netip.Addr, cachedLocation](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create lookup cache: %w", err)
		}
		h.cache = cache
	}

	return h, nil
}

func (h *handle) lookup(ip netip.Addr) (Location, bool, error) {
	if !ip.IsValid() {
		return Location{}, false, nil
	}
	ip = ip.Unmap()

	if h.cache != nil {
		if hit, ok := h.cache.Get(ip); ok {
			return hit.location, hit.found, nil
		}
	}

	var record geoip2.City
	_, found, err := h.db.LookupNetwork(net.IP(ip.AsSlice()), &record)
	if err != nil {
		return Location{}, false, fmt.Errorf("city lookup failed: %w", err)
	}

	var loc Location
	if found {
		loc = locationFromRecord(&record)
	}
	if h.cache != nil {
		h.cache.Add(ip, cachedLocation{location: loc, found: found})
	}
	return loc, found, nil
}

// locationFromRecord converts a GeoIP2 City (or Country) record. A record
// with both coordinates zero has no location block.
func locationFromRecord(record *geoip2.City) Location {
	loc := Location{
		Country:  record.Country.IsoCode,
		City:     record.City.Names[cityLocale],
		TimeZone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	if record.Location.Latitude != 0 || record.Location.Longitude != 0 {
		lat, lon := record.Location.Latitude, record.Location.Longitude
		loc.Latitude = &lat
		loc.Longitude = &lon
	}
	return loc
}
