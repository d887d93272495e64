package data

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
)

// DefaultCacheSize is the number of lookups cached per loaded dataset.
const DefaultCacheSize = 4096

// Index implements LocationLookup over a MaxMind MMDB file. Lookups are
// lock-free: the loaded dataset is published through an atomic pointer and
// replaced wholesale by Reload.
type Index struct {
	path      string
	cacheSize int
	logger    *slog.Logger

	current  atomic.Pointer[handle]
	reloadMu sync.Mutex
}

// Option configures an Index.
type Option func(*Index)

// WithCacheSize sets the per-dataset lookup cache size. Zero disables it.
func WithCacheSize(n int) Option {
	return func(i *Index) {
		if n >= 0 {
			i.cacheSize = n
		}
	}
}

// WithLogger sets the logger used for lookup and reload diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewIndex loads and verifies the dataset at path. It fails if the file is
// missing or corrupt.
func NewIndex(path string, opts ...Option) (*Index, error) {
	idx := &Index{
		path:      path,
		cacheSize: DefaultCacheSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(idx)
	}

	h, err := openHandle(path, idx.cacheSize)
	if err != nil {
		return nil, err
	}
	idx.current.Store(h)
	return idx, nil
}

// Lookup returns the location for ip. Misses, invalid addresses and decode
// failures all report false.
func (i *Index) Lookup(ip netip.Addr) (Location, bool) {
	h := i.current.Load()
	if h == nil {
		return Location{}, false
	}
	loc, found, err := h.lookup(ip)
	if err != nil {
		i.logger.Warn("geo lookup failed", "ip", ip.String(), "error", err)
		return Location{}, false
	}
	return loc, found
}

// Ready reports whether a dataset is loaded.
func (i *Index) Ready() bool {
	return i.current.Load() != nil
}

// Metadata describes the dataset currently serving lookups.
func (i *Index) Metadata() (Metadata, error) {
	h := i.current.Load()
	if h == nil {
		return Metadata{}, ErrNotLoaded
	}
	return h.metadata, nil
}

// Path returns the dataset path the index loads from.
func (i *Index) Path() string {
	return i.path
}

// Reload builds a new dataset from the index path and swaps it in. The
// previous dataset keeps serving until the new one is fully loaded; if
// loading fails it stays in place.
func (i *Index) Reload() error {
	i.reloadMu.Lock()
	defer i.reloadMu.Unlock()

	h, err := openHandle(i.path, i.cacheSize)
	if err != nil {
		return fmt.Errorf("reload %s: %w", i.path, err)
	}
	// The previous handle is not closed: lookups still holding it finish
	// against it and the collector frees it afterwards.
	i.current.Store(h)

	i.logger.Info("geo dataset reloaded", "path", i.path, "build_time", h.metadata.BuildTime)
	return nil
}

// Close unloads the dataset. Lookups after Close report no location.
func (i *Index) Close() error {
	i.current.Store(nil)
	return nil
}
