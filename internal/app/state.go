// Package app holds the per-process application state shared by every
// request and the classification flow built on it.
package app

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/TomasB/classify/internal/classify"
	"github.com/TomasB/classify/internal/data"
	"github.com/TomasB/classify/internal/metrics"
	"github.com/TomasB/classify/internal/proxy"
	"github.com/gin-gonic/gin"
)

const stateKey = "classify.state"

// State is created once at startup and shared read-only by all requests.
type State struct {
	Geo            data.LocationLookup
	Metrics        metrics.Sink
	TrustedProxies proxy.TrustedSet
	TimeZoneMode   classify.TimeZoneMode
	Logger         *slog.Logger

	// Clock returns the current time; nil means time.Now.
	Clock func() time.Time
}

// Now returns the current time from the state's clock.
func (s *State) Now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Log returns the state's logger, falling back to the default logger.
func (s *State) Log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Attribution is the outcome of resolving and locating one client.
type Attribution struct {
	Peer     netip.Addr
	Chain    []string
	ClientIP netip.Addr
	Location data.Location
	Found    bool
}

// Attribute resolves the client address from the forwarded chain and peer,
// then looks it up. Lookup misses are not errors.
func (s *State) Attribute(chain []string, peer netip.Addr) Attribution {
	a := Attribution{
		Peer:     peer,
		Chain:    chain,
		ClientIP: proxy.Resolve(chain, s.TrustedProxies, peer),
	}
	if s.Geo != nil {
		a.Location, a.Found = s.Geo.Lookup(a.ClientIP)
	}
	if !a.Found {
		s.Log().Debug("no location for client", "ip", a.ClientIP.String())
	}
	return a
}

// Classify attributes the client and assembles the response payload.
func (s *State) Classify(chain []string, peer netip.Addr, dnt *bool) classify.Response {
	a := s.Attribute(chain, peer)
	return classify.Assemble(a.ClientIP, a.Location, a.Found, s.Now(), dnt, s.TimeZoneMode)
}

// Inject makes s available to downstream handlers through FromContext.
func Inject(s *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(stateKey, s)
		c.Next()
	}
}

// FromContext returns the state injected by Inject.
func FromContext(c *gin.Context) (*State, bool) {
	v, ok := c.Get(stateKey)
	if !ok {
		return nil, false
	}
	s, ok := v.(*State)
	return s, ok && s != nil
}
