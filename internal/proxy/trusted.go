// Package proxy attributes a request to its originating client address by
// walking the forwarded-address chain back through trusted proxy hops.
package proxy

import (
	"fmt"
	"net/netip"
	"strings"
)

// TrustedSet is an immutable set of IPv4 and IPv6 prefixes whose members are
// trusted to append accurate entries to a forwarded-address chain.
type TrustedSet struct {
	prefixes []netip.Prefix
}

// NewTrustedSet builds a TrustedSet from prefixes. Prefixes are masked so
// host bits never affect membership.
func NewTrustedSet(prefixes ...netip.Prefix) TrustedSet {
	masked := make([]netip.Prefix, 0, len(prefixes))
	for _, p := range prefixes {
		if !p.IsValid() {
			continue
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		masked = append(masked, p.Masked())
	}
	return TrustedSet{prefixes: masked}
}

// ParseTrustedSet parses CIDR notations or bare addresses. A bare address
// is treated as a single-host prefix.
func ParseTrustedSet(entries []string) (TrustedSet, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return TrustedSet{}, fmt.Errorf("invalid trusted proxy prefix %q: %w", entry, err)
			}
			prefixes = append(prefixes, p)
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return TrustedSet{}, fmt.Errorf("invalid trusted proxy address %q: %w", entry, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return NewTrustedSet(prefixes...), nil
}

// Contains reports whether ip falls inside any trusted prefix.
func (s TrustedSet) Contains(ip netip.Addr) bool {
	if !ip.IsValid() {
		return false
	}
	ip = ip.Unmap()
	for _, p := range s.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Len returns the number of prefixes in the set.
func (s TrustedSet) Len() int {
	return len(s.prefixes)
}

// Strings returns the prefixes in canonical form.
func (s TrustedSet) Strings() []string {
	out := make([]string, len(s.prefixes))
	for i, p := range s.prefixes {
		out[i] = p.String()
	}
	return out
}
