package proxy

import (
	"net/http"
	"net/netip"
	"strings"
)

// HeaderXForwardedFor is the header carrying the forwarded-address chain.
const HeaderXForwardedFor = "X-Forwarded-For"

// typicalChainCapacity covers the usual one to five proxy hops.
const typicalChainCapacity = 8

// Resolve returns the attributed client address for a forwarded chain.
//
// The chain is walked from the nearest hop (rightmost) towards the oldest.
// Trusted addresses are skipped; the first untrusted address is returned. A
// token that does not parse as an address ends the walk and peer is returned,
// as it is when every entry is trusted or the chain is empty.
func Resolve(chain []string, trusted TrustedSet, peer netip.Addr) netip.Addr {
	for i := len(chain) - 1; i >= 0; i-- {
		ip, ok := ParseHop(chain[i])
		if !ok {
			return peer
		}
		if !trusted.Contains(ip) {
			return ip
		}
	}
	return peer
}

// ParseChain splits forwarded header values into hop tokens, oldest first.
// Empty tokens are dropped; malformed tokens are kept for Resolve to reject.
func ParseChain(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	chain := make([]string, 0, typicalChainCapacity)
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				chain = append(chain, trimmed)
			}
		}
	}
	return chain
}

// ChainFromRequest returns the forwarded chain carried by r.
func ChainFromRequest(r *http.Request) []string {
	return ParseChain(r.Header.Values(HeaderXForwardedFor))
}

// ParseHop parses a single chain token. Only a bare IPv4 or IPv6 address is
// a valid hop: tokens carrying a port, brackets or a zone are rejected and
// end the walk in Resolve.
func ParseHop(token string) (netip.Addr, bool) {
	ip, err := netip.ParseAddr(strings.TrimSpace(token))
	if err != nil {
		return netip.Addr{}, false
	}
	return normalize(ip)
}

// PeerAddr parses a transport remote address such as http.Request.RemoteAddr.
// Unlike chain hops it may carry a port and IPv6 brackets.
func PeerAddr(remoteAddr string) netip.Addr {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		remoteAddr = ap.Addr().String()
	} else if strings.HasPrefix(remoteAddr, "[") && strings.HasSuffix(remoteAddr, "]") {
		remoteAddr = remoteAddr[1 : len(remoteAddr)-1]
	}
	ip, ok := ParseHop(remoteAddr)
	if !ok {
		return netip.Addr{}
	}
	return ip
}

func normalize(ip netip.Addr) (netip.Addr, bool) {
	if !ip.IsValid() || ip.Zone() != "" {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}
