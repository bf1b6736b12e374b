package abuse

import (
	"net"
	"net/http"
	"strings"
)

// ipv4MappedPrefix is the IPv6 prefix of an IPv4-mapped address.
const ipv4MappedPrefix = "::ffff:"

// ClientKey extracts the client key from the request: the first entry
// of the X-Forwarded-For header when present, otherwise the direct peer
// address. The IPv4-mapped-IPv6 prefix is stripped so both
// representations of the same address collapse to one key.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return normalizeAddr(strings.TrimSpace(first))
		}
	}

	return normalizeAddr(stripPort(r.RemoteAddr))
}

// normalizeAddr collapses IPv4-mapped-IPv6 representations.
func normalizeAddr(addr string) string {
	return strings.TrimPrefix(addr, ipv4MappedPrefix)
}

// stripPort removes the port from an address string, handling both
// "192.168.1.1:8080" and "[::1]:8080" formats.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
