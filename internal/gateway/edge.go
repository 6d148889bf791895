package gateway

import (
	"fmt"
	"net/netip"
)

// defaultEdgeNetworks is the compiled-in anycast edge provider table, used
// when the configuration file does not supply its own. The entries are the
// provider's published IPv4 and IPv6 ranges. Updating this table is a
// redeploy event, never a runtime API.
var defaultEdgeNetworks = []string{
	"173.245.48.0/20",
	"103.21.244.0/22",
	"103.22.200.0/22",
	"103.31.4.0/22",
	"141.101.64.0/18",
	"108.162.192.0/18",
	"190.93.240.0/20",
	"188.114.96.0/20",
	"197.234.240.0/22",
	"198.41.128.0/17",
	"162.158.0.0/15",
	"104.16.0.0/13",
	"104.24.0.0/14",
	"172.64.0.0/13",
	"131.0.72.0/22",
	"2400:cb00::/32",
	"2606:4700::/32",
	"2803:f800::/32",
	"2405:b500::/32",
	"2405:8100::/32",
	"2a06:98c0::/29",
	"2c0f:f248::/32",
}

// EdgeNetworkDetector classifies resolved addresses as belonging to a known
// anycast edge/CDN provider. Probing such an address observes the shared
// edge, not the intended target, so the broker refuses these destinations.
//
// The table is injected at construction and immutable afterwards; detection
// is pure and total over any address.
type EdgeNetworkDetector struct {
	prefixes []netip.Prefix
}

// NewEdgeNetworkDetector builds a detector from CIDR strings. An empty or
// nil list selects the compiled-in default table. Malformed entries are
// rejected so a typo cannot silently shrink the table.
func NewEdgeNetworkDetector(cidrs []string) (*EdgeNetworkDetector, error) {
	if len(cidrs) == 0 {
		cidrs = defaultEdgeNetworks
	}

	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("gateway: bad edge network entry %q: %w", cidr, err)
		}
		prefixes = append(prefixes, prefix)
	}

	return &EdgeNetworkDetector{prefixes: prefixes}, nil
}

// IsEdgeNetwork reports whether addr falls inside the edge provider table.
// A nil detector matches nothing, so callers that opt out of edge detection
// never need a nil check.
func (d *EdgeNetworkDetector) IsEdgeNetwork(addr netip.Addr) bool {
	if d == nil {
		return false
	}
	addr = addr.WithZone("").Unmap()
	for _, prefix := range d.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// IsEdgeNetworkString is the string-input convenience used by callers that
// hold an unparsed address. A string that does not parse as an IP is not an
// edge address (it is the validator's job to reject garbage).
func (d *EdgeNetworkDetector) IsEdgeNetworkString(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return d.IsEdgeNetwork(addr)
}
