package gateway

import (
	"net/netip"
	"strings"

	"github.com/probegw/probegw/internal/model"
)

// blockedV4Ranges are the IPv4 ranges that must never be probed, with the
// classification reported for each. Boundaries are exact CIDR arithmetic:
// 172.31.255.255 is blocked, 172.32.0.1 is not.
var blockedV4Ranges = []struct {
	prefix netip.Prefix
	reason model.BlockReason
}{
	{netip.MustParsePrefix("127.0.0.0/8"), model.ReasonLoopback},
	{netip.MustParsePrefix("10.0.0.0/8"), model.ReasonPrivateRange},
	{netip.MustParsePrefix("172.16.0.0/12"), model.ReasonPrivateRange},
	{netip.MustParsePrefix("192.168.0.0/16"), model.ReasonPrivateRange},
	{netip.MustParsePrefix("169.254.0.0/16"), model.ReasonLinkLocal},
	{netip.MustParsePrefix("100.64.0.0/10"), model.ReasonCGNAT},
	{netip.MustParsePrefix("0.0.0.0/32"), model.ReasonReserved},
	{netip.MustParsePrefix("255.255.255.255/32"), model.ReasonReserved},
	{netip.MustParsePrefix("192.0.0.0/29"), model.ReasonReserved},
}

// blockedV6Ranges are the IPv6 ranges refused outright. IPv4-mapped and
// IPv4-compatible addresses are handled separately by recursing into the
// IPv4 rules on the embedded address.
var blockedV6Ranges = []struct {
	prefix netip.Prefix
	reason model.BlockReason
}{
	{netip.MustParsePrefix("::1/128"), model.ReasonLoopback},
	{netip.MustParsePrefix("::/128"), model.ReasonReserved},
	{netip.MustParsePrefix("fc00::/7"), model.ReasonULA},
	{netip.MustParsePrefix("fe80::/10"), model.ReasonLinkLocal},
}

// blockedHostnames are names refused exactly (case-insensitive).
var blockedHostnames = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

// blockedSuffixes are hostname suffixes refused case-insensitively.
var blockedSuffixes = []string{".internal", ".local", ".localhost"}

// IsBlockedHost reports whether outbound connections to host are refused.
// It is the boolean view of ClassifyHost.
func IsBlockedHost(host string) bool {
	return ClassifyHost(host).Blocked
}

// ClassifyHost classifies a host string for outbound connection. It is a
// total, pure function: any input produces a classification, unparseable
// garbage is blocked (fail-closed), and nothing is cached between calls.
//
// The input may be an IPv4 literal, an IPv6 literal with or without
// brackets, or a hostname. Leading and trailing whitespace is ignored.
func ClassifyHost(host string) model.HostClassification {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return model.HostClassification{Blocked: true, Reason: model.ReasonEmpty}
	}

	// IPv6 literals arrive bracketed from URL-style input.
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		trimmed = trimmed[1 : len(trimmed)-1]
	}

	if addr, err := netip.ParseAddr(trimmed); err == nil {
		return classifyAddr(addr)
	}

	return classifyHostname(trimmed)
}

// classifyAddr classifies a parsed IP address against the block tables.
func classifyAddr(addr netip.Addr) model.HostClassification {
	// Prefix.Contains refuses zoned addresses; the zone is irrelevant to
	// whether the range is sensitive, so strip it first.
	addr = addr.WithZone("")

	if addr.Is4() {
		return classifyV4(addr)
	}

	// IPv4-mapped (::ffff:a.b.c.d): apply the IPv4 rules to the embedded
	// address. A mapped public address is allowed.
	if addr.Is4In6() {
		return classifyV4(addr.Unmap())
	}

	// IPv4-compatible (::a.b.c.d): first 96 bits zero. Recurse likewise.
	// :: and ::1 sit in this space but are classified by the v6 table first.
	for _, entry := range blockedV6Ranges {
		if entry.prefix.Contains(addr) {
			return model.HostClassification{Blocked: true, Reason: entry.reason}
		}
	}
	if embedded, ok := v4CompatibleAddr(addr); ok {
		return classifyV4(embedded)
	}

	return model.HostClassification{Reason: model.ReasonNone}
}

func classifyV4(addr netip.Addr) model.HostClassification {
	for _, entry := range blockedV4Ranges {
		if entry.prefix.Contains(addr) {
			return model.HostClassification{Blocked: true, Reason: entry.reason}
		}
	}
	return model.HostClassification{Reason: model.ReasonNone}
}

// v4CompatibleAddr extracts the IPv4 address embedded in a deprecated
// IPv4-compatible IPv6 address (::a.b.c.d), if addr is one.
func v4CompatibleAddr(addr netip.Addr) (netip.Addr, bool) {
	raw := addr.As16()
	for _, b := range raw[:12] {
		if b != 0 {
			return netip.Addr{}, false
		}
	}
	return netip.AddrFrom4([4]byte(raw[12:16])), true
}

// classifyHostname applies the hostname block rules and the fail-closed
// default for strings that are not plausible DNS names.
func classifyHostname(name string) model.HostClassification {
	lower := strings.ToLower(strings.TrimSuffix(name, "."))

	if blockedHostnames[lower] {
		return model.HostClassification{Blocked: true, Reason: model.ReasonHostname}
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return model.HostClassification{Blocked: true, Reason: model.ReasonHostname}
		}
	}

	// Fail closed on anything that could not be a DNS name. A string that
	// neither parses as an IP nor looks like a hostname is unclassifiable,
	// and unclassifiable means blocked.
	if !plausibleHostname(lower) {
		return model.HostClassification{Blocked: true, Reason: model.ReasonHostname}
	}

	return model.HostClassification{Reason: model.ReasonNone}
}

// plausibleHostname checks basic DNS name syntax: non-empty dot-separated
// labels of letters, digits, and interior hyphens, 253 bytes total.
func plausibleHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			switch {
			case c >= 'a' && c <= 'z':
			case c >= '0' && c <= '9':
			case c == '-' || c == '_':
			default:
				return false
			}
		}
	}
	return true
}
