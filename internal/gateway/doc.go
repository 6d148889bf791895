// Package gateway is the secure outbound connection layer used by every
// protocol probe. It decides whether a destination may be contacted at all
// (SSRF guard and anycast edge detection) and, only then, opens a
// time-bounded connection whose teardown it owns.
//
// # Architecture
//
// Three pieces compose in a fixed order inside Broker.Connect:
//
//  1. ClassifyHost: pure classification of the caller-supplied host string
//     against loopback, private, link-local, CGNAT, reserved, and ULA ranges
//     plus blocked hostname suffixes. Fail-closed: anything unclassifiable
//     is blocked.
//  2. EdgeNetworkDetector: after DNS resolution, every resolved address is
//     matched against an immutable table of anycast edge provider CIDRs.
//     Probing an edge address observes the edge, not the target, so such
//     requests are refused.
//  3. The dial itself, raced against the caller's timeout. On success the
//     broker returns an owned *Conn with connect-time telemetry; on any
//     failure the partially-established socket is closed before returning.
//
// Resolved addresses are re-checked against the block tables, so a hostname
// that resolves into private space (DNS rebinding) is refused even though
// the name itself passed validation.
//
// # Security Considerations
//
// No I/O of any kind happens for a blocked host, not even DNS resolution.
// Classification is recomputed per call with no cache whose staleness could
// admit a blocked host. The broker performs exactly one connection attempt
// per call; retries are the caller's decision.
package gateway
