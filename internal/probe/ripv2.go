package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/wire"
)

// RIP commands (RFC 2453 section 3.4).
const (
	ripCommandRequest  byte = 1
	ripCommandResponse byte = 2
)

// ripVersion2 is the only version this probe speaks.
const ripVersion2 byte = 2

// ripEntryLen is the fixed size of a route entry and of the
// authentication header entry.
const ripEntryLen = 20

// ripAuthAFI marks an entry as authentication data rather than a route.
const ripAuthAFI uint16 = 0xffff

// RIP authentication types.
const (
	ripAuthTypeTrailer  uint16 = 0x0001 // marks the digest trailer
	ripAuthTypeKeyedMD5 uint16 = 0x0003 // RFC 2082 keyed message digest
)

// ripMetricInfinity in a request with AFI 0 asks for the full table.
const ripMetricInfinity = 16

// ripMaxResponse caps the UDP response. A full RIP response datagram holds
// at most 25 entries (504 bytes); routers may send several datagrams but
// one is enough to detect the service.
const ripMaxResponse = 4096

// RIPv2Probe requests the routing table from a RIPv2 router. When a key is
// configured the request carries the Keyed-MD5 authentication trailer, so
// routers with authentication enabled answer instead of silently dropping.
type RIPv2Probe struct {
	broker *gateway.Broker
	logger *slog.Logger
	key    string
	keyID  uint8
}

// RIPOption configures a RIPv2Probe.
type RIPOption func(*RIPv2Probe)

// WithRIPKey sets the Keyed-MD5 authentication key and its key ID.
// An empty key disables authentication.
func WithRIPKey(key string, keyID uint8) RIPOption {
	return func(p *RIPv2Probe) {
		p.key = key
		p.keyID = keyID
	}
}

// WithRIPLogger sets the probe's logger.
func WithRIPLogger(logger *slog.Logger) RIPOption {
	return func(p *RIPv2Probe) { p.logger = logger }
}

// NewRIPv2Probe creates a RIPv2 probe using the given broker.
func NewRIPv2Probe(broker *gateway.Broker, opts ...RIPOption) *RIPv2Probe {
	p := &RIPv2Probe{
		broker: broker,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protocol returns the protocol name.
func (p *RIPv2Probe) Protocol() string { return "ripv2" }

// DefaultPort returns the RIP port.
func (p *RIPv2Probe) DefaultPort() int { return 520 }

// Network returns the transport RIP runs on.
func (p *RIPv2Probe) Network() string { return "udp" }

// Probe sends a full-table request and counts the routes in the response.
func (p *RIPv2Probe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	p.logger.DebugContext(ctx, "ripv2 probe",
		slog.String("host", target.Host),
		slog.Bool("authenticated", p.key != ""))
	return run(ctx, p.broker, p, target, p.exchange)
}

func (p *RIPv2Probe) exchange(conn net.Conn, result *model.ProbeResult) error {
	if _, err := conn.Write(p.buildRequest()); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	buf := make([]byte, ripMaxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return p.parseResponse(buf[:n], result)
}

// buildRequest assembles the full-table request, with the RFC 2082 trailer
// when a key is configured.
func (p *RIPv2Probe) buildRequest() []byte {
	// Header and the AFI-0 "send everything" entry.
	body := make([]byte, 0, 3*ripEntryLen+4+wire.DigestSize)
	body = append(body, ripCommandRequest, ripVersion2, 0, 0)

	fullTable := make([]byte, ripEntryLen)
	binary.BigEndian.PutUint32(fullTable[16:], ripMetricInfinity)

	if p.key == "" {
		return append(body, fullTable...)
	}

	// Authentication header entry precedes the routes. Its packet-length
	// field covers everything up to the digest trailer marker.
	authHeader := make([]byte, ripEntryLen)
	binary.BigEndian.PutUint16(authHeader[0:], ripAuthAFI)
	binary.BigEndian.PutUint16(authHeader[2:], ripAuthTypeKeyedMD5)
	binary.BigEndian.PutUint16(authHeader[4:], uint16(4+2*ripEntryLen))
	authHeader[6] = p.keyID
	authHeader[7] = wire.DigestSize
	binary.BigEndian.PutUint32(authHeader[8:], randUint32())

	body = append(body, authHeader...)
	body = append(body, fullTable...)

	// Digest trailer: marker entry header, then MD5 over the packet with
	// the padded key occupying the digest position.
	body = binary.BigEndian.AppendUint16(body, ripAuthAFI)
	body = binary.BigEndian.AppendUint16(body, ripAuthTypeTrailer)
	return append(body, wire.KeyedMD5RFC2082([]byte(p.key), body)...)
}

// parseResponse counts route entries in a RIP response, skipping
// authentication entries.
func (p *RIPv2Probe) parseResponse(resp []byte, result *model.ProbeResult) error {
	if len(resp) < 4 {
		return fmt.Errorf("response too short: %d bytes", len(resp))
	}
	if resp[0] != ripCommandResponse {
		return fmt.Errorf("unexpected command %d", resp[0])
	}
	if resp[1] != ripVersion2 {
		return fmt.Errorf("unexpected version %d", resp[1])
	}
	if (len(resp)-4)%ripEntryLen != 0 {
		return fmt.Errorf("response length %d is not entry-aligned", len(resp))
	}

	result.Detected = true

	routes := 0
	authenticated := false
	for off := 4; off+ripEntryLen <= len(resp); off += ripEntryLen {
		afi := binary.BigEndian.Uint16(resp[off:])
		if afi == ripAuthAFI {
			if binary.BigEndian.Uint16(resp[off+2:]) == ripAuthTypeKeyedMD5 {
				authenticated = true
			}
			continue
		}
		routes++
	}
	result.SetField("route_count", routes)
	result.SetField("authenticated", authenticated)
	result.Banner = fmt.Sprintf("RIPv2 response, %d routes", routes)

	if routes > 0 && !authenticated {
		result.AddFinding(model.Finding{
			Type:     "rip-open-table",
			Title:    "RIPv2 Routing Table Disclosed Without Authentication",
			Severity: model.SeverityMedium,
			Value:    fmt.Sprintf("%d routes", routes),
		})
	}
	return nil
}
