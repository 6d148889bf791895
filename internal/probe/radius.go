package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/wire"
)

// RADIUS packet codes (RFC 2865 section 3).
const (
	radiusAccessRequest   byte = 1
	radiusAccessAccept    byte = 2
	radiusAccessReject    byte = 3
	radiusAccessChallenge byte = 11
)

// RADIUS attribute types used by the probe.
const (
	radiusAttrUserName             byte = 1
	radiusAttrUserPassword         byte = 2
	radiusAttrNASIdentifier        byte = 32
	radiusAttrMessageAuthenticator byte = 80
)

// radiusHeaderLen is code + identifier + length + authenticator.
const radiusHeaderLen = 20

// radiusMaxPacket is the protocol's own packet size ceiling (RFC 2865 §3).
const radiusMaxPacket = 4096

// RADIUSProbe sends an Access-Request and reports the server's verdict.
// A Reject is still a detection: it proves a RADIUS server answered.
type RADIUSProbe struct {
	broker   *gateway.Broker
	logger   *slog.Logger
	secret   string
	username string
	password string
}

// RADIUSOption configures a RADIUSProbe.
type RADIUSOption func(*RADIUSProbe)

// WithRADIUSSecret sets the shared secret. Empty keeps the placeholder.
func WithRADIUSSecret(secret string) RADIUSOption {
	return func(p *RADIUSProbe) {
		if secret != "" {
			p.secret = secret
		}
	}
}

// WithRADIUSCredentials sets the User-Name and User-Password attributes.
func WithRADIUSCredentials(username, password string) RADIUSOption {
	return func(p *RADIUSProbe) {
		p.username = username
		p.password = password
	}
}

// WithRADIUSLogger sets the probe's logger.
func WithRADIUSLogger(logger *slog.Logger) RADIUSOption {
	return func(p *RADIUSProbe) { p.logger = logger }
}

// NewRADIUSProbe creates a RADIUS probe using the given broker.
func NewRADIUSProbe(broker *gateway.Broker, opts ...RADIUSOption) *RADIUSProbe {
	p := &RADIUSProbe{
		broker:   broker,
		logger:   slog.Default(),
		secret:   "probegw",
		username: "probegw",
		password: "probegw",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protocol returns the protocol name.
func (p *RADIUSProbe) Protocol() string { return "radius" }

// DefaultPort returns the default RADIUS authentication port.
func (p *RADIUSProbe) DefaultPort() int { return 1812 }

// Network returns the transport RADIUS runs on.
func (p *RADIUSProbe) Network() string { return "udp" }

// Probe sends an Access-Request and parses the response code.
func (p *RADIUSProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	p.logger.DebugContext(ctx, "radius probe",
		slog.String("host", target.Host),
		slog.String("secret", p.secret))
	return run(ctx, p.broker, p, target, p.exchange)
}

func (p *RADIUSProbe) exchange(conn net.Conn, result *model.ProbeResult) error {
	identifier := randBytes(1)[0]
	authenticator := randBytes(16)

	packet, err := p.buildAccessRequest(identifier, authenticator)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	buf := make([]byte, radiusMaxPacket)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return p.parseResponse(buf[:n], identifier, authenticator, result)
}

// buildAccessRequest assembles the packet with a valid Message-Authenticator.
// The attribute is written as zeros first, HMAC'd over the whole packet, then
// filled in (RFC 3579 section 3.2).
func (p *RADIUSProbe) buildAccessRequest(identifier byte, authenticator []byte) ([]byte, error) {
	encrypted, err := wire.EncryptUserPassword([]byte(p.secret), authenticator, []byte(p.password))
	if err != nil {
		return nil, err
	}

	var attrs bytes.Buffer
	writeAttr := func(typ byte, value []byte) {
		attrs.WriteByte(typ)
		attrs.WriteByte(byte(2 + len(value)))
		attrs.Write(value)
	}
	writeAttr(radiusAttrUserName, []byte(p.username))
	writeAttr(radiusAttrUserPassword, encrypted)
	writeAttr(radiusAttrNASIdentifier, []byte("probegw"))

	maOffset := radiusHeaderLen + attrs.Len() + 2
	writeAttr(radiusAttrMessageAuthenticator, make([]byte, 16))

	total := radiusHeaderLen + attrs.Len()
	packet := make([]byte, 0, total)
	packet = append(packet, radiusAccessRequest, identifier)
	packet = binary.BigEndian.AppendUint16(packet, uint16(total))
	packet = append(packet, authenticator...)
	packet = append(packet, attrs.Bytes()...)

	copy(packet[maOffset:], wire.HMACMD5([]byte(p.secret), packet))
	return packet, nil
}

// parseResponse validates the Response Authenticator and records the verdict.
func (p *RADIUSProbe) parseResponse(resp []byte, identifier byte, requestAuth []byte, result *model.ProbeResult) error {
	if len(resp) < radiusHeaderLen {
		return fmt.Errorf("response too short: %d bytes", len(resp))
	}
	declared := int(binary.BigEndian.Uint16(resp[2:4]))
	if declared < radiusHeaderLen || declared > len(resp) {
		return fmt.Errorf("bad declared length %d", declared)
	}
	resp = resp[:declared]

	if resp[1] != identifier {
		return fmt.Errorf("identifier mismatch")
	}

	// Response Authenticator = MD5(Code+ID+Length+RequestAuth+Attrs+Secret).
	check := make([]byte, 0, declared+len(p.secret))
	check = append(check, resp[:4]...)
	check = append(check, requestAuth...)
	check = append(check, resp[radiusHeaderLen:]...)
	check = append(check, p.secret...)
	authenticated := bytes.Equal(wire.MD5Sum(check), resp[4:20])

	result.Detected = true
	result.SetField("response_code", int(resp[0]))
	result.SetField("response_authenticated", authenticated)

	var verdict string
	switch resp[0] {
	case radiusAccessAccept:
		verdict = "access-accept"
		result.AddFinding(model.Finding{
			Type:     "radius-open-access",
			Title:    "RADIUS Server Accepted Probe Credentials",
			Severity: model.SeverityHigh,
			Value:    p.username,
		})
	case radiusAccessReject:
		verdict = "access-reject"
	case radiusAccessChallenge:
		verdict = "access-challenge"
	default:
		verdict = fmt.Sprintf("code-%d", resp[0])
	}
	result.Banner = verdict
	result.SetField("verdict", verdict)
	return nil
}
