package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/wire"
)

// SNMP PDU tags. These are context-class constructed tags layered on plain
// BER, which is why the codec treats any constructed tag generically.
const (
	snmpGetRequestTag  byte = 0xa0
	snmpGetResponseTag byte = 0xa2
)

// snmpVersion2c is the version field value for SNMPv2c.
const snmpVersion2c = 1

// sysDescrOID is SNMPv2-MIB::sysDescr.0, the textual description every
// agent must answer.
var sysDescrOID = []uint32{1, 3, 6, 1, 2, 1, 1, 1, 0}

// snmpMaxResponse caps the UDP response we will parse. Agents answer a
// single GetRequest with a single datagram well under this.
const snmpMaxResponse = 64 * 1024

// SNMPProbe queries an SNMPv2c agent for its system description.
//
// Design decision: We build the packet with the BER codec rather than an
// SNMP library because:
//  1. One GetRequest for one OID is the entire protocol surface we need
//  2. The codec is already defensive against hostile response bytes
//  3. No library dependency for a single fixed packet shape
type SNMPProbe struct {
	broker    *gateway.Broker
	logger    *slog.Logger
	community string
}

// SNMPOption configures an SNMPProbe.
type SNMPOption func(*SNMPProbe)

// WithSNMPCommunity sets the community string. Empty keeps "public".
func WithSNMPCommunity(community string) SNMPOption {
	return func(p *SNMPProbe) {
		if community != "" {
			p.community = community
		}
	}
}

// WithSNMPLogger sets the probe's logger.
func WithSNMPLogger(logger *slog.Logger) SNMPOption {
	return func(p *SNMPProbe) { p.logger = logger }
}

// NewSNMPProbe creates an SNMP probe using the given broker.
func NewSNMPProbe(broker *gateway.Broker, opts ...SNMPOption) *SNMPProbe {
	p := &SNMPProbe{
		broker:    broker,
		logger:    slog.Default(),
		community: "public",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protocol returns the protocol name.
func (p *SNMPProbe) Protocol() string { return "snmp" }

// DefaultPort returns the default SNMP port.
func (p *SNMPProbe) DefaultPort() int { return 161 }

// Network returns the transport SNMP runs on.
func (p *SNMPProbe) Network() string { return "udp" }

// Probe sends a GetRequest for sysDescr.0 and parses the GetResponse.
func (p *SNMPProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	// The redacting log handler masks the community value.
	p.logger.DebugContext(ctx, "snmp probe",
		slog.String("host", target.Host),
		slog.String("community", p.community))
	return run(ctx, p.broker, p, target, p.exchange)
}

// exchange performs the request/response round trip on a live connection.
func (p *SNMPProbe) exchange(conn net.Conn, result *model.ProbeResult) error {
	requestID := int64(randUint32() & 0x7fffffff)

	packet, err := wire.EncodeBER(wire.BERSequence(
		wire.BERInteger(snmpVersion2c),
		wire.BEROctetString([]byte(p.community)),
		wire.BERConstructed(snmpGetRequestTag,
			wire.BERInteger(requestID),
			wire.BERInteger(0), // error-status
			wire.BERInteger(0), // error-index
			wire.BERSequence(
				wire.BERSequence(
					wire.BEROID(sysDescrOID...),
					wire.BERNull(),
				),
			),
		),
	))
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	buf := make([]byte, snmpMaxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	msg, err := wire.DecodeBER(buf[:n])
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return p.parseResponse(msg, requestID, result)
}

// parseResponse validates the GetResponse envelope and extracts sysDescr.
func (p *SNMPProbe) parseResponse(msg wire.BERValue, requestID int64, result *model.ProbeResult) error {
	if msg.Tag != wire.TagSequence || len(msg.Children) != 3 {
		return fmt.Errorf("response is not an SNMP message")
	}
	if v := msg.Children[0]; v.Tag != wire.TagInteger || v.Int != snmpVersion2c {
		return fmt.Errorf("unexpected SNMP version")
	}

	pdu := msg.Children[2]
	if pdu.Tag != snmpGetResponseTag {
		return fmt.Errorf("unexpected PDU tag 0x%02x", pdu.Tag)
	}
	if len(pdu.Children) != 4 {
		return fmt.Errorf("malformed GetResponse PDU")
	}
	if got := pdu.Children[0]; got.Tag != wire.TagInteger || got.Int != requestID {
		return fmt.Errorf("request-id mismatch")
	}

	result.Detected = true

	if status := pdu.Children[1]; status.Tag == wire.TagInteger && status.Int != 0 {
		result.SetField("error_status", status.Int)
		return nil
	}

	varbinds := pdu.Children[3]
	if varbinds.Tag != wire.TagSequence || len(varbinds.Children) == 0 {
		return fmt.Errorf("empty varbind list")
	}
	binding := varbinds.Children[0]
	if binding.Tag != wire.TagSequence || len(binding.Children) != 2 {
		return fmt.Errorf("malformed varbind")
	}

	if value := binding.Children[1]; value.Tag == wire.TagOctetString {
		result.Banner = decodeLatin1(value.Bytes)
		result.SetField("sys_descr", result.Banner)
		result.AddFinding(model.Finding{
			Type:     "snmp-sys-descr",
			Title:    "SNMP System Description Disclosed",
			Severity: model.SeverityInfo,
			Value:    result.Banner,
		})
	}
	return nil
}
