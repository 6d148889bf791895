package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
)

// STUN message types (RFC 5389 section 6).
const (
	stunBindingRequest uint16 = 0x0001
	stunBindingSuccess uint16 = 0x0101
)

// stunMagicCookie is the fixed value distinguishing RFC 5389 messages from
// classic STUN, and the XOR mask for XOR-MAPPED-ADDRESS.
const stunMagicCookie uint32 = 0x2112a442

// STUN attribute types used by the probe.
const (
	stunAttrMappedAddress    uint16 = 0x0001
	stunAttrXORMappedAddress uint16 = 0x0020
	stunAttrSoftware         uint16 = 0x8022
)

// stunHeaderLen is type + length + cookie + transaction ID.
const stunHeaderLen = 20

// stunMaxResponse caps the UDP response we will parse.
const stunMaxResponse = 2048

// STUNProbe sends a Binding Request and extracts the reflexive transport
// address from the success response.
type STUNProbe struct {
	broker *gateway.Broker
}

// NewSTUNProbe creates a STUN probe using the given broker.
func NewSTUNProbe(broker *gateway.Broker) *STUNProbe {
	return &STUNProbe{broker: broker}
}

// Protocol returns the protocol name.
func (p *STUNProbe) Protocol() string { return "stun" }

// DefaultPort returns the STUN port.
func (p *STUNProbe) DefaultPort() int { return 3478 }

// Network returns the transport this probe uses.
func (p *STUNProbe) Network() string { return "udp" }

// Probe performs one Binding Request round trip.
func (p *STUNProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	return run(ctx, p.broker, p, target, p.exchange)
}

func (p *STUNProbe) exchange(conn net.Conn, result *model.ProbeResult) error {
	txID := randBytes(12)

	request := make([]byte, 0, stunHeaderLen)
	request = binary.BigEndian.AppendUint16(request, stunBindingRequest)
	request = binary.BigEndian.AppendUint16(request, 0) // no attributes
	request = binary.BigEndian.AppendUint32(request, stunMagicCookie)
	request = append(request, txID...)

	if _, err := conn.Write(request); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	buf := make([]byte, stunMaxResponse)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	return parseBindingResponse(buf[:n], txID, result)
}

// parseBindingResponse validates the header and walks the attributes.
func parseBindingResponse(resp, txID []byte, result *model.ProbeResult) error {
	if len(resp) < stunHeaderLen {
		return fmt.Errorf("response too short: %d bytes", len(resp))
	}
	if binary.BigEndian.Uint32(resp[4:8]) != stunMagicCookie {
		return fmt.Errorf("missing magic cookie")
	}
	if !bytes.Equal(resp[8:20], txID) {
		return fmt.Errorf("transaction ID mismatch")
	}
	if got := binary.BigEndian.Uint16(resp[0:2]); got != stunBindingSuccess {
		return fmt.Errorf("unexpected message type 0x%04x", got)
	}
	declared := int(binary.BigEndian.Uint16(resp[2:4]))
	if stunHeaderLen+declared > len(resp) {
		return fmt.Errorf("declared length %d exceeds datagram", declared)
	}

	result.Detected = true

	attrs := resp[stunHeaderLen : stunHeaderLen+declared]
	for len(attrs) >= 4 {
		typ := binary.BigEndian.Uint16(attrs[0:2])
		length := int(binary.BigEndian.Uint16(attrs[2:4]))
		if 4+length > len(attrs) {
			return fmt.Errorf("truncated attribute 0x%04x", typ)
		}
		value := attrs[4 : 4+length]

		switch typ {
		case stunAttrXORMappedAddress:
			addr, port, err := decodeXORAddress(value, txID)
			if err != nil {
				return err
			}
			result.SetField("mapped_address", addr.String())
			result.SetField("mapped_port", port)
			result.Banner = fmt.Sprintf("reflexive address %s", netip.AddrPortFrom(addr, port))
		case stunAttrMappedAddress:
			// Legacy attribute; only used when no XOR variant arrived.
			if result.GetField("mapped_address") == nil {
				addr, port, err := decodePlainAddress(value)
				if err != nil {
					return err
				}
				result.SetField("mapped_address", addr.String())
				result.SetField("mapped_port", port)
				result.Banner = fmt.Sprintf("reflexive address %s", netip.AddrPortFrom(addr, port))
			}
		case stunAttrSoftware:
			result.SetField("software", decodeLatin1(value))
		}

		// Attributes are padded to 4-byte boundaries, but the padding of
		// the final attribute may be omitted.
		advance := 4 + ((length + 3) &^ 3)
		if advance >= len(attrs) {
			break
		}
		attrs = attrs[advance:]
	}
	return nil
}

// decodeXORAddress reverses the RFC 5389 section 15.2 masking: the port is
// XORed with the top half of the cookie, the address with the cookie (v4)
// or the cookie followed by the transaction ID (v6).
func decodeXORAddress(value, txID []byte) (netip.Addr, uint16, error) {
	if len(value) < 8 {
		return netip.Addr{}, 0, fmt.Errorf("XOR-MAPPED-ADDRESS too short")
	}
	port := binary.BigEndian.Uint16(value[2:4]) ^ uint16(stunMagicCookie>>16)

	var mask []byte
	mask = binary.BigEndian.AppendUint32(mask, stunMagicCookie)
	mask = append(mask, txID...)

	switch value[1] {
	case 0x01: // IPv4
		var raw [4]byte
		for i := range raw {
			raw[i] = value[4+i] ^ mask[i]
		}
		return netip.AddrFrom4(raw), port, nil
	case 0x02: // IPv6
		if len(value) < 20 {
			return netip.Addr{}, 0, fmt.Errorf("IPv6 XOR-MAPPED-ADDRESS too short")
		}
		var raw [16]byte
		for i := range raw {
			raw[i] = value[4+i] ^ mask[i]
		}
		return netip.AddrFrom16(raw), port, nil
	default:
		return netip.Addr{}, 0, fmt.Errorf("unknown address family 0x%02x", value[1])
	}
}

// decodePlainAddress parses the legacy MAPPED-ADDRESS attribute.
func decodePlainAddress(value []byte) (netip.Addr, uint16, error) {
	if len(value) < 8 {
		return netip.Addr{}, 0, fmt.Errorf("MAPPED-ADDRESS too short")
	}
	port := binary.BigEndian.Uint16(value[2:4])
	switch value[1] {
	case 0x01:
		return netip.AddrFrom4([4]byte(value[4:8])), port, nil
	case 0x02:
		if len(value) < 20 {
			return netip.Addr{}, 0, fmt.Errorf("IPv6 MAPPED-ADDRESS too short")
		}
		return netip.AddrFrom16([16]byte(value[4:20])), port, nil
	default:
		return netip.Addr{}, 0, fmt.Errorf("unknown address family 0x%02x", value[1])
	}
}
