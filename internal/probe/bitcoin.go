package probe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
)

// btcMainnetMagic is the mainnet network magic, as it appears on the wire.
var btcMainnetMagic = [4]byte{0xf9, 0xbe, 0xb4, 0xd9}

// btcProtocolVersion is the protocol version we announce.
const btcProtocolVersion int32 = 70015

// btcUserAgent is the user agent we announce, in BIP 14 form.
const btcUserAgent = "/probegw:0.1.0/"

// btcHeaderLen is magic + command + length + checksum.
const btcHeaderLen = 24

// btcMaxPayload caps payloads we will read. A version message is well
// under 1 KiB; anything bigger than this is not a handshake.
const btcMaxPayload = 8 * 1024

// btcMaxPreludeMessages bounds how many non-version messages we skip
// while waiting for the peer's version.
const btcMaxPreludeMessages = 4

// BitcoinProbe performs the version half of the Bitcoin P2P handshake and
// reports the peer's advertised user agent and block height.
type BitcoinProbe struct {
	broker *gateway.Broker
}

// NewBitcoinProbe creates a Bitcoin probe using the given broker.
func NewBitcoinProbe(broker *gateway.Broker) *BitcoinProbe {
	return &BitcoinProbe{broker: broker}
}

// Protocol returns the protocol name.
func (p *BitcoinProbe) Protocol() string { return "bitcoin" }

// DefaultPort returns the mainnet P2P port.
func (p *BitcoinProbe) DefaultPort() int { return 8333 }

// Network returns the transport this probe uses.
func (p *BitcoinProbe) Network() string { return "tcp" }

// Probe sends our version message and parses the peer's.
func (p *BitcoinProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	return run(ctx, p.broker, p, target, p.exchange)
}

func (p *BitcoinProbe) exchange(conn net.Conn, result *model.ProbeResult) error {
	if err := writeBTCMessage(conn, "version", buildVersionPayload()); err != nil {
		return fmt.Errorf("writing version: %w", err)
	}

	// Well-behaved peers answer with their own version first, but skip a
	// few stray messages in case the peer fires verack or alerts early.
	for i := 0; i < btcMaxPreludeMessages; i++ {
		command, payload, err := readBTCMessage(conn)
		if err != nil {
			return fmt.Errorf("reading message: %w", err)
		}
		if command != "version" {
			continue
		}
		result.Detected = true
		return parseVersionPayload(payload, result)
	}
	return fmt.Errorf("peer never sent a version message")
}

// buildVersionPayload serializes our version announcement. Address fields
// are zeroed; peers do not validate them during the handshake.
func buildVersionPayload() []byte {
	var emptyAddr [26]byte // services + IPv6-mapped address + port

	payload := make([]byte, 0, 128)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(btcProtocolVersion))
	payload = binary.LittleEndian.AppendUint64(payload, 0) // services
	payload = binary.LittleEndian.AppendUint64(payload, uint64(time.Now().Unix()))
	payload = append(payload, emptyAddr[:]...) // addr_recv
	payload = append(payload, emptyAddr[:]...) // addr_from
	payload = binary.LittleEndian.AppendUint64(payload, randUint64())
	payload = append(payload, byte(len(btcUserAgent)))
	payload = append(payload, btcUserAgent...)
	payload = binary.LittleEndian.AppendUint32(payload, 0) // start height
	payload = append(payload, 0)                           // relay
	return payload
}

// parseVersionPayload extracts the advertised version, user agent, and
// block height from a peer's version message.
func parseVersionPayload(payload []byte, result *model.ProbeResult) error {
	// Fixed prelude: version(4) services(8) timestamp(8) addr_recv(26)
	// addr_from(26) nonce(8).
	const fixedLen = 80
	if len(payload) < fixedLen+1 {
		return fmt.Errorf("version payload too short: %d bytes", len(payload))
	}

	version := int32(binary.LittleEndian.Uint32(payload[0:4]))
	services := binary.LittleEndian.Uint64(payload[4:12])

	uaLen, uaStart, err := readCompactSize(payload[fixedLen:])
	if err != nil {
		return fmt.Errorf("user agent length: %w", err)
	}
	uaStart += fixedLen
	if uaLen > uint64(len(payload)-uaStart) {
		return fmt.Errorf("user agent length %d exceeds payload", uaLen)
	}
	userAgent := string(payload[uaStart : uaStart+int(uaLen)])

	result.SetField("protocol_version", version)
	result.SetField("services", services)
	result.SetField("user_agent", userAgent)
	result.Banner = userAgent

	if rest := payload[uaStart+int(uaLen):]; len(rest) >= 4 {
		result.SetField("start_height", int32(binary.LittleEndian.Uint32(rest[0:4])))
	}

	if userAgent != "" {
		result.AddFinding(model.Finding{
			Type:     "bitcoin-user-agent",
			Title:    "Bitcoin Node User Agent Disclosed",
			Severity: model.SeverityInfo,
			Value:    userAgent,
		})
	}
	return nil
}

// writeBTCMessage frames a payload with the P2P message header.
func writeBTCMessage(w io.Writer, command string, payload []byte) error {
	if len(command) > 12 {
		return fmt.Errorf("command %q too long", command)
	}

	msg := make([]byte, 0, btcHeaderLen+len(payload))
	msg = append(msg, btcMainnetMagic[:]...)
	var cmd [12]byte
	copy(cmd[:], command)
	msg = append(msg, cmd[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(len(payload)))
	msg = append(msg, btcChecksum(payload)...)
	msg = append(msg, payload...)

	_, err := w.Write(msg)
	return err
}

// readBTCMessage reads one framed message and verifies its checksum.
func readBTCMessage(r io.Reader) (string, []byte, error) {
	header := make([]byte, btcHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return "", nil, err
	}
	if !bytes.Equal(header[0:4], btcMainnetMagic[:]) {
		return "", nil, fmt.Errorf("bad network magic %x", header[0:4])
	}
	command := string(bytes.TrimRight(header[4:16], "\x00"))

	length := binary.LittleEndian.Uint32(header[16:20])
	if length > btcMaxPayload {
		return "", nil, fmt.Errorf("declared payload %d exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return "", nil, err
	}
	if !bytes.Equal(btcChecksum(payload), header[20:24]) {
		return "", nil, fmt.Errorf("checksum mismatch on %q", command)
	}
	return command, payload, nil
}

// btcChecksum is the first four bytes of a double SHA-256.
func btcChecksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// readCompactSize decodes Bitcoin's variable-length integer. It returns
// the value and the number of bytes consumed.
func readCompactSize(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("empty buffer")
	}
	switch b[0] {
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("truncated u16 compact size")
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("truncated u32 compact size")
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xff:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("truncated u64 compact size")
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	default:
		return uint64(b[0]), 1, nil
	}
}
