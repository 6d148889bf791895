package probe

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
)

// nettimeEpochOffset converts RFC 868 time (seconds since 1900) to Unix
// time (seconds since 1970).
const nettimeEpochOffset = 2208988800

// Chargen pattern parameters (RFC 864): lines of 72 printable characters,
// each line starting one character further into the 94-character cycle
// from '!' (33) to '~' (126).
const (
	chargenLineLen   = 72
	chargenCycleLen  = 94
	chargenFirstChar = 33
)

// legacyMaxRead caps how much banner text the line-oriented probes read.
const legacyMaxRead = 16 * 1024

// LegacyProbe implements the classic inetd-era TCP services. They share a
// structure (connect, optionally write, read a little, interpret) that
// differs only in the exchange, so one type carries all six protocols.
type LegacyProbe struct {
	broker   *gateway.Broker
	name     string
	port     int
	exchange func(conn net.Conn, result *model.ProbeResult) error
}

// Protocol returns the protocol name.
func (p *LegacyProbe) Protocol() string { return p.name }

// DefaultPort returns the protocol's well-known port.
func (p *LegacyProbe) DefaultPort() int { return p.port }

// Network returns the transport these services run on.
func (p *LegacyProbe) Network() string { return "tcp" }

// Probe performs the protocol's exchange.
func (p *LegacyProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	return run(ctx, p.broker, p, target, p.exchange)
}

// NewEchoProbe creates an RFC 862 echo probe: send a payload, require the
// same bytes back.
func NewEchoProbe(broker *gateway.Broker) *LegacyProbe {
	return &LegacyProbe{
		broker: broker,
		name:   "echo",
		port:   7,
		exchange: func(conn net.Conn, result *model.ProbeResult) error {
			payload := []byte(fmt.Sprintf("probegw %d\r\n", randUint32()))
			if _, err := conn.Write(payload); err != nil {
				return fmt.Errorf("writing payload: %w", err)
			}

			echoed := make([]byte, len(payload))
			if _, err := io.ReadFull(conn, echoed); err != nil {
				return fmt.Errorf("reading echo: %w", err)
			}
			if !bytes.Equal(echoed, payload) {
				return fmt.Errorf("echoed bytes differ from payload")
			}
			result.Detected = true
			result.SetField("echoed_bytes", len(payload))
			return nil
		},
	}
}

// NewDiscardProbe creates an RFC 863 discard probe. The service never
// answers; an accepted write on an established connection is the signal.
func NewDiscardProbe(broker *gateway.Broker) *LegacyProbe {
	return &LegacyProbe{
		broker: broker,
		name:   "discard",
		port:   9,
		exchange: func(conn net.Conn, result *model.ProbeResult) error {
			payload := []byte("probegw discard\r\n")
			n, err := conn.Write(payload)
			if err != nil {
				return fmt.Errorf("writing payload: %w", err)
			}
			result.Detected = true
			result.SetField("discarded_bytes", n)
			return nil
		},
	}
}

// NewDaytimeProbe creates an RFC 867 daytime probe: read one
// human-readable line.
func NewDaytimeProbe(broker *gateway.Broker) *LegacyProbe {
	return &LegacyProbe{
		broker: broker,
		name:   "daytime",
		port:   13,
		exchange: func(conn net.Conn, result *model.ProbeResult) error {
			line, err := readLegacyLine(conn)
			if err != nil {
				return fmt.Errorf("reading daytime line: %w", err)
			}
			result.Detected = true
			result.Banner = line
			result.SetField("daytime", line)
			return nil
		},
	}
}

// NewChargenProbe creates an RFC 864 chargen probe: read two lines and
// validate the rotating printable-character pattern.
func NewChargenProbe(broker *gateway.Broker) *LegacyProbe {
	return &LegacyProbe{
		broker: broker,
		name:   "chargen",
		port:   19,
		exchange: func(conn net.Conn, result *model.ProbeResult) error {
			reader := bufio.NewReader(io.LimitReader(conn, legacyMaxRead))

			first, err := readChargenLine(reader)
			if err != nil {
				return err
			}
			result.Detected = true
			result.Banner = first
			result.SetField("pattern_valid", validChargenLine(first))

			// The second line confirms the rotation: it must start one
			// character further into the cycle.
			second, err := readChargenLine(reader)
			if err == nil {
				rotated := validChargenLine(second) &&
					second[0] == nextChargenChar(first[0])
				result.SetField("rotation_valid", rotated)
			}
			return nil
		},
	}
}

// NewNetTimeProbe creates an RFC 868 time probe: a single big-endian u32
// of seconds since 1900.
func NewNetTimeProbe(broker *gateway.Broker) *LegacyProbe {
	return &LegacyProbe{
		broker: broker,
		name:   "nettime",
		port:   37,
		exchange: func(conn net.Conn, result *model.ProbeResult) error {
			var raw [4]byte
			if _, err := io.ReadFull(conn, raw[:]); err != nil {
				return fmt.Errorf("reading time word: %w", err)
			}
			remote := time.Unix(int64(binary.BigEndian.Uint32(raw[:]))-nettimeEpochOffset, 0).UTC()

			result.Detected = true
			result.Banner = remote.Format(time.RFC3339)
			result.SetField("remote_time", remote.Format(time.RFC3339))
			result.SetField("skew_seconds", time.Until(remote).Round(time.Second).Seconds())
			return nil
		},
	}
}

// NewFingerProbe creates an RFC 1288 finger probe: an empty CRLF query
// lists the logged-in users.
func NewFingerProbe(broker *gateway.Broker) *LegacyProbe {
	return &LegacyProbe{
		broker: broker,
		name:   "finger",
		port:   79,
		exchange: func(conn net.Conn, result *model.ProbeResult) error {
			if _, err := conn.Write([]byte("\r\n")); err != nil {
				return fmt.Errorf("writing query: %w", err)
			}

			listing, err := io.ReadAll(io.LimitReader(conn, legacyMaxRead))
			if err != nil {
				return fmt.Errorf("reading listing: %w", err)
			}
			if len(listing) == 0 {
				return fmt.Errorf("empty listing")
			}

			result.Detected = true
			text := strings.TrimSpace(decodeLatin1(listing))
			result.Banner = text
			result.SetField("listing", text)
			result.AddFinding(model.Finding{
				Type:     "finger-user-listing",
				Title:    "Finger Service Lists Users",
				Severity: model.SeverityMedium,
				Value:    text,
			})
			return nil
		},
	}
}

// readLegacyLine reads one CRLF- or LF-terminated line, tolerating servers
// that close the connection instead of terminating the line.
func readLegacyLine(conn net.Conn) (string, error) {
	raw, err := bufio.NewReader(io.LimitReader(conn, legacyMaxRead)).ReadBytes('\n')
	if err != nil && len(raw) == 0 {
		return "", err
	}
	return strings.TrimRight(decodeLatin1(raw), "\r\n"), nil
}

// readChargenLine reads one pattern line and strips the terminator.
func readChargenLine(r *bufio.Reader) (string, error) {
	raw, err := r.ReadString('\n')
	if err != nil && len(raw) == 0 {
		return "", fmt.Errorf("reading pattern line: %w", err)
	}
	line := strings.TrimRight(raw, "\r\n")
	if line == "" {
		return "", fmt.Errorf("empty pattern line")
	}
	return line, nil
}

// validChargenLine checks length and that every character walks the
// 94-character cycle in order.
func validChargenLine(line string) bool {
	if len(line) != chargenLineLen {
		return false
	}
	for i := 1; i < len(line); i++ {
		if line[i] != nextChargenChar(line[i-1]) {
			return false
		}
	}
	return true
}

// nextChargenChar returns the successor in the '!'..'~' cycle.
func nextChargenChar(c byte) byte {
	return byte((int(c)-chargenFirstChar+1)%chargenCycleLen) + chargenFirstChar
}
