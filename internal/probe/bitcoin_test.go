package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/probegw/probegw/internal/model"
)

// buildPeerVersion serializes a version payload announcing the given user
// agent and block height.
func buildPeerVersion(userAgent string, height int32) []byte {
	var emptyAddr [26]byte

	payload := make([]byte, 0, 128)
	payload = binary.LittleEndian.AppendUint32(payload, 70016)
	payload = binary.LittleEndian.AppendUint64(payload, 0x409) // services
	payload = binary.LittleEndian.AppendUint64(payload, uint64(time.Now().Unix()))
	payload = append(payload, emptyAddr[:]...)
	payload = append(payload, emptyAddr[:]...)
	payload = binary.LittleEndian.AppendUint64(payload, 0x1122334455667788)
	payload = append(payload, byte(len(userAgent)))
	payload = append(payload, userAgent...)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(height))
	payload = append(payload, 1) // relay
	return payload
}

// serveBitcoin reads our version message off a pipe, then replies with
// verack followed by the peer's version. Sending verack first exercises
// the prelude skip.
func serveBitcoin(t *testing.T, server net.Conn, userAgent string, height int32) {
	t.Helper()

	go func() {
		command, _, err := readBTCMessage(server)
		if err != nil {
			return
		}
		if command != "version" {
			t.Errorf("first message = %q, want version", command)
			return
		}
		_ = writeBTCMessage(server, "verack", nil)
		_ = writeBTCMessage(server, "version", buildPeerVersion(userAgent, height))
	}()
}

func TestBitcoinProbe(t *testing.T) {
	t.Parallel()

	broker, server := newPipeBroker(t)
	serveBitcoin(t, server, "/Satoshi:27.0.0/", 850000)

	result, err := NewBitcoinProbe(broker).Probe(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if !result.Detected {
		t.Error("node not detected")
	}
	if result.Banner != "/Satoshi:27.0.0/" {
		t.Errorf("banner = %q", result.Banner)
	}
	if got := result.GetField("user_agent"); got != "/Satoshi:27.0.0/" {
		t.Errorf("user_agent = %v", got)
	}
	if got := result.GetField("start_height"); got != int32(850000) {
		t.Errorf("start_height = %v", got)
	}
	if got := result.GetField("protocol_version"); got != int32(70016) {
		t.Errorf("protocol_version = %v", got)
	}
	if len(result.Findings) != 1 {
		t.Errorf("expected the user-agent finding, got %v", result.Findings)
	}
}

func TestBitcoinChecksumMismatch(t *testing.T) {
	t.Parallel()

	broker, server := newPipeBroker(t)
	go func() {
		if _, _, err := readBTCMessage(server); err != nil {
			return
		}
		// Valid header shape, corrupted checksum.
		payload := buildPeerVersion("/Evil:0.1/", 1)
		msg := make([]byte, 0, btcHeaderLen+len(payload))
		msg = append(msg, btcMainnetMagic[:]...)
		var cmd [12]byte
		copy(cmd[:], "version")
		msg = append(msg, cmd[:]...)
		msg = binary.LittleEndian.AppendUint32(msg, uint32(len(payload)))
		msg = append(msg, 0xde, 0xad, 0xbe, 0xef)
		msg = append(msg, payload...)
		_, _ = server.Write(msg)
	}()

	_, err := NewBitcoinProbe(broker).Probe(context.Background(), testTarget())
	if !errors.Is(err, ErrProtocol) {
		t.Errorf("err = %v, want ErrProtocol", err)
	}
}

func TestBTCMessageRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	payload := []byte{1, 2, 3, 4, 5}
	if err := writeBTCMessage(&buf, "ping", payload); err != nil {
		t.Fatalf("writeBTCMessage error: %v", err)
	}

	command, got, err := readBTCMessage(&buf)
	if err != nil {
		t.Fatalf("readBTCMessage error: %v", err)
	}
	if command != "ping" {
		t.Errorf("command = %q", command)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = % x", got)
	}
}

func TestReadCompactSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    []byte
		want     uint64
		wantSize int
		wantErr  bool
	}{
		{"single byte", []byte{0x10}, 0x10, 1, false},
		{"boundary single byte", []byte{0xfc}, 0xfc, 1, false},
		{"u16", []byte{0xfd, 0x34, 0x12}, 0x1234, 3, false},
		{"u32", []byte{0xfe, 0x78, 0x56, 0x34, 0x12}, 0x12345678, 5, false},
		{"u64", []byte{0xff, 1, 0, 0, 0, 0, 0, 0, 0}, 1, 9, false},
		{"empty", nil, 0, 0, true},
		{"truncated u16", []byte{0xfd, 0x01}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, size, err := readCompactSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("readCompactSize error: %v", err)
			}
			if got != tt.want || size != tt.wantSize {
				t.Errorf("readCompactSize = (%d, %d), want (%d, %d)", got, size, tt.want, tt.wantSize)
			}
		})
	}
}

func TestParseVersionPayloadTruncated(t *testing.T) {
	t.Parallel()

	full := buildPeerVersion("/Satoshi:27.0.0/", 1)
	for _, n := range []int{0, 10, 79, 81} {
		if err := parseVersionPayload(full[:n], model.NewProbeResult("bitcoin", testTargetHost, 8333)); err == nil {
			t.Errorf("parseVersionPayload accepted a %d-byte payload", n)
		}
	}
}
