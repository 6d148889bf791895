package probe

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/wire"
)

func TestRIPv2BuildRequest(t *testing.T) {
	t.Parallel()

	t.Run("plain request", func(t *testing.T) {
		t.Parallel()

		p := NewRIPv2Probe(nil)
		packet := p.buildRequest()

		if len(packet) != 4+ripEntryLen {
			t.Fatalf("plain request is %d bytes, want %d", len(packet), 4+ripEntryLen)
		}
		if packet[0] != ripCommandRequest || packet[1] != ripVersion2 {
			t.Errorf("header = % x", packet[:2])
		}
		if afi := binary.BigEndian.Uint16(packet[4:6]); afi != 0 {
			t.Errorf("AFI = %d, want 0 for a full-table request", afi)
		}
		if metric := binary.BigEndian.Uint32(packet[20:24]); metric != ripMetricInfinity {
			t.Errorf("metric = %d, want %d", metric, ripMetricInfinity)
		}
	})

	t.Run("authenticated request", func(t *testing.T) {
		t.Parallel()

		p := NewRIPv2Probe(nil, WithRIPKey("rip-key-7", 7))
		packet := p.buildRequest()

		// Header, auth header entry, route entry, trailer marker, digest.
		wantLen := 4 + 2*ripEntryLen + 4 + wire.DigestSize
		if len(packet) != wantLen {
			t.Fatalf("authenticated request is %d bytes, want %d", len(packet), wantLen)
		}

		if afi := binary.BigEndian.Uint16(packet[4:6]); afi != ripAuthAFI {
			t.Errorf("auth AFI = 0x%04x", afi)
		}
		if typ := binary.BigEndian.Uint16(packet[6:8]); typ != ripAuthTypeKeyedMD5 {
			t.Errorf("auth type = %d, want %d", typ, ripAuthTypeKeyedMD5)
		}
		if pktLen := binary.BigEndian.Uint16(packet[8:10]); int(pktLen) != 4+2*ripEntryLen {
			t.Errorf("auth header packet length = %d, want %d", pktLen, 4+2*ripEntryLen)
		}
		if packet[10] != 7 {
			t.Errorf("key ID = %d, want 7", packet[10])
		}
		if packet[11] != wire.DigestSize {
			t.Errorf("auth data length = %d, want %d", packet[11], wire.DigestSize)
		}

		// The digest covers everything through the trailer marker.
		marker := len(packet) - wire.DigestSize
		want := wire.KeyedMD5RFC2082([]byte("rip-key-7"), packet[:marker])
		if !bytes.Equal(packet[marker:], want) {
			t.Error("trailer digest does not verify")
		}
	})
}

// buildRIPResponse assembles a response with n plain routes, optionally
// preceded by a Keyed-MD5 auth header entry.
func buildRIPResponse(n int, authenticated bool) []byte {
	resp := []byte{ripCommandResponse, ripVersion2, 0, 0}
	if authenticated {
		entry := make([]byte, ripEntryLen)
		binary.BigEndian.PutUint16(entry[0:], ripAuthAFI)
		binary.BigEndian.PutUint16(entry[2:], ripAuthTypeKeyedMD5)
		resp = append(resp, entry...)
	}
	for i := 0; i < n; i++ {
		entry := make([]byte, ripEntryLen)
		binary.BigEndian.PutUint16(entry[0:], 2) // AF_INET
		entry[4] = 10
		entry[7] = byte(i + 1)
		binary.BigEndian.PutUint32(entry[16:], 1)
		resp = append(resp, entry...)
	}
	return resp
}

func TestRIPv2ParseResponse(t *testing.T) {
	t.Parallel()

	t.Run("open routing table", func(t *testing.T) {
		t.Parallel()

		result := model.NewProbeResult("ripv2", testTargetHost, 520)
		if err := NewRIPv2Probe(nil).parseResponse(buildRIPResponse(3, false), result); err != nil {
			t.Fatalf("parseResponse error: %v", err)
		}
		if !result.Detected {
			t.Error("router not detected")
		}
		if got := result.GetField("route_count"); got != 3 {
			t.Errorf("route_count = %v, want 3", got)
		}
		if got := result.GetField("authenticated"); got != false {
			t.Errorf("authenticated = %v, want false", got)
		}
		if len(result.Findings) != 1 {
			t.Errorf("expected the open-table finding, got %v", result.Findings)
		}
	})

	t.Run("authenticated table is not a finding", func(t *testing.T) {
		t.Parallel()

		result := model.NewProbeResult("ripv2", testTargetHost, 520)
		if err := NewRIPv2Probe(nil).parseResponse(buildRIPResponse(2, true), result); err != nil {
			t.Fatalf("parseResponse error: %v", err)
		}
		if got := result.GetField("authenticated"); got != true {
			t.Errorf("authenticated = %v, want true", got)
		}
		if got := result.GetField("route_count"); got != 2 {
			t.Errorf("route_count = %v, want 2", got)
		}
		if len(result.Findings) != 0 {
			t.Errorf("unexpected findings: %v", result.Findings)
		}
	})

	t.Run("rejects other versions", func(t *testing.T) {
		t.Parallel()

		resp := buildRIPResponse(1, false)
		resp[1] = 1
		result := model.NewProbeResult("ripv2", testTargetHost, 520)
		if err := NewRIPv2Probe(nil).parseResponse(resp, result); err == nil {
			t.Error("expected an error for a RIPv1 response")
		}
	})

	t.Run("rejects misaligned length", func(t *testing.T) {
		t.Parallel()

		resp := append(buildRIPResponse(1, false), 0x00)
		result := model.NewProbeResult("ripv2", testTargetHost, 520)
		if err := NewRIPv2Probe(nil).parseResponse(resp, result); err == nil {
			t.Error("expected an error for a misaligned response")
		}
	})
}

func TestRIPv2ProbeExchange(t *testing.T) {
	t.Parallel()

	broker, server := newPipeBroker(t)
	go func() {
		buf := make([]byte, ripMaxResponse)
		n, err := server.Read(buf)
		if err != nil || n < 4 || buf[0] != ripCommandRequest {
			return
		}
		_, _ = server.Write(buildRIPResponse(5, false))
	}()

	result, err := NewRIPv2Probe(broker).Probe(context.Background(), testTarget())
	if err != nil {
		t.Fatalf("Probe error: %v", err)
	}
	if !result.Detected {
		t.Error("router not detected")
	}
	if got := result.GetField("route_count"); got != 5 {
		t.Errorf("route_count = %v, want 5", got)
	}
}
