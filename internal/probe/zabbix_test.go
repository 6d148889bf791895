package probe

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/probegw/probegw/internal/wire"
)

// serveZabbix answers one framed item request with the given body.
func serveZabbix(t *testing.T, server net.Conn, reply string) {
	t.Helper()

	go func() {
		request, err := wire.ReadFrame(server, wire.ProfileZabbix, 1<<16)
		if err != nil {
			return
		}
		if string(request) != zabbixPingKey+"\n" {
			t.Errorf("request = %q, want %q", request, zabbixPingKey+"\n")
			return
		}
		_ = wire.WriteFrame(server, []byte(reply), wire.ProfileZabbix)
	}()
}

func TestZabbixProbe(t *testing.T) {
	t.Parallel()

	t.Run("agent answers ping", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		serveZabbix(t, server, "1")

		result, err := NewZabbixProbe(broker).Probe(context.Background(), testTarget())
		if err != nil {
			t.Fatalf("Probe error: %v", err)
		}
		if !result.Detected {
			t.Error("agent not detected")
		}
		if result.Banner != "1" {
			t.Errorf("banner = %q, want 1", result.Banner)
		}
		if got := result.GetField("supported"); got != true {
			t.Errorf("supported = %v, want true", got)
		}
		if len(result.Findings) != 1 {
			t.Errorf("expected the open-agent finding, got %v", result.Findings)
		}
	})

	t.Run("unsupported item still detects the agent", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		serveZabbix(t, server, "ZBX_NOTSUPPORTED\x00Unsupported item key.")

		result, err := NewZabbixProbe(broker).Probe(context.Background(), testTarget())
		if err != nil {
			t.Fatalf("Probe error: %v", err)
		}
		if !result.Detected {
			t.Error("agent not detected")
		}
		if got := result.GetField("supported"); got != false {
			t.Errorf("supported = %v, want false", got)
		}
		if len(result.Findings) != 0 {
			t.Errorf("unexpected findings: %v", result.Findings)
		}
	})

	t.Run("oversized reply is rejected", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		go func() {
			if _, err := wire.ReadFrame(server, wire.ProfileZabbix, 1<<16); err != nil {
				return
			}
			// Declare a length far past the probe's cap; the probe must
			// fail on the header alone.
			header := append([]byte("ZBXD"), 0x01)
			header = append(header, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x00, 0x00)
			_, _ = server.Write(header)
		}()

		p := NewZabbixProbe(broker, WithZabbixMaxFrame(1024))
		_, err := p.Probe(context.Background(), testTarget())
		if !errors.Is(err, ErrProtocol) {
			t.Fatalf("err = %v, want ErrProtocol", err)
		}
		if !errors.Is(err, wire.ErrFrameTooLarge) {
			t.Errorf("err = %v, want ErrFrameTooLarge in the chain", err)
		}
	})
}
