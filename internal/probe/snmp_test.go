package probe

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/probegw/probegw/internal/wire"
)

// serveSNMP answers one GetRequest on the server end of a pipe. The
// response community and varbind value come from the arguments; the
// request-id is echoed unless breakRequestID is set.
func serveSNMP(t *testing.T, server net.Conn, sysDescr string, errorStatus int64, breakRequestID bool) {
	t.Helper()

	go func() {
		buf := make([]byte, 65536)
		n, err := server.Read(buf)
		if err != nil {
			return
		}

		request, err := wire.DecodeBER(buf[:n])
		if err != nil || len(request.Children) != 3 {
			t.Errorf("malformed GetRequest: %v", err)
			return
		}
		pdu := request.Children[2]
		if pdu.Tag != snmpGetRequestTag {
			t.Errorf("request PDU tag = 0x%02x, want 0x%02x", pdu.Tag, snmpGetRequestTag)
			return
		}
		requestID := pdu.Children[0].Int
		if breakRequestID {
			requestID++
		}

		response, err := wire.EncodeBER(wire.BERSequence(
			wire.BERInteger(snmpVersion2c),
			request.Children[1],
			wire.BERConstructed(snmpGetResponseTag,
				wire.BERInteger(requestID),
				wire.BERInteger(errorStatus),
				wire.BERInteger(0),
				wire.BERSequence(
					wire.BERSequence(
						wire.BEROID(sysDescrOID...),
						wire.BEROctetString([]byte(sysDescr)),
					),
				),
			),
		))
		if err != nil {
			t.Errorf("encoding response: %v", err)
			return
		}
		_, _ = server.Write(response)
	}()
}

func TestSNMPProbe(t *testing.T) {
	t.Parallel()

	t.Run("sysDescr returned", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		serveSNMP(t, server, "Linux router 6.1.0 x86_64", 0, false)

		p := NewSNMPProbe(broker, WithSNMPCommunity("internal"))
		result, err := p.Probe(context.Background(), testTarget())
		if err != nil {
			t.Fatalf("Probe error: %v", err)
		}
		if !result.Detected {
			t.Error("agent not detected")
		}
		if result.Banner != "Linux router 6.1.0 x86_64" {
			t.Errorf("banner = %q", result.Banner)
		}
		if got := result.GetField("sys_descr"); got != "Linux router 6.1.0 x86_64" {
			t.Errorf("sys_descr field = %v", got)
		}
		if len(result.Findings) == 0 {
			t.Error("expected a sysDescr finding")
		}
	})

	t.Run("agent error status", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		serveSNMP(t, server, "", 2, false) // noSuchName

		result, err := NewSNMPProbe(broker).Probe(context.Background(), testTarget())
		if err != nil {
			t.Fatalf("Probe error: %v", err)
		}
		if !result.Detected {
			t.Error("an in-protocol error response still proves the agent exists")
		}
		if got := result.GetField("error_status"); got != int64(2) {
			t.Errorf("error_status = %v, want 2", got)
		}
	})

	t.Run("request id mismatch is a protocol violation", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		serveSNMP(t, server, "irrelevant", 0, true)

		_, err := NewSNMPProbe(broker).Probe(context.Background(), testTarget())
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("err = %v, want ErrProtocol", err)
		}
	})

	t.Run("garbage response is a protocol violation", func(t *testing.T) {
		t.Parallel()

		broker, server := newPipeBroker(t)
		go func() {
			buf := make([]byte, 65536)
			if _, err := server.Read(buf); err != nil {
				return
			}
			_, _ = server.Write([]byte("not ber at all"))
		}()

		_, err := NewSNMPProbe(broker).Probe(context.Background(), testTarget())
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("err = %v, want ErrProtocol", err)
		}
	})
}
