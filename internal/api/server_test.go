package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/metrics"
	"github.com/probegw/probegw/internal/probe"
	"github.com/probegw/probegw/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a Server whose broker dials an in-memory Zabbix agent
// instead of the network. Blocked destinations still hit the real host and
// edge validation, so handler status mapping is exercised end to end.
func newTestServer(t *testing.T, opts ServerOptions) *Server {
	t.Helper()
	return newTestServerWithDial(t, zabbixAgentDial(t), opts)
}

func newTestServerWithDial(t *testing.T, dial gateway.DialFunc, opts ServerOptions) *Server {
	t.Helper()

	broker := gateway.NewBroker(nil,
		gateway.WithDialFunc(dial),
		gateway.WithLogger(discardLogger()),
	)
	registry := probe.NewRegistry(probe.Deps{
		Broker: broker,
		Logger: discardLogger(),
	})
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	return NewServer(registry, opts)
}

// zabbixAgentDial returns a DialFunc whose far end answers agent.ping.
func zabbixAgentDial(t *testing.T) gateway.DialFunc {
	t.Helper()
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close() //nolint:errcheck
			if _, err := wire.ReadFrame(server, wire.ProfileZabbix, 1<<20); err != nil {
				return
			}
			_ = wire.WriteFrame(server, []byte("1"), wire.ProfileZabbix)
		}()
		return client, nil
	}
}

// doJSON sends a request to the handler and decodes the response into out.
func doJSON(t *testing.T, h http.Handler, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("response is not valid JSON: %v\nbody: %s", err, rec.Body.String())
		}
	}
	return rec
}

// TestHealthz tests the liveness endpoint.
func TestHealthz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, ServerOptions{})

	t.Run("GET returns ok", func(t *testing.T) {
		t.Parallel()

		var resp map[string]string
		rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/healthz", "", &resp)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if resp["status"] != "ok" {
			t.Errorf("status field = %q, want ok", resp["status"])
		}
	})

	t.Run("POST is rejected", func(t *testing.T) {
		t.Parallel()

		rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/healthz", "", nil)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d, want 405", rec.Code)
		}
	})
}

// TestProtocols tests the module listing endpoint.
func TestProtocols(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, ServerOptions{})

	var resp ProtocolsResponse
	rec := doJSON(t, s.Handler(), http.MethodGet, "/v1/protocols", "", &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(resp.Protocols) != 13 {
		t.Fatalf("len(Protocols) = %d, want 13", len(resp.Protocols))
	}

	byName := make(map[string]ProtocolInfo, len(resp.Protocols))
	for _, p := range resp.Protocols {
		byName[p.Name] = p
	}
	zabbix, ok := byName["zabbix"]
	if !ok {
		t.Fatal("expected zabbix in protocol list")
	}
	if zabbix.DefaultPort != 10051 {
		t.Errorf("zabbix default port = %d, want 10051", zabbix.DefaultPort)
	}
	if zabbix.Network != "tcp" {
		t.Errorf("zabbix network = %q, want tcp", zabbix.Network)
	}
}

// TestProbeValidation tests request validation status codes.
func TestProbeValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, ServerOptions{})

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed JSON", body: `{"host":`},
		{name: "unknown field", body: `{"host":"192.0.2.1","protocol":"zabbix","bogus":1}`},
		{name: "missing host", body: `{"protocol":"zabbix"}`},
		{name: "unknown protocol", body: `{"host":"192.0.2.1","protocol":"gopher"}`},
		{name: "negative timeout", body: `{"host":"192.0.2.1","protocol":"zabbix","timeout_ms":-1}`},
		{name: "port out of range", body: `{"host":"192.0.2.1","protocol":"zabbix","port":70000}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var apiErr APIError
			rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/probe", tt.body, &apiErr)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if apiErr.Error == "" {
				t.Error("expected error message in payload")
			}
		})
	}
}

// TestProbeBlockedHost tests that security blocks map to 403.
func TestProbeBlockedHost(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, ServerOptions{})

	var resp ProbeResponse
	body := `{"host":"169.254.169.254","protocol":"zabbix"}`
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/probe", body, &resp)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.ErrorKind != "host-blocked" {
		t.Errorf("error_kind = %q, want host-blocked", resp.ErrorKind)
	}
	if resp.RequestID == "" {
		t.Error("expected request_id to be set")
	}
	if resp.Error == "" {
		t.Error("expected error message")
	}
}

// TestProbeSuccess tests a full probe round trip over the in-memory agent.
func TestProbeSuccess(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s := newTestServer(t, ServerOptions{
		Metrics:  metrics.NewRecorder(reg),
		Gatherer: reg,
	})

	var resp ProbeResponse
	body := `{"host":"192.0.2.10","protocol":"zabbix","timeout_ms":5000}`
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/probe", body, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}
	if !resp.Success {
		t.Fatalf("expected success, got error %q", resp.Error)
	}
	if !resp.Detected {
		t.Error("expected detected=true")
	}
	if resp.Protocol != "zabbix" {
		t.Errorf("protocol = %q, want zabbix", resp.Protocol)
	}
	if resp.Port != 10051 {
		t.Errorf("port = %d, want default 10051", resp.Port)
	}
	if resp.Banner != "1" {
		t.Errorf("banner = %q, want 1", resp.Banner)
	}
	if resp.RequestID == "" {
		t.Error("expected request_id to be set")
	}

	t.Run("metrics endpoint reports the probe", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		mrec := httptest.NewRecorder()
		s.Handler().ServeHTTP(mrec, req)
		if mrec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", mrec.Code)
		}
		if !bytes.Contains(mrec.Body.Bytes(), []byte("probegw_probes_total")) {
			t.Error("expected probegw_probes_total in metrics output")
		}
	})
}

// TestProbeNoResponse tests that post-connect failures stay 200 with
// success=false.
func TestProbeNoResponse(t *testing.T) {
	t.Parallel()

	// Dial succeeds and the far end accepts the request, then hangs up
	// without answering.
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			_, _ = wire.ReadFrame(server, wire.ProfileZabbix, 1<<20)
			server.Close() //nolint:errcheck
		}()
		return client, nil
	}
	s := newTestServerWithDial(t, dial, ServerOptions{})

	var resp ProbeResponse
	body := `{"host":"192.0.2.10","protocol":"zabbix","timeout_ms":2000}`
	rec := doJSON(t, s.Handler(), http.MethodPost, "/v1/probe", body, &resp)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.ErrorKind != "no-response" {
		t.Errorf("error_kind = %q, want no-response", resp.ErrorKind)
	}
	if resp.Error == "" {
		t.Error("expected error message")
	}
}

// TestStopShutsDown tests graceful shutdown returns promptly.
func TestStopShutsDown(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, ServerOptions{ShutdownTimeout: time.Second})
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
