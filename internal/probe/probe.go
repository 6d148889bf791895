package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"time"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
)

// defaultTimeout bounds a probe when the caller does not supply one.
const defaultTimeout = 10 * time.Second

// defaultMaxFrame caps declared frame lengths read from peers. Large enough
// for any legitimate portmap dump or Zabbix reply, small enough that a
// hostile length prefix cannot exhaust memory.
const defaultMaxFrame = 1 << 20

var (
	// ErrProtocol means the peer answered, but its bytes do not form a
	// valid message in the probed protocol.
	ErrProtocol = errors.New("probe: protocol violation")

	// ErrNoResponse means the exchange failed at the I/O level after the
	// connection was established: the peer closed, stalled past the
	// deadline, or the write was refused.
	ErrNoResponse = errors.New("probe: no response")
)

// Target identifies what a single probe should talk to.
type Target struct {
	// Host is an IP literal or hostname. The gateway validates it.
	Host string

	// Port is the destination port. Zero selects the module's default.
	Port int

	// Timeout bounds the whole probe: connect and exchange. Zero selects
	// a conservative default.
	Timeout time.Duration
}

// ProtocolProbe is the interface every protocol module implements.
//
// Design decision: Probe returns both a result and an error because the two
// carry different information: the result holds whatever was learned before
// the failure (connect timing, partial fields), the error classifies the
// failure for the API's status mapping. Gateway errors pass through
// unwrapped so errors.Is works against the gateway sentinels.
type ProtocolProbe interface {
	// Probe performs one exchange against the target.
	// Implementations must respect context cancellation.
	Probe(ctx context.Context, target Target) (*model.ProbeResult, error)

	// Protocol returns the protocol name (e.g., "snmp", "zabbix").
	Protocol() string

	// DefaultPort returns the default port for this protocol.
	DefaultPort() int

	// Network returns "tcp" or "udp".
	Network() string
}

// Deps carries the shared collaborators and secrets the modules need.
// Zero values select safe defaults (community "public", no RIP key).
type Deps struct {
	// Broker opens validated outbound connections. Required.
	Broker *gateway.Broker

	// Logger receives probe-level debug logs. Nil means slog.Default.
	Logger *slog.Logger

	// MaxFrameBytes caps length-prefixed frames read from peers.
	// Zero selects defaultMaxFrame.
	MaxFrameBytes int64

	// SNMPCommunity is the community string for SNMP probes.
	// Empty selects "public".
	SNMPCommunity string

	// RADIUSSecret is the shared secret for RADIUS probes.
	// Empty selects a placeholder secret; the probe still elicits a
	// response code from servers that do not know the client.
	RADIUSSecret string

	// RIPAuthKey enables the Keyed-MD5 authentication trailer on RIPv2
	// requests when non-empty.
	RIPAuthKey string

	// RIPKeyID identifies the RIP key on the wire.
	RIPKeyID uint8
}

// All returns one instance of every protocol module, wired with deps.
// The set is closed: modules register here, not at runtime.
func All(deps Deps) []ProtocolProbe {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxFrame := deps.MaxFrameBytes
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrame
	}

	return []ProtocolProbe{
		NewSNMPProbe(deps.Broker, WithSNMPCommunity(deps.SNMPCommunity), WithSNMPLogger(logger)),
		NewRADIUSProbe(deps.Broker, WithRADIUSSecret(deps.RADIUSSecret), WithRADIUSLogger(logger)),
		NewRIPv2Probe(deps.Broker, WithRIPKey(deps.RIPAuthKey, deps.RIPKeyID), WithRIPLogger(logger)),
		NewPortmapProbe(deps.Broker, WithPortmapMaxFrame(maxFrame)),
		NewZabbixProbe(deps.Broker, WithZabbixMaxFrame(maxFrame)),
		NewSTUNProbe(deps.Broker),
		NewBitcoinProbe(deps.Broker),
		NewEchoProbe(deps.Broker),
		NewDiscardProbe(deps.Broker),
		NewDaytimeProbe(deps.Broker),
		NewChargenProbe(deps.Broker),
		NewNetTimeProbe(deps.Broker),
		NewFingerProbe(deps.Broker),
	}
}

// Registry indexes modules by protocol name for the API's lookup path.
type Registry struct {
	byName map[string]ProtocolProbe
}

// NewRegistry builds a registry over All(deps).
func NewRegistry(deps Deps) *Registry {
	r := &Registry{byName: make(map[string]ProtocolProbe)}
	for _, p := range All(deps) {
		r.byName[p.Protocol()] = p
	}
	return r
}

// Lookup returns the module for the given protocol name.
func (r *Registry) Lookup(protocol string) (ProtocolProbe, bool) {
	p, ok := r.byName[protocol]
	return p, ok
}

// Protocols returns the registered protocol names in sorted order.
func (r *Registry) Protocols() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrorKind maps a probe error to the stable token used in API responses,
// CLI reports, and metrics labels. Gateway errors keep their gateway token;
// post-connect failures map to "protocol-error" or "no-response". A nil
// error maps to "".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrProtocol):
		return "protocol-error"
	case errors.Is(err, ErrNoResponse):
		return "no-response"
	default:
		return gateway.ErrorKind(err)
	}
}

// connect opens a gateway connection for the target and fills in the
// module defaults. Every module routes its dial through here so the
// validation and teardown guarantees apply uniformly.
func connect(ctx context.Context, broker *gateway.Broker, p ProtocolProbe, target Target) (*gateway.Conn, int, error) {
	port := target.Port
	if port == 0 {
		port = p.DefaultPort()
	}
	timeout := target.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if port < 0 || port > 65535 {
		return nil, port, fmt.Errorf("%w: port %d out of range", gateway.ErrInvalidRequest, port)
	}

	conn, err := broker.Connect(ctx, gateway.Request{
		Host:    target.Host,
		Port:    uint16(port),
		Network: p.Network(),
		Timeout: timeout,
	})
	return conn, port, err
}

// classifyExchangeErr wraps an exchange failure with the sentinel the API
// layer keys its error kinds off. I/O failures (closed peer, deadline)
// become ErrNoResponse; everything else is a protocol violation.
func classifyExchangeErr(err error) error {
	if err == nil {
		return nil
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrNoResponse, err)
	}
	return fmt.Errorf("%w: %w", ErrProtocol, err)
}

// run is the shared probe skeleton: connect, record timing, hand the live
// connection to the module's exchange function, classify its failure.
func run(ctx context.Context, broker *gateway.Broker, p ProtocolProbe, target Target,
	exchange func(conn net.Conn, result *model.ProbeResult) error) (*model.ProbeResult, error) {

	result := model.NewProbeResult(p.Protocol(), target.Host, target.Port)

	conn, port, err := connect(ctx, broker, p, target)
	result.Port = port
	if err != nil {
		return result, err
	}
	defer conn.Close()
	result.ConnectTimeMs = conn.ConnectTimeMs()

	if err := exchange(conn, result); err != nil {
		return result, classifyExchangeErr(err)
	}
	return result, nil
}
