package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/proxy"

	"github.com/probegw/probegw/internal/metrics"
)

// DialFunc opens a raw connection. The default implementation is a
// net.Dialer; tests and SOCKS-proxied deployments substitute their own.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// LookupFunc resolves a hostname to addresses. The default implementation
// is net.DefaultResolver; tests substitute a fixed table.
type LookupFunc func(ctx context.Context, host string) ([]netip.Addr, error)

// Request describes one connection attempt. Callers construct it per probe;
// the broker validates it before any I/O.
type Request struct {
	// Host is the destination as supplied by the caller: an IP literal
	// (brackets allowed for IPv6) or a hostname.
	Host string

	// Port is the destination port. Zero is invalid.
	Port uint16

	// Network is "tcp" or "udp". Empty defaults to "tcp".
	Network string

	// Timeout bounds the whole attempt: resolution, connect, and the
	// protocol exchange on the returned connection. Must be positive.
	Timeout time.Duration
}

// Conn is an owned connection handle. Exactly one owner exists (the calling
// protocol module); Close is idempotent and runs the underlying teardown
// exactly once no matter which layer detects a failure.
type Conn struct {
	net.Conn

	// ConnectTime is how long the dial took.
	ConnectTime time.Duration

	// OpenedAt is when the connection became usable.
	OpenedAt time.Time

	closeOnce sync.Once
	closeErr  error
}

// Close releases the connection. Safe to call multiple times; the
// underlying socket is closed exactly once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
	})
	return c.closeErr
}

// ConnectTimeMs returns the dial latency in milliseconds, the unit used in
// API responses.
func (c *Conn) ConnectTimeMs() float64 {
	return float64(c.ConnectTime) / float64(time.Millisecond)
}

// Broker validates destinations and opens time-bounded outbound
// connections. It holds no per-request state; one Broker serves all
// concurrent probes.
type Broker struct {
	edge    *EdgeNetworkDetector
	dial    DialFunc
	lookup  LookupFunc
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures a Broker.
type Option func(*Broker)

// WithDialFunc replaces the default net.Dialer. Used by tests and by
// SOCKS-proxied deployments via NewSOCKS5DialFunc.
func WithDialFunc(dial DialFunc) Option {
	return func(b *Broker) { b.dial = dial }
}

// WithLookupFunc replaces the default resolver.
func WithLookupFunc(lookup LookupFunc) Option {
	return func(b *Broker) { b.lookup = lookup }
}

// WithLogger sets the broker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// WithMetrics attaches a metrics recorder. A nil recorder is valid and
// records nothing.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(b *Broker) { b.metrics = rec }
}

// NewBroker creates a connection broker using the given edge detector.
func NewBroker(edge *EdgeNetworkDetector, opts ...Option) *Broker {
	var dialer net.Dialer
	b := &Broker{
		edge:   edge,
		dial:   dialer.DialContext,
		lookup: defaultLookup,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// defaultLookup resolves via the system resolver.
func defaultLookup(ctx context.Context, host string) ([]netip.Addr, error) {
	return net.DefaultResolver.LookupNetIP(ctx, "ip", host)
}

// Connect validates the destination and opens a connection within the
// request's timeout. The sequence is fixed: host validation (no I/O on
// block), resolution, edge-network detection on every resolved address,
// then a single dial attempt. On success the returned Conn carries a
// deadline covering the rest of the timeout budget, so every subsequent
// read and write on it is bounded too.
func (b *Broker) Connect(ctx context.Context, req Request) (*Conn, error) {
	network := req.Network
	if network == "" {
		network = "tcp"
	}
	if network != "tcp" && network != "udp" {
		return nil, fmt.Errorf("%w: network %q", ErrInvalidRequest, req.Network)
	}
	if req.Port == 0 {
		return nil, fmt.Errorf("%w: port 0", ErrInvalidRequest)
	}
	if req.Timeout <= 0 {
		return nil, fmt.Errorf("%w: non-positive timeout", ErrInvalidRequest)
	}

	if cls := ClassifyHost(req.Host); cls.Blocked {
		b.metrics.ObserveBlocked(cls.Reason.String())
		b.logger.Info("refused blocked host", "host", req.Host, "reason", cls.Reason.String())
		return nil, fmt.Errorf("%w: %q (%s)", ErrHostBlocked, req.Host, cls.Reason)
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	host := strings.TrimSpace(req.Host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}

	target, err := b.resolveTarget(ctx, host)
	if err != nil {
		return nil, err
	}

	if b.edge.IsEdgeNetwork(target) {
		b.metrics.ObserveBlocked("edge-network")
		b.logger.Info("refused edge network target", "host", req.Host, "resolved", target.String())
		return nil, fmt.Errorf("%w: %s resolves to %s", ErrEdgeNetworkBlocked, req.Host, target)
	}

	address := net.JoinHostPort(target.String(), strconv.Itoa(int(req.Port)))

	start := time.Now()
	raw, err := b.dial(ctx, network, address)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s after %v", ErrConnectTimeout, address, req.Timeout)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrConnectFailed, address, err)
	}
	connectTime := time.Since(start)
	b.metrics.ObserveConnect(connectTime)

	// The remaining timeout budget bounds the protocol exchange. The
	// deadline is absolute, so a stalled peer cannot extend it.
	if deadline, ok := ctx.Deadline(); ok {
		if err := raw.SetDeadline(deadline); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("%w: set deadline: %v", ErrConnectFailed, err)
		}
	}

	b.logger.Debug("connection opened",
		"address", address,
		"network", network,
		"connect_ms", float64(connectTime)/float64(time.Millisecond),
	)

	return &Conn{
		Conn:        raw,
		ConnectTime: connectTime,
		OpenedAt:    start.Add(connectTime),
	}, nil
}

// resolveTarget turns the host into a single dialable address. Hostnames go
// through DNS, and every resolved address is re-validated: a name that
// resolves into blocked space (DNS rebinding) or into an edge provider is
// refused here, before any dial.
func (b *Broker) resolveTarget(ctx context.Context, host string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.WithZone(""), nil
	}

	addrs, err := b.lookup(ctx, host)
	if err != nil {
		if isTimeout(err) {
			return netip.Addr{}, fmt.Errorf("%w: resolving %q", ErrConnectTimeout, host)
		}
		return netip.Addr{}, fmt.Errorf("%w: resolving %q: %v", ErrConnectFailed, host, err)
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("%w: %q resolved to no addresses", ErrConnectFailed, host)
	}

	for _, addr := range addrs {
		if cls := classifyAddr(addr); cls.Blocked {
			b.metrics.ObserveBlocked(cls.Reason.String())
			return netip.Addr{}, fmt.Errorf("%w: %q resolves to %s (%s)",
				ErrHostBlocked, host, addr, cls.Reason)
		}
		if b.edge.IsEdgeNetwork(addr) {
			b.metrics.ObserveBlocked("edge-network")
			return netip.Addr{}, fmt.Errorf("%w: %q resolves to %s",
				ErrEdgeNetworkBlocked, host, addr)
		}
	}

	return addrs[0].WithZone(""), nil
}

// isTimeout reports whether err is timeout-shaped: a context deadline or a
// net.Error that timed out.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

// NewSOCKS5DialFunc builds a DialFunc that tunnels TCP through a SOCKS5
// proxy. UDP cannot traverse a plain SOCKS5 stream, so UDP requests dial
// direct. Host validation and edge detection always run locally before the
// proxy sees anything.
func NewSOCKS5DialFunc(proxyAddr string) (DialFunc, error) {
	socks, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("gateway: socks5 dialer for %s: %w", proxyAddr, err)
	}

	var direct net.Dialer
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		if network != "tcp" {
			return direct.DialContext(ctx, network, address)
		}
		return dialWithContext(ctx, socks, network, address)
	}, nil
}

// dialWithContext races a context-unaware proxy.Dialer against ctx.
//
// Design decision: proxy.Dialer predates context support, so we run the
// dial in a goroutine and select on completion versus cancellation. The
// goroutine closes any connection that arrives after the caller gave up,
// keeping the open-once/close-once invariant.
func dialWithContext(ctx context.Context, dialer proxy.Dialer, network, address string) (net.Conn, error) {
	type dialResult struct {
		conn net.Conn
		err  error
	}

	resultCh := make(chan dialResult, 1)

	go func() {
		conn, err := dialer.Dial(network, address)
		resultCh <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine may still complete; close whatever it
		// produces so the socket is not leaked.
		go func() {
			if result := <-resultCh; result.conn != nil {
				_ = result.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case result := <-resultCh:
		return result.conn, result.err
	}
}
