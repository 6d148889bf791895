package probe

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/wire"
)

// zabbixPingKey is the item key every agent answers without configuration.
const zabbixPingKey = "agent.ping"

// ZabbixProbe sends a passive-agent item request inside ZBXD framing.
// Agents that refuse the request still answer with ZBX_NOTSUPPORTED,
// which identifies them just as well as a "1" does.
type ZabbixProbe struct {
	broker   *gateway.Broker
	maxFrame int64
}

// ZabbixOption configures a ZabbixProbe.
type ZabbixOption func(*ZabbixProbe)

// WithZabbixMaxFrame caps the reply size read from the peer.
func WithZabbixMaxFrame(maxFrame int64) ZabbixOption {
	return func(p *ZabbixProbe) {
		if maxFrame > 0 {
			p.maxFrame = maxFrame
		}
	}
}

// NewZabbixProbe creates a Zabbix probe using the given broker.
func NewZabbixProbe(broker *gateway.Broker, opts ...ZabbixOption) *ZabbixProbe {
	p := &ZabbixProbe{
		broker:   broker,
		maxFrame: defaultMaxFrame,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protocol returns the protocol name.
func (p *ZabbixProbe) Protocol() string { return "zabbix" }

// DefaultPort returns the Zabbix trapper/agent port.
func (p *ZabbixProbe) DefaultPort() int { return 10051 }

// Network returns the transport Zabbix runs on.
func (p *ZabbixProbe) Network() string { return "tcp" }

// Probe sends agent.ping and reads the framed reply.
func (p *ZabbixProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	return run(ctx, p.broker, p, target, p.exchange)
}

func (p *ZabbixProbe) exchange(conn net.Conn, result *model.ProbeResult) error {
	if err := wire.WriteFrame(conn, []byte(zabbixPingKey+"\n"), wire.ProfileZabbix); err != nil {
		return fmt.Errorf("writing request: %w", err)
	}

	reply, err := wire.ReadFrame(conn, wire.ProfileZabbix, p.maxFrame)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}

	result.Detected = true
	body := strings.TrimSpace(decodeLatin1(reply))
	result.Banner = body
	result.SetField("reply", body)
	result.SetField("supported", !strings.HasPrefix(body, "ZBX_NOTSUPPORTED"))

	if body == "1" {
		result.AddFinding(model.Finding{
			Type:     "zabbix-open-agent",
			Title:    "Zabbix Agent Answers Unauthenticated Item Requests",
			Severity: model.SeverityMedium,
			Value:    zabbixPingKey,
		})
	}
	return nil
}
