package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/probegw/probegw/internal/gateway"
	"github.com/probegw/probegw/internal/model"
	"github.com/probegw/probegw/internal/wire"
)

// ONC-RPC message constants (RFC 5531).
const (
	rpcMsgCall        uint32 = 0
	rpcMsgReply       uint32 = 1
	rpcVersion        uint32 = 2
	rpcReplyAccept    uint32 = 0
	rpcAcceptOK       uint32 = 0
	rpcAuthFlavorNone uint32 = 0
)

// Portmapper program identity (RFC 1833).
const (
	portmapProgram  uint32 = 100000
	portmapVersion  uint32 = 2
	portmapProcDump uint32 = 4
)

// portmapProtoNames maps the IPPROTO values in DUMP replies to labels.
var portmapProtoNames = map[uint32]string{
	6:  "tcp",
	17: "udp",
}

// PortmapProbe asks the portmapper to dump its registered RPC programs.
// Exposed portmappers enumerate NFS, mountd, and friends, which is why
// the dump itself is reported as a finding.
type PortmapProbe struct {
	broker   *gateway.Broker
	maxFrame int64
}

// PortmapOption configures a PortmapProbe.
type PortmapOption func(*PortmapProbe)

// WithPortmapMaxFrame caps the reply size read from the peer.
func WithPortmapMaxFrame(maxFrame int64) PortmapOption {
	return func(p *PortmapProbe) {
		if maxFrame > 0 {
			p.maxFrame = maxFrame
		}
	}
}

// NewPortmapProbe creates a portmapper probe using the given broker.
func NewPortmapProbe(broker *gateway.Broker, opts ...PortmapOption) *PortmapProbe {
	p := &PortmapProbe{
		broker:   broker,
		maxFrame: defaultMaxFrame,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Protocol returns the protocol name.
func (p *PortmapProbe) Protocol() string { return "portmap" }

// DefaultPort returns the portmapper port.
func (p *PortmapProbe) DefaultPort() int { return 111 }

// Network returns the transport this probe uses.
func (p *PortmapProbe) Network() string { return "tcp" }

// Probe sends a DUMP call and parses the mapping list from the reply.
func (p *PortmapProbe) Probe(ctx context.Context, target Target) (*model.ProbeResult, error) {
	return run(ctx, p.broker, p, target, p.exchange)
}

func (p *PortmapProbe) exchange(conn net.Conn, result *model.ProbeResult) error {
	xid := randUint32()

	if err := wire.WriteFrame(conn, buildDumpCall(xid), wire.ProfileRecordMarking); err != nil {
		return fmt.Errorf("writing call: %w", err)
	}

	reply, err := wire.ReadFrame(conn, wire.ProfileRecordMarking, p.maxFrame)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	return parseDumpReply(reply, xid, result)
}

// buildDumpCall serializes the RPC call body. Everything in ONC-RPC is a
// big-endian 32-bit word; both auth structures are AUTH_NONE with no body.
func buildDumpCall(xid uint32) []byte {
	words := []uint32{
		xid,
		rpcMsgCall,
		rpcVersion,
		portmapProgram,
		portmapVersion,
		portmapProcDump,
		rpcAuthFlavorNone, 0, // credential
		rpcAuthFlavorNone, 0, // verifier
	}
	call := make([]byte, 0, 4*len(words))
	for _, w := range words {
		call = binary.BigEndian.AppendUint32(call, w)
	}
	return call
}

// parseDumpReply walks the accepted-reply envelope and the mapping list.
func parseDumpReply(reply []byte, xid uint32, result *model.ProbeResult) error {
	r := rpcReader{buf: reply}

	if got := r.uint32(); got != xid {
		return fmt.Errorf("xid mismatch")
	}
	if got := r.uint32(); got != rpcMsgReply {
		return fmt.Errorf("not a reply message")
	}
	if got := r.uint32(); got != rpcReplyAccept {
		return fmt.Errorf("call was denied")
	}

	// Verifier: flavor, then opaque body of declared length (padded to 4).
	r.uint32()
	verfLen := r.uint32()
	r.skip(int(verfLen+3) &^ 3)

	if got := r.uint32(); got != rpcAcceptOK {
		return fmt.Errorf("call not accepted: status %d", got)
	}
	if r.err != nil {
		return fmt.Errorf("truncated reply envelope")
	}

	result.Detected = true

	type mapping struct {
		Program  uint32 `json:"program"`
		Version  uint32 `json:"version"`
		Protocol string `json:"protocol"`
		Port     uint32 `json:"port"`
	}
	var mappings []mapping
	for r.uint32() != 0 {
		m := mapping{
			Program: r.uint32(),
			Version: r.uint32(),
		}
		proto := r.uint32()
		m.Port = r.uint32()
		if name, ok := portmapProtoNames[proto]; ok {
			m.Protocol = name
		} else {
			m.Protocol = fmt.Sprintf("proto-%d", proto)
		}
		if r.err != nil {
			return fmt.Errorf("truncated mapping list")
		}
		mappings = append(mappings, m)
	}
	if r.err != nil {
		return fmt.Errorf("truncated mapping list")
	}

	result.SetField("mapping_count", len(mappings))
	result.SetField("mappings", mappings)
	result.Banner = fmt.Sprintf("portmapper, %d registered programs", len(mappings))

	if len(mappings) > 0 {
		result.AddFinding(model.Finding{
			Type:     "portmap-dump",
			Title:    "Portmapper Enumerates Registered RPC Programs",
			Severity: model.SeverityLow,
			Value:    fmt.Sprintf("%d programs", len(mappings)),
		})
	}
	return nil
}

// rpcReader is a bounds-checked big-endian word reader. A short buffer
// sets err and makes every later read return zero, so callers check err
// once per section instead of after every word.
type rpcReader struct {
	buf []byte
	off int
	err error
}

func (r *rpcReader) uint32() uint32 {
	if r.err != nil || r.off+4 > len(r.buf) {
		r.err = fmt.Errorf("short buffer at offset %d", r.off)
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *rpcReader) skip(n int) {
	if r.err != nil || n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("short buffer at offset %d", r.off)
		return
	}
	r.off += n
}
