package model

import "time"

// BlockReason classifies why HostValidator rejected (or did not reject)
// a host string. ReasonNone is the only value paired with Blocked=false.
type BlockReason int

const (
	// ReasonNone means the host is allowed.
	ReasonNone BlockReason = iota

	// ReasonLoopback covers 127.0.0.0/8 and ::1.
	ReasonLoopback

	// ReasonPrivateRange covers RFC 1918 space (10/8, 172.16/12, 192.168/16).
	ReasonPrivateRange

	// ReasonLinkLocal covers 169.254.0.0/16 and fe80::/10.
	ReasonLinkLocal

	// ReasonCGNAT covers the carrier-grade NAT range 100.64.0.0/10.
	ReasonCGNAT

	// ReasonReserved covers 0.0.0.0, 255.255.255.255, 192.0.0.0/29, and ::.
	ReasonReserved

	// ReasonULA covers IPv6 unique local addresses, fc00::/7.
	ReasonULA

	// ReasonHostname covers blocked hostnames such as *.internal and
	// metadata.google.internal.
	ReasonHostname

	// ReasonEmpty means the input was empty or whitespace-only.
	ReasonEmpty
)

// String returns the reason as a stable lowercase token, suitable for
// metrics labels and API error fields.
func (r BlockReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonLoopback:
		return "loopback"
	case ReasonPrivateRange:
		return "private-range"
	case ReasonLinkLocal:
		return "link-local"
	case ReasonCGNAT:
		return "cgnat"
	case ReasonReserved:
		return "reserved"
	case ReasonULA:
		return "ula"
	case ReasonHostname:
		return "hostname"
	case ReasonEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// HostClassification is the outcome of validating a host string.
// It is derived purely from the input and recomputed per call; no
// classification is ever cached across requests.
type HostClassification struct {
	// Blocked reports whether outbound connections to this host are refused.
	Blocked bool

	// Reason explains the block. ReasonNone when Blocked is false.
	Reason BlockReason
}

// Finding represents a noteworthy observation from a protocol probe.
type Finding struct {
	// Type is the finding type identifier for categorization.
	Type string `json:"type"`

	// Title is a short description of the finding.
	Title string `json:"title"`

	// Description provides detailed information about the finding.
	Description string `json:"description,omitempty"`

	// Severity indicates the risk level.
	Severity Severity `json:"severity"`

	// Value contains the specific value found (e.g., a banner string).
	Value string `json:"value,omitempty"`
}

// ProbeResult contains the outcome of one protocol probe against one target.
// It aggregates detection status, timing, and protocol-specific fields.
//
// Design decision: We use a generic result type rather than protocol-specific
// results because the API and report layers need a uniform way to collect
// results; protocol-specific data goes in the Fields map.
type ProbeResult struct {
	// Protocol is the probed protocol (e.g., "snmp", "zabbix").
	Protocol string `json:"protocol"`

	// Host is the target host as supplied by the caller.
	Host string `json:"host"`

	// Port is the port that was probed.
	Port int `json:"port"`

	// Detected indicates whether the service responded in-protocol.
	Detected bool `json:"detected"`

	// Banner contains any banner or version information returned.
	Banner string `json:"banner,omitempty"`

	// ConnectTimeMs is the time taken to establish the connection,
	// in milliseconds. Zero when the connection was never opened.
	ConnectTimeMs float64 `json:"connect_time_ms,omitempty"`

	// StartedAt is when the probe began.
	StartedAt time.Time `json:"started_at"`

	// Findings contains observations from this probe.
	Findings []Finding `json:"findings,omitempty"`

	// Fields contains protocol-specific additional data.
	Fields map[string]any `json:"fields,omitempty"`
}

// NewProbeResult creates a ProbeResult with initialized maps.
// This ensures Fields is never nil, avoiding nil map writes in probe modules.
func NewProbeResult(protocol, host string, port int) *ProbeResult {
	return &ProbeResult{
		Protocol:  protocol,
		Host:      host,
		Port:      port,
		StartedAt: time.Now(),
		Findings:  make([]Finding, 0),
		Fields:    make(map[string]any),
	}
}

// AddFinding appends a finding, tolerating a nil slice.
func (r *ProbeResult) AddFinding(f Finding) {
	if r.Findings == nil {
		r.Findings = make([]Finding, 0)
	}
	r.Findings = append(r.Findings, f)
}

// SetField stores a protocol-specific value, tolerating a nil map.
func (r *ProbeResult) SetField(key string, value any) {
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[key] = value
}

// GetField retrieves a protocol-specific value, or nil when absent.
func (r *ProbeResult) GetField(key string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[key]
}
