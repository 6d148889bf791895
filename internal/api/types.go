package api

import (
	"time"

	"github.com/probegw/probegw/internal/model"
)

// Public JSON types for the API. They are decoupled from the internal model
// types so internal refactors never break clients.

// ProbeRequest is the payload for POST /v1/probe.
type ProbeRequest struct {
	// Host is the target hostname or IP literal. Required.
	Host string `json:"host"`

	// Port is the target port. Zero selects the protocol's default.
	Port int `json:"port,omitempty"`

	// Protocol names the probe module to run. Required.
	Protocol string `json:"protocol"`

	// TimeoutMS bounds the whole probe. Zero selects the server default.
	TimeoutMS int `json:"timeout_ms,omitempty"`
}

// ProbeResponse is the payload returned by POST /v1/probe.
type ProbeResponse struct {
	Success       bool            `json:"success"`
	Protocol      string          `json:"protocol"`
	Host          string          `json:"host"`
	Port          int             `json:"port"`
	Detected      bool            `json:"detected"`
	ConnectTimeMS float64         `json:"connect_time_ms"`
	Banner        string          `json:"banner,omitempty"`
	Fields        map[string]any  `json:"fields,omitempty"`
	Findings      []model.Finding `json:"findings,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	RequestID     string          `json:"request_id"`
}

// ProtocolsResponse is the payload for GET /v1/protocols.
type ProtocolsResponse struct {
	Protocols []ProtocolInfo `json:"protocols"`
}

// ProtocolInfo describes one registered probe module.
type ProtocolInfo struct {
	Name        string `json:"name"`
	DefaultPort int    `json:"default_port"`
	Network     string `json:"network"`
}

// APIError is the standard error payload.
type APIError struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// TimeNow abstracts time for tests; overridden in tests.
var TimeNow = func() time.Time { return time.Now() }
