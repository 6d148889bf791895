package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Default configuration values.
// These values are chosen for probing arbitrary, possibly slow or hostile
// remote hosts over the public internet.
const (
	// DefaultListenAddress is where the HTTP API listens. Loopback by
	// default: the gateway makes outbound connections on behalf of its
	// callers and should not be exposed unauthenticated.
	DefaultListenAddress = "127.0.0.1:8742"

	// DefaultTimeout bounds a single connection attempt plus the protocol
	// exchange. 10 seconds is generous for any of the supported protocols;
	// callers override it per request.
	DefaultTimeout = 10 * time.Second

	// DefaultMaxFrameBytes caps the declared length a remote peer may claim
	// in a length-prefixed frame. 4MB comfortably covers every supported
	// protocol (portmapper dumps, Zabbix responses) while bounding the
	// memory a hostile peer can make us allocate.
	DefaultMaxFrameBytes = 4 * 1024 * 1024

	// DefaultBatchSize of 10 concurrent probes balances throughput with
	// socket usage when the CLI is given multiple targets.
	DefaultBatchSize = 10

	// AppName is the application name used for XDG directory paths.
	AppName = "probegw"
)

// Config holds all configuration options for the probe gateway.
// This struct is populated from CLI flags and the optional YAML file and
// passed through the application via dependency injection rather than
// global state.
//
// Design decision: We use a single flat struct instead of nested structs
// (e.g., GatewayConfig, APIConfig) for simplicity. The number of options
// is manageable, and nesting would add complexity without significant benefit.
type Config struct {
	// ListenAddress is the HTTP API listen address in "host:port" format.
	ListenAddress string

	// Timeout is the default per-probe timeout applied when a request does
	// not carry its own. It bounds connect plus the protocol exchange.
	Timeout time.Duration

	// MaxFrameBytes caps the declared payload length accepted when reading
	// length-prefixed frames from remote peers.
	MaxFrameBytes int64

	// Verbose enables detailed log output using slog.LevelDebug.
	// When false, only warnings and errors are logged.
	Verbose bool

	// BatchSize is the number of concurrent probes when the CLI processes
	// multiple targets.
	BatchSize int

	// ConfigFilePath is the path to the configuration file.
	// If empty, the tool searches for .probegw in the current directory
	// and then in the user's home directory.
	ConfigFilePath string

	// EdgeNetworks is the anycast edge provider CIDR table consulted by the
	// gateway after DNS resolution. Populated from the config file; when
	// empty, the compiled-in default table is used. Treated as immutable
	// after startup; updating it is a config-change-and-restart event.
	EdgeNetworks []string

	// UpstreamProxy is an optional SOCKS5 proxy address for outbound
	// connections ("host:port"). Empty means direct dialing. Host
	// validation and edge detection always run locally regardless.
	UpstreamProxy string

	// HistoryDir is the directory for the SQLite probe-history database.
	// When set, probe outcomes are recorded for later inspection. History
	// is write-only during probes; no probe ever reads it.
	HistoryDir string

	// SaveHistory indicates whether to record probe outcomes.
	// Automatically true when HistoryDir is configured.
	SaveHistory bool

	// JSONReport enables JSON output for CLI one-shot probes.
	// Mutually exclusive with MarkdownReport.
	JSONReport bool

	// MarkdownReport enables Markdown output for CLI one-shot probes.
	// Mutually exclusive with JSONReport.
	MarkdownReport bool

	// ReportFile is the output file path for CLI reports.
	// When empty, reports are written to stdout.
	ReportFile string

	// Targets is the list of host[:port] targets for CLI one-shot probes.
	Targets []string

	// Protocol is the protocol module to run for CLI one-shot probes.
	Protocol string

	// SNMPCommunity is the community string sent in SNMP probes.
	// Empty selects the module default ("public").
	SNMPCommunity string

	// RADIUSSecret is the shared secret for RADIUS Access-Request probes.
	RADIUSSecret string

	// RIPAuthKey is the keyed-MD5 authentication key for RIPv2 probes.
	// Empty sends unauthenticated requests.
	RIPAuthKey string

	// RIPKeyID identifies the RIPAuthKey on the wire.
	RIPKeyID uint8
}

// NewConfig creates a new Config with default values.
// All fields are set to safe, sensible defaults that work for most use cases.
// Users can override specific values after creation.
//
// Design decision: We use a constructor function instead of relying on
// zero values because many defaults are non-zero (e.g., timeout, listen
// address). This also serves as documentation of what the defaults are.
func NewConfig() *Config {
	return &Config{
		ListenAddress: DefaultListenAddress,
		Timeout:       DefaultTimeout,
		MaxFrameBytes: DefaultMaxFrameBytes,
		BatchSize:     DefaultBatchSize,
	}
}

// XDGDataDir returns the XDG data directory for the probe gateway.
// On Linux: ~/.local/share/probegw
// On macOS: ~/Library/Application Support/probegw
// On Windows: %LOCALAPPDATA%\probegw
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for the probe gateway.
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns a specific error describing what is invalid.
//
// Design decision: We validate at the config level rather than at each
// point of use to fail fast and provide clear error messages upfront.
// We return the first error found rather than collecting all errors
// because fixing one error often makes others irrelevant.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return ErrNoListenAddress
	}

	// Timeout must be positive; zero timeout would cause immediate failures
	if c.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	// MaxFrameBytes must be positive or the frame reader rejects everything
	if c.MaxFrameBytes <= 0 {
		return ErrInvalidMaxFrameBytes
	}

	// BatchSize must be positive; zero would mean no probing
	if c.BatchSize <= 0 {
		return ErrInvalidBatchSize
	}

	// JSONReport and MarkdownReport are mutually exclusive
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}

	return nil
}
