package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrNoListenAddress is returned when the HTTP listen address is empty.
	ErrNoListenAddress = errors.New("no listen address: provide host:port via --listen or the config file")

	// ErrInvalidTimeout is returned when the timeout is not positive.
	// A timeout of zero or negative would cause immediate connection failures.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidMaxFrameBytes is returned when the frame length cap is not
	// positive. A non-positive cap would reject every inbound frame.
	ErrInvalidMaxFrameBytes = errors.New("invalid max frame bytes: must be positive")

	// ErrInvalidBatchSize is returned when the batch size is not positive.
	// A batch size of zero would mean no concurrent probes at all.
	ErrInvalidBatchSize = errors.New("invalid batch size: must be positive")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrInvalidEdgeNetwork is returned when an edge_networks entry in the
	// config file does not parse as a CIDR prefix.
	ErrInvalidEdgeNetwork = errors.New("invalid edge network entry: must be CIDR notation")
)
