package model

// Severity represents the risk level of a probe finding.
//
// Design decision: We use iota-based constants rather than string constants
// for efficiency in comparisons and sorting. The String() method provides
// human-readable output when needed.
type Severity int

const (
	// SeverityInfo indicates informational findings with no direct security impact.
	// Examples: protocol version banners, advertised capabilities.
	SeverityInfo Severity = iota

	// SeverityLow indicates minor issues with limited impact.
	// Examples: legacy protocol enabled (chargen, finger), verbose banners.
	SeverityLow

	// SeverityMedium indicates moderate issues that warrant attention.
	// Examples: SNMP answering with a default community string,
	// RPC portmapper dumping its full registration table.
	SeverityMedium

	// SeverityHigh indicates serious issues.
	// Examples: RADIUS accepting requests without Message-Authenticator,
	// unauthenticated RIPv2 route updates accepted.
	SeverityHigh

	// SeverityCritical indicates issues that allow immediate compromise.
	// Examples: a writable SNMP community, an open amplification vector.
	SeverityCritical
)

// String returns a human-readable representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}
