// Package log provides a redacting slog.Handler for the probe gateway.
//
// Probe requests carry key material: SNMP community strings, RADIUS shared
// secrets, RIPv2 authentication keys, and user passwords. None of these may
// ever reach a log sink. RedactingHandler wraps any slog.Handler and masks
// attribute values whose keys or shapes indicate secrets before the record
// is emitted.
package log
