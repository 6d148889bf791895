// Package model defines the core data types shared across the probe gateway:
// probe results, findings, severity levels, and host classifications.
//
// Types in this package are plain data with no I/O. They are constructed by
// the gateway and probe packages and consumed by the report, history, and
// api packages.
package model
