package report

import (
	"io"

	"github.com/probegw/probegw/internal/model"
)

// Entry pairs a probe result with its failure classification. ErrorKind is
// the stable token ("host-blocked", "no-response", ...) or empty for a
// clean probe; Err is the human-readable message.
type Entry struct {
	// Result is the probe outcome, always present.
	Result *model.ProbeResult `json:"result"`

	// ErrorKind classifies the failure. Empty means success.
	ErrorKind string `json:"error_kind,omitempty"`

	// Err is the failure message. Empty means success.
	Err string `json:"error,omitempty"`
}

// Writer defines the interface for report output.
// Implementations write probe results in various formats.
//
// Design decision: We use an interface to allow different output formats
// and destinations. This enables writing to files, stdout, or network
// connections with the same API.
type Writer interface {
	// Write outputs the entries to the configured destination.
	// Returns the number of bytes written and any error encountered.
	Write(entries []Entry) (int, error)
}

// MultiWriter writes to multiple Writers simultaneously.
// This is useful for outputting to both terminal and file.
//
// Design decision: We implement this as a separate type rather than
// using io.MultiWriter because our Writer interface is different
// from io.Writer - we write reports, not raw bytes.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write outputs the entries to all configured Writers.
// Returns the total bytes written across all writers.
// Stops on first error encountered.
func (m *MultiWriter) Write(entries []Entry) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(entries)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Summary aggregates a batch of entries for the report header.
type Summary struct {
	// Total is the number of probes in the batch.
	Total int `json:"total"`

	// Detected is how many probes found a live service.
	Detected int `json:"detected"`

	// Blocked is how many probes were refused by host or edge validation.
	Blocked int `json:"blocked"`

	// Failed is how many probes failed for network or protocol reasons.
	Failed int `json:"failed"`

	// Findings counts findings across all results by severity label.
	Findings map[string]int `json:"findings,omitempty"`
}

// Summarize computes batch statistics over the entries.
func Summarize(entries []Entry) Summary {
	s := Summary{Findings: make(map[string]int)}
	for _, e := range entries {
		s.Total++
		switch e.ErrorKind {
		case "":
			// Clean probe, detected or not.
		case "host-blocked", "edge-network-blocked":
			s.Blocked++
		default:
			s.Failed++
		}
		if e.Result == nil {
			continue
		}
		if e.Result.Detected {
			s.Detected++
		}
		for _, f := range e.Result.Findings {
			s.Findings[f.Severity.String()]++
		}
	}
	return s
}

// baseWriter provides common functionality for report writers.
type baseWriter struct {
	output io.Writer
}

// newBaseWriter creates a baseWriter with the given output destination.
func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}
