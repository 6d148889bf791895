// Package report renders probe results for the CLI's one-shot and batch
// modes.
//
// Two formats are supported: JSON for tool integration and Markdown for
// human-readable summaries. The HTTP API does not use this package; it
// serializes responses directly.
package report
