// Package history provides SQLite-based storage of probe outcomes.
//
// The store is a write-only audit trail during probing: the gateway and the
// probe modules never consult it, so probes stay stateless with respect to
// one another. The CLI reads it back for the history subcommand.
package history
