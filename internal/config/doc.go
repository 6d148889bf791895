// Package config holds the runtime configuration for the probe gateway.
//
// Configuration flows in one direction: CLI flags and an optional YAML file
// are merged into a Config at startup, Validate() runs once, and the result
// is passed down via dependency injection. Nothing in this package is mutated
// after startup; in particular the edge-network CIDR table is loaded once and
// treated as immutable for the life of the process.
package config
