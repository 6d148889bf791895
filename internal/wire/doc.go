// Package wire implements the byte-level primitives shared by every
// protocol probe: length-prefixed frame reassembly, keyed-digest
// authenticators, and a minimal BER encoder/decoder for SNMP PDUs.
//
// All functions here are pure with respect to remote input: malformed bytes
// from a peer are reported as typed error values, never as panics. Nothing
// in this package performs I/O except the frame reader/writer, which operate
// on caller-supplied io.Reader/io.Writer values.
//
// # Security Considerations
//
// Every decode path is written against a hostile peer. Declared lengths are
// checked against caller-supplied caps before allocation, truncated input is
// reported rather than read past, and BER nesting depth is bounded.
package wire
