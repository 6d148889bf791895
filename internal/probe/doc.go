// Package probe implements the protocol probe modules.
//
// Each module speaks one network protocol well enough to decide whether the
// remote service is alive and to extract identifying information (versions,
// banners, mapped addresses). Modules are thin state machines over a single
// gateway connection: they never dial on their own, never retry, and never
// keep state between probes.
//
// Design decision: Modules share the ProtocolProbe interface rather than a
// concrete type because:
//  1. Protocols differ too much for a common implementation
//  2. The API and CLI layers treat all modules uniformly
//  3. The exchange logic of each module is testable against an in-memory
//     connection without any gateway involvement
package probe
