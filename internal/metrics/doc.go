// Package metrics exposes Prometheus instrumentation for the probe gateway:
// probe outcome counters, security-block counters by reason, and a connect
// latency histogram. A Recorder wraps a registry so tests can use isolated
// registries instead of the process-global default.
package metrics
