// Package telemetry wires OpenTelemetry tracing and metrics plus the
// Prometheus registry for the moderation service.
//
// It centralises trace provider setup, records per-evaluation counters
// and latency, and annotates spans with verdict outcomes. Submitted text
// is never attached to spans or metrics; only categories and counts are.
package telemetry
