// Package timing provides correlation-ID propagation, adaptively derived
// session timeouts, exponential-backoff retry delay, and the in-process
// metrics registry shared by the session engine, dispatcher, and MQTT
// bridge.
//
// The timeout formulas and retry policy are a direct port of the measured
// p99-ACK-latency model used during the device's original protocol
// reverse-engineering: every duration is derived from a single measured
// constant rather than hand-tuned per timeout.
package timing
