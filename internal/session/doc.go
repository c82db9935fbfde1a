// Package session implements the per-connection engine for the device TLS
// endpoint: the handshake/probe/heartbeat state machine, at-most-once
// command delivery with ACK-driven retries, and deduplication of
// device-initiated retransmissions.
//
// A Session owns exactly one net.Conn. Its Reader is single-threaded;
// between sessions, reads and handlers run concurrently under the Server's
// connection pool.
package session
