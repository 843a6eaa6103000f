// Package session moves directory messages over a connection.
//
// Ownership boundary:
// - per-direction deadlines around each frame
// - record and class payloads through the record codec
// - ack and lookup payloads through schema
// - retry/backoff for dialing peers
// - transfer and codec metrics
package session
