// Package directory serves and queries published service records over TCP.
//
// Ownership boundary:
// - accept loop, per-connection request loop, shutdown of live connections
// - mapping decode and registry failures onto rejected acks
// - client dial with retry/backoff and request/response pairing
//
// A connection carries one request at a time. Transfer failures close it;
// decode failures are answered and the connection stays open.
package directory
