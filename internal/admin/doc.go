// Package admin serves the read-only HTTP surface of a directory server:
// health, Prometheus metrics and JSON views of the registry.
//
// Ownership boundary:
//   - routes, CORS and request logging for the admin listener
//   - JSON rendering of registry entries
//   - no writes: publishing goes through the directory wire protocol
package admin
