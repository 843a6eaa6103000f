// Package registry persists published service records and classes.
//
// Ownership boundary:
// - keyed storage of flattened records and classes in pebble
// - registration ids that survive re-registration of the same key
// - lookup by class, by class and instance name, or everything
//
// Stored values are a 20-byte ksuid followed by the flattened structure.
package registry
