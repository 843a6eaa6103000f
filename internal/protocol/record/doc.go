// Package record owns the service description record and its flat wire form.
//
// Ownership boundary:
// - record model with tagged optional fields
// - Flatten: record -> one contiguous buffer
// - Reconstruct: buffer -> self-contained record
// - service class description codec
// - sockaddr-style address blobs
//
// Layout of a flattened record:
//
//	header (24 bytes)
//	instance name  | class id | version | comment | provider id | context
//	protocols[count]
//	query string
//	pair descriptors[count] | local0 remote0 | local1 remote1 | ...
//
// Each field is present iff its header presence bit is set. There are no
// per-field length prefixes: text runs to its terminator, fixed blocks have a
// constant size, arrays take their count from the header and address blobs
// take their length from their own descriptor. Flatten and Reconstruct walk
// the fields in exactly this order.
package record
