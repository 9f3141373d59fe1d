// Package relay implements a relay server: an HTTP endpoint storing one
// signed record per public key under /{z-base32 key}.
//
// PUT stores the relay payload in the body when it is more recent than the
// stored record. An If-Unmodified-Since header makes the write conditional.
// GET returns the stored relay payload with its timestamp as Last-Modified
// and honors If-Modified-Since.
//
// Status codes: 409 when the stored record is at least as recent, 412 when
// the stored record changed after If-Unmodified-Since, 428 when the relay
// requires a precondition to overwrite, 413 for oversized bodies and 429
// when a client address exceeds its PUT rate.
package relay
