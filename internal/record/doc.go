// Package record defines the signed records published to relays: ed25519
// public keys, the signed record type and its relay wire encoding.
//
// A relay payload is the 64 byte signature, followed by the 8 byte big-endian
// microsecond timestamp, followed by the opaque record payload. The public
// key is not part of the payload; it is carried by the relay URL and every
// decoded payload is verified against it.
package record
