// Package transport performs single HTTP requests against one relay and maps
// every outcome onto the closed quorum error taxonomy.
//
// A relay stores at most one signed record per public key under
// {relay}/{z-base32 key}. Writes are conditional PUTs carrying the relay
// payload (signature, big-endian microsecond timestamp, payload); reads are
// optionally conditional GETs whose body is verified against the requested
// key before it is returned.
package transport
