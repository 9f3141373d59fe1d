// Package storage provides the record stores of a relay. A store keeps the
// most recent signed record per public key and enforces the conditional
// write rules relays apply: a write must be more recent than the stored
// record, and an If-Unmodified-Since precondition must still hold.
package storage
