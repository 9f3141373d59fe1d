// Package client publishes and resolves signed records against a fixed set
// of relays.
//
// Publish sends a record to every relay and returns as soon as a majority of
// relays accepted it, or as soon as the write can no longer succeed.
// Concurrent publishes for the same key are admitted one logical write at a
// time; an identical record joins the write in flight and observes its
// decision.
//
// Resolve races a read against every relay and yields each verified record
// as it arrives. Reads are best effort: failing relays are skipped.
package client
