// Package quorum provides the majority-vote bookkeeping for publishing a
// record to a fixed set of relays. It admits at most one logical write per
// key, tallies per-relay outcomes and decides success or failure as soon as
// the outcome can no longer change.
package quorum
