// Package repair reconciles the records returned by several relays for one
// key. It picks the most recent record and identifies the relays that
// answered with an older record, or none, so they can be read-repaired.
package repair
