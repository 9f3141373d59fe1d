// Package clock provides the microsecond timestamps that order signed
// records. Timestamps are compared to decide which of two writes to the
// same key is more recent, and are carried over HTTP as conditional
// request dates.
package clock
