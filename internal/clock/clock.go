package clock

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/atomic"
)

// Timestamp is the number of microseconds since the Unix epoch.
type Timestamp uint64

// last is the most recent timestamp handed out by Now.
var last = atomic.NewUint64(0)

// Now returns the current time as a Timestamp. Successive calls within one
// process always return strictly increasing values, even if the wall clock
// stalls or steps backwards.
func Now() Timestamp {
	for {
		prev := last.Load()
		next := uint64(time.Now().UnixMicro())
		if next <= prev {
			next = prev + 1
		}
		if last.CompareAndSwap(prev, next) {
			return Timestamp(next)
		}
	}
}

// FromTime converts a wall clock time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time returns the timestamp as a UTC time.Time.
func (ts Timestamp) Time() time.Time {
	return time.UnixMicro(int64(ts)).UTC()
}

// CompareResult represents the result of comparing two timestamps.
type CompareResult int

const (
	// Before indicates this timestamp is older than the other.
	Before CompareResult = iota
	// After indicates this timestamp is newer than the other.
	After
	// Equal indicates both timestamps are the same.
	Equal
)

// String returns a string representation of the comparison result.
func (c CompareResult) String() string {
	switch c {
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "equal"
	}
}

// Compare compares two timestamps.
func (ts Timestamp) Compare(other Timestamp) CompareResult {
	switch {
	case ts < other:
		return Before
	case ts > other:
		return After
	default:
		return Equal
	}
}

// After returns true if ts is strictly newer than other.
func (ts Timestamp) After(other Timestamp) bool {
	return ts.Compare(other) == After
}

// Truncate drops the sub-second part of the timestamp. HTTP dates only carry
// whole seconds, so conditional request checks compare truncated values.
func (ts Timestamp) Truncate() Timestamp {
	return ts - ts%Timestamp(time.Second/time.Microsecond)
}

// HTTPDate formats the timestamp as an RFC 7231 HTTP-date.
func (ts Timestamp) HTTPDate() string {
	return ts.Time().Format(http.TimeFormat)
}

// ParseHTTPDate parses an HTTP-date header value into a Timestamp.
func ParseHTTPDate(value string) (Timestamp, error) {
	t, err := http.ParseTime(value)
	if err != nil {
		return 0, fmt.Errorf("invalid HTTP date %q: %w", value, err)
	}
	return FromTime(t), nil
}

// Parse accepts either a decimal microsecond count or an RFC 3339 time.
func Parse(value string) (Timestamp, error) {
	if micros, err := strconv.ParseUint(value, 10, 64); err == nil {
		return Timestamp(micros), nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: expected microseconds or RFC 3339", value)
	}
	return FromTime(t), nil
}

// String returns the decimal microsecond count.
func (ts Timestamp) String() string {
	return strconv.FormatUint(uint64(ts), 10)
}
