package quorum

import (
	"errors"
	"fmt"
)

// Kind classifies a failed relay request or a local admission failure.
type Kind int

const (
	// KindTimeout means the relay did not answer within its budget.
	KindTimeout Kind = iota
	// KindNotMostRecent means a record at least as new is already stored or in flight.
	KindNotMostRecent
	// KindCasFailed means the compare-and-swap precondition did not hold.
	KindCasFailed
	// KindConflictRisk means a newer write raced an in-flight one without a CAS token.
	KindConflictRisk
	// KindUnclassified covers every other relay rejection.
	KindUnclassified
)

var (
	// ErrTimeout is returned when relays did not answer in time. Retryable.
	ErrTimeout = errors.New("relay request timed out")
	// ErrNotMostRecent is returned when a more recent record already exists.
	// Re-read and retry with a newer record.
	ErrNotMostRecent = errors.New("record is not more recent than the current one")
	// ErrCasFailed is returned when the CAS timestamp no longer matches.
	// Re-read the current record and retry.
	ErrCasFailed = errors.New("compare-and-swap precondition failed")
	// ErrConflictRisk is returned when a newer record is published without a
	// CAS token while an older write for the same key is in flight. Retry with
	// the in-flight record's timestamp as CAS.
	ErrConflictRisk = errors.New("conflict risk: retry with a CAS timestamp")
	// ErrUnclassified is returned when relays rejected the write for any
	// other reason (bad request, rate limited, server error).
	ErrUnclassified = errors.New("relay rejected the request")
)

// priority orders kinds for the tie-break between equally frequent errors.
var priority = []Kind{
	KindNotMostRecent,
	KindCasFailed,
	KindConflictRisk,
	KindTimeout,
	KindUnclassified,
}

// KindOf returns the kind of err. Errors that do not wrap one of the
// sentinel errors are unclassified.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrNotMostRecent):
		return KindNotMostRecent
	case errors.Is(err, ErrCasFailed):
		return KindCasFailed
	case errors.Is(err, ErrConflictRisk):
		return KindConflictRisk
	default:
		return KindUnclassified
	}
}

// Err returns the sentinel error for the kind.
func (k Kind) Err() error {
	switch k {
	case KindTimeout:
		return ErrTimeout
	case KindNotMostRecent:
		return ErrNotMostRecent
	case KindCasFailed:
		return ErrCasFailed
	case KindConflictRisk:
		return ErrConflictRisk
	default:
		return ErrUnclassified
	}
}

// IsConflict reports whether a majority of this kind proves a write can
// never succeed.
func (k Kind) IsConflict() bool {
	return k == KindNotMostRecent || k == KindCasFailed
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNotMostRecent:
		return "not_most_recent"
	case KindCasFailed:
		return "cas_failed"
	case KindConflictRisk:
		return "conflict_risk"
	default:
		return "unclassified"
	}
}

// Error is the aggregated failure of a publish decided by relay votes.
type Error struct {
	Kind   Kind
	Count  int // relays that reported Kind
	Relays int // size of the relay set
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v (%d of %d relays)", e.Kind.Err(), e.Count, e.Relays)
}

// Unwrap returns the sentinel error for the kind.
func (e *Error) Unwrap() error {
	return e.Kind.Err()
}
