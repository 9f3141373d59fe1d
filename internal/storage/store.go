package storage

import (
	"context"
	"errors"

	"relaystore/internal/clock"
	"relaystore/internal/record"
)

var (
	// ErrNotFound is returned when no record is stored for a key.
	ErrNotFound = errors.New("record not found")
	// ErrNotMostRecent is returned when the stored record is at least as recent.
	ErrNotMostRecent = errors.New("stored record is more recent")
	// ErrCasFailed is returned when the stored record changed after the CAS timestamp.
	ErrCasFailed = errors.New("stored record modified since cas")
	// ErrCasRequired is returned when overwriting without a CAS timestamp is not allowed.
	ErrCasRequired = errors.New("cas required to overwrite")
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// Store defines the interface for relay record storage.
type Store interface {
	// Get returns the record stored for key, or ErrNotFound.
	Get(ctx context.Context, key record.PublicKey) (*record.SignedRecord, error)
	// Put stores rec if it passes the conditional write rules. Storing the
	// record already stored succeeds without a write.
	Put(ctx context.Context, rec *record.SignedRecord, cas *clock.Timestamp) error
	// Len returns the number of stored records.
	Len() int
	// Close releases the store.
	Close() error
}

// Options configures the write rules of a store.
type Options struct {
	// RequireCAS rejects overwriting a stored record without a CAS timestamp.
	RequireCAS bool
}

// checkPut applies the write rules to rec against the stored record.
// It returns true when rec is already stored.
func (o Options) checkPut(existing, rec *record.SignedRecord, cas *clock.Timestamp) (bool, error) {
	if existing == nil {
		return false, nil
	}
	if existing.Signature() == rec.Signature() {
		return true, nil
	}
	if !rec.MoreRecentThan(existing) {
		return false, ErrNotMostRecent
	}
	if cas != nil {
		// HTTP dates carry whole seconds
		if existing.Timestamp().Truncate() > cas.Truncate() {
			return false, ErrCasFailed
		}
		return false, nil
	}
	if o.RequireCAS {
		return false, ErrCasRequired
	}
	return false, nil
}

func contextErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
