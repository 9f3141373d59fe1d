package storage

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"relaystore/internal/clock"
	"relaystore/internal/record"
)

// InMemoryStore is a bounded in-memory implementation of Store. When full,
// the least recently used record is evicted.
type InMemoryStore struct {
	// serializes check-then-add on cache
	mu    sync.Mutex
	cache *lru.Cache
	opts  Options
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an in-memory store holding at most size records.
func NewInMemoryStore(size int, opts Options) (*InMemoryStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("storage: creating cache: %w", err)
	}
	return &InMemoryStore{cache: cache, opts: opts}, nil
}

// Get retrieves the record for key.
func (s *InMemoryStore) Get(ctx context.Context, key record.PublicKey) (*record.SignedRecord, error) {
	if err := contextErr(ctx); err != nil {
		return nil, err
	}

	value, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	// records are immutable, no copy needed
	return value.(*record.SignedRecord), nil
}

// Put stores rec under its public key.
func (s *InMemoryStore) Put(ctx context.Context, rec *record.SignedRecord, cas *clock.Timestamp) error {
	if err := contextErr(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing *record.SignedRecord
	if value, ok := s.cache.Peek(rec.PublicKey()); ok {
		existing = value.(*record.SignedRecord)
	}

	stored, err := s.opts.checkPut(existing, rec, cas)
	if err != nil || stored {
		return err
	}

	s.cache.Add(rec.PublicKey(), rec)
	return nil
}

// Len returns the number of stored records.
func (s *InMemoryStore) Len() int {
	return s.cache.Len()
}

// Close drops every record.
func (s *InMemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
