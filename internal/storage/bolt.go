package storage

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"relaystore/internal/clock"
	"relaystore/internal/record"
)

const (
	boltFileMode   os.FileMode = 0o600
	boltBucketName             = "records"
)

var boltTimeout = 5 * time.Second

// BoltStore is a Store persisted in a bbolt database file.
type BoltStore struct {
	db     *bbolt.DB
	bucket []byte
	opts   Options
	closed atomic.Bool
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string, opts Options) (*BoltStore, error) {
	db, err := bbolt.Open(path, boltFileMode, &bbolt.Options{Timeout: boltTimeout})
	if err != nil {
		return nil, fmt.Errorf("storage: opening boltdb: %w", err)
	}

	bucket := []byte(boltBucketName)
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucket)
		return e
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: initializing boltdb bucket: %w", err)
	}

	return &BoltStore{db: db, bucket: bucket, opts: opts}, nil
}

// Get retrieves the record for key.
func (s *BoltStore) Get(ctx context.Context, key record.PublicKey) (*record.SignedRecord, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	if err := contextErr(ctx); err != nil {
		return nil, err
	}

	var rec *record.SignedRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		rec, err = s.get(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Put stores rec under its public key. The check and the write happen in
// one transaction.
func (s *BoltStore) Put(ctx context.Context, rec *record.SignedRecord, cas *clock.Timestamp) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	if err := contextErr(ctx); err != nil {
		return err
	}

	key := rec.PublicKey()
	return s.db.Update(func(tx *bbolt.Tx) error {
		existing, err := s.get(tx, key)
		if err != nil {
			return err
		}

		stored, err := s.opts.checkPut(existing, rec, cas)
		if err != nil || stored {
			return err
		}

		return tx.Bucket(s.bucket).Put(key.Bytes(), encodeRecord(rec))
	})
}

// Len returns the number of stored records.
func (s *BoltStore) Len() int {
	if s.closed.Load() {
		return 0
	}
	var n int
	_ = s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	})
	return n
}

// Close closes the database. The file is kept.
func (s *BoltStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *BoltStore) get(tx *bbolt.Tx, key record.PublicKey) (*record.SignedRecord, error) {
	bucket := tx.Bucket(s.bucket)
	if bucket == nil {
		return nil, fmt.Errorf("storage: bucket %q missing", s.bucket)
	}
	raw := bucket.Get(key.Bytes())
	if raw == nil {
		return nil, nil
	}
	rec, err := decodeRecord(key, raw)
	if err != nil {
		return nil, fmt.Errorf("storage: decoding record %s: %w", key, err)
	}
	return rec, nil
}

func (s *BoltStore) ensureOpen() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return nil
}
