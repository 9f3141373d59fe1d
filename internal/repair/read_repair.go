package repair

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relaystore/internal/clock"
	"relaystore/internal/log"
	"relaystore/internal/record"
)

// Publisher writes a record to a single relay.
type Publisher interface {
	Publish(ctx context.Context, relay *url.URL, rec *record.SignedRecord, cas *clock.Timestamp, requestID string) error
}

// ReadRepairer republishes the most recent record to stale relays.
type ReadRepairer struct {
	publisher Publisher
	timeout   time.Duration
	logger    *log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewReadRepairer creates a new read repairer. timeout bounds one repair
// round across every stale relay.
func NewReadRepairer(publisher Publisher, timeout time.Duration, logger *log.Logger) *ReadRepairer {
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	if logger == nil {
		logger = log.DiscardLogger
	}
	return &ReadRepairer{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

// Repair asynchronously writes winner to every stale relay.
// Failures are logged, never retried.
// A relay that returned an older record is only overwritten while it
// still holds that record.
func (r *ReadRepairer) Repair(winner *record.SignedRecord, stale []Response) {
	if winner == nil || len(stale) == 0 {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.logger.Debugf("[repair] skipped for key=%s: repairer closed", winner.PublicKey())
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if err := recover(); err != nil {
				r.logger.Errorf("[repair] panic for key=%s: %v", winner.PublicKey(), err)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		key := winner.PublicKey()
		requestID := uuid.NewString()
		r.logger.Debugf("[repair] triggered for key=%s: %d stale relays, request_id=%s", key, len(stale), requestID)

		var (
			mu       sync.Mutex
			repaired int
			failed   int
		)

		g := new(errgroup.Group)
		g.SetLimit(len(stale))
		for _, resp := range stale {
			g.Go(func() error {
				var cas *clock.Timestamp
				if resp.Record != nil {
					ts := resp.Record.Timestamp()
					cas = &ts
				}

				err := r.publisher.Publish(ctx, resp.Relay, winner, cas, requestID)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					r.logger.Debugf("[repair] failed for relay=%s key=%s: %v", resp.Relay, key, err)
					failed++
				} else {
					repaired++
				}
				return nil
			})
		}
		_ = g.Wait()

		r.logger.Debugf("[repair] completed for key=%s: %d repaired, %d failed", key, repaired, failed)
	}()
}

// Wait blocks until every repair started so far has finished.
func (r *ReadRepairer) Wait() {
	r.wg.Wait()
}

// Close stops accepting repairs and waits for the running ones. Repair
// calls after Close are dropped.
func (r *ReadRepairer) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()
}
