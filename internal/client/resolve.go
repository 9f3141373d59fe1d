package client

import (
	"context"
	"errors"
	"iter"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"relaystore/internal/clock"
	"relaystore/internal/record"
	"relaystore/internal/repair"
	"relaystore/internal/transport"
)

// ErrNotFound is returned by ResolveMostRecent when no relay returned a record.
var ErrNotFound = errors.New("record not found on any relay")

// Resolve reads the record for key from every relay and yields each
// verified record in arrival order. When moreRecentThan is set relays
// holding nothing newer yield nothing. Relay failures are logged and
// skipped. Breaking out of the loop cancels the outstanding reads; every
// iteration of the returned sequence queries the relays again.
func (c *Client) Resolve(ctx context.Context, key record.PublicKey, moreRecentThan *clock.Timestamp) iter.Seq[*record.SignedRecord] {
	return func(yield func(*record.SignedRecord) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for res := range c.resolveEach(ctx, key, moreRecentThan) {
			if res.err != nil {
				continue
			}
			c.metrics.recordResolved(ctx)
			if !yield(res.record) {
				return
			}
		}
	}
}

// ResolveMostRecent reads the record for key from every relay and returns
// the most recent one. With read repair enabled the record is republished
// in the background to every relay that answered with an older record or
// none.
func (c *Client) ResolveMostRecent(ctx context.Context, key record.PublicKey) (*record.SignedRecord, error) {
	responses := make([]repair.Response, 0, len(c.relays))
	for res := range c.resolveEach(ctx, key, nil) {
		switch {
		case res.err == nil:
			responses = append(responses, repair.Response{Relay: res.relay, Record: res.record})
		case errors.Is(res.err, transport.ErrNotFound):
			responses = append(responses, repair.Response{Relay: res.relay})
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := repair.Reconcile(responses)
	if result.IsNotFound() {
		return nil, ErrNotFound
	}

	if c.readRepair && result.NeedsRepair() {
		c.repairer.Repair(result.Winner, result.Stale)
	}
	return result.Winner, nil
}

type resolveResult struct {
	relay  *url.URL
	record *record.SignedRecord
	err    error
}

// resolveEach starts one read per relay. The returned channel receives one
// result per relay and is closed once every relay answered or failed.
func (c *Client) resolveEach(ctx context.Context, key record.PublicKey, since *clock.Timestamp) <-chan resolveResult {
	results := make(chan resolveResult, len(c.relays))

	g := new(errgroup.Group)
	g.SetLimit(len(c.relays))
	for _, relay := range c.relays {
		g.Go(func() error {
			start := time.Now()
			rec, err := c.transport.Resolve(ctx, relay, key, since)
			c.metrics.recordRelayRequest(ctx, "GET", start, err)

			switch {
			case err == nil:
			case errors.Is(err, transport.ErrNotModified):
				c.logger.Debugf("[client] relay has nothing newer: relay=%s, key=%s", relay, key)
			default:
				c.logger.Debugf("[client] relay skipped for resolve: relay=%s, key=%s, err=%v", relay, key, err)
			}

			results <- resolveResult{relay: relay, record: rec, err: err}
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	return results
}
