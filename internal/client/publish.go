package client

import (
	"context"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"relaystore/internal/clock"
	"relaystore/internal/quorum"
	"relaystore/internal/record"
)

// Publish writes rec to the relays and returns once the write is decided:
// nil when a majority of relays accepted it, otherwise an error wrapping one
// of the quorum sentinels. When cas is set every relay only applies the write
// if its stored record is not newer than cas.
//
// Admission failures (quorum.ErrNotMostRecent, quorum.ErrConflictRisk,
// quorum.ErrCasFailed against a write in flight) are returned before any
// relay is contacted.
//
// Publish does not wait for relays beyond the decision. If ctx ends before
// the decision, Publish returns ctx.Err(). In both cases the relay requests
// keep running to their own deadlines, so that publishes joined to the same
// write still observe a decision.
func (c *Client) Publish(ctx context.Context, rec *record.SignedRecord, cas *clock.Timestamp) error {
	ticket, err := c.registry.StartRequest(rec, cas)
	if err != nil {
		c.logger.Debugf("[client] publish rejected: key=%s, ts=%s, err=%v", rec.PublicKey(), rec.Timestamp(), err)
		c.metrics.recordPublish(ctx, quorum.KindOf(err).String())
		return err
	}

	if ticket.Duplicate() {
		c.logger.Debugf("[client] publish joined in-flight write: key=%s, ts=%s", rec.PublicKey(), rec.Timestamp())
	} else {
		c.fanOut(ctx, ticket, rec, cas)
	}

	select {
	case <-ticket.Done():
		err := ticket.Err()
		c.metrics.recordPublish(ctx, outcome(err))
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fanOut sends rec to every relay and feeds the outcomes to ticket. It does
// not wait for the requests: each runs to its own deadline, and results
// arriving after the decision are ignored by the ticket.
func (c *Client) fanOut(ctx context.Context, ticket *quorum.Ticket, rec *record.SignedRecord, cas *clock.Timestamp) {
	requestID := uuid.NewString()
	relayCtx := context.WithoutCancel(ctx)

	c.logger.Debugf("[client] publish: key=%s, ts=%s, cas=%v, relays=%d, request_id=%s",
		rec.PublicKey(), rec.Timestamp(), cas, len(c.relays), requestID)

	g := new(errgroup.Group)
	g.SetLimit(len(c.relays))
	for _, relay := range c.relays {
		g.Go(func() error {
			c.publishTo(relayCtx, ticket, relay, rec, cas, requestID)
			return nil
		})
	}
}

func (c *Client) publishTo(ctx context.Context, ticket *quorum.Ticket, relay *url.URL, rec *record.SignedRecord, cas *clock.Timestamp, requestID string) {
	start := time.Now()
	err := c.transport.Publish(ctx, relay, rec, cas, requestID)
	c.metrics.recordRelayRequest(ctx, "PUT", start, err)

	if err != nil {
		c.logger.Debugf("[client] relay rejected publish: relay=%s, key=%s, kind=%s, err=%v",
			relay, rec.PublicKey(), quorum.KindOf(err), err)
	}

	if decided, result := ticket.AddResult(err); decided {
		c.logger.Debugf("[client] publish decided: key=%s, ts=%s, err=%v, request_id=%s",
			rec.PublicKey(), rec.Timestamp(), result, requestID)
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return quorum.KindOf(err).String()
}
