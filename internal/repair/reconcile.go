package repair

import (
	"net/url"

	"relaystore/internal/record"
)

// Response is one relay's answer to a read. A nil Record means the relay
// holds no record for the key.
type Response struct {
	Relay  *url.URL
	Record *record.SignedRecord
}

// ReconcileResult represents the result of reconciling relay responses.
type ReconcileResult struct {
	// Winner is the most recent record returned by any relay, nil if no
	// relay returned a record.
	Winner *record.SignedRecord

	// Stale holds the responses of relays that returned an older record
	// or no record at all, in response order.
	Stale []Response
}

// Reconcile picks the most recent record among responses. Records are
// ordered by SignedRecord.MoreRecentThan, so the result does not depend on
// the order of responses.
func Reconcile(responses []Response) ReconcileResult {
	var winner *record.SignedRecord
	for _, resp := range responses {
		if resp.Record == nil {
			continue
		}
		if winner == nil || resp.Record.MoreRecentThan(winner) {
			winner = resp.Record
		}
	}

	stale := make([]Response, 0)
	if winner == nil {
		return ReconcileResult{Stale: stale}
	}

	for _, resp := range responses {
		if resp.Record == nil || resp.Record.Signature() != winner.Signature() {
			stale = append(stale, resp)
		}
	}

	return ReconcileResult{
		Winner: winner,
		Stale:  stale,
	}
}

// IsNotFound returns true if no relay returned a record.
func (r *ReconcileResult) IsNotFound() bool {
	return r.Winner == nil
}

// NeedsRepair returns true if some relay is behind the winner.
func (r *ReconcileResult) NeedsRepair() bool {
	return r.Winner != nil && len(r.Stale) > 0
}
