package quorum

import (
	"sync"

	"relaystore/internal/clock"
	"relaystore/internal/record"
)

// Majority returns the number of relays out of n needed for a decision.
func Majority(n int) int {
	return n/2 + 1
}

// Registry tracks the in-flight publish for every key. It is shared by all
// publish calls of a client; every state transition happens under one mutex
// and no I/O is performed while holding it.
type Registry struct {
	mu       sync.Mutex
	relays   int
	majority int
	entries  map[record.PublicKey]*entry
}

// entry is the vote tally for one admitted write.
type entry struct {
	record    *record.SignedRecord
	successes int
	errors    map[Kind]int
	reported  int
	done      chan struct{}
	err       error
}

// NewRegistry creates a registry for a relay set of the given size.
func NewRegistry(relays int) *Registry {
	return &Registry{
		relays:   relays,
		majority: Majority(relays),
		entries:  make(map[record.PublicKey]*entry),
	}
}

// Relays returns the relay set size the registry decides over.
func (r *Registry) Relays() int {
	return r.relays
}

// Majority returns the number of votes needed for a decision.
func (r *Registry) Majority() int {
	return r.majority
}

// Len returns the number of keys with a write in flight.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Ticket is a caller's handle on the in-flight write it was admitted to.
// Callers that join an existing write share its entry and its decision.
type Ticket struct {
	registry  *Registry
	key       record.PublicKey
	entry     *entry
	duplicate bool
}

// StartRequest admits rec for publishing. If no write is in flight for the
// record's key a new one is started. An identical record joins the write in
// flight. A different record is rejected unless it is more recent and cas
// names the timestamp of the in-flight record, in which case it joins the
// in-flight write without replacing it.
func (r *Registry) StartRequest(rec *record.SignedRecord, cas *clock.Timestamp) (*Ticket, error) {
	key := rec.PublicKey()

	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.entries[key]
	if !exists {
		current = &entry{
			record: rec,
			errors: make(map[Kind]int),
			done:   make(chan struct{}),
		}
		r.entries[key] = current
		return &Ticket{registry: r, key: key, entry: current}, nil
	}

	switch {
	case rec.Signature() == current.record.Signature():
		return &Ticket{registry: r, key: key, entry: current, duplicate: true}, nil
	case !rec.MoreRecentThan(current.record):
		return nil, ErrNotMostRecent
	case cas == nil:
		return nil, ErrConflictRisk
	case *cas != current.record.Timestamp():
		return nil, ErrCasFailed
	}

	return &Ticket{registry: r, key: key, entry: current}, nil
}

// AddResult records one relay outcome; a nil err is a success. It returns
// true together with the decided result when this outcome settled the
// write. Outcomes arriving after the decision are ignored.
func (t *Ticket) AddResult(err error) (bool, error) {
	r := t.registry

	r.mu.Lock()
	defer r.mu.Unlock()

	e := t.entry
	if r.entries[t.key] != e {
		return false, nil
	}

	e.reported++
	if err == nil {
		e.successes++
		if e.successes >= r.majority {
			r.decide(t.key, e, nil)
			return true, nil
		}
	} else {
		kind := KindOf(err)
		e.errors[kind]++
		if kind.IsConflict() && e.errors[kind] >= r.majority {
			result := &Error{Kind: kind, Count: e.errors[kind], Relays: r.relays}
			r.decide(t.key, e, result)
			return true, result
		}
	}

	if e.reported >= r.relays {
		result := e.mostCommonError(r.relays)
		r.decide(t.key, e, result)
		return true, result
	}

	return false, nil
}

// Done is closed once the write this ticket belongs to is decided.
func (t *Ticket) Done() <-chan struct{} {
	return t.entry.done
}

// Err blocks until the write is decided and returns the decision.
func (t *Ticket) Err() error {
	<-t.entry.done
	return t.entry.err
}

// Duplicate reports whether the ticket joined an in-flight write of the
// same record. Relay requests for it are already being sent.
func (t *Ticket) Duplicate() bool {
	return t.duplicate
}

// Record returns the record that is the subject of the quorum decision.
func (t *Ticket) Record() *record.SignedRecord {
	return t.entry.record
}

// decide removes the entry and publishes the result to every ticket holder.
// Must be called with r.mu held.
func (r *Registry) decide(key record.PublicKey, e *entry, result error) {
	delete(r.entries, key)
	e.err = result
	close(e.done)
}

// mostCommonError returns the most frequent error kind, breaking ties by
// the fixed kind priority.
func (e *entry) mostCommonError(relays int) error {
	best, bestCount := KindUnclassified, 0
	for _, kind := range priority {
		if count := e.errors[kind]; count > bestCount {
			best, bestCount = kind, count
		}
	}
	if bestCount == 0 {
		return nil
	}
	return &Error{Kind: best, Count: bestCount, Relays: relays}
}
