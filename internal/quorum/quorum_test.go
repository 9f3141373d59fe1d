package quorum

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"relaystore/internal/clock"
	"relaystore/internal/record"
)

func testRecord(t *testing.T, seed byte, payload string, ts clock.Timestamp) *record.SignedRecord {
	t.Helper()
	kp, err := record.KeypairFromSeed(bytes.Repeat([]byte{seed}, 32))
	if err != nil {
		t.Fatalf("KeypairFromSeed failed: %v", err)
	}
	rec, err := record.Sign(kp, []byte(payload), ts)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	return rec
}

func relayErr(kind Kind) error {
	return fmt.Errorf("PUT https://relay.example/key: %w", kind.Err())
}

func TestMajority(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {5, 3}, {6, 4}, {7, 4},
	}
	for _, tt := range tests {
		if got := Majority(tt.n); got != tt.want {
			t.Errorf("Majority(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestStartRequest_AdmitsFirstWrite(t *testing.T) {
	r := NewRegistry(5)
	rec := testRecord(t, 1, "v1", 10)

	ticket, err := r.StartRequest(rec, nil)
	if err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}
	if ticket.Record() != rec {
		t.Error("Ticket should carry the admitted record")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Len())
	}
}

func TestStartRequest_SameSignatureJoins(t *testing.T) {
	r := NewRegistry(5)
	rec := testRecord(t, 1, "v1", 10)

	first, err := r.StartRequest(rec, nil)
	if err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}
	second, err := r.StartRequest(rec, nil)
	if err != nil {
		t.Fatalf("Expected duplicate to join, got %v", err)
	}

	if first.entry != second.entry {
		t.Error("Duplicate publish should share the in-flight entry")
	}
	if first.Duplicate() || !second.Duplicate() {
		t.Error("Only the joining ticket should be marked duplicate")
	}
	if r.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", r.Len())
	}
	if len(first.entry.errors) != 0 {
		t.Errorf("Joining should not record errors, got %v", first.entry.errors)
	}
}

func TestStartRequest_OlderRecordRejected(t *testing.T) {
	r := NewRegistry(5)
	newer := testRecord(t, 1, "v2", 20)
	older := testRecord(t, 1, "v1", 10)

	if _, err := r.StartRequest(newer, nil); err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}

	_, err := r.StartRequest(older, nil)
	if !errors.Is(err, ErrNotMostRecent) {
		t.Errorf("Expected ErrNotMostRecent, got %v", err)
	}

	cas := newer.Timestamp()
	_, err = r.StartRequest(older, &cas)
	if !errors.Is(err, ErrNotMostRecent) {
		t.Errorf("Expected ErrNotMostRecent even with CAS, got %v", err)
	}
}

func TestStartRequest_NewerWithoutCASIsConflictRisk(t *testing.T) {
	r := NewRegistry(5)
	older := testRecord(t, 1, "v1", 10)
	newer := testRecord(t, 1, "v2", 20)

	if _, err := r.StartRequest(older, nil); err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}

	_, err := r.StartRequest(newer, nil)
	if !errors.Is(err, ErrConflictRisk) {
		t.Errorf("Expected ErrConflictRisk, got %v", err)
	}
}

func TestStartRequest_NewerWithMatchingCASAdmitted(t *testing.T) {
	r := NewRegistry(5)
	older := testRecord(t, 1, "v1", 10)
	newer := testRecord(t, 1, "v2", 20)

	first, err := r.StartRequest(older, nil)
	if err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}

	cas := older.Timestamp()
	second, err := r.StartRequest(newer, &cas)
	if err != nil {
		t.Fatalf("Expected CAS admission, got %v", err)
	}
	if second.entry != first.entry {
		t.Error("CAS admission should join the in-flight entry")
	}
	if second.Record() != older {
		t.Error("CAS admission must not replace the admitted record")
	}
	if second.Duplicate() {
		t.Error("CAS admission is a different write, not a duplicate")
	}
}

func TestStartRequest_NewerWithStaleCASFails(t *testing.T) {
	r := NewRegistry(5)
	older := testRecord(t, 1, "v1", 10)
	newer := testRecord(t, 1, "v2", 20)

	if _, err := r.StartRequest(older, nil); err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}

	cas := clock.Timestamp(5)
	_, err := r.StartRequest(newer, &cas)
	if !errors.Is(err, ErrCasFailed) {
		t.Errorf("Expected ErrCasFailed, got %v", err)
	}
}

func TestStartRequest_DifferentKeysIndependent(t *testing.T) {
	r := NewRegistry(3)
	if _, err := r.StartRequest(testRecord(t, 1, "a", 10), nil); err != nil {
		t.Fatalf("Expected admission, got %v", err)
	}
	if _, err := r.StartRequest(testRecord(t, 2, "b", 5), nil); err != nil {
		t.Fatalf("Expected admission for another key, got %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Expected 2 entries, got %d", r.Len())
	}
}

func TestAddResult_MajoritySuccessDecidesEarly(t *testing.T) {
	r := NewRegistry(5)
	ticket, _ := r.StartRequest(testRecord(t, 1, "v1", 10), nil)

	for i := 0; i < 2; i++ {
		if decided, _ := ticket.AddResult(nil); decided {
			t.Fatalf("Should not decide after %d successes", i+1)
		}
	}

	decided, err := ticket.AddResult(nil)
	if !decided || err != nil {
		t.Fatalf("Expected success decision at majority, got decided=%v err=%v", decided, err)
	}

	select {
	case <-ticket.Done():
	default:
		t.Fatal("Done should be closed after the decision")
	}
	if ticket.Err() != nil {
		t.Errorf("Expected nil decision, got %v", ticket.Err())
	}
	if r.Len() != 0 {
		t.Errorf("Entry should be removed after the decision, got %d", r.Len())
	}
}

func TestAddResult_MajorityCasFailedDecidesEarly(t *testing.T) {
	r := NewRegistry(5)
	ticket, _ := r.StartRequest(testRecord(t, 1, "v1", 10), nil)

	ticket.AddResult(relayErr(KindCasFailed))
	ticket.AddResult(relayErr(KindCasFailed))
	decided, err := ticket.AddResult(relayErr(KindCasFailed))

	if !decided {
		t.Fatal("Expected early decision on majority CAS failures")
	}
	if !errors.Is(err, ErrCasFailed) {
		t.Errorf("Expected ErrCasFailed, got %v", err)
	}
	var qerr *Error
	if !errors.As(err, &qerr) || qerr.Count != 3 || qerr.Relays != 5 {
		t.Errorf("Expected *Error with 3 of 5, got %#v", err)
	}
	if r.Len() != 0 {
		t.Errorf("Entry should be removed, got %d", r.Len())
	}
}

func TestAddResult_MajorityTimeoutWaitsForAll(t *testing.T) {
	r := NewRegistry(5)
	ticket, _ := r.StartRequest(testRecord(t, 1, "v1", 10), nil)

	for i := 0; i < 4; i++ {
		if decided, _ := ticket.AddResult(relayErr(KindTimeout)); decided {
			t.Fatalf("Timeouts must not decide early (after %d)", i+1)
		}
	}

	decided, err := ticket.AddResult(relayErr(KindTimeout))
	if !decided || !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected timeout decision after all relays, got decided=%v err=%v", decided, err)
	}
}

func TestAddResult_AllReportedMostCommonError(t *testing.T) {
	r := NewRegistry(5)
	ticket, _ := r.StartRequest(testRecord(t, 1, "v1", 10), nil)

	outcomes := []error{nil, relayErr(KindTimeout), nil, relayErr(KindNotMostRecent), relayErr(KindTimeout)}
	var decided bool
	var err error
	for i, outcome := range outcomes {
		decided, err = ticket.AddResult(outcome)
		if decided && i != len(outcomes)-1 {
			t.Fatalf("Decided early after %d outcomes", i+1)
		}
	}

	if !decided {
		t.Fatal("Expected decision once all relays reported")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected most common error (timeout), got %v", err)
	}
}

func TestAddResult_TieBreakPrefersConflicts(t *testing.T) {
	r := NewRegistry(4)
	ticket, _ := r.StartRequest(testRecord(t, 1, "v1", 10), nil)

	ticket.AddResult(relayErr(KindTimeout))
	ticket.AddResult(relayErr(KindUnclassified))
	ticket.AddResult(relayErr(KindNotMostRecent))
	decided, err := ticket.AddResult(relayErr(KindTimeout))
	if !decided {
		t.Fatal("Expected decision")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("Expected timeout (2 votes), got %v", err)
	}

	ticket, _ = r.StartRequest(testRecord(t, 1, "v1", 10), nil)
	ticket.AddResult(relayErr(KindTimeout))
	ticket.AddResult(relayErr(KindCasFailed))
	ticket.AddResult(nil)
	decided, err = ticket.AddResult(nil)
	if !decided {
		t.Fatal("Expected decision")
	}
	if !errors.Is(err, ErrCasFailed) {
		t.Errorf("Expected CAS failure to win the tie over timeout, got %v", err)
	}
}

func TestAddResult_UnclassifiedNeverAbortsEarly(t *testing.T) {
	r := NewRegistry(3)
	ticket, _ := r.StartRequest(testRecord(t, 1, "v1", 10), nil)

	ticket.AddResult(errors.New("500 Internal Server Error"))
	if decided, _ := ticket.AddResult(errors.New("400 Bad Request")); decided {
		t.Fatal("Unclassified errors must not decide early")
	}
	decided, err := ticket.AddResult(nil)
	if !decided || !errors.Is(err, ErrUnclassified) {
		t.Errorf("Expected unclassified decision, got decided=%v err=%v", decided, err)
	}
}

func TestAddResult_StrayResultIsNoop(t *testing.T) {
	r := NewRegistry(3)
	rec := testRecord(t, 1, "v1", 10)
	ticket, _ := r.StartRequest(rec, nil)

	ticket.AddResult(nil)
	ticket.AddResult(nil)

	if decided, err := ticket.AddResult(relayErr(KindTimeout)); decided || err != nil {
		t.Errorf("Late result should be a no-op, got decided=%v err=%v", decided, err)
	}

	next, _ := r.StartRequest(testRecord(t, 1, "v2", 20), nil)
	ticket.AddResult(relayErr(KindCasFailed))
	if next.entry.reported != 0 {
		t.Error("Late result from a decided write must not touch the next write for the key")
	}
}

func TestAddResult_JoinedCallersShareDecision(t *testing.T) {
	r := NewRegistry(3)
	rec := testRecord(t, 1, "v1", 10)
	first, _ := r.StartRequest(rec, nil)
	second, _ := r.StartRequest(rec, nil)

	first.AddResult(nil)
	decided, err := second.AddResult(nil)
	if !decided || err != nil {
		t.Fatalf("Expected shared success decision, got decided=%v err=%v", decided, err)
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("First caller should observe the shared decision")
	}
	if first.Err() != nil {
		t.Errorf("Expected nil, got %v", first.Err())
	}
}

func TestAddResult_CasJoinerVotesCountOnce(t *testing.T) {
	r := NewRegistry(3)
	older := testRecord(t, 1, "v1", 10)
	newer := testRecord(t, 1, "v2", 20)

	owner, _ := r.StartRequest(older, nil)
	cas := older.Timestamp()
	joiner, err := r.StartRequest(newer, &cas)
	if err != nil {
		t.Fatalf("Expected CAS admission, got %v", err)
	}

	// both fan-outs report into one tally; interleave their results
	decisions := 0
	var result error
	for range r.Relays() {
		for _, ticket := range []*Ticket{owner, joiner} {
			if decided, err := ticket.AddResult(relayErr(KindTimeout)); decided {
				decisions++
				result = err
			}
		}
	}

	if decisions != 1 {
		t.Fatalf("Expected exactly one decision, got %d", decisions)
	}
	if owner.entry.reported != r.Relays() {
		t.Errorf("Expected %d applied votes, got %d", r.Relays(), owner.entry.reported)
	}

	var qerr *Error
	if !errors.As(result, &qerr) || qerr.Kind != KindTimeout || qerr.Count != 3 {
		t.Errorf("Expected a timeout decision over 3 relays, got %v", result)
	}
	if owner.Err() != joiner.Err() {
		t.Error("Both callers should observe the same decision")
	}
	if r.Len() != 0 {
		t.Errorf("Expected registry to be empty, got %d entries", r.Len())
	}
}
