package record

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"

	"relaystore/internal/clock"
)

const (
	// SignatureLength is the size of a record signature in bytes.
	SignatureLength = ed25519.SignatureSize
	// MaxPayloadBytes bounds the opaque payload of a record.
	MaxPayloadBytes = 1000

	timestampLength = 8
	headerLength    = SignatureLength + timestampLength

	// MaxRelayPayloadBytes bounds a relay request or response body.
	MaxRelayPayloadBytes = headerLength + MaxPayloadBytes
	// MaxBytes bounds a full record including its public key.
	MaxBytes = PublicKeyLength + MaxRelayPayloadBytes
)

var (
	// ErrPayloadTooLarge is returned when a payload exceeds MaxPayloadBytes.
	ErrPayloadTooLarge = errors.New("record payload too large")
	// ErrTruncatedPayload is returned when a relay payload is shorter than its header.
	ErrTruncatedPayload = errors.New("relay payload truncated")
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid record signature")
)

// Signature is a detached ed25519 signature. Two records with equal
// signatures are the same write.
type Signature [SignatureLength]byte

// SignedRecord is a payload signed by the owner of a public key at a given
// timestamp. SignedRecord values are immutable.
type SignedRecord struct {
	publicKey PublicKey
	signature Signature
	timestamp clock.Timestamp
	payload   []byte
}

// New signs payload with the keypair at the current time.
func New(kp *Keypair, payload []byte) (*SignedRecord, error) {
	return Sign(kp, payload, clock.Now())
}

// Sign signs payload with the keypair at the given timestamp.
func Sign(kp *Keypair, payload []byte, ts clock.Timestamp) (*SignedRecord, error) {
	if len(payload) > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), MaxPayloadBytes)
	}

	r := &SignedRecord{
		publicKey: kp.PublicKey(),
		timestamp: ts,
		payload:   append([]byte(nil), payload...),
	}
	copy(r.signature[:], kp.sign(signable(ts, payload)))
	return r, nil
}

// FromRelayPayload decodes a relay payload and verifies it against key.
func FromRelayPayload(key PublicKey, data []byte) (*SignedRecord, error) {
	if len(data) < headerLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncatedPayload, len(data))
	}
	if len(data) > MaxRelayPayloadBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), MaxRelayPayloadBytes)
	}

	r := &SignedRecord{
		publicKey: key,
		timestamp: clock.Timestamp(binary.BigEndian.Uint64(data[SignatureLength:headerLength])),
		payload:   append([]byte(nil), data[headerLength:]...),
	}
	copy(r.signature[:], data[:SignatureLength])

	if !key.verify(signable(r.timestamp, r.payload), r.signature[:]) {
		return nil, fmt.Errorf("%w for %s", ErrInvalidSignature, key)
	}
	return r, nil
}

// ToRelayPayload encodes the record as a relay request body.
func (r *SignedRecord) ToRelayPayload() []byte {
	out := make([]byte, headerLength, headerLength+len(r.payload))
	copy(out, r.signature[:])
	binary.BigEndian.PutUint64(out[SignatureLength:], uint64(r.timestamp))
	return append(out, r.payload...)
}

// PublicKey returns the key the record is signed by.
func (r *SignedRecord) PublicKey() PublicKey { return r.publicKey }

// Signature returns the record signature.
func (r *SignedRecord) Signature() Signature { return r.signature }

// Timestamp returns the time the record was signed at.
func (r *SignedRecord) Timestamp() clock.Timestamp { return r.timestamp }

// Payload returns a copy of the record payload.
func (r *SignedRecord) Payload() []byte { return append([]byte(nil), r.payload...) }

// MoreRecentThan reports whether r should replace other. Newer timestamps
// win; equal timestamps fall back to comparing payload bytes so that the
// ordering is total for distinct writes.
func (r *SignedRecord) MoreRecentThan(other *SignedRecord) bool {
	switch r.timestamp.Compare(other.timestamp) {
	case clock.After:
		return true
	case clock.Before:
		return false
	}
	return bytes.Compare(r.payload, other.payload) > 0
}

// String returns a short description used in logs.
func (r *SignedRecord) String() string {
	return fmt.Sprintf("record{key=%s ts=%s size=%d}", r.publicKey, r.timestamp, len(r.payload))
}

// signable returns the bencoded message covered by the signature.
func signable(ts clock.Timestamp, payload []byte) []byte {
	prefix := "3:seqi" + strconv.FormatUint(uint64(ts), 10) + "e1:v" + strconv.Itoa(len(payload)) + ":"
	return append([]byte(prefix), payload...)
}
