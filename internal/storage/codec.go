package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"relaystore/internal/record"
)

// Field numbers of an encoded record entry.
const (
	fieldSignature protowire.Number = 1
	fieldTimestamp protowire.Number = 2
	fieldPayload   protowire.Number = 3
)

var errMalformedEntry = errors.New("storage: malformed record entry")

// encodeRecord encodes rec as a protobuf wire-format entry.
func encodeRecord(rec *record.SignedRecord) []byte {
	sig := rec.Signature()
	payload := rec.Payload()

	b := make([]byte, 0, record.SignatureLength+len(payload)+16)
	b = protowire.AppendTag(b, fieldSignature, protowire.BytesType)
	b = protowire.AppendBytes(b, sig[:])
	b = protowire.AppendTag(b, fieldTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, uint64(rec.Timestamp()))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b
}

// decodeRecord decodes an entry stored for key and verifies its signature.
// Unknown fields are skipped.
func decodeRecord(key record.PublicKey, b []byte) (*record.SignedRecord, error) {
	var (
		sig     []byte
		ts      uint64
		payload []byte
		hasTS   bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedEntry, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldSignature && typ == protowire.BytesType:
			sig, n = protowire.ConsumeBytes(b)
		case num == fieldTimestamp && typ == protowire.Fixed64Type:
			ts, n = protowire.ConsumeFixed64(b)
			hasTS = true
		case num == fieldPayload && typ == protowire.BytesType:
			payload, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errMalformedEntry, protowire.ParseError(n))
		}
		b = b[n:]
	}

	if len(sig) != record.SignatureLength || !hasTS {
		return nil, fmt.Errorf("%w: missing signature or timestamp", errMalformedEntry)
	}

	relayPayload := make([]byte, 0, record.SignatureLength+8+len(payload))
	relayPayload = append(relayPayload, sig...)
	relayPayload = binary.BigEndian.AppendUint64(relayPayload, ts)
	relayPayload = append(relayPayload, payload...)
	return record.FromRelayPayload(key, relayPayload)
}
