package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"relaystore/internal/clock"
	"relaystore/internal/log"
	"relaystore/internal/quorum"
	"relaystore/internal/record"
)

const (
	// DefaultTimeout is the base per-relay request budget.
	DefaultTimeout = 2 * time.Second

	// writeTimeoutFactor scales the base budget for PUT requests.
	writeTimeoutFactor = 3

	// RequestIDHeader carries the publish id for relay-side log correlation.
	RequestIDHeader = "X-Request-Id"
)

var (
	// ErrNotModified is returned by Resolve when the relay has nothing newer
	// than the If-Modified-Since timestamp.
	ErrNotModified = errors.New("record not modified")
	// ErrNotFound is returned by Resolve when the relay holds no record for the key.
	ErrNotFound = errors.New("record not found")
	// ErrResponseTooLarge is returned by Resolve when the relay answers with
	// more than a relay payload can hold.
	ErrResponseTooLarge = errors.New("relay response too large")
)

// StatusError is a relay answer with a status that rejects the request.
type StatusError struct {
	Code int
	Kind quorum.Kind
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("relay answered %d %s", e.Code, http.StatusText(e.Code))
}

// Unwrap returns the quorum sentinel for the status.
func (e *StatusError) Unwrap() error {
	return e.Kind.Err()
}

// ClassifyStatus maps a relay status code onto the quorum error taxonomy.
// Only 2xx statuses are acceptances. Redirects are not followed, so a 3xx
// answer means the relay did not store anything and is Unclassified.
func ClassifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusConflict:
		return &StatusError{Code: code, Kind: quorum.KindNotMostRecent}
	case code == http.StatusPreconditionFailed:
		return &StatusError{Code: code, Kind: quorum.KindCasFailed}
	case code == http.StatusPreconditionRequired:
		return &StatusError{Code: code, Kind: quorum.KindConflictRisk}
	default:
		return &StatusError{Code: code, Kind: quorum.KindUnclassified}
	}
}

// FormatURL returns the address of key's record on relay.
func FormatURL(relay *url.URL, key record.PublicKey) string {
	return relay.JoinPath(key.String()).String()
}

// Transport sends requests to individual relays.
type Transport struct {
	client  *http.Client
	timeout time.Duration
	logger  *log.Logger
}

// New creates a Transport. A zero timeout selects DefaultTimeout.
func New(client *http.Client, timeout time.Duration, logger *log.Logger) *Transport {
	if client == nil {
		client = NewHTTPClient()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.DiscardLogger
	}
	return &Transport{client: client, timeout: timeout, logger: logger}
}

// Timeout returns the base per-relay budget.
func (t *Transport) Timeout() time.Duration {
	return t.timeout
}

// WriteTimeout returns the per-relay budget for a PUT.
func (t *Transport) WriteTimeout() time.Duration {
	return writeTimeoutFactor * t.timeout
}

// Client returns the underlying HTTP client.
func (t *Transport) Client() *http.Client {
	return t.client
}

// Publish PUTs rec to relay. When cas is set the request is conditional on
// the relay's record not being newer than cas. A nil error means the relay
// accepted the write; every failure wraps one of the quorum sentinels.
func (t *Transport) Publish(ctx context.Context, relay *url.URL, rec *record.SignedRecord, cas *clock.Timestamp, requestID string) error {
	ctx, cancel := context.WithTimeout(ctx, t.WriteTimeout())
	defer cancel()

	target := FormatURL(relay, rec.PublicKey())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(rec.ToRelayPayload()))
	if err != nil {
		return fmt.Errorf("PUT %s: %w", target, errors.Join(quorum.ErrUnclassified, err))
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if cas != nil {
		req.Header.Set("If-Unmodified-Since", cas.HTTPDate())
	}
	if requestID != "" {
		req.Header.Set(RequestIDHeader, requestID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("PUT %s: %w", target, errors.Join(quorum.ErrTimeout, err))
	}
	defer drain(resp.Body)

	if err := ClassifyStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("PUT %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Debugf("[transport] PUT %s answered %d", target, resp.StatusCode)
	}
	return nil
}

// Resolve GETs the record for key from relay. When since is set the request
// is conditional and ErrNotModified reports that the relay has nothing newer.
// The body is verified against key before it is returned.
func (t *Transport) Resolve(ctx context.Context, relay *url.URL, key record.PublicKey, since *clock.Timestamp) (*record.SignedRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	target := FormatURL(relay, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	if since != nil {
		req.Header.Set("If-Modified-Since", since.HTTPDate())
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, errors.Join(quorum.ErrTimeout, err))
	}
	defer drain(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return nil, ErrNotModified
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		if err := ClassifyStatus(resp.StatusCode); err != nil {
			return nil, fmt.Errorf("GET %s: %w", target, err)
		}
		return nil, fmt.Errorf("GET %s: unexpected status %d", target, resp.StatusCode)
	}

	if resp.ContentLength > record.MaxRelayPayloadBytes {
		return nil, fmt.Errorf("GET %s: %w: declared %d bytes", target, ErrResponseTooLarge, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, record.MaxRelayPayloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, errors.Join(quorum.ErrTimeout, err))
	}
	if len(body) > record.MaxRelayPayloadBytes {
		return nil, fmt.Errorf("GET %s: %w", target, ErrResponseTooLarge)
	}

	rec, err := record.FromRelayPayload(key, body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	return rec, nil
}

// drain consumes what is left of body so the connection can be reused.
func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, record.MaxBytes))
	_ = body.Close()
}
