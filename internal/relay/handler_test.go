package relay

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaystore/internal/clock"
	"relaystore/internal/config"
	"relaystore/internal/log"
	"relaystore/internal/record"
	"relaystore/internal/storage"
)

const second = clock.Timestamp(1_000_000)

var base = clock.Timestamp(1715941815) * second

type testRelay struct {
	t   *testing.T
	srv *httptest.Server
	kp  *record.Keypair
}

func newTestRelay(t *testing.T, cfg *config.RelayConfig) *testRelay {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultRelayConfig()
		cfg.CacheSize = 100
	}
	store, err := OpenStore(cfg)
	require.NoError(t, err)

	s := NewServer(cfg, store, log.DiscardLogger)
	handler, err := s.Handler()
	require.NoError(t, err)

	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = store.Close()
	})

	kp, err := record.KeypairFromSeed(bytes.Repeat([]byte{11}, 32))
	require.NoError(t, err)
	return &testRelay{t: t, srv: srv, kp: kp}
}

func (r *testRelay) sign(payload string, ts clock.Timestamp) *record.SignedRecord {
	rec, err := record.Sign(r.kp, []byte(payload), ts)
	require.NoError(r.t, err)
	return rec
}

func (r *testRelay) do(method string, key string, body []byte, header http.Header) *http.Response {
	req, err := http.NewRequest(method, r.srv.URL+"/"+key, bytes.NewReader(body))
	require.NoError(r.t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := r.srv.Client().Do(req)
	require.NoError(r.t, err)
	r.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (r *testRelay) put(rec *record.SignedRecord, cas *clock.Timestamp) int {
	header := http.Header{}
	if cas != nil {
		header.Set("If-Unmodified-Since", cas.HTTPDate())
	}
	return r.do(http.MethodPut, rec.PublicKey().String(), rec.ToRelayPayload(), header).StatusCode
}

func TestHandler_PutThenGet(t *testing.T) {
	relay := newTestRelay(t, nil)
	rec := relay.sign("hello", base)

	assert.Equal(t, http.StatusOK, relay.put(rec, nil))

	resp := relay.do(http.MethodGet, rec.PublicKey().String(), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Fri, 17 May 2024 10:30:15 GMT", resp.Header.Get("Last-Modified"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, rec.ToRelayPayload(), body)
}

func TestHandler_GetMissingAndInvalidKey(t *testing.T) {
	relay := newTestRelay(t, nil)

	resp := relay.do(http.MethodGet, relay.kp.PublicKey().String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = relay.do(http.MethodGet, "not-a-key", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandler_GetIfModifiedSince(t *testing.T) {
	relay := newTestRelay(t, nil)
	rec := relay.sign("hello", base+500)
	require.Equal(t, http.StatusOK, relay.put(rec, nil))

	tests := []struct {
		name  string
		since clock.Timestamp
		want  int
	}{
		{"same second", base, http.StatusNotModified},
		{"later", base + second, http.StatusNotModified},
		{"earlier", base - second, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			header.Set("If-Modified-Since", tt.since.HTTPDate())
			resp := relay.do(http.MethodGet, rec.PublicKey().String(), nil, header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHandler_PutStatuses(t *testing.T) {
	relay := newTestRelay(t, nil)
	current := relay.sign("v2", base+second)
	require.Equal(t, http.StatusOK, relay.put(current, nil))

	stale := base - second
	fresh := base + second

	assert.Equal(t, http.StatusOK, relay.put(current, nil), "same record again")
	assert.Equal(t, http.StatusConflict, relay.put(relay.sign("v1", base), nil))
	assert.Equal(t, http.StatusPreconditionFailed, relay.put(relay.sign("v3", base+2*second), &stale))
	assert.Equal(t, http.StatusOK, relay.put(relay.sign("v3", base+2*second), &fresh))
}

func TestHandler_RequireCAS(t *testing.T) {
	cfg := config.DefaultRelayConfig()
	cfg.CacheSize = 10
	cfg.RequireCAS = true
	relay := newTestRelay(t, cfg)

	require.Equal(t, http.StatusOK, relay.put(relay.sign("v1", base), nil))
	assert.Equal(t, http.StatusPreconditionRequired, relay.put(relay.sign("v2", base+second), nil))

	cas := base
	assert.Equal(t, http.StatusOK, relay.put(relay.sign("v2", base+second), &cas))
}

func TestHandler_PutRejectsBadBodies(t *testing.T) {
	relay := newTestRelay(t, nil)
	rec := relay.sign("hello", base)
	key := rec.PublicKey().String()

	tampered := rec.ToRelayPayload()
	tampered[len(tampered)-1] ^= 0xff

	tests := []struct {
		name   string
		body   []byte
		header http.Header
		want   int
	}{
		{"truncated", []byte{1, 2, 3}, nil, http.StatusBadRequest},
		{"bad signature", tampered, nil, http.StatusBadRequest},
		{"too large", make([]byte, record.MaxRelayPayloadBytes+1), nil, http.StatusRequestEntityTooLarge},
		{"bad precondition", rec.ToRelayPayload(), http.Header{"If-Unmodified-Since": {"yesterday"}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := relay.do(http.MethodPut, key, tt.body, tt.header)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHandler_RateLimit(t *testing.T) {
	cfg := config.DefaultRelayConfig()
	cfg.CacheSize = 10
	cfg.RateLimiter = &config.RateLimiterConfig{PerSecond: 0.001, Burst: 2}
	relay := newTestRelay(t, cfg)
	rec := relay.sign("hello", base)

	assert.Equal(t, http.StatusOK, relay.put(rec, nil))
	assert.Equal(t, http.StatusOK, relay.put(rec, nil))
	assert.Equal(t, http.StatusTooManyRequests, relay.put(rec, nil))

	resp := relay.do(http.MethodGet, rec.PublicKey().String(), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not rate limited")
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	relay := newTestRelay(t, nil)
	resp := relay.do(http.MethodDelete, relay.kp.PublicKey().String(), nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestOpenStore(t *testing.T) {
	cfg := config.DefaultRelayConfig()
	store, err := OpenStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.InMemoryStore{}, store)
	require.NoError(t, store.Close())

	cfg.CachePath = t.TempDir() + "/records.db"
	store, err = OpenStore(cfg)
	require.NoError(t, err)
	assert.IsType(t, &storage.BoltStore{}, store)
	require.NoError(t, store.Close())
}
