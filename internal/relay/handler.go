package relay

import (
	"errors"
	"io"
	"net/http"

	"relaystore/internal/clock"
	"relaystore/internal/log"
	"relaystore/internal/record"
	"relaystore/internal/storage"
)

const requestIDHeader = "X-Request-Id"

// Handler serves the relay HTTP API on top of a Store.
type Handler struct {
	store   storage.Store
	limiter *rateLimiter
	logger  *log.Logger
	mux     *http.ServeMux
}

// newHandler creates a Handler. A nil limiter disables rate limiting.
func newHandler(store storage.Store, limiter *rateLimiter, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.DiscardLogger
	}
	h := &Handler{
		store:   store,
		limiter: limiter,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /{key}", h.get)
	h.mux.HandleFunc("PUT /{key}", h.put)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	key, err := record.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, err := h.store.Get(r.Context(), key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "record not found", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Errorf("[relay] Get failed: key=%s, err=%v", key, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Last-Modified", rec.Timestamp().HTTPDate())

	if since := r.Header.Get("If-Modified-Since"); since != "" {
		ts, err := clock.ParseHTTPDate(since)
		if err == nil && rec.Timestamp().Truncate() <= ts.Truncate() {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(rec.ToRelayPayload())
}

func (h *Handler) put(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)

	key, err := record.ParsePublicKey(r.PathValue("key"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.limiter != nil && !h.limiter.Allow(r) {
		h.logger.Debugf("[relay] Put rate limited: key=%s, remote=%s, request_id=%s", key, r.RemoteAddr, requestID)
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	if r.ContentLength > record.MaxRelayPayloadBytes {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, record.MaxRelayPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	rec, err := record.FromRelayPayload(key, body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var cas *clock.Timestamp
	if header := r.Header.Get("If-Unmodified-Since"); header != "" {
		ts, err := clock.ParseHTTPDate(header)
		if err != nil {
			http.Error(w, "invalid If-Unmodified-Since", http.StatusBadRequest)
			return
		}
		cas = &ts
	}

	h.logger.Debugf("[relay] Put request: key=%s, ts=%s, cas=%v, request_id=%s", key, rec.Timestamp(), cas, requestID)

	err = h.store.Put(r.Context(), rec, cas)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, storage.ErrNotMostRecent):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, storage.ErrCasFailed):
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
	case errors.Is(err, storage.ErrCasRequired):
		http.Error(w, err.Error(), http.StatusPreconditionRequired)
	default:
		h.logger.Errorf("[relay] Put failed: key=%s, request_id=%s, err=%v", key, requestID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
