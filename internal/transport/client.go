package transport

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient creates the HTTP client shared by every relay request of a
// client. Relays reached over TLS negotiate HTTP/2; plain http relays use
// pooled HTTP/1.1 connections.
//
// The client has no overall timeout. Every request carries a context
// deadline derived from the configured per-relay budget instead.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	if h2, err := http2.ConfigureTransports(transport); err == nil {
		h2.PingTimeout = 10 * time.Second
		h2.ReadIdleTimeout = 20 * time.Second
	}

	return &http.Client{
		// relays answer directly; a redirect is reported as its own status
		CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: transport,
	}
}
