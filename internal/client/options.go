package client

import (
	"net/http"

	"go.opentelemetry.io/otel/metric"

	"relaystore/internal/log"
)

// Option configures a Client.
type Option interface {
	apply(c *Client)
}

var _ Option = OptionFunc(nil)

// OptionFunc implements the Option interface.
type OptionFunc func(c *Client)

func (f OptionFunc) apply(c *Client) {
	f(c)
}

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return OptionFunc(func(c *Client) {
		c.logger = logger
	})
}

// WithHTTPClient sets the HTTP client shared by every relay request.
func WithHTTPClient(httpClient *http.Client) Option {
	return OptionFunc(func(c *Client) {
		c.httpClient = httpClient
	})
}

// WithMeter sets the meter the client records its metrics with.
func WithMeter(meter metric.Meter) Option {
	return OptionFunc(func(c *Client) {
		c.meter = meter
	})
}
