package client

import (
	"net/http"
	"net/url"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"relaystore/internal/config"
	"relaystore/internal/log"
	"relaystore/internal/quorum"
	"relaystore/internal/repair"
	"relaystore/internal/transport"
)

// Client publishes and resolves records against a fixed relay set. A Client
// is safe for concurrent use; the relay set, timeout and connection pool
// are fixed for its lifetime.
type Client struct {
	relays     []*url.URL
	registry   *quorum.Registry
	transport  *transport.Transport
	repairer   *repair.ReadRepairer
	readRepair bool

	httpClient *http.Client
	logger     *log.Logger
	meter      metric.Meter
	metrics    *metrics
}

// New creates a client for the relays in cfg.
func New(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		relays:     slices.Clone(cfg.Relays),
		registry:   quorum.NewRegistry(len(cfg.Relays)),
		readRepair: cfg.ReadRepair,
		logger:     log.DefaultLogger,
		meter:      otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt.apply(c)
	}

	if c.httpClient == nil {
		c.httpClient = transport.NewHTTPClient()
	}

	m, err := newMetrics(c.meter)
	if err != nil {
		return nil, err
	}
	c.metrics = m

	c.transport = transport.New(c.httpClient, cfg.Timeout, c.logger)
	c.repairer = repair.NewReadRepairer(c.transport, 2*c.transport.WriteTimeout(), c.logger)

	c.logger.Debugf("[client] created: relays=%d, majority=%d, timeout=%s, read_repair=%v",
		len(c.relays), c.registry.Majority(), c.transport.Timeout(), c.readRepair)
	return c, nil
}

// Relays returns the relay set.
func (c *Client) Relays() []*url.URL {
	return slices.Clone(c.relays)
}

// Majority returns the number of relays that must accept a write.
func (c *Client) Majority() int {
	return c.registry.Majority()
}

// Close waits for pending read repairs and releases idle connections.
// Resolves still running when Close is called skip their read repair.
// Publishes still in flight keep running to their relay deadlines.
func (c *Client) Close() {
	c.repairer.Close()
	c.transport.Client().CloseIdleConnections()
	_ = c.logger.Sync()
}
