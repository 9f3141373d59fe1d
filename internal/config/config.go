package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// DefaultTimeout is the base per-relay request timeout of a client.
const DefaultTimeout = 2 * time.Second

var (
	// ErrNoRelays is returned when a client is configured without relays.
	ErrNoRelays = errors.New("at least one relay is required")
	// ErrInvalidRelay is returned for a relay that is not an absolute http(s) URL.
	ErrInvalidRelay = errors.New("invalid relay url")
	// ErrDuplicateRelay is returned when the same relay is listed twice.
	ErrDuplicateRelay = errors.New("duplicate relay")
)

// ClientConfig holds the configuration of a relay client.
type ClientConfig struct {
	// Relays is the ordered relay set. A publish needs len(Relays)/2+1 of
	// them to agree.
	Relays []*url.URL
	// Timeout is the base per-relay request budget. Writes get three times
	// this value. Zero selects DefaultTimeout.
	Timeout time.Duration
	// ReadRepair republishes the most recent record to relays found stale
	// by ResolveMostRecent.
	ReadRepair bool
}

// Validate checks the configuration and fills in defaults.
func (c *ClientConfig) Validate() error {
	var err error
	if len(c.Relays) == 0 {
		err = multierr.Append(err, ErrNoRelays)
	}

	seen := make(map[string]struct{}, len(c.Relays))
	for _, relay := range c.Relays {
		if relay == nil {
			err = multierr.Append(err, fmt.Errorf("%w: nil", ErrInvalidRelay))
			continue
		}
		if verr := validateRelay(relay); verr != nil {
			err = multierr.Append(err, verr)
			continue
		}
		if _, ok := seen[relay.String()]; ok {
			err = multierr.Append(err, fmt.Errorf("%w: %s", ErrDuplicateRelay, relay))
		}
		seen[relay.String()] = struct{}{}
	}

	if c.Timeout < 0 {
		err = multierr.Append(err, fmt.Errorf("timeout must not be negative: %v", c.Timeout))
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return err
}

// ParseRelays parses a comma-separated list of relay URLs:
// "https://relay1.example,https://relay2.example"
func ParseRelays(relaysStr string) ([]*url.URL, error) {
	if strings.TrimSpace(relaysStr) == "" {
		return []*url.URL{}, nil
	}

	parts := strings.Split(relaysStr, ",")
	relays := make([]*url.URL, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		relay, err := url.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidRelay, part, err)
		}
		if err := validateRelay(relay); err != nil {
			return nil, err
		}
		if _, ok := seen[relay.String()]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRelay, part)
		}
		seen[relay.String()] = struct{}{}

		relays = append(relays, relay)
	}

	return relays, nil
}

func validateRelay(relay *url.URL) error {
	if relay.Scheme != "http" && relay.Scheme != "https" {
		return fmt.Errorf("%w: %s (expected http or https)", ErrInvalidRelay, relay)
	}
	if relay.Host == "" {
		return fmt.Errorf("%w: %s (missing host)", ErrInvalidRelay, relay)
	}
	return nil
}
