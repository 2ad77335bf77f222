package config

import (
	"fmt"
	"net/url"
	"time"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	if c.Server == "" {
		errs = append(errs, fmt.Errorf("server is required"))
	} else if u, err := url.Parse(c.Server); err != nil {
		errs = append(errs, fmt.Errorf("server %q: %w", c.Server, err))
	} else {
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("server %q: scheme must be http, https, ws or wss", c.Server))
		}
		if u.Host == "" {
			errs = append(errs, fmt.Errorf("server %q: host is required", c.Server))
		}
	}

	if c.SessionFile == "" {
		errs = append(errs, fmt.Errorf("session_file is required"))
	}

	if c.HandshakeTimeout != "" {
		d, err := time.ParseDuration(c.HandshakeTimeout)
		if err != nil {
			errs = append(errs, fmt.Errorf("handshake_timeout %q: %w", c.HandshakeTimeout, err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("handshake_timeout must be positive, got %s", d))
		}
	}

	if c.TransferWindow <= 0 {
		errs = append(errs, fmt.Errorf("transfer_window must be positive, got %d", c.TransferWindow))
	}

	if c.Journal.Enabled && c.Journal.Identifier == "" {
		errs = append(errs, fmt.Errorf("journal.identifier is required when journal is enabled"))
	}

	return errs
}
