package gree

import (
	"errors"
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*config) error

// config holds the configuration for a Client.
type config struct {
	devicePort       int
	localPort        int
	discoveryTimeout time.Duration
	bindTimeout      time.Duration
	requestTimeout   time.Duration
	maxBatchSize     int
	logger           *slog.Logger
}

// defaultConfig returns the default client configuration.
func defaultConfig() *config {
	return &config{
		devicePort:       7000,
		localPort:        0,
		discoveryTimeout: 4 * time.Second,
		bindTimeout:      10 * time.Second,
		requestTimeout:   10 * time.Second,
		maxBatchSize:     10,
		logger:           nil,
	}
}

// WithDevicePort sets the UDP port devices listen on.
// Default is 7000.
func WithDevicePort(port int) Option {
	return func(c *config) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		c.devicePort = port
		return nil
	}
}

// WithLocalPort binds the client socket to a fixed source port.
// Default is 0, an ephemeral port.
func WithLocalPort(port int) Option {
	return func(c *config) error {
		if port < 0 || port > 65535 {
			return errors.New("port must be between 0 and 65535")
		}
		c.localPort = port
		return nil
	}
}

// WithDiscoveryTimeout sets how long a scan collects responses.
// Default is 4 seconds.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("discovery timeout must be positive")
		}
		c.discoveryTimeout = d
		return nil
	}
}

// WithBindTimeout sets the timeout for the bind handshake.
// Default is 10 seconds.
func WithBindTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("bind timeout must be positive")
		}
		c.bindTimeout = d
		return nil
	}
}

// WithRequestTimeout sets the timeout for a property read or write,
// including all of its sub-batches.
// Default is 10 seconds.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		c.requestTimeout = d
		return nil
	}
}

// WithMaxBatchSize sets how many properties fit in one command message
// before the client splits the request. The real limit is firmware
// dependent and not documented.
// Default is 10.
func WithMaxBatchSize(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return errors.New("batch size must be at least 1")
		}
		c.maxBatchSize = n
		return nil
	}
}

// WithLogger sets a structured logger for debug and error logging.
// By default, no logging is performed.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}
