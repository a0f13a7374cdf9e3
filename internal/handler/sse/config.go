package sse

import "time"

// Config holds configuration for SSE connections
type Config struct {
	// KeepAliveInterval is how often to send keep-alive comments while the
	// agent is thinking or calling tools. 10-15s keeps most proxies from
	// closing an idle stream.
	KeepAliveInterval time.Duration

	// TestDuration and TestInterval shape the synthetic stream of /api/test-sse
	TestDuration time.Duration
	TestInterval time.Duration
}

// DefaultConfig returns the default SSE configuration
func DefaultConfig() *Config {
	return &Config{
		KeepAliveInterval: 10 * time.Second,
		TestDuration:      60 * time.Second,
		TestInterval:      50 * time.Millisecond,
	}
}
