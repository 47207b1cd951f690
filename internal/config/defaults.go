package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultReconnectThreshold  = 5 * time.Second
	DefaultLostFocusTimeout    = 60 * time.Second
	DefaultRetryBaseDelay      = 1 * time.Second
	DefaultRetryMaxDelay       = 60 * time.Second
	DefaultHandshakeTimeout    = 10 * time.Second
	DefaultPingTimeout         = 60 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultRequestTimeout      = 10 * time.Second
	DefaultPollInterval        = 4 * time.Second
	DefaultPollRateLimit       = 5.0
	DefaultHTTPMaxRetries      = 3
	DefaultDBPort              = 5432
	DefaultDBSSLMode           = "prefer"
	DefaultMaxConns            = 10
	DefaultMinConns            = 2
	DefaultBatchSize           = 500
	DefaultFlushInterval       = 1 * time.Second
	DefaultBufferSize          = 1000
	DefaultMetricsPort         = 9090
	DefaultMetricsPath         = "/metrics"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

func (c *Config) applyDefaults() {
	// Supervisor defaults
	if c.Supervisor.HealthCheckInterval == 0 {
		c.Supervisor.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Supervisor.ReconnectThreshold == 0 {
		c.Supervisor.ReconnectThreshold = DefaultReconnectThreshold
	}
	if c.Supervisor.LostFocusTimeout == 0 {
		c.Supervisor.LostFocusTimeout = DefaultLostFocusTimeout
	}
	if c.Supervisor.RetryBaseDelay == 0 {
		c.Supervisor.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Supervisor.RetryMaxDelay == 0 {
		c.Supervisor.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.Supervisor.Network == "" && len(c.Networks) > 0 {
		c.Supervisor.Network = c.Networks[0].ID
	}

	// Connections defaults
	if c.Connections.HandshakeTimeout == 0 {
		c.Connections.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Connections.PingTimeout == 0 {
		c.Connections.PingTimeout = DefaultPingTimeout
	}
	if c.Connections.WriteTimeout == 0 {
		c.Connections.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connections.RequestTimeout == 0 {
		c.Connections.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connections.PollInterval == 0 {
		c.Connections.PollInterval = DefaultPollInterval
	}
	if c.Connections.PollRateLimit == 0 {
		c.Connections.PollRateLimit = DefaultPollRateLimit
	}
	if c.Connections.HTTPMaxRetries == 0 {
		c.Connections.HTTPMaxRetries = DefaultHTTPMaxRetries
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)

	// Writers defaults
	if c.Writers.BatchSize == 0 {
		c.Writers.BatchSize = DefaultBatchSize
	}
	if c.Writers.FlushInterval == 0 {
		c.Writers.FlushInterval = DefaultFlushInterval
	}
	if c.Writers.BufferSize == 0 {
		c.Writers.BufferSize = DefaultBufferSize
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
