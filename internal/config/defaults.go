package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultCodec                = "channel"
	DefaultPingInterval         = 30 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultIdleTimeout          = 30 * time.Second
	DefaultHandshakeTimeout     = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReadLimit            = 1 << 20
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultConnectAttempts      = 5
	DefaultConnectDelay         = 2 * time.Second
	DefaultHealthPort           = 8080
)

func (c *Config) applyDefaults() {
	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	// Stream defaults
	for i := range c.Streams {
		ApplyStreamDefaults(&c.Streams[i])
	}

	// Recorder defaults
	if c.Recorder.Stream == "" && len(c.Streams) == 1 {
		c.Recorder.Stream = c.Streams[0].Name
	}
	if c.Recorder.BatchSize == 0 {
		c.Recorder.BatchSize = DefaultBatchSize
	}
	if c.Recorder.FlushInterval == 0 {
		c.Recorder.FlushInterval = DefaultFlushInterval
	}
	if c.Recorder.BufferSize == 0 {
		c.Recorder.BufferSize = DefaultBufferSize
	}

	// Database defaults
	applyDBDefaults(&c.Database.Timescale)
	if c.Database.ConnectAttempts == 0 {
		c.Database.ConnectAttempts = DefaultConnectAttempts
	}
	if c.Database.ConnectDelay == 0 {
		c.Database.ConnectDelay = DefaultConnectDelay
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

// ApplyStreamDefaults fills unset stream fields with the package defaults.
func ApplyStreamDefaults(s *StreamConfig) {
	if s.Codec == "" {
		s.Codec = DefaultCodec
	}
	if s.PingInterval == 0 {
		s.PingInterval = DefaultPingInterval
	}
	if s.ReconnectBaseDelay == 0 {
		s.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if s.ReconnectMaxDelay == 0 {
		s.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if s.MaxReconnectAttempts == 0 {
		s.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.HandshakeTimeout == 0 {
		s.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.ReadLimit == 0 {
		s.ReadLimit = DefaultReadLimit
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
