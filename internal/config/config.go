package config

import "time"

// Config is the root configuration for a memestream instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Logging  LoggingConfig  `yaml:"logging"`
	Streams  []StreamConfig `yaml:"streams"`
	Recorder RecorderConfig `yaml:"recorder"`
	Database DatabaseConfig `yaml:"database"`
	Health   HealthConfig   `yaml:"health"`
}

// InstanceConfig identifies this instance.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// StreamConfig describes one upstream WebSocket feed. Each stream gets its
// own multiplexer and connection.
type StreamConfig struct {
	Name                 string            `yaml:"name"`
	URL                  string            `yaml:"url"`
	Codec                string            `yaml:"codec"` // channel or keyed
	PingInterval         time.Duration     `yaml:"ping_interval"`
	ReconnectBaseDelay   time.Duration     `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration     `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int               `yaml:"max_reconnect_attempts"` // Negative retries forever
	IdleTimeout          time.Duration     `yaml:"idle_timeout"`           // Negative keeps the connection open
	HandshakeTimeout     time.Duration     `yaml:"handshake_timeout"`
	WriteTimeout         time.Duration     `yaml:"write_timeout"`
	ReadLimit            int64             `yaml:"read_limit"`
	Headers              map[string]string `yaml:"headers"`
}

// RecorderConfig controls persistence of feed payloads.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Stream        string        `yaml:"stream"` // Name of the stream to record from
	Tokens        []string      `yaml:"tokens"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DatabaseConfig holds the TimescaleDB connection used by the recorder.
type DatabaseConfig struct {
	Timescale       DBConfig      `yaml:"timescale"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"`
}

// Stream returns the stream named name.
func (c *Config) Stream(name string) (StreamConfig, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return StreamConfig{}, false
}
