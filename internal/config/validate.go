package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/rickgao/memestream/internal/codec"
	"github.com/rickgao/memestream/internal/topic"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if len(c.Streams) == 0 {
		return errors.New("at least one stream is required")
	}
	seen := make(map[string]bool, len(c.Streams))
	for i := range c.Streams {
		s := &c.Streams[i]
		if err := s.validate(fmt.Sprintf("streams[%d]", i)); err != nil {
			return err
		}
		if seen[s.Name] {
			return fmt.Errorf("streams[%d].name %q is duplicated", i, s.Name)
		}
		seen[s.Name] = true
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.validate(seen); err != nil {
			return err
		}
		if err := c.Database.Timescale.validate("database.timescale"); err != nil {
			return err
		}
		if c.Database.ConnectAttempts < 1 {
			return errors.New("database.connect_attempts must be >= 1")
		}
	}

	if c.Health.Port < 1 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 1 and 65535, got %d", c.Health.Port)
	}

	return nil
}

// SlogLevel parses the configured level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
}

func (s *StreamConfig) validate(prefix string) error {
	if s.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	prefix = fmt.Sprintf("streams.%s", s.Name)

	if s.URL == "" {
		return fmt.Errorf("%s.url is required", prefix)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%s.url: %w", prefix, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%s.url must use ws or wss, got %q", prefix, u.Scheme)
	}

	if !slices.Contains(codec.Names(), s.Codec) {
		return fmt.Errorf("%s.codec must be one of %v, got %q", prefix, codec.Names(), s.Codec)
	}

	if s.ReconnectBaseDelay <= 0 {
		return fmt.Errorf("%s.reconnect_base_delay must be > 0", prefix)
	}
	if s.ReconnectMaxDelay < s.ReconnectBaseDelay {
		return fmt.Errorf("%s.reconnect_max_delay (%v) cannot be less than reconnect_base_delay (%v)",
			prefix, s.ReconnectMaxDelay, s.ReconnectBaseDelay)
	}
	if s.PingInterval < 0 {
		return fmt.Errorf("%s.ping_interval must be >= 0", prefix)
	}
	if s.HandshakeTimeout <= 0 {
		return fmt.Errorf("%s.handshake_timeout must be > 0", prefix)
	}
	return nil
}

func (r *RecorderConfig) validate(streams map[string]bool) error {
	if r.Stream == "" {
		return errors.New("recorder.stream is required")
	}
	if !streams[r.Stream] {
		return fmt.Errorf("recorder.stream %q does not name a configured stream", r.Stream)
	}
	if len(r.Tokens) == 0 {
		return errors.New("recorder.tokens must not be empty")
	}
	for i, tok := range r.Tokens {
		if _, err := topic.Price(tok); err != nil {
			return fmt.Errorf("recorder.tokens[%d]: %w", i, err)
		}
	}
	if r.BatchSize < 1 {
		return errors.New("recorder.batch_size must be >= 1")
	}
	if r.BufferSize < 1 {
		return errors.New("recorder.buffer_size must be >= 1")
	}
	if r.FlushInterval <= 0 {
		return errors.New("recorder.flush_interval must be > 0")
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
