package mux

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rickgao/memestream/internal/codec"
	"github.com/rickgao/memestream/internal/config"
	"github.com/rickgao/memestream/internal/connection"
)

// ConfigFromStream maps a stream section of the service config onto a
// multiplexer Config.
func ConfigFromStream(sc config.StreamConfig) Config {
	connCfg := connection.DefaultConfig()
	connCfg.URL = sc.URL
	connCfg.PingInterval = sc.PingInterval
	connCfg.ReconnectBaseWait = sc.ReconnectBaseDelay
	connCfg.ReconnectMaxWait = sc.ReconnectMaxDelay
	connCfg.HandshakeTimeout = sc.HandshakeTimeout
	connCfg.MaxAttempts = sc.MaxReconnectAttempts
	if connCfg.MaxAttempts < 0 {
		connCfg.MaxAttempts = 0
	}

	transport := connection.DefaultTransportConfig()
	transport.HandshakeTimeout = sc.HandshakeTimeout
	if sc.WriteTimeout > 0 {
		transport.WriteTimeout = sc.WriteTimeout
	}
	if sc.ReadLimit > 0 {
		transport.ReadLimit = sc.ReadLimit
	}
	if len(sc.Headers) > 0 {
		transport.Header = make(http.Header, len(sc.Headers))
		for k, v := range sc.Headers {
			transport.Header.Set(k, v)
		}
	}

	return Config{
		Name:          sc.Name,
		Connection:    connCfg,
		Transport:     transport,
		IdleTimeout:   sc.IdleTimeout,
		FailureBuffer: 4,
	}
}

// NewFromStream builds a Multiplexer for one configured stream.
func NewFromStream(sc config.StreamConfig, logger *slog.Logger, opts ...Option) (*Multiplexer, error) {
	c, err := codec.ByName(sc.Codec)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", sc.Name, err)
	}
	return New(ConfigFromStream(sc), c, logger, opts...)
}
