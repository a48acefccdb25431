package connection

import (
	"errors"
	"net/http"
	"time"
)

// Errors
var (
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// State is the lifecycle state of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnectPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnectPending:
		return "reconnect_pending"
	default:
		return "unknown"
	}
}

// Generation identifies one successful open of the connection. Frames sent
// with SendOn are dropped once the generation they were meant for has ended.
type Generation uint64

// Hooks receive connection events. All hooks are optional.
//
// OnConnected and OnMessage run on the connection's own goroutine, strictly
// ordered: OnConnected for a generation returns before the first OnMessage of
// that generation. OnStateChange and OnFailure may run on any goroutine and
// must not block.
type Hooks struct {
	OnConnected   func(gen Generation)
	OnMessage     func(data []byte)
	OnStateChange func(from, to State)
	OnFailure     func(err error)
}

// Config configures the Connection Manager.
type Config struct {
	URL               string        // WebSocket URL (e.g., wss://stream.example.com/ws)
	PingInterval      time.Duration // Keepalive period; 0 disables pings
	PingFrame         []byte        // Keepalive frame sent every PingInterval
	ReconnectBaseWait time.Duration // Delay before the first reconnect attempt
	ReconnectMaxWait  time.Duration // Ceiling for the backoff delay
	MaxAttempts       int           // Reconnect attempts before giving up; 0 = never give up
	HandshakeTimeout  time.Duration // Dial timeout per attempt
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PingInterval:      30 * time.Second,
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		MaxAttempts:       10,
		HandshakeTimeout:  10 * time.Second,
	}
}

// TransportConfig configures the gorilla/websocket transport.
type TransportConfig struct {
	Header           http.Header   // Extra handshake headers (auth is handled here, upstream of the manager)
	HandshakeTimeout time.Duration // Upper bound on the opening handshake
	WriteTimeout     time.Duration // Write deadline for each frame
	ReadLimit        int64         // Max inbound frame size in bytes; 0 = unlimited
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadLimit:        1 << 20,
	}
}

// Stats is a point-in-time view of the manager.
type Stats struct {
	State          State
	Attempt        int           // Reconnect attempts since the last successful open
	LastDelay      time.Duration // Most recently scheduled reconnect delay
	LastError      error         // Most recent loss cause; nil while healthy
	Connects       int64         // Successful opens
	Reconnects     int64         // Reconnect attempts started by the backoff timer
	FramesSent     int64
	FramesDropped  int64 // Sends refused because the connection was not usable
	FramesReceived int64
}
