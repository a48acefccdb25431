// Package mux implements the Multiplexer Facade: many callers subscribe to
// topics, one WebSocket connection carries them all.
//
// A Multiplexer composes a codec.Codec, a subscription.Registry and a
// connection.Manager. Registry mutation and the matching wire frame are one
// step under the multiplexer's lock, so a topic is subscribed on the wire at
// most once per connection and unsubscribed exactly once when its last
// callback goes away.
package mux

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/memestream/internal/codec"
	"github.com/rickgao/memestream/internal/connection"
	"github.com/rickgao/memestream/internal/subscription"
	"github.com/rickgao/memestream/internal/topic"
)

// Errors
var (
	ErrClosed       = errors.New("multiplexer closed")
	ErrNilCallback  = errors.New("nil callback")
	ErrInvalidTopic = errors.New("invalid topic")
)

// Config configures a Multiplexer.
type Config struct {
	Name       string // Stream name for logs and stats
	Connection connection.Config
	Transport  connection.TransportConfig

	// IdleTimeout is how long an empty multiplexer keeps its connection
	// before closing it. 0 closes immediately; negative never closes.
	IdleTimeout time.Duration

	FailureBuffer int // Capacity of the Failures channel
}

// Option configures a Multiplexer.
type Option func(*Multiplexer)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d connection.Dialer) Option {
	return func(m *Multiplexer) { m.dialer = d }
}

// WithClock replaces the wall clock for the idle, ping and reconnect timers.
func WithClock(c connection.Clock) Option {
	return func(m *Multiplexer) { m.clock = c }
}

// Multiplexer is the public subscribe/disconnect surface for one stream.
type Multiplexer struct {
	name        string
	codec       codec.Codec
	conn        *connection.Manager
	dialer      connection.Dialer
	clock       connection.Clock
	idleTimeout time.Duration
	logger      *slog.Logger

	mu        sync.Mutex
	registry  *subscription.Registry
	ready     connection.Generation // Connection whose resubscription pass has run
	closed    bool
	idleTimer connection.Timer
	idleEpoch uint64

	failures chan error
	failed   atomic.Bool

	framesDispatched atomic.Int64
	framesIgnored    atomic.Int64
	framesUnrouted   atomic.Int64
	decodeErrors     atomic.Int64
	callbackPanics   atomic.Int64
}

// New creates a Multiplexer. No connection is opened until the first
// Subscribe.
func New(cfg Config, c codec.Codec, logger *slog.Logger, opts ...Option) (*Multiplexer, error) {
	if c == nil {
		return nil, fmt.Errorf("mux %s: %w", cfg.Name, codec.ErrUnknownCodec)
	}
	if cfg.Connection.URL == "" {
		return nil, fmt.Errorf("mux %s: url is required", cfg.Name)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("stream", cfg.Name)

	failureBuffer := cfg.FailureBuffer
	if failureBuffer <= 0 {
		failureBuffer = 1
	}

	m := &Multiplexer{
		name:        cfg.Name,
		codec:       c,
		idleTimeout: cfg.IdleTimeout,
		logger:      logger,
		registry:    subscription.NewRegistry(),
		failures:    make(chan error, failureBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = connection.NewWebsocketDialer(cfg.Transport, logger)
	}
	if m.clock == nil {
		m.clock = connection.SystemClock
	}

	connCfg := cfg.Connection
	if len(connCfg.PingFrame) == 0 {
		connCfg.PingFrame = c.EncodePing()
	}

	hooks := connection.Hooks{
		OnConnected:   m.onConnected,
		OnMessage:     m.onMessage,
		OnStateChange: m.onStateChange,
		OnFailure:     m.onFailure,
	}
	m.conn = connection.NewManager(connCfg, m.dialer, hooks, logger, connection.WithClock(m.clock))

	return m, nil
}

// Name returns the stream name.
func (m *Multiplexer) Name() string { return m.name }

// Subscribe registers cb for t and returns a function that removes it. The
// returned function is safe to call more than once; only the first call has
// an effect. Subscribe opens the connection if needed.
func (m *Multiplexer) Subscribe(t topic.Topic, cb subscription.Callback) (func(), error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	// Inbound frames are keyed by the canonical topic, so subscribers must be too.
	t, err := topic.New(t.Kind, t.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}

	h, first := m.registry.Add(t, cb)
	m.stopIdleLocked()
	if first {
		// Before the first resubscription pass of a connection, that pass
		// covers the new topic instead.
		if m.ready != 0 && m.conn.SendOn(m.ready, m.codec.EncodeSubscribe(t)) {
			m.logger.Debug("subscribed", "topic", t.Key())
		}
	}
	m.conn.Connect()
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.unsubscribe(h) })
	}, nil
}

// SubscribePrice subscribes fn to price updates for token.
func (m *Multiplexer) SubscribePrice(token string, fn func(topic.PricePayload)) (func(), error) {
	t, err := topic.Price(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	return m.Subscribe(t, func(p topic.Payload) {
		if pp, ok := p.(topic.PricePayload); ok {
			fn(pp)
		}
	})
}

// SubscribeTrades subscribes fn to trades for token.
func (m *Multiplexer) SubscribeTrades(token string, fn func(topic.TradePayload)) (func(), error) {
	t, err := topic.Trades(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTopic, err)
	}
	if fn == nil {
		return nil, ErrNilCallback
	}
	return m.Subscribe(t, func(p topic.Payload) {
		if tp, ok := p.(topic.TradePayload); ok {
			fn(tp)
		}
	})
}

func (m *Multiplexer) unsubscribe(h subscription.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, _ := m.registry.Topic(h.Key())
	removed, last := m.registry.Remove(h)
	if !removed {
		return
	}

	if last && m.ready != 0 {
		if m.conn.SendOn(m.ready, m.codec.EncodeUnsubscribe(t)) {
			m.logger.Debug("unsubscribed", "topic", t.Key())
		}
	}

	if m.registry.Len() == 0 && !m.closed {
		m.scheduleIdleLocked()
	}
}

// Disconnect closes the connection and drops every subscription. It is
// final: later Subscribe calls return ErrClosed. Safe to call more than once.
func (m *Multiplexer) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.stopIdleLocked()
	m.registry.Clear()
	m.ready = 0
	m.conn.Disconnect()

	m.logger.Info("multiplexer closed")
}

// Close disconnects and waits for the connection goroutines to exit.
// Callbacks run on the read goroutine and must call Disconnect instead;
// Close from a callback would wait on itself until ctx expires.
func (m *Multiplexer) Close(ctx context.Context) error {
	m.Disconnect()
	return m.conn.Wait(ctx)
}

// Failures reports terminal connection failures (connection.ErrRetriesExhausted).
// Reports are dropped if the channel is full.
func (m *Multiplexer) Failures() <-chan error {
	return m.failures
}

// State returns the connection state.
func (m *Multiplexer) State() connection.State {
	return m.conn.State()
}

// Failed reports whether the connection gave up and has not reopened since.
func (m *Multiplexer) Failed() bool {
	return m.failed.Load()
}

// ActiveTopics returns the topics with at least one callback.
func (m *Multiplexer) ActiveTopics() []topic.Topic {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.ActiveTopics()
}

// Stats returns current statistics.
func (m *Multiplexer) Stats() Stats {
	m.mu.Lock()
	topics := m.registry.Len()
	callbacks := m.registry.Callbacks()
	closed := m.closed
	m.mu.Unlock()

	return Stats{
		Name:             m.name,
		Codec:            m.codec.Name(),
		Closed:           closed,
		Failed:           m.failed.Load(),
		ActiveTopics:     topics,
		Callbacks:        callbacks,
		FramesDispatched: m.framesDispatched.Load(),
		FramesIgnored:    m.framesIgnored.Load(),
		FramesUnrouted:   m.framesUnrouted.Load(),
		DecodeErrors:     m.decodeErrors.Load(),
		CallbackPanics:   m.callbackPanics.Load(),
		Connection:       m.conn.Stats(),
	}
}

// onConnected replays a subscribe frame for every active topic. It runs
// before the connection's first inbound frame is read.
func (m *Multiplexer) onConnected(gen connection.Generation) {
	m.failed.Store(false)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	topics := m.registry.ActiveTopics()
	sent := 0
	for _, t := range topics {
		if m.conn.SendOn(gen, m.codec.EncodeSubscribe(t)) {
			sent++
		}
	}
	m.ready = gen

	m.logger.Info("resubscribed", "topics", len(topics), "sent", sent)
}

// onMessage decodes one inbound frame and fans it out.
func (m *Multiplexer) onMessage(data []byte) {
	in, err := m.codec.Decode(data)
	if err != nil {
		if errors.Is(err, codec.ErrNotTopicFrame) {
			m.framesIgnored.Add(1)
			m.logger.Debug("ignoring control frame", "frame", truncate(data))
			return
		}
		m.decodeErrors.Add(1)
		m.logger.Warn("dropping undecodable frame", "error", err, "frame", truncate(data))
		return
	}

	m.mu.Lock()
	callbacks := m.registry.CallbacksFor(in.Key)
	m.mu.Unlock()

	if len(callbacks) == 0 {
		m.framesUnrouted.Add(1)
		m.logger.Debug("no subscribers for frame", "topic", in.Key)
		return
	}

	m.framesDispatched.Add(1)
	for _, cb := range callbacks {
		m.invoke(in.Key, cb, in.Payload)
	}
}

func (m *Multiplexer) invoke(key topic.Key, cb subscription.Callback, p topic.Payload) {
	defer func() {
		if r := recover(); r != nil {
			m.callbackPanics.Add(1)
			m.logger.Warn("callback panicked", "topic", key, "panic", r)
		}
	}()
	cb(p)
}

func (m *Multiplexer) onStateChange(from, to connection.State) {
	m.logger.Info("connection state", "from", from.String(), "to", to.String())
}

func (m *Multiplexer) onFailure(err error) {
	m.failed.Store(true)
	m.logger.Error("stream failed", "error", err)

	select {
	case m.failures <- err:
	default:
		m.logger.Warn("failure channel full, dropping report")
	}
}

// scheduleIdleLocked closes the connection once the registry has stayed
// empty for idleTimeout.
func (m *Multiplexer) scheduleIdleLocked() {
	switch {
	case m.idleTimeout < 0:
		return
	case m.idleTimeout == 0:
		m.teardownLocked()
		return
	}

	m.stopIdleLocked()
	epoch := m.idleEpoch
	m.idleTimer = m.clock.AfterFunc(m.idleTimeout, func() { m.idle(epoch) })
}

func (m *Multiplexer) idle(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idleEpoch != epoch || m.closed || m.registry.Len() != 0 {
		return
	}
	m.idleTimer = nil
	m.teardownLocked()
}

func (m *Multiplexer) teardownLocked() {
	m.ready = 0
	m.conn.Disconnect()
	m.logger.Info("idle, connection closed")
}

func (m *Multiplexer) stopIdleLocked() {
	m.idleEpoch++
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
}

func truncate(data []byte) string {
	const max = 256
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
