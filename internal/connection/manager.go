package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Manager owns one WebSocket connection, its keepalive timer and its
// reconnect timer.
//
// Every open, loss and timer is tagged with an epoch. Disconnect and each
// state transition bump the epoch, so events that belong to an earlier
// epoch (a late dial, a read error from a closed socket, a timer that fired
// while being stopped) are ignored.
type Manager struct {
	cfg    Config
	dialer Dialer
	hooks  Hooks
	clock  Clock
	logger *slog.Logger

	// Goroutine coordination (dial + read loop)
	wg sync.WaitGroup

	mu         sync.Mutex
	state      State
	epoch      uint64
	conn       Conn
	attempt    int
	lastDelay  time.Duration
	lastErr    error
	dialCancel context.CancelFunc
	pingTimer  Timer
	retryTimer Timer

	connects       atomic.Int64
	reconnects     atomic.Int64
	framesSent     atomic.Int64
	framesDropped  atomic.Int64
	framesReceived atomic.Int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock used for ping and reconnect timers.
func WithClock(c Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewManager creates a Connection Manager. Nothing is dialed until Connect.
func NewManager(cfg Config, dialer Dialer, hooks Hooks, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:    cfg,
		dialer: dialer,
		hooks:  hooks,
		clock:  realClock{},
		logger: logger,
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the connection if none is open or being opened. It returns
// immediately; the outcome is reported through the hooks.
func (m *Manager) Connect() {
	m.mu.Lock()
	switch m.state {
	case StateConnecting, StateConnected, StateReconnectPending:
		m.mu.Unlock()
		return
	}

	from := m.setStateLocked(StateConnecting)
	m.attempt = 0
	epoch, ctx := m.beginDialLocked()
	m.mu.Unlock()

	m.notifyState(from, StateConnecting)
	m.logger.Info("connecting", "url", m.cfg.URL)

	go m.dial(ctx, epoch)
}

// Disconnect closes the connection and cancels every pending timer and
// in-flight dial. It is idempotent. A later Connect starts a fresh cycle.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	from := m.setStateLocked(StateDisconnected)
	m.epoch++
	m.stopTimersLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.attempt = 0
	m.lastErr = nil
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if from != StateDisconnected {
		m.logger.Info("disconnected", "url", m.cfg.URL)
	}
	m.notifyState(from, StateDisconnected)
}

// Send writes frame on the current connection. It reports false, without
// error, when no connection is open.
func (m *Manager) Send(frame []byte) bool {
	return m.send(0, frame)
}

// SendOn writes frame only if gen is still the open connection.
func (m *Manager) SendOn(gen Generation, frame []byte) bool {
	if gen == 0 {
		m.framesDropped.Add(1)
		return false
	}
	return m.send(gen, frame)
}

func (m *Manager) send(gen Generation, frame []byte) bool {
	m.mu.Lock()
	if m.state != StateConnected || (gen != 0 && Generation(m.epoch) != gen) {
		m.mu.Unlock()
		m.framesDropped.Add(1)
		return false
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.WriteMessage(frame); err != nil {
		// Closing makes the read loop observe the failure and run the
		// reconnect path; the writer never does.
		m.logger.Warn("write failed, closing connection", "error", err)
		conn.Close()
		m.framesDropped.Add(1)
		return false
	}

	m.framesSent.Add(1)
	return true
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	s := Stats{
		State:     m.state,
		Attempt:   m.attempt,
		LastDelay: m.lastDelay,
		LastError: m.lastErr,
	}
	m.mu.Unlock()

	s.Connects = m.connects.Load()
	s.Reconnects = m.reconnects.Load()
	s.FramesSent = m.framesSent.Load()
	s.FramesDropped = m.framesDropped.Load()
	s.FramesReceived = m.framesReceived.Load()
	return s
}

// Wait blocks until the dial and read goroutines have exited or ctx is done.
// Call it after Disconnect.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginDialLocked bumps the epoch for a new dial and registers the dial
// goroutine.
func (m *Manager) beginDialLocked() (uint64, context.Context) {
	m.epoch++

	timeout := m.cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().HandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	m.dialCancel = cancel

	m.wg.Add(1)
	return m.epoch, ctx
}

// dial opens the connection for epoch, then becomes its read loop.
func (m *Manager) dial(ctx context.Context, epoch uint64) {
	defer m.wg.Done()

	conn, err := m.dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.handleLoss(epoch, fmt.Errorf("dial: %w", err))
		return
	}

	m.mu.Lock()
	if m.epoch != epoch || m.state != StateConnecting {
		m.mu.Unlock()
		conn.Close()
		return
	}
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	from := m.setStateLocked(StateConnected)
	m.conn = conn
	m.attempt = 0
	m.lastErr = nil
	m.schedulePingLocked(epoch)
	m.mu.Unlock()

	m.connects.Add(1)
	m.notifyState(from, StateConnected)
	m.logger.Info("connected", "url", m.cfg.URL)

	// Resubscription happens here, before any inbound frame is read.
	if m.hooks.OnConnected != nil {
		m.hooks.OnConnected(Generation(epoch))
	}

	m.readLoop(epoch, conn)
}

// readLoop reads frames until the connection fails or epoch ends.
func (m *Manager) readLoop(epoch uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.handleLoss(epoch, fmt.Errorf("read: %w", err))
			return
		}
		if !m.current(epoch) {
			return
		}

		m.framesReceived.Add(1)
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(data)
		}
	}
}

// handleLoss runs the reconnect policy for an unintentional close or failed
// dial in epoch.
func (m *Manager) handleLoss(epoch uint64, cause error) {
	m.mu.Lock()
	if m.epoch != epoch || (m.state != StateConnected && m.state != StateConnecting) {
		m.mu.Unlock()
		return
	}

	m.stopTimersLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	conn := m.conn
	m.conn = nil
	m.lastErr = cause
	m.epoch++

	if m.cfg.MaxAttempts > 0 && m.attempt >= m.cfg.MaxAttempts {
		attempts := m.attempt
		from := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()

		if conn != nil {
			conn.Close()
		}
		m.notifyState(from, StateDisconnected)

		err := fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, attempts, cause)
		m.logger.Error("giving up on connection", "url", m.cfg.URL, "attempts", attempts, "error", cause)
		if m.hooks.OnFailure != nil {
			m.hooks.OnFailure(err)
		}
		return
	}

	delay := Backoff(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.attempt)
	m.attempt++
	attempt := m.attempt
	m.lastDelay = delay
	from := m.setStateLocked(StateReconnectPending)
	pending := m.epoch
	m.retryTimer = m.clock.AfterFunc(delay, func() { m.retry(pending) })
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.notifyState(from, StateReconnectPending)
	m.logger.Warn("connection lost, reconnecting",
		"url", m.cfg.URL,
		"attempt", attempt,
		"delay", delay,
		"error", cause,
	)
}

// retry fires when the backoff timer for epoch expires.
func (m *Manager) retry(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != StateReconnectPending {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	from := m.setStateLocked(StateConnecting)
	next, ctx := m.beginDialLocked()
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.notifyState(from, StateConnecting)

	go m.dial(ctx, next)
}

// schedulePingLocked arms the keepalive timer for epoch.
func (m *Manager) schedulePingLocked(epoch uint64) {
	if m.cfg.PingInterval <= 0 || len(m.cfg.PingFrame) == 0 {
		return
	}
	m.pingTimer = m.clock.AfterFunc(m.cfg.PingInterval, func() { m.ping(epoch) })
}

func (m *Manager) ping(epoch uint64) {
	m.mu.Lock()
	if m.epoch != epoch || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.schedulePingLocked(epoch)
	m.mu.Unlock()

	if !m.SendOn(Generation(epoch), m.cfg.PingFrame) {
		m.logger.Debug("ping not sent")
	}
}

func (m *Manager) stopTimersLocked() {
	if m.pingTimer != nil {
		m.pingTimer.Stop()
		m.pingTimer = nil
	}
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) current(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch
}

func (m *Manager) setStateLocked(to State) State {
	from := m.state
	m.state = to
	return from
}

func (m *Manager) notifyState(from, to State) {
	if from == to {
		return
	}
	m.logger.Debug("state change", "from", from, "to", to)
	if m.hooks.OnStateChange != nil {
		m.hooks.OnStateChange(from, to)
	}
}
