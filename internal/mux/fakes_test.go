package mux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/memestream/internal/connection"
)

var errPeerClosed = errors.New("peer closed")

// fakeConn is an in-memory connection.Conn.
type fakeConn struct {
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case <-c.closed:
		return nil, errPeerClosed
	default:
	}
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errPeerClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

// fakeDialer hands out queued results in order.
type fakeDialer struct {
	results chan dialResult

	mu    sync.Mutex
	dials int
}

type dialResult struct {
	conn connection.Conn
	err  error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{results: make(chan dialResult, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (connection.Conn, error) {
	d.mu.Lock()
	d.dials++
	d.mu.Unlock()

	select {
	case r := <-d.results:
		return r.conn, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *fakeDialer) queue(c *fakeConn) *fakeConn {
	d.results <- dialResult{conn: c}
	return c
}

func (d *fakeDialer) fail(err error) {
	d.results <- dialResult{err: err}
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeClock records timers; tests fire them explicitly.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) connection.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) pending(d time.Duration) []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.d == d {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) fire(t *fakeTimer) {
	c.mu.Lock()
	if t.stopped || t.fired {
		c.mu.Unlock()
		return
	}
	t.fired = true
	c.mu.Unlock()
	t.f()
}

func (c *fakeClock) awaitTimer(t *testing.T, d time.Duration) *fakeTimer {
	t.Helper()
	var got []*fakeTimer
	waitFor(t, func() bool {
		got = c.pending(d)
		return len(got) == 1
	}, "one armed %v timer", d)
	return got[0]
}

func waitFor(t *testing.T, cond func() bool, format string, args ...any) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for "+format, args...)
}
