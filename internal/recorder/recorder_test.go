package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/memestream/internal/topic"
)

type fakeSource struct {
	mu       sync.Mutex
	prices   map[string]func(topic.PricePayload)
	trades   map[string]func(topic.TradePayload)
	failOn   string
	unsubbed int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prices: make(map[string]func(topic.PricePayload)),
		trades: make(map[string]func(topic.TradePayload)),
	}
}

func (s *fakeSource) SubscribePrice(token string, fn func(topic.PricePayload)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == s.failOn {
		return nil, errors.New("rejected")
	}
	s.prices[token] = fn
	return s.unsubscriber(), nil
}

func (s *fakeSource) SubscribeTrades(token string, fn func(topic.TradePayload)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == s.failOn {
		return nil, errors.New("rejected")
	}
	s.trades[token] = fn
	return s.unsubscriber(), nil
}

func (s *fakeSource) unsubscriber() func() {
	return func() {
		s.mu.Lock()
		s.unsubbed++
		s.mu.Unlock()
	}
}

func (s *fakeSource) emitPrice(token string, p topic.PricePayload) {
	s.mu.Lock()
	fn := s.prices[token]
	s.mu.Unlock()
	fn(p)
}

func (s *fakeSource) emitTrade(token string, p topic.TradePayload) {
	s.mu.Lock()
	fn := s.trades[token]
	s.mu.Unlock()
	fn(p)
}

type fakeStore struct {
	mu        sync.Mutex
	trades    []TradeRow
	prices    []PriceRow
	seen      map[string]bool
	calls     int
	failTrade error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string]bool)}
}

func (s *fakeStore) InsertTrades(_ context.Context, rows []TradeRow) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failTrade != nil {
		return 0, s.failTrade
	}
	conflicts := 0
	for _, r := range rows {
		key := r.Token + "/" + r.TxHash
		if s.seen[key] {
			conflicts++
			continue
		}
		s.seen[key] = true
		s.trades = append(s.trades, r)
	}
	return conflicts, nil
}

func (s *fakeStore) InsertPrices(_ context.Context, rows []PriceRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.prices = append(s.prices, rows...)
	return nil
}

func (s *fakeStore) counts() (trades, prices int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trades), len(s.prices)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestTransformTrade(t *testing.T) {
	receivedAt := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	tradedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	p := topic.TradePayload{
		Token:       "0xAbC",
		TxHash:      "0xdead",
		Side:        topic.SideBuy,
		Trader:      "0xbeef",
		AmountToken: "1000000",
		AmountQuote: "12.5",
		PriceUSD:    "0.0000125",
		Timestamp:   tradedAt,
	}

	row := transformTrade(p, receivedAt)

	if row.Token != "0xAbC" {
		t.Errorf("Token = %s, want 0xAbC", row.Token)
	}
	if row.TxHash != "0xdead" {
		t.Errorf("TxHash = %s, want 0xdead", row.TxHash)
	}
	if row.Side != "buy" {
		t.Errorf("Side = %s, want buy", row.Side)
	}
	if row.AmountQuote != "12.5" {
		t.Errorf("AmountQuote = %s, want 12.5", row.AmountQuote)
	}
	if !row.TradedAt.Equal(tradedAt) {
		t.Errorf("TradedAt = %v, want %v", row.TradedAt, tradedAt)
	}
	if !row.ReceivedAt.Equal(receivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", row.ReceivedAt, receivedAt)
	}
}

func TestTransformTrade_MissingTimestamp(t *testing.T) {
	receivedAt := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)

	row := transformTrade(topic.TradePayload{TxHash: "0x1"}, receivedAt)

	if !row.TradedAt.Equal(receivedAt) {
		t.Errorf("TradedAt = %v, want receivedAt %v", row.TradedAt, receivedAt)
	}
}

func TestTransformPrice(t *testing.T) {
	receivedAt := time.Date(2024, 5, 1, 12, 0, 1, 0, time.FixedZone("X", 3600))
	p := topic.PricePayload{
		Token:     "PEPE",
		PriceUSD:  "0.0000012",
		MarketCap: "500000000",
		Change24h: "-3.2",
	}

	row := transformPrice(p, receivedAt)

	if row.PriceUSD != "0.0000012" {
		t.Errorf("PriceUSD = %s, want 0.0000012", row.PriceUSD)
	}
	if row.Change24h != "-3.2" {
		t.Errorf("Change24h = %s, want -3.2", row.Change24h)
	}
	if !row.Ts.Equal(receivedAt) {
		t.Errorf("Ts = %v, want %v", row.Ts, receivedAt)
	}
	if row.Ts.Location() != time.UTC {
		t.Errorf("Ts location = %v, want UTC", row.Ts.Location())
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	src := newFakeSource()
	store := newFakeStore()
	cfg := Config{
		Tokens:        []string{"PEPE", "WIF"},
		BatchSize:     100,
		FlushInterval: 20 * time.Millisecond,
		BufferSize:    1000,
	}
	r := New(cfg, src, store, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.emitPrice("PEPE", topic.PricePayload{Token: "PEPE", PriceUSD: "0.1"})
	src.emitTrade("WIF", topic.TradePayload{Token: "WIF", TxHash: "0x1", Side: topic.SideSell})

	waitFor(t, func() bool {
		trades, prices := store.counts()
		return trades == 1 && prices == 1
	}, "interval flush")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if src.unsubbed != 4 {
		t.Errorf("unsubscribed = %d, want 4", src.unsubbed)
	}

	stats := r.Stats()
	if stats.Received != 2 {
		t.Errorf("Received = %d, want 2", stats.Received)
	}
	if stats.TradeInserts != 1 {
		t.Errorf("TradeInserts = %d, want 1", stats.TradeInserts)
	}
	if stats.PriceInserts != 1 {
		t.Errorf("PriceInserts = %d, want 1", stats.PriceInserts)
	}
	if stats.Flushes < 1 {
		t.Errorf("Flushes = %d, want >= 1", stats.Flushes)
	}
}

func TestRecorder_FlushOnBatchSize(t *testing.T) {
	src := newFakeSource()
	store := newFakeStore()
	cfg := Config{
		Tokens:        []string{"PEPE"},
		BatchSize:     3,
		FlushInterval: time.Hour,
		BufferSize:    100,
	}
	r := New(cfg, src, store, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop(context.Background())

	for _, tx := range []string{"0x1", "0x2", "0x3"} {
		src.emitTrade("PEPE", topic.TradePayload{Token: "PEPE", TxHash: tx})
	}

	waitFor(t, func() bool {
		trades, _ := store.counts()
		return trades == 3
	}, "size-triggered flush")
}

func TestRecorder_Conflicts(t *testing.T) {
	src := newFakeSource()
	store := newFakeStore()
	cfg := Config{Tokens: []string{"PEPE"}, BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}
	r := New(cfg, src, store, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.emitTrade("PEPE", topic.TradePayload{Token: "PEPE", TxHash: "0x1"})
	src.emitTrade("PEPE", topic.TradePayload{Token: "PEPE", TxHash: "0x1"})

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := r.Stats()
	if stats.TradeInserts != 1 {
		t.Errorf("TradeInserts = %d, want 1", stats.TradeInserts)
	}
	if stats.TradeConflicts != 1 {
		t.Errorf("TradeConflicts = %d, want 1", stats.TradeConflicts)
	}
}

func TestRecorder_StoreError(t *testing.T) {
	src := newFakeSource()
	store := newFakeStore()
	store.failTrade = errors.New("connection reset")
	cfg := Config{Tokens: []string{"PEPE"}, BatchSize: 100, FlushInterval: time.Hour, BufferSize: 100}
	r := New(cfg, src, store, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	src.emitTrade("PEPE", topic.TradePayload{Token: "PEPE", TxHash: "0x1"})
	src.emitPrice("PEPE", topic.PricePayload{Token: "PEPE", PriceUSD: "1"})

	if err := r.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	stats := r.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.TradeInserts != 0 {
		t.Errorf("TradeInserts = %d, want 0", stats.TradeInserts)
	}
	if stats.PriceInserts != 1 {
		t.Errorf("PriceInserts = %d, want 1", stats.PriceInserts)
	}
}

func TestRecorder_StartSubscribeError(t *testing.T) {
	src := newFakeSource()
	src.failOn = "BAD"
	cfg := Config{Tokens: []string{"PEPE", "BAD"}}
	r := New(cfg, src, newFakeStore(), nil)

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for rejected token")
	}
	if src.unsubbed != 2 {
		t.Errorf("unsubscribed = %d, want 2 (rollback of PEPE)", src.unsubbed)
	}
}

func TestRecorder_DefaultsApplied(t *testing.T) {
	r := New(Config{}, newFakeSource(), newFakeStore(), nil)
	def := DefaultConfig()

	if r.cfg.BatchSize != def.BatchSize {
		t.Errorf("BatchSize = %d, want %d", r.cfg.BatchSize, def.BatchSize)
	}
	if r.cfg.FlushInterval != def.FlushInterval {
		t.Errorf("FlushInterval = %v, want %v", r.cfg.FlushInterval, def.FlushInterval)
	}
	if r.cfg.BufferSize != def.BufferSize {
		t.Errorf("BufferSize = %d, want %d", r.cfg.BufferSize, def.BufferSize)
	}
}
