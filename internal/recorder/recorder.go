package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/memestream/internal/topic"
)

// Recorder subscribes to price and trade topics and batch-writes the
// payloads to a Store.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	source Source
	store  Store

	queue *Queue[entry]
	unsub []func()

	// Batching
	trades  []TradeRow
	prices  []PriceRow
	batchMu sync.Mutex
	flushMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics Metrics

	now func() time.Time
}

// New creates a new Recorder.
func New(cfg Config, source Source, store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	initial := cfg.BatchSize
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}

	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "recorder"),
		source: source,
		store:  store,
		queue:  NewQueue[entry](initial, cfg.BufferSize),
		trades: make([]TradeRow, 0, cfg.BatchSize),
		prices: make([]PriceRow, 0, cfg.BatchSize),
		now:    time.Now,
	}
}

// Start subscribes to every configured token and begins writing.
func (r *Recorder) Start(ctx context.Context) error {
	for _, token := range r.cfg.Tokens {
		unsubPrice, err := r.source.SubscribePrice(token, r.onPrice)
		if err != nil {
			r.unsubscribeAll()
			return fmt.Errorf("subscribe price %s: %w", token, err)
		}
		r.unsub = append(r.unsub, unsubPrice)

		unsubTrades, err := r.source.SubscribeTrades(token, r.onTrade)
		if err != nil {
			r.unsubscribeAll()
			return fmt.Errorf("subscribe trades %s: %w", token, err)
		}
		r.unsub = append(r.unsub, unsubTrades)
	}

	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"tokens", len(r.cfg.Tokens),
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop unsubscribes, drains the queue and flushes what is left.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	r.unsubscribeAll()
	r.queue.Close()

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	// Final flush
	r.drain()
	r.flush(ctx)

	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current metrics.
func (r *Recorder) Stats() Metrics {
	qs := r.queue.Stats()

	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	m := r.metrics
	m.Received = qs.Pushed
	m.Dropped = qs.Dropped
	m.Queued = qs.Len
	return m
}

func (r *Recorder) onPrice(p topic.PricePayload) {
	r.queue.Push(entry{payload: p, receivedAt: r.now()})
}

func (r *Recorder) onTrade(p topic.TradePayload) {
	r.queue.Push(entry{payload: p, receivedAt: r.now()})
}

func (r *Recorder) unsubscribeAll() {
	for _, u := range r.unsub {
		u()
	}
	r.unsub = nil
}

// consumeLoop moves queued payloads into batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.queue.Ready():
			if r.drain() {
				r.flush(r.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batches.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// drain empties the queue into the batches and reports whether either
// batch reached BatchSize.
func (r *Recorder) drain() bool {
	full := false
	for {
		entries := r.queue.Drain(r.cfg.BatchSize)
		if len(entries) == 0 {
			return full
		}

		r.batchMu.Lock()
		for _, e := range entries {
			switch p := e.payload.(type) {
			case topic.TradePayload:
				r.trades = append(r.trades, transformTrade(p, e.receivedAt))
			case topic.PricePayload:
				r.prices = append(r.prices, transformPrice(p, e.receivedAt))
			}
		}
		if len(r.trades) >= r.cfg.BatchSize || len(r.prices) >= r.cfg.BatchSize {
			full = true
		}
		r.batchMu.Unlock()
	}
}

// transformTrade converts a TradePayload to a TradeRow.
func transformTrade(p topic.TradePayload, receivedAt time.Time) TradeRow {
	tradedAt := p.Timestamp
	if tradedAt.IsZero() {
		tradedAt = receivedAt
	}
	return TradeRow{
		Token:       p.Token,
		TxHash:      p.TxHash,
		Side:        string(p.Side),
		Trader:      p.Trader,
		AmountToken: p.AmountToken,
		AmountQuote: p.AmountQuote,
		PriceUSD:    p.PriceUSD,
		TradedAt:    tradedAt.UTC(),
		ReceivedAt:  receivedAt.UTC(),
	}
}

// transformPrice converts a PricePayload to a PriceRow.
func transformPrice(p topic.PricePayload, receivedAt time.Time) PriceRow {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = receivedAt
	}
	return PriceRow{
		Token:      p.Token,
		PriceUSD:   p.PriceUSD,
		MarketCap:  p.MarketCap,
		Change24h:  p.Change24h,
		Ts:         ts.UTC(),
		ReceivedAt: receivedAt.UTC(),
	}
}

// flush writes the current batches to the store.
func (r *Recorder) flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.batchMu.Lock()
	trades, prices := r.trades, r.prices
	if len(trades) == 0 && len(prices) == 0 {
		r.batchMu.Unlock()
		return
	}
	r.trades = make([]TradeRow, 0, r.cfg.BatchSize)
	r.prices = make([]PriceRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()
	var (
		conflicts int
		errs      int64
	)

	if len(trades) > 0 {
		n, err := r.store.InsertTrades(ctx, trades)
		if err != nil {
			r.logger.Error("trade batch insert failed", "error", err, "count", len(trades))
			errs++
			trades = nil
		} else {
			conflicts = n
		}
	}

	if len(prices) > 0 {
		if err := r.store.InsertPrices(ctx, prices); err != nil {
			r.logger.Error("price batch insert failed", "error", err, "count", len(prices))
			errs++
			prices = nil
		}
	}

	r.batchMu.Lock()
	r.metrics.TradeInserts += int64(len(trades) - conflicts)
	r.metrics.TradeConflicts += int64(conflicts)
	r.metrics.PriceInserts += int64(len(prices))
	r.metrics.Errors += errs
	r.metrics.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed batches",
		"trades", len(trades),
		"conflicts", conflicts,
		"prices", len(prices),
		"duration", time.Since(start),
	)
}
