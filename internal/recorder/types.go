package recorder

import (
	"context"
	"time"

	"github.com/rickgao/memestream/internal/topic"
)

// Config holds recorder settings.
type Config struct {
	Tokens        []string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // Maximum queued payloads before the oldest are dropped
}

// DefaultConfig returns default recorder configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Metrics tracks recorder statistics.
type Metrics struct {
	Received       int64 `json:"received"` // Payloads accepted from callbacks
	Dropped        int64 `json:"dropped"`  // Payloads evicted from a full queue
	TradeInserts   int64 `json:"trade_inserts"`
	TradeConflicts int64 `json:"trade_conflicts"` // Duplicate (token, tx_hash) rows skipped
	PriceInserts   int64 `json:"price_inserts"`
	Flushes        int64 `json:"flushes"`
	Errors         int64 `json:"errors"`
	Queued         int   `json:"queued"`
}

// Source is the subscription surface the recorder reads from.
// *mux.Multiplexer satisfies it.
type Source interface {
	SubscribePrice(token string, fn func(topic.PricePayload)) (func(), error)
	SubscribeTrades(token string, fn func(topic.TradePayload)) (func(), error)
}

// Store persists batches of rows.
type Store interface {
	InsertTrades(ctx context.Context, rows []TradeRow) (conflicts int, err error)
	InsertPrices(ctx context.Context, rows []PriceRow) error
}

// TradeRow is one row of the trades table.
type TradeRow struct {
	Token       string
	TxHash      string
	Side        string
	Trader      string
	AmountToken string
	AmountQuote string
	PriceUSD    string
	TradedAt    time.Time
	ReceivedAt  time.Time
}

// PriceRow is one row of the price_ticks table.
type PriceRow struct {
	Token      string
	PriceUSD   string
	MarketCap  string
	Change24h  string
	Ts         time.Time
	ReceivedAt time.Time
}

// entry is a queued payload stamped with its arrival time.
type entry struct {
	payload    topic.Payload
	receivedAt time.Time
}
