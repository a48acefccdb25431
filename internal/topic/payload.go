package topic

import "time"

// Payload is the decoded body of an inbound data frame. Its concrete type is
// either PricePayload or TradePayload, matching the topic kind it arrived on.
type Payload interface {
	Kind() Kind
}

// Side is the taker side of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PricePayload is a live price update for a token.
type PricePayload struct {
	Token     string
	PriceUSD  string // Decimal string, e.g. "0.000001234"
	MarketCap string // USD, decimal string
	Change24h string // Percent, decimal string
	Timestamp time.Time
}

// Kind implements Payload.
func (PricePayload) Kind() Kind { return KindPrice }

// TradePayload is a single swap on a token's pool.
type TradePayload struct {
	Token       string
	TxHash      string
	Side        Side
	Trader      string
	AmountToken string // Token units, decimal string
	AmountQuote string // Quote currency units, decimal string
	PriceUSD    string
	Timestamp   time.Time
}

// Kind implements Payload.
func (TradePayload) Kind() Kind { return KindTrades }
