package codec

import (
	"bytes"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"

	"github.com/rickgao/memestream/internal/topic"
)

// Wire types shared by every protocol. Backends disagree on envelopes, not on
// the shape of price and trade bodies.

// decimal accepts a JSON string or number and keeps its literal text.
type decimal string

func (d *decimal) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*d = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := gojson.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = decimal(s)
		return nil
	}
	// Only the syntax is checked; out-of-range literals are kept as text.
	if len(b) == 0 || (b[0] != '-' && (b[0] < '0' || b[0] > '9')) || !gojson.Valid(b) {
		return fmt.Errorf("invalid decimal %s", b)
	}
	*d = decimal(b)
	return nil
}

// priceWire is the body of a price update.
type priceWire struct {
	Price     decimal `json:"price"`
	MarketCap decimal `json:"market_cap"`
	Change24h decimal `json:"change_24h"`
	Ts        int64   `json:"ts"` // Unix milliseconds
}

// tradeWire is the body of a trade.
type tradeWire struct {
	TxHash      string  `json:"tx_hash"`
	Side        string  `json:"side"` // "buy" or "sell"
	Trader      string  `json:"trader"`
	AmountToken decimal `json:"amount_token"`
	AmountQuote decimal `json:"amount_quote"`
	Price       decimal `json:"price"`
	Ts          int64   `json:"ts"` // Unix milliseconds
}

// pingFrame is the keepalive frame for every protocol in this package.
var pingFrame = mustMarshal(struct {
	Type string `json:"type"`
}{Type: "ping"})

// decodeBody parses a data body for t into the matching payload type.
func decodeBody(t topic.Topic, body []byte) (topic.Payload, error) {
	if len(body) == 0 {
		return nil, malformed("missing data for %s", t)
	}

	switch t.Kind {
	case topic.KindPrice:
		var w priceWire
		if err := gojson.Unmarshal(body, &w); err != nil {
			return nil, malformed("price body: %v", err)
		}
		if w.Price == "" {
			return nil, malformed("price body without price for %s", t)
		}
		return topic.PricePayload{
			Token:     t.ID,
			PriceUSD:  string(w.Price),
			MarketCap: string(w.MarketCap),
			Change24h: string(w.Change24h),
			Timestamp: millis(w.Ts),
		}, nil

	case topic.KindTrades:
		var w tradeWire
		if err := gojson.Unmarshal(body, &w); err != nil {
			return nil, malformed("trade body: %v", err)
		}
		if w.TxHash == "" {
			return nil, malformed("trade body without tx_hash for %s", t)
		}
		side := topic.Side(w.Side)
		if side != topic.SideBuy && side != topic.SideSell {
			return nil, malformed("trade side %q for %s", w.Side, t)
		}
		return topic.TradePayload{
			Token:       t.ID,
			TxHash:      w.TxHash,
			Side:        side,
			Trader:      w.Trader,
			AmountToken: string(w.AmountToken),
			AmountQuote: string(w.AmountQuote),
			PriceUSD:    string(w.Price),
			Timestamp:   millis(w.Ts),
		}, nil
	}

	return nil, malformed("unsupported kind %q", t.Kind)
}

func millis(ts int64) time.Time {
	if ts <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ts).UTC()
}

func mustMarshal(v any) []byte {
	data, err := gojson.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
