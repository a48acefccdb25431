package recorder

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS trades (
	token        TEXT        NOT NULL,
	tx_hash      TEXT        NOT NULL,
	side         TEXT        NOT NULL,
	trader       TEXT,
	amount_token NUMERIC,
	amount_quote NUMERIC,
	price_usd    NUMERIC,
	traded_at    TIMESTAMPTZ NOT NULL,
	received_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (token, tx_hash)
);

CREATE TABLE IF NOT EXISTS price_ticks (
	token       TEXT        NOT NULL,
	price_usd   NUMERIC,
	market_cap  NUMERIC,
	change_24h  NUMERIC,
	ts          TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS price_ticks_token_ts_idx ON price_ticks (token, ts DESC);
`

// PGStore writes rows to TimescaleDB with pgx batches.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a store on an existing pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// EnsureSchema creates the tables if they do not exist. When the timescaledb
// extension is installed, price_ticks becomes a hypertable on ts.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var timescale bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'timescaledb')`,
	).Scan(&timescale)
	if err != nil {
		return fmt.Errorf("check timescaledb extension: %w", err)
	}
	if !timescale {
		return nil
	}

	if _, err := s.db.Exec(ctx,
		`SELECT create_hypertable('price_ticks', 'ts', if_not_exists => TRUE, migrate_data => TRUE)`,
	); err != nil {
		return fmt.Errorf("create hypertable: %w", err)
	}
	return nil
}

// InsertTrades inserts rows with ON CONFLICT DO NOTHING and returns the
// number of duplicates skipped.
func (s *PGStore) InsertTrades(ctx context.Context, rows []TradeRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO trades (token, tx_hash, side, trader, amount_token, amount_quote, price_usd, traded_at, received_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9)
			ON CONFLICT (token, tx_hash) DO NOTHING
		`, r.Token, r.TxHash, r.Side, nullable(r.Trader),
			nullable(r.AmountToken), nullable(r.AmountQuote), nullable(r.PriceUSD),
			r.TradedAt, r.ReceivedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// InsertPrices inserts price ticks.
func (s *PGStore) InsertPrices(ctx context.Context, rows []PriceRow) error {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO price_ticks (token, price_usd, market_cap, change_24h, ts, received_at)
			VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5, $6)
		`, r.Token, nullable(r.PriceUSD), nullable(r.MarketCap), nullable(r.Change24h), r.Ts, r.ReceivedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
