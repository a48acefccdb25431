// Package recorder persists live feed payloads to TimescaleDB.
//
// The recorder subscribes to price and trade topics through a multiplexer,
// queues payloads from the fan-out callbacks without blocking them, and
// batch-writes them on size or interval:
//   - trades (append-only, duplicates on (token, tx_hash) are skipped)
//   - price_ticks (append-only)
package recorder
