// Package database provides the TimescaleDB connection pool used by the
// recorder.
//
// The stream service keeps no relational state; feed payloads are
// time-series rows (trades, price ticks) and go to TimescaleDB only.
package database
