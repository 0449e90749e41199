// Package database provides connection pool management for TimescaleDB.
//
// The recorder stores everything it captures as time-series data:
// orderbook snapshots, per-level deltas, and market activity events.
package database
