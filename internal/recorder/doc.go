// Package recorder implements batch writers that persist streamed market
// data to TimescaleDB.
//
// Writers:
//   - Book writer: orderbook snapshots and deltas (orderbook_events)
//   - Activity writer: trades and other activity (market_activity)
//
// All writers use append-only semantics (never update, only insert).
// Each writer drains a growable buffer so a slow database never blocks
// the stream dispatch path.
package recorder
