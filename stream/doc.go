// Package stream implements the Parsec real-time WebSocket client.
//
// A Client owns one connection to the feed at a time. It authenticates with
// the caller's API key, subscribes to (market, outcome) feeds, and maintains
// a locally reconstructed limit order book per feed from the server's
// snapshot+delta protocol. Sequence gaps and server resync requests trigger
// a transparent resync; unexpected transport drops trigger reconnection with
// capped exponential backoff and automatic resubscription of every desired
// feed. Authentication failures are terminal and never reconnect.
package stream
