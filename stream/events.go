package stream

import "time"

// Feed health states reported by the server.
const (
	FeedHealthy      = "healthy"
	FeedDegraded     = "degraded"
	FeedDisconnected = "disconnected"
)

// Book freshness states reported by the server.
const (
	BookFresh = "fresh"
	BookStale = "stale"
)

// Level is one price level of an order book side.
type Level struct {
	Price float64
	Size  float64
}

// Orderbook is the reconstructed book for one feed, emitted on every
// snapshot and on every applied delta.
type Orderbook struct {
	ParsecID string
	Exchange string
	Outcome  string
	TokenID  string
	MarketID string

	// Kind is "snapshot" when the book was rebuilt wholesale and "delta"
	// when an incremental update was applied to an existing baseline.
	Kind string

	TickSize float64
	Bids     []Level // sorted descending by price
	Asks     []Level // sorted ascending by price

	// MidPrice and Spread are derived from the best bid and best ask.
	// Both are zero when either side is empty.
	MidPrice float64
	Spread   float64

	BookState    string
	FeedState    string
	ServerSeq    int64
	StaleAfterMs int64
	ExchangeTsMs int64
	IngestTsMs   int64

	ReceivedAt time.Time
}

// BestBid returns the highest bid, if any.
func (b *Orderbook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the lowest ask, if any.
func (b *Orderbook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// Activity is a trade (or other activity kind) report for one feed.
type Activity struct {
	ParsecID      string
	Exchange      string
	Outcome       string
	TokenID       string
	MarketID      string
	Kind          string // "trade" or another server-defined kind
	Price         float64
	Size          float64
	TradeID       string
	Side          string
	AggressorSide string
	ServerSeq     int64
	FeedState     string
	ExchangeTsMs  int64
	IngestTsMs    int64
	SourceChannel string
	ReceivedAt    time.Time
}

// Handlers carries the consumer's event callbacks, one per event kind.
// Nil entries are skipped. Handlers run on the session's dispatch goroutine
// (reconnect notifications come from the supervisor's timer goroutine), so
// they must not block; hand work off to a channel or buffer instead.
type Handlers struct {
	OnConnected    func()
	OnOrderbook    func(Orderbook)
	OnActivity     func(Activity)
	OnError        func(ServerError)
	OnDisconnected func(reason string)
	OnReconnecting func(attempt int, delay time.Duration)
	OnSlowReader   func(parsecID, outcome string)
	OnHeartbeat    func(tsMs int64)
}
