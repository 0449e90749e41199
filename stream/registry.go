package stream

import "time"

// FeedKey identifies one (market, outcome) feed. Both components are
// matched exactly, case included.
type FeedKey struct {
	ParsecID string
	Outcome  string
}

func (k FeedKey) String() string {
	return k.ParsecID + "/" + k.Outcome
}

// feedEntry is the book state for one feed. It exists only from the first
// snapshot onward and does not survive reconnects.
type feedEntry struct {
	bids bookSide
	asks bookSide

	lastSeq        int64
	awaitingResync bool

	exchange string
	tokenID  string
	marketID string
	tickSize float64

	bookState    string
	feedState    string
	staleAfterMs int64
	exchangeTsMs int64
	ingestTsMs   int64
}

// book copies the entry into a consumer-facing event with derived fields.
func (e *feedEntry) book(key FeedKey, kind string, receivedAt time.Time) Orderbook {
	b := Orderbook{
		ParsecID:     key.ParsecID,
		Exchange:     e.exchange,
		Outcome:      key.Outcome,
		TokenID:      e.tokenID,
		MarketID:     e.marketID,
		Kind:         kind,
		TickSize:     e.tickSize,
		Bids:         e.bids.snapshot(),
		Asks:         e.asks.snapshot(),
		BookState:    e.bookState,
		FeedState:    e.feedState,
		ServerSeq:    e.lastSeq,
		StaleAfterMs: e.staleAfterMs,
		ExchangeTsMs: e.exchangeTsMs,
		IngestTsMs:   e.ingestTsMs,
		ReceivedAt:   receivedAt,
	}

	bid, okBid := e.bids.best()
	ask, okAsk := e.asks.best()
	if okBid && okAsk {
		b.MidPrice = (bid.Price + ask.Price) / 2
		b.Spread = ask.Price - bid.Price
	}
	return b
}

// deltaOutcome classifies what the registry did with a delta message.
type deltaOutcome int

const (
	deltaApplied    deltaOutcome = iota
	deltaNoBaseline              // no snapshot received for the feed yet
	deltaSuppressed              // feed is awaiting resync
	deltaGap                     // sequence discontinuity, delta not applied
)

// feedRegistry owns the mapping from feed key to book state. It is mutated
// exclusively from the session's dispatch goroutine and needs no lock.
type feedRegistry struct {
	feeds map[FeedKey]*feedEntry
}

func newFeedRegistry() *feedRegistry {
	return &feedRegistry{feeds: make(map[FeedKey]*feedEntry)}
}

// applySnapshot unconditionally creates or replaces the feed's state from a
// snapshot message and clears any awaiting-resync marker.
func (r *feedRegistry) applySnapshot(msg *snapshotMsg, receivedAt time.Time) Orderbook {
	key := FeedKey{ParsecID: msg.ParsecID, Outcome: msg.Outcome}

	e := &feedEntry{
		bids:         bookSide{descending: true},
		lastSeq:      msg.ServerSeq,
		exchange:     msg.Exchange,
		tokenID:      msg.TokenID,
		marketID:     msg.MarketID,
		tickSize:     msg.TickSize,
		bookState:    msg.BookState,
		feedState:    msg.FeedState,
		staleAfterMs: msg.StaleAfterMs,
		exchangeTsMs: msg.ExchangeTsMs,
		ingestTsMs:   msg.IngestTsMs,
	}
	e.bids.replace(msg.Bids)
	e.asks.replace(msg.Asks)
	r.feeds[key] = e

	return e.book(key, "snapshot", receivedAt)
}

// applyDelta applies an incremental update against the feed's baseline.
// Deltas must carry exactly lastSeq+1; anything else is a gap and the delta
// is not applied. The returned outcome tells the session whether to emit,
// drop, or start a resync.
func (r *feedRegistry) applyDelta(msg *deltaMsg, receivedAt time.Time) (Orderbook, deltaOutcome) {
	key := FeedKey{ParsecID: msg.ParsecID, Outcome: msg.Outcome}

	e, ok := r.feeds[key]
	if !ok {
		return Orderbook{}, deltaNoBaseline
	}
	if e.awaitingResync {
		return Orderbook{}, deltaSuppressed
	}
	if msg.ServerSeq != e.lastSeq+1 {
		return Orderbook{}, deltaGap
	}

	for _, ch := range msg.Changes {
		switch ch.Side {
		case "bid":
			e.bids.apply(ch.Price, ch.Size)
		case "ask":
			e.asks.apply(ch.Price, ch.Size)
		}
	}
	e.lastSeq = msg.ServerSeq
	e.bookState = msg.BookState
	e.feedState = msg.FeedState
	e.staleAfterMs = msg.StaleAfterMs

	return e.book(key, "delta", receivedAt), deltaApplied
}

// markAwaitingResync flags the feed so deltas are suppressed until the next
// snapshot. Returns true when the feed was newly marked, false when there
// is no state to invalidate or the feed is already awaiting resync.
func (r *feedRegistry) markAwaitingResync(key FeedKey) bool {
	e, ok := r.feeds[key]
	if !ok || e.awaitingResync {
		return false
	}
	e.awaitingResync = true
	return true
}

// reset discards every feed's state. Used after a reconnect: all books are
// invalid and will be rebuilt from the fresh snapshots the server emits for
// each resubscribed feed.
func (r *feedRegistry) reset() {
	r.feeds = make(map[FeedKey]*feedEntry)
}

func (r *feedRegistry) len() int {
	return len(r.feeds)
}
