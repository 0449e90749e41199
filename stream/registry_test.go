package stream

import (
	"math"
	"testing"
	"time"
)

var testKey = FeedKey{ParsecID: "polymarket:0x123", Outcome: "Yes"}

func sampleSnapshot() *snapshotMsg {
	return &snapshotMsg{
		ParsecID:     "polymarket:0x123",
		Exchange:     "polymarket",
		Outcome:      "Yes",
		TokenID:      "tok_abc",
		MarketID:     "0x123",
		TickSize:     0.01,
		Kind:         "snapshot",
		Bids:         []wireLevel{{0.65, 1000}, {0.64, 2500}, {0.63, 500}},
		Asks:         []wireLevel{{0.66, 800}, {0.67, 1500}, {0.68, 300}},
		BookState:    BookFresh,
		ServerSeq:    1,
		FeedState:    FeedHealthy,
		StaleAfterMs: 5000,
		ExchangeTsMs: 1707044096000,
		IngestTsMs:   1707044096005,
	}
}

func sampleDelta(seq int64, changes ...deltaChange) *deltaMsg {
	return &deltaMsg{
		ParsecID:     "polymarket:0x123",
		Outcome:      "Yes",
		Changes:      changes,
		ServerSeq:    seq,
		FeedState:    FeedHealthy,
		BookState:    BookFresh,
		StaleAfterMs: 5000,
	}
}

func TestRegistry_Snapshot_CreatesState(t *testing.T) {
	r := newFeedRegistry()
	now := time.Now()

	book := r.applySnapshot(sampleSnapshot(), now)

	if book.Kind != "snapshot" {
		t.Errorf("Kind = %q, want snapshot", book.Kind)
	}
	if book.ParsecID != "polymarket:0x123" || book.Outcome != "Yes" {
		t.Errorf("feed = %s/%s, want polymarket:0x123/Yes", book.ParsecID, book.Outcome)
	}
	if book.Exchange != "polymarket" || book.TokenID != "tok_abc" || book.MarketID != "0x123" {
		t.Errorf("metadata = %s/%s/%s", book.Exchange, book.TokenID, book.MarketID)
	}
	if book.TickSize != 0.01 {
		t.Errorf("TickSize = %v, want 0.01", book.TickSize)
	}
	if book.ServerSeq != 1 {
		t.Errorf("ServerSeq = %d, want 1", book.ServerSeq)
	}
	if book.ExchangeTsMs != 1707044096000 || book.IngestTsMs != 1707044096005 {
		t.Errorf("timestamps = %d/%d", book.ExchangeTsMs, book.IngestTsMs)
	}
	if !book.ReceivedAt.Equal(now) {
		t.Errorf("ReceivedAt = %v, want %v", book.ReceivedAt, now)
	}

	wantBids := []Level{{0.65, 1000}, {0.64, 2500}, {0.63, 500}}
	if !levelsEqual(book.Bids, wantBids) {
		t.Errorf("Bids = %v, want %v", book.Bids, wantBids)
	}
	wantAsks := []Level{{0.66, 800}, {0.67, 1500}, {0.68, 300}}
	if !levelsEqual(book.Asks, wantAsks) {
		t.Errorf("Asks = %v, want %v", book.Asks, wantAsks)
	}

	if math.Abs(book.MidPrice-0.655) > 1e-9 {
		t.Errorf("MidPrice = %v, want 0.655", book.MidPrice)
	}
	if math.Abs(book.Spread-0.01) > 1e-9 {
		t.Errorf("Spread = %v, want 0.01", book.Spread)
	}
}

func TestRegistry_Snapshot_EmptySideNoDerived(t *testing.T) {
	r := newFeedRegistry()
	snap := sampleSnapshot()
	snap.Asks = nil

	book := r.applySnapshot(snap, time.Now())

	if book.MidPrice != 0 || book.Spread != 0 {
		t.Errorf("MidPrice/Spread = %v/%v, want 0/0 with an empty side", book.MidPrice, book.Spread)
	}
}

func TestRegistry_Delta_NoBaseline(t *testing.T) {
	r := newFeedRegistry()

	_, outcome := r.applyDelta(sampleDelta(1, deltaChange{Side: "bid", Price: 0.65, Size: 1500}), time.Now())

	if outcome != deltaNoBaseline {
		t.Errorf("outcome = %d, want deltaNoBaseline", outcome)
	}
	if r.len() != 0 {
		t.Errorf("registry len = %d, want 0", r.len())
	}
}

func TestRegistry_Delta_Applied(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())

	book, outcome := r.applyDelta(sampleDelta(2, deltaChange{Side: "bid", Price: 0.65, Size: 1500}), time.Now())

	if outcome != deltaApplied {
		t.Fatalf("outcome = %d, want deltaApplied", outcome)
	}
	if book.Kind != "delta" {
		t.Errorf("Kind = %q, want delta", book.Kind)
	}
	if book.ServerSeq != 2 {
		t.Errorf("ServerSeq = %d, want 2", book.ServerSeq)
	}

	wantBids := []Level{{0.65, 1500}, {0.64, 2500}, {0.63, 500}}
	if !levelsEqual(book.Bids, wantBids) {
		t.Errorf("Bids = %v, want %v", book.Bids, wantBids)
	}
	if math.Abs(book.MidPrice-0.655) > 1e-9 {
		t.Errorf("MidPrice = %v, want 0.655", book.MidPrice)
	}
	if math.Abs(book.Spread-0.01) > 1e-9 {
		t.Errorf("Spread = %v, want 0.01", book.Spread)
	}
}

func TestRegistry_Delta_InsertKeepsOrder(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())

	book, outcome := r.applyDelta(sampleDelta(2, deltaChange{Side: "bid", Price: 0.645, Size: 200}), time.Now())

	if outcome != deltaApplied {
		t.Fatalf("outcome = %d, want deltaApplied", outcome)
	}
	want := []float64{0.65, 0.645, 0.64, 0.63}
	if got := prices(book.Bids); !floatsEqual(got, want) {
		t.Errorf("bid prices = %v, want %v", got, want)
	}
}

func TestRegistry_Delta_Gap(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())

	_, outcome := r.applyDelta(sampleDelta(3, deltaChange{Side: "bid", Price: 0.65, Size: 1500}), time.Now())

	if outcome != deltaGap {
		t.Fatalf("outcome = %d, want deltaGap", outcome)
	}

	// State unchanged from the snapshot.
	e := r.feeds[testKey]
	if e.lastSeq != 1 {
		t.Errorf("lastSeq = %d, want 1", e.lastSeq)
	}
	if best, _ := e.bids.best(); best != (Level{0.65, 1000}) {
		t.Errorf("best bid = %v, want {0.65 1000}", best)
	}
}

func TestRegistry_Delta_DuplicateSeqIsGap(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())

	if _, outcome := r.applyDelta(sampleDelta(1), time.Now()); outcome != deltaGap {
		t.Errorf("outcome = %d, want deltaGap for a replayed sequence number", outcome)
	}
}

func TestRegistry_Delta_SuppressedWhileAwaitingResync(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())

	if !r.markAwaitingResync(testKey) {
		t.Fatal("markAwaitingResync = false, want true on first mark")
	}
	if r.markAwaitingResync(testKey) {
		t.Error("markAwaitingResync = true on second mark, want false")
	}

	// Even a correctly sequenced delta is dropped until a fresh snapshot.
	_, outcome := r.applyDelta(sampleDelta(2, deltaChange{Side: "bid", Price: 0.65, Size: 1500}), time.Now())
	if outcome != deltaSuppressed {
		t.Errorf("outcome = %d, want deltaSuppressed", outcome)
	}
}

func TestRegistry_Snapshot_ReplacesWholesaleAndClearsResync(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())
	r.markAwaitingResync(testKey)

	fresh := sampleSnapshot()
	fresh.ServerSeq = 10
	fresh.Bids = []wireLevel{{0.70, 2000}, {0.69, 3000}}
	fresh.Asks = []wireLevel{{0.71, 1000}, {0.72, 500}}

	book := r.applySnapshot(fresh, time.Now())

	if book.Kind != "snapshot" || book.ServerSeq != 10 {
		t.Errorf("Kind/ServerSeq = %q/%d, want snapshot/10", book.Kind, book.ServerSeq)
	}
	if best, _ := book.BestBid(); best.Price != 0.70 {
		t.Errorf("best bid = %v, want 0.70", best.Price)
	}

	// Deltas are accepted again starting from the new baseline.
	_, outcome := r.applyDelta(sampleDelta(11, deltaChange{Side: "ask", Price: 0.71, Size: 0}), time.Now())
	if outcome != deltaApplied {
		t.Errorf("outcome = %d, want deltaApplied after fresh snapshot", outcome)
	}
}

func TestRegistry_MarkAwaitingResync_UnknownFeed(t *testing.T) {
	r := newFeedRegistry()

	if r.markAwaitingResync(FeedKey{ParsecID: "kalshi:KXBTC", Outcome: "Yes"}) {
		t.Error("markAwaitingResync = true for unknown feed, want false")
	}
}

func TestRegistry_Reset(t *testing.T) {
	r := newFeedRegistry()
	r.applySnapshot(sampleSnapshot(), time.Now())

	r.reset()

	if r.len() != 0 {
		t.Errorf("len = %d, want 0 after reset", r.len())
	}
	if _, outcome := r.applyDelta(sampleDelta(2), time.Now()); outcome != deltaNoBaseline {
		t.Errorf("outcome = %d, want deltaNoBaseline after reset", outcome)
	}
}
