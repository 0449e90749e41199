package stream

import (
	"encoding/json"
	"fmt"
	"time"
)

// messageEnvelope is used for type extraction before a full parse.
type messageEnvelope struct {
	Type string `json:"type"`
}

// -----------------------------------------------------------------------------
// Client → server
// -----------------------------------------------------------------------------

type authMsg struct {
	Type   string `json:"type"`
	APIKey string `json:"api_key"`
}

// wireMarket names one feed in a subscribe/unsubscribe message.
type wireMarket struct {
	ParsecID string `json:"parsec_id"`
	Outcome  string `json:"outcome"`
	Depth    int    `json:"depth,omitempty"`
}

type subscribeMsg struct {
	Type    string       `json:"type"`
	Markets []wireMarket `json:"markets"`
}

type resyncMsg struct {
	Type     string `json:"type"`
	ParsecID string `json:"parsec_id"`
	Outcome  string `json:"outcome"`
}

// -----------------------------------------------------------------------------
// Server → client
// -----------------------------------------------------------------------------

type authOKMsg struct {
	CustomerID string `json:"customer_id"`
}

type authErrorMsg struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// wireLevel is a two-element [price, size] pair on the wire.
type wireLevel struct {
	Price float64
	Size  float64
}

func (l *wireLevel) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level: want [price, size], got %d elements", len(pair))
	}
	l.Price, l.Size = pair[0], pair[1]
	return nil
}

// snapshotMsg is the wire format for type "orderbook" (kind "snapshot").
type snapshotMsg struct {
	ParsecID     string      `json:"parsec_id"`
	Exchange     string      `json:"exchange"`
	Outcome      string      `json:"outcome"`
	TokenID      string      `json:"token_id"`
	MarketID     string      `json:"market_id"`
	TickSize     float64     `json:"tick_size"`
	Kind         string      `json:"kind"`
	Bids         []wireLevel `json:"bids"`
	Asks         []wireLevel `json:"asks"`
	BookState    string      `json:"book_state"`
	ServerSeq    int64       `json:"server_seq"`
	FeedState    string      `json:"feed_state"`
	StaleAfterMs int64       `json:"stale_after_ms"`
	ExchangeTsMs int64       `json:"exchange_ts_ms"`
	IngestTsMs   int64       `json:"ingest_ts_ms"`
}

// deltaChange is one price-level change inside an orderbook_delta message.
// A size of exactly zero removes the level.
type deltaChange struct {
	Side  string  `json:"side"` // "bid" or "ask"
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type deltaMsg struct {
	ParsecID     string        `json:"parsec_id"`
	Outcome      string        `json:"outcome"`
	Changes      []deltaChange `json:"changes"`
	ServerSeq    int64         `json:"server_seq"`
	FeedState    string        `json:"feed_state"`
	BookState    string        `json:"book_state"`
	StaleAfterMs int64         `json:"stale_after_ms"`
}

type resyncRequiredMsg struct {
	ParsecID string `json:"parsec_id"`
	Outcome  string `json:"outcome"`
}

type activityMsg struct {
	ParsecID      string  `json:"parsec_id"`
	Exchange      string  `json:"exchange"`
	Outcome       string  `json:"outcome"`
	TokenID       string  `json:"token_id"`
	MarketID      string  `json:"market_id"`
	Kind          string  `json:"kind"`
	Price         float64 `json:"price"`
	Size          float64 `json:"size"`
	TradeID       string  `json:"trade_id"`
	Side          string  `json:"side"`
	AggressorSide string  `json:"aggressor_side"`
	ServerSeq     int64   `json:"server_seq"`
	FeedState     string  `json:"feed_state"`
	ExchangeTsMs  int64   `json:"exchange_ts_ms"`
	IngestTsMs    int64   `json:"ingest_ts_ms"`
	SourceChannel string  `json:"source_channel"`
}

func (m *activityMsg) toEvent(receivedAt time.Time) Activity {
	return Activity{
		ParsecID:      m.ParsecID,
		Exchange:      m.Exchange,
		Outcome:       m.Outcome,
		TokenID:       m.TokenID,
		MarketID:      m.MarketID,
		Kind:          m.Kind,
		Price:         m.Price,
		Size:          m.Size,
		TradeID:       m.TradeID,
		Side:          m.Side,
		AggressorSide: m.AggressorSide,
		ServerSeq:     m.ServerSeq,
		FeedState:     m.FeedState,
		ExchangeTsMs:  m.ExchangeTsMs,
		IngestTsMs:    m.IngestTsMs,
		SourceChannel: m.SourceChannel,
		ReceivedAt:    receivedAt,
	}
}

type slowReaderMsg struct {
	ParsecID string `json:"parsec_id"`
	Outcome  string `json:"outcome"`
}

type heartbeatMsg struct {
	TsMs int64 `json:"ts_ms"`
}

type serverErrorMsg struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
