package recorder

import "time"

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the initial capacity of the input buffer.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// bookRow represents a row for the orderbook_events table.
type bookRow struct {
	RecordedAt int64 // Microseconds, local receive time
	ExchangeTs int64 // Milliseconds, upstream exchange time
	IngestTs   int64 // Milliseconds, feed ingest time
	ParsecID   string
	Outcome    string
	Kind       string // "snapshot" or "delta"
	ServerSeq  int64
	BookState  string
	FeedState  string
	Bids       []byte // JSONB: [[price, size], ...] best first
	Asks       []byte // JSONB
	BestBid    float64
	BestAsk    float64
	MidPrice   float64
	Spread     float64
}

// activityRow represents a row for the market_activity table.
type activityRow struct {
	EventID       string // UUID, generated locally
	RecordedAt    int64  // Microseconds
	ExchangeTs    int64  // Milliseconds
	IngestTs      int64  // Milliseconds
	ParsecID      string
	Outcome       string
	Kind          string
	Price         float64
	Size          float64
	TradeID       string
	Side          string
	AggressorSide string
	ServerSeq     int64
	SourceChannel string
}
