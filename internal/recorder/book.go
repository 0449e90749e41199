package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/parsec-api/parsec-go/stream"
)

// DB is the slice of a pgx pool the writers need.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// BookWriter consumes reconstructed orderbooks from its input buffer and
// writes them to the orderbook_events table.
type BookWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the stream client's orderbook handler
	input *Buffer[stream.Orderbook]

	// Database
	db DB

	// Batching
	batch       []bookRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewBookWriter creates a new BookWriter.
func NewBookWriter(
	cfg WriterConfig,
	input *Buffer[stream.Orderbook],
	db DB,
	logger *slog.Logger,
) *BookWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]bookRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming orderbooks and writing to the database.
func (w *BookWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("book writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Anything still buffered is
// drained into the batch and flushed on the caller's context; the
// writer's own context is already cancelled by then.
func (w *BookWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping book writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("book writer stopped")
	case <-ctx.Done():
		w.logger.Warn("book writer stop timed out")
	}

	// Final flush, including whatever the consume loop had not picked up
	for _, book := range w.input.Drain(0) {
		w.add(book)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *BookWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *BookWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			book, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleBook(book)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *BookWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleBook adds an orderbook to the batch, flushing when it is full.
func (w *BookWriter) handleBook(book stream.Orderbook) {
	if w.add(book) >= w.cfg.BatchSize {
		w.flush(w.ctx)
	}
}

// add transforms and appends one orderbook, returning the batch length.
func (w *BookWriter) add(book stream.Orderbook) int {
	row, err := transformBook(book)
	if err != nil {
		w.logger.Error("encode book levels failed",
			"parsec_id", book.ParsecID,
			"outcome", book.Outcome,
			"error", err,
		)
		w.batchMu.Lock()
		defer w.batchMu.Unlock()
		w.metrics.Errors++
		return len(w.batch)
	}

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch)
}

// transformBook converts an Orderbook to a bookRow.
func transformBook(book stream.Orderbook) (bookRow, error) {
	bids, err := levelsToJSONB(book.Bids)
	if err != nil {
		return bookRow{}, err
	}
	asks, err := levelsToJSONB(book.Asks)
	if err != nil {
		return bookRow{}, err
	}

	row := bookRow{
		RecordedAt: book.ReceivedAt.UnixMicro(),
		ExchangeTs: book.ExchangeTsMs,
		IngestTs:   book.IngestTsMs,
		ParsecID:   book.ParsecID,
		Outcome:    book.Outcome,
		Kind:       book.Kind,
		ServerSeq:  book.ServerSeq,
		BookState:  book.BookState,
		FeedState:  book.FeedState,
		Bids:       bids,
		Asks:       asks,
		MidPrice:   book.MidPrice,
		Spread:     book.Spread,
	}
	if best, ok := book.BestBid(); ok {
		row.BestBid = best.Price
	}
	if best, ok := book.BestAsk(); ok {
		row.BestAsk = best.Price
	}
	return row, nil
}

// levelsToJSONB encodes price levels as a JSONB array of [price, size]
// pairs, best level first.
func levelsToJSONB(levels []stream.Level) ([]byte, error) {
	pairs := make([][2]float64, len(levels))
	for i, l := range levels {
		pairs[i] = [2]float64{l.Price, l.Size}
	}
	return json.Marshal(pairs)
}

// flush writes the current batch to the database.
func (w *BookWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]bookRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("book batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed books",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *BookWriter) batchInsert(ctx context.Context, rows []bookRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO orderbook_events (recorded_at, exchange_ts, ingest_ts, parsec_id, outcome, kind, server_seq, book_state, feed_state, bids, asks, best_bid, best_ask, mid_price, spread)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (parsec_id, outcome, server_seq, kind) DO NOTHING
		`, r.RecordedAt, r.ExchangeTs, r.IngestTs, r.ParsecID, r.Outcome, r.Kind, r.ServerSeq, r.BookState, r.FeedState, r.Bids, r.Asks, r.BestBid, r.BestAsk, r.MidPrice, r.Spread)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
