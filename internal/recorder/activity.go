package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/parsec-api/parsec-go/stream"
)

// ActivityWriter consumes activity events from its input buffer and
// writes them to the market_activity table.
type ActivityWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the stream client's activity handler
	input *Buffer[stream.Activity]

	// Database
	db DB

	// Batching
	batch       []activityRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewActivityWriter creates a new ActivityWriter.
func NewActivityWriter(
	cfg WriterConfig,
	input *Buffer[stream.Activity],
	db DB,
	logger *slog.Logger,
) *ActivityWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]activityRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming events and writing to the database.
func (w *ActivityWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("activity writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer. Anything still buffered is
// drained into the batch and flushed on the caller's context; the
// writer's own context is already cancelled by then.
func (w *ActivityWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping activity writer")

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
		w.logger.Info("activity writer stopped")
	case <-ctx.Done():
		w.logger.Warn("activity writer stop timed out")
	}

	// Final flush, including whatever the consume loop had not picked up
	for _, ev := range w.input.Drain(0) {
		w.add(ev)
	}
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *ActivityWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input buffer and accumulates batches.
func (w *ActivityWriter) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			ev, ok := w.input.TryReceive()
			if !ok {
				select {
				case <-w.ctx.Done():
					return
				case <-time.After(10 * time.Millisecond):
					continue
				}
			}

			w.handleActivity(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *ActivityWriter) flushLoop() {
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

// handleActivity adds an event to the batch, flushing when it is full.
func (w *ActivityWriter) handleActivity(ev stream.Activity) {
	if w.add(ev) >= w.cfg.BatchSize {
		w.flush(w.ctx)
	}
}

// add transforms and appends one event, returning the batch length.
func (w *ActivityWriter) add(ev stream.Activity) int {
	row := transformActivity(ev)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch)
}

// transformActivity converts an Activity to an activityRow. Events carry
// no natural key across kinds, so each row gets a locally generated UUID.
func transformActivity(ev stream.Activity) activityRow {
	return activityRow{
		EventID:       uuid.NewString(),
		RecordedAt:    ev.ReceivedAt.UnixMicro(),
		ExchangeTs:    ev.ExchangeTsMs,
		IngestTs:      ev.IngestTsMs,
		ParsecID:      ev.ParsecID,
		Outcome:       ev.Outcome,
		Kind:          ev.Kind,
		Price:         ev.Price,
		Size:          ev.Size,
		TradeID:       ev.TradeID,
		Side:          ev.Side,
		AggressorSide: ev.AggressorSide,
		ServerSeq:     ev.ServerSeq,
		SourceChannel: ev.SourceChannel,
	}
}

// flush writes the current batch to the database.
func (w *ActivityWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]activityRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("activity batch insert failed", "error", err, "count", len(batch))
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

	w.logger.Debug("flushed activity",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch. Trades carry an upstream
// trade_id, so replays after a reconnect dedupe on it; everything else
// is keyed by the generated event id.
func (w *ActivityWriter) batchInsert(ctx context.Context, rows []activityRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO market_activity (event_id, recorded_at, exchange_ts, ingest_ts, parsec_id, outcome, kind, price, size, trade_id, side, aggressor_side, server_seq, source_channel)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11, $12, $13, $14)
			ON CONFLICT (parsec_id, trade_id) WHERE trade_id IS NOT NULL DO NOTHING
		`, r.EventID, r.RecordedAt, r.ExchangeTs, r.IngestTs, r.ParsecID, r.Outcome, r.Kind, r.Price, r.Size, r.TradeID, r.Side, r.AggressorSide, r.ServerSeq, r.SourceChannel)
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
