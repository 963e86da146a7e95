package mix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBackfillWindow is the lookback used when the store is empty.
const DefaultBackfillWindow = 30 * 24 * time.Hour

// EngineConfig configures an Engine.
type EngineConfig struct {
	BackfillWindow time.Duration
	Bounds         Bounds
}

// Engine keeps the local store in step with the upstream source. Runs are idempotent:
// overlapping windows collapse onto the same rows because writes are keyed by timestamp.
type Engine struct {
	store     Store
	source    Source
	validator *Validator
	backfill  time.Duration
	logger    *zap.Logger

	// one run at a time per process
	mu sync.Mutex
}

// NewEngine creates a new Engine.
func NewEngine(store Store, source Source, cfg EngineConfig, logger *zap.Logger) *Engine {
	if cfg.BackfillWindow <= 0 {
		cfg.BackfillWindow = DefaultBackfillWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		source:    source,
		validator: NewValidator(cfg.Bounds),
		backfill:  cfg.BackfillWindow,
		logger:    logger,
	}
}

// Run fetches [watermark, now] from the source and upserts every valid record.
// The watermark is the store's latest timestamp, or now minus the backfill window.
// Source failures abort before any write; store failures leave no partial batch.
func (e *Engine) Run(ctx context.Context, now time.Time) (res IngestResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now = now.UTC()

	sess, err := e.store.Open(ctx)
	if err != nil {
		return IngestResult{}, &StoreError{Op: "open", Err: err}
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			e.logger.Warn("failed to close store session", zap.Error(cerr))
		}
	}()

	watermark, ok, err := sess.MaxTimestamp(ctx)
	if err != nil {
		return IngestResult{}, &StoreError{Op: "max timestamp", Err: err}
	}
	if !ok {
		watermark = now.Add(-e.backfill)
		e.logger.Info("store empty; backfilling", zap.Duration("window", e.backfill))
	}

	if !watermark.Before(now) {
		e.logger.Debug("nothing to fetch", zap.Time("watermark", watermark), zap.Time("now", now))
		return IngestResult{Skipped: true}, nil
	}

	res.From, res.To = watermark, now

	raws, err := e.source.Fetch(ctx, watermark, now)
	if err != nil {
		return res, &AdapterError{Source: e.source.Name(), Err: err}
	}
	res.Fetched = len(raws)

	byKey := make(map[int64]Record, len(raws))
	for _, raw := range raws {
		rec, verr := e.validator.Normalize(raw)
		if verr != nil {
			res.Rejected++
			e.logger.Debug("dropping invalid record", zap.Error(verr))
			continue
		}
		// later rows for the same instant replace earlier ones
		byKey[rec.Timestamp.Unix()] = rec
	}

	batch := make([]Record, 0, len(byKey))
	for _, rec := range byKey {
		batch = append(batch, rec)
	}
	SortRecords(batch)

	if len(batch) > 0 {
		if err := sess.UpsertBatch(ctx, batch); err != nil {
			return res, &StoreError{Op: "upsert batch", Err: err}
		}
	}
	res.Upserted = len(batch)

	e.logger.Info("ingestion run complete",
		zap.Time("from", res.From),
		zap.Time("to", res.To),
		zap.Int("fetched", res.Fetched),
		zap.Int("upserted", res.Upserted),
		zap.Int("rejected", res.Rejected),
	)
	return res, nil
}

// IsRetryable reports whether a Run error leaves the store untouched so the next
// invocation can simply try again.
func IsRetryable(err error) bool {
	var ae *AdapterError
	var se *StoreError
	return errors.As(err, &ae) || errors.As(err, &se)
}

func (r IngestResult) String() string {
	if r.Skipped {
		return "skipped (empty window)"
	}
	return fmt.Sprintf("fetched=%d upserted=%d rejected=%d window=[%s, %s]",
		r.Fetched, r.Upserted, r.Rejected, r.From.Format(TimeLayout), r.To.Format(TimeLayout))
}
