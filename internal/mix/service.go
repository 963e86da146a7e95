package mix

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultRunHistory is the number of run reports kept when none is configured.
const DefaultRunHistory = 50

// Service orchestrates ingestion runs and serves reads over the store.
type Service struct {
	engine    *Engine
	store     Store
	observers []RunObserver
	logger    *zap.Logger

	mu         sync.RWMutex
	runs       []RunReport // oldest first
	maxHistory int
}

// NewService creates a new Service. If maxHistory is <= 0, DefaultRunHistory is used.
func NewService(engine *Engine, store Store, maxHistory int, logger *zap.Logger, observers ...RunObserver) *Service {
	if maxHistory <= 0 {
		maxHistory = DefaultRunHistory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		engine:     engine,
		store:      store,
		observers:  observers,
		logger:     logger,
		maxHistory: maxHistory,
	}
}

// Ingest performs one ingestion run as of now, records it, and notifies observers
// when it succeeds.
func (s *Service) Ingest(ctx context.Context, now time.Time) (RunReport, error) {
	report := RunReport{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	res, err := s.engine.Run(ctx, now)
	report.Result = res
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		report.Err = err.Error()
	}
	s.record(report)

	if err != nil {
		s.logger.Error("ingestion run failed",
			zap.String("run_id", report.ID),
			zap.Bool("retryable", IsRetryable(err)),
			zap.Error(err),
		)
		return report, err
	}

	s.logger.Info("ingestion run recorded",
		zap.String("run_id", report.ID),
		zap.Stringer("result", res),
		zap.Duration("duration", report.Duration),
	)
	for _, o := range s.observers {
		o.ObserveRun(ctx, report)
	}
	return report, nil
}

func (s *Service) record(report RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs = append(s.runs, report)
	if over := len(s.runs) - s.maxHistory; over > 0 {
		s.runs = s.runs[over:]
	}
}

// Runs returns recorded run reports, newest first.
func (s *Service) Runs() []RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RunReport, 0, len(s.runs))
	for i := len(s.runs) - 1; i >= 0; i-- {
		out = append(out, s.runs[i])
	}
	return out
}

// Range returns stored records in [from, to], or ErrNoData when there are none.
func (s *Service) Range(ctx context.Context, from, to time.Time) ([]Record, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: to %s is before from %s", to.Format(TimeLayout), from.Format(TimeLayout))
	}

	sess, err := s.store.Open(ctx)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	defer sess.Close()

	records, err := sess.QueryRange(ctx, from.UTC(), to.UTC())
	if err != nil {
		return nil, &StoreError{Op: "query range", Err: err}
	}
	if len(records) == 0 {
		return nil, ErrNoData
	}
	return records, nil
}

// Summary aggregates the records in [from, to].
func (s *Service) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	records, err := s.Range(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(records), nil
}

// Latest returns the most recent stored record.
func (s *Service) Latest(ctx context.Context) (Record, error) {
	sess, err := s.store.Open(ctx)
	if err != nil {
		return Record{}, &StoreError{Op: "open", Err: err}
	}
	defer sess.Close()

	ts, ok, err := sess.MaxTimestamp(ctx)
	if err != nil {
		return Record{}, &StoreError{Op: "max timestamp", Err: err}
	}
	if !ok {
		return Record{}, ErrNoData
	}

	records, err := sess.QueryRange(ctx, ts, ts)
	if err != nil {
		return Record{}, &StoreError{Op: "query range", Err: err}
	}
	if len(records) == 0 {
		return Record{}, ErrNoData
	}
	return records[0], nil
}
