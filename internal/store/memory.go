package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

// MemoryStore is a concurrency-safe in-memory implementation of mix.Store.
// Batches are applied to a copy and swapped in, so a rejected batch leaves no trace.
type MemoryStore struct {
	mu sync.RWMutex

	// key: unix seconds of the record timestamp
	data map[int64]mix.Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[int64]mix.Record),
	}
}

// Open returns a session over the shared map.
func (s *MemoryStore) Open(ctx context.Context) (mix.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return memorySession{s: s}, nil
}

// Len reports the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type memorySession struct {
	s *MemoryStore
}

func (m memorySession) MaxTimestamp(ctx context.Context) (time.Time, bool, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var (
		latest int64
		found  bool
	)
	for k := range m.s.data {
		if !found || k > latest {
			latest, found = k, true
		}
	}
	if !found {
		return time.Time{}, false, nil
	}
	return m.s.data[latest].Timestamp, true, nil
}

func (m memorySession) UpsertBatch(ctx context.Context, records []mix.Record) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	next := make(map[int64]mix.Record, len(m.s.data)+len(records))
	for k, v := range m.s.data {
		next[k] = v
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := checkRow(rec); err != nil {
			return err
		}
		rec.Timestamp = rec.Timestamp.UTC().Truncate(time.Second)
		next[rec.Timestamp.Unix()] = cloneRecord(rec)
	}

	m.s.data = next
	return nil
}

func (m memorySession) QueryRange(ctx context.Context, from, to time.Time) ([]mix.Record, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var result []mix.Record
	for _, rec := range m.s.data {
		if (rec.Timestamp.Equal(from) || rec.Timestamp.After(from)) &&
			(rec.Timestamp.Equal(to) || rec.Timestamp.Before(to)) {
			result = append(result, cloneRecord(rec))
		}
	}
	mix.SortRecords(result)
	return result, nil
}

func (m memorySession) Close() error { return nil }

// checkRow mirrors the constraints the SQL schema enforces.
func checkRow(rec mix.Record) error {
	if rec.Timestamp.IsZero() {
		return fmt.Errorf("%w: zero timestamp", ErrConstraint)
	}
	if rec.CarbonIntensity < 0 {
		return fmt.Errorf("%w: negative carbon intensity at %s", ErrConstraint, rec.Key())
	}
	return nil
}

func cloneRecord(rec mix.Record) mix.Record {
	fuels := make(map[string]float64, len(rec.FuelBreakdown))
	for k, v := range rec.FuelBreakdown {
		fuels[k] = v
	}
	rec.FuelBreakdown = fuels
	return rec
}
