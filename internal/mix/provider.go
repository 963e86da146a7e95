package mix

import (
	"context"
	"time"
)

// Source abstracts an upstream generation-mix provider (e.g. the NESO datastore).
// Fetch may return rows at or before from; callers must tolerate overlap.
type Source interface {
	Name() string
	Fetch(ctx context.Context, from, to time.Time) ([]RawRecord, error)
}

// Store is the contract every time-series backend (SQLite, Postgres, memory) satisfies.
// A Session is acquired per run or per read and must be closed by the caller.
type Store interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a store handle scoped to one ingestion run or one read.
type Session interface {
	// MaxTimestamp reports the latest stored timestamp; ok is false on an empty store.
	MaxTimestamp(ctx context.Context) (ts time.Time, ok bool, err error)

	// UpsertBatch inserts or replaces every record by timestamp. It is atomic.
	UpsertBatch(ctx context.Context, records []Record) error

	// QueryRange returns records with from <= timestamp <= to, ascending.
	QueryRange(ctx context.Context, from, to time.Time) ([]Record, error)

	Close() error
}

// RunObserver is notified after every successful ingestion run.
type RunObserver interface {
	ObserveRun(ctx context.Context, report RunReport)
}
