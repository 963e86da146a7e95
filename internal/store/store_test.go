package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
)

var base = time.Date(2025, 10, 20, 0, 0, 0, 0, time.UTC)

func rec(offset time.Duration, ci float64) mix.Record {
	return mix.Record{
		Timestamp:       base.Add(offset),
		FuelBreakdown:   map[string]float64{"GAS": 1000 + ci, "WIND": 500},
		CarbonIntensity: ci,
	}
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "genmix.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every backend that needs no external service.
func backends(t *testing.T, fn func(t *testing.T, s mix.Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

func open(t *testing.T, s mix.Store) mix.Session {
	t.Helper()
	sess, err := s.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestMaxTimestamp(t *testing.T) {
	backends(t, func(t *testing.T, s mix.Store) {
		ctx := context.Background()
		sess := open(t, s)

		_, ok, err := sess.MaxTimestamp(ctx)
		require.NoError(t, err)
		assert.False(t, ok, "empty store has no watermark")

		require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{rec(time.Hour, 10), rec(3*time.Hour, 30), rec(2*time.Hour, 20)}))

		latest, ok, err := sess.MaxTimestamp(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, base.Add(3*time.Hour).Equal(latest), "got %s", latest)
	})
}

func TestUpsertBatchReplacesOnConflict(t *testing.T) {
	backends(t, func(t *testing.T, s mix.Store) {
		ctx := context.Background()
		sess := open(t, s)

		require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{rec(0, 100), rec(30*time.Minute, 110)}))

		updated := rec(0, 250)
		updated.FuelBreakdown = map[string]float64{"NUCLEAR": 4000}
		require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{updated}))

		got, err := sess.QueryRange(ctx, base, base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 250.0, got[0].CarbonIntensity)
		assert.Equal(t, map[string]float64{"NUCLEAR": 4000}, got[0].FuelBreakdown)
		assert.Equal(t, 110.0, got[1].CarbonIntensity)
	})
}

func TestUpsertBatchIsAtomic(t *testing.T) {
	backends(t, func(t *testing.T, s mix.Store) {
		ctx := context.Background()
		sess := open(t, s)

		require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{rec(0, 100)}))

		bad := rec(time.Hour, 0)
		bad.CarbonIntensity = -1
		err := sess.UpsertBatch(ctx, []mix.Record{rec(0, 999), rec(30*time.Minute, 120), bad})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConstraint), "got %v", err)

		got, err := sess.QueryRange(ctx, base, base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1, "failed batch must leave no rows behind")
		assert.Equal(t, 100.0, got[0].CarbonIntensity)
	})
}

func TestQueryRangeIsInclusiveAndOrdered(t *testing.T) {
	backends(t, func(t *testing.T, s mix.Store) {
		ctx := context.Background()
		sess := open(t, s)

		var batch []mix.Record
		for i := 5; i >= 0; i-- {
			batch = append(batch, rec(time.Duration(i)*30*time.Minute, float64(i)))
		}
		require.NoError(t, sess.UpsertBatch(ctx, batch))

		got, err := sess.QueryRange(ctx, base.Add(30*time.Minute), base.Add(2*time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 4)
		for i, r := range got {
			assert.True(t, base.Add(time.Duration(i+1)*30*time.Minute).Equal(r.Timestamp))
		}

		got, err = sess.QueryRange(ctx, base.Add(10*time.Hour), base.Add(11*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestQueryRangeSubSecondBounds(t *testing.T) {
	backends(t, func(t *testing.T, s mix.Store) {
		ctx := context.Background()
		sess := open(t, s)

		require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{rec(0, 1), rec(time.Second, 2)}))

		got, err := sess.QueryRange(ctx, base.Add(500*time.Millisecond), base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1, "rows before a fractional from are excluded")
		assert.True(t, base.Add(time.Second).Equal(got[0].Timestamp))

		got, err = sess.QueryRange(ctx, base.Add(-time.Hour), base.Add(1500*time.Millisecond))
		require.NoError(t, err)
		assert.Len(t, got, 2, "a fractional to still covers the whole second before it")

		got, err = sess.QueryRange(ctx, base.Add(200*time.Millisecond), base.Add(800*time.Millisecond))
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestUpsertNormalizesTimestampsToUTC(t *testing.T) {
	backends(t, func(t *testing.T, s mix.Store) {
		ctx := context.Background()
		sess := open(t, s)

		london := time.FixedZone("BST", 3600)
		r := rec(0, 1)
		r.Timestamp = base.Add(time.Hour).In(london)
		require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{r}))

		got, err := sess.QueryRange(ctx, base.Add(time.Hour), base.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, time.UTC, got[0].Timestamp.Location())
	})
}

func TestSQLiteIsDurableAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "genmix.db")

	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	sess, err := s.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.UpsertBatch(ctx, []mix.Record{rec(0, 42)}))
	require.NoError(t, sess.Close())
	require.NoError(t, s.Close())

	s, err = NewSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sess = open(t, s)
	latest, ok, err := sess.MaxTimestamp(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, base.Equal(latest))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	b, err := New(ctx, Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, b)
	assert.NoError(t, b.Close())

	b, err = New(ctx, Config{Driver: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, b)
	assert.NoError(t, b.Close())

	_, err = New(ctx, Config{Driver: "mongo"})
	assert.ErrorIs(t, err, ErrUnknownDriver)

	_, err = New(ctx, Config{Driver: DriverSQLite})
	assert.Error(t, err)

	_, err = New(ctx, Config{Driver: DriverPostgres})
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = ? AND b = ?", sqliteDialect.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = $1 AND b = $2", postgresDialect.rebind("a = ? AND b = ?"))
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify(nil))
	assert.ErrorIs(t, classify(errors.New("database is locked (5) (SQLITE_BUSY)")), ErrLocked)
	assert.ErrorIs(t, classify(errors.New("constraint failed: CHECK constraint failed: carbon_intensity >= 0 (275)")), ErrConstraint)
	assert.ErrorIs(t, classify(errors.New(`ERROR: new row violates check constraint "mix_carbon_intensity_check" (SQLSTATE 23514)`)), ErrConstraint)

	other := errors.New("disk full")
	assert.Equal(t, other, classify(other))
}

func TestOpenRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Open(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
