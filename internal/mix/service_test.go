package mix_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/generation-mix-ingest/internal/mix"
	"github.com/i474232898/generation-mix-ingest/internal/store"
)

type recordingObserver struct {
	reports []mix.RunReport
}

func (o *recordingObserver) ObserveRun(ctx context.Context, r mix.RunReport) {
	o.reports = append(o.reports, r)
}

func newService(t *testing.T, src *fakeSource, history int, obs ...mix.RunObserver) (*mix.Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return mix.NewService(newEngine(st, src), st, history, nil, obs...), st
}

func TestService_IngestRecordsRunsAndNotifies(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	src := &fakeSource{batches: [][]mix.RawRecord{{raw(t0.Add(-time.Hour), 100), raw(t0.Add(-30*time.Minute), 120)}}}
	svc, _ := newService(t, src, 0, obs)

	report, err := svc.Ingest(ctx, t0)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 2, report.Result.Upserted)
	assert.Empty(t, report.Err)

	require.Len(t, obs.reports, 1)
	assert.Equal(t, report.ID, obs.reports[0].ID)

	runs := svc.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, report.ID, runs[0].ID)
}

func TestService_FailedRunIsRecordedButNotObserved(t *testing.T) {
	obs := &recordingObserver{}
	src := &fakeSource{err: errors.New("upstream 503")}
	svc, _ := newService(t, src, 0, obs)

	report, err := svc.Ingest(context.Background(), t0)
	require.Error(t, err)
	assert.Contains(t, report.Err, "upstream 503")
	assert.Empty(t, obs.reports)
	require.Len(t, svc.Runs(), 1)
}

func TestService_RunHistoryIsBoundedNewestFirst(t *testing.T) {
	svc, _ := newService(t, &fakeSource{}, 2)

	var ids []string
	for i := 0; i < 3; i++ {
		r, err := svc.Ingest(context.Background(), t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	runs := svc.Runs()
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].ID)
	assert.Equal(t, ids[1], runs[1].ID)
}

func TestService_Reads(t *testing.T) {
	ctx := context.Background()
	a, b := t0.Add(-time.Hour), t0.Add(-30*time.Minute)
	src := &fakeSource{batches: [][]mix.RawRecord{{raw(a, 100), raw(b, 200)}}}
	svc, _ := newService(t, src, 0)

	_, err := svc.Latest(ctx)
	assert.ErrorIs(t, err, mix.ErrNoData)
	_, err = svc.Range(ctx, a, b)
	assert.ErrorIs(t, err, mix.ErrNoData)

	_, err = svc.Ingest(ctx, t0)
	require.NoError(t, err)

	recs, err := svc.Range(ctx, a, b)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, a, recs[0].Timestamp)

	_, err = svc.Range(ctx, b, a)
	require.Error(t, err)
	assert.NotErrorIs(t, err, mix.ErrNoData)

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, latest.Timestamp)

	sum, err := svc.Summary(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)
	assert.InDelta(t, 150.0, sum.AvgCarbonIntensity, 1e-9)

	_, err = svc.Summary(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour))
	assert.ErrorIs(t, err, mix.ErrNoData)
}
