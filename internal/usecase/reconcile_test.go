package usecase

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/internal/repository"
	"MergeWatch/internal/services/merger"
	"MergeWatch/pkg/cache"
	"MergeWatch/pkg/util"
)

const minute = int64(60_000)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

type memStore struct {
	persisted []*models.Anomaly
	saved     [][]*models.Anomaly
	filters   []domrepo.AnomalyFilter
	saveErr   error
	// copies makes every Filter return new objects, as a database does.
	copies bool
}

func (s *memStore) Filter(_ context.Context, f domrepo.AnomalyFilter) ([]*models.Anomaly, error) {
	s.filters = append(s.filters, f)
	if !s.copies {
		return s.persisted, nil
	}
	out := make([]*models.Anomaly, 0, len(s.persisted))
	for _, a := range s.persisted {
		c := *a
		c.Labels = slices.Clone(a.Labels)
		out = append(out, &c)
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, anomalies []*models.Anomaly) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, anomalies)
	return nil
}

func (s *memStore) Health(context.Context) error { return nil }

type recordingPublisher struct {
	batches [][]*models.Anomaly
	err     error
}

func (p *recordingPublisher) PublishReconciled(_ context.Context, _, _ int64, anomalies []*models.Anomaly) error {
	p.batches = append(p.batches, anomalies)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

type nopMetrics struct{ errors []string }

func (m *nopMetrics) RecordMergeOutcome(string, int) {}
func (m *nopMetrics) RecordError(kind string)        { m.errors = append(m.errors, kind) }
func (m *nopMetrics) RecordLatency(string, float64)  {}

func defaults() MergerDefaults {
	return MergerDefaults{
		MergeMaxGap:                 "PT1M",
		MergeMaxDuration:            "P7D",
		ReNotifyPercentageThreshold: -1,
		ReNotifyAbsoluteThreshold:   -1,
		LockTTL:                     time.Minute,
	}
}

func fresh(start, end int64, current, baseline float64) *models.Anomaly {
	return &models.Anomaly{StartTime: start, EndTime: end, AvgCurrentVal: current, AvgBaselineVal: baseline}
}

func interval(t *testing.T, start, end int64) util.Interval {
	t.Helper()
	in, err := util.NewInterval(start, end, time.UTC)
	require.NoError(t, err)
	return in
}

type fixture struct {
	store   *memStore
	locks   *cache.MemoryCache
	status  *repository.CacheStatusStore
	pub     *recordingPublisher
	metrics *nopMetrics
	uc      *ReconcileUseCase
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mc := cache.NewMemoryCache()
	t.Cleanup(func() { _ = mc.Close() })
	f := &fixture{
		store:   &memStore{},
		locks:   mc,
		status:  repository.NewCacheStatusStore(mc, time.Hour),
		pub:     &recordingPublisher{},
		metrics: &nopMetrics{},
	}
	f.uc = NewReconcileUseCase(f.store, f.locks, f.status, f.metrics, defaults(), f.pub)
	f.uc.now = func() time.Time { return time.UnixMilli(t0).UTC() }
	return f
}

func TestReconcile_MergesPersistsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	branches := map[string]*models.BranchResult{
		"root": {Anomalies: []*models.Anomaly{
			fresh(t0, t0+minute, 10, 1),
			fresh(t0+2*minute, t0+3*minute, 12, 1),
		}},
	}
	res, err := f.uc.Reconcile(ctx, ReconcileRequest{
		AlertID:  7,
		Interval: interval(t, t0, t0+10*minute),
		Branches: branches,
	})
	require.NoError(t, err)

	out := branches["root"].Anomalies
	require.Len(t, out, 1)
	parent := out[0]
	assert.Len(t, parent.Children, 2)
	assert.Equal(t, int64(7), parent.AlertID)
	assert.Equal(t, t0+3*minute, parent.EndTime)
	assert.Equal(t, 3, res.Persisted)

	require.Len(t, f.store.saved, 1)
	assert.Equal(t, out, f.store.saved[0])
	require.Len(t, f.pub.batches, 1)
	assert.Equal(t, out, f.pub.batches[0])

	require.Len(t, f.store.filters, 1)
	assert.Equal(t, int64(7), f.store.filters[0].AlertID)

	status, err := f.status.Get(ctx, 7, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Persisted)
	assert.Equal(t, t0, status.IntervalStart)
	assert.Equal(t, res.Summary.Absorbed, status.Absorbed)

	ok, err := f.locks.TryLock(ctx, lockKey(7, 0), time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock must be released after the run")
}

func TestReconcile_BusySeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ok, err := f.locks.TryLock(ctx, lockKey(7, 3), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.uc.Reconcile(ctx, ReconcileRequest{
		AlertID:           7,
		EnumerationItemID: 3,
		Interval:          interval(t, t0, t0+minute),
		Branches:          map[string]*models.BranchResult{"root": {Anomalies: []*models.Anomaly{}}},
	})
	assert.ErrorIs(t, err, ErrSeriesBusy)
	assert.Empty(t, f.store.filters)
}

func TestReconcile_SaveFailureSkipsPublish(t *testing.T) {
	f := newFixture(t)
	f.store.saveErr = errors.New("clickhouse down")

	_, err := f.uc.Reconcile(context.Background(), ReconcileRequest{
		AlertID:  7,
		Interval: interval(t, t0, t0+minute),
		Branches: map[string]*models.BranchResult{"root": {Anomalies: []*models.Anomaly{fresh(t0, t0+minute, 5, 1)}}},
	})
	require.Error(t, err)
	assert.Empty(t, f.pub.batches)
	assert.Contains(t, f.metrics.errors, "store_save")

	_, err = f.status.Get(context.Background(), 7, 0)
	assert.ErrorIs(t, err, domrepo.ErrStatusNotFound)
}

func TestReconcile_OverridesAndInvalidPeriod(t *testing.T) {
	f := newFixture(t)

	_, err := f.uc.Reconcile(context.Background(), ReconcileRequest{
		AlertID:  7,
		Interval: interval(t, t0, t0+minute),
		Branches: map[string]*models.BranchResult{"root": {Anomalies: []*models.Anomaly{}}},
		Merger:   &models.MergerSettings{MergeMaxGap: "one minute"},
	})
	assert.ErrorIs(t, err, merger.ErrInvalidPeriod)

	ok, err := f.locks.TryLock(context.Background(), lockKey(7, 0), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReconcile_FreshAnomaliesAreScopedToTheSeries(t *testing.T) {
	f := newFixture(t)
	a := fresh(t0, t0+minute, 5, 1)
	a.ID = 99
	a.AlertID = 1
	a.IsChild = true

	branches := map[string]*models.BranchResult{
		"root":  {Anomalies: []*models.Anomaly{nil, a}},
		"empty": nil,
	}
	_, err := f.uc.Reconcile(context.Background(), ReconcileRequest{
		AlertID:           7,
		EnumerationItemID: 2,
		Interval:          interval(t, t0, t0+minute),
		Branches:          branches,
	})
	require.NoError(t, err)

	require.Len(t, branches["root"].Anomalies, 1)
	got := branches["root"].Anomalies[0]
	assert.Zero(t, got.ID)
	assert.False(t, got.IsChild)
	assert.Equal(t, int64(7), got.AlertID)
	assert.Equal(t, int64(2), got.EnumerationItemID)
	assert.Nil(t, branches["empty"])
}

func TestMergerDefaults_Spec(t *testing.T) {
	pct := 25.0
	s := defaults().spec(1, 2, &models.MergerSettings{MergeMaxDuration: "PT6H", ReNotifyPercentageThreshold: &pct}, models.UsageDetection)

	assert.Equal(t, "PT1M", s.MergeMaxGap)
	assert.Equal(t, "PT6H", s.MergeMaxDuration)
	assert.Equal(t, 25.0, s.ReNotifyPercentageThreshold)
	assert.Equal(t, -1.0, s.ReNotifyAbsoluteThreshold)
	assert.Equal(t, int64(2), s.EnumerationItemID)
}

func TestEvaluate_NeverTouchesStore(t *testing.T) {
	uc := NewEvaluateUseCase(defaults(), &nopMetrics{})
	branches := map[string]*models.BranchResult{
		"root": {Anomalies: []*models.Anomaly{
			fresh(t0, t0+minute, 10, 1),
			fresh(t0+minute, t0+2*minute, 11, 1),
			fresh(t0+30*minute, t0+31*minute, 11, 1),
		}},
	}
	res, err := uc.Evaluate(context.Background(), ReconcileRequest{
		Interval: interval(t, t0, t0+time.Hour.Milliseconds()),
		Branches: branches,
	})
	require.NoError(t, err)
	assert.Len(t, res.Branches["root"].Anomalies, 2)
	assert.Zero(t, res.Persisted)
}

func TestAnomalyQuery_ListReturnsTrees(t *testing.T) {
	child := &models.Anomaly{ID: 2, IsChild: true, ParentID: 1}
	parent := &models.Anomaly{ID: 1, Children: []*models.Anomaly{child}}
	store := &memStore{persisted: []*models.Anomaly{parent, child}}
	q := NewAnomalyQueryUseCase(store, nil, &nopMetrics{})

	got, err := q.List(context.Background(), domrepo.AnomalyFilter{AlertID: 1, IncludeRetired: true})
	require.NoError(t, err)
	assert.Equal(t, []*models.Anomaly{parent}, got)
	assert.True(t, store.filters[0].IncludeRetired)

	_, err = q.Status(context.Background(), 1, 0)
	assert.ErrorIs(t, err, domrepo.ErrStatusNotFound)
}

func TestReconcile_BranchesShareOneStoredRow(t *testing.T) {
	f := newFixture(t)
	f.store.copies = true
	f.store.persisted = []*models.Anomaly{{ID: 9, AlertID: 7, StartTime: t0, EndTime: t0 + minute, AvgCurrentVal: 10, AvgBaselineVal: 1}}

	branches := map[string]*models.BranchResult{
		"b": {Anomalies: []*models.Anomaly{fresh(t0, t0+minute, 10, 1)}},
		"a": {Anomalies: []*models.Anomaly{}},
	}
	_, err := f.uc.Reconcile(context.Background(), ReconcileRequest{
		AlertID:  7,
		Interval: interval(t, t0, t0+10*minute),
		Branches: branches,
	})
	require.NoError(t, err)
	require.Len(t, f.store.filters, 1)

	require.Len(t, f.store.saved, 1)
	var rows9 []*models.Anomaly
	for _, a := range models.Flatten(f.store.saved[0]) {
		if a.ID == 9 {
			rows9 = append(rows9, a)
		}
	}
	require.Len(t, rows9, 1, "a stored row must be saved once per run")
	assert.True(t, rows9[0].IsRetired())

	out := branches["b"].Anomalies
	require.Len(t, out, 1)
	assert.False(t, out[0].HasID())
}
