package merger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/pkg/util"
)

const minute = int64(60_000)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

func unit(start, end int64, current, baseline float64) *models.Anomaly {
	return &models.Anomaly{
		AlertID:        1,
		StartTime:      start,
		EndTime:        end,
		AvgCurrentVal:  current,
		AvgBaselineVal: baseline,
	}
}

func stored(id, start, end int64, current, baseline float64) *models.Anomaly {
	a := unit(start, end, current, baseline)
	a.ID = id
	return a
}

// parentOf links children to a persisted parent the way the store returns them.
func parentOf(parent *models.Anomaly, children ...*models.Anomaly) []*models.Anomaly {
	out := []*models.Anomaly{parent}
	for _, c := range children {
		c.IsChild = true
		c.ParentID = parent.ID
		parent.Children = append(parent.Children, c)
		out = append(out, c)
	}
	return out
}

func ignoredLabel() models.AnomalyLabel {
	return models.AnomalyLabel{Name: "LOW_IMPACT", Ignore: true}
}

type fakeStore struct {
	anomalies []*models.Anomaly
	filters   []domrepo.AnomalyFilter
	err       error
}

func (f *fakeStore) Filter(_ context.Context, flt domrepo.AnomalyFilter) ([]*models.Anomaly, error) {
	f.filters = append(f.filters, flt)
	return f.anomalies, f.err
}

func (f *fakeStore) Save(context.Context, []*models.Anomaly) error { return nil }

func (f *fakeStore) Health(context.Context) error { return nil }

type countingMetrics struct {
	outcomes map[string]int
	errors   map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{outcomes: map[string]int{}, errors: map[string]int{}}
}

func (m *countingMetrics) RecordMergeOutcome(kind string, n int) { m.outcomes[kind] += n }
func (m *countingMetrics) RecordError(kind string)               { m.errors[kind]++ }
func (m *countingMetrics) RecordLatency(string, float64)         {}

func newProcessor(t *testing.T, store domrepo.AnomalyStore, mutate func(*Spec), opts ...Option) *PostProcessor {
	t.Helper()
	spec := DefaultSpec()
	spec.AlertID = 1
	spec.MergeMaxGap = "PT1M"
	if store == nil {
		spec.Usage = models.UsageEvaluation
	}
	if mutate != nil {
		mutate(&spec)
	}
	p, err := New(spec, store, opts...)
	require.NoError(t, err)
	return p
}

func window(t *testing.T, start, end int64) util.Interval {
	t.Helper()
	in, err := util.NewInterval(start, end, time.UTC)
	require.NoError(t, err)
	return in
}

func run(t *testing.T, p *PostProcessor, in util.Interval, fresh ...*models.Anomaly) ([]*models.Anomaly, Summary) {
	t.Helper()
	if fresh == nil {
		fresh = []*models.Anomaly{}
	}
	results := map[string]*models.BranchResult{"root": {Anomalies: fresh}}
	s, err := p.PostProcess(context.Background(), in, results)
	require.NoError(t, err)
	return results["root"].Anomalies, s
}
