package usecase

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/samber/lo"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/internal/services/merger"
	"MergeWatch/pkg/cache"
	"MergeWatch/pkg/logger"
	"MergeWatch/pkg/util"
)

// ErrSeriesBusy is returned when another worker holds the merge lock of the series.
var ErrSeriesBusy = errors.New("series is being reconciled elsewhere")

// MergerDefaults are the engine settings used when a request carries none.
type MergerDefaults struct {
	MergeMaxGap                 string
	MergeMaxDuration            string
	ReNotifyPercentageThreshold float64
	ReNotifyAbsoluteThreshold   float64
	LockTTL                     time.Duration
}

func (d MergerDefaults) spec(alertID, enumerationItemID int64, o *models.MergerSettings, usage models.Usage) merger.Spec {
	s := merger.Spec{
		MergeMaxGap:                 d.MergeMaxGap,
		MergeMaxDuration:            d.MergeMaxDuration,
		AlertID:                     alertID,
		EnumerationItemID:           enumerationItemID,
		ReNotifyPercentageThreshold: d.ReNotifyPercentageThreshold,
		ReNotifyAbsoluteThreshold:   d.ReNotifyAbsoluteThreshold,
		Usage:                       usage,
	}
	if o == nil {
		return s
	}
	if o.MergeMaxGap != "" {
		s.MergeMaxGap = o.MergeMaxGap
	}
	if o.MergeMaxDuration != "" {
		s.MergeMaxDuration = o.MergeMaxDuration
	}
	if o.ReNotifyPercentageThreshold != nil {
		s.ReNotifyPercentageThreshold = *o.ReNotifyPercentageThreshold
	}
	if o.ReNotifyAbsoluteThreshold != nil {
		s.ReNotifyAbsoluteThreshold = *o.ReNotifyAbsoluteThreshold
	}
	return s
}

// ReconcileRequest is one detection run over a series.
type ReconcileRequest struct {
	AlertID           int64
	EnumerationItemID int64
	Interval          util.Interval
	Branches          map[string]*models.BranchResult
	Merger            *models.MergerSettings
}

// NewReconcileRequest resolves w in its timezone, or def when it has none.
func NewReconcileRequest(alertID, enumerationItemID int64, w models.DetectionWindow, settings *models.MergerSettings, branches map[string]*models.BranchResult, def *time.Location) (ReconcileRequest, error) {
	interval, err := w.Interval(def)
	if err != nil {
		return ReconcileRequest{}, err
	}
	return ReconcileRequest{
		AlertID:           alertID,
		EnumerationItemID: enumerationItemID,
		Interval:          interval,
		Branches:          branches,
		Merger:            settings,
	}, nil
}

// ReconcileResult holds the reconciled branches and what the run did.
type ReconcileResult struct {
	Summary   merger.Summary                  `json:"summary"`
	Branches  map[string]*models.BranchResult `json:"branches"`
	Persisted int                             `json:"persisted"`
}

// ReconcileUseCase locks a series, merges fresh anomalies with the stored
// ones, then persists and publishes the outcome.
type ReconcileUseCase struct {
	store      domrepo.AnomalyStore
	locker     domrepo.Locker
	status     domrepo.StatusStore
	metrics    domrepo.Metrics
	publishers []domrepo.AnomalyPublisher
	defaults   MergerDefaults
	l          *logger.Logger
	now        func() time.Time
}

func NewReconcileUseCase(
	store domrepo.AnomalyStore,
	locker domrepo.Locker,
	status domrepo.StatusStore,
	metrics domrepo.Metrics,
	defaults MergerDefaults,
	publishers ...domrepo.AnomalyPublisher,
) *ReconcileUseCase {
	if defaults.LockTTL <= 0 {
		defaults.LockTTL = 2 * time.Minute
	}
	return &ReconcileUseCase{
		store:      store,
		locker:     locker,
		status:     status,
		metrics:    metrics,
		publishers: publishers,
		defaults:   defaults,
		l:          logger.Nop(),
		now:        time.Now,
	}
}

func (u *ReconcileUseCase) SetLogger(l *logger.Logger) {
	if l != nil {
		u.l = l
	}
}

func lockKey(alertID, enumerationItemID int64) string {
	return cache.Key("merge", alertID, enumerationItemID)
}

// Reconcile runs the merger in DETECTION usage. Branches of req are replaced
// in place with their reconciled sets.
func (u *ReconcileUseCase) Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	start := time.Now()
	key := lockKey(req.AlertID, req.EnumerationItemID)

	ok, err := u.locker.TryLock(ctx, key, u.defaults.LockTTL)
	if err != nil {
		u.metrics.RecordError("merge_lock")
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSeriesBusy, key)
	}
	defer func() {
		if err := u.locker.Unlock(context.WithoutCancel(ctx), key); err != nil {
			u.l.Warn("merge unlock failed", logger.String("key", key), logger.Error(err))
		}
	}()

	prepareFresh(req.Branches, req.AlertID, req.EnumerationItemID)

	spec := u.defaults.spec(req.AlertID, req.EnumerationItemID, req.Merger, models.UsageDetection)
	p, err := merger.New(spec, u.store, merger.WithMetrics(u.metrics), merger.WithLogger(u.l))
	if err != nil {
		return nil, err
	}
	summary, err := p.PostProcess(ctx, req.Interval, req.Branches)
	if err != nil {
		return nil, err
	}

	out := collect(req.Branches)
	if err := u.store.Save(ctx, out); err != nil {
		u.metrics.RecordError("store_save")
		return nil, fmt.Errorf("save anomalies: %w", err)
	}
	for _, pub := range u.publishers {
		if err := pub.PublishReconciled(ctx, req.AlertID, req.EnumerationItemID, out); err != nil {
			u.metrics.RecordError("publish")
			return nil, fmt.Errorf("publish anomalies: %w", err)
		}
	}

	res := &ReconcileResult{
		Summary:   summary,
		Branches:  req.Branches,
		Persisted: len(models.Flatten(out)),
	}
	u.putStatus(ctx, req, res)
	u.metrics.RecordLatency("reconcile_seconds", time.Since(start).Seconds())
	return res, nil
}

func (u *ReconcileUseCase) putStatus(ctx context.Context, req ReconcileRequest, res *ReconcileResult) {
	if u.status == nil {
		return
	}
	s := res.Summary
	err := u.status.Put(ctx, models.ReconcileStatus{
		AlertID:           req.AlertID,
		EnumerationItemID: req.EnumerationItemID,
		IntervalStart:     req.Interval.StartMillis(),
		IntervalEnd:       req.Interval.EndMillis(),
		Created:           s.Created,
		Updated:           s.Updated,
		Vanished:          s.Vanished,
		ReplaySplits:      s.ReplaySplits,
		ReplayUpdates:     s.ReplayUpdates,
		Absorbed:          s.Absorbed,
		Persisted:         res.Persisted,
		ReconciledAt:      u.now(),
	})
	if err != nil {
		u.l.Warn("reconcile status not stored", logger.Int64("alert_id", req.AlertID), logger.Error(err))
	}
}

// EvaluateUseCase runs the merger in EVALUATION usage: fresh anomalies are
// merged among themselves and nothing is read, written or published.
type EvaluateUseCase struct {
	defaults MergerDefaults
	metrics  domrepo.Metrics
	l        *logger.Logger
}

func NewEvaluateUseCase(defaults MergerDefaults, metrics domrepo.Metrics) *EvaluateUseCase {
	return &EvaluateUseCase{defaults: defaults, metrics: metrics, l: logger.Nop()}
}

func (u *EvaluateUseCase) SetLogger(l *logger.Logger) {
	if l != nil {
		u.l = l
	}
}

func (u *EvaluateUseCase) Evaluate(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	prepareFresh(req.Branches, req.AlertID, req.EnumerationItemID)

	spec := u.defaults.spec(req.AlertID, req.EnumerationItemID, req.Merger, models.UsageEvaluation)
	p, err := merger.New(spec, nil, merger.WithMetrics(u.metrics), merger.WithLogger(u.l))
	if err != nil {
		return nil, err
	}
	summary, err := p.PostProcess(ctx, req.Interval, req.Branches)
	if err != nil {
		return nil, err
	}
	return &ReconcileResult{Summary: summary, Branches: req.Branches}, nil
}

// prepareFresh scopes detector output to the series and strips anything that
// only a stored anomaly may carry. Nil branch lists stay nil.
func prepareFresh(branches map[string]*models.BranchResult, alertID, enumerationItemID int64) {
	for _, b := range branches {
		if b == nil || b.Anomalies == nil {
			continue
		}
		b.Anomalies = lo.Compact(b.Anomalies)
		for _, a := range b.Anomalies {
			a.ID = 0
			a.ParentID = 0
			a.IsChild = false
			a.Children = nil
			a.AlertID = alertID
			a.EnumerationItemID = enumerationItemID
		}
	}
}

// collect gathers the reconciled anomalies of every branch, each once.
func collect(branches map[string]*models.BranchResult) []*models.Anomaly {
	var out []*models.Anomaly
	for _, name := range slices.Sorted(maps.Keys(branches)) {
		if b := branches[name]; b != nil {
			out = append(out, b.Anomalies...)
		}
	}
	return lo.Uniq(out)
}
