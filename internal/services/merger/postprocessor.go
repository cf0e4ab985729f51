package merger

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/pkg/logger"
	"MergeWatch/pkg/util"
)

const (
	DefaultMergeMaxGap      = "PT1S"
	DefaultMergeMaxDuration = "P7D"
	thresholdDisabled       = -1
)

// Spec configures a PostProcessor.
type Spec struct {
	MergeMaxGap                 string
	MergeMaxDuration            string
	AlertID                     int64
	EnumerationItemID           int64
	ReNotifyPercentageThreshold float64
	ReNotifyAbsoluteThreshold   float64
	Usage                       models.Usage
}

// DefaultSpec returns a detection spec with defaults and re-notification disabled.
func DefaultSpec() Spec {
	return Spec{
		MergeMaxGap:                 DefaultMergeMaxGap,
		MergeMaxDuration:            DefaultMergeMaxDuration,
		ReNotifyPercentageThreshold: thresholdDisabled,
		ReNotifyAbsoluteThreshold:   thresholdDisabled,
		Usage:                       models.UsageDetection,
	}
}

// Summary counts what one reconciliation did.
type Summary struct {
	Created       int `json:"created"`
	Updated       int `json:"updated"`
	Vanished      int `json:"vanished"`
	ReplaySplits  int `json:"replay_splits"`
	ReplayUpdates int `json:"replay_updates"`
	Absorbed      int `json:"absorbed"`
}

func (s *Summary) add(o Summary) {
	s.Created += o.Created
	s.Updated += o.Updated
	s.Vanished += o.Vanished
	s.ReplaySplits += o.ReplaySplits
	s.ReplayUpdates += o.ReplayUpdates
	s.Absorbed += o.Absorbed
}

// PostProcessor reconciles freshly detected anomalies with persisted ones.
// It is not safe for concurrent use on the same (alert, enumeration item).
type PostProcessor struct {
	spec        Spec
	maxGap      util.Period
	maxDuration util.Period
	thresholds  Thresholds
	store       domrepo.AnomalyStore
	metrics     domrepo.Metrics
	log         *logger.Logger
	now         func() time.Time
}

// Option configures optional PostProcessor collaborators.
type Option func(*PostProcessor)

// WithMetrics injects the outcome counter.
func WithMetrics(m domrepo.Metrics) Option {
	return func(p *PostProcessor) { p.metrics = m }
}

// WithLogger injects a structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *PostProcessor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithClock overrides the time source used for corrective create times.
func WithClock(now func() time.Time) Option {
	return func(p *PostProcessor) { p.now = now }
}

// New validates spec and builds a PostProcessor. store may be nil for EVALUATION usage.
func New(spec Spec, store domrepo.AnomalyStore, opts ...Option) (*PostProcessor, error) {
	if spec.MergeMaxGap == "" {
		spec.MergeMaxGap = DefaultMergeMaxGap
	}
	if spec.MergeMaxDuration == "" {
		spec.MergeMaxDuration = DefaultMergeMaxDuration
	}
	if spec.Usage == "" {
		spec.Usage = models.UsageDetection
	}

	switch spec.Usage {
	case models.UsageDetection:
		if spec.AlertID == 0 {
			return nil, ErrMissingAlertID
		}
		if store == nil {
			return nil, fmt.Errorf("merger: anomaly store is required for %s usage", spec.Usage)
		}
	case models.UsageEvaluation:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedUsage, spec.Usage)
	}

	maxGap, err := util.ParsePeriod(spec.MergeMaxGap)
	if err != nil {
		return nil, fmt.Errorf("%w: merge max gap: %v", ErrInvalidPeriod, err)
	}
	if maxGap.IsNegative() {
		return nil, fmt.Errorf("%w: merge max gap %q is negative", ErrInvalidPeriod, spec.MergeMaxGap)
	}
	maxDuration, err := util.ParsePeriod(spec.MergeMaxDuration)
	if err != nil {
		return nil, fmt.Errorf("%w: merge max duration: %v", ErrInvalidPeriod, err)
	}
	if maxDuration.IsNegative() {
		return nil, fmt.Errorf("%w: merge max duration %q is negative", ErrInvalidPeriod, spec.MergeMaxDuration)
	}

	p := &PostProcessor{
		spec:        spec,
		maxGap:      maxGap,
		maxDuration: maxDuration,
		thresholds: Thresholds{
			Percentage: spec.ReNotifyPercentageThreshold,
			Absolute:   spec.ReNotifyAbsoluteThreshold,
		},
		store: store,
		log:   logger.Nop(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PostProcess replaces every branch's anomaly list with its reconciled set.
// Persisted anomalies are fetched once and branches run in name order over the
// same records, so a branch sees what earlier branches retired or absorbed.
// When any branch fails, no branch is modified.
func (p *PostProcessor) PostProcess(ctx context.Context, interval util.Interval, results map[string]*models.BranchResult) (Summary, error) {
	var total Summary
	if p.maxGap.IsZero() {
		return total, nil
	}

	names := make([]string, 0, len(results))
	for name, res := range results {
		if res != nil && res.Anomalies != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return total, nil
	}
	slices.Sort(names)

	persisted, err := p.fetchPersisted(ctx, interval)
	if err != nil {
		p.recordError("merge")
		return Summary{}, err
	}

	merged := make(map[string][]*models.Anomaly, len(names))
	for _, name := range names {
		out, s, err := p.reconcile(interval, results[name].Anomalies, livePersisted(persisted))
		if err != nil {
			p.recordError("merge")
			return Summary{}, fmt.Errorf("branch %s: %w", name, err)
		}
		merged[name] = out
		total.add(s)
		p.log.Info("merger branch reconciled",
			logger.Int64("alert_id", p.spec.AlertID),
			logger.Int64("enumeration_item_id", p.spec.EnumerationItemID),
			logger.String("branch", name),
			logger.Int("created", s.Created),
			logger.Int("updated", s.Updated),
			logger.Int("outdated", s.Vanished+s.ReplaySplits),
			logger.Int("vanished", s.Vanished),
			logger.Int("replay_splits", s.ReplaySplits),
			logger.Int("replay_updates", s.ReplayUpdates),
			logger.Int("absorbed", s.Absorbed),
		)
	}

	for name, out := range merged {
		results[name].Anomalies = out
	}
	p.recordSummary(total)
	return total, nil
}

// livePersisted drops records an earlier branch retired: vanished or split
// records, and records absorbed into another parent.
func livePersisted(persisted []*models.Anomaly) []*models.Anomaly {
	return lo.Reject(persisted, func(a *models.Anomaly, _ int) bool {
		return isOutdated(a) || (a.IsChild && a.ParentID == 0)
	})
}

// reconcile runs vanish detection and merging for one branch.
func (p *PostProcessor) reconcile(interval util.Interval, fresh, persisted []*models.Anomaly) ([]*models.Anomaly, Summary, error) {
	start := time.Now()
	var summary Summary

	vanished := findVanished(fresh, persisted, interval)
	summary.Vanished = len(vanished)
	for _, v := range vanished {
		p.log.Debug("anomaly vanished after replay",
			logger.Int64("anomaly_id", v.ID),
			logger.Int64("start", v.StartTime),
			logger.Int64("end", v.EndTime),
		)
	}

	excluded := make(map[*models.Anomaly]struct{}, len(vanished))
	for _, v := range vanished {
		excluded[v] = struct{}{}
	}
	pool := slices.Clone(fresh)
	for _, a := range persisted {
		if _, ok := excluded[a]; !ok {
			pool = append(pool, a)
		}
	}

	run := newMergeRun(p, interval.Location(), &summary)
	merged, err := run.merge(pool)
	if err != nil {
		return nil, summary, err
	}

	out := newOrderedSet()
	for _, a := range merged {
		out.add(a)
	}
	for _, a := range vanished {
		out.add(a)
	}
	for _, a := range out.items() {
		if a.HasID() {
			summary.Updated++
		} else {
			summary.Created++
		}
	}

	if p.metrics != nil {
		p.metrics.RecordLatency("merge_branch", time.Since(start).Seconds())
	}
	return out.items(), summary, nil
}

// fetchPersisted loads anomalies overlapping the interval widened by the
// merge gap (plus one millisecond on each side). EVALUATION never reads.
func (p *PostProcessor) fetchPersisted(ctx context.Context, interval util.Interval) ([]*models.Anomaly, error) {
	if p.spec.Usage != models.UsageDetection {
		return nil, nil
	}
	wide := interval.Widen(p.maxGap, p.maxGap)
	persisted, err := p.store.Filter(ctx, domrepo.AnomalyFilter{
		AlertID:           p.spec.AlertID,
		EnumerationItemID: p.spec.EnumerationItemID,
		Start:             wide.StartMillis() - 1,
		End:               wide.EndMillis() + 1,
	})
	if err != nil {
		p.recordError("store_filter")
		return nil, fmt.Errorf("fetch persisted anomalies: %w", err)
	}
	return persisted, nil
}

func (p *PostProcessor) recordSummary(s Summary) {
	if p.metrics == nil {
		return
	}
	p.metrics.RecordMergeOutcome("created", s.Created)
	p.metrics.RecordMergeOutcome("updated", s.Updated)
	p.metrics.RecordMergeOutcome("vanished", s.Vanished)
	p.metrics.RecordMergeOutcome("replay_split", s.ReplaySplits)
	p.metrics.RecordMergeOutcome("replay_update", s.ReplayUpdates)
	p.metrics.RecordMergeOutcome("absorbed", s.Absorbed)
}

func (p *PostProcessor) recordError(kind string) {
	if p.metrics != nil {
		p.metrics.RecordError(kind)
	}
}

// runLog adapts the application logger to per-anomaly debug lines.
type runLog struct {
	l *logger.Logger
}

func (r runLog) debug(msg string, previous, candidate *models.Anomaly) {
	r.l.Debug(msg,
		logger.Int64("anomaly_id", previous.ID),
		logger.Int64("start", previous.StartTime),
		logger.Int64("end", previous.EndTime),
		logger.Float64("previous_value", previous.AvgCurrentVal),
		logger.Float64("candidate_value", candidate.AvgCurrentVal),
	)
}
