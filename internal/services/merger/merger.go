package merger

import (
	"fmt"
	"time"

	"MergeWatch/internal/domain/models"
	"MergeWatch/pkg/util"
)

// track holds the running parent candidate of one ignore family. Ignored and
// normal anomalies never merge together, so each family has its own track.
type track struct {
	ignored   bool
	candidate *models.Anomaly
}

// mergeRun is the state of one single-pass merge over a sorted batch.
type mergeRun struct {
	maxGap      util.Period
	maxDuration util.Period
	loc         *time.Location
	thresholds  Thresholds
	now         func() time.Time
	log         runLog

	normal   *track
	ignored  *track
	previous *models.Anomaly
	out      *orderedSet
	summary  *Summary
}

func newMergeRun(p *PostProcessor, loc *time.Location, summary *Summary) *mergeRun {
	return &mergeRun{
		maxGap:      p.maxGap,
		maxDuration: p.maxDuration,
		loc:         loc,
		thresholds:  p.thresholds,
		now:         p.now,
		log:         runLog{l: p.log},
		normal:      &track{},
		ignored:     &track{ignored: true},
		out:         newOrderedSet(),
		summary:     summary,
	}
}

// merge sorts anomalies in place and folds them into parents. The returned
// slice holds every parent and standalone anomaly to persist.
func (r *mergeRun) merge(anomalies []*models.Anomaly) ([]*models.Anomaly, error) {
	sortAnomalies(anomalies)

	for _, a := range anomalies {
		if r.isReplayPair(a) {
			folded, err := r.reconcileReplay(r.previous, a)
			if err != nil {
				return nil, err
			}
			if folded {
				continue
			}
		}
		r.previous = a
		if a.IsChild {
			continue
		}
		if err := r.offer(a); err != nil {
			return nil, err
		}
	}

	r.flush(r.normal)
	r.flush(r.ignored)
	return r.out.items(), nil
}

func (r *mergeRun) isReplayPair(a *models.Anomaly) bool {
	return r.previous != nil && r.previous.HasID() && !a.HasID() && r.previous.SameWindow(a)
}

func (r *mergeRun) trackFor(a *models.Anomaly) *track {
	if a.IsIgnored() {
		return r.ignored
	}
	return r.normal
}

// trackHolding returns the track whose candidate is a, if any.
func (r *mergeRun) trackHolding(a *models.Anomaly) *track {
	for _, t := range []*track{r.normal, r.ignored} {
		if t.candidate == a {
			return t
		}
	}
	return nil
}

// offer absorbs a into its track's candidate or makes it the new candidate.
func (r *mergeRun) offer(a *models.Anomaly) error {
	t := r.trackFor(a)
	if t.candidate == nil {
		t.candidate = a
		return nil
	}
	ok, err := r.shouldMerge(t.candidate, a)
	if err != nil {
		return err
	}
	if ok {
		r.absorb(t.candidate, a)
		return nil
	}
	r.flush(t)
	t.candidate = a
	return nil
}

func (r *mergeRun) flush(t *track) {
	if t.candidate != nil {
		r.out.add(t.candidate)
		t.candidate = nil
	}
}

// shouldMerge decides whether child may be absorbed by parent. The gap and the
// resulting span are both inclusive bounds; a child ending inside the parent is
// always absorbed.
func (r *mergeRun) shouldMerge(parent, child *models.Anomaly) (bool, error) {
	if parent.IsIgnored() != child.IsIgnored() {
		return false, fmt.Errorf("%w: parent [%d,%d) ignored=%t, candidate [%d,%d) ignored=%t",
			ErrIgnoreStateMismatch,
			parent.StartTime, parent.EndTime, parent.IsIgnored(),
			child.StartTime, child.EndTime, child.IsIgnored())
	}
	if PatternOf(parent) != PatternOf(child) {
		return false, nil
	}
	if r.maxGap.SubtractFromMillis(child.StartTime, r.loc) > parent.EndTime {
		return false, nil
	}
	return child.EndTime <= parent.EndTime ||
		r.maxDuration.SubtractFromMillis(child.EndTime, r.loc) <= parent.StartTime, nil
}

// absorb folds child into parent. The first absorption seeds parent's children
// with a snapshot of parent itself. An absorbed parent hands over its children
// and is retired as a childless child record.
func (r *mergeRun) absorb(parent, child *models.Anomaly) {
	if len(parent.Children) == 0 {
		snapshot := parent.Snapshot()
		snapshot.IsChild = true
		parent.AddChild(snapshot)
	}

	parent.EndTime = max(parent.EndTime, child.EndTime)
	mergeProperties(parent, child)
	parent.AddLabels(child.Labels...)
	parent.Severity = parent.Severity.Worse(child.Severity)

	if len(child.Children) == 0 {
		child.IsChild = true
		parent.AddChild(child)
		r.summary.Absorbed++
		return
	}
	for _, c := range child.Children {
		parent.AddChild(c)
		r.summary.Absorbed++
	}
	child.Children = nil
	child.IsChild = true
	child.ParentID = 0
	r.out.add(child)
}

// mergeProperties copies properties of src missing on dst.
func mergeProperties(dst, src *models.Anomaly) {
	if len(src.Properties) == 0 {
		return
	}
	if dst.Properties == nil {
		dst.Properties = make(map[string]string, len(src.Properties))
	}
	for k, v := range src.Properties {
		if _, ok := dst.Properties[k]; !ok {
			dst.Properties[k] = v
		}
	}
}
