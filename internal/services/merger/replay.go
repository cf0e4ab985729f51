package merger

import (
	"math"

	"MergeWatch/internal/domain/models"
)

// Thresholds configure re-notification on replay. A negative value disables its side.
type Thresholds struct {
	Percentage float64
	Absolute   float64
}

// valueHasChanged reports whether a replayed candidate moved materially away
// from the persisted anomaly. Both the percentage and the absolute check must
// pass, so a single disabled side disables re-notification entirely.
func (t Thresholds) valueHasChanged(previous, candidate *models.Anomaly) bool {
	prev, cur := previous.AvgCurrentVal, candidate.AvgCurrentVal
	diff := math.Abs(cur - prev)

	percentageChanged := t.Percentage >= 0 &&
		((prev == 0 && cur != 0) || (prev != 0 && diff/math.Abs(prev)*100 > t.Percentage))
	absoluteChanged := t.Absolute >= 0 && diff > t.Absolute

	return percentageChanged && absoluteChanged
}

// reconcileReplay handles a fresh candidate covering exactly the window of the
// persisted anomaly scanned just before it. It returns true when the candidate
// was folded into previous and must not be processed further.
func (r *mergeRun) reconcileReplay(previous, candidate *models.Anomaly) (bool, error) {
	if r.thresholds.valueHasChanged(previous, candidate) {
		previous.AddLabels(models.OutdatedAfterReplay())
		candidate.AddLabels(models.NewAfterReplay())
		if t := r.trackHolding(previous); t != nil {
			t.candidate = nil
			r.out.add(previous)
		}
		r.summary.ReplaySplits++
		r.log.debug("replay split", previous, candidate)
		return false, nil
	}

	if previous.IsIgnored() && !previous.Notified && !candidate.IsIgnored() {
		// time-window based notifiers would otherwise consider it stale
		previous.CreateTime = r.now()
	}
	previous.CopyValues(candidate)
	previous.Labels = nil
	previous.AddLabels(candidate.Labels...)
	r.summary.ReplayUpdates++
	r.log.debug("replay update", previous, candidate)

	// new labels may have moved previous to the other track
	if t := r.trackHolding(previous); t != nil && t.ignored != previous.IsIgnored() {
		t.candidate = nil
		if err := r.offer(previous); err != nil {
			return true, err
		}
	}
	return true, nil
}
