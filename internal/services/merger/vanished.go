package merger

import (
	"slices"

	"github.com/samber/lo"

	"MergeWatch/internal/domain/models"
	"MergeWatch/pkg/util"
)

// findVanished labels persisted anomalies that the new batch no longer
// reproduces and returns them. Only leaves enclosed by the detection interval
// are judged; parents follow their children: fully outdated parents vanish,
// partially outdated ones are re-bounded on their surviving children and stay
// eligible for merging.
func findVanished(fresh, persisted []*models.Anomaly, interval util.Interval) []*models.Anomaly {
	starts := lo.SliceToMap(fresh, func(a *models.Anomaly) (int64, struct{}) {
		return a.StartTime, struct{}{}
	})

	vanished := newOrderedSet()
	for _, a := range persisted {
		if !a.IsUnitary() || !interval.Encloses(a.StartTime, a.EndTime) {
			continue
		}
		if _, ok := starts[a.StartTime]; ok {
			continue
		}
		a.AddLabels(models.OutdatedAfterReplay())
		vanished.add(a)
	}

	for _, parent := range persisted {
		if parent.IsUnitary() {
			continue
		}
		outdated := lo.CountBy(parent.Children, isOutdated)
		switch {
		case outdated == 0:
		case outdated == len(parent.Children):
			parent.AddLabels(models.OutdatedAfterReplay())
			vanished.add(parent)
		default:
			rebound(parent, lo.Reject(parent.Children, func(c *models.Anomaly, _ int) bool {
				return isOutdated(c)
			}))
		}
	}
	return vanished.items()
}

func isOutdated(a *models.Anomaly) bool {
	return a.HasLabel(models.LabelOutdatedAfterReplay)
}

// rebound recomputes a parent from its surviving children: the window spans
// them, values come from the earliest one, labels and properties are unioned
// and severity is the worst among them.
func rebound(parent *models.Anomaly, kept []*models.Anomaly) {
	kept = slices.Clone(kept)
	sortAnomalies(kept)
	first := kept[0]

	parent.StartTime = first.StartTime
	parent.EndTime = lo.MaxBy(kept, func(a, b *models.Anomaly) bool { return a.EndTime > b.EndTime }).EndTime
	parent.CopyValues(first)
	parent.Labels = nil
	parent.Severity = models.SeverityDefault
	for _, c := range kept {
		parent.AddLabels(c.Labels...)
		parent.Severity = parent.Severity.Worse(c.Severity)
		mergeProperties(parent, c)
	}
}
