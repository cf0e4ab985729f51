package merger

import (
	"cmp"
	"slices"

	"MergeWatch/internal/domain/models"
)

// compareAnomalies orders by start ascending, then end descending (longer first),
// then persisted before fresh, then more children first.
func compareAnomalies(a, b *models.Anomaly) int {
	if c := cmp.Compare(a.StartTime, b.StartTime); c != 0 {
		return c
	}
	if c := cmp.Compare(b.EndTime, a.EndTime); c != 0 {
		return c
	}
	if a.HasID() != b.HasID() {
		if a.HasID() {
			return -1
		}
		return 1
	}
	return cmp.Compare(len(b.Children), len(a.Children))
}

func sortAnomalies(anomalies []*models.Anomaly) {
	slices.SortStableFunc(anomalies, compareAnomalies)
}
