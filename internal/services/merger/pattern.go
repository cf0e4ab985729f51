package merger

import (
	"math"

	"MergeWatch/internal/domain/models"
)

// PatternOf classifies the direction of an anomaly from its average current
// and baseline values. NaN on either side yields PatternUnknown.
func PatternOf(a *models.Anomaly) models.Pattern {
	if math.IsNaN(a.AvgCurrentVal) || math.IsNaN(a.AvgBaselineVal) {
		return models.PatternUnknown
	}
	if a.AvgCurrentVal > a.AvgBaselineVal {
		return models.PatternUp
	}
	return models.PatternDown
}
