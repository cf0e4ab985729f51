package models

import (
	"encoding/json"
	"math"
	"time"
)

// anomalyJSON is the wire form of Anomaly. Value fields may be NaN, which JSON
// cannot carry, so they travel as nullable numbers.
type anomalyJSON struct {
	ID                int64             `json:"id,omitempty"`
	AlertID           int64             `json:"alert_id,omitempty"`
	EnumerationItemID int64             `json:"enumeration_item_id,omitempty"`
	ParentID          int64             `json:"parent_id,omitempty"`
	StartTime         int64             `json:"start_time"`
	EndTime           int64             `json:"end_time"`
	AvgCurrentVal     *float64          `json:"avg_current_val"`
	AvgBaselineVal    *float64          `json:"avg_baseline_val"`
	UpperBound        *float64          `json:"upper_bound"`
	LowerBound        *float64          `json:"lower_bound"`
	Score             *float64          `json:"score"`
	Properties        map[string]string `json:"properties,omitempty"`
	Severity          Severity          `json:"severity"`
	Labels            []AnomalyLabel    `json:"labels,omitempty"`
	Children          []*Anomaly        `json:"children,omitempty"`
	IsChild           bool              `json:"is_child,omitempty"`
	Notified          bool              `json:"notified,omitempty"`
	CreateTime        *time.Time        `json:"create_time,omitempty"`
}

func (a *Anomaly) MarshalJSON() ([]byte, error) {
	dto := anomalyJSON{
		ID:                a.ID,
		AlertID:           a.AlertID,
		EnumerationItemID: a.EnumerationItemID,
		ParentID:          a.ParentID,
		StartTime:         a.StartTime,
		EndTime:           a.EndTime,
		AvgCurrentVal:     nullable(a.AvgCurrentVal),
		AvgBaselineVal:    nullable(a.AvgBaselineVal),
		UpperBound:        nullable(a.UpperBound),
		LowerBound:        nullable(a.LowerBound),
		Score:             nullable(a.Score),
		Properties:        a.Properties,
		Severity:          a.Severity,
		Labels:            a.Labels,
		Children:          a.Children,
		IsChild:           a.IsChild,
		Notified:          a.Notified,
	}
	if !a.CreateTime.IsZero() {
		t := a.CreateTime
		dto.CreateTime = &t
	}
	return json.Marshal(dto)
}

// UnmarshalJSON reads the wire form; missing or null values become NaN.
func (a *Anomaly) UnmarshalJSON(b []byte) error {
	var dto anomalyJSON
	if err := json.Unmarshal(b, &dto); err != nil {
		return err
	}
	*a = Anomaly{
		ID:                dto.ID,
		AlertID:           dto.AlertID,
		EnumerationItemID: dto.EnumerationItemID,
		ParentID:          dto.ParentID,
		StartTime:         dto.StartTime,
		EndTime:           dto.EndTime,
		AvgCurrentVal:     orNaN(dto.AvgCurrentVal),
		AvgBaselineVal:    orNaN(dto.AvgBaselineVal),
		UpperBound:        orNaN(dto.UpperBound),
		LowerBound:        orNaN(dto.LowerBound),
		Score:             orNaN(dto.Score),
		Properties:        dto.Properties,
		Severity:          dto.Severity,
		Labels:            dto.Labels,
		Children:          dto.Children,
		IsChild:           dto.IsChild,
		Notified:          dto.Notified,
	}
	if dto.CreateTime != nil {
		a.CreateTime = *dto.CreateTime
	}
	return nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func orNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
