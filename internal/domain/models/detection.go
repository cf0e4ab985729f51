package models

import (
	"time"

	"MergeWatch/pkg/util"
)

// Payloads shared by the detection results topic and the HTTP endpoints.

// MergerSettings are per-request engine settings. Empty fields keep the
// service defaults.
type MergerSettings struct {
	MergeMaxGap                 string   `json:"merge_max_gap,omitempty"`
	MergeMaxDuration            string   `json:"merge_max_duration,omitempty"`
	ReNotifyPercentageThreshold *float64 `json:"renotify_percentage_threshold,omitempty"`
	ReNotifyAbsoluteThreshold   *float64 `json:"renotify_absolute_threshold,omitempty"`
}

// DetectionWindow is a detection interval in epoch milliseconds. Timezone is
// the IANA zone calendar periods are applied in.
type DetectionWindow struct {
	Start    int64  `json:"start" validate:"gte=0"`
	End      int64  `json:"end" validate:"gtefield=Start"`
	Timezone string `json:"timezone,omitempty"`
}

// Interval resolves the window in its own timezone, or def when it has none.
func (w DetectionWindow) Interval(def *time.Location) (util.Interval, error) {
	loc := def
	if w.Timezone != "" {
		loc = util.LoadLocation(w.Timezone)
	}
	return util.NewInterval(w.Start, w.End, loc)
}

// DetectionResult is one detection run over a series, ready to be reconciled.
type DetectionResult struct {
	AlertID           int64                    `json:"alert_id" validate:"required,gt=0"`
	EnumerationItemID int64                    `json:"enumeration_item_id" validate:"gte=0"`
	Interval          DetectionWindow          `json:"interval"`
	Merger            *MergerSettings          `json:"merger,omitempty"`
	Branches          map[string]*BranchResult `json:"branches" validate:"required"`
}

// EvaluateRequest is a DetectionResult for a dry run, where the alert is optional.
type EvaluateRequest struct {
	AlertID           int64                    `json:"alert_id" validate:"gte=0"`
	EnumerationItemID int64                    `json:"enumeration_item_id" validate:"gte=0"`
	Interval          DetectionWindow          `json:"interval"`
	Merger            *MergerSettings          `json:"merger,omitempty"`
	Branches          map[string]*BranchResult `json:"branches" validate:"required"`
}

// AnomalyListRequest selects stored anomalies. From and To are RFC3339 or
// epoch milliseconds; To defaults to now and From to one day before To.
type AnomalyListRequest struct {
	AlertID           int64  `query:"alert_id" validate:"required,gt=0"`
	EnumerationItemID int64  `query:"enumeration_item_id" validate:"gte=0"`
	From              string `query:"from"`
	To                string `query:"to"`
	IncludeRetired    bool   `query:"include_retired"`
}

type StatusRequest struct {
	AlertID           int64 `query:"alert_id" validate:"required,gt=0"`
	EnumerationItemID int64 `query:"enumeration_item_id" validate:"gte=0"`
}
