package models

import "time"

// ReconcileStatus records the outcome of the last reconciliation of one series.
type ReconcileStatus struct {
	AlertID           int64     `json:"alert_id"`
	EnumerationItemID int64     `json:"enumeration_item_id"`
	IntervalStart     int64     `json:"interval_start"`
	IntervalEnd       int64     `json:"interval_end"`
	Created           int       `json:"created"`
	Updated           int       `json:"updated"`
	Vanished          int       `json:"vanished"`
	ReplaySplits      int       `json:"replay_splits"`
	ReplayUpdates     int       `json:"replay_updates"`
	Absorbed          int       `json:"absorbed"`
	Persisted         int       `json:"persisted"`
	ReconciledAt      time.Time `json:"reconciled_at"`
}
