package models

import "time"

// ReconciledEvent is what downstream consumers receive after a reconciliation:
// every anomaly that was created or updated, parents carrying their children.
type ReconciledEvent struct {
	AlertID           int64      `json:"alert_id"`
	EnumerationItemID int64      `json:"enumeration_item_id"`
	Anomalies         []*Anomaly `json:"anomalies"`
	PublishedAt       time.Time  `json:"published_at"`
}
