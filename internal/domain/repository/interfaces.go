package repository

import (
	"context"
	"errors"
	"time"

	"MergeWatch/internal/domain/models"
)

// AnomalyFilter scopes a store query to one alert, one enumeration item
// (zero means none) and every anomaly whose window intersects [Start, End].
// Retired anomalies (outdated, or emptied parents) are skipped unless IncludeRetired.
type AnomalyFilter struct {
	AlertID           int64
	EnumerationItemID int64
	Start             int64
	End               int64
	IncludeRetired    bool
}

// AnomalyStore persists anomalies.
type AnomalyStore interface {
	// Filter returns matching anomalies flattened: parents come with Children
	// populated, and those children are also present in the returned slice.
	Filter(ctx context.Context, f AnomalyFilter) ([]*models.Anomaly, error)
	// Save creates anomalies without an id and updates the others, children included.
	Save(ctx context.Context, anomalies []*models.Anomaly) error
	Health(ctx context.Context) error
}

// AnomalyPublisher hands reconciled anomalies to the notification layer.
type AnomalyPublisher interface {
	PublishReconciled(ctx context.Context, alertID, enumerationItemID int64, anomalies []*models.Anomaly) error
	Close() error
}

// IDSequence hands out anomaly ids.
type IDSequence interface {
	NextID(ctx context.Context) (int64, error)
}

// ErrStatusNotFound is returned when a series was never reconciled or its status expired.
var ErrStatusNotFound = errors.New("reconcile status not found")

// StatusStore remembers the last reconciliation of each series.
type StatusStore interface {
	Put(ctx context.Context, status models.ReconcileStatus) error
	Get(ctx context.Context, alertID, enumerationItemID int64) (models.ReconcileStatus, error)
}

// Locker serializes reconciliation of one (alert, enumeration item) pair.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Metrics is the counter collaborator of the merger and the pipeline around it.
type Metrics interface {
	RecordMergeOutcome(kind string, n int)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
