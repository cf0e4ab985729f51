package usecase

import (
	"context"
	"time"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
)

// AnomalyQueryUseCase serves read access to stored anomalies and to the
// last reconciliation of each series.
type AnomalyQueryUseCase struct {
	store   domrepo.AnomalyStore
	status  domrepo.StatusStore
	metrics domrepo.Metrics
}

func NewAnomalyQueryUseCase(store domrepo.AnomalyStore, status domrepo.StatusStore, metrics domrepo.Metrics) *AnomalyQueryUseCase {
	return &AnomalyQueryUseCase{store: store, status: status, metrics: metrics}
}

// List returns the anomalies of f as trees: parents carry their children and
// children are not repeated at the top level.
func (q *AnomalyQueryUseCase) List(ctx context.Context, f domrepo.AnomalyFilter) ([]*models.Anomaly, error) {
	start := time.Now()
	rows, err := q.store.Filter(ctx, f)
	q.metrics.RecordLatency("anomaly_list_seconds", time.Since(start).Seconds())
	if err != nil {
		q.metrics.RecordError("anomaly_list")
		return nil, err
	}
	return models.TopLevel(rows), nil
}

func (q *AnomalyQueryUseCase) Status(ctx context.Context, alertID, enumerationItemID int64) (models.ReconcileStatus, error) {
	if q.status == nil {
		return models.ReconcileStatus{}, domrepo.ErrStatusNotFound
	}
	return q.status.Get(ctx, alertID, enumerationItemID)
}
