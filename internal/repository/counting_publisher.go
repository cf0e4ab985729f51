package repository

import (
	"context"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
)

type publishedRecorder interface {
	RecordPublished(sink string, n int)
}

// CountingPublisher counts the top-level anomalies a sink accepted.
type CountingPublisher struct {
	sink string
	next domrepo.AnomalyPublisher
	rec  publishedRecorder
}

func NewCountingPublisher(sink string, next domrepo.AnomalyPublisher, rec publishedRecorder) *CountingPublisher {
	return &CountingPublisher{sink: sink, next: next, rec: rec}
}

func (p *CountingPublisher) PublishReconciled(ctx context.Context, alertID, enumerationItemID int64, anomalies []*models.Anomaly) error {
	if err := p.next.PublishReconciled(ctx, alertID, enumerationItemID, anomalies); err != nil {
		return err
	}
	p.rec.RecordPublished(p.sink, len(models.TopLevel(anomalies)))
	return nil
}

func (p *CountingPublisher) Close() error { return p.next.Close() }

var _ domrepo.AnomalyPublisher = (*CountingPublisher)(nil)
