package repository

import (
	"context"
	"strconv"
	"time"

	"MergeWatch/internal/domain/models"
)

type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaAnomalyPublisher publishes reconciled anomalies keyed by alert id, so
// one alert's events stay ordered on one partition.
type KafkaAnomalyPublisher struct {
	producer messagePublisher
	topic    string
	now      func() time.Time
}

func NewKafkaAnomalyPublisher(producer messagePublisher, topic string) *KafkaAnomalyPublisher {
	return &KafkaAnomalyPublisher{producer: producer, topic: topic, now: time.Now}
}

func (p *KafkaAnomalyPublisher) PublishReconciled(ctx context.Context, alertID, enumerationItemID int64, anomalies []*models.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	key := []byte(strconv.FormatInt(alertID, 10))
	return p.producer.Publish(ctx, p.topic, key, models.ReconciledEvent{
		AlertID:           alertID,
		EnumerationItemID: enumerationItemID,
		Anomalies:         models.TopLevel(anomalies),
		PublishedAt:       p.now(),
	})
}

func (p *KafkaAnomalyPublisher) Close() error {
	return p.producer.Close()
}
