package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/internal/services/merger"
	pkgkafka "MergeWatch/pkg/kafka"
	"MergeWatch/pkg/logger"
	"MergeWatch/pkg/util"
)

type reconciler interface {
	Reconcile(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error)
}

// DetectionResultHandler reconciles every detection result read from Kafka.
type DetectionResultHandler struct {
	topic     string
	reconcile reconciler
	metrics   domrepo.Metrics
	validate  *validator.Validate
	loc       *time.Location
	l         *logger.Logger
}

func NewDetectionResultHandler(topic string, reconcile reconciler, metrics domrepo.Metrics, defaultTimezone string) *DetectionResultHandler {
	return &DetectionResultHandler{
		topic:     topic,
		reconcile: reconcile,
		metrics:   metrics,
		validate:  validator.New(),
		loc:       util.LoadLocation(defaultTimezone),
		l:         logger.Nop(),
	}
}

func (h *DetectionResultHandler) SetLogger(l *logger.Logger) {
	if l != nil {
		h.l = l
	}
}

func (h *DetectionResultHandler) Topic() string { return h.topic }

// Handle decodes one message and reconciles it. Malformed messages and merge
// configuration errors are permanent; store, lock and publish failures are retried.
func (h *DetectionResultHandler) Handle(ctx context.Context, b []byte) error {
	var m models.DetectionResult
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("%w: decode detection result: %v", pkgkafka.ErrPermanent, err)
	}
	if err := h.validate.StructCtx(ctx, &m); err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("%w: invalid detection result: %v", pkgkafka.ErrPermanent, err)
	}
	req, err := NewReconcileRequest(m.AlertID, m.EnumerationItemID, m.Interval, m.Merger, m.Branches, h.loc)
	if err != nil {
		h.metrics.RecordError("consumer_validate")
		return fmt.Errorf("%w: %v", pkgkafka.ErrPermanent, err)
	}

	start := time.Now()
	res, err := h.reconcile.Reconcile(ctx, req)
	h.metrics.RecordLatency("detection_result_seconds", time.Since(start).Seconds())
	if err != nil {
		if IsRejected(err) {
			return fmt.Errorf("%w: %w", pkgkafka.ErrPermanent, err)
		}
		return err
	}

	h.l.Info("detection result reconciled",
		logger.Int64("alert_id", req.AlertID),
		logger.Int64("enumeration_item_id", req.EnumerationItemID),
		logger.String("interval", req.Interval.String()),
		logger.Int("persisted", res.Persisted),
	)
	return nil
}

// IsRejected reports errors caused by the input itself: retrying the same
// request or message fails the same way.
func IsRejected(err error) bool {
	return errors.Is(err, merger.ErrInvalidPeriod) ||
		errors.Is(err, merger.ErrMissingAlertID) ||
		errors.Is(err, merger.ErrUnsupportedUsage) ||
		errors.Is(err, merger.ErrIgnoreStateMismatch)
}

var _ pkgkafka.MessageHandler = (*DetectionResultHandler)(nil)
