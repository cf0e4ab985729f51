package api

import (
	"errors"
	"time"

	"github.com/labstack/echo/v4"

	"MergeWatch/internal/domain/models"
	domrepo "MergeWatch/internal/domain/repository"
	"MergeWatch/internal/usecase"
	xhttp "MergeWatch/pkg/http"
	xlogger "MergeWatch/pkg/logger"
	"MergeWatch/pkg/util"
)

const defaultListWindow = 24 * time.Hour

// AnomaliesEchoHandler exposes reconciliation, dry runs and stored anomalies over HTTP.
type AnomaliesEchoHandler struct {
	logger    *xlogger.Logger
	reconcile *usecase.ReconcileUseCase
	evaluate  *usecase.EvaluateUseCase
	query     *usecase.AnomalyQueryUseCase
	loc       *time.Location
	now       func() time.Time
}

func NewAnomaliesEchoHandler(
	logger *xlogger.Logger,
	reconcile *usecase.ReconcileUseCase,
	evaluate *usecase.EvaluateUseCase,
	query *usecase.AnomalyQueryUseCase,
	defaultTimezone string,
) *AnomaliesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &AnomaliesEchoHandler{
		logger:    logger,
		reconcile: reconcile,
		evaluate:  evaluate,
		query:     query,
		loc:       util.LoadLocation(defaultTimezone),
		now:       time.Now,
	}
}

func (h *AnomaliesEchoHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/anomalies")
	g.GET("", h.List)
	g.GET("/status", h.Status)
	g.POST("/evaluate", h.Evaluate)
	g.POST("/reconcile", h.Reconcile)
}

// Evaluate merges the posted anomalies among themselves without touching the store.
func (h *AnomaliesEchoHandler) Evaluate(c echo.Context) error {
	req := &models.EvaluateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := usecase.NewReconcileRequest(req.AlertID, req.EnumerationItemID, req.Interval, req.Merger, req.Branches, h.loc)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	}

	res, err := h.evaluate.Evaluate(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, "evaluate", err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Reconcile runs a full detection reconciliation for the posted result.
func (h *AnomaliesEchoHandler) Reconcile(c echo.Context) error {
	req := &models.DetectionResult{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	in, err := usecase.NewReconcileRequest(req.AlertID, req.EnumerationItemID, req.Interval, req.Merger, req.Branches, h.loc)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	}

	res, err := h.reconcile.Reconcile(c.Request().Context(), in)
	if err != nil {
		return h.fail(c, "reconcile", err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *AnomaliesEchoHandler) List(c echo.Context) error {
	req := &models.AnomalyListRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	to := util.ParseTimeDefault(req.To, h.now())
	from := util.ParseTimeDefault(req.From, to.Add(-defaultListWindow))
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must not be after to").WithField("from"))
	}

	rows, err := h.query.List(c.Request().Context(), domrepo.AnomalyFilter{
		AlertID:           req.AlertID,
		EnumerationItemID: req.EnumerationItemID,
		Start:             from.UnixMilli(),
		End:               to.UnixMilli(),
		IncludeRetired:    req.IncludeRetired,
	})
	if err != nil {
		return h.fail(c, "list", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *AnomaliesEchoHandler) Status(c echo.Context) error {
	req := &models.StatusRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	st, err := h.query.Status(c.Request().Context(), req.AlertID, req.EnumerationItemID)
	if err != nil {
		return h.fail(c, "status", err)
	}
	return xhttp.SuccessResponse(c, st)
}

// fail maps use case errors to API errors.
func (h *AnomaliesEchoHandler) fail(c echo.Context, op string, err error) error {
	switch {
	case usecase.IsRejected(err):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()).WithError(err))
	case errors.Is(err, usecase.ErrSeriesBusy):
		return xhttp.AppErrorResponse(c, xhttp.ConflictError(err.Error()).WithError(err))
	case errors.Is(err, domrepo.ErrStatusNotFound):
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError(err.Error()).WithError(err))
	}
	h.logger.Error(op+" usecase error", xlogger.Error(err))
	return xhttp.AppErrorResponse(c, err)
}
