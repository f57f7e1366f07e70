package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"hcen_sync/internal/client"
	"hcen_sync/internal/models"
	"hcen_sync/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type DecisionService interface {
	IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error)
	Decide(ctx context.Context, requestID uuid.UUID, d models.PatientDecision) (models.DecisionOutcome, error)
}

type NotificationService interface {
	NotifyAccessRequest(ctx context.Context, patientID string, summary models.AccessRequestSummary) error
	List(ctx context.Context, patientID string, limit int64) ([]service.PatientNotification, error)
}

// CentralHandler - HTTP API центрального компонента (HCEN).
type CentralHandler struct {
	decisions     DecisionService
	notifications NotificationService
	logger        *zap.Logger
}

func NewCentralHandler(decisions DecisionService, notifications NotificationService, logger *zap.Logger) *CentralHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CentralHandler{
		decisions:     decisions,
		notifications: notifications,
		logger:        logger,
	}
}

// GET /api/access-policies/check?documentId=&professionalId=&tenantId=
// 200: { "granted": bool }
func (h *CentralHandler) CheckPolicy(w http.ResponseWriter, r *http.Request) {
	documentID, err := uuidQuery(r, "documentId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tenantID, err := uuidQuery(r, "tenantId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	granted, err := h.decisions.IsGranted(r.Context(), documentID, strings.TrimSpace(r.URL.Query().Get("professionalId")), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"granted": granted})
}

// POST /api/notifications/access-requests
// 202 - уведомление сохранено во входящих пациента
func (h *CentralHandler) NotifyAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req models.AccessNotification
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.notifications.NotifyAccessRequest(r.Context(), req.PatientID, req.Request); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// GET /api/patients/{patientId}/notifications?limit=
func (h *CentralHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := intQuery(r, "limit", 20, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.notifications.List(r.Context(), chi.URLParam(r, "patientId"), int64(limit))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

// POST /api/access-requests/{id}/decision
// Код ответа повторяет ответ клиники: 200 OK, 404, 403, 409.
// 502 - клиника недоступна или ответила неожиданно.
func (h *CentralHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req models.PatientDecision
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.decisions.Decide(r.Context(), id, req)
	switch {
	case err == nil:
	case errors.Is(err, client.ErrUnknownClinic):
		writeDecision(w, http.StatusNotFound, models.DecisionStatusNotFound, "unknown clinic")
		return
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case out.Status == models.DecisionStatusOK:
		// клиника приняла решение, но политика не сохранилась
		h.logger.Error("grant after approved decision failed", zap.String("request_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	default:
		h.logger.Warn("relay decision failed", zap.String("request_id", id.String()), zap.Error(err))
		writeDecision(w, http.StatusBadGateway, models.DecisionStatusError, "clinic unavailable")
		return
	}

	code := out.HTTPStatus
	if code == 0 {
		code = decisionHTTPStatus(out.Status)
	}
	writeJSON(w, code, out)
}

func decisionHTTPStatus(status string) int {
	switch status {
	case models.DecisionStatusOK:
		return http.StatusOK
	case models.DecisionStatusNotFound:
		return http.StatusNotFound
	case models.DecisionStatusForbidden:
		return http.StatusForbidden
	case models.DecisionStatusConflict:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (h *CentralHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}
