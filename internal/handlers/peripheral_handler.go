package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"
	"hcen_sync/internal/service"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentService описывает методы сервисного слоя, которые нужны хендлерам клиники.
type DocumentService interface {
	CreateDocument(ctx context.Context, req *models.CreateDocumentRequest) (*models.Document, service.SyncOutcome, error)
	GetDocument(ctx context.Context, id, tenantID uuid.UUID) (*models.Document, error)
	DeleteDocument(ctx context.Context, id, tenantID uuid.UUID) error
	ListPending(ctx context.Context, f repository.PendingFilter) ([]models.PendingRecordView, int, error)
	PendingSummary(ctx context.Context, tenantID uuid.UUID) (map[models.PendingState]int, error)
}

type AccessService interface {
	CanRequest(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error)
	SubmitRequest(ctx context.Context, in service.SubmitInput) (*models.AccessRequest, error)
	Approve(ctx context.Context, requestID, tenantID uuid.UUID) (service.Decision, error)
	Reject(ctx context.Context, requestID, tenantID uuid.UUID) (service.Decision, error)
	ListPendingForPatient(ctx context.Context, patientID string) ([]*models.AccessRequest, error)
}

// Sweeper - ручной запуск retry scheduler.
type Sweeper interface {
	RunOnce(ctx context.Context) (int, error)
}

type PeripheralHandler struct {
	docs    DocumentService
	access  AccessService
	sweeper Sweeper
	logger  *zap.Logger
}

func NewPeripheralHandler(docs DocumentService, access AccessService, sweeper Sweeper, logger *zap.Logger) *PeripheralHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeripheralHandler{
		docs:    docs,
		access:  access,
		sweeper: sweeper,
		logger:  logger,
	}
}

// POST /api/documents
// 201: { "id": uuid, "syncState": "PENDING|ERROR", "pendingRecordId": uuid }
// 400: invalid input
// 500: internal error
func (h *PeripheralHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDocumentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, outcome, err := h.docs.CreateDocument(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	resp := map[string]any{
		"id":        doc.ID,
		"syncState": outcome.State,
	}
	if outcome.RecordID != uuid.Nil {
		resp["pendingRecordId"] = outcome.RecordID
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GET /api/documents/{id}?tenantId=
func (h *PeripheralHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tenantID, err := uuidQuery(r, "tenantId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), id, tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /api/documents/{id}?tenantId=
// 204, 404
func (h *PeripheralHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tenantID, err := uuidQuery(r, "tenantId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.docs.DeleteDocument(r.Context(), id, tenantID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/sync/pending?tenantId=&state=&limit=&offset=
// 200: { "items": [...], "pagination": { "total", "limit", "offset" } }
func (h *PeripheralHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidQuery(r, "tenantId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intQuery(r, "limit", 50, 200)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	offset, err := intQuery(r, "offset", 0, 1_000_000)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	f := repository.PendingFilter{
		TenantID: tenantID,
		State:    models.PendingState(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))),
		Kind:     models.SyncKind(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind")))),
		Limit:    limit,
		Offset:   offset,
	}

	items, total, err := h.docs.ListPending(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"pagination": map[string]any{
			"total":  total,
			"limit":  limit,
			"offset": offset,
		},
	})
}

// GET /api/sync/pending/summary?tenantId=
func (h *PeripheralHandler) PendingSummary(w http.ResponseWriter, r *http.Request) {
	tenantID, err := uuidQuery(r, "tenantId")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	counts, err := h.docs.PendingSummary(r.Context(), tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"counts":   counts,
	})
}

// POST /api/admin/sync/force
// 200: { "retried": n }, 409: sweep уже идёт
func (h *PeripheralHandler) ForceSync(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

// GET /api/access-requests/can-request?documentId=&professionalId=&tenantId=
func (h *PeripheralHandler) CanRequest(w http.ResponseWriter, r *http.Request) {
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
	professionalID := strings.TrimSpace(r.URL.Query().Get("professionalId"))

	ok, err := h.access.CanRequest(r.Context(), documentID, professionalID, tenantID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canRequest": ok})
}

// POST /api/access-requests
// 201: запрос, 429: окно повтора ещё не прошло, 409: доступ уже выдан
func (h *PeripheralHandler) SubmitAccessRequest(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitAccessRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.access.SubmitRequest(r.Context(), service.SubmitInput{
		DocumentID:     req.DocumentID,
		ProfessionalID: req.ProfessionalID,
		TenantID:       req.TenantID,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GET /api/access-requests/pending?patientId=
func (h *PeripheralHandler) ListPendingAccessRequests(w http.ResponseWriter, r *http.Request) {
	list, err := h.access.ListPendingForPatient(r.Context(), r.URL.Query().Get("patientId"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

type decisionRequest struct {
	TenantID uuid.UUID `json:"tenantId" validate:"required"`
}

// PUT /api/solicitudes-acceso/{id}/approve
func (h *PeripheralHandler) ApproveAccessRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

// PUT /api/solicitudes-acceso/{id}/reject
func (h *PeripheralHandler) RejectAccessRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

// 200: { "status": "OK", "message": ... } - обработан или уже был обработан
// 404 NOT_FOUND, 403 FORBIDDEN, 409 CONFLICT, 400 - плохой запрос
func (h *PeripheralHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body decisionRequest
	if err := decodeAndValidate(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var d service.Decision
	if approve {
		d, err = h.access.Approve(r.Context(), id, body.TenantID)
	} else {
		d, err = h.access.Reject(r.Context(), id, body.TenantID)
	}

	switch {
	case err == nil:
		msg := "access request processed"
		if d.AlreadyProcessed {
			msg = "access request already processed"
		}
		writeDecision(w, http.StatusOK, models.DecisionStatusOK, msg)
	case errors.Is(err, repository.ErrNotFound):
		writeDecision(w, http.StatusNotFound, models.DecisionStatusNotFound, "access request not found")
	case errors.Is(err, service.ErrTenantMismatch):
		writeDecision(w, http.StatusForbidden, models.DecisionStatusForbidden, "access request belongs to another clinic")
	case errors.Is(err, service.ErrConflict):
		writeDecision(w, http.StatusConflict, models.DecisionStatusConflict, err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("access request decision failed", zap.String("request_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeDecision(w http.ResponseWriter, code int, status, msg string) {
	writeJSON(w, code, models.DecisionOutcome{Status: status, Message: msg})
}

func (h *PeripheralHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrTenantMismatch):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrRequestNotAllowed):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, service.ErrAlreadyGranted),
		errors.Is(err, service.ErrConflict),
		errors.Is(err, service.ErrSweepInProgress):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
