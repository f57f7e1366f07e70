package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hcen_sync/internal/metrics"
	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Decision - результат approve/reject.
type Decision struct {
	Request          *models.AccessRequest
	AlreadyProcessed bool
}

type SubmitInput struct {
	DocumentID     uuid.UUID
	ProfessionalID string
	TenantID       uuid.UUID
	Reason         string
}

// AccessRequestService - запросы доступа к документам клиники.
type AccessRequestService struct {
	requests AccessRequestStore
	docs     DocumentStore
	policies PolicyChecker
	notifier Notifier
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewAccessRequestService(
	requests AccessRequestStore,
	docs DocumentStore,
	policies PolicyChecker,
	notifier Notifier,
	window time.Duration,
	logger *zap.Logger,
) *AccessRequestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &AccessRequestService{
		requests: requests,
		docs:     docs,
		policies: policies,
		notifier: notifier,
		window:   window,
		logger:   logger,
		now:      time.Now,
	}
}

// CanRequest - можно ли профессионалу отправить новый запрос по документу.
func (s *AccessRequestService) CanRequest(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error) {
	if documentID == uuid.Nil || tenantID == uuid.Nil || strings.TrimSpace(professionalID) == "" {
		return false, fmt.Errorf("%w: documentId, professionalId and tenantId are required", ErrInvalidInput)
	}

	governing, err := s.requests.FindGoverning(ctx, documentID, professionalID, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("find governing access request: %w", err)
	}
	return s.allowedAfter(governing), nil
}

// allowedAfter: любой APPROVED по кортежу блокирует навсегда, PENDING/REJECTED - до истечения окна.
func (s *AccessRequestService) allowedAfter(governing *models.AccessRequest) bool {
	if governing == nil {
		return true
	}
	if governing.State == models.AccessRequestApproved {
		return false
	}
	return governing.RequestedAt.Before(s.now().Add(-s.window))
}

// SubmitRequest создаёт PENDING-запрос и уведомляет пациента.
func (s *AccessRequestService) SubmitRequest(ctx context.Context, in SubmitInput) (*models.AccessRequest, error) {
	in.ProfessionalID = strings.TrimSpace(in.ProfessionalID)
	if in.DocumentID == uuid.Nil || in.TenantID == uuid.Nil || in.ProfessionalID == "" {
		return nil, fmt.Errorf("%w: documentId, professionalId and tenantId are required", ErrInvalidInput)
	}

	doc, err := s.docs.Get(ctx, in.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc.TenantID != in.TenantID {
		return nil, fmt.Errorf("%w: document belongs to another clinic", ErrTenantMismatch)
	}

	if s.policies != nil {
		granted, err := s.policies.IsGranted(ctx, in.DocumentID, in.ProfessionalID, in.TenantID)
		if err != nil {
			return nil, fmt.Errorf("check access policy: %w", err)
		}
		if granted {
			metrics.IncAccessSubmission("already_granted")
			return nil, ErrAlreadyGranted
		}
	}

	req := &models.AccessRequest{
		DocumentID:     in.DocumentID,
		ProfessionalID: in.ProfessionalID,
		TenantID:       in.TenantID,
		PatientID:      doc.PatientID,
		Reason:         strings.TrimSpace(in.Reason),
		RequestedAt:    s.now().UTC(),
	}

	// правило повторяется внутри транзакции под локом кортежа
	err = s.requests.CreateGuarded(ctx, req, func(governing *models.AccessRequest) error {
		if !s.allowedAfter(governing) {
			return ErrRequestNotAllowed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrRequestNotAllowed) {
			metrics.IncAccessSubmission("rate_limited")
			return nil, err
		}
		metrics.IncAccessSubmission("error")
		return nil, fmt.Errorf("create access request: %w", err)
	}
	metrics.IncAccessSubmission("created")

	log := s.logger.With(
		zap.String("request_id", req.ID.String()),
		zap.String("document_id", req.DocumentID.String()),
		zap.String("tenant_id", req.TenantID.String()),
	)
	log.Info("access request created", zap.String("professional_id", req.ProfessionalID))

	if s.notifier != nil {
		if err := s.notifier.NotifyAccessRequest(ctx, req.PatientID, req.Summary()); err != nil {
			log.Warn("patient notification failed", zap.Error(err))
		}
	}
	return req, nil
}

func (s *AccessRequestService) Approve(ctx context.Context, requestID, tenantID uuid.UUID) (Decision, error) {
	return s.decide(ctx, requestID, tenantID, models.AccessRequestApproved)
}

func (s *AccessRequestService) Reject(ctx context.Context, requestID, tenantID uuid.UUID) (Decision, error) {
	return s.decide(ctx, requestID, tenantID, models.AccessRequestRejected)
}

func (s *AccessRequestService) decide(ctx context.Context, requestID, tenantID uuid.UUID, to models.AccessRequestState) (Decision, error) {
	action := strings.ToLower(string(to))
	if requestID == uuid.Nil || tenantID == uuid.Nil {
		metrics.IncAccessDecision(action, "invalid")
		return Decision{}, fmt.Errorf("%w: requestId and tenantId are required", ErrInvalidInput)
	}

	log := s.logger.With(
		zap.String("request_id", requestID.String()),
		zap.String("tenant_id", tenantID.String()),
		zap.String("action", action),
	)

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.IncAccessDecision(action, "not_found")
		}
		return Decision{}, err
	}
	if req.TenantID != tenantID {
		metrics.IncAccessDecision(action, "forbidden")
		log.Warn("security: decision for access request of another clinic",
			zap.String("owner_tenant_id", req.TenantID.String()),
		)
		return Decision{}, ErrTenantMismatch
	}

	if to == models.AccessRequestApproved && req.State == models.AccessRequestPending {
		if err := s.ensureNoOtherApproved(ctx, req); err != nil {
			metrics.IncAccessDecision(action, "conflict")
			log.Warn("approve refused: tuple already has an approved request", zap.Error(err))
			return Decision{Request: req}, err
		}
	}

	// между чтением и UPDATE состояние могло смениться: перечитываем и решаем заново
	for attempt := 0; ; attempt++ {
		switch req.State {
		case to:
			metrics.IncAccessDecision(action, "already_processed")
			return Decision{Request: req, AlreadyProcessed: true}, nil
		case models.AccessRequestApproved, models.AccessRequestRejected:
			metrics.IncAccessDecision(action, "conflict")
			return Decision{Request: req}, fmt.Errorf("%w: request is already %s", ErrConflict, req.State)
		}
		if attempt == 2 {
			return Decision{}, fmt.Errorf("%w: request state keeps changing", ErrConflict)
		}

		respondedAt := s.now().UTC()
		err = s.requests.Resolve(ctx, req.ID, to, respondedAt)
		if err == nil {
			req.State = to
			req.RespondedAt = &respondedAt
			metrics.IncAccessDecision(action, "processed")
			log.Info("access request resolved")
			return Decision{Request: req}, nil
		}
		if errors.Is(err, repository.ErrConflict) {
			metrics.IncAccessDecision(action, "conflict")
			return Decision{Request: req}, fmt.Errorf("%w: another request for this document is already approved", ErrConflict)
		}
		if !errors.Is(err, repository.ErrStateChanged) {
			return Decision{}, fmt.Errorf("resolve access request: %w", err)
		}

		if req, err = s.requests.Get(ctx, requestID); err != nil {
			return Decision{}, err
		}
	}
}

// ensureNoOtherApproved: по кортежу допускается только один APPROVED.
func (s *AccessRequestService) ensureNoOtherApproved(ctx context.Context, req *models.AccessRequest) error {
	governing, err := s.requests.FindGoverning(ctx, req.DocumentID, req.ProfessionalID, req.TenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find governing access request: %w", err)
	}
	if governing.ID != req.ID && governing.State == models.AccessRequestApproved {
		return fmt.Errorf("%w: request %s for this document is already approved", ErrConflict, governing.ID)
	}
	return nil
}

// ListPendingForPatient - запросы, ожидающие решения пациента.
func (s *AccessRequestService) ListPendingForPatient(ctx context.Context, patientID string) ([]*models.AccessRequest, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	return s.requests.ListPendingByPatient(ctx, patientID, 100)
}
