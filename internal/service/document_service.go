package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Enqueuer - постановка документа в синхронизацию с центром.
type Enqueuer interface {
	EnqueueSync(ctx context.Context, doc *models.Document) SyncOutcome
}

type DocumentService struct {
	docs     DocumentStore
	pending  PendingStore
	producer Enqueuer
	logger   *zap.Logger
}

func NewDocumentService(docs DocumentStore, pending PendingStore, producer Enqueuer, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentService{
		docs:     docs,
		pending:  pending,
		producer: producer,
		logger:   logger,
	}
}

// CreateDocument сохраняет документ и ставит его в синхронизацию.
// Ошибка синхронизации не откатывает документ и не возвращается.
func (s *DocumentService) CreateDocument(ctx context.Context, req *models.CreateDocumentRequest) (*models.Document, SyncOutcome, error) {
	if err := validateCreateDocument(req); err != nil {
		return nil, SyncOutcome{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	doc := &models.Document{
		TenantID:       req.TenantID,
		PatientID:      strings.TrimSpace(req.PatientID),
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		Title:          strings.TrimSpace(req.Title),
		ReasonCode:     strings.TrimSpace(req.ReasonCode),
		Content:        req.Content,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, SyncOutcome{}, fmt.Errorf("create document: %w", err)
	}

	// отмена HTTP-запроса не должна обрывать запись журнала
	outcome := s.producer.EnqueueSync(context.WithoutCancel(ctx), doc)
	if outcome.Err != nil {
		s.logger.Warn("document created, sync bookkeeping incomplete",
			zap.String("document_id", doc.ID.String()),
			zap.Error(outcome.Err),
		)
	}
	return doc, outcome, nil
}

// GetDocument - документ клиники tenantID.
func (s *DocumentService) GetDocument(ctx context.Context, id, tenantID uuid.UUID) (*models.Document, error) {
	if id == uuid.Nil || tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: id and tenantId are required", ErrInvalidInput)
	}
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.TenantID != tenantID {
		s.logger.Warn("document read from foreign tenant",
			zap.String("document_id", id.String()),
			zap.String("tenant_id", tenantID.String()),
		)
		return nil, ErrTenantMismatch
	}
	return doc, nil
}

// DeleteDocument удаляет документ; открытая запись журнала будет отменена scheduler-ом.
func (s *DocumentService) DeleteDocument(ctx context.Context, id, tenantID uuid.UUID) error {
	if id == uuid.Nil || tenantID == uuid.Nil {
		return fmt.Errorf("%w: id and tenantId are required", ErrInvalidInput)
	}
	if err := s.docs.Delete(ctx, id, tenantID); err != nil {
		return err
	}
	s.logger.Info("document deleted",
		zap.String("document_id", id.String()),
		zap.String("tenant_id", tenantID.String()),
	)
	return nil
}

// ListPending - журнал синхронизации клиники для UI.
func (s *DocumentService) ListPending(ctx context.Context, f repository.PendingFilter) ([]models.PendingRecordView, int, error) {
	if f.TenantID == uuid.Nil {
		return nil, 0, fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	if f.State != "" && !f.State.Valid() {
		return nil, 0, fmt.Errorf("%w: state must be PENDING|ERROR|RESOLVED|CANCELLED", ErrInvalidInput)
	}

	recs, total, err := s.pending.List(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list pending records: %w", err)
	}

	items := make([]models.PendingRecordView, 0, len(recs))
	for _, r := range recs {
		items = append(items, r.View())
	}
	return items, total, nil
}

// PendingSummary - количество записей по состояниям (все состояния, включая нули).
func (s *DocumentService) PendingSummary(ctx context.Context, tenantID uuid.UUID) (map[models.PendingState]int, error) {
	if tenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	counts, err := s.pending.CountByState(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count pending records: %w", err)
	}

	res := map[models.PendingState]int{
		models.PendingStatePending:   0,
		models.PendingStateError:     0,
		models.PendingStateResolved:  0,
		models.PendingStateCancelled: 0,
	}
	for st, n := range counts {
		res[st] = n
	}
	return res, nil
}

func validateCreateDocument(req *models.CreateDocumentRequest) error {
	if req == nil {
		return errors.New("request is nil")
	}
	if req.TenantID == uuid.Nil {
		return errors.New("tenantId is required")
	}
	if strings.TrimSpace(req.PatientID) == "" {
		return errors.New("patientId is required")
	}
	if strings.TrimSpace(req.ProfessionalID) == "" {
		return errors.New("professionalId is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	return nil
}
