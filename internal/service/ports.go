package service

import (
	"context"
	"time"

	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"github.com/google/uuid"
)

// Интерфейсы хранилищ, которые нужны сервисам. Реализации - internal/repository.

type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ApplyHistory(ctx context.Context, id, tenantID, historyID uuid.UUID) (bool, error)
	Delete(ctx context.Context, id, tenantID uuid.UUID) error
}

type PendingStore interface {
	Create(ctx context.Context, rec *models.SyncPendingRecord) error
	FindOpenByDocument(ctx context.Context, documentID, tenantID uuid.UUID) (*models.SyncPendingRecord, error)
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*models.SyncPendingRecord, error)
	List(ctx context.Context, f repository.PendingFilter) ([]*models.SyncPendingRecord, int, error)
	CountByState(ctx context.Context, tenantID uuid.UUID) (map[models.PendingState]int, error)
	MarkEnqueued(ctx context.Context, id uuid.UUID, queueMessageID string, originID uuid.UUID, enqueuedAt time.Time) error
	MarkRetried(ctx context.Context, id uuid.UUID, queueMessageID string, originID uuid.UUID, enqueuedAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, id uuid.UUID, lastError string, countAttempt bool) error
	MarkResolved(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause models.FailureCause, lastError string) error
	MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error
	CleanupResolved(ctx context.Context, retentionDays int) (int, error)
}

type AccessRequestStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error)
	// FindGoverning - APPROVED по кортежу, если есть, иначе самый новый запрос.
	FindGoverning(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (*models.AccessRequest, error)
	CreateGuarded(ctx context.Context, req *models.AccessRequest, guard func(governing *models.AccessRequest) error) error
	Resolve(ctx context.Context, id uuid.UUID, to models.AccessRequestState, respondedAt time.Time) error
	ListPendingByPatient(ctx context.Context, patientID string, limit int) ([]*models.AccessRequest, error)
}

type HistoryStore interface {
	FindOrCreateHistory(ctx context.Context, patientID string) (uuid.UUID, error)
	LinkDocument(ctx context.Context, historyID, documentID, tenantID uuid.UUID) (bool, error)
	LinkedHistory(ctx context.Context, documentID uuid.UUID) (uuid.UUID, error)
}

type PolicyStore interface {
	IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error)
	Grant(ctx context.Context, p *models.AccessPolicy, duration time.Duration) error
}

// Publisher - отправка JSON в топик, возвращает id сообщения в очереди.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v any) (string, error)
}

// PolicyChecker - проверка политики доступа в центре (HTTP-клиент на периферии).
type PolicyChecker interface {
	IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error)
}

// Notifier - уведомление пациента о новом запросе доступа.
type Notifier interface {
	NotifyAccessRequest(ctx context.Context, patientID string, summary models.AccessRequestSummary) error
}
