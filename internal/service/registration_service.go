package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hcen_sync/internal/cache"
	"hcen_sync/internal/kafka"
	"hcen_sync/internal/metrics"
	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegistrationService - центр: регистрирует документы клиник в истории пациента
// и отвечает подтверждением в sync-confirmations.
type RegistrationService struct {
	histories         HistoryStore
	cache             cache.Cache
	publisher         Publisher
	confirmationTopic string
	registeredTTL     time.Duration
	logger            *zap.Logger
	now               func() time.Time
}

func NewRegistrationService(
	histories HistoryStore,
	c cache.Cache,
	publisher Publisher,
	confirmationTopic string,
	registeredTTL time.Duration,
	logger *zap.Logger,
) *RegistrationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if confirmationTopic == "" {
		confirmationTopic = "sync-confirmations"
	}
	return &RegistrationService{
		histories:         histories,
		cache:             c,
		publisher:         publisher,
		confirmationTopic: confirmationTopic,
		registeredTTL:     registeredTTL,
		logger:            logger,
		now:               time.Now,
	}
}

// ProcessMessage обрабатывает одно сообщение document-sync.
// nil = сообщение можно коммитить; ошибка = повторная доставка.
func (s *RegistrationService) ProcessMessage(ctx context.Context, payload []byte) error {
	msg, err := kafka.DecodeSyncMessage(payload)
	if err != nil {
		// отвечать некому: нет документа или клиники
		metrics.IncSyncRegistration("malformed")
		s.logger.Warn("drop undecodable sync message", zap.Error(err), zap.Int("payload_size", len(payload)))
		return nil
	}

	log := s.logger.With(
		zap.String("document_id", msg.DocumentID.String()),
		zap.String("tenant_id", msg.TenantID.String()),
	)

	if err := kafka.ValidateSyncMessage(msg); err != nil {
		return s.reject(ctx, log, msg, err)
	}

	if historyID, ok := s.cachedHistory(ctx, msg); ok {
		log.Debug("sync message already registered", zap.String("history_id", historyID.String()))
		return s.confirm(ctx, models.NewSuccessConfirmation(msg, historyID, s.now().UTC()), "duplicate")
	}

	historyID, err := s.histories.FindOrCreateHistory(ctx, msg.PatientID)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownPatient) {
			return s.reject(ctx, log, msg, err)
		}
		return s.temporary(ctx, log, msg, err)
	}

	alreadyLinked, err := s.histories.LinkDocument(ctx, historyID, msg.DocumentID, msg.TenantID)
	if err != nil {
		return s.temporary(ctx, log, msg, err)
	}

	result := "registered"
	if alreadyLinked {
		result = "duplicate"
		linked, err := s.histories.LinkedHistory(ctx, msg.DocumentID)
		if err != nil {
			return s.temporary(ctx, log, msg, err)
		}
		if linked != historyID {
			return s.reject(ctx, log, msg, fmt.Errorf("document %s is linked to another history", msg.DocumentID))
		}
	}

	s.rememberHistory(ctx, log, msg, historyID)

	log.Info("document registered in history",
		zap.String("history_id", historyID.String()),
		zap.Bool("already_linked", alreadyLinked),
	)
	return s.confirm(ctx, models.NewSuccessConfirmation(msg, historyID, s.now().UTC()), result)
}

func (s *RegistrationService) reject(ctx context.Context, log *zap.Logger, msg *models.SyncMessage, cause error) error {
	log.Warn("sync message rejected", zap.Error(cause))
	c := models.NewFailureConfirmation(msg, models.ErrorKindValidation, "validation error: "+cause.Error(), s.now().UTC())
	return s.confirm(ctx, c, "rejected")
}

func (s *RegistrationService) temporary(ctx context.Context, log *zap.Logger, msg *models.SyncMessage, cause error) error {
	log.Error("sync message registration failed", zap.Error(cause))
	c := models.NewFailureConfirmation(msg, models.ErrorKindTemporary, "temporary error: "+cause.Error(), s.now().UTC())
	return s.confirm(ctx, c, "temporary_error")
}

func (s *RegistrationService) confirm(ctx context.Context, c *models.SyncConfirmation, result string) error {
	if _, err := s.publisher.PublishJSON(ctx, s.confirmationTopic, c.DocumentID.String(), c); err != nil {
		metrics.IncSyncRegistration("confirm_failed")
		return fmt.Errorf("publish confirmation: %w", err)
	}
	metrics.IncSyncRegistration(result)
	return nil
}

func (s *RegistrationService) cachedHistory(ctx context.Context, msg *models.SyncMessage) (uuid.UUID, bool) {
	if s.cache == nil {
		return uuid.Nil, false
	}
	b, ok, err := s.cache.Get(ctx, cache.RegisteredDocumentKey(msg.TenantID, msg.DocumentID))
	if err != nil || !ok {
		return uuid.Nil, false
	}
	id, err := uuid.ParseBytes(b)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (s *RegistrationService) rememberHistory(ctx context.Context, log *zap.Logger, msg *models.SyncMessage, historyID uuid.UUID) {
	if s.cache == nil {
		return
	}
	key := cache.RegisteredDocumentKey(msg.TenantID, msg.DocumentID)
	if err := s.cache.Set(ctx, key, []byte(historyID.String()), s.registeredTTL); err != nil {
		log.Warn("cache registered document", zap.Error(err))
	}
}
