package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hcen_sync/internal/kafka"
	"hcen_sync/internal/metrics"
	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"go.uber.org/zap"
)

// ConfirmationService - клиника: применяет подтверждения центра к документу и журналу.
type ConfirmationService struct {
	docs    DocumentStore
	pending PendingStore
	logger  *zap.Logger
	now     func() time.Time
}

func NewConfirmationService(docs DocumentStore, pending PendingStore, logger *zap.Logger) *ConfirmationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfirmationService{
		docs:    docs,
		pending: pending,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessMessage обрабатывает одно сообщение sync-confirmations.
func (s *ConfirmationService) ProcessMessage(ctx context.Context, payload []byte) error {
	c, err := kafka.DecodeConfirmation(payload)
	if err != nil {
		metrics.IncSyncConfirmation("invalid")
		s.logger.Warn("drop invalid sync confirmation", zap.Error(err))
		return nil
	}

	log := s.logger.With(
		zap.String("document_id", c.DocumentID.String()),
		zap.String("tenant_id", c.TenantID.String()),
		zap.Bool("success", c.Success),
	)

	doc, err := s.docs.Get(ctx, c.DocumentID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		doc = nil
	case err != nil:
		return fmt.Errorf("get document: %w", err)
	}

	if doc != nil && doc.TenantID != c.TenantID {
		metrics.IncSyncConfirmation("tenant_mismatch")
		log.Warn("security: confirmation tenant does not own document",
			zap.String("owner_tenant_id", doc.TenantID.String()),
		)
		return nil
	}

	if c.Success {
		return s.applySuccess(ctx, log, doc, c)
	}
	return s.applyFailure(ctx, log, c)
}

func (s *ConfirmationService) applySuccess(ctx context.Context, log *zap.Logger, doc *models.Document, c *models.SyncConfirmation) error {
	if doc == nil {
		log.Warn("success confirmation for document missing locally")
	} else {
		applied, err := s.docs.ApplyHistory(ctx, doc.ID, doc.TenantID, *c.HistoryID)
		if err != nil {
			return fmt.Errorf("apply history: %w", err)
		}
		if !applied {
			log.Debug("document already synchronized", zap.String("history_id", c.HistoryID.String()))
		}
	}

	rec, err := s.openRecord(ctx, c)
	if err != nil || rec == nil {
		metrics.IncSyncConfirmation("success")
		return err
	}

	if err := s.pending.MarkResolved(ctx, rec.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("resolve pending record: %w", err)
	}
	if rec.EnqueuedAt != nil {
		metrics.ObservePendingAge(s.now().Sub(*rec.EnqueuedAt))
	}
	metrics.IncSyncConfirmation("success")
	log.Info("document sync resolved",
		zap.String("record_id", rec.ID.String()),
		zap.String("history_id", c.HistoryID.String()),
	)
	return nil
}

func (s *ConfirmationService) applyFailure(ctx context.Context, log *zap.Logger, c *models.SyncConfirmation) error {
	// документ остаётся sync_pending
	rec, err := s.openRecord(ctx, c)
	if err != nil || rec == nil {
		metrics.IncSyncConfirmation("failure")
		return err
	}

	if rec.OriginMessageID != nil && *rec.OriginMessageID != c.OriginMessageID {
		metrics.IncSyncConfirmation("stale")
		log.Info("ignore stale failure confirmation",
			zap.String("record_id", rec.ID.String()),
			zap.String("origin_message_id", c.OriginMessageID.String()),
		)
		return nil
	}

	cause := models.FailureCauseFor(c.ErrorKind)
	lastError := "central temporary error: " + c.ErrorMessage
	if cause == models.FailureCauseCentralRejected {
		lastError = "central rejected: " + c.ErrorMessage
	}

	if err := s.pending.MarkFailed(ctx, rec.ID, cause, lastError); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("mark pending failed: %w", err)
	}
	metrics.IncSyncConfirmation("failure")
	log.Warn("central failed to register document",
		zap.String("record_id", rec.ID.String()),
		zap.String("failure_cause", string(cause)),
		zap.String("error", c.ErrorMessage),
	)
	return nil
}

// openRecord - открытая запись журнала или nil, если её нет.
func (s *ConfirmationService) openRecord(ctx context.Context, c *models.SyncConfirmation) (*models.SyncPendingRecord, error) {
	rec, err := s.pending.FindOpenByDocument(ctx, c.DocumentID, c.TenantID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Debug("no open pending record for confirmation",
				zap.String("document_id", c.DocumentID.String()),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("find pending record: %w", err)
	}
	return rec, nil
}
