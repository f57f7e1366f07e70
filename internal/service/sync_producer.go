package service

import (
	"context"
	"fmt"
	"time"

	"hcen_sync/internal/metrics"
	"hcen_sync/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendResult - что вернула очередь при отправке SyncMessage.
type SendResult struct {
	QueueMessageID  string
	OriginMessageID uuid.UUID
	EnqueuedAt      time.Time
}

// SyncOutcome - итог постановки документа в синхронизацию. Ошибка вызывающему не
// возвращается: Err заполняется только если не удалось записать журнал.
type SyncOutcome struct {
	RecordID       uuid.UUID
	State          models.PendingState
	QueueMessageID string
	Err            error
}

type SyncProducer struct {
	pending   PendingStore
	publisher Publisher
	topic     string
	logger    *zap.Logger
	now       func() time.Time
}

func NewSyncProducer(pending PendingStore, publisher Publisher, topic string, logger *zap.Logger) *SyncProducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = "document-sync"
	}
	return &SyncProducer{
		pending:   pending,
		publisher: publisher,
		topic:     topic,
		logger:    logger,
		now:       time.Now,
	}
}

// Send публикует SyncMessage с новым originMessageId. Журнал не трогает.
func (p *SyncProducer) Send(ctx context.Context, doc *models.Document) (SendResult, error) {
	if doc == nil {
		return SendResult{}, fmt.Errorf("%w: document is nil", ErrInvalidInput)
	}

	msg := models.NewSyncMessage(doc)
	queueID, err := p.publisher.PublishJSON(ctx, p.topic, doc.ID.String(), msg)
	if err != nil {
		return SendResult{}, err
	}

	return SendResult{
		QueueMessageID:  queueID,
		OriginMessageID: msg.OriginMessageID,
		EnqueuedAt:      p.now().UTC(),
	}, nil
}

// EnqueueSync: запись PENDING в журнал -> публикация -> сохранение id сообщения.
// При ошибке публикации запись уходит в ERROR/DELIVERY и её подберёт scheduler.
func (p *SyncProducer) EnqueueSync(ctx context.Context, doc *models.Document) SyncOutcome {
	if doc == nil {
		return SyncOutcome{Err: fmt.Errorf("%w: document is nil", ErrInvalidInput)}
	}

	log := p.logger.With(
		zap.String("document_id", doc.ID.String()),
		zap.String("tenant_id", doc.TenantID.String()),
	)

	rec := &models.SyncPendingRecord{
		Subject:  models.DocumentSubject{DocumentID: doc.ID, PatientID: doc.PatientID},
		TenantID: doc.TenantID,
	}

	var bookkeepingErr error
	if err := p.pending.Create(ctx, rec); err != nil {
		// без записи всё равно отправляем: consumer подтверждений переживёт её отсутствие
		bookkeepingErr = fmt.Errorf("create pending record: %w", err)
		log.Error("pending record not created", zap.Error(err))
		rec = nil
	}

	res, sendErr := p.Send(ctx, doc)
	if sendErr != nil {
		metrics.IncSyncEnqueue("failed")
		log.Warn("document sync enqueue failed", zap.Error(sendErr))

		if rec == nil {
			return SyncOutcome{State: models.PendingStateError, Err: bookkeepingErr}
		}
		if err := p.pending.MarkDeliveryFailed(ctx, rec.ID, "delivery error: "+sendErr.Error(), false); err != nil {
			log.Error("mark pending delivery failed", zap.String("record_id", rec.ID.String()), zap.Error(err))
			bookkeepingErr = fmt.Errorf("mark delivery failed: %w", err)
		}
		return SyncOutcome{RecordID: rec.ID, State: models.PendingStateError, Err: bookkeepingErr}
	}

	metrics.IncSyncEnqueue("enqueued")

	if rec == nil {
		return SyncOutcome{
			State:          models.PendingStatePending,
			QueueMessageID: res.QueueMessageID,
			Err:            bookkeepingErr,
		}
	}

	if err := p.pending.MarkEnqueued(ctx, rec.ID, res.QueueMessageID, res.OriginMessageID, res.EnqueuedAt); err != nil {
		// запись останется PENDING без queue_message_id, scheduler отправит ещё раз
		log.Error("mark pending enqueued", zap.String("record_id", rec.ID.String()), zap.Error(err))
		bookkeepingErr = fmt.Errorf("mark enqueued: %w", err)
	}

	log.Debug("document sync enqueued",
		zap.String("record_id", rec.ID.String()),
		zap.String("queue_message_id", res.QueueMessageID),
	)

	return SyncOutcome{
		RecordID:       rec.ID,
		State:          models.PendingStatePending,
		QueueMessageID: res.QueueMessageID,
		Err:            bookkeepingErr,
	}
}
