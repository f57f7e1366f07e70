package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hcen_sync/internal/cache"
	"hcen_sync/internal/metrics"
	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"go.uber.org/zap"
)

// Sender - общий путь отправки документа (SyncProducer.Send).
type Sender interface {
	Send(ctx context.Context, doc *models.Document) (SendResult, error)
}

type RetrySchedulerConfig struct {
	MaxAttempts   int
	BatchSize     int
	Interval      time.Duration
	RetentionDays int
	CleanupEvery  time.Duration
	LockTTL       time.Duration
}

// RetryScheduler повторно отправляет документы, которые не дошли до центра
// или вернулись с временной ошибкой.
type RetryScheduler struct {
	pending PendingStore
	docs    DocumentStore
	sender  Sender
	lock    *cache.Lock
	cfg     RetrySchedulerConfig
	logger  *zap.Logger

	// один sweep на процесс, между инстансами - redis lock
	mu sync.Mutex
}

func NewRetryScheduler(
	pending PendingStore,
	docs DocumentStore,
	sender Sender,
	c cache.Cache,
	cfg RetrySchedulerConfig,
	logger *zap.Logger,
) *RetryScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RetentionDays < 0 {
		cfg.RetentionDays = 0
	}
	if cfg.CleanupEvery <= 0 {
		// чистку делаем реже, чтобы не дёргать БД постоянно
		cfg.CleanupEvery = time.Hour
	}

	s := &RetryScheduler{
		pending: pending,
		docs:    docs,
		sender:  sender,
		cfg:     cfg,
		logger:  logger,
	}
	if c != nil {
		s.lock = cache.NewLock(c, cache.SweepLockKey(""), cfg.LockTTL)
	}
	return s
}

// Start блокирует до отмены ctx.
func (s *RetryScheduler) Start(ctx context.Context) error {
	s.logger.Info("retry scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Int("max_attempts", s.cfg.MaxAttempts),
	)
	defer s.logger.Info("retry scheduler stopped")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(s.cfg.CleanupEvery)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runScheduled(ctx)
		case <-cleanupTicker.C:
			s.cleanupOnce(ctx)
		}
	}
}

func (s *RetryScheduler) runScheduled(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		s.logger.Debug("retry sweep skipped, another sweep is running")
	case err != nil:
		s.logger.Error("retry sweep failed", zap.Error(err))
	case n > 0:
		s.logger.Info("retry sweep finished", zap.Int("retried", n))
	}
}

// RunOnce - один проход по кандидатам. Возвращает число повторно отправленных.
// Параллельный вызов получает ErrSweepInProgress.
func (s *RetryScheduler) RunOnce(ctx context.Context) (int, error) {
	if !s.mu.TryLock() {
		return 0, ErrSweepInProgress
	}
	defer s.mu.Unlock()

	if s.lock != nil {
		release, ok, err := s.lock.TryAcquire(ctx)
		switch {
		case err != nil:
			// повторный sweep безопасен: без redis работаем только под локальным мьютексом
			s.logger.Warn("sweep lock unavailable, continuing without it", zap.Error(err))
		case !ok:
			return 0, ErrSweepInProgress
		default:
			defer release()
		}
	}

	start := time.Now()
	defer func() { metrics.ObserveSyncSweep(time.Since(start)) }()

	recs, err := s.pending.ListRetryable(ctx, s.cfg.MaxAttempts, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list retryable records: %w", err)
	}

	retried := 0
	for _, rec := range recs {
		if err := ctx.Err(); err != nil {
			return retried, err
		}
		ok, err := s.retryOne(ctx, rec)
		if err != nil {
			s.logger.Error("retry pending record",
				zap.String("record_id", rec.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			retried++
		}
	}
	return retried, nil
}

func (s *RetryScheduler) retryOne(ctx context.Context, rec *models.SyncPendingRecord) (bool, error) {
	docID, ok := rec.DocumentID()
	if !ok {
		return false, fmt.Errorf("record %s has no document", rec.ID)
	}

	log := s.logger.With(
		zap.String("record_id", rec.ID.String()),
		zap.String("document_id", docID.String()),
		zap.String("tenant_id", rec.TenantID.String()),
		zap.Int("attempt", rec.Attempts+1),
	)

	doc, err := s.docs.Get(ctx, docID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && doc.TenantID != rec.TenantID) {
		metrics.IncSyncRetry("cancelled")
		log.Warn("pending record orphaned, cancelling")
		if err := s.pending.MarkCancelled(ctx, rec.ID, "orphaned: document "+docID.String()+" no longer exists"); err != nil {
			return false, fmt.Errorf("cancel orphaned record: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get document: %w", err)
	}

	res, sendErr := s.sender.Send(ctx, doc)
	if sendErr != nil {
		metrics.IncSyncRetry("failed")
		log.Warn("document resend failed", zap.Error(sendErr))
		if err := s.pending.MarkDeliveryFailed(ctx, rec.ID, "delivery error: "+sendErr.Error(), true); err != nil {
			return false, fmt.Errorf("mark delivery failed: %w", err)
		}
		return false, nil
	}

	if err := s.pending.MarkRetried(ctx, rec.ID, res.QueueMessageID, res.OriginMessageID, res.EnqueuedAt); err != nil {
		return false, fmt.Errorf("mark retried: %w", err)
	}
	metrics.IncSyncRetry("resent")
	log.Info("document resent", zap.String("queue_message_id", res.QueueMessageID))
	return true, nil
}

func (s *RetryScheduler) cleanupOnce(ctx context.Context) {
	if s.cfg.RetentionDays <= 0 {
		return
	}
	n, err := s.pending.CleanupResolved(ctx, s.cfg.RetentionDays)
	if err != nil {
		s.logger.Error("pending cleanup failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pending cleanup", zap.Int("deleted", n))
	}
}
