package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"hcen_sync/internal/cache"
	"hcen_sync/internal/models"

	"go.uber.org/zap"
)

// PatientNotification - элемент входящих пациента.
type PatientNotification struct {
	Type       string                      `json:"type"`
	Request    models.AccessRequestSummary `json:"request"`
	ReceivedAt time.Time                   `json:"receivedAt"`
}

const notificationAccessRequest = "ACCESS_REQUEST"

// NotificationService - центр: входящие уведомления пациента в Redis (ограниченный список).
type NotificationService struct {
	cache     cache.Cache
	inboxSize int64
	logger    *zap.Logger
	now       func() time.Time
}

func NewNotificationService(c cache.Cache, inboxSize int64, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inboxSize <= 0 {
		inboxSize = 100
	}
	return &NotificationService{
		cache:     c,
		inboxSize: inboxSize,
		logger:    logger,
		now:       time.Now,
	}
}

// NotifyAccessRequest кладёт уведомление в начало списка пациента.
func (s *NotificationService) NotifyAccessRequest(ctx context.Context, patientID string, summary models.AccessRequestSummary) error {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}

	b, err := json.Marshal(PatientNotification{
		Type:       notificationAccessRequest,
		Request:    summary,
		ReceivedAt: s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	if err := s.cache.LPushTrim(ctx, cache.PatientInboxKey(patientID), b, s.inboxSize); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}

	s.logger.Info("access request notification stored",
		zap.String("request_id", summary.RequestID.String()),
		zap.String("tenant_id", summary.TenantID.String()),
	)
	return nil
}

// List - последние уведомления пациента, новые первыми.
func (s *NotificationService) List(ctx context.Context, patientID string, limit int64) ([]PatientNotification, error) {
	patientID = strings.TrimSpace(patientID)
	if patientID == "" {
		return nil, fmt.Errorf("%w: patientId is required", ErrInvalidInput)
	}
	if limit <= 0 || limit > s.inboxSize {
		limit = s.inboxSize
	}

	raw, err := s.cache.LRange(ctx, cache.PatientInboxKey(patientID), limit)
	if err != nil {
		return nil, fmt.Errorf("read notifications: %w", err)
	}

	res := make([]PatientNotification, 0, len(raw))
	for _, b := range raw {
		var n PatientNotification
		if err := json.Unmarshal(b, &n); err != nil {
			s.logger.Warn("skip corrupted notification", zap.Error(err))
			continue
		}
		res = append(res, n)
	}
	return res, nil
}
