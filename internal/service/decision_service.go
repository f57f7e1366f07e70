package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"hcen_sync/internal/metrics"
	"hcen_sync/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClinicRelay - пересылка решения пациента в клинику-владельца документа.
type ClinicRelay interface {
	RelayDecision(ctx context.Context, tenantID, requestID uuid.UUID, approve bool) (models.DecisionOutcome, error)
}

// DecisionService - центр: проверка политик и пересылка решений пациента.
type DecisionService struct {
	policies         PolicyStore
	relay            ClinicRelay
	defaultGrantDays int
	logger           *zap.Logger
}

func NewDecisionService(policies PolicyStore, relay ClinicRelay, defaultGrantDays int, logger *zap.Logger) *DecisionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultGrantDays <= 0 {
		defaultGrantDays = 30
	}
	return &DecisionService{
		policies:         policies,
		relay:            relay,
		defaultGrantDays: defaultGrantDays,
		logger:           logger,
	}
}

// IsGranted - есть ли действующая политика доступа.
func (s *DecisionService) IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error) {
	if documentID == uuid.Nil || tenantID == uuid.Nil || strings.TrimSpace(professionalID) == "" {
		return false, fmt.Errorf("%w: documentId, professionalId and tenantId are required", ErrInvalidInput)
	}
	return s.policies.IsGranted(ctx, documentID, professionalID, tenantID)
}

// Decide пересылает решение в клинику; при одобрении, которое клиника приняла,
// выдаёт политику доступа.
func (s *DecisionService) Decide(ctx context.Context, requestID uuid.UUID, d models.PatientDecision) (models.DecisionOutcome, error) {
	if requestID == uuid.Nil || d.TenantID == uuid.Nil || d.DocumentID == uuid.Nil ||
		strings.TrimSpace(d.PatientID) == "" || strings.TrimSpace(d.ProfessionalID) == "" {
		return models.DecisionOutcome{}, fmt.Errorf("%w: requestId, tenantId, patientId, documentId and professionalId are required", ErrInvalidInput)
	}

	action := "reject"
	if d.Approve {
		action = "approve"
	}
	log := s.logger.With(
		zap.String("request_id", requestID.String()),
		zap.String("tenant_id", d.TenantID.String()),
		zap.String("action", action),
	)

	out, err := s.relay.RelayDecision(ctx, d.TenantID, requestID, d.Approve)
	if err != nil {
		metrics.IncAccessDecision("relay_"+action, "error")
		log.Error("relay decision to clinic failed", zap.Error(err))
		return models.DecisionOutcome{}, fmt.Errorf("relay decision: %w", err)
	}
	metrics.IncAccessDecision("relay_"+action, strings.ToLower(out.Status))

	if out.Status != models.DecisionStatusOK || !d.Approve {
		log.Info("clinic answered decision", zap.String("status", out.Status))
		return out, nil
	}

	days := d.DurationDays
	if days <= 0 {
		days = s.defaultGrantDays
	}
	policy := &models.AccessPolicy{
		DocumentID:     d.DocumentID,
		ProfessionalID: d.ProfessionalID,
		TenantID:       d.TenantID,
		PatientID:      d.PatientID,
	}
	if err := s.policies.Grant(ctx, policy, time.Duration(days)*24*time.Hour); err != nil {
		return out, fmt.Errorf("grant access policy: %w", err)
	}

	log.Info("access policy granted",
		zap.String("policy_id", policy.ID.String()),
		zap.Time("expires_at", policy.ExpiresAt),
	)
	return out, nil
}
