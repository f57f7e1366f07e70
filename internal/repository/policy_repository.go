package repository

import (
	"context"
	"fmt"
	"time"

	"hcen_sync/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// PolicyRepository - политики доступа центра. Полный CRUD живёт вне этого сервиса,
// здесь только проверка и выдача при одобрении запроса.
type PolicyRepository struct {
	db  DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

func NewPolicyRepository(db DB) *PolicyRepository {
	return &PolicyRepository{
		db:  db,
		sb:  builder(),
		now: time.Now,
	}
}

// IsGranted - есть ли ACTIVO политика, которая ещё не истекла.
func (r *PolicyRepository) IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error) {
	sqlStr, args, err := r.sb.
		Select("1").
		From("access_policies").
		Where(sq.Eq{
			"document_id":     documentID,
			"professional_id": professionalID,
			"tenant_id":       tenantID,
			"state":           string(models.PolicyActive),
		}).
		Where(sq.Gt{"expires_at": r.now()}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build is granted sql: %w", err)
	}

	var ok bool
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("check access policy: %w", err)
	}
	return ok, nil
}

// Grant - выдать политику на duration.
func (r *PolicyRepository) Grant(ctx context.Context, p *models.AccessPolicy, duration time.Duration) error {
	if p == nil {
		return fmt.Errorf("policy is nil")
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be > 0")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.State = models.PolicyActive
	p.GrantedAt = r.now().UTC()
	p.ExpiresAt = p.GrantedAt.Add(duration)

	sqlStr, args, err := r.sb.
		Insert("access_policies").
		Columns("id", "document_id", "professional_id", "tenant_id", "patient_id", "state", "granted_at", "expires_at").
		Values(p.ID, p.DocumentID, p.ProfessionalID, p.TenantID, p.PatientID, string(p.State), p.GrantedAt, p.ExpiresAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build grant policy sql: %w", err)
	}

	if _, err := r.db.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("grant policy: %w", err)
	}
	return nil
}
