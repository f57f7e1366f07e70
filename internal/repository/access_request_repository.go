package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hcen_sync/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

var accessRequestColumns = []string{
	"id",
	"document_id",
	"professional_id",
	"tenant_id",
	"patient_id",
	"reason",
	"state",
	"requested_at",
	"responded_at",
}

// AccessRequestRepository - запросы доступа к документам (access_requests).
type AccessRequestRepository struct {
	db DB
	sb sq.StatementBuilderType
}

func NewAccessRequestRepository(db DB) *AccessRequestRepository {
	return &AccessRequestRepository{
		db: db,
		sb: builder(),
	}
}

// Get - запрос по id.
func (r *AccessRequestRepository) Get(ctx context.Context, id uuid.UUID) (*models.AccessRequest, error) {
	sqlStr, args, err := r.sb.
		Select(accessRequestColumns...).
		From("access_requests").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get access request sql: %w", err)
	}

	req, err := scanAccessRequest(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get access request: %w", err)
	}
	return req, nil
}

// FindGoverning - запрос, который определяет, можно ли просить доступ снова:
// APPROVED, если такой есть по (документ, профессионал, клиника), иначе самый новый.
func (r *AccessRequestRepository) FindGoverning(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (*models.AccessRequest, error) {
	return r.findGoverning(ctx, r.db, documentID, professionalID, tenantID)
}

// CreateGuarded - вставка PENDING-запроса под advisory-локом на кортеж.
// guard получает запрос из FindGoverning (или nil) и может запретить вставку своей ошибкой.
func (r *AccessRequestRepository) CreateGuarded(
	ctx context.Context,
	req *models.AccessRequest,
	guard func(governing *models.AccessRequest) error,
) (err error) {
	if req == nil {
		return fmt.Errorf("access request is nil")
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// сериализуем конкурирующие запросы по одному кортежу
	if _, err = tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", tupleKey(req.DocumentID, req.ProfessionalID, req.TenantID)); err != nil {
		return fmt.Errorf("lock access request tuple: %w", err)
	}

	governing, err := r.findGoverning(ctx, tx, req.DocumentID, req.ProfessionalID, req.TenantID)
	switch {
	case errors.Is(err, ErrNotFound):
		governing, err = nil, nil
	case err != nil:
		return err
	}
	if guard != nil {
		if err = guard(governing); err != nil {
			return err
		}
	}

	req.State = models.AccessRequestPending
	req.RespondedAt = nil

	sqlStr, args, err := r.sb.
		Insert("access_requests").
		Columns(
			"id",
			"document_id",
			"professional_id",
			"tenant_id",
			"patient_id",
			"reason",
			"state",
			"requested_at",
		).
		Values(
			req.ID,
			req.DocumentID,
			req.ProfessionalID,
			req.TenantID,
			req.PatientID,
			req.Reason,
			string(req.State),
			req.RequestedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert access request sql: %w", err)
	}

	if _, err = tx.Exec(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("insert access request: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Resolve - PENDING -> to. Если строка уже не PENDING, возвращает ErrStateChanged;
// второй APPROVED по кортежу отклоняет uq_access_requests_approved - ErrConflict.
func (r *AccessRequestRepository) Resolve(ctx context.Context, id uuid.UUID, to models.AccessRequestState, respondedAt time.Time) error {
	if to != models.AccessRequestApproved && to != models.AccessRequestRejected {
		return fmt.Errorf("invalid target state: %s", to)
	}

	sqlStr, args, err := r.sb.
		Update("access_requests").
		Set("state", string(to)).
		Set("responded_at", respondedAt).
		Where(sq.Eq{"id": id, "state": string(models.AccessRequestPending)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build resolve access request sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("resolve access request: %w", ErrConflict)
		}
		return fmt.Errorf("resolve access request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateChanged
	}
	return nil
}

// ListPendingByPatient - запросы, ожидающие решения пациента.
func (r *AccessRequestRepository) ListPendingByPatient(ctx context.Context, patientID string, limit int) ([]*models.AccessRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	sqlStr, args, err := r.sb.
		Select(accessRequestColumns...).
		From("access_requests").
		Where(sq.Eq{"patient_id": patientID, "state": string(models.AccessRequestPending)}).
		OrderBy("requested_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list pending access requests sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending access requests: %w", err)
	}
	defer rows.Close()

	res := make([]*models.AccessRequest, 0)
	for rows.Next() {
		req, err := scanAccessRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access request: %w", err)
		}
		res = append(res, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate access requests: %w", err)
	}
	return res, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *AccessRequestRepository) findGoverning(ctx context.Context, q querier, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (*models.AccessRequest, error) {
	sqlStr, args, err := r.sb.
		Select(accessRequestColumns...).
		From("access_requests").
		Where(sq.Eq{
			"document_id":     documentID,
			"professional_id": professionalID,
			"tenant_id":       tenantID,
		}).
		OrderByClause("state = ? DESC", string(models.AccessRequestApproved)).
		OrderBy("requested_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build governing access request sql: %w", err)
	}

	req, err := scanAccessRequest(q.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("governing access request: %w", err)
	}
	return req, nil
}

func scanAccessRequest(row rowScanner) (*models.AccessRequest, error) {
	var (
		req         models.AccessRequest
		state       string
		respondedAt pgtype.Timestamptz
	)
	if err := row.Scan(
		&req.ID,
		&req.DocumentID,
		&req.ProfessionalID,
		&req.TenantID,
		&req.PatientID,
		&req.Reason,
		&state,
		&req.RequestedAt,
		&respondedAt,
	); err != nil {
		return nil, err
	}

	req.State = models.AccessRequestState(state)
	if respondedAt.Valid {
		t := respondedAt.Time
		req.RespondedAt = &t
	}
	return &req, nil
}

func tupleKey(documentID uuid.UUID, professionalID string, tenantID uuid.UUID) string {
	return documentID.String() + "|" + professionalID + "|" + tenantID.String()
}
