package repository

import (
	"context"
	"fmt"

	"hcen_sync/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// DocumentRepository - локальные документы клиники.
type DocumentRepository struct {
	db DB
	sb sq.StatementBuilderType
}

func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{
		db: db,
		sb: builder(),
	}
}

// Create - вставка документа с sync_pending = true.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}
	if doc.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id is empty")
	}
	if doc.PatientID == "" {
		return fmt.Errorf("patient_id is empty")
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	q := r.sb.
		Insert("documents").
		Columns(
			"id",
			"tenant_id",
			"patient_id",
			"professional_id",
			"title",
			"reason_code",
			"content",
			"sync_pending",
		).
		Values(
			doc.ID,
			doc.TenantID,
			doc.PatientID,
			doc.ProfessionalID,
			doc.Title,
			doc.ReasonCode,
			doc.Content,
			true,
		).
		Suffix("RETURNING created_at, updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build create document sql: %w", err)
	}

	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&doc.CreatedAt, &doc.UpdatedAt); err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	doc.SyncPending = true
	doc.HistoryID = nil
	return nil
}

// Get - документ по id (без фильтра по клинике, проверка делается выше).
func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	q := r.sb.
		Select(
			"id",
			"tenant_id",
			"patient_id",
			"professional_id",
			"title",
			"reason_code",
			"content",
			"history_id",
			"sync_pending",
			"created_at",
			"updated_at",
		).
		From("documents").
		Where(sq.Eq{"id": id}).
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get document sql: %w", err)
	}

	var (
		d         models.Document
		historyID pgtype.UUID
	)
	err = r.db.QueryRow(ctx, sqlStr, args...).Scan(
		&d.ID,
		&d.TenantID,
		&d.PatientID,
		&d.ProfessionalID,
		&d.Title,
		&d.ReasonCode,
		&d.Content,
		&historyID,
		&d.SyncPending,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	d.HistoryID = uuidPtr(historyID)
	return &d, nil
}

// ApplyHistory - проставить history_id (только если ещё не задан) и снять флаг sync_pending.
// Возвращает false, если документ уже был синхронизирован раньше.
func (r *DocumentRepository) ApplyHistory(ctx context.Context, id, tenantID, historyID uuid.UUID) (bool, error) {
	q := r.sb.
		Update("documents").
		Set("history_id", historyID).
		Set("sync_pending", false).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "tenant_id": tenantID, "history_id": nil})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build apply history sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("apply history: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Delete - используется администрированием клиники; журнал синхронизации остаётся.
func (r *DocumentRepository) Delete(ctx context.Context, id, tenantID uuid.UUID) error {
	sqlStr, args, err := r.sb.
		Delete("documents").
		Where(sq.Eq{"id": id, "tenant_id": tenantID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete document sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
