package repository

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// ErrUnknownPatient - пациента нет в центральном реестре.
var ErrUnknownPatient = errors.New("unknown patient")

// HistoryRepository - центральные истории пациентов и связи документов.
type HistoryRepository struct {
	db DB
	sb sq.StatementBuilderType
}

func NewHistoryRepository(db DB) *HistoryRepository {
	return &HistoryRepository{
		db: db,
		sb: builder(),
	}
}

// FindOrCreateHistory - id истории пациента; создаёт историю при первом документе.
// Пациент должен быть в реестре, иначе ErrUnknownPatient.
func (r *HistoryRepository) FindOrCreateHistory(ctx context.Context, patientID string) (uuid.UUID, error) {
	if patientID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty patient id", ErrUnknownPatient)
	}

	// 1) пациент существует?
	existsSQL, existsArgs, err := r.sb.
		Select("1").
		From("patients").
		Where(sq.Eq{"national_id": patientID}).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build patient exists sql: %w", err)
	}

	var exists bool
	if err := r.db.QueryRow(ctx, existsSQL, existsArgs...).Scan(&exists); err != nil {
		return uuid.Nil, fmt.Errorf("check patient: %w", err)
	}
	if !exists {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnknownPatient, patientID)
	}

	// 2) вставка истории, конкурентные вставки гасит UNIQUE(patient_id)
	insertSQL, insertArgs, err := r.sb.
		Insert("clinical_histories").
		Columns("id", "patient_id").
		Values(uuid.New(), patientID).
		Suffix("ON CONFLICT (patient_id) DO NOTHING").
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build insert history sql: %w", err)
	}
	if _, err := r.db.Exec(ctx, insertSQL, insertArgs...); err != nil {
		return uuid.Nil, fmt.Errorf("insert history: %w", err)
	}

	// 3) читаем фактический id (свой или ранее созданный)
	selectSQL, selectArgs, err := r.sb.
		Select("id").
		From("clinical_histories").
		Where(sq.Eq{"patient_id": patientID}).
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build select history sql: %w", err)
	}

	var id uuid.UUID
	if err := r.db.QueryRow(ctx, selectSQL, selectArgs...).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("select history: %w", err)
	}
	return id, nil
}

// LinkDocument - привязать документ к истории. alreadyLinked=true, если связь уже была.
func (r *HistoryRepository) LinkDocument(ctx context.Context, historyID, documentID, tenantID uuid.UUID) (bool, error) {
	sqlStr, args, err := r.sb.
		Insert("history_documents").
		Columns("document_id", "history_id", "tenant_id").
		Values(documentID, historyID, tenantID).
		Suffix("ON CONFLICT (document_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build link document sql: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("link document: %w", err)
	}
	return tag.RowsAffected() == 0, nil
}

// LinkedHistory - история, к которой уже привязан документ.
func (r *HistoryRepository) LinkedHistory(ctx context.Context, documentID uuid.UUID) (uuid.UUID, error) {
	sqlStr, args, err := r.sb.
		Select("history_id").
		From("history_documents").
		Where(sq.Eq{"document_id": documentID}).
		ToSql()
	if err != nil {
		return uuid.Nil, fmt.Errorf("build linked history sql: %w", err)
	}

	var id uuid.UUID
	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&id); err != nil {
		if isNoRows(err) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("linked history: %w", err)
	}
	return id, nil
}
