package repository

import (
	"context"
	"fmt"
	"time"

	"hcen_sync/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const pendingTable = "sync_pending"

var pendingColumns = []string{
	"id",
	"kind",
	"patient_id",
	"document_id",
	"tenant_id",
	"state",
	"attempts",
	"last_error",
	"failure_cause",
	"queue_message_id",
	"origin_message_id",
	"enqueued_at",
	"created_at",
	"updated_at",
}

var openStates = []string{
	string(models.PendingStatePending),
	string(models.PendingStateError),
}

// PendingRepository - журнал синхронизации (sync_pending).
type PendingRepository struct {
	db DB
	sb sq.StatementBuilderType
}

func NewPendingRepository(db DB) *PendingRepository {
	return &PendingRepository{
		db: db,
		sb: builder(),
	}
}

// Create - вставка новой записи. ID генерируется здесь, если не задан.
func (r *PendingRepository) Create(ctx context.Context, rec *models.SyncPendingRecord) error {
	if rec == nil {
		return fmt.Errorf("pending record is nil")
	}
	if rec.Subject == nil {
		return fmt.Errorf("pending record subject is nil")
	}
	if rec.TenantID == uuid.Nil {
		return fmt.Errorf("tenant_id is empty")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.State == "" {
		rec.State = models.PendingStatePending
	}

	var documentID any
	if id, ok := rec.DocumentID(); ok {
		documentID = id
	}

	q := r.sb.
		Insert(pendingTable).
		Columns(
			"id",
			"kind",
			"patient_id",
			"document_id",
			"tenant_id",
			"state",
			"attempts",
			"last_error",
			"failure_cause",
		).
		Values(
			rec.ID,
			string(rec.Subject.Kind()),
			rec.Subject.Patient(),
			documentID,
			rec.TenantID,
			string(rec.State),
			rec.Attempts,
			rec.LastError,
			nullableCause(rec.FailureCause),
		).
		Suffix("RETURNING created_at, updated_at")

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build pending insert: %w", err)
	}

	if err := r.db.QueryRow(ctx, sqlStr, args...).Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return fmt.Errorf("insert pending record: %w", err)
	}
	return nil
}

// Get - запись по id.
func (r *PendingRepository) Get(ctx context.Context, id uuid.UUID) (*models.SyncPendingRecord, error) {
	q := r.sb.
		Select(pendingColumns...).
		From(pendingTable).
		Where(sq.Eq{"id": id})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending get: %w", err)
	}

	rec, err := scanPending(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get pending record: %w", err)
	}
	return rec, nil
}

// FindOpenByDocument - последняя открытая (PENDING/ERROR) DOCUMENT-запись по документу и клинике.
func (r *PendingRepository) FindOpenByDocument(ctx context.Context, documentID, tenantID uuid.UUID) (*models.SyncPendingRecord, error) {
	q := r.sb.
		Select(pendingColumns...).
		From(pendingTable).
		Where(sq.Eq{
			"kind":        string(models.SyncKindDocument),
			"document_id": documentID,
			"tenant_id":   tenantID,
			"state":       openStates,
		}).
		OrderBy("created_at DESC").
		Limit(1)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending find open: %w", err)
	}

	rec, err := scanPending(r.db.QueryRow(ctx, sqlStr, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find open pending record: %w", err)
	}
	return rec, nil
}

// ListRetryable - кандидаты для scheduler:
// DOCUMENT, state in (PENDING, ERROR), attempts < max,
// (state = ERROR или queue_message_id IS NULL), причина ошибки допускает повтор.
func (r *PendingRepository) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]*models.SyncPendingRecord, error) {
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("maxAttempts must be > 0")
	}
	if limit <= 0 {
		limit = 50
	}

	q := r.sb.
		Select(pendingColumns...).
		From(pendingTable).
		Where(sq.Eq{
			"kind":  string(models.SyncKindDocument),
			"state": openStates,
		}).
		Where(sq.Lt{"attempts": maxAttempts}).
		Where(sq.Or{
			sq.Eq{"state": string(models.PendingStateError)},
			sq.Eq{"queue_message_id": nil},
		}).
		Where(sq.Or{
			sq.Eq{"failure_cause": nil},
			sq.Eq{"failure_cause": models.RetryableFailureCauses()},
		}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending select retryable: %w", err)
	}

	return r.queryList(ctx, sqlStr, args, limit)
}

type PendingFilter struct {
	TenantID uuid.UUID
	State    models.PendingState
	Kind     models.SyncKind
	Limit    int
	Offset   int
}

// List - записи клиники для UI ("ожидает синхронизации"), с общим количеством.
func (r *PendingRepository) List(ctx context.Context, f PendingFilter) ([]*models.SyncPendingRecord, int, error) {
	if f.TenantID == uuid.Nil {
		return nil, 0, fmt.Errorf("tenant_id is empty")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}

	filters := sq.And{sq.Eq{"tenant_id": f.TenantID}}
	if f.State != "" {
		filters = append(filters, sq.Eq{"state": string(f.State)})
	}
	if f.Kind != "" {
		filters = append(filters, sq.Eq{"kind": string(f.Kind)})
	}

	countSQL, countArgs, err := r.sb.Select("COUNT(*)").From(pendingTable).Where(filters).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build pending count: %w", err)
	}

	var total int64
	if err := r.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count pending records: %w", err)
	}

	q := r.sb.
		Select(pendingColumns...).
		From(pendingTable).
		Where(filters).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(f.Limit))
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build pending list: %w", err)
	}

	res, err := r.queryList(ctx, sqlStr, args, f.Limit)
	if err != nil {
		return nil, 0, err
	}
	return res, int(total), nil
}

// CountByState - количество записей клиники по состояниям.
func (r *PendingRepository) CountByState(ctx context.Context, tenantID uuid.UUID) (map[models.PendingState]int, error) {
	sqlStr, args, err := r.sb.
		Select("state", "COUNT(*)").
		From(pendingTable).
		Where(sq.Eq{"tenant_id": tenantID}).
		GroupBy("state").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending count by state: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending count by state: %w", err)
	}
	defer rows.Close()

	res := make(map[models.PendingState]int, 4)
	for rows.Next() {
		var (
			state string
			cnt   int64
		)
		if err := rows.Scan(&state, &cnt); err != nil {
			return nil, fmt.Errorf("scan pending count: %w", err)
		}
		res[models.PendingState(state)] = int(cnt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending counts: %w", err)
	}
	return res, nil
}

// MarkEnqueued - первая отправка прошла: сохраняем id сообщения в очереди.
func (r *PendingRepository) MarkEnqueued(ctx context.Context, id uuid.UUID, queueMessageID string, originID uuid.UUID, enqueuedAt time.Time) error {
	q := r.sb.
		Update(pendingTable).
		Set("state", string(models.PendingStatePending)).
		Set("queue_message_id", queueMessageID).
		Set("origin_message_id", originID).
		Set("enqueued_at", enqueuedAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id})

	return r.exec(ctx, q, "mark pending enqueued")
}

// MarkRetried - повторная отправка прошла: attempts++, снова PENDING с новым id сообщения.
func (r *PendingRepository) MarkRetried(ctx context.Context, id uuid.UUID, queueMessageID string, originID uuid.UUID, enqueuedAt time.Time) error {
	q := r.sb.
		Update(pendingTable).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("state", string(models.PendingStatePending)).
		Set("failure_cause", nil).
		Set("queue_message_id", queueMessageID).
		Set("origin_message_id", originID).
		Set("enqueued_at", enqueuedAt).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "state": openStates})

	return r.exec(ctx, q, "mark pending retried")
}

// MarkDeliveryFailed - отправка в очередь не удалась. countAttempt=true только для повторной отправки.
func (r *PendingRepository) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, lastError string, countAttempt bool) error {
	if lastError == "" {
		lastError = "delivery error: unknown"
	}

	q := r.sb.
		Update(pendingTable).
		Set("state", string(models.PendingStateError)).
		Set("failure_cause", string(models.FailureCauseDelivery)).
		Set("last_error", lastError)
	if countAttempt {
		q = q.Set("attempts", sq.Expr("attempts + 1"))
	}
	q = q.
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "state": openStates})

	return r.exec(ctx, q, "mark pending delivery failed")
}

// MarkResolved - центр подтвердил регистрацию.
func (r *PendingRepository) MarkResolved(ctx context.Context, id uuid.UUID) error {
	q := r.sb.
		Update(pendingTable).
		Set("state", string(models.PendingStateResolved)).
		Set("failure_cause", nil).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "state": openStates})

	return r.exec(ctx, q, "mark pending resolved")
}

// MarkFailed - центр вернул ошибку обработки.
func (r *PendingRepository) MarkFailed(ctx context.Context, id uuid.UUID, cause models.FailureCause, lastError string) error {
	if cause == models.FailureCauseNone {
		return fmt.Errorf("failure cause is required")
	}

	q := r.sb.
		Update(pendingTable).
		Set("state", string(models.PendingStateError)).
		Set("failure_cause", string(cause)).
		Set("last_error", lastError).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "state": openStates})

	return r.exec(ctx, q, "mark pending failed")
}

// MarkCancelled - документ пропал локально, запись больше не ретраится.
func (r *PendingRepository) MarkCancelled(ctx context.Context, id uuid.UUID, reason string) error {
	q := r.sb.
		Update(pendingTable).
		Set("state", string(models.PendingStateCancelled)).
		Set("failure_cause", string(models.FailureCauseOrphaned)).
		Set("last_error", reason).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "state": openStates})

	return r.exec(ctx, q, "mark pending cancelled")
}

// CleanupResolved - удалить RESOLVED старше N дней.
func (r *PendingRepository) CleanupResolved(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	q := r.sb.
		Delete(pendingTable).
		Where(sq.Eq{"state": string(models.PendingStateResolved)}).
		Where(sq.Expr("updated_at < NOW() - (? * INTERVAL '1 day')", retentionDays))

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build pending cleanup: %w", err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup pending records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *PendingRepository) exec(ctx context.Context, q sq.UpdateBuilder, op string) error {
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}

	tag, err := r.db.Exec(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PendingRepository) queryList(ctx context.Context, sqlStr string, args []any, capHint int) ([]*models.SyncPendingRecord, error) {
	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending records: %w", err)
	}
	defer rows.Close()

	res := make([]*models.SyncPendingRecord, 0, capHint)
	for rows.Next() {
		rec, err := scanPending(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending record: %w", err)
		}
		res = append(res, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending records: %w", err)
	}
	return res, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPending(row rowScanner) (*models.SyncPendingRecord, error) {
	var (
		rec         models.SyncPendingRecord
		kind        string
		patientID   string
		state       string
		documentID  pgtype.UUID
		lastError   pgtype.Text
		cause       pgtype.Text
		queueMsgID  pgtype.Text
		originMsgID pgtype.UUID
		enqueuedAt  pgtype.Timestamptz
	)

	if err := row.Scan(
		&rec.ID,
		&kind,
		&patientID,
		&documentID,
		&rec.TenantID,
		&state,
		&rec.Attempts,
		&lastError,
		&cause,
		&queueMsgID,
		&originMsgID,
		&enqueuedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	subject, err := models.SubjectFromColumns(models.SyncKind(kind), patientID, uuidPtr(documentID))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.Subject = subject
	rec.State = models.PendingState(state)
	rec.LastError = textPtr(lastError)
	if cause.Valid {
		rec.FailureCause = models.FailureCause(cause.String)
	}
	rec.QueueMessageID = textPtr(queueMsgID)
	rec.OriginMessageID = uuidPtr(originMsgID)
	if enqueuedAt.Valid {
		t := enqueuedAt.Time
		rec.EnqueuedAt = &t
	}
	return &rec, nil
}

func nullableCause(c models.FailureCause) any {
	if c == models.FailureCauseNone {
		return nil
	}
	return string(c)
}

func textPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	s := t.String
	return &s
}

func uuidPtr(u pgtype.UUID) *uuid.UUID {
	if !u.Valid {
		return nil
	}
	id := uuid.UUID(u.Bytes)
	return &id
}
