package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRepository_FindOrCreateHistory(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewHistoryRepository(mock)
	historyID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS ( SELECT 1 FROM patients WHERE national_id = $1 )")).
		WithArgs("12345678").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO clinical_histories (id,patient_id) VALUES ($1,$2) ON CONFLICT (patient_id) DO NOTHING")).
		WithArgs(pgxmock.AnyArg(), "12345678").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM clinical_histories WHERE patient_id = $1")).
		WithArgs("12345678").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(historyID))

	got, err := repo.FindOrCreateHistory(context.Background(), "12345678")
	require.NoError(t, err)
	assert.Equal(t, historyID, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepository_FindOrCreateHistory_UnknownPatient(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewHistoryRepository(mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS ( SELECT 1 FROM patients WHERE national_id = $1 )")).
		WithArgs("99999999").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(false))

	_, err = repo.FindOrCreateHistory(context.Background(), "99999999")
	assert.ErrorIs(t, err, ErrUnknownPatient)

	_, err = repo.FindOrCreateHistory(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnknownPatient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepository_LinkDocument_Idempotent(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewHistoryRepository(mock)
	historyID, docID, tenantID := uuid.New(), uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_documents (document_id,history_id,tenant_id) VALUES ($1,$2,$3) ON CONFLICT (document_id) DO NOTHING")).
		WithArgs(docID, historyID, tenantID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_documents")).
		WithArgs(docID, historyID, tenantID).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	already, err := repo.LinkDocument(context.Background(), historyID, docID, tenantID)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = repo.LinkDocument(context.Background(), historyID, docID, tenantID)
	require.NoError(t, err)
	assert.True(t, already)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS documents").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock, ComponentPeripheral))

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS clinical_histories").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock, ComponentCentral))

	assert.Error(t, Migrate(context.Background(), mock, "billing"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
