package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"hcen_sync/internal/models"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyRepository_IsGranted(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := NewPolicyRepository(mock)
	repo.now = func() time.Time { return now }

	docID, tenantID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS \( SELECT 1 FROM access_policies WHERE .+ AND expires_at > \$5 \)`).
		WithArgs(docID.String(), "prof-1", "ACTIVO", tenantID.String(), now).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.IsGranted(context.Background(), docID, "prof-1", tenantID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyRepository_IsGranted_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := NewPolicyRepository(mock)
	repo.now = func() time.Time { return now }
	docID, tenantID := uuid.New(), uuid.New()

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(docID.String(), "prof-1", "ACTIVO", tenantID.String(), now).
		WillReturnError(errors.New("conn reset"))

	_, err = repo.IsGranted(context.Background(), docID, "prof-1", tenantID)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPolicyRepository_Grant(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := NewPolicyRepository(mock)
	repo.now = func() time.Time { return now }

	p := &models.AccessPolicy{
		DocumentID:     uuid.New(),
		ProfessionalID: "prof-1",
		TenantID:       uuid.New(),
		PatientID:      "12345678",
	}
	expires := now.Add(30 * 24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO access_policies (id,document_id,professional_id,tenant_id,patient_id,state,granted_at,expires_at)")).
		WithArgs(pgxmock.AnyArg(), p.DocumentID, "prof-1", p.TenantID, "12345678", "ACTIVO", now, expires).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Grant(context.Background(), p, 30*24*time.Hour))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, models.PolicyActive, p.State)
	assert.Equal(t, expires, p.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, repo.Grant(context.Background(), p, 0))
}
