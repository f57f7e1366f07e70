package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"hcen_sync/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPolicies struct{ mock.Mock }

func (m *mockPolicies) IsGranted(ctx context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (bool, error) {
	args := m.Called(ctx, documentID, professionalID, tenantID)
	return args.Bool(0), args.Error(1)
}

func (m *mockPolicies) Grant(ctx context.Context, p *models.AccessPolicy, duration time.Duration) error {
	args := m.Called(ctx, p, duration)
	return args.Error(0)
}

type mockRelay struct{ mock.Mock }

func (m *mockRelay) RelayDecision(ctx context.Context, tenantID, requestID uuid.UUID, approve bool) (models.DecisionOutcome, error) {
	args := m.Called(ctx, tenantID, requestID, approve)
	return args.Get(0).(models.DecisionOutcome), args.Error(1)
}

func testDecision(approve bool) models.PatientDecision {
	return models.PatientDecision{
		TenantID:       uuid.New(),
		PatientID:      "12345678",
		DocumentID:     uuid.New(),
		ProfessionalID: "prof-1",
		Approve:        approve,
	}
}

func TestDecisionService_ApproveGrantsPolicy(t *testing.T) {
	policies := &mockPolicies{}
	relay := &mockRelay{}
	s := NewDecisionService(policies, relay, 30, nil)

	requestID := uuid.New()
	d := testDecision(true)
	d.DurationDays = 7

	relay.On("RelayDecision", mock.Anything, d.TenantID, requestID, true).
		Return(models.DecisionOutcome{Status: models.DecisionStatusOK, HTTPStatus: 200}, nil)
	policies.On("Grant", mock.Anything, mock.MatchedBy(func(p *models.AccessPolicy) bool {
		return p.DocumentID == d.DocumentID && p.ProfessionalID == "prof-1" && p.PatientID == "12345678"
	}), 7*24*time.Hour).Return(nil)

	out, err := s.Decide(context.Background(), requestID, d)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStatusOK, out.Status)

	relay.AssertExpectations(t)
	policies.AssertExpectations(t)
}

func TestDecisionService_DefaultGrantDuration(t *testing.T) {
	policies := &mockPolicies{}
	relay := &mockRelay{}
	s := NewDecisionService(policies, relay, 0, nil)

	requestID := uuid.New()
	d := testDecision(true)

	relay.On("RelayDecision", mock.Anything, d.TenantID, requestID, true).
		Return(models.DecisionOutcome{Status: models.DecisionStatusOK}, nil)
	policies.On("Grant", mock.Anything, mock.Anything, 30*24*time.Hour).Return(nil)

	_, err := s.Decide(context.Background(), requestID, d)
	require.NoError(t, err)
	policies.AssertExpectations(t)
}

func TestDecisionService_NoGrantWhenClinicRefuses(t *testing.T) {
	policies := &mockPolicies{}
	relay := &mockRelay{}
	s := NewDecisionService(policies, relay, 30, nil)

	requestID := uuid.New()
	d := testDecision(true)
	relay.On("RelayDecision", mock.Anything, d.TenantID, requestID, true).
		Return(models.DecisionOutcome{Status: models.DecisionStatusConflict, HTTPStatus: 409}, nil)

	out, err := s.Decide(context.Background(), requestID, d)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStatusConflict, out.Status)
	policies.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything)
}

func TestDecisionService_RejectDoesNotGrant(t *testing.T) {
	policies := &mockPolicies{}
	relay := &mockRelay{}
	s := NewDecisionService(policies, relay, 30, nil)

	requestID := uuid.New()
	d := testDecision(false)
	relay.On("RelayDecision", mock.Anything, d.TenantID, requestID, false).
		Return(models.DecisionOutcome{Status: models.DecisionStatusOK}, nil)

	_, err := s.Decide(context.Background(), requestID, d)
	require.NoError(t, err)
	policies.AssertNotCalled(t, "Grant", mock.Anything, mock.Anything, mock.Anything)
}

func TestDecisionService_RelayError(t *testing.T) {
	relay := &mockRelay{}
	s := NewDecisionService(&mockPolicies{}, relay, 30, nil)

	requestID := uuid.New()
	d := testDecision(true)
	relay.On("RelayDecision", mock.Anything, d.TenantID, requestID, true).
		Return(models.DecisionOutcome{}, errors.New("dial tcp: connection refused"))

	_, err := s.Decide(context.Background(), requestID, d)
	assert.Error(t, err)

	_, err = s.Decide(context.Background(), uuid.Nil, d)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestDecisionService_IsGranted(t *testing.T) {
	policies := &mockPolicies{}
	s := NewDecisionService(policies, &mockRelay{}, 30, nil)

	docID, tenantID := uuid.New(), uuid.New()
	policies.On("IsGranted", mock.Anything, docID, "prof-1", tenantID).Return(true, nil)

	ok, err := s.IsGranted(context.Background(), docID, "prof-1", tenantID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.IsGranted(context.Background(), docID, "", tenantID)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
