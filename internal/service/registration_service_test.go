package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"hcen_sync/internal/cache"
	"hcen_sync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistration(t *testing.T, h *fakeHistories, withCache bool) (*RegistrationService, *fakePublisher) {
	t.Helper()
	var c cache.Cache
	if withCache {
		mr := miniredis.RunT(t)
		rc := cache.NewRedisCache(mr.Addr(), "", 0)
		t.Cleanup(func() { _ = rc.Close() })
		c = rc
	}
	pub := &fakePublisher{}
	s := NewRegistrationService(h, c, pub, "sync-confirmations", time.Hour, nil)
	s.now = fixedClock(time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC))
	return s, pub
}

func syncPayload(t *testing.T, msg models.SyncMessage) []byte {
	t.Helper()
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	return b
}

func lastConfirmation(t *testing.T, pub *fakePublisher) models.SyncConfirmation {
	t.Helper()
	p := pub.last()
	assert.Equal(t, "sync-confirmations", p.Topic)
	var c models.SyncConfirmation
	require.NoError(t, json.Unmarshal(p.Payload, &c))
	require.NoError(t, c.Validate())
	return c
}

func TestRegistrationService_IdempotentRegistration(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		h := newFakeHistories("12345678")
		s, pub := newRegistration(t, h, withCache)

		msg := models.SyncMessage{
			DocumentID:      uuid.New(),
			PatientID:       "12345678",
			TenantID:        uuid.New(),
			OriginMessageID: uuid.New(),
		}

		require.NoError(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))
		first := lastConfirmation(t, pub)

		require.NoError(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))
		second := lastConfirmation(t, pub)

		assert.True(t, first.Success)
		assert.True(t, second.Success)
		require.NotNil(t, first.HistoryID)
		assert.Equal(t, *first.HistoryID, *second.HistoryID)
		assert.Equal(t, msg.OriginMessageID, second.OriginMessageID)
		assert.Equal(t, msg.DocumentID.String(), pub.last().Key)
		assert.Equal(t, 1, h.linkCount())
	}
}

func TestRegistrationService_SameHistoryForPatientDocuments(t *testing.T) {
	h := newFakeHistories("12345678")
	s, pub := newRegistration(t, h, false)
	tenantID := uuid.New()

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		msg := models.SyncMessage{DocumentID: uuid.New(), PatientID: "12345678", TenantID: tenantID, OriginMessageID: uuid.New()}
		require.NoError(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))
		ids = append(ids, *lastConfirmation(t, pub).HistoryID)
	}
	assert.Equal(t, ids[0], ids[1])
	assert.Equal(t, 2, h.linkCount())
}

func TestRegistrationService_ValidationFailures(t *testing.T) {
	cases := map[string]models.SyncMessage{
		"unknown patient": {DocumentID: uuid.New(), PatientID: "99999999", TenantID: uuid.New(), OriginMessageID: uuid.New()},
		"missing patient": {DocumentID: uuid.New(), TenantID: uuid.New(), OriginMessageID: uuid.New()},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			h := newFakeHistories("12345678")
			s, pub := newRegistration(t, h, false)

			require.NoError(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))

			c := lastConfirmation(t, pub)
			assert.False(t, c.Success)
			assert.Nil(t, c.HistoryID)
			assert.Equal(t, models.ErrorKindValidation, c.ErrorKind)
			assert.True(t, strings.HasPrefix(c.ErrorMessage, "validation error:"))
			assert.Equal(t, 0, h.linkCount())
		})
	}
}

func TestRegistrationService_TemporaryFailure(t *testing.T) {
	h := newFakeHistories("12345678")
	h.err = errors.New("connection refused")
	s, pub := newRegistration(t, h, false)

	msg := models.SyncMessage{DocumentID: uuid.New(), PatientID: "12345678", TenantID: uuid.New(), OriginMessageID: uuid.New()}
	require.NoError(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))

	c := lastConfirmation(t, pub)
	assert.False(t, c.Success)
	assert.Equal(t, models.ErrorKindTemporary, c.ErrorKind)
	assert.True(t, strings.HasPrefix(c.ErrorMessage, "temporary error:"))
}

func TestRegistrationService_MalformedDropped(t *testing.T) {
	s, pub := newRegistration(t, newFakeHistories(), false)

	assert.NoError(t, s.ProcessMessage(context.Background(), []byte("not json")))
	assert.NoError(t, s.ProcessMessage(context.Background(), []byte(`{"patientId":"1"}`)))
	assert.Equal(t, 0, pub.count())
}

func TestRegistrationService_ConfirmPublishFailureRedelivers(t *testing.T) {
	h := newFakeHistories("12345678")
	s, pub := newRegistration(t, h, false)
	pub.setErr(errBroker)

	msg := models.SyncMessage{DocumentID: uuid.New(), PatientID: "12345678", TenantID: uuid.New(), OriginMessageID: uuid.New()}
	assert.Error(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))

	// повторная доставка после восстановления брокера
	pub.setErr(nil)
	require.NoError(t, s.ProcessMessage(context.Background(), syncPayload(t, msg)))
	assert.True(t, lastConfirmation(t, pub).Success)
	assert.Equal(t, 1, h.linkCount())
}
