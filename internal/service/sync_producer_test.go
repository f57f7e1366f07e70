package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"hcen_sync/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDocument() *models.Document {
	return &models.Document{
		ID:             uuid.New(),
		TenantID:       uuid.New(),
		PatientID:      "12345678",
		ProfessionalID: "prof-1",
		Title:          "Consulta",
	}
}

func TestSyncProducer_EnqueueSync_Success(t *testing.T) {
	pending := newFakePending()
	pub := &fakePublisher{}
	p := NewSyncProducer(pending, pub, "document-sync", nil)
	enqueuedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	p.now = fixedClock(enqueuedAt)

	doc := newTestDocument()
	out := p.EnqueueSync(context.Background(), doc)

	require.NoError(t, out.Err)
	assert.Equal(t, models.PendingStatePending, out.State)
	assert.Equal(t, "document-sync/0/1", out.QueueMessageID)

	rec := pending.get(out.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, models.PendingStatePending, rec.State)
	assert.Equal(t, 0, rec.Attempts)
	require.NotNil(t, rec.QueueMessageID)
	assert.Equal(t, "document-sync/0/1", *rec.QueueMessageID)
	require.NotNil(t, rec.EnqueuedAt)
	assert.Equal(t, enqueuedAt, *rec.EnqueuedAt)

	msg := pub.last()
	assert.Equal(t, "document-sync", msg.Topic)
	assert.Equal(t, doc.ID.String(), msg.Key)

	var sm models.SyncMessage
	require.NoError(t, json.Unmarshal(msg.Payload, &sm))
	assert.Equal(t, doc.ID, sm.DocumentID)
	assert.Equal(t, doc.TenantID, sm.TenantID)
	assert.Equal(t, doc.PatientID, sm.PatientID)
	require.NotNil(t, rec.OriginMessageID)
	assert.Equal(t, *rec.OriginMessageID, sm.OriginMessageID)
}

func TestSyncProducer_EnqueueSync_DeliveryFailure(t *testing.T) {
	pending := newFakePending()
	pub := &fakePublisher{err: errBroker}
	p := NewSyncProducer(pending, pub, "", nil)

	out := p.EnqueueSync(context.Background(), newTestDocument())

	assert.NoError(t, out.Err)
	assert.Equal(t, models.PendingStateError, out.State)

	rec := pending.get(out.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, models.PendingStateError, rec.State)
	assert.Equal(t, models.FailureCauseDelivery, rec.FailureCause)
	assert.Equal(t, 0, rec.Attempts)
	require.NotNil(t, rec.LastError)
	assert.True(t, strings.HasPrefix(*rec.LastError, "delivery error:"))
	assert.Nil(t, rec.QueueMessageID)
}

func TestSyncProducer_EnqueueSync_BookkeepingFailureStillPublishes(t *testing.T) {
	pending := newFakePending()
	pending.createErr = errors.New("db down")
	pub := &fakePublisher{}
	p := NewSyncProducer(pending, pub, "document-sync", nil)

	out := p.EnqueueSync(context.Background(), newTestDocument())

	assert.Error(t, out.Err)
	assert.Equal(t, uuid.Nil, out.RecordID)
	assert.Equal(t, 1, pub.count())
	assert.Empty(t, pending.all())
}

func TestSyncProducer_Send_FreshOriginPerCall(t *testing.T) {
	pub := &fakePublisher{}
	p := NewSyncProducer(newFakePending(), pub, "document-sync", nil)
	doc := newTestDocument()

	r1, err := p.Send(context.Background(), doc)
	require.NoError(t, err)
	r2, err := p.Send(context.Background(), doc)
	require.NoError(t, err)

	assert.NotEqual(t, r1.OriginMessageID, r2.OriginMessageID)
	assert.NotEqual(t, r1.QueueMessageID, r2.QueueMessageID)

	_, err = p.Send(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
