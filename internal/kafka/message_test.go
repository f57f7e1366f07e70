package kafka

import (
	"testing"

	"hcen_sync/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSyncMessage(t *testing.T) {
	docID, tenantID := uuid.New(), uuid.New()

	msg, err := DecodeSyncMessage([]byte(`{"documentId":"` + docID.String() + `","tenantId":"` + tenantID.String() + `","patientId":""}`))
	require.NoError(t, err)
	assert.Equal(t, docID, msg.DocumentID)
	// адресат известен, но сообщение не проходит бизнес-проверку
	assert.Error(t, ValidateSyncMessage(msg))

	_, err = DecodeSyncMessage([]byte(`{not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeSyncMessage([]byte(`{"documentId":"` + docID.String() + `"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestValidateSyncMessage(t *testing.T) {
	msg := &models.SyncMessage{
		DocumentID:      uuid.New(),
		TenantID:        uuid.New(),
		PatientID:       "12345678",
		OriginMessageID: uuid.New(),
	}
	assert.NoError(t, ValidateSyncMessage(msg))

	msg.OriginMessageID = uuid.Nil
	assert.Error(t, ValidateSyncMessage(msg))
}

func TestDecodeConfirmation(t *testing.T) {
	_, err := DecodeConfirmation([]byte(`[]`))
	assert.ErrorIs(t, err, ErrMalformed)
}
