package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"hcen_sync/internal/models"

	"github.com/google/uuid"
)

// ErrMalformed - payload нельзя разобрать или в нём нет адресата.
var ErrMalformed = errors.New("malformed message")

// DecodeSyncMessage разбирает document-sync. Возвращает частично заполненное сообщение
// вместе с ошибкой валидации, если адресат (documentId, tenantId) известен.
func DecodeSyncMessage(payload []byte) (*models.SyncMessage, error) {
	var msg models.SyncMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.DocumentID == uuid.Nil || msg.TenantID == uuid.Nil {
		return nil, fmt.Errorf("%w: documentId and tenantId are required", ErrMalformed)
	}
	return &msg, nil
}

// ValidateSyncMessage - бизнес-проверки, после которых центр отвечает отказом.
func ValidateSyncMessage(msg *models.SyncMessage) error {
	if strings.TrimSpace(msg.PatientID) == "" {
		return errors.New("patientId is required")
	}
	if msg.OriginMessageID == uuid.Nil {
		return errors.New("originMessageId is required")
	}
	return nil
}

// DecodeConfirmation разбирает sync-confirmations и проверяет инвариант success/historyId/errorMessage.
func DecodeConfirmation(payload []byte) (*models.SyncConfirmation, error) {
	var c models.SyncConfirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &c, nil
}
