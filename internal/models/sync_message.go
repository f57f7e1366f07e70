package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncMessage - сообщение в топик document-sync (клиника -> центр).
type SyncMessage struct {
	DocumentID      uuid.UUID `json:"documentId"`
	PatientID       string    `json:"patientId"`
	TenantID        uuid.UUID `json:"tenantId"`
	OriginMessageID uuid.UUID `json:"originMessageId"`
}

func NewSyncMessage(doc *Document) *SyncMessage {
	return &SyncMessage{
		DocumentID:      doc.ID,
		PatientID:       doc.PatientID,
		TenantID:        doc.TenantID,
		OriginMessageID: uuid.New(),
	}
}

// ErrorKind различает отказ центра по валидации и временную ошибку.
type ErrorKind string

const (
	ErrorKindValidation ErrorKind = "VALIDATION"
	ErrorKindTemporary  ErrorKind = "TEMPORARY"
)

// SyncConfirmation - ответ центра в топик sync-confirmations.
type SyncConfirmation struct {
	DocumentID      uuid.UUID  `json:"documentId"`
	HistoryID       *uuid.UUID `json:"historyId,omitempty"`
	TenantID        uuid.UUID  `json:"tenantId"`
	PatientID       string     `json:"patientId"`
	Success         bool       `json:"success"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
	ErrorKind       ErrorKind  `json:"errorKind,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
	OriginMessageID uuid.UUID  `json:"originMessageId"`
}

func NewSuccessConfirmation(msg *SyncMessage, historyID uuid.UUID, now time.Time) *SyncConfirmation {
	return &SyncConfirmation{
		DocumentID:      msg.DocumentID,
		HistoryID:       &historyID,
		TenantID:        msg.TenantID,
		PatientID:       msg.PatientID,
		Success:         true,
		Timestamp:       now,
		OriginMessageID: msg.OriginMessageID,
	}
}

func NewFailureConfirmation(msg *SyncMessage, kind ErrorKind, errMsg string, now time.Time) *SyncConfirmation {
	if strings.TrimSpace(errMsg) == "" {
		errMsg = "unknown error"
	}
	return &SyncConfirmation{
		DocumentID:      msg.DocumentID,
		TenantID:        msg.TenantID,
		PatientID:       msg.PatientID,
		Success:         false,
		ErrorMessage:    errMsg,
		ErrorKind:       kind,
		Timestamp:       now,
		OriginMessageID: msg.OriginMessageID,
	}
}

// Validate проверяет инвариант: success => historyId, !success => errorMessage.
func (c *SyncConfirmation) Validate() error {
	if c.DocumentID == uuid.Nil {
		return errors.New("documentId is required")
	}
	if c.TenantID == uuid.Nil {
		return errors.New("tenantId is required")
	}
	if c.Success {
		if c.HistoryID == nil || *c.HistoryID == uuid.Nil {
			return errors.New("successful confirmation without historyId")
		}
		return nil
	}
	if strings.TrimSpace(c.ErrorMessage) == "" {
		return errors.New("failed confirmation without errorMessage")
	}
	return nil
}
