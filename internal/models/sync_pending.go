package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SyncKind string

const (
	SyncKindUser     SyncKind = "USER"
	SyncKindDocument SyncKind = "DOCUMENT"
)

type PendingState string

const (
	PendingStatePending   PendingState = "PENDING"
	PendingStateError     PendingState = "ERROR"
	PendingStateResolved  PendingState = "RESOLVED"
	PendingStateCancelled PendingState = "CANCELLED"
)

func (s PendingState) Valid() bool {
	switch s {
	case PendingStatePending, PendingStateError, PendingStateResolved, PendingStateCancelled:
		return true
	}
	return false
}

// FailureCause - почему запись в ERROR/CANCELLED. Ретраятся только DELIVERY и CENTRAL_TEMPORARY.
type FailureCause string

const (
	FailureCauseNone            FailureCause = ""
	FailureCauseDelivery        FailureCause = "DELIVERY"
	FailureCauseCentralTemp     FailureCause = "CENTRAL_TEMPORARY"
	FailureCauseCentralRejected FailureCause = "CENTRAL_REJECTED"
	FailureCauseOrphaned        FailureCause = "ORPHANED"
)

func (c FailureCause) Retryable() bool {
	return c == FailureCauseNone || c == FailureCauseDelivery || c == FailureCauseCentralTemp
}

// RetryableFailureCauses - значения failure_cause, которые scheduler может выбирать.
func RetryableFailureCauses() []string {
	return []string{string(FailureCauseDelivery), string(FailureCauseCentralTemp)}
}

// FailureCauseFor переводит errorKind подтверждения в причину ошибки записи.
func FailureCauseFor(kind ErrorKind) FailureCause {
	if kind == ErrorKindTemporary {
		return FailureCauseCentralTemp
	}
	return FailureCauseCentralRejected
}

// SyncSubject - то, что синхронизируется. Реализации: UserSubject, DocumentSubject.
type SyncSubject interface {
	Kind() SyncKind
	Patient() string
}

type UserSubject struct {
	PatientID string
}

func (UserSubject) Kind() SyncKind    { return SyncKindUser }
func (s UserSubject) Patient() string { return s.PatientID }

type DocumentSubject struct {
	DocumentID uuid.UUID
	PatientID  string
}

func (DocumentSubject) Kind() SyncKind    { return SyncKindDocument }
func (s DocumentSubject) Patient() string { return s.PatientID }

// SubjectFromColumns собирает вариант из строки sync_pending.
func SubjectFromColumns(kind SyncKind, patientID string, documentID *uuid.UUID) (SyncSubject, error) {
	switch kind {
	case SyncKindUser:
		return UserSubject{PatientID: patientID}, nil
	case SyncKindDocument:
		if documentID == nil || *documentID == uuid.Nil {
			return nil, fmt.Errorf("document record without document_id")
		}
		return DocumentSubject{DocumentID: *documentID, PatientID: patientID}, nil
	default:
		return nil, fmt.Errorf("unknown sync kind %q", kind)
	}
}

// SyncPendingRecord - запись журнала синхронизации (аудит + ретраи).
type SyncPendingRecord struct {
	ID              uuid.UUID
	Subject         SyncSubject
	TenantID        uuid.UUID
	State           PendingState
	Attempts        int
	LastError       *string
	FailureCause    FailureCause
	QueueMessageID  *string
	OriginMessageID *uuid.UUID
	EnqueuedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *SyncPendingRecord) Kind() SyncKind {
	if r.Subject == nil {
		return ""
	}
	return r.Subject.Kind()
}

// DocumentID возвращает id документа для DOCUMENT записей.
func (r *SyncPendingRecord) DocumentID() (uuid.UUID, bool) {
	s, ok := r.Subject.(DocumentSubject)
	if !ok {
		return uuid.Nil, false
	}
	return s.DocumentID, true
}

// PendingRecordView - представление записи для API.
type PendingRecordView struct {
	ID             uuid.UUID    `json:"id"`
	Kind           SyncKind     `json:"kind"`
	DocumentID     *uuid.UUID   `json:"documentId,omitempty"`
	PatientID      string       `json:"patientId"`
	TenantID       uuid.UUID    `json:"tenantId"`
	State          PendingState `json:"state"`
	Attempts       int          `json:"attempts"`
	LastError      *string      `json:"lastError,omitempty"`
	FailureCause   FailureCause `json:"failureCause,omitempty"`
	QueueMessageID *string      `json:"queueMessageId,omitempty"`
	EnqueuedAt     *time.Time   `json:"enqueuedAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

func (r *SyncPendingRecord) View() PendingRecordView {
	v := PendingRecordView{
		ID:             r.ID,
		Kind:           r.Kind(),
		TenantID:       r.TenantID,
		State:          r.State,
		Attempts:       r.Attempts,
		LastError:      r.LastError,
		FailureCause:   r.FailureCause,
		QueueMessageID: r.QueueMessageID,
		EnqueuedAt:     r.EnqueuedAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Subject != nil {
		v.PatientID = r.Subject.Patient()
	}
	if id, ok := r.DocumentID(); ok {
		v.DocumentID = &id
	}
	return v
}
