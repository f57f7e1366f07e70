package models

import (
	"time"

	"github.com/google/uuid"
)

type AccessRequestState string

const (
	AccessRequestPending  AccessRequestState = "PENDING"
	AccessRequestApproved AccessRequestState = "APPROVED"
	AccessRequestRejected AccessRequestState = "REJECTED"
)

// AccessRequest - запрос профессионала на доступ к документу другой клиники.
type AccessRequest struct {
	ID             uuid.UUID          `json:"id"`
	DocumentID     uuid.UUID          `json:"documentId"`
	ProfessionalID string             `json:"professionalId"`
	TenantID       uuid.UUID          `json:"tenantId"`
	PatientID      string             `json:"patientId"`
	Reason         string             `json:"reason,omitempty"`
	State          AccessRequestState `json:"state"`
	RequestedAt    time.Time          `json:"requestedAt"`
	RespondedAt    *time.Time         `json:"respondedAt,omitempty"`
}

type SubmitAccessRequest struct {
	DocumentID     uuid.UUID `json:"documentId" validate:"required"`
	ProfessionalID string    `json:"professionalId" validate:"required,max=64"`
	TenantID       uuid.UUID `json:"tenantId" validate:"required"`
	Reason         string    `json:"reason" validate:"max=500"`
}

// AccessRequestSummary - то, что уходит пациенту в уведомлении.
type AccessRequestSummary struct {
	RequestID      uuid.UUID `json:"requestId"`
	DocumentID     uuid.UUID `json:"documentId"`
	ProfessionalID string    `json:"professionalId"`
	TenantID       uuid.UUID `json:"tenantId"`
	PatientID      string    `json:"patientId"`
	Reason         string    `json:"reason,omitempty"`
	RequestedAt    time.Time `json:"requestedAt"`
}

func (r *AccessRequest) Summary() AccessRequestSummary {
	return AccessRequestSummary{
		RequestID:      r.ID,
		DocumentID:     r.DocumentID,
		ProfessionalID: r.ProfessionalID,
		TenantID:       r.TenantID,
		PatientID:      r.PatientID,
		Reason:         r.Reason,
		RequestedAt:    r.RequestedAt,
	}
}

// AccessNotification - тело уведомления, которое клиника отправляет в центр.
type AccessNotification struct {
	PatientID string               `json:"patientId" validate:"required,max=32"`
	Request   AccessRequestSummary `json:"request"`
}
