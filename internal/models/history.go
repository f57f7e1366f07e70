package models

import (
	"time"

	"github.com/google/uuid"
)

// Центральный узел: история пациента и политики доступа.

type ClinicalHistory struct {
	ID        uuid.UUID
	PatientID string
	CreatedAt time.Time
}

type PolicyState string

const (
	PolicyActive  PolicyState = "ACTIVO"
	PolicyRevoked PolicyState = "REVOCADO"
	PolicyExpired PolicyState = "EXPIRADO"
)

type AccessPolicy struct {
	ID             uuid.UUID   `json:"id"`
	DocumentID     uuid.UUID   `json:"documentId"`
	ProfessionalID string      `json:"professionalId"`
	TenantID       uuid.UUID   `json:"tenantId"`
	PatientID      string      `json:"patientId"`
	State          PolicyState `json:"state"`
	GrantedAt      time.Time   `json:"grantedAt"`
	ExpiresAt      time.Time   `json:"expiresAt"`
}

// PatientDecision - решение пациента, которое центр пересылает в клинику.
type PatientDecision struct {
	TenantID       uuid.UUID `json:"tenantId" validate:"required"`
	PatientID      string    `json:"patientId" validate:"required"`
	DocumentID     uuid.UUID `json:"documentId" validate:"required"`
	ProfessionalID string    `json:"professionalId" validate:"required"`
	Approve        bool      `json:"approve"`
	DurationDays   int       `json:"durationDays" validate:"omitempty,min=1,max=365"`
}

// DecisionOutcome - ответ клиники на пересланное решение пациента.
type DecisionOutcome struct {
	Status     string `json:"status"` // OK | NOT_FOUND | FORBIDDEN | CONFLICT | ERROR
	Message    string `json:"message,omitempty"`
	HTTPStatus int    `json:"-"`
}

const (
	DecisionStatusOK        = "OK"
	DecisionStatusNotFound  = "NOT_FOUND"
	DecisionStatusForbidden = "FORBIDDEN"
	DecisionStatusConflict  = "CONFLICT"
	DecisionStatusError     = "ERROR"
)
