package models

import (
	"time"

	"github.com/google/uuid"
)

// Document - клинический документ клиники (периферийный узел).
type Document struct {
	ID             uuid.UUID  `json:"id"`
	TenantID       uuid.UUID  `json:"tenantId"`
	PatientID      string     `json:"patientId"` // национальный идентификатор (CI)
	ProfessionalID string     `json:"professionalId"`
	Title          string     `json:"title"`
	ReasonCode     string     `json:"reasonCode,omitempty"`
	Content        string     `json:"content"`
	HistoryID      *uuid.UUID `json:"historyId"` // NULL пока центр не подтвердил
	SyncPending    bool       `json:"syncPending"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

type CreateDocumentRequest struct {
	TenantID       uuid.UUID `json:"tenantId" validate:"required"`
	PatientID      string    `json:"patientId" validate:"required,max=32"`
	ProfessionalID string    `json:"professionalId" validate:"required,max=64"`
	Title          string    `json:"title" validate:"required,max=200"`
	ReasonCode     string    `json:"reasonCode" validate:"max=32"`
	Content        string    `json:"content" validate:"required"`
}
