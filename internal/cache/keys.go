package cache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Центр: документ уже зарегистрирован в истории.
// sync:registered:{tenant_id}:{document_id} -> history_id
func RegisteredDocumentKey(tenantID, documentID uuid.UUID) string {
	return fmt.Sprintf("sync:registered:%s:%s", tenantID, documentID)
}

// Клиника: лок на sweep retry-scheduler (один активный на все инстансы клиники).
func SweepLockKey(tenantScope string) string {
	s := strings.TrimSpace(tenantScope)
	if s == "" {
		s = "all"
	}
	return "sync:retry:lock:" + url.PathEscape(s)
}

// Центр: входящие уведомления пациента.
// notify:patient:{patient_id}
func PatientInboxKey(patientID string) string {
	return "notify:patient:" + url.PathEscape(strings.TrimSpace(patientID))
}
