package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hcen_sync/internal/models"
	"hcen_sync/internal/repository"

	"github.com/google/uuid"
)

var errBroker = errors.New("kafka: client has run out of available brokers")

// ---------- documents ----------

type fakeDocs struct {
	mu      sync.Mutex
	docs    map[uuid.UUID]*models.Document
	getErr  error
	created int
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{docs: map[uuid.UUID]*models.Document{}}
}

func (f *fakeDocs) put(doc *models.Document) *models.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	cp := *doc
	f.docs[doc.ID] = &cp
	return doc
}

func (f *fakeDocs) Create(_ context.Context, doc *models.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.SyncPending = true
	cp := *doc
	f.docs[doc.ID] = &cp
	f.created++
	return nil
}

func (f *fakeDocs) Get(_ context.Context, id uuid.UUID) (*models.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) ApplyHistory(_ context.Context, id, tenantID, historyID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.TenantID != tenantID || d.HistoryID != nil {
		return false, nil
	}
	h := historyID
	d.HistoryID = &h
	d.SyncPending = false
	return true, nil
}

func (f *fakeDocs) Delete(_ context.Context, id, tenantID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.TenantID != tenantID {
		return repository.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

// ---------- sync_pending ----------

type fakePending struct {
	mu        sync.Mutex
	recs      map[uuid.UUID]*models.SyncPendingRecord
	seq       int
	createErr error
}

func newFakePending() *fakePending {
	return &fakePending{recs: map[uuid.UUID]*models.SyncPendingRecord{}}
}

func (f *fakePending) get(id uuid.UUID) *models.SyncPendingRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

func (f *fakePending) all() []*models.SyncPendingRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]*models.SyncPendingRecord, 0, len(f.recs))
	for _, r := range f.recs {
		cp := *r
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res
}

func (f *fakePending) Create(_ context.Context, rec *models.SyncPendingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.State == "" {
		rec.State = models.PendingStatePending
	}
	f.seq++
	rec.CreatedAt = time.Date(2026, 1, 1, 0, 0, f.seq, 0, time.UTC)
	rec.UpdatedAt = rec.CreatedAt
	cp := *rec
	f.recs[rec.ID] = &cp
	return nil
}

func isOpen(r *models.SyncPendingRecord) bool {
	return r.State == models.PendingStatePending || r.State == models.PendingStateError
}

func (f *fakePending) FindOpenByDocument(_ context.Context, documentID, tenantID uuid.UUID) (*models.SyncPendingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.SyncPendingRecord
	for _, r := range f.recs {
		id, ok := r.DocumentID()
		if !ok || id != documentID || r.TenantID != tenantID || !isOpen(r) {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) {
			best = r
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (f *fakePending) ListRetryable(_ context.Context, maxAttempts, limit int) ([]*models.SyncPendingRecord, error) {
	res := make([]*models.SyncPendingRecord, 0)
	for _, r := range f.all() {
		if r.Kind() != models.SyncKindDocument || !isOpen(r) || r.Attempts >= maxAttempts {
			continue
		}
		if r.State != models.PendingStateError && r.QueueMessageID != nil {
			continue
		}
		if !r.FailureCause.Retryable() {
			continue
		}
		res = append(res, r)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (f *fakePending) List(_ context.Context, flt repository.PendingFilter) ([]*models.SyncPendingRecord, int, error) {
	res := make([]*models.SyncPendingRecord, 0)
	for _, r := range f.all() {
		if r.TenantID != flt.TenantID || (flt.State != "" && r.State != flt.State) {
			continue
		}
		res = append(res, r)
	}
	return res, len(res), nil
}

func (f *fakePending) CountByState(_ context.Context, tenantID uuid.UUID) (map[models.PendingState]int, error) {
	res := map[models.PendingState]int{}
	for _, r := range f.all() {
		if r.TenantID == tenantID {
			res[r.State]++
		}
	}
	return res, nil
}

func (f *fakePending) update(id uuid.UUID, fn func(r *models.SyncPendingRecord)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok || !isOpen(r) {
		return repository.ErrNotFound
	}
	fn(r)
	return nil
}

func (f *fakePending) MarkEnqueued(_ context.Context, id uuid.UUID, queueMessageID string, originID uuid.UUID, enqueuedAt time.Time) error {
	return f.update(id, func(r *models.SyncPendingRecord) {
		r.State = models.PendingStatePending
		r.QueueMessageID = &queueMessageID
		r.OriginMessageID = &originID
		r.EnqueuedAt = &enqueuedAt
	})
}

func (f *fakePending) MarkRetried(_ context.Context, id uuid.UUID, queueMessageID string, originID uuid.UUID, enqueuedAt time.Time) error {
	return f.update(id, func(r *models.SyncPendingRecord) {
		r.Attempts++
		r.State = models.PendingStatePending
		r.FailureCause = models.FailureCauseNone
		r.QueueMessageID = &queueMessageID
		r.OriginMessageID = &originID
		r.EnqueuedAt = &enqueuedAt
	})
}

func (f *fakePending) MarkDeliveryFailed(_ context.Context, id uuid.UUID, lastError string, countAttempt bool) error {
	return f.update(id, func(r *models.SyncPendingRecord) {
		if countAttempt {
			r.Attempts++
		}
		r.State = models.PendingStateError
		r.FailureCause = models.FailureCauseDelivery
		r.LastError = &lastError
	})
}

func (f *fakePending) MarkResolved(_ context.Context, id uuid.UUID) error {
	return f.update(id, func(r *models.SyncPendingRecord) {
		r.State = models.PendingStateResolved
		r.FailureCause = models.FailureCauseNone
	})
}

func (f *fakePending) MarkFailed(_ context.Context, id uuid.UUID, cause models.FailureCause, lastError string) error {
	return f.update(id, func(r *models.SyncPendingRecord) {
		r.State = models.PendingStateError
		r.FailureCause = cause
		r.LastError = &lastError
	})
}

func (f *fakePending) MarkCancelled(_ context.Context, id uuid.UUID, reason string) error {
	return f.update(id, func(r *models.SyncPendingRecord) {
		r.State = models.PendingStateCancelled
		r.FailureCause = models.FailureCauseOrphaned
		r.LastError = &reason
	})
}

func (f *fakePending) CleanupResolved(_ context.Context, retentionDays int) (int, error) {
	return 0, nil
}

// ---------- publisher ----------

type published struct {
	Topic   string
	Key     string
	Payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	sent []published
}

func (f *fakePublisher) PublishJSON(_ context.Context, topic, key string, v any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	f.sent = append(f.sent, published{Topic: topic, Key: key, Payload: b})
	return fmt.Sprintf("%s/0/%d", topic, len(f.sent)), nil
}

func (f *fakePublisher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakePublisher) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// ---------- access requests ----------

type fakeRequests struct {
	mu   sync.Mutex
	reqs map[uuid.UUID]*models.AccessRequest
	// resolveHook срабатывает перед Resolve (эмуляция конкурентного решения)
	resolveHook func(id uuid.UUID)
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{reqs: map[uuid.UUID]*models.AccessRequest{}}
}

func (f *fakeRequests) put(r *models.AccessRequest) *models.AccessRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	cp := *r
	f.reqs[r.ID] = &cp
	return r
}

func (f *fakeRequests) setState(id uuid.UUID, st models.AccessRequestState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs[id].State = st
}

func (f *fakeRequests) countState(st models.AccessRequestState) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reqs {
		if r.State == st {
			n++
		}
	}
	return n
}

func (f *fakeRequests) Get(_ context.Context, id uuid.UUID) (*models.AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// governingLocked повторяет ORDER BY state = 'APPROVED' DESC, requested_at DESC.
func (f *fakeRequests) governingLocked(documentID uuid.UUID, professionalID string, tenantID uuid.UUID) *models.AccessRequest {
	var best *models.AccessRequest
	for _, r := range f.reqs {
		if r.DocumentID != documentID || r.ProfessionalID != professionalID || r.TenantID != tenantID {
			continue
		}
		if best == nil {
			best = r
			continue
		}
		rApproved := r.State == models.AccessRequestApproved
		bestApproved := best.State == models.AccessRequestApproved
		if rApproved != bestApproved {
			if rApproved {
				best = r
			}
			continue
		}
		if r.RequestedAt.After(best.RequestedAt) {
			best = r
		}
	}
	if best == nil {
		return nil
	}
	cp := *best
	return &cp
}

func (f *fakeRequests) FindGoverning(_ context.Context, documentID uuid.UUID, professionalID string, tenantID uuid.UUID) (*models.AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.governingLocked(documentID, professionalID, tenantID)
	if r == nil {
		return nil, repository.ErrNotFound
	}
	return r, nil
}

// CreateGuarded держит мьютекс на всё время, как advisory lock в БД.
func (f *fakeRequests) CreateGuarded(_ context.Context, req *models.AccessRequest, guard func(governing *models.AccessRequest) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := guard(f.governingLocked(req.DocumentID, req.ProfessionalID, req.TenantID)); err != nil {
		return err
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.State = models.AccessRequestPending
	cp := *req
	f.reqs[req.ID] = &cp
	return nil
}

func (f *fakeRequests) Resolve(_ context.Context, id uuid.UUID, to models.AccessRequestState, respondedAt time.Time) error {
	if f.resolveHook != nil {
		f.resolveHook(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reqs[id]
	if !ok || r.State != models.AccessRequestPending {
		return repository.ErrStateChanged
	}
	// uq_access_requests_approved
	if to == models.AccessRequestApproved {
		for _, other := range f.reqs {
			if other.ID != id && other.State == models.AccessRequestApproved &&
				other.DocumentID == r.DocumentID && other.ProfessionalID == r.ProfessionalID && other.TenantID == r.TenantID {
				return repository.ErrConflict
			}
		}
	}
	r.State = to
	r.RespondedAt = &respondedAt
	return nil
}

func (f *fakeRequests) ListPendingByPatient(_ context.Context, patientID string, _ int) ([]*models.AccessRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]*models.AccessRequest, 0)
	for _, r := range f.reqs {
		if r.PatientID == patientID && r.State == models.AccessRequestPending {
			cp := *r
			res = append(res, &cp)
		}
	}
	return res, nil
}

// ---------- collaborators ----------

type fakePolicyChecker struct {
	granted bool
	err     error
}

func (f *fakePolicyChecker) IsGranted(context.Context, uuid.UUID, string, uuid.UUID) (bool, error) {
	return f.granted, f.err
}

type fakeNotifier struct {
	mu    sync.Mutex
	err   error
	calls []models.AccessRequestSummary
}

func (f *fakeNotifier) NotifyAccessRequest(_ context.Context, _ string, summary models.AccessRequestSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, summary)
	return f.err
}

type fakeHistories struct {
	mu        sync.Mutex
	patients  map[string]bool
	histories map[string]uuid.UUID
	links     map[uuid.UUID]uuid.UUID
	err       error
}

func newFakeHistories(patients ...string) *fakeHistories {
	f := &fakeHistories{
		patients:  map[string]bool{},
		histories: map[string]uuid.UUID{},
		links:     map[uuid.UUID]uuid.UUID{},
	}
	for _, p := range patients {
		f.patients[p] = true
	}
	return f
}

func (f *fakeHistories) FindOrCreateHistory(_ context.Context, patientID string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return uuid.Nil, f.err
	}
	if !f.patients[patientID] {
		return uuid.Nil, fmt.Errorf("%w: %s", repository.ErrUnknownPatient, patientID)
	}
	id, ok := f.histories[patientID]
	if !ok {
		id = uuid.New()
		f.histories[patientID] = id
	}
	return id, nil
}

func (f *fakeHistories) LinkDocument(_ context.Context, historyID, documentID, _ uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.links[documentID]; ok {
		return true, nil
	}
	f.links[documentID] = historyID
	return false, nil
}

func (f *fakeHistories) LinkedHistory(_ context.Context, documentID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.links[documentID]
	if !ok {
		return uuid.Nil, repository.ErrNotFound
	}
	return id, nil
}

func (f *fakeHistories) linkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
