package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"photoquota/internal/auth"
	"photoquota/internal/domain"
	"photoquota/internal/service/s3"
)

type fakeAdmitter struct {
	decision *domain.Decision
	err      error
	calls    []int64
}

func (f *fakeAdmitter) CanUpload(ctx context.Context, userID string, candidateBytes int64, userEmail string) (*domain.Decision, error) {
	f.calls = append(f.calls, candidateBytes)
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

type fakeQuotas struct {
	info        *domain.QuotaInfo
	snapshot    *domain.UsageSnapshot
	err         error
	invalidated []string
}

func (f *fakeQuotas) GetQuotaInfo(ctx context.Context, userID string) (*domain.QuotaInfo, error) {
	return f.info, f.err
}

func (f *fakeQuotas) Recalculate(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	return f.snapshot, f.err
}

func (f *fakeQuotas) InvalidateUsage(ctx context.Context, userID string) {
	f.invalidated = append(f.invalidated, userID)
}

type fakeSessions struct {
	known map[string]bool
}

func (f *fakeSessions) Get(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	if !f.known[sessionID] {
		return nil, domain.ErrSessionNotFound
	}
	return &domain.Session{ID: sessionID, UserID: userID}, nil
}

type fakeUsageLog struct {
	entries []*domain.UsageLogEntry
}

func (f *fakeUsageLog) Append(ctx context.Context, entry *domain.UsageLogEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) ListObjects(ctx context.Context, prefix string) ([]s3.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []s3.ObjectInfo
	for k, v := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, s3.ObjectInfo{Key: k, Size: int64(len(v))})
		}
	}
	return out, nil
}

func (f *fakeStore) UploadFile(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = buf.Bytes()
	return nil
}

func (f *fakeStore) StatObject(ctx context.Context, key string) (*s3.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, s3.ErrObjectNotFound
	}
	return &s3.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (f *fakeStore) DeleteObject(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

type fakeReconciler struct {
	events []domain.BillingEvent
	err    error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, event domain.BillingEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	f.events = append(f.events, event)
	return f.err
}

type fakeMonitor struct {
	running  bool
	resolved []uuid.UUID
	alerts   map[uuid.UUID]bool
}

func (f *fakeMonitor) StartMonitoring() bool {
	changed := !f.running
	f.running = true
	return changed
}

func (f *fakeMonitor) StopMonitoring(ctx context.Context) bool {
	changed := f.running
	f.running = false
	return changed
}

func (f *fakeMonitor) GetDashboardData() domain.DashboardData {
	return domain.DashboardData{Running: f.running}
}

func (f *fakeMonitor) ResolveAlert(id uuid.UUID) error {
	if !f.alerts[id] {
		return domain.ErrAlertNotFound
	}
	f.resolved = append(f.resolved, id)
	return nil
}

type fakeAdmins map[string]bool

func (f fakeAdmins) IsAdmin(email string) bool { return f[email] }

// asUser attaches the identity the gateway middleware would have resolved.
func asUser(req *http.Request, id, email string) *http.Request {
	return req.WithContext(auth.WithUser(req.Context(), auth.UserInfo{ID: id, Email: email}))
}
