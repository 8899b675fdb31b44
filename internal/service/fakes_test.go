package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"photoquota/internal/domain"
	"photoquota/internal/monitoring"
	"photoquota/internal/service/s3"
)

type fakeQuotaReader struct {
	quota *domain.StorageQuota
	err   error
}

func (f *fakeQuotaReader) GetOrCreate(ctx context.Context, userID string) (*domain.StorageQuota, error) {
	if f.err != nil {
		return nil, f.err
	}
	q := *f.quota
	q.UserID = userID
	return &q, nil
}

type fakeUsageComputer struct {
	mu       sync.Mutex
	calls    int
	snapshot *domain.UsageSnapshot
	err      error
}

func (f *fakeUsageComputer) ComputeUsage(ctx context.Context, userID string) (*domain.UsageSnapshot, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := *f.snapshot
	s.UserID = userID
	return &s, nil
}

func (f *fakeUsageComputer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeQuotaCheckRecorder struct {
	results []monitoring.QuotaCheckResult
}

func (f *fakeQuotaCheckRecorder) RecordQuotaCheck(result monitoring.QuotaCheckResult, responseTimeMs float64) {
	f.results = append(f.results, result)
}

type fakeCartRecorder struct {
	mu      sync.Mutex
	results []monitoring.CartOperationResult
}

func (f *fakeCartRecorder) RecordCartOperation(result monitoring.CartOperationResult) {
	f.mu.Lock()
	f.results = append(f.results, result)
	f.mu.Unlock()
}

type fakeSessionLister struct {
	ids []string
	err error
}

func (f *fakeSessionLister) ListSessionIDs(ctx context.Context, userID string) ([]string, error) {
	return f.ids, f.err
}

type fakeObjectLister struct {
	objects map[string][]s3.ObjectInfo
	failing map[string]bool
}

func (f *fakeObjectLister) ListObjects(ctx context.Context, prefix string) ([]s3.ObjectInfo, error) {
	if f.failing[prefix] {
		return nil, errors.New("listing timed out")
	}
	return f.objects[prefix], nil
}

type fakeUsageRecorder struct {
	mu    sync.Mutex
	calls int
	bytes int64
	err   error
}

func (f *fakeUsageRecorder) UpdateUsage(ctx context.Context, userID string, usedBytes int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.bytes = usedBytes
	return f.err
}

type fakeUsageCache struct {
	snapshots   map[string]*domain.UsageSnapshot
	invalidated []string
}

func newFakeUsageCache() *fakeUsageCache {
	return &fakeUsageCache{snapshots: map[string]*domain.UsageSnapshot{}}
}

func (f *fakeUsageCache) Get(ctx context.Context, userID string) (*domain.UsageSnapshot, bool, error) {
	s, ok := f.snapshots[userID]
	return s, ok, nil
}

func (f *fakeUsageCache) Set(ctx context.Context, snapshot *domain.UsageSnapshot) error {
	f.snapshots[snapshot.UserID] = snapshot
	return nil
}

func (f *fakeUsageCache) Invalidate(ctx context.Context, userID string) error {
	delete(f.snapshots, userID)
	f.invalidated = append(f.invalidated, userID)
	return nil
}

func gb(n int64) int64 {
	return n * domain.BytesPerGB
}
