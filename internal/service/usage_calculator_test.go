package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoquota/internal/config"
	"photoquota/internal/domain"
	"photoquota/internal/service/s3"
)

func calculatorConfig() config.QuotaConfig {
	return config.QuotaConfig{
		SessionListTimeout: time.Second,
		UsageTimeout:       5 * time.Second,
		ListConcurrency:    4,
	}
}

func prefix(session string, kind domain.FolderKind) string {
	return domain.SessionPrefix("user-1", session, kind)
}

func TestComputeUsage_SumsAcrossSessionsAndFolders(t *testing.T) {
	store := &fakeObjectLister{objects: map[string][]s3.ObjectInfo{
		prefix("s1", domain.FolderGallery): {{Key: "a", Size: 100}, {Key: "b", Size: 200}},
		prefix("s1", domain.FolderRaw):     {{Key: "c", Size: 1000}},
		prefix("s2", domain.FolderGallery): {{Key: "d", Size: 50}},
	}}
	recorder := &fakeUsageRecorder{}
	calc := NewUsageCalculator(&fakeSessionLister{ids: []string{"s1", "s2"}}, store, recorder, calculatorConfig())

	snapshot, err := calc.ComputeUsage(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1350), snapshot.TotalBytes)
	assert.Equal(t, int64(4), snapshot.TotalFiles)
	assert.Equal(t, domain.FolderUsage{Bytes: 350, Files: 3}, snapshot.Breakdown[domain.FolderGallery])
	assert.Equal(t, domain.FolderUsage{Bytes: 1000, Files: 1}, snapshot.Breakdown[domain.FolderRaw])
	assert.Equal(t, 2, snapshot.SessionsScanned)
	assert.Zero(t, snapshot.SessionsFailed)

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, int64(1350), recorder.bytes)
}

func TestComputeUsage_SkipsFailingSession(t *testing.T) {
	store := &fakeObjectLister{
		objects: map[string][]s3.ObjectInfo{
			prefix("s1", domain.FolderGallery): {{Key: "a", Size: 10}},
		},
		failing: map[string]bool{prefix("s2", domain.FolderRaw): true},
	}
	calc := NewUsageCalculator(&fakeSessionLister{ids: []string{"s1", "s2"}}, store, &fakeUsageRecorder{}, calculatorConfig())

	snapshot, err := calc.ComputeUsage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), snapshot.TotalBytes)
	assert.Equal(t, 1, snapshot.SessionsFailed)
}

func TestComputeUsage_AllSessionsFailing(t *testing.T) {
	store := &fakeObjectLister{failing: map[string]bool{
		prefix("s1", domain.FolderGallery): true,
		prefix("s2", domain.FolderGallery): true,
	}}
	recorder := &fakeUsageRecorder{}
	calc := NewUsageCalculator(&fakeSessionLister{ids: []string{"s1", "s2"}}, store, recorder, calculatorConfig())

	_, err := calc.ComputeUsage(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrUsageUnavailable)
	assert.Zero(t, recorder.calls)
}

func TestComputeUsage_NoSessionsIsZero(t *testing.T) {
	recorder := &fakeUsageRecorder{}
	calc := NewUsageCalculator(&fakeSessionLister{}, &fakeObjectLister{}, recorder, calculatorConfig())

	snapshot, err := calc.ComputeUsage(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Zero(t, snapshot.TotalBytes)
	assert.Zero(t, snapshot.SessionsScanned)
	assert.Equal(t, 1, recorder.calls)
}

func TestComputeUsage_RecorderFailureIgnored(t *testing.T) {
	recorder := &fakeUsageRecorder{err: errors.New("db down")}
	calc := NewUsageCalculator(&fakeSessionLister{ids: []string{"s1"}}, &fakeObjectLister{}, recorder, calculatorConfig())

	_, err := calc.ComputeUsage(context.Background(), "user-1")
	assert.NoError(t, err)
}

func TestComputeUsage_SessionListingError(t *testing.T) {
	calc := NewUsageCalculator(&fakeSessionLister{err: errors.New("db down")}, &fakeObjectLister{}, &fakeUsageRecorder{}, calculatorConfig())

	_, err := calc.ComputeUsage(context.Background(), "user-1")
	assert.ErrorIs(t, err, domain.ErrUsageUnavailable)
}

func TestComputeUsage_CancelledContext(t *testing.T) {
	calc := NewUsageCalculator(&fakeSessionLister{ids: []string{"s1"}}, &fakeObjectLister{}, &fakeUsageRecorder{}, calculatorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := calc.ComputeUsage(ctx, "user-1")
	assert.ErrorIs(t, err, domain.ErrUsageUnavailable)
}
