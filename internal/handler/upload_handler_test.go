package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"photoquota/internal/domain"
)

type uploadFixture struct {
	admitter *fakeAdmitter
	quotas   *fakeQuotas
	store    *fakeStore
	usageLog *fakeUsageLog
	router   chi.Router
}

func newUploadFixture(decision *domain.Decision) *uploadFixture {
	f := &uploadFixture{
		admitter: &fakeAdmitter{decision: decision},
		quotas:   &fakeQuotas{},
		store:    newFakeStore(),
		usageLog: &fakeUsageLog{},
	}
	h := NewUploadHandler(f.admitter, &fakeSessions{known: map[string]bool{"sess-1": true}}, f.store, f.usageLog, f.quotas)

	r := chi.NewRouter()
	r.Post("/v1/sessions/{sessionID}/{kind}/files", h.UploadFiles)
	r.Delete("/v1/sessions/{sessionID}/{kind}/files/{filename}", h.DeleteFile)
	f.router = r
	return f
}

func multipartRequest(t *testing.T, target string, files map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	var size int64
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		size += int64(len(content))
		part, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(HeaderUploadSize, strconv.FormatInt(size, 10))
	return asUser(req, "user-1", "")
}

func TestUploadFiles_StoresBatchAfterAdmission(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})

	req := multipartRequest(t, "/v1/sessions/sess-1/gallery/files", map[string]string{
		"a.jpg": "aaaa",
		"b.jpg": "bbbbbb",
	})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []int64{10}, f.admitter.calls)

	prefix := domain.SessionPrefix("user-1", "sess-1", domain.FolderGallery)
	assert.Equal(t, []byte("aaaa"), f.store.objects[prefix+"a.jpg"])
	assert.Equal(t, []byte("bbbbbb"), f.store.objects[prefix+"b.jpg"])
	assert.Len(t, f.usageLog.entries, 2)
	assert.Equal(t, []string{"user-1"}, f.quotas.invalidated)

	var resp UploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 2)
}

func TestUploadFiles_DeniedStoresNothing(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: false, QuotaGB: 100, CurrentUsageGB: 100})

	req := multipartRequest(t, "/v1/sessions/sess-1/raw/files", map[string]string{"a.cr3": "raw"})
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, f.store.objects)
	assert.Empty(t, f.usageLog.entries)
	assert.Empty(t, f.quotas.invalidated)
}

// trackingBody records whether the handler read any request bytes.
type trackingBody struct {
	read bool
}

func (b *trackingBody) Read(p []byte) (int, error) {
	b.read = true
	return 0, io.EOF
}

func TestUploadFiles_DeniedBeforeBodyIsRead(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: false, QuotaGB: 100, CurrentUsageGB: 99})

	body := &trackingBody{}
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/sess-1/gallery/files", body)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	req.Header.Set(HeaderUploadSize, strconv.FormatInt(5<<30, 10))
	req = asUser(req, "user-1", "")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, []int64{5 << 30}, f.admitter.calls)
	assert.False(t, body.read, "request body must not be read before admission")
	assert.Empty(t, f.store.objects)
}

func TestUploadFiles_AdmitsContentLengthWithoutSizeHeader(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})

	req := multipartRequest(t, "/v1/sessions/sess-1/gallery/files", map[string]string{"a.jpg": "aaaa"})
	req.Header.Del(HeaderUploadSize)

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Len(t, f.admitter.calls, 1)
	assert.Equal(t, req.ContentLength, f.admitter.calls[0])
}

func TestUploadFiles_BatchLargerThanDeclaredRejected(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})

	req := multipartRequest(t, "/v1/sessions/sess-1/raw/files", map[string]string{"a.cr3": "0123456789"})
	req.Header.Set(HeaderUploadSize, "3")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, []int64{3}, f.admitter.calls)
	assert.Empty(t, f.store.objects)
	assert.Empty(t, f.usageLog.entries)
}

func TestUploadFiles_MissingSize(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})

	req := multipartRequest(t, "/v1/sessions/sess-1/raw/files", map[string]string{"a.cr3": "raw"})
	req.Header.Del(HeaderUploadSize)
	req.ContentLength = -1

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusLengthRequired, rec.Code)
	assert.Empty(t, f.admitter.calls)
}

func TestUploadFiles_UnknownSessionOrKind(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, "/v1/sessions/missing/gallery/files", map[string]string{"a.jpg": "a"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, multipartRequest(t, "/v1/sessions/sess-1/thumbs/files", map[string]string{"a.jpg": "a"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.admitter.calls)
}

func TestDeleteFile(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})
	key := domain.SessionPrefix("user-1", "sess-1", domain.FolderGallery) + "a.jpg"
	f.store.objects[key] = []byte("12345")

	req := asUser(httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-1/gallery/files/a.jpg", nil), "user-1", "")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, f.store.objects, key)
	require.Len(t, f.usageLog.entries, 1)
	assert.Equal(t, int64(-5), f.usageLog.entries[0].ByteDelta)
	assert.Equal(t, domain.UsageActionDelete, f.usageLog.entries[0].Action)
	assert.Equal(t, []string{"user-1"}, f.quotas.invalidated)
}

func TestDeleteFile_Missing(t *testing.T) {
	f := newUploadFixture(&domain.Decision{Allowed: true})

	req := asUser(httptest.NewRequest(http.MethodDelete, "/v1/sessions/sess-1/gallery/files/nope.jpg", nil), "user-1", "")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.usageLog.entries)
}

func TestCleanFilename(t *testing.T) {
	name, err := cleanFilename("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "passwd", name)

	name, err = cleanFilename(`C:\photos\img.jpg`)
	require.NoError(t, err)
	assert.Equal(t, "img.jpg", name)

	for _, bad := range []string{"", "  ", "..", "/"} {
		_, err := cleanFilename(bad)
		assert.Error(t, err, bad)
	}
}
