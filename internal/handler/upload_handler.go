package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"photoquota/internal/auth"
	"photoquota/internal/domain"
	"photoquota/internal/service/s3"
)

const (
	maxMemoryUpload = 32 << 20

	// HeaderUploadSize carries the summed size of the files in a batch.
	HeaderUploadSize = "X-Upload-Size"

	// multipartOverhead bounds boundaries and part headers on top of file bytes.
	multipartOverhead = 1 << 20
)

type SessionGetter interface {
	Get(ctx context.Context, userID, sessionID string) (*domain.Session, error)
}

type UsageLogAppender interface {
	Append(ctx context.Context, entry *domain.UsageLogEntry) error
}

type UsageInvalidator interface {
	InvalidateUsage(ctx context.Context, userID string)
}

// UploadHandler stores session photos after an admission check.
type UploadHandler struct {
	admission UploadAdmitter
	sessions  SessionGetter
	store     s3.Storage
	usageLog  UsageLogAppender
	usage     UsageInvalidator
}

func NewUploadHandler(admission UploadAdmitter, sessions SessionGetter, store s3.Storage, usageLog UsageLogAppender, usage UsageInvalidator) *UploadHandler {
	return &UploadHandler{
		admission: admission,
		sessions:  sessions,
		store:     store,
		usageLog:  usageLog,
		usage:     usage,
	}
}

type UploadResult struct {
	Filename string `json:"filename"`
	Key      string `json:"key,omitempty"`
	Size     int64  `json:"size"`
	Error    string `json:"error,omitempty"`
}

type UploadResponse struct {
	Decision *domain.Decision `json:"decision"`
	Results  []UploadResult   `json:"results"`
}

// resolveTarget validates the session and folder named in the URL.
func (h *UploadHandler) resolveTarget(w http.ResponseWriter, r *http.Request, userID string) (string, domain.FolderKind, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	kind, err := domain.ParseFolderKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", "", false
	}

	if _, err := h.sessions.Get(r.Context(), userID, sessionID); err != nil {
		writeServiceError(w, err)
		return "", "", false
	}

	return sessionID, kind, true
}

// UploadFiles admits the declared batch size against the quota before reading
// any file bytes, then bounds the body to what was admitted.
func (h *UploadHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	user, err := auth.Identify(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, kind, ok := h.resolveTarget(w, r, user.ID)
	if !ok {
		return
	}

	declared, err := declaredUploadSize(r)
	if err != nil {
		writeError(w, http.StatusLengthRequired, err.Error())
		return
	}

	decision, err := h.admission.CanUpload(r.Context(), user.ID, declared, user.Email)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusRequestEntityTooLarge, UploadResponse{Decision: decision})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit(declared))
	if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds declared size")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	var total int64
	for _, fh := range files {
		total += fh.Size
	}
	if total > declared {
		log.Warn().
			Str("user_id", user.ID).
			Int64("declared_bytes", declared).
			Int64("received_bytes", total).
			Msg("Upload batch larger than declared size rejected")
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds declared size")
		return
	}

	results := make([]UploadResult, len(files))
	stored := 0
	for i, fh := range files {
		results[i] = h.storeFile(r.Context(), user.ID, sessionID, kind, fh)
		if results[i].Error == "" {
			stored++
		}
	}

	if stored > 0 {
		h.usage.InvalidateUsage(r.Context(), user.ID)
	}

	status := http.StatusCreated
	if stored == 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, UploadResponse{Decision: decision, Results: results})
}

func (h *UploadHandler) storeFile(ctx context.Context, userID, sessionID string, kind domain.FolderKind, fh *multipart.FileHeader) UploadResult {
	result := UploadResult{Filename: fh.Filename, Size: fh.Size}

	name, err := cleanFilename(fh.Filename)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	file, err := fh.Open()
	if err != nil {
		result.Error = "failed to read file"
		return result
	}
	defer file.Close()

	key := domain.SessionPrefix(userID, sessionID, kind) + name
	if err := h.store.UploadFile(ctx, key, file, fh.Size, fh.Header.Get("Content-Type")); err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("key", key).Msg("Upload to object store failed")
		result.Error = "failed to store file"
		return result
	}
	result.Key = key

	h.appendLog(ctx, &domain.UsageLogEntry{
		UserID:     userID,
		SessionID:  sessionID,
		Action:     domain.UsageActionUpload,
		ByteDelta:  fh.Size,
		FolderKind: kind,
		Filename:   name,
		Timestamp:  time.Now(),
	})

	return result
}

func (h *UploadHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	user, err := auth.Identify(r)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID, kind, ok := h.resolveTarget(w, r, user.ID)
	if !ok {
		return
	}

	name, err := cleanFilename(chi.URLParam(r, "filename"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := domain.SessionPrefix(user.ID, sessionID, kind) + name
	info, err := h.store.StatObject(r.Context(), key)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		writeServiceError(w, err)
		return
	}

	if err := h.store.DeleteObject(r.Context(), key); err != nil {
		writeServiceError(w, err)
		return
	}

	h.appendLog(r.Context(), &domain.UsageLogEntry{
		UserID:     user.ID,
		SessionID:  sessionID,
		Action:     domain.UsageActionDelete,
		ByteDelta:  -info.Size,
		FolderKind: kind,
		Filename:   name,
		Timestamp:  time.Now(),
	})
	h.usage.InvalidateUsage(r.Context(), user.ID)

	w.WriteHeader(http.StatusNoContent)
}

// appendLog never fails the request; the usage log is analytics only.
func (h *UploadHandler) appendLog(ctx context.Context, entry *domain.UsageLogEntry) {
	if err := h.usageLog.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("user_id", entry.UserID).Str("filename", entry.Filename).Msg("Failed to append usage log")
	}
}

// declaredUploadSize reads the batch size from HeaderUploadSize, falling back to
// the request's Content-Length.
func declaredUploadSize(r *http.Request) (int64, error) {
	if v := strings.TrimSpace(r.Header.Get(HeaderUploadSize)); v != "" {
		size, err := strconv.ParseInt(v, 10, 64)
		if err != nil || size < 0 {
			return 0, fmt.Errorf("invalid %s header", HeaderUploadSize)
		}
		return size, nil
	}
	if r.ContentLength >= 0 {
		return r.ContentLength, nil
	}
	return 0, fmt.Errorf("%s or Content-Length is required", HeaderUploadSize)
}

func bodyLimit(declared int64) int64 {
	if declared > math.MaxInt64-multipartOverhead {
		return math.MaxInt64
	}
	return declared + multipartOverhead
}

func cleanFilename(name string) (string, error) {
	name = strings.TrimSpace(name)
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || base == "." || base == ".." || base == "/" {
		return "", fmt.Errorf("invalid filename %q", name)
	}
	return base, nil
}
