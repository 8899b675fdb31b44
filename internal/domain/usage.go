package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FolderKind is one of the two fixed per-session object prefixes.
type FolderKind string

const (
	FolderGallery FolderKind = "gallery"
	FolderRaw     FolderKind = "raw"
)

// FolderKinds lists every folder kind scanned for a session.
var FolderKinds = []FolderKind{FolderGallery, FolderRaw}

// ParseFolderKind validates a folder kind taken from user input.
func ParseFolderKind(s string) (FolderKind, error) {
	switch FolderKind(s) {
	case FolderGallery, FolderRaw:
		return FolderKind(s), nil
	}
	return "", fmt.Errorf("invalid folder kind %q: must be 'gallery' or 'raw'", s)
}

// SessionPrefix returns the object-store prefix holding one folder of a session.
func SessionPrefix(userID, sessionID string, kind FolderKind) string {
	return fmt.Sprintf("photographers/%s/sessions/%s/%s/", userID, sessionID, kind)
}

// Session is a photography session. Sessions are owned by the scheduling side of the
// platform; the quota system only enumerates them.
type Session struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// FolderUsage is the usage of a single folder kind.
type FolderUsage struct {
	Bytes int64 `json:"bytes"`
	Files int64 `json:"files"`
}

// UsageSnapshot is a freshly computed view of a user's consumption.
type UsageSnapshot struct {
	UserID          string                     `json:"user_id"`
	TotalBytes      int64                      `json:"total_bytes"`
	TotalFiles      int64                      `json:"total_files"`
	Breakdown       map[FolderKind]FolderUsage `json:"breakdown"`
	SessionsScanned int                        `json:"sessions_scanned"`
	SessionsFailed  int                        `json:"sessions_failed"`
	CalculatedAt    time.Time                  `json:"calculated_at"`
}

// UsageAction is the kind of change recorded in the usage log.
type UsageAction string

const (
	UsageActionUpload UsageAction = "upload"
	UsageActionDelete UsageAction = "delete"
)

// UsageLogEntry is an append-only analytics record. It is never read back to compute usage.
type UsageLogEntry struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	UserID     string      `json:"user_id" db:"user_id"`
	SessionID  string      `json:"session_id" db:"session_id"`
	Action     UsageAction `json:"action" db:"action"`
	ByteDelta  int64       `json:"byte_delta" db:"byte_delta"`
	FolderKind FolderKind  `json:"folder_kind" db:"folder_kind"`
	Filename   string      `json:"filename" db:"filename"`
	Timestamp  time.Time   `json:"timestamp" db:"timestamp"`
}
