package domain

import "errors"

var (
	ErrInvalidUploadSize    = errors.New("upload size must not be negative")
	ErrUsageUnavailable     = errors.New("storage usage could not be computed")
	ErrMalformedEvent       = errors.New("malformed billing event")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrAlertNotFound        = errors.New("alert not found")
)
