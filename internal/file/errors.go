package file

import "errors"

var (
	// ErrNotFound signals that the file is absent or soft-deleted.
	ErrNotFound = errors.New("file not found")
	// ErrAccessDenied indicates the requester does not own the file.
	ErrAccessDenied = errors.New("access denied")
	// ErrQuotaExceeded is returned when an upload would pass the owner's storage ceiling.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrContentMissing indicates the encrypted bytes are gone although the record exists.
	ErrContentMissing = errors.New("file content missing from storage")
	// ErrStorageUnavailable wraps transient backing-store failures.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
