package share

import (
	"errors"

	"github.com/shieldmaiden/shieldmaiden/internal/file"
)

var (
	// ErrNotFound signals that the link is absent or already terminal.
	ErrNotFound = errors.New("share link not found")
	// ErrExpired is returned when the link's deadline has passed.
	ErrExpired = errors.New("share link expired")
	// ErrLimitReached indicates no download units remain.
	ErrLimitReached = errors.New("download limit reached")
	// ErrPasswordRequired is returned when the link is protected and no secret was supplied.
	ErrPasswordRequired = errors.New("password required")
	// ErrInvalidPassword is returned when the supplied secret does not match.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrAccessDenied covers ownership, IP-allowlist and email-allowlist failures.
	ErrAccessDenied = errors.New("access denied")
	// ErrAuthRequired indicates the link demands an authenticated subject.
	ErrAuthRequired = errors.New("authentication required")
)

// Classify maps an access error to its stable audit/API classification.
// Callers never see raw internal errors.
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, file.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrLimitReached):
		return "limit_reached"
	case errors.Is(err, ErrPasswordRequired):
		return "password_required"
	case errors.Is(err, ErrInvalidPassword):
		return "invalid_password"
	case errors.Is(err, ErrAccessDenied), errors.Is(err, file.ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrAuthRequired):
		return "auth_required"
	case errors.Is(err, file.ErrContentMissing):
		return "content_missing"
	case errors.Is(err, file.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}
