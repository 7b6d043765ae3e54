package share

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccessType controls how many times a link may be consumed.
type AccessType string

const (
	AccessSingle    AccessType = "single"
	AccessMultiple  AccessType = "multiple"
	AccessUnlimited AccessType = "unlimited"
)

// DeactivationReason records why a link went terminal.
type DeactivationReason string

const (
	ReasonManual       DeactivationReason = "manual"
	ReasonExpired      DeactivationReason = "expired"
	ReasonLimitReached DeactivationReason = "limit_reached"
	ReasonFileDeleted  DeactivationReason = "file_deleted"
	ReasonAdmin        DeactivationReason = "admin"
)

const (
	defaultDownloadLimit = 10
	minDownloadLimit     = 1
	maxDownloadLimit     = 1000

	// 32 random bytes, base64url: 256 bits of entropy per token.
	tokenByteLength = 32

	maxCustomMessageLength = 500
)

// Link is a tokenized, policy-bounded permission to retrieve one file.
type Link struct {
	ID            uuid.UUID  `json:"id"`
	FileID        uuid.UUID  `json:"file_id"`
	CreatedBy     uuid.UUID  `json:"created_by"`
	Token         string     `json:"token"`
	AccessType    AccessType `json:"access_type"`
	DownloadLimit int        `json:"download_limit"`
	DownloadCount int        `json:"download_count"`
	ExpiresAt     time.Time  `json:"expires_at"`

	PasswordHash  *string  `json:"-"`
	AllowedIPs    []string `json:"allowed_ips,omitempty"`
	AllowedEmails []string `json:"allowed_emails,omitempty"`
	RequiresAuth  bool     `json:"requires_auth"`

	IsActive           bool                `json:"is_active"`
	DeactivatedAt      *time.Time          `json:"deactivated_at,omitempty"`
	DeactivationReason *DeactivationReason `json:"deactivation_reason,omitempty"`

	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	LastAccessIP   *string    `json:"-"`

	CustomMessage     string  `json:"custom_message,omitempty"`
	NotifyOnDownload  bool    `json:"notify_on_download"`
	NotificationEmail *string `json:"notification_email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsPasswordProtected reports whether a secret gates this link.
func (l Link) IsPasswordProtected() bool {
	return l.PasswordHash != nil && *l.PasswordHash != ""
}

// IsExpired is derived, never stored.
func (l Link) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// IsLimitReached compares the consumed count against the effective limit.
// Unlimited links never reach a limit.
func (l Link) IsLimitReached() bool {
	switch l.AccessType {
	case AccessUnlimited:
		return false
	case AccessSingle:
		return l.DownloadCount >= 1
	default:
		return l.DownloadCount >= l.DownloadLimit
	}
}

// CanBeUsed combines the stored flag with the derived checks.
func (l Link) CanBeUsed(now time.Time) bool {
	return l.IsActive && !l.IsExpired(now) && !l.IsLimitReached()
}

// RemainingDownloads returns the units left, or nil when unbounded.
func (l Link) RemainingDownloads() *int {
	var limit int
	switch l.AccessType {
	case AccessUnlimited:
		return nil
	case AccessSingle:
		limit = 1
	default:
		limit = l.DownloadLimit
	}
	remaining := max(limit-l.DownloadCount, 0)
	return &remaining
}

// ExpiresIn renders the time until expiry in human-readable form.
func (l Link) ExpiresIn(now time.Time) string {
	diff := l.ExpiresAt.Sub(now)
	if diff <= 0 {
		return "expired"
	}

	days := int(diff.Hours()) / 24
	hours := int(diff.Hours()) % 24
	minutes := int(diff.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// Stats summarizes a user's (or the whole store's) links.
type Stats struct {
	TotalLinks     int64   `json:"total_links"`
	ActiveLinks    int64   `json:"active_links"`
	TotalDownloads int64   `json:"total_downloads"`
	AvgPerLink     float64 `json:"avg_downloads_per_link"`
}

// GenerateToken produces an unguessable URL-safe link token.
func GenerateToken() (string, error) {
	raw := make([]byte, tokenByteLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
