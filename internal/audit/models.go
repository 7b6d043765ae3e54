package audit

import (
	"time"

	"github.com/google/uuid"
)

// Download types recorded in the ledger.
const (
	TypeDirect    = "direct"
	TypeShareLink = "share_link"
)

// Entry describes one access attempt to be appended to the ledger. File and
// link references are nullable: a failed attempt may never have resolved
// either one.
type Entry struct {
	FileID       *uuid.UUID
	LinkID       *uuid.UUID
	UserID       *uuid.UUID
	IPAddress    string
	UserAgent    string
	Referer      string
	Success      bool
	ErrorCode    *string
	ErrorMessage *string
	DownloadType string
	FileName     string
	FileSize     int64
	FileMime     string
	DurationMS   *int64
}

// Record is a persisted, immutable ledger entry. The file snapshot fields
// keep the attempt meaningful after the file itself is purged.
type Record struct {
	ID           uuid.UUID  `json:"id"`
	FileID       *uuid.UUID `json:"file_id,omitempty"`
	LinkID       *uuid.UUID `json:"link_id,omitempty"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent,omitempty"`
	Referer      string     `json:"referer,omitempty"`
	Success      bool       `json:"success"`
	ErrorCode    *string    `json:"error_code,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	DownloadType string     `json:"download_type"`
	FileName     string     `json:"file_name,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	FileMime     string     `json:"file_mime,omitempty"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	DownloadedAt time.Time  `json:"downloaded_at"`
}

// Stats aggregates ledger entries for reporting.
type Stats struct {
	TotalDownloads      int64   `json:"total_downloads"`
	SuccessfulDownloads int64   `json:"successful_downloads"`
	FailedDownloads     int64   `json:"failed_downloads"`
	UniqueIPs           int64   `json:"unique_ips"`
	SuccessRate         float64 `json:"success_rate"`
}

// DayCount is the number of attempts recorded on one calendar day.
type DayCount struct {
	Day   time.Time `json:"day"`
	Count int64     `json:"count"`
}

// StatsFilter narrows aggregate queries.
type StatsFilter struct {
	FileID      *uuid.UUID
	UserID      *uuid.UUID
	LinkID      *uuid.UUID
	SuccessOnly bool
	Since       *time.Time
	Until       *time.Time
}
