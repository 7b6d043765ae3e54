package file

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EncryptionMaterial is the per-file cipher configuration. It is immutable
// after creation and must never appear in a read path other than decryption.
type EncryptionMaterial struct {
	Algorithm string `json:"-"`
	Key       string `json:"-"`
	IV        string `json:"-"`
}

// File represents stored information about an encrypted object.
type File struct {
	ID           uuid.UUID          `json:"id"`
	OwnerID      uuid.UUID          `json:"owner_id"`
	OriginalName string             `json:"original_name"`
	MimeType     string             `json:"mime_type"`
	SizeBytes    int64              `json:"size_bytes"`
	StoredName   string             `json:"-"`
	Checksum     string             `json:"checksum"`
	Encryption   EncryptionMaterial `json:"-"`
	IsDeleted    bool               `json:"-"`
	DeletedAt    *time.Time         `json:"-"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// Sanitized strips the encryption material for response payloads.
func (f File) Sanitized() File {
	f.Encryption = EncryptionMaterial{Algorithm: f.Encryption.Algorithm}
	return f
}

// SizeFormatted renders the byte size in human-readable form.
func (f File) SizeFormatted() string {
	const unit = 1024
	if f.SizeBytes < unit {
		return fmt.Sprintf("%d B", f.SizeBytes)
	}
	div, exp := int64(unit), 0
	for n := f.SizeBytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(f.SizeBytes)/float64(div), "KMGTPE"[exp])
}
