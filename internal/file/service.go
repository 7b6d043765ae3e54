package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/shieldmaiden/shieldmaiden/internal/blob"
	"github.com/shieldmaiden/shieldmaiden/internal/crypto"
)

// metadataStore abstracts file metadata persistence and the owner quota counter.
type metadataStore interface {
	Create(ctx context.Context, f File) (File, error)
	Get(ctx context.Context, id uuid.UUID) (File, error)
	List(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]File, error)
	ListAll(ctx context.Context, limit, offset int) ([]File, int64, error)
	MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	Purge(ctx context.Context, id uuid.UUID) error
	OrphanIDs(ctx context.Context) ([]uuid.UUID, error)
	DeletedIDs(ctx context.Context) ([]uuid.UUID, error)
	ReserveQuota(ctx context.Context, ownerID uuid.UUID, bytes int64) error
	ReleaseQuota(ctx context.Context, ownerID uuid.UUID, bytes int64) error
}

// grantRevoker deactivates every active share link of a file that is being
// deleted. Implemented by the share service; an interface here keeps the
// dependency direction one-way.
type grantRevoker interface {
	RevokeForDeletedFile(ctx context.Context, fileID uuid.UUID) error
}

// Service manages the encrypted object lifecycle.
type Service struct {
	repo   metadataStore
	blobs  blob.Store
	grants grantRevoker
}

// NewService constructs a file service.
func NewService(repo metadataStore, blobs blob.Store) *Service {
	return &Service{repo: repo, blobs: blobs}
}

// SetGrantRevoker wires the share service in after construction; the two
// services reference each other and are assembled in main.
func (s *Service) SetGrantRevoker(grants grantRevoker) {
	s.grants = grants
}

// UploadInput carries a plaintext upload.
type UploadInput struct {
	Name     string
	MimeType string
	Size     int64
	Content  io.Reader
}

// Upload reserves quota, encrypts the plaintext into the blob store and
// persists the metadata. Any failure after the reservation rolls everything
// back so no partial state stays visible.
func (s *Service) Upload(ctx context.Context, ownerID uuid.UUID, input UploadInput) (File, error) {
	if input.Content == nil {
		return File{}, fmt.Errorf("missing file payload")
	}
	if input.Size <= 0 {
		return File{}, fmt.Errorf("declared size must be positive")
	}

	// Quota is reserved before a single byte hits storage.
	if err := s.repo.ReserveQuota(ctx, ownerID, input.Size); err != nil {
		return File{}, err
	}

	keys, err := crypto.GenerateKeys()
	if err != nil {
		s.releaseQuota(ctx, ownerID, input.Size)
		return File{}, fmt.Errorf("generate encryption material: %w", err)
	}

	fileID := uuid.New()
	storedName := fileID.String() + ".enc"

	hasher := sha256.New()
	encrypter, err := crypto.NewEncrypter(io.TeeReader(input.Content, hasher), keys.Key, keys.IV)
	if err != nil {
		s.releaseQuota(ctx, ownerID, input.Size)
		return File{}, fmt.Errorf("init encrypter: %w", err)
	}

	if err := s.blobs.Put(ctx, storedName, encrypter, input.Size); err != nil {
		s.releaseQuota(ctx, ownerID, input.Size)
		return File{}, fmt.Errorf("%w: %s", ErrStorageUnavailable, err)
	}

	meta := File{
		ID:           fileID,
		OwnerID:      ownerID,
		OriginalName: sanitizeFilename(input.Name),
		MimeType:     normalizeMimeType(input.MimeType),
		SizeBytes:    input.Size,
		StoredName:   storedName,
		Checksum:     hex.EncodeToString(hasher.Sum(nil)),
		Encryption: EncryptionMaterial{
			Algorithm: crypto.Algorithm,
			Key:       keys.Key,
			IV:        keys.IV,
		},
	}

	stored, err := s.repo.Create(ctx, meta)
	if err != nil {
		_ = s.blobs.Remove(ctx, storedName)
		s.releaseQuota(ctx, ownerID, input.Size)
		return File{}, err
	}

	return stored.Sanitized(), nil
}

// Get returns file metadata without encryption material. Admins bypass the
// ownership check.
func (s *Service) Get(ctx context.Context, fileID, requesterID uuid.UUID, adminOverride bool) (File, error) {
	f, err := s.authorized(ctx, fileID, requesterID, adminOverride)
	if err != nil {
		return File{}, err
	}
	return f.Sanitized(), nil
}

// List returns the owner's non-deleted files, encryption material excluded.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]File, error) {
	return s.repo.List(ctx, ownerID, normalizeLimit(limit), max(offset, 0))
}

// ListAll returns every non-deleted file with a total count. Admin only;
// the handler enforces that.
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]File, int64, error) {
	return s.repo.ListAll(ctx, normalizeLimit(limit), max(offset, 0))
}

// SoftDelete revokes the file's share links, removes the bytes and marks the
// record deleted. Links go first: a validate racing with the delete must be
// refused before the bytes disappear.
func (s *Service) SoftDelete(ctx context.Context, fileID, requesterID uuid.UUID, adminOverride bool) error {
	f, err := s.authorized(ctx, fileID, requesterID, adminOverride)
	if err != nil {
		return err
	}
	return s.softDelete(ctx, f)
}

// ReclaimOrphan soft-deletes a file that has no active share links left.
// Sweeper path; ownership does not apply.
func (s *Service) ReclaimOrphan(ctx context.Context, fileID uuid.UUID) error {
	f, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if f.IsDeleted {
		return nil
	}
	return s.softDelete(ctx, f)
}

// Purge physically removes an already-soft-deleted file. Idempotent: absent
// bytes or an absent record are not errors.
func (s *Service) Purge(ctx context.Context, fileID uuid.UUID) error {
	f, err := s.repo.Get(ctx, fileID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !f.IsDeleted {
		return fmt.Errorf("refusing to purge live file %s", fileID)
	}

	if err := s.blobs.Remove(ctx, f.StoredName); err != nil {
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, err)
	}
	return s.repo.Purge(ctx, fileID)
}

// OrphanIDs lists non-deleted files with zero active share links.
func (s *Service) OrphanIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.OrphanIDs(ctx)
}

// DeletedIDs lists soft-deleted files awaiting purge.
func (s *Service) DeletedIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.repo.DeletedIDs(ctx)
}

// OpenDecrypted streams the plaintext of a stored file. The caller owns the
// returned reader and must close it. Authorization happens before this call:
// either through ownership or through a validated share link.
func (s *Service) OpenDecrypted(ctx context.Context, fileID uuid.UUID) (File, io.ReadCloser, error) {
	f, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return File{}, nil, err
	}
	if f.IsDeleted {
		return File{}, nil, ErrNotFound
	}

	rc, err := s.blobs.Open(ctx, f.StoredName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return File{}, nil, ErrContentMissing
		}
		return File{}, nil, fmt.Errorf("%w: %s", ErrStorageUnavailable, err)
	}

	decrypter, err := crypto.NewDecrypter(rc, f.Encryption.Key, f.Encryption.IV)
	if err != nil {
		_ = rc.Close()
		return File{}, nil, fmt.Errorf("init decrypter: %w", err)
	}

	return f.Sanitized(), &decryptedStream{r: decrypter, c: rc}, nil
}

func (s *Service) authorized(ctx context.Context, fileID, requesterID uuid.UUID, adminOverride bool) (File, error) {
	f, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return File{}, err
	}
	if f.IsDeleted {
		return File{}, ErrNotFound
	}
	if !adminOverride && f.OwnerID != requesterID {
		return File{}, ErrAccessDenied
	}
	return f, nil
}

func (s *Service) softDelete(ctx context.Context, f File) error {
	if s.grants != nil {
		if err := s.grants.RevokeForDeletedFile(ctx, f.ID); err != nil {
			return fmt.Errorf("revoke share links: %w", err)
		}
	}

	if err := s.blobs.Remove(ctx, f.StoredName); err != nil {
		return fmt.Errorf("%w: %s", ErrStorageUnavailable, err)
	}

	changed, err := s.repo.MarkDeleted(ctx, f.ID)
	if err != nil {
		return err
	}
	if changed {
		s.releaseQuota(ctx, f.OwnerID, f.SizeBytes)
	}
	return nil
}

func (s *Service) releaseQuota(ctx context.Context, ownerID uuid.UUID, bytes int64) {
	// Rollback path; the sweep corrects the counter if this release is lost.
	_ = s.repo.ReleaseQuota(ctx, ownerID, bytes)
}

func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "upload"
	}
	return name
}

func normalizeMimeType(mimeType string) string {
	if strings.TrimSpace(mimeType) == "" {
		return "application/octet-stream"
	}
	return mimeType
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}

type decryptedStream struct {
	r io.Reader
	c io.Closer
}

func (d *decryptedStream) Read(p []byte) (int, error) { return d.r.Read(p) }
func (d *decryptedStream) Close() error               { return d.c.Close() }
