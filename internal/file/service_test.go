package file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shieldmaiden/shieldmaiden/internal/blob"
)

const testQuota = 10 * 1024

type memoryMetadataStore struct {
	mu    sync.Mutex
	files map[uuid.UUID]*File
	used  map[uuid.UUID]int64
	quota int64

	failCreate bool
}

func newMemoryMetadataStore() *memoryMetadataStore {
	return &memoryMetadataStore{
		files: make(map[uuid.UUID]*File),
		used:  make(map[uuid.UUID]int64),
		quota: testQuota,
	}
}

func (m *memoryMetadataStore) Create(_ context.Context, f File) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCreate {
		return File{}, errors.New("metadata store down")
	}
	f.CreatedAt = time.Now()
	f.UpdatedAt = f.CreatedAt
	stored := f
	m.files[f.ID] = &stored
	return f, nil
}

func (m *memoryMetadataStore) Get(_ context.Context, id uuid.UUID) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return File{}, ErrNotFound
	}
	return *f, nil
}

func (m *memoryMetadataStore) List(_ context.Context, ownerID uuid.UUID, _, _ int) ([]File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []File
	for _, f := range m.files {
		if f.OwnerID == ownerID && !f.IsDeleted {
			out = append(out, f.Sanitized())
		}
	}
	return out, nil
}

func (m *memoryMetadataStore) ListAll(_ context.Context, _, _ int) ([]File, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []File
	for _, f := range m.files {
		if !f.IsDeleted {
			out = append(out, f.Sanitized())
		}
	}
	return out, int64(len(out)), nil
}

func (m *memoryMetadataStore) MarkDeleted(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok || f.IsDeleted {
		return false, nil
	}
	now := time.Now()
	f.IsDeleted = true
	f.DeletedAt = &now
	return true, nil
}

func (m *memoryMetadataStore) Purge(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if ok && f.IsDeleted {
		delete(m.files, id)
	}
	return nil
}

func (m *memoryMetadataStore) OrphanIDs(_ context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func (m *memoryMetadataStore) DeletedIDs(_ context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for id, f := range m.files {
		if f.IsDeleted {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memoryMetadataStore) ReserveQuota(_ context.Context, ownerID uuid.UUID, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used[ownerID]+bytes > m.quota {
		return ErrQuotaExceeded
	}
	m.used[ownerID] += bytes
	return nil
}

func (m *memoryMetadataStore) ReleaseQuota(_ context.Context, ownerID uuid.UUID, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[ownerID] -= bytes
	if m.used[ownerID] < 0 {
		m.used[ownerID] = 0
	}
	return nil
}

type memoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	failPut bool
}

func newMemoryBlobStore() *memoryBlobStore {
	return &memoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *memoryBlobStore) Put(_ context.Context, name string, r io.Reader, _ int64) error {
	if m.failPut {
		return errors.New("storage down")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = data
	return nil
}

func (m *memoryBlobStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[name]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryBlobStore) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, name)
	return nil
}

type recordingRevoker struct {
	revoked []uuid.UUID
	order   *[]string
}

func (r *recordingRevoker) RevokeForDeletedFile(_ context.Context, fileID uuid.UUID) error {
	r.revoked = append(r.revoked, fileID)
	if r.order != nil {
		*r.order = append(*r.order, "revoke")
	}
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryMetadataStore, *memoryBlobStore) {
	t.Helper()
	repo := newMemoryMetadataStore()
	blobs := newMemoryBlobStore()
	return NewService(repo, blobs), repo, blobs
}

func uploadTestFile(t *testing.T, svc *Service, ownerID uuid.UUID, content string) File {
	t.Helper()
	f, err := svc.Upload(context.Background(), ownerID, UploadInput{
		Name:     "notes.txt",
		MimeType: "text/plain",
		Size:     int64(len(content)),
		Content:  bytes.NewReader([]byte(content)),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return f
}

func TestUploadStoresEncryptedBytes(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	ownerID := uuid.New()
	content := "attack at dawn"

	f := uploadTestFile(t, svc, ownerID, content)

	if f.Encryption.Key != "" || f.Encryption.IV != "" {
		t.Fatalf("upload response must not carry key material")
	}
	if f.Checksum == "" {
		t.Fatalf("expected a plaintext checksum")
	}

	stored := repo.files[f.ID]
	if stored.Encryption.Key == "" || stored.Encryption.IV == "" {
		t.Fatalf("persisted record must carry key material")
	}

	raw := blobs.blobs[stored.StoredName]
	if bytes.Contains(raw, []byte(content)) {
		t.Fatalf("blob store must never hold plaintext")
	}
	if len(raw) != len(content) {
		t.Fatalf("stream cipher output should match plaintext length, got %d want %d", len(raw), len(content))
	}
}

func TestUploadQuotaEnforced(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	ownerID := uuid.New()

	big := bytes.Repeat([]byte("x"), testQuota+1)
	_, err := svc.Upload(context.Background(), ownerID, UploadInput{
		Name:    "big.bin",
		Size:    int64(len(big)),
		Content: bytes.NewReader(big),
	})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if len(blobs.blobs) != 0 {
		t.Fatalf("rejected upload must leave no blob behind")
	}
	if len(repo.files) != 0 {
		t.Fatalf("rejected upload must leave no metadata behind")
	}
	if repo.used[ownerID] != 0 {
		t.Fatalf("rejected upload must not consume quota, used=%d", repo.used[ownerID])
	}
}

func TestUploadRollbackOnStorageFailure(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	blobs.failPut = true
	ownerID := uuid.New()

	_, err := svc.Upload(context.Background(), ownerID, UploadInput{
		Name:    "notes.txt",
		Size:    4,
		Content: bytes.NewReader([]byte("data")),
	})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if repo.used[ownerID] != 0 {
		t.Fatalf("quota reservation must be released on failure, used=%d", repo.used[ownerID])
	}
}

func TestUploadRollbackOnMetadataFailure(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	repo.failCreate = true
	ownerID := uuid.New()

	_, err := svc.Upload(context.Background(), ownerID, UploadInput{
		Name:    "notes.txt",
		Size:    4,
		Content: bytes.NewReader([]byte("data")),
	})
	if err == nil {
		t.Fatalf("expected error from metadata store")
	}
	if len(blobs.blobs) != 0 {
		t.Fatalf("blob must be removed when metadata write fails")
	}
	if repo.used[ownerID] != 0 {
		t.Fatalf("quota must be released when metadata write fails, used=%d", repo.used[ownerID])
	}
}

func TestGetOwnership(t *testing.T) {
	svc, _, _ := newTestService(t)
	ownerID := uuid.New()
	f := uploadTestFile(t, svc, ownerID, "secret")

	if _, err := svc.Get(context.Background(), f.ID, uuid.New(), false); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for stranger, got %v", err)
	}

	got, err := svc.Get(context.Background(), f.ID, uuid.New(), true)
	if err != nil {
		t.Fatalf("admin get: %v", err)
	}
	if got.ID != f.ID {
		t.Fatalf("expected file %s, got %s", f.ID, got.ID)
	}
	if got.Encryption.Key != "" {
		t.Fatalf("get must not expose key material")
	}
}

func TestOpenDecryptedRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ownerID := uuid.New()
	content := "the quick brown fox"
	f := uploadTestFile(t, svc, ownerID, content)

	_, rc, err := svc.OpenDecrypted(context.Background(), f.ID)
	if err != nil {
		t.Fatalf("open decrypted: %v", err)
	}
	defer rc.Close()

	plaintext, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(plaintext) != content {
		t.Fatalf("round trip mismatch: %q", plaintext)
	}
}

func TestOpenDecryptedMissingBlob(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	ownerID := uuid.New()
	f := uploadTestFile(t, svc, ownerID, "vanishing")

	delete(blobs.blobs, repo.files[f.ID].StoredName)

	_, _, err := svc.OpenDecrypted(context.Background(), f.ID)
	if !errors.Is(err, ErrContentMissing) {
		t.Fatalf("expected ErrContentMissing, got %v", err)
	}
}

func TestSoftDeleteOrderingAndQuota(t *testing.T) {
	svc, repo, blobs := newTestService(t)
	ownerID := uuid.New()
	content := "to be deleted"
	f := uploadTestFile(t, svc, ownerID, content)

	var order []string
	revoker := &recordingRevoker{order: &order}
	svc.SetGrantRevoker(revoker)

	usedBefore := repo.used[ownerID]
	if usedBefore != int64(len(content)) {
		t.Fatalf("expected quota use %d, got %d", len(content), usedBefore)
	}

	if err := svc.SoftDelete(context.Background(), f.ID, ownerID, false); err != nil {
		t.Fatalf("soft delete: %v", err)
	}

	if len(revoker.revoked) != 1 || revoker.revoked[0] != f.ID {
		t.Fatalf("share links must be revoked on delete")
	}
	if len(blobs.blobs) != 0 {
		t.Fatalf("blob must be removed on delete")
	}
	if !repo.files[f.ID].IsDeleted {
		t.Fatalf("record must be marked deleted")
	}
	if repo.used[ownerID] != 0 {
		t.Fatalf("quota must be released on delete, used=%d", repo.used[ownerID])
	}

	if _, err := svc.Get(context.Background(), f.ID, ownerID, false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted file must read as not found, got %v", err)
	}
}

func TestSoftDeleteReleasesQuotaOnce(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ownerID := uuid.New()
	f := uploadTestFile(t, svc, ownerID, "once")

	if err := svc.SoftDelete(context.Background(), f.ID, ownerID, false); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := svc.ReclaimOrphan(context.Background(), f.ID); err != nil {
		t.Fatalf("reclaim after delete: %v", err)
	}
	if repo.used[ownerID] != 0 {
		t.Fatalf("quota released exactly once, used=%d", repo.used[ownerID])
	}
}

func TestPurge(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ownerID := uuid.New()
	f := uploadTestFile(t, svc, ownerID, "purge me")

	if err := svc.Purge(context.Background(), f.ID); err == nil {
		t.Fatalf("purge must refuse a live file")
	}

	if err := svc.SoftDelete(context.Background(), f.ID, ownerID, false); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if err := svc.Purge(context.Background(), f.ID); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, ok := repo.files[f.ID]; ok {
		t.Fatalf("purged record must be gone")
	}

	// Idempotent: purging again is a no-op.
	if err := svc.Purge(context.Background(), f.ID); err != nil {
		t.Fatalf("second purge: %v", err)
	}
}

func TestSanitizeDefaults(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ownerID := uuid.New()

	f, err := svc.Upload(context.Background(), ownerID, UploadInput{
		Name:    "   ",
		Size:    3,
		Content: bytes.NewReader([]byte("abc")),
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if f.OriginalName != "upload" {
		t.Fatalf("expected fallback name, got %q", f.OriginalName)
	}
	if repo.files[f.ID].MimeType != "application/octet-stream" {
		t.Fatalf("expected fallback mime type, got %q", repo.files[f.ID].MimeType)
	}
}
