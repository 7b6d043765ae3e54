package file

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const fileColumns = `id, owner_id, original_name, mime_type, size_bytes, stored_name, checksum,
enc_algorithm, enc_key, enc_iv, is_deleted, deleted_at, created_at, updated_at`

// listColumns excludes the key material: listings must never carry it.
const listColumns = `id, owner_id, original_name, mime_type, size_bytes, stored_name, checksum,
enc_algorithm, '' AS enc_key, '' AS enc_iv, is_deleted, deleted_at, created_at, updated_at`

// Repository provides access to file metadata and the owner quota counters.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new file repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts metadata for a new file.
func (r *Repository) Create(ctx context.Context, f File) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO files (id, owner_id, original_name, mime_type, size_bytes, stored_name, checksum,
                   enc_algorithm, enc_key, enc_iv)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + fileColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		f.ID,
		f.OwnerID,
		f.OriginalName,
		f.MimeType,
		f.SizeBytes,
		f.StoredName,
		f.Checksum,
		f.Encryption.Algorithm,
		f.Encryption.Key,
		f.Encryption.IV,
	)

	stored, err := scanFile(row)
	if err != nil {
		return File{}, fmt.Errorf("create file metadata: %w", err)
	}
	return stored, nil
}

// Get fetches a single file including its encryption material. Soft-deleted
// records are returned as-is; the service decides what deletion means per
// call site.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + fileColumns + ` FROM files WHERE id = $1;`

	f, err := scanFile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return File{}, ErrNotFound
		}
		return File{}, fmt.Errorf("get file metadata: %w", err)
	}
	return f, nil
}

// List returns the owner's non-deleted files, newest first.
func (r *Repository) List(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]File, error) {
	query := `
SELECT ` + listColumns + `
FROM files
WHERE owner_id = $1 AND NOT is_deleted
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;`

	return r.queryFiles(ctx, query, ownerID, limit, offset)
}

// ListAll returns every non-deleted file plus a total count.
func (r *Repository) ListAll(ctx context.Context, limit, offset int) ([]File, int64, error) {
	files, err := r.queryFiles(ctx, `
SELECT `+listColumns+`
FROM files
WHERE NOT is_deleted
ORDER BY created_at DESC
LIMIT $1 OFFSET $2;`, limit, offset)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM files WHERE NOT is_deleted;`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}
	return files, total, nil
}

// MarkDeleted flips the soft-delete flag exactly once. Returns whether this
// call performed the transition.
func (r *Repository) MarkDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
UPDATE files
SET is_deleted = TRUE, deleted_at = NOW(), updated_at = NOW()
WHERE id = $1 AND NOT is_deleted;`, id)
	if err != nil {
		return false, fmt.Errorf("mark file deleted: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Purge removes the record of an already-soft-deleted file.
func (r *Repository) Purge(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `DELETE FROM files WHERE id = $1 AND is_deleted;`, id); err != nil {
		return fmt.Errorf("purge file record: %w", err)
	}
	return nil
}

// OrphanIDs lists non-deleted files that have no active share links left.
func (r *Repository) OrphanIDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `
SELECT f.id
FROM files f
WHERE NOT f.is_deleted
  AND NOT EXISTS (SELECT 1 FROM share_links l WHERE l.file_id = f.id AND l.is_active);`)
}

// DeletedIDs lists soft-deleted files whose bytes and records await purging.
func (r *Repository) DeletedIDs(ctx context.Context) ([]uuid.UUID, error) {
	return r.queryIDs(ctx, `SELECT id FROM files WHERE is_deleted;`)
}

// ReserveQuota atomically adds bytes to the owner's running total, failing
// when the ceiling would be passed. Single conditional statement: two
// concurrent uploads cannot both squeeze past the quota.
func (r *Repository) ReserveQuota(ctx context.Context, ownerID uuid.UUID, bytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	tag, err := r.pool.Exec(ctx, `
UPDATE users
SET storage_used = storage_used + $2, updated_at = NOW()
WHERE id = $1 AND storage_used + $2 <= storage_quota;`, ownerID, bytes)
	if err != nil {
		return fmt.Errorf("reserve quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrQuotaExceeded
	}
	return nil
}

// ReleaseQuota returns bytes to the owner, never dropping below zero.
func (r *Repository) ReleaseQuota(ctx context.Context, ownerID uuid.UUID, bytes int64) error {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	if _, err := r.pool.Exec(ctx, `
UPDATE users
SET storage_used = GREATEST(storage_used - $2, 0), updated_at = NOW()
WHERE id = $1;`, ownerID, bytes); err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	return nil
}

func (r *Repository) queryFiles(ctx context.Context, query string, args ...any) ([]File, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file metadata: %w", err)
		}
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return files, nil
}

func (r *Repository) queryIDs(ctx context.Context, query string) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query file ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan file id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file ids: %w", err)
	}
	return ids, nil
}

func scanFile(row pgx.Row) (File, error) {
	var f File
	err := row.Scan(
		&f.ID,
		&f.OwnerID,
		&f.OriginalName,
		&f.MimeType,
		&f.SizeBytes,
		&f.StoredName,
		&f.Checksum,
		&f.Encryption.Algorithm,
		&f.Encryption.Key,
		&f.Encryption.IV,
		&f.IsDeleted,
		&f.DeletedAt,
		&f.CreatedAt,
		&f.UpdatedAt,
	)
	return f, err
}
