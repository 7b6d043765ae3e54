package share

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

const linkColumns = `id, file_id, created_by, token, access_type, download_limit, download_count,
expires_at, password_hash, allowed_ips, allowed_emails, requires_auth,
is_active, deactivated_at, deactivation_reason, last_accessed_at, last_access_ip,
custom_message, notify_on_download, notification_email, created_at, updated_at`

// Repository provides database access for share links.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds a new share repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new link.
func (r *Repository) Create(ctx context.Context, l Link) (Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO share_links (id, file_id, created_by, token, access_type, download_limit,
                         expires_at, password_hash, allowed_ips, allowed_emails, requires_auth,
                         custom_message, notify_on_download, notification_email)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + linkColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		l.ID,
		l.FileID,
		l.CreatedBy,
		l.Token,
		l.AccessType,
		l.DownloadLimit,
		l.ExpiresAt,
		l.PasswordHash,
		l.AllowedIPs,
		l.AllowedEmails,
		l.RequiresAuth,
		l.CustomMessage,
		l.NotifyOnDownload,
		l.NotificationEmail,
	)

	stored, err := scanLink(row)
	if err != nil {
		return Link{}, fmt.Errorf("create share link: %w", err)
	}
	return stored, nil
}

// GetByToken resolves an active link by its public token. Deactivated links
// are indistinguishable from absent ones.
func (r *Repository) GetByToken(ctx context.Context, token string) (Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + linkColumns + ` FROM share_links WHERE token = $1 AND is_active;`

	l, err := scanLink(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, fmt.Errorf("get share link by token: %w", err)
	}
	return l, nil
}

// GetByID fetches a link regardless of its active state.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + linkColumns + ` FROM share_links WHERE id = $1;`

	l, err := scanLink(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, fmt.Errorf("get share link: %w", err)
	}
	return l, nil
}

// Consume increments the download counter in one conditional update. The row
// only matches while the link is active and has capacity left, so two racing
// consumers of the last unit can never both succeed. When the update spends
// the final unit the same statement flips the link inactive with reason
// limit_reached.
func (r *Repository) Consume(ctx context.Context, id uuid.UUID, ip *string) (Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE share_links
SET download_count      = download_count + 1,
    last_accessed_at    = now(),
    last_access_ip      = $2,
    is_active           = CASE
                            WHEN access_type <> 'unlimited' AND download_count + 1 >= download_limit THEN FALSE
                            ELSE is_active
                          END,
    deactivated_at      = CASE
                            WHEN access_type <> 'unlimited' AND download_count + 1 >= download_limit THEN now()
                            ELSE deactivated_at
                          END,
    deactivation_reason = CASE
                            WHEN access_type <> 'unlimited' AND download_count + 1 >= download_limit THEN 'limit_reached'
                            ELSE deactivation_reason
                          END,
    updated_at          = now()
WHERE id = $1
  AND is_active
  AND (access_type = 'unlimited' OR download_count < download_limit)
RETURNING ` + linkColumns + `;`

	l, err := scanLink(r.pool.QueryRow(ctx, query, id, ip))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrLimitReached
		}
		return Link{}, fmt.Errorf("consume share link: %w", err)
	}
	return l, nil
}

// Deactivate flips a link to its terminal state. Returns false when the link
// was already inactive; the first recorded reason is never overwritten.
func (r *Repository) Deactivate(ctx context.Context, id uuid.UUID, reason DeactivationReason) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE share_links
SET is_active = FALSE, deactivated_at = now(), deactivation_reason = $2, updated_at = now()
WHERE id = $1 AND is_active;`

	tag, err := r.pool.Exec(ctx, query, id, reason)
	if err != nil {
		return false, fmt.Errorf("deactivate share link: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateForFile revokes every active link of one file.
func (r *Repository) DeactivateForFile(ctx context.Context, fileID uuid.UUID, reason DeactivationReason) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE share_links
SET is_active = FALSE, deactivated_at = now(), deactivation_reason = $2, updated_at = now()
WHERE file_id = $1 AND is_active;`

	tag, err := r.pool.Exec(ctx, query, fileID, reason)
	if err != nil {
		return 0, fmt.Errorf("deactivate links for file: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeactivateExpired bulk-expires every active link past its deadline.
func (r *Repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE share_links
SET is_active = FALSE, deactivated_at = now(), deactivation_reason = 'expired', updated_at = now()
WHERE is_active AND expires_at < $1;`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("deactivate expired links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Update rewrites the mutable policy fields. COALESCE keeps whatever the
// caller left nil; the password column has an explicit clear switch because
// nil already means "keep".
func (r *Repository) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
UPDATE share_links
SET download_limit     = COALESCE($2, download_limit),
    expires_at         = COALESCE($3, expires_at),
    custom_message     = COALESCE($4, custom_message),
    notify_on_download = COALESCE($5, notify_on_download),
    notification_email = COALESCE($6, notification_email),
    password_hash      = CASE WHEN $8 THEN NULL ELSE COALESCE($7, password_hash) END,
    updated_at         = now()
WHERE id = $1
RETURNING ` + linkColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		id,
		input.DownloadLimit,
		input.ExpiresAt,
		input.CustomMessage,
		input.NotifyOnDownload,
		input.NotificationEmail,
		input.PasswordHash,
		input.ClearPassword,
	)

	l, err := scanLink(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, ErrNotFound
		}
		return Link{}, fmt.Errorf("update share link: %w", err)
	}
	return l, nil
}

// ListForFile returns a file's links, newest first.
func (r *Repository) ListForFile(ctx context.Context, fileID uuid.UUID) ([]Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + linkColumns + ` FROM share_links WHERE file_id = $1 ORDER BY created_at DESC;`

	rows, err := r.pool.Query(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("list links for file: %w", err)
	}
	defer rows.Close()

	return collectLinks(rows)
}

// ListForUser returns links created by one user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]Link, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `SELECT ` + linkColumns + ` FROM share_links WHERE created_by = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY created_at DESC;`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list links for user: %w", err)
	}
	defer rows.Close()

	return collectLinks(rows)
}

// Stats aggregates links for one user, or globally when userID is nil.
func (r *Repository) Stats(ctx context.Context, userID *uuid.UUID) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE is_active),
       COALESCE(SUM(download_count), 0)
FROM share_links
WHERE $1::uuid IS NULL OR created_by = $1;`

	var s Stats
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&s.TotalLinks, &s.ActiveLinks, &s.TotalDownloads); err != nil {
		return Stats{}, fmt.Errorf("share link stats: %w", err)
	}
	if s.TotalLinks > 0 {
		s.AvgPerLink = float64(s.TotalDownloads) / float64(s.TotalLinks)
	}
	return s, nil
}

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	err := row.Scan(
		&l.ID,
		&l.FileID,
		&l.CreatedBy,
		&l.Token,
		&l.AccessType,
		&l.DownloadLimit,
		&l.DownloadCount,
		&l.ExpiresAt,
		&l.PasswordHash,
		&l.AllowedIPs,
		&l.AllowedEmails,
		&l.RequiresAuth,
		&l.IsActive,
		&l.DeactivatedAt,
		&l.DeactivationReason,
		&l.LastAccessedAt,
		&l.LastAccessIP,
		&l.CustomMessage,
		&l.NotifyOnDownload,
		&l.NotificationEmail,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	return l, err
}

func collectLinks(rows pgx.Rows) ([]Link, error) {
	var links []Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate share links: %w", err)
	}
	return links, nil
}
