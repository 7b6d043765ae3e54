package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const repoTimeout = 5 * time.Second

const recordColumns = `id, file_id, link_id, user_id, ip_address, user_agent, referer,
success, error_code, error_message, download_type,
file_name, file_size, file_mime, duration_ms, downloaded_at`

// Repository persists ledger entries. Records are append-only: there is no
// update or delete path.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository builds an audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one record.
func (r *Repository) Insert(ctx context.Context, entry Entry) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	query := `
INSERT INTO download_logs (file_id, link_id, user_id, ip_address, user_agent, referer,
                           success, error_code, error_message, download_type,
                           file_name, file_size, file_mime, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING ` + recordColumns + `;`

	row := r.pool.QueryRow(ctx, query,
		entry.FileID,
		entry.LinkID,
		entry.UserID,
		entry.IPAddress,
		entry.UserAgent,
		entry.Referer,
		entry.Success,
		entry.ErrorCode,
		entry.ErrorMessage,
		entry.DownloadType,
		entry.FileName,
		entry.FileSize,
		entry.FileMime,
		entry.DurationMS,
	)

	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("insert download log: %w", err)
	}
	return rec, nil
}

// FileHistory returns attempts against one file, newest first.
func (r *Repository) FileHistory(ctx context.Context, fileID uuid.UUID, limit, offset int) ([]Record, error) {
	query := `
SELECT ` + recordColumns + `
FROM download_logs
WHERE file_id = $1
ORDER BY downloaded_at DESC
LIMIT $2 OFFSET $3;`

	return r.queryRecords(ctx, query, fileID, limit, offset)
}

// UserHistory returns attempts made by one subject, newest first.
func (r *Repository) UserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Record, error) {
	query := `
SELECT ` + recordColumns + `
FROM download_logs
WHERE user_id = $1
ORDER BY downloaded_at DESC
LIMIT $2 OFFSET $3;`

	return r.queryRecords(ctx, query, userID, limit, offset)
}

// Stats aggregates the ledger under the given filter.
func (r *Repository) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	where, args := buildFilter(filter)

	query := `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE success),
       COUNT(*) FILTER (WHERE NOT success),
       COUNT(DISTINCT ip_address)
FROM download_logs` + where + `;`

	var stats Stats
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalDownloads,
		&stats.SuccessfulDownloads,
		&stats.FailedDownloads,
		&stats.UniqueIPs,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("aggregate download logs: %w", err)
	}

	if stats.TotalDownloads > 0 {
		stats.SuccessRate = float64(stats.SuccessfulDownloads) / float64(stats.TotalDownloads) * 100
	}
	return stats, nil
}

// DailyCounts groups attempts per calendar day, oldest first.
func (r *Repository) DailyCounts(ctx context.Context, filter StatsFilter) ([]DayCount, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	where, args := buildFilter(filter)

	query := `
SELECT date_trunc('day', downloaded_at) AS day, COUNT(*)
FROM download_logs` + where + `
GROUP BY day
ORDER BY day;`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("daily download counts: %w", err)
	}
	defer rows.Close()

	var counts []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		counts = append(counts, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate day counts: %w", err)
	}
	return counts, nil
}

func (r *Repository) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, repoTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query download logs: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan download log: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download logs: %w", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.FileID,
		&rec.LinkID,
		&rec.UserID,
		&rec.IPAddress,
		&rec.UserAgent,
		&rec.Referer,
		&rec.Success,
		&rec.ErrorCode,
		&rec.ErrorMessage,
		&rec.DownloadType,
		&rec.FileName,
		&rec.FileSize,
		&rec.FileMime,
		&rec.DurationMS,
		&rec.DownloadedAt,
	)
	return rec, err
}

func buildFilter(filter StatsFilter) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.FileID != nil {
		add("file_id = $%d", *filter.FileID)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.LinkID != nil {
		add("link_id = $%d", *filter.LinkID)
	}
	if filter.Since != nil {
		add("downloaded_at >= $%d", *filter.Since)
	}
	if filter.Until != nil {
		add("downloaded_at <= $%d", *filter.Until)
	}
	if filter.SuccessOnly {
		clauses = append(clauses, "success")
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(clauses, " AND "), args
}
