package audit

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// recordStore abstracts ledger persistence.
type recordStore interface {
	Insert(ctx context.Context, entry Entry) (Record, error)
	FileHistory(ctx context.Context, fileID uuid.UUID, limit, offset int) ([]Record, error)
	UserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Record, error)
	Stats(ctx context.Context, filter StatsFilter) (Stats, error)
	DailyCounts(ctx context.Context, filter StatsFilter) ([]DayCount, error)
}

// Service appends access attempts to the ledger and serves its read-models.
type Service struct {
	repo recordStore
	logg *zap.Logger
}

// NewService constructs an audit service.
func NewService(repo recordStore, logg *zap.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Record appends one attempt. A ledger failure must never fail the download
// it describes, so errors are logged and swallowed here.
func (s *Service) Record(ctx context.Context, entry Entry) {
	if _, err := s.repo.Insert(ctx, entry); err != nil {
		s.logg.Error("append audit record",
			zap.Error(err),
			zap.Bool("success", entry.Success),
			zap.String("download_type", entry.DownloadType),
		)
	}
}

// FileHistory lists attempts against one file, newest first.
func (s *Service) FileHistory(ctx context.Context, fileID uuid.UUID, limit, offset int) ([]Record, error) {
	return s.repo.FileHistory(ctx, fileID, normalizeLimit(limit), offset)
}

// UserHistory lists attempts made by one subject, newest first.
func (s *Service) UserHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]Record, error) {
	return s.repo.UserHistory(ctx, userID, normalizeLimit(limit), offset)
}

// Stats aggregates the ledger under the given filter.
func (s *Service) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	return s.repo.Stats(ctx, filter)
}

// DailyCounts groups attempts per calendar day.
func (s *Service) DailyCounts(ctx context.Context, filter StatsFilter) ([]DayCount, error) {
	return s.repo.DailyCounts(ctx, filter)
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
