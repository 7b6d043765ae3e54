package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldmaiden/shieldmaiden/internal/metrics"
)

// linkExpirer is the share-service slice the sweeper needs.
type linkExpirer interface {
	DeactivateExpired(ctx context.Context) (int64, error)
}

// fileReclaimer is the file-service slice the sweeper needs.
type fileReclaimer interface {
	OrphanIDs(ctx context.Context) ([]uuid.UUID, error)
	ReclaimOrphan(ctx context.Context, fileID uuid.UUID) error
	DeletedIDs(ctx context.Context) ([]uuid.UUID, error)
	Purge(ctx context.Context, fileID uuid.UUID) error
}

// Sweeper runs the background maintenance passes: expiring stale links,
// reclaiming files with no active links left, and purging soft-deleted
// records. Every pass reuses the same service primitives as the foreground
// paths, so a sweep and a live request can never disagree.
type Sweeper struct {
	links  linkExpirer
	files  fileReclaimer
	logger *zap.Logger

	sweepInterval time.Duration
	purgeInterval time.Duration
}

// New builds a sweeper.
func New(links linkExpirer, files fileReclaimer, logger *zap.Logger, sweepInterval, purgeInterval time.Duration) *Sweeper {
	return &Sweeper{
		links:         links,
		files:         files,
		logger:        logger,
		sweepInterval: sweepInterval,
		purgeInterval: purgeInterval,
	}
}

// Run blocks until the context is cancelled. Both passes fire once at
// start so a restart never waits a full interval to catch up.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)
	s.PurgeDeleted(ctx)

	sweepTicker := time.NewTicker(s.sweepInterval)
	purgeTicker := time.NewTicker(s.purgeInterval)
	defer sweepTicker.Stop()
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-sweepTicker.C:
			s.Sweep(ctx)
		case <-purgeTicker.C:
			s.PurgeDeleted(ctx)
		}
	}
}

// Sweep expires stale links, then reclaims files left without a single
// active link. Expiry runs first: it is what turns a file into an orphan.
func (s *Sweeper) Sweep(ctx context.Context) {
	expired, err := s.links.DeactivateExpired(ctx)
	if err != nil {
		s.logger.Error("expire links pass failed", zap.Error(err))
		metrics.SweeperRuns.WithLabelValues("expire_links", "error").Inc()
	} else {
		metrics.SweeperRuns.WithLabelValues("expire_links", "ok").Inc()
		metrics.SweeperItems.WithLabelValues("expire_links").Add(float64(expired))
		if expired > 0 {
			s.logger.Info("expired stale links", zap.Int64("count", expired))
		}
	}

	orphans, err := s.files.OrphanIDs(ctx)
	if err != nil {
		s.logger.Error("list orphans failed", zap.Error(err))
		metrics.SweeperRuns.WithLabelValues("reclaim_orphans", "error").Inc()
		return
	}

	var reclaimed int64
	for _, id := range orphans {
		if ctx.Err() != nil {
			return
		}
		if err := s.files.ReclaimOrphan(ctx, id); err != nil {
			// One bad file must not stall the rest of the pass.
			s.logger.Error("reclaim orphan failed", zap.String("file_id", id.String()), zap.Error(err))
			continue
		}
		reclaimed++
	}

	metrics.SweeperRuns.WithLabelValues("reclaim_orphans", "ok").Inc()
	metrics.SweeperItems.WithLabelValues("reclaim_orphans").Add(float64(reclaimed))
	if reclaimed > 0 {
		s.logger.Info("reclaimed orphaned files", zap.Int64("count", reclaimed))
	}
}

// PurgeDeleted physically removes soft-deleted files.
func (s *Sweeper) PurgeDeleted(ctx context.Context) {
	ids, err := s.files.DeletedIDs(ctx)
	if err != nil {
		s.logger.Error("list deleted files failed", zap.Error(err))
		metrics.SweeperRuns.WithLabelValues("purge", "error").Inc()
		return
	}

	var purged int64
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := s.files.Purge(ctx, id); err != nil {
			s.logger.Error("purge failed", zap.String("file_id", id.String()), zap.Error(err))
			continue
		}
		purged++
	}

	metrics.SweeperRuns.WithLabelValues("purge", "ok").Inc()
	metrics.SweeperItems.WithLabelValues("purge").Add(float64(purged))
	if purged > 0 {
		s.logger.Info("purged deleted files", zap.Int64("count", purged))
	}
}
