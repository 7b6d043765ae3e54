package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shieldmaiden/shieldmaiden/internal/metrics"
)

type fakeExpirer struct {
	expired int64
	err     error
	calls   int
}

func (f *fakeExpirer) DeactivateExpired(context.Context) (int64, error) {
	f.calls++
	return f.expired, f.err
}

type fakeReclaimer struct {
	orphans    []uuid.UUID
	deleted    []uuid.UUID
	reclaimed  []uuid.UUID
	purged     []uuid.UUID
	reclaimErr map[uuid.UUID]error
}

func (f *fakeReclaimer) OrphanIDs(context.Context) ([]uuid.UUID, error) {
	return f.orphans, nil
}

func (f *fakeReclaimer) ReclaimOrphan(_ context.Context, fileID uuid.UUID) error {
	if err := f.reclaimErr[fileID]; err != nil {
		return err
	}
	f.reclaimed = append(f.reclaimed, fileID)
	return nil
}

func (f *fakeReclaimer) DeletedIDs(context.Context) ([]uuid.UUID, error) {
	return f.deleted, nil
}

func (f *fakeReclaimer) Purge(_ context.Context, fileID uuid.UUID) error {
	f.purged = append(f.purged, fileID)
	return nil
}

func newTestSweeper(links *fakeExpirer, files *fakeReclaimer) *Sweeper {
	metrics.InitMetrics()
	return New(links, files, zap.NewNop(), time.Hour, time.Hour)
}

func TestSweepExpiresAndReclaims(t *testing.T) {
	orphan := uuid.New()
	links := &fakeExpirer{expired: 3}
	files := &fakeReclaimer{orphans: []uuid.UUID{orphan}}

	s := newTestSweeper(links, files)
	s.Sweep(context.Background())

	if links.calls != 1 {
		t.Fatalf("expected one expire pass, got %d", links.calls)
	}
	if len(files.reclaimed) != 1 || files.reclaimed[0] != orphan {
		t.Fatalf("expected orphan to be reclaimed, got %v", files.reclaimed)
	}
}

func TestSweepContinuesPastFailures(t *testing.T) {
	bad := uuid.New()
	good := uuid.New()
	links := &fakeExpirer{err: errors.New("db down")}
	files := &fakeReclaimer{
		orphans:    []uuid.UUID{bad, good},
		reclaimErr: map[uuid.UUID]error{bad: errors.New("blob store down")},
	}

	s := newTestSweeper(links, files)
	s.Sweep(context.Background())

	if len(files.reclaimed) != 1 || files.reclaimed[0] != good {
		t.Fatalf("a failing item must not stall the pass, reclaimed=%v", files.reclaimed)
	}
}

func TestPurgeDeleted(t *testing.T) {
	first := uuid.New()
	second := uuid.New()
	files := &fakeReclaimer{deleted: []uuid.UUID{first, second}}

	s := newTestSweeper(&fakeExpirer{}, files)
	s.PurgeDeleted(context.Background())

	if len(files.purged) != 2 {
		t.Fatalf("expected both files purged, got %v", files.purged)
	}
}

func TestRunFiresOnStartAndStops(t *testing.T) {
	links := &fakeExpirer{}
	files := &fakeReclaimer{}
	s := newTestSweeper(links, files)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("sweeper did not stop on context cancel")
	}

	if links.calls == 0 {
		t.Fatalf("expected an initial sweep on start")
	}
}
