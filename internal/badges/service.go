package badges

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Source supplies the raw counts.
type Source interface {
	PendingRequisitions(ctx context.Context) (int64, error)
	PendingBorrows(ctx context.Context) (int64, error)
	OverdueBorrows(ctx context.Context, today time.Time) (int64, error)
	PendingReturns(ctx context.Context) (int64, error)
	UnreadNotifications(ctx context.Context) (int64, error)
}

// SnapshotStore persists and broadcasts snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Enqueuer schedules a deferred recompute. Requests inside the debounce
// window collapse into one task.
type Enqueuer interface {
	EnqueueBadgeRecompute(ctx context.Context, debounce time.Duration) error
}

// Service maintains the badge read model.
type Service struct {
	source   Source
	store    SnapshotStore
	enqueuer Enqueuer
	debounce time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs Service. Without an enqueuer, recompute requests run inline.
func NewService(source Source, store SnapshotStore, enqueuer Enqueuer, debounce time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, store: store, enqueuer: enqueuer, debounce: debounce, logger: logger, now: time.Now}
}

// RequestRecompute asks for a fresh snapshot. Failures are logged only.
func (s *Service) RequestRecompute(ctx context.Context) {
	if s == nil {
		return
	}
	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueBadgeRecompute(ctx, s.debounce); err != nil {
			s.logger.Warn("enqueue badge recompute", slog.Any("error", err))
		}
		return
	}
	if _, err := s.Recompute(ctx); err != nil {
		s.logger.Warn("recompute badges", slog.Any("error", err))
	}
}

// Recompute queries every counter concurrently and stores the result.
func (s *Service) Recompute(ctx context.Context) (Snapshot, error) {
	now := s.now()
	snap := Snapshot{ComputedAt: now.UTC()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.PendingRequisitions, err = s.source.PendingRequisitions(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.PendingBorrows, err = s.source.PendingBorrows(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.OverdueBorrows, err = s.source.OverdueBorrows(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		snap.PendingReturns, err = s.source.PendingReturns(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.UnreadNotifications, err = s.source.UnreadNotifications(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	if s.store != nil {
		if err := s.store.Save(ctx, snap); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

// Current returns the stored snapshot, computing one when none exists.
func (s *Service) Current(ctx context.Context) (Snapshot, error) {
	if s.store == nil {
		return s.Recompute(ctx)
	}
	snap, err := s.store.Load(ctx)
	if errors.Is(err, ErrNoSnapshot) {
		return s.Recompute(ctx)
	}
	return snap, err
}
