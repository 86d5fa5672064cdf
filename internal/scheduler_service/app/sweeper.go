package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/credably/announcer/internal/announcement_service/repository"
)

// Sweeper requeues messages stuck in processing, covering the gap between a
// successful claim and a failed event publish, and worker crashes past the
// idempotency lease. Runs on a cron schedule from the composition root.
type Sweeper struct {
	repo       repository.MessageRepository
	logger     *slog.Logger
	staleAfter time.Duration
}

func NewSweeper(repo repository.MessageRepository, logger *slog.Logger, staleAfter time.Duration) *Sweeper {
	return &Sweeper{
		repo:       repo,
		logger:     logger.With("component", "sweeper"),
		staleAfter: staleAfter,
	}
}

// Sweep moves processing messages older than the staleness threshold back to
// scheduled so the next poll re-claims them.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.staleAfter)
	requeued, err := s.repo.RequeueStaleProcessing(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "Stale processing sweep failed", "error", err)
		return 0, err
	}
	if requeued > 0 {
		staleRequeuedCounter.Add(float64(requeued))
		s.logger.WarnContext(ctx, "Requeued stale processing messages", "count", requeued, "cutoff", cutoff)
	}
	return requeued, nil
}
