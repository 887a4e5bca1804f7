package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

const sweepLockKey = "lifecycle_sweep"

// SweepResult counts the transitions made by one sweep.
type SweepResult struct {
	Locked int
	Voided int
	Failed int
}

// LifecycleWorkerConfig configures a LifecycleWorker.
type LifecycleWorkerConfig struct {
	Interval time.Duration
	// VoidGrace is how long a Locked market may wait for the oracle after
	// its deadline before it is voided. Zero disables auto-void.
	VoidGrace time.Duration
	LockTTL   time.Duration
}

// LifecycleWorker locks markets whose betting deadline has passed and voids
// markets the oracle never resolved. Only one replica sweeps at a time.
type LifecycleWorker struct {
	svc    *MarketService
	locks  domain.LockManager
	cfg    LifecycleWorkerConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewLifecycleWorker creates a LifecycleWorker. locks may be nil for a
// single-replica deployment.
func NewLifecycleWorker(svc *MarketService, locks domain.LockManager, cfg LifecycleWorkerConfig, logger *slog.Logger) *LifecycleWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	return &LifecycleWorker{
		svc:    svc,
		locks:  locks,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "lifecycle_worker")),
	}
}

// Run sweeps every Interval until ctx is cancelled.
func (w *LifecycleWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.ErrorContext(ctx, "lifecycle sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one pass. It does nothing when another replica holds the
// sweep lock.
func (w *LifecycleWorker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, sweepLockKey, w.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			w.logger.DebugContext(ctx, "sweep lock held elsewhere")
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("lifecycle: acquire lock: %w", err)
		}
		defer unlock()
	}

	now := w.now()
	for _, m := range w.svc.ListMarkets(domain.MarketFilter{State: domain.MarketOpen}) {
		if m.Halted || now.Before(m.Deadline) {
			continue
		}
		if _, err := w.svc.LockMarket(ctx, m.ID); err != nil {
			w.transitionFailed(ctx, &res, m.ID, "lock", err)
			continue
		}
		res.Locked++
		w.logger.InfoContext(ctx, "market locked at deadline", slog.String("market_id", m.ID))
	}

	if w.cfg.VoidGrace > 0 {
		for _, m := range w.svc.ListMarkets(domain.MarketFilter{State: domain.MarketLocked}) {
			if m.Halted || now.Before(m.Deadline.Add(w.cfg.VoidGrace)) {
				continue
			}
			reason := fmt.Sprintf("unresolved %s after deadline", w.cfg.VoidGrace)
			if _, err := w.svc.VoidMarket(ctx, m.ID, reason); err != nil {
				w.transitionFailed(ctx, &res, m.ID, "void", err)
				continue
			}
			res.Voided++
			w.logger.InfoContext(ctx, "unresolved market voided", slog.String("market_id", m.ID))
		}
	}
	return res, nil
}

// transitionFailed ignores markets that moved on between listing and the
// transition; anything else counts as a failure.
func (w *LifecycleWorker) transitionFailed(ctx context.Context, res *SweepResult, id, op string, err error) {
	if errors.Is(err, domain.ErrIllegalTransition) || errors.Is(err, domain.ErrAlreadyResolved) || errors.Is(err, domain.ErrInvalidState) {
		return
	}
	res.Failed++
	w.logger.WarnContext(ctx, "lifecycle transition failed",
		slog.String("market_id", id),
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
}
