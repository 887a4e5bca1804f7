package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/parimutuel/internal/engine"
	"github.com/alanyoungcy/parimutuel/internal/pipeline"
	"github.com/alanyoungcy/parimutuel/internal/server"
	"github.com/alanyoungcy/parimutuel/internal/server/handler"
	"github.com/alanyoungcy/parimutuel/internal/server/ws"
	"github.com/alanyoungcy/parimutuel/internal/service"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP and WebSocket API and runs the lifecycle
// sweeper. Every process that owns an engine sweeps; the distributed lock
// keeps replicas from sweeping at once.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	orch, err := a.engineJobs(ctx, deps)
	if err != nil {
		return err
	}
	return orch.Run(ctx)
}

// WorkerMode runs the archive cron only. It never loads markets, so it can
// run beside the API replicas without competing for the journal.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	orch := pipeline.NewOrchestrator(a.logger)
	if err := a.addArchiveJob(orch, deps); err != nil {
		return err
	}
	return orch.Run(ctx)
}

// FullMode is ServerMode plus the archive cron in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	orch, err := a.engineJobs(ctx, deps)
	if err != nil {
		return err
	}
	if deps.Archiver != nil {
		if err := a.addArchiveJob(orch, deps); err != nil {
			return err
		}
	}
	return orch.Run(ctx)
}

// engineJobs restores the engine from the journal and registers the
// publisher, WebSocket hub, HTTP server and lifecycle sweeper.
func (a *App) engineJobs(ctx context.Context, deps *Dependencies) (*pipeline.Orchestrator, error) {
	cfg := a.cfg
	a.logger.InfoContext(ctx, "starting engine", slog.String("mode", cfg.Mode))

	pub := service.NewEventPublisher(
		deps.SignalBus,
		deps.AuditStore,
		deps.MarketCache,
		deps.MarketStore,
		deps.Notifier,
		cfg.Market.PublishBuffer,
		a.logger,
	)
	eng := engine.New(engine.Config{
		DefaultFeeBps:          cfg.Market.DefaultFeeBps,
		MinBet:                 cfg.Market.MinBet,
		MaxBet:                 cfg.Market.MaxBet,
		MaxStakePerParticipant: cfg.Market.MaxStakePerParticipant,
		RestoreConcurrency:     cfg.Market.RestoreConcurrency,
	}, deps.Journal, a.logger, engine.WithObserver(pub.Observe))

	start := time.Now()
	n, err := eng.Restore(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: restore engine: %w", err)
	}
	a.logger.InfoContext(ctx, "markets restored",
		slog.Int("markets", n),
		slog.Duration("took", time.Since(start)),
	)

	svc := service.NewMarketService(eng, deps.MarketCache, deps.MarketStore, deps.Signer, service.MarketServiceConfig{
		AutoSettle: cfg.Market.AutoSettle,
	}, a.logger)
	if _, err := svc.SyncSnapshots(ctx); err != nil {
		// Listings catch up as events are published.
		a.logger.WarnContext(ctx, "snapshot sync failed", slog.String("error", err.Error()))
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{Mode: cfg.Mode, StartedAt: start})
	amounts := handler.Amounts{Decimals: cfg.Server.AmountDecimals}
	srv := server.NewServer(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Health, a.logger),
		Markets:    handler.NewMarketHandler(svc, amounts, a.logger),
		Bets:       handler.NewBetHandler(svc, amounts, a.logger),
		Settlement: handler.NewSettlementHandler(svc, amounts, a.logger),
		Audit:      handler.NewAuditHandler(deps.AuditStore, deps.BlobReader, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	sweeper := service.NewLifecycleWorker(svc, deps.LockManager, service.LifecycleWorkerConfig{
		Interval:  cfg.Market.SweepInterval.Duration,
		VoidGrace: cfg.Market.VoidGrace.Duration,
	}, a.logger)

	orch := pipeline.NewOrchestrator(a.logger).
		Add("event_publisher", pub.Run).
		Add("ws_hub", hub.Run).
		Add("http_server", serve(srv)).
		Add("lifecycle_sweeper", sweeper.Run)
	return orch, nil
}

func (a *App) addArchiveJob(orch *pipeline.Orchestrator, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive job needs s3 and postgres")
	}
	arch := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	orch.Add("archive_cron", func(ctx context.Context) error {
		return arch.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return nil
}

// serve runs srv until ctx is cancelled, then drains in-flight requests.
func serve(srv *server.Server) pipeline.Job {
	return func(ctx context.Context) error {
		errc := make(chan error, 1)
		go func() { errc <- srv.Start() }()

		select {
		case err := <-errc:
			if err == nil {
				return errors.New("server stopped unexpectedly")
			}
			return err
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				return err
			}
			<-errc
			return ctx.Err()
		}
	}
}
