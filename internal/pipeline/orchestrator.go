package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Job is a long-running loop that returns when ctx is cancelled.
type Job func(ctx context.Context) error

// Orchestrator supervises background jobs. The first job to fail cancels
// the others.
type Orchestrator struct {
	names  []string
	jobs   []Job
	logger *slog.Logger
}

func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{logger: logger.With(slog.String("component", "orchestrator"))}
}

// Add registers a job under name. Jobs start in registration order.
func (o *Orchestrator) Add(name string, job Job) *Orchestrator {
	o.names = append(o.names, name)
	o.jobs = append(o.jobs, job)
	return o
}

// Len returns the number of registered jobs.
func (o *Orchestrator) Len() int { return len(o.jobs) }

// Run starts every job and waits. Jobs that return because ctx was
// cancelled count as a clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoContext(ctx, "orchestrator starting", slog.Any("jobs", o.names))

	g, gctx := errgroup.WithContext(ctx)
	for i, job := range o.jobs {
		name := o.names[i]
		g.Go(func() error {
			o.logger.InfoContext(gctx, "job started", slog.String("job", name))
			err := job(gctx)
			if gctx.Err() != nil {
				return nil
			}
			if err == nil {
				o.logger.InfoContext(gctx, "job finished", slog.String("job", name))
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.ErrorContext(ctx, "orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.InfoContext(ctx, "orchestrator stopped cleanly")
	return nil
}
