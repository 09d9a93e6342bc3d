package cron

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/storefront-core/pkg/logger"
	"github.com/angelmondragon/storefront-core/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service. Locks is optional; without it
// jobs are only guarded against overlapping runs inside this process.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locks    LockFactory
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service supervises registered jobs. Every job ticks on its own interval;
// a tick that arrives while the previous run is still executing is skipped.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locks    LockFactory
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locks:    params.Locks,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run starts one supervisor per job and blocks until the context is
// canceled and every in-flight run has returned.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entries := s.registry.Entries()
	if len(entries) == 0 {
		return errors.New("no cron jobs registered")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		sup, err := s.newSupervisor(entry)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return sup.loop(gctx)
		})
	}
	err := g.Wait()
	s.logg.Info(ctx, "cron service stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

type supervisor struct {
	svc      *Service
	job      Job
	interval time.Duration
	lock     Lock
	running  atomic.Bool
	wg       sync.WaitGroup
}

func (s *Service) newSupervisor(entry Entry) (*supervisor, error) {
	interval := entry.Interval
	if interval <= 0 {
		interval = s.interval
	}
	sup := &supervisor{svc: s, job: entry.Job, interval: interval}
	if s.locks != nil {
		lock, err := s.locks(entry.Job.Name())
		if err != nil {
			return nil, fmt.Errorf("lock for %s: %w", entry.Job.Name(), err)
		}
		sup.lock = lock
	}
	return sup, nil
}

func (sup *supervisor) loop(ctx context.Context) error {
	logCtx := sup.svc.logg.WithFields(ctx, map[string]any{
		"job":         sup.job.Name(),
		"interval_ms": sup.interval.Milliseconds(),
	})
	sup.svc.logg.Info(logCtx, "job scheduled")

	ticker := time.NewTicker(sup.interval)
	defer ticker.Stop()
	defer sup.wg.Wait()

	sup.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sup.tick(ctx)
		}
	}
}

// tick starts a run unless one is already in flight.
func (sup *supervisor) tick(ctx context.Context) bool {
	if !sup.running.CompareAndSwap(false, true) {
		logCtx := sup.svc.logg.WithFields(ctx, map[string]any{"job": sup.job.Name(), "event": "cron.skip"})
		sup.svc.logg.Warn(logCtx, "previous run still in flight; tick skipped")
		sup.svc.metrics.IncSkipped(sup.job.Name())
		return false
	}
	sup.wg.Add(1)
	go func() {
		defer sup.wg.Done()
		defer sup.running.Store(false)
		sup.svc.runJob(ctx, sup.job, sup.lock)
	}()
	return true
}

func (s *Service) runJob(ctx context.Context, job Job, lock Lock) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")

	if lock != nil {
		locked, err := lock.Acquire(jobCtx)
		if err != nil {
			s.logg.Error(jobCtx, "job lock acquire failed", err)
			s.metrics.IncFailure(job.Name())
			return
		}
		if !locked {
			s.logg.Info(jobCtx, "job held by another instance; skipping")
			s.metrics.IncSkipped(job.Name())
			return
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(jobCtx)); relErr != nil {
				s.logg.Error(jobCtx, "failed to release job lock", relErr)
			}
		}()
	}

	start := time.Now()
	err := runSafely(jobCtx, job)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
}

// runSafely converts a panic inside the job into an error.
func runSafely(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v\n%s", job.Name(), r, debug.Stack())
		}
	}()
	return job.Run(ctx)
}
