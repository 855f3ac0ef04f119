// Package jobs runs the periodic release sweeps. Each job tick is gated by a
// cluster-wide advisory lock so only one instance sweeps at a time.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ortelius/pdvd-rollup/config"
	"github.com/ortelius/pdvd-rollup/internal/locks"
	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/internal/telemetry"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Job names, also used as advisory lock and metadata keys.
const (
	JobRecomputeReleaseMetrics = "recompute-release-metrics"
	JobRescanStaleReleases     = "rescan-stale-releases"
)

// Store lists the releases a sweep visits and records finished runs.
type Store interface {
	ListOrgs(ctx context.Context) ([]model.Org, error)
	ListReleaseKeysByOrg(ctx context.Context, org string) ([]string, error)
	ListStaleReleaseKeys(ctx context.Context, org string, before time.Time) ([]string, error)
	SaveLastRun(ctx context.Context, job string, lastRun time.Time) error
}

// Rollup is the part of rollup.Engine the sweeps drive.
type Rollup interface {
	ComputeReleaseMetricsOnRescan(ctx context.Context, key string, scannedAt time.Time) (*rollup.Outcome, error)
	ComputeReleaseMetricsOnNonRescan(ctx context.Context, key string) (*rollup.Outcome, error)
}

// RunStats summarizes one job run.
type RunStats struct {
	Job      string `json:"job"`
	Ran      bool   `json:"ran"`
	Releases int    `json:"releases"`
	Written  int    `json:"written"`
	Failed   int    `json:"failed"`
}

// Scheduler runs the sweep jobs on a fixed interval.
type Scheduler struct {
	store  Store
	rollup Rollup
	lock   locks.AdvisoryLock
	cfg    config.SweepConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewScheduler returns a Scheduler.
func NewScheduler(store Store, engine Rollup, lock locks.AdvisoryLock, cfg config.SweepConfig, logger *zap.Logger) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Scheduler{store: store, rollup: engine, lock: lock, cfg: cfg, logger: logger, now: time.Now}
}

// Start runs every job once, then on each interval tick, until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s.cfg.Interval <= 0 {
		s.logger.Info("Periodic sweeps disabled")
		return
	}
	for _, job := range []string{JobRecomputeReleaseMetrics, JobRescanStaleReleases} {
		go s.loop(ctx, job)
	}
}

func (s *Scheduler) loop(ctx context.Context, job string) {
	s.tick(ctx, job)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, job string) {
	stats, err := s.RunOnce(ctx, job)
	if err != nil {
		s.logger.Error("Sweep failed", zap.String("job", job), zap.Error(err))
		return
	}
	if stats.Ran {
		s.logger.Info("Sweep finished", zap.String("job", job),
			zap.Int("releases", stats.Releases), zap.Int("written", stats.Written), zap.Int("failed", stats.Failed))
	}
}

// RunOnce runs job if the advisory lock for it can be taken. Losing the lock
// to another instance is not an error: the returned stats have Ran unset.
func (s *Scheduler) RunOnce(ctx context.Context, job string) (*RunStats, error) {
	stats := &RunStats{Job: job}

	acquired, err := s.lock.TryAcquire(ctx, job)
	if err != nil {
		telemetry.SweepTotal.WithLabelValues(job, "error").Inc()
		return stats, fmt.Errorf("failed to acquire lock for %s: %w", job, err)
	}
	if !acquired {
		s.logger.Debug("Sweep already running elsewhere, skipping tick", zap.String("job", job))
		telemetry.SweepTotal.WithLabelValues(job, "skipped").Inc()
		return stats, nil
	}
	defer func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), job); err != nil {
			s.logger.Warn("Failed to release sweep lock", zap.String("job", job), zap.Error(err))
		}
	}()

	ctx, stop := s.heartbeat(ctx, job)
	defer stop()

	started := s.now().UTC()
	stats.Ran = true
	switch job {
	case JobRecomputeReleaseMetrics:
		err = s.sweep(ctx, stats, func(ctx context.Context, org string) ([]string, error) {
			return s.store.ListReleaseKeysByOrg(ctx, org)
		}, func(ctx context.Context, key string) (*rollup.Outcome, error) {
			return s.rollup.ComputeReleaseMetricsOnNonRescan(ctx, key)
		})
	case JobRescanStaleReleases:
		before := started.Add(-s.cfg.StaleAfter)
		err = s.sweep(ctx, stats, func(ctx context.Context, org string) ([]string, error) {
			return s.store.ListStaleReleaseKeys(ctx, org, before)
		}, func(ctx context.Context, key string) (*rollup.Outcome, error) {
			return s.rollup.ComputeReleaseMetricsOnRescan(ctx, key, started)
		})
	default:
		err = fmt.Errorf("unknown job %q", job)
	}
	if cause := context.Cause(ctx); errors.Is(cause, locks.ErrLockLost) {
		err = fmt.Errorf("sweep %s aborted: %w", job, cause)
	}
	if err != nil {
		telemetry.SweepTotal.WithLabelValues(job, "error").Inc()
		return stats, err
	}

	if err := s.store.SaveLastRun(ctx, job, started); err != nil {
		s.logger.Warn("Failed to record sweep run", zap.String("job", job), zap.Error(err))
	}
	telemetry.SweepTotal.WithLabelValues(job, "ok").Inc()
	return stats, nil
}

// heartbeat extends the lock for job every third of its TTL until stop is
// called. The returned context is cancelled with locks.ErrLockLost as soon
// as an extension fails.
func (s *Scheduler) heartbeat(ctx context.Context, job string) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	every := s.cfg.LockTTL / 3
	if every <= 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := s.lock.Extend(ctx, job)
			if err == nil && held {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("Lost sweep lock, cancelling sweep", zap.String("job", job), zap.Bool("held", held), zap.Error(err))
			telemetry.SweepTotal.WithLabelValues(job, "lock_lost").Inc()
			cancel(locks.ErrLockLost)
			return
		}
	}()
	return ctx, func() {
		close(done)
		<-exited
		cancel(nil)
	}
}

type listFunc func(ctx context.Context, org string) ([]string, error)
type rollupFunc func(ctx context.Context, key string) (*rollup.Outcome, error)

// sweep visits every release list returns for each org. Per-release failures
// are counted and logged; only org listing failures and cancellation abort.
func (s *Scheduler) sweep(ctx context.Context, stats *RunStats, list listFunc, run rollupFunc) error {
	orgs, err := s.orgs(ctx)
	if err != nil {
		return err
	}

	var written, failed, visited atomic.Int64
	for _, org := range orgs {
		keys, err := list(ctx, org)
		if err != nil {
			return fmt.Errorf("failed to list releases of org %s: %w", org, err)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, key := range keys {
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				visited.Add(1)
				out, err := run(gctx, key)
				switch {
				case errors.Is(err, rollup.ErrReleaseNotFound), errors.Is(err, rollup.ErrLockUnavailable):
					s.logger.Debug("Release skipped by sweep", zap.String("release", key), zap.Error(err))
				case err != nil:
					failed.Add(1)
					s.logger.Warn("Release rollup failed", zap.String("org", org), zap.String("release", key), zap.Error(err))
				case out != nil && out.Written:
					written.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	stats.Releases = int(visited.Load())
	stats.Written = int(written.Load())
	stats.Failed = int(failed.Load())
	return nil
}

// orgs returns the configured orgs, or every active org when none are set.
func (s *Scheduler) orgs(ctx context.Context) ([]string, error) {
	if len(s.cfg.Orgs) > 0 {
		return s.cfg.Orgs, nil
	}
	all, err := s.store.ListOrgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	keys := make([]string, 0, len(all))
	for _, o := range all {
		if !o.Archived() {
			keys = append(keys, o.Key)
		}
	}
	return keys, nil
}
