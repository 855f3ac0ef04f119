// Package rollup aggregates artifact and parent release findings into the
// release-level metrics document.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/ortelius/pdvd-rollup/internal/analysis"
	"github.com/ortelius/pdvd-rollup/internal/locks"
	"github.com/ortelius/pdvd-rollup/internal/telemetry"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
)

var (
	// ErrReleaseNotFound is returned when the release vanished before the rollup ran.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrLockUnavailable is returned when the release lock could not be taken.
	ErrLockUnavailable = errors.New("release lock unavailable")
)

// ReleaseStore loads and conditionally saves releases.
type ReleaseStore interface {
	GetRelease(ctx context.Context, key string) (*model.Release, error)
	GetReleaseInOrg(ctx context.Context, key, org string) (*model.Release, error)
	SaveRelease(ctx context.Context, rel *model.Release) (*model.Release, error)
}

// ArtifactStore loads artifacts.
type ArtifactStore interface {
	GetArtifact(ctx context.Context, key string) (*model.Artifact, error)
}

// Gatherer resolves the artifact set of a release.
type Gatherer interface {
	GatherReleaseArtifacts(ctx context.Context, rel *model.Release) ([]string, error)
}

// Options tunes the Engine.
type Options struct {
	// MaxParentDepth caps how far parent links are followed.
	MaxParentDepth int
	// TransitiveParents also folds in the parents of parents.
	TransitiveParents bool
	// SaveRetries bounds re-runs after a revision conflict.
	SaveRetries int
}

// Outcome reports what a rollup did. Release is the stored release after the
// call, whether or not it was written.
type Outcome struct {
	Release *model.Release `json:"release,omitempty"`
	Written bool           `json:"written"`
}

// Engine runs the rescan and re-evaluation protocols under a per-release lock.
type Engine struct {
	releases  ReleaseStore
	artifacts ArtifactStore
	gatherer  Gatherer
	analyzer  analysis.Analyzer
	locks     *locks.KeyedMutex
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
	backOff   func() backoff.BackOff
}

// NewEngine returns an Engine. A nil keyed mutex gets a private one.
func NewEngine(releases ReleaseStore, artifacts ArtifactStore, gatherer Gatherer, analyzer analysis.Analyzer, km *locks.KeyedMutex, logger *zap.Logger, opts Options) *Engine {
	if km == nil {
		km = locks.NewKeyedMutex()
	}
	if opts.MaxParentDepth <= 0 {
		opts.MaxParentDepth = 16
	}
	if opts.SaveRetries < 0 {
		opts.SaveRetries = 0
	}
	return &Engine{
		releases:  releases,
		artifacts: artifacts,
		gatherer:  gatherer,
		analyzer:  analyzer,
		locks:     km,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
		backOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// ComputeReleaseMetricsOnRescan rebuilds the release metrics from its
// artifacts and parents after a scan at scannedAt (zero means now). Scans not
// strictly newer than the stored last_scanned are ignored.
func (e *Engine) ComputeReleaseMetricsOnRescan(ctx context.Context, key string, scannedAt time.Time) (*Outcome, error) {
	started := time.Now()
	if scannedAt.IsZero() {
		scannedAt = e.now()
	}
	scannedAt = scannedAt.UTC()

	var out *Outcome
	err := e.retryOnConflict(ctx, key, func() error {
		var err error
		out, err = e.rescanOnce(ctx, key, scannedAt)
		return err
	})
	e.observe("rescan", out, err, started)
	return out, err
}

// ComputeReleaseMetricsOnNonRescan re-runs the analysis pass over the stored
// metrics and saves only when the result differs.
func (e *Engine) ComputeReleaseMetricsOnNonRescan(ctx context.Context, key string) (*Outcome, error) {
	started := time.Now()
	var out *Outcome
	err := e.retryOnConflict(ctx, key, func() error {
		var err error
		out, err = e.reevaluateOnce(ctx, key)
		return err
	})
	e.observe("reevaluate", out, err, started)
	return out, err
}

func (e *Engine) rescanOnce(ctx context.Context, key string, scannedAt time.Time) (*Outcome, error) {
	var out *Outcome
	err := e.withReleaseLock(ctx, key, func(rel *model.Release) error {
		if last := rel.Metrics.Clone(); last != nil && last.LastScanned != nil && !scannedAt.After(*last.LastScanned) {
			e.logger.Sugar().Debugf("Skipping rescan of release %s: scan at %s is not after %s", key, scannedAt, last.LastScanned)
			out = &Outcome{Release: rel}
			return nil
		}

		fresh := model.NewMetrics()
		if err := e.mergeArtifacts(ctx, rel, fresh); err != nil {
			return err
		}
		parents, err := e.RollUpProductReleaseMetrics(ctx, rel)
		if err != nil {
			return err
		}
		fresh.MergeWithByContent(parents)

		if err := e.analyzer.Analyze(ctx, rel.Org, rel.Key, model.ScopeRelease, fresh); err != nil {
			return fmt.Errorf("analysis of release %s failed: %w", key, err)
		}
		fresh.LastScanned = &scannedAt

		rel.Metrics = fresh
		saved, err := e.releases.SaveRelease(ctx, rel)
		if err != nil {
			return err
		}
		out = &Outcome{Release: saved, Written: true}
		return nil
	})
	return out, err
}

func (e *Engine) reevaluateOnce(ctx context.Context, key string) (*Outcome, error) {
	var out *Outcome
	err := e.withReleaseLock(ctx, key, func(rel *model.Release) error {
		if rel.Metrics == nil {
			out = &Outcome{Release: rel}
			return nil
		}
		updated := rel.Metrics.Clone()
		if err := e.analyzer.Analyze(ctx, rel.Org, rel.Key, model.ScopeRelease, updated); err != nil {
			return fmt.Errorf("analysis of release %s failed: %w", key, err)
		}
		if updated.Equal(rel.Metrics) {
			out = &Outcome{Release: rel}
			return nil
		}

		rel.Metrics = updated
		saved, err := e.releases.SaveRelease(ctx, rel)
		if err != nil {
			return err
		}
		out = &Outcome{Release: saved, Written: true}
		return nil
	})
	return out, err
}

// withReleaseLock holds the release key for the duration of fn, handing it
// the freshly loaded release.
func (e *Engine) withReleaseLock(ctx context.Context, key string, fn func(rel *model.Release) error) error {
	unlock, err := e.locks.Lock(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrLockUnavailable, key, err)
	}
	defer unlock()

	rel, err := e.releases.GetRelease(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load release %s: %w", key, err)
	}
	if rel == nil {
		return ErrReleaseNotFound
	}
	return fn(rel)
}

// retryOnConflict re-runs op while it loses revision races, up to SaveRetries
// extra attempts. Other results of op are returned as is.
func (e *Engine) retryOnConflict(ctx context.Context, key string, op func() error) error {
	var result error
	bo := backoff.WithContext(backoff.WithMaxRetries(e.backOff(), uint64(e.opts.SaveRetries)), ctx)

	err := backoff.RetryNotify(func() error {
		err := op()
		if errors.Is(err, model.ErrRevisionConflict) {
			return err
		}
		result = err
		return nil
	}, bo, func(err error, wait time.Duration) {
		e.logger.Sugar().Warnf("Release %s changed concurrently, retrying in %s: %v", key, wait, err)
	})
	if err != nil {
		return fmt.Errorf("failed to save release %s: %w", key, err)
	}
	return result
}

func (e *Engine) mergeArtifacts(ctx context.Context, rel *model.Release, into *model.Metrics) error {
	keys, err := e.gatherer.GatherReleaseArtifacts(ctx, rel)
	if err != nil {
		return fmt.Errorf("failed to gather artifacts of release %s: %w", rel.Key, err)
	}
	for _, k := range keys {
		art, err := e.artifacts.GetArtifact(ctx, k)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("Skipping artifact in rollup", zap.String("release", rel.Key), zap.String("artifact", k), zap.Error(err))
			telemetry.Skipped("artifact")
			continue
		}
		if art == nil {
			e.logger.Warn("Skipping missing artifact in rollup", zap.String("release", rel.Key), zap.String("artifact", k))
			telemetry.Skipped("artifact")
			continue
		}
		if art.Metrics == nil {
			continue
		}
		contribution := art.Metrics.Clone()
		contribution.SetAttributedAtFallback(art.CreatedAt)
		into.MergeWithByContent(contribution)
	}
	return nil
}

func (e *Engine) observe(protocol string, out *Outcome, err error, started time.Time) {
	outcome := "unchanged"
	switch {
	case errors.Is(err, ErrReleaseNotFound):
		outcome = "not_found"
	case errors.Is(err, ErrLockUnavailable):
		outcome = "lock_unavailable"
	case err != nil:
		outcome = "error"
	case out != nil && out.Written:
		outcome = "written"
	}
	telemetry.ObserveRollup(protocol, outcome, started)
}
