// Package services adapts the rollup engine to the event and API callers.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReleaseIndex finds the releases an event applies to.
type ReleaseIndex interface {
	FindReleasesByArtifact(ctx context.Context, artifactKey string) ([]string, error)
	ListReleaseKeysInScope(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) ([]string, error)
}

// Rollup is the part of rollup.Engine the service drives.
type Rollup interface {
	ComputeReleaseMetricsOnRescan(ctx context.Context, key string, scannedAt time.Time) (*rollup.Outcome, error)
	ComputeReleaseMetricsOnNonRescan(ctx context.Context, key string) (*rollup.Outcome, error)
}

// RollupServiceWrapper fans an event out to the rollups of every affected
// release.
type RollupServiceWrapper struct {
	Index       ReleaseIndex
	Engine      Rollup
	Logger      *zap.Logger
	Concurrency int
}

// RescanReleasesForArtifact rescans every release referencing artifactKey
// and returns how many were written.
func (w *RollupServiceWrapper) RescanReleasesForArtifact(ctx context.Context, artifactKey string, scannedAt time.Time) (int, error) {
	keys, err := w.Index.FindReleasesByArtifact(ctx, artifactKey)
	if err != nil {
		return 0, fmt.Errorf("failed to find releases of artifact %s: %w", artifactKey, err)
	}
	return w.each(ctx, keys, func(ctx context.Context, key string) (*rollup.Outcome, error) {
		return w.Engine.ComputeReleaseMetricsOnRescan(ctx, key, scannedAt)
	})
}

// ReevaluateScope re-runs the analysis pass on every release under scope and
// returns how many changed.
func (w *RollupServiceWrapper) ReevaluateScope(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) (int, error) {
	keys, err := w.Index.ListReleaseKeysInScope(ctx, org, scope, scopeKey)
	if err != nil {
		return 0, fmt.Errorf("failed to list releases under %s %s: %w", scope, scopeKey, err)
	}
	return w.each(ctx, keys, w.Engine.ComputeReleaseMetricsOnNonRescan)
}

func (w *RollupServiceWrapper) each(ctx context.Context, keys []string, run func(context.Context, string) (*rollup.Outcome, error)) (int, error) {
	limit := w.Concurrency
	if limit < 1 {
		limit = 1
	}
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, key := range keys {
		g.Go(func() error {
			out, err := run(gctx, key)
			switch {
			case errors.Is(err, rollup.ErrReleaseNotFound), errors.Is(err, rollup.ErrLockUnavailable):
				w.Logger.Debug("Release skipped", zap.String("release", key), zap.Error(err))
			case err != nil:
				w.Logger.Warn("Release rollup failed", zap.String("release", key), zap.Error(err))
			case out != nil && out.Written:
				written.Add(1)
			}
			return gctx.Err()
		})
	}
	err := g.Wait()
	return int(written.Load()), err
}
