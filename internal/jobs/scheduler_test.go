package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ortelius/pdvd-rollup/config"
	"github.com/ortelius/pdvd-rollup/internal/locks"
	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	orgs     []model.Org
	releases map[string][]string
	stale    map[string][]string
	before   time.Time
	lastRun  map[string]time.Time
}

func (f *fakeStore) ListOrgs(context.Context) ([]model.Org, error) { return f.orgs, nil }

func (f *fakeStore) ListReleaseKeysByOrg(_ context.Context, org string) ([]string, error) {
	return f.releases[org], nil
}

func (f *fakeStore) ListStaleReleaseKeys(_ context.Context, org string, before time.Time) ([]string, error) {
	f.before = before
	return f.stale[org], nil
}

func (f *fakeStore) SaveLastRun(_ context.Context, job string, t time.Time) error {
	f.lastRun[job] = t
	return nil
}

type fakeRollup struct {
	mu         sync.Mutex
	rescanned  []string
	reevaluted []string
	scannedAt  time.Time
	results    map[string]error
}

func (f *fakeRollup) ComputeReleaseMetricsOnRescan(_ context.Context, key string, scannedAt time.Time) (*rollup.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rescanned = append(f.rescanned, key)
	f.scannedAt = scannedAt
	if err := f.results[key]; err != nil {
		return nil, err
	}
	return &rollup.Outcome{Written: true}, nil
}

func (f *fakeRollup) ComputeReleaseMetricsOnNonRescan(_ context.Context, key string) (*rollup.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reevaluted = append(f.reevaluted, key)
	if err := f.results[key]; err != nil {
		return nil, err
	}
	return &rollup.Outcome{Written: key == "r1"}, nil
}

func newFixture() (*fakeStore, *fakeRollup) {
	store := &fakeStore{
		orgs: []model.Org{
			{Key: "acme", Status: model.StatusActive},
			{Key: "old", Status: model.StatusArchived},
		},
		releases: map[string][]string{"acme": {"r1", "r2", "r3", "gone"}, "old": {"x"}},
		stale:    map[string][]string{"acme": {"r2"}},
		lastRun:  map[string]time.Time{},
	}
	return store, &fakeRollup{results: map[string]error{
		"r3":   errors.New("boom"),
		"gone": rollup.ErrReleaseNotFound,
	}}
}

func TestRecomputeSweepVisitsActiveOrgs(t *testing.T) {
	store, engine := newFixture()
	s := NewScheduler(store, engine, locks.NewMemoryAdvisoryLock(), config.SweepConfig{Concurrency: 2}, zap.NewNop())
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	stats, err := s.RunOnce(context.Background(), JobRecomputeReleaseMetrics)
	require.NoError(t, err)
	assert.True(t, stats.Ran)
	assert.Equal(t, 4, stats.Releases)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, 1, stats.Failed)

	sort.Strings(engine.reevaluted)
	assert.Equal(t, []string{"gone", "r1", "r2", "r3"}, engine.reevaluted)
	assert.Equal(t, now, store.lastRun[JobRecomputeReleaseMetrics])
}

func TestRescanSweepUsesStaleCutoff(t *testing.T) {
	store, engine := newFixture()
	cfg := config.SweepConfig{Concurrency: 1, StaleAfter: 24 * time.Hour, Orgs: []string{"acme"}}
	s := NewScheduler(store, engine, locks.NewMemoryAdvisoryLock(), cfg, zap.NewNop())
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	stats, err := s.RunOnce(context.Background(), JobRescanStaleReleases)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Equal(t, []string{"r2"}, engine.rescanned)
	assert.Equal(t, now, engine.scannedAt)
	assert.Equal(t, now.Add(-24*time.Hour), store.before)
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	store, engine := newFixture()
	lock := locks.NewMemoryAdvisoryLock()
	held, err := lock.TryAcquire(context.Background(), JobRecomputeReleaseMetrics)
	require.NoError(t, err)
	require.True(t, held)

	s := NewScheduler(store, engine, lock, config.SweepConfig{}, zap.NewNop())
	stats, err := s.RunOnce(context.Background(), JobRecomputeReleaseMetrics)
	require.NoError(t, err)
	assert.False(t, stats.Ran)
	assert.Empty(t, engine.reevaluted)
	assert.Empty(t, store.lastRun)
}

func TestRunOnceReleasesLock(t *testing.T) {
	store, engine := newFixture()
	lock := locks.NewMemoryAdvisoryLock()
	s := NewScheduler(store, engine, lock, config.SweepConfig{}, zap.NewNop())

	_, err := s.RunOnce(context.Background(), JobRescanStaleReleases)
	require.NoError(t, err)

	ok, err := lock.TryAcquire(context.Background(), JobRescanStaleReleases)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunOnceUnknownJob(t *testing.T) {
	store, engine := newFixture()
	s := NewScheduler(store, engine, locks.NewMemoryAdvisoryLock(), config.SweepConfig{}, zap.NewNop())
	_, err := s.RunOnce(context.Background(), "nope")
	assert.Error(t, err)
}

// leaseLock is a memory lock whose Extend reports whether the lease is still
// ours, as decided by the test.
type leaseLock struct {
	*locks.MemoryAdvisoryLock
	held    atomic.Bool
	extends atomic.Int32
}

func (l *leaseLock) Extend(context.Context, string) (bool, error) {
	l.extends.Add(1)
	return l.held.Load(), nil
}

// waitingRollup blocks each release until ctx ends or until proceed returns
// true.
type waitingRollup struct {
	proceed   func() bool
	cancelled atomic.Int32
}

func (w *waitingRollup) wait(ctx context.Context) (*rollup.Outcome, error) {
	deadline := time.After(5 * time.Second)
	for {
		if w.proceed != nil && w.proceed() {
			return &rollup.Outcome{Written: true}, nil
		}
		select {
		case <-ctx.Done():
			w.cancelled.Add(1)
			return nil, ctx.Err()
		case <-deadline:
			return nil, errors.New("timed out")
		case <-time.After(time.Millisecond):
		}
	}
}

func (w *waitingRollup) ComputeReleaseMetricsOnRescan(ctx context.Context, _ string, _ time.Time) (*rollup.Outcome, error) {
	return w.wait(ctx)
}

func (w *waitingRollup) ComputeReleaseMetricsOnNonRescan(ctx context.Context, _ string) (*rollup.Outcome, error) {
	return w.wait(ctx)
}

func TestRunOnceCancelsSweepWhenLeaseLapses(t *testing.T) {
	store, _ := newFixture()
	lock := &leaseLock{MemoryAdvisoryLock: locks.NewMemoryAdvisoryLock()}
	engine := &waitingRollup{}
	cfg := config.SweepConfig{Concurrency: 1, LockTTL: 30 * time.Millisecond, Orgs: []string{"acme"}}
	s := NewScheduler(store, engine, lock, cfg, zap.NewNop())

	stats, err := s.RunOnce(context.Background(), JobRecomputeReleaseMetrics)
	require.ErrorIs(t, err, locks.ErrLockLost)
	assert.True(t, stats.Ran)
	assert.Equal(t, int32(1), engine.cancelled.Load())
	assert.GreaterOrEqual(t, lock.extends.Load(), int32(1))
	assert.Empty(t, store.lastRun)
}

func TestRunOnceExtendsLockWhileSweeping(t *testing.T) {
	store, _ := newFixture()
	lock := &leaseLock{MemoryAdvisoryLock: locks.NewMemoryAdvisoryLock()}
	lock.held.Store(true)
	engine := &waitingRollup{proceed: func() bool { return lock.extends.Load() >= 2 }}
	cfg := config.SweepConfig{Concurrency: 1, LockTTL: 30 * time.Millisecond, Orgs: []string{"acme"}}
	s := NewScheduler(store, engine, lock, cfg, zap.NewNop())

	stats, err := s.RunOnce(context.Background(), JobRescanStaleReleases)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Zero(t, engine.cancelled.Load())
	assert.Contains(t, store.lastRun, JobRescanStaleReleases)

	ok, err := lock.TryAcquire(context.Background(), JobRescanStaleReleases)
	require.NoError(t, err)
	assert.True(t, ok)
}
