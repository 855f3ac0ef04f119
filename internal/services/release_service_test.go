package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIndex struct {
	byArtifact map[string][]string
	scope      model.AnalysisScope
}

func (f *fakeIndex) FindReleasesByArtifact(_ context.Context, key string) ([]string, error) {
	return f.byArtifact[key], nil
}

func (f *fakeIndex) ListReleaseKeysInScope(_ context.Context, _ string, scope model.AnalysisScope, _ string) ([]string, error) {
	f.scope = scope
	return []string{"r1", "r2"}, nil
}

type fakeEngine struct {
	mu   sync.Mutex
	seen []string
}

func (f *fakeEngine) record(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, key)
}

func (f *fakeEngine) ComputeReleaseMetricsOnRescan(_ context.Context, key string, _ time.Time) (*rollup.Outcome, error) {
	f.record(key)
	switch key {
	case "gone":
		return nil, rollup.ErrReleaseNotFound
	case "bad":
		return nil, errors.New("boom")
	}
	return &rollup.Outcome{Written: true}, nil
}

func (f *fakeEngine) ComputeReleaseMetricsOnNonRescan(_ context.Context, key string) (*rollup.Outcome, error) {
	f.record(key)
	return &rollup.Outcome{Written: key == "r2"}, nil
}

func TestRescanReleasesForArtifact(t *testing.T) {
	engine := &fakeEngine{}
	w := &RollupServiceWrapper{
		Index:       &fakeIndex{byArtifact: map[string][]string{"art-1": {"r1", "gone", "bad", "r2"}}},
		Engine:      engine,
		Logger:      zap.NewNop(),
		Concurrency: 2,
	}
	n, err := w.RescanReleasesForArtifact(context.Background(), "art-1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sort.Strings(engine.seen)
	assert.Equal(t, []string{"bad", "gone", "r1", "r2"}, engine.seen)
}

func TestReevaluateScope(t *testing.T) {
	index := &fakeIndex{}
	w := &RollupServiceWrapper{Index: index, Engine: &fakeEngine{}, Logger: zap.NewNop()}
	n, err := w.ReevaluateScope(context.Background(), "acme", model.ScopeBranch, "br-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.ScopeBranch, index.scope)
}
