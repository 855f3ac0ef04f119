package gather

import (
	"context"
	"errors"
	"testing"

	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	entries      map[string]*model.SourceCodeEntry
	variants     map[string][]model.Variant
	deliverables map[string]*model.Deliverable
	variantsErr  error
}

func (f *fakeStore) GetSourceCodeEntry(_ context.Context, key string) (*model.SourceCodeEntry, error) {
	return f.entries[key], nil
}

func (f *fakeStore) ListVariantsOfRelease(_ context.Context, releaseKey string) ([]model.Variant, error) {
	if f.variantsErr != nil {
		return nil, f.variantsErr
	}
	return f.variants[releaseKey], nil
}

func (f *fakeStore) GetDeliverable(_ context.Context, key string) (*model.Deliverable, error) {
	if key == "broken" {
		return nil, errors.New("connection reset")
	}
	return f.deliverables[key], nil
}

func newFake() *fakeStore {
	return &fakeStore{
		entries: map[string]*model.SourceCodeEntry{
			"sce-1": {Key: "sce-1", Artifacts: []model.SCEArtifact{
				{Artifact: "sce-own", Component: "comp-a"},
				{Artifact: "sce-foreign", Component: "comp-b"},
			}},
		},
		variants: map[string][]model.Variant{
			"rel-1": {
				{Key: "v1", Release: "rel-1", OutboundDeliverables: []string{"d1", "missing"}},
				{Key: "v2", Release: "rel-1", OutboundDeliverables: []string{"broken", "d2"}},
			},
		},
		deliverables: map[string]*model.Deliverable{
			"d1": {Key: "d1", Artifacts: []string{"deliv-1", "direct-1"}},
			"d2": {Key: "d2", Artifacts: []string{"deliv-2"}},
		},
	}
}

func TestGatherReleaseArtifacts(t *testing.T) {
	c := NewCollector(newFake(), zap.NewNop(), 4)
	rel := &model.Release{
		Key: "rel-1", Component: "comp-a", SourceCodeEntry: "sce-1",
		Artifacts: []string{"direct-1", "direct-2", "direct-1"},
	}

	keys, err := c.GatherReleaseArtifacts(context.Background(), rel)
	require.NoError(t, err)
	assert.Equal(t, []string{"deliv-1", "deliv-2", "direct-1", "direct-2", "sce-own"}, keys)
}

func TestGatherMissingSourceCodeEntryContributesNothing(t *testing.T) {
	c := NewCollector(newFake(), zap.NewNop(), 1)
	rel := &model.Release{Key: "rel-2", Component: "comp-a", SourceCodeEntry: "gone", Artifacts: []string{"a"}}

	keys, err := c.GatherReleaseArtifacts(context.Background(), rel)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestGatherVariantListingFailureKeepsDirectArtifacts(t *testing.T) {
	store := newFake()
	store.variantsErr = errors.New("timeout")
	c := NewCollector(store, zap.NewNop(), 2)

	keys, err := c.GatherReleaseArtifacts(context.Background(), &model.Release{Key: "rel-1", Artifacts: []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, keys)
}

func TestGatherCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewCollector(newFake(), zap.NewNop(), 2)

	_, err := c.GatherReleaseArtifacts(ctx, &model.Release{Key: "rel-1"})
	assert.ErrorIs(t, err, context.Canceled)
}
