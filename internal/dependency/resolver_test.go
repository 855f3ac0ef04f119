package dependency

import (
	"context"
	"testing"

	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	components []model.Component
	branches   []model.Branch
}

func (f *fakeStore) ListComponentsByOrg(_ context.Context, org string) ([]model.Component, error) {
	var out []model.Component
	for _, c := range f.components {
		if c.Org == org {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) FindBranchByComponentAndName(_ context.Context, component, name string) (*model.Branch, error) {
	for _, b := range f.branches {
		if b.Component == component && b.Name == name {
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetBaseBranchOfComponent(_ context.Context, component string) (*model.Branch, error) {
	for _, b := range f.branches {
		if b.Component == component && b.Type == model.BranchTypeBase {
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetBranch(_ context.Context, key string) (*model.Branch, error) {
	for _, b := range f.branches {
		if b.Key == key {
			return &b, nil
		}
	}
	return nil, nil
}

func fixture() *fakeStore {
	return &fakeStore{
		components: []model.Component{
			{Key: "self", Org: "acme", Name: "api-gateway", Type: model.ComponentTypeComponent},
			{Key: "auth", Org: "acme", Name: "api-auth", Type: model.ComponentTypeComponent},
			{Key: "billing", Org: "acme", Name: "api-billing", Type: model.ComponentTypeComponent},
			{Key: "old", Org: "acme", Name: "api-old", Type: model.ComponentTypeComponent, Status: model.StatusArchived},
			{Key: "suite", Org: "acme", Name: "api-suite", Type: model.ComponentTypeProduct},
			{Key: "web", Org: "acme", Name: "web-ui", Type: model.ComponentTypeComponent},
			{Key: "foreign", Org: "other", Name: "api-foreign", Type: model.ComponentTypeComponent},
		},
		branches: []model.Branch{
			{Key: "auth-main", Component: "auth", Name: "main", Type: model.BranchTypeBase},
			{Key: "auth-rel", Component: "auth", Name: "release", Type: model.BranchTypeRegular},
			{Key: "billing-main", Component: "billing", Name: "main", Type: model.BranchTypeBase},
			{Key: "web-main", Component: "web", Name: "main", Type: model.BranchTypeBase, Status: model.StatusArchived},
		},
	}
}

func TestResolveEffectiveDependencies(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())
	branch := &model.Branch{
		Key: "fs-1", Org: "acme", Component: "self", Type: model.BranchTypeFeatureSet,
		DependencyPatterns: []model.DependencyPattern{
			{Pattern: "api-.*", TargetBranchName: "release"},
			{Pattern: "("},
		},
	}

	deps, err := r.ResolveEffectiveDependencies(context.Background(), branch)
	require.NoError(t, err)
	assert.Equal(t, []model.ChildComponent{
		{Component: "auth", Branch: "auth-rel", Status: model.DependencyRequired},
		{Component: "billing", Branch: "billing-main", Status: model.DependencyRequired},
	}, deps)
}

func TestResolveFallbackDisabledSkipsComponent(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())
	branch := &model.Branch{
		Key: "fs-1", Org: "acme", Component: "self",
		DependencyPatterns: []model.DependencyPattern{
			{Pattern: "api-.*", TargetBranchName: "release", FallbackToBase: model.FallbackDisabled, DefaultStatus: model.DependencyOptional},
		},
	}

	deps, err := r.ResolveEffectiveDependencies(context.Background(), branch)
	require.NoError(t, err)
	assert.Equal(t, []model.ChildComponent{
		{Component: "auth", Branch: "auth-rel", Status: model.DependencyOptional},
	}, deps)
}

func TestResolveSkipsArchivedTargetBranch(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())
	branch := &model.Branch{
		Key: "fs-1", Org: "acme", Component: "self",
		DependencyPatterns: []model.DependencyPattern{{Pattern: "web-ui"}},
	}

	deps, err := r.ResolveEffectiveDependencies(context.Background(), branch)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestPatternRequiresFullMatch(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())
	branch := &model.Branch{
		Key: "fs-1", Org: "acme", Component: "self",
		DependencyPatterns: []model.DependencyPattern{{Pattern: "api"}},
	}

	deps, err := r.ResolveEffectiveDependencies(context.Background(), branch)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestManualDependenciesOverridePatterns(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())
	branch := &model.Branch{
		Key: "fs-1", Org: "acme", Component: "self",
		DependencyPatterns: []model.DependencyPattern{
			{Pattern: "api-auth"},
			{Pattern: "api-billing", DefaultStatus: model.DependencyOptional},
			{Pattern: "api-auth", DefaultStatus: model.DependencyIgnored},
		},
		Dependencies: []model.ChildComponent{
			{Component: "billing", Branch: "billing-main", Release: "billing-1.2.0", Status: model.DependencyRequired},
			{Component: "external", Branch: "external-main"},
		},
	}

	deps, err := r.ResolveEffectiveDependencies(context.Background(), branch)
	require.NoError(t, err)
	assert.Equal(t, []model.ChildComponent{
		{Component: "auth", Branch: "auth-main", Status: model.DependencyIgnored},
		{Component: "billing", Branch: "billing-main", Release: "billing-1.2.0", Status: model.DependencyRequired},
		{Component: "external", Branch: "external-main", Status: model.DependencyRequired},
	}, deps)
}

func TestResolveBranch(t *testing.T) {
	store := fixture()
	store.branches = append(store.branches, model.Branch{
		Key: "fs-2", Org: "acme", Component: "self",
		DependencyPatterns: []model.DependencyPattern{{Pattern: "api-billing"}},
	})
	r := NewResolver(store, zap.NewNop())

	deps, err := r.ResolveBranch(context.Background(), "fs-2")
	require.NoError(t, err)
	assert.Len(t, deps, 1)

	deps, err = r.ResolveBranch(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, deps)
}

func TestResolveRequiresOrg(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())
	_, err := r.ResolveEffectiveDependencies(context.Background(), &model.Branch{
		DependencyPatterns: []model.DependencyPattern{{Pattern: ".*"}},
	})
	assert.ErrorIs(t, err, model.ErrMissingOrg)
}

func TestComponentMatchesAnyPattern(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewResolver(fixture(), zap.New(core))

	patterns := []model.DependencyPattern{{Pattern: "[invalid"}, {Pattern: "svc-[a-z]+"}}
	assert.True(t, r.ComponentMatchesAnyPattern("svc-orders", patterns))
	assert.False(t, r.ComponentMatchesAnyPattern("svc-orders-v2", patterns))
	assert.False(t, r.ComponentMatchesAnyPattern("anything", []model.DependencyPattern{{Pattern: "("}}))

	assert.Equal(t, 3, logs.FilterMessageSnippet("invalid dependency pattern").Len())
}

func TestFindComponentsByPattern(t *testing.T) {
	r := NewResolver(fixture(), zap.NewNop())

	found, err := r.FindComponentsByPattern(context.Background(), "acme", "api-.*")
	require.NoError(t, err)
	names := make([]string, 0, len(found))
	for _, c := range found {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"api-gateway", "api-auth", "api-billing"}, names)

	_, err = r.FindComponentsByPattern(context.Background(), "acme", "(")
	assert.Error(t, err)
}
