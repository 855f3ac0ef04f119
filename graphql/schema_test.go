package graphql

import (
	"context"
	"testing"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-rollup/internal/dependency"
	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReleases map[string]*model.Release

func (f fakeReleases) GetRelease(_ context.Context, key string) (*model.Release, error) {
	return f[key], nil
}

type fakeGatherer struct{}

func (fakeGatherer) GatherReleaseArtifacts(_ context.Context, rel *model.Release) ([]string, error) {
	return rel.Artifacts, nil
}

type fakeEngine struct{ rescanned string }

func (f *fakeEngine) ComputeReleaseMetricsOnRescan(_ context.Context, key string, _ time.Time) (*rollup.Outcome, error) {
	f.rescanned = key
	return &rollup.Outcome{Written: true, Release: &model.Release{Key: key, Revision: 2}}, nil
}

func (f *fakeEngine) ComputeReleaseMetricsOnNonRescan(_ context.Context, key string) (*rollup.Outcome, error) {
	return nil, rollup.ErrReleaseNotFound
}

type fakeBranches map[string]*model.Branch

func (f fakeBranches) GetBranch(_ context.Context, key string) (*model.Branch, error) {
	return f[key], nil
}

type fakeResolver struct{}

func (fakeResolver) ResolveEffectiveDependencies(context.Context, *model.Branch) ([]model.ChildComponent, error) {
	return []model.ChildComponent{{Component: "lib", Branch: "lib-main", Status: model.DependencyRequired}}, nil
}

func (fakeResolver) FindComponentsByPattern(_ context.Context, org, _ string) ([]model.Component, error) {
	return []model.Component{{Key: "lib", Org: org, Name: "lib-core"}}, nil
}

func (fakeResolver) ComponentMatchesAnyPattern(name string, patterns []model.DependencyPattern) bool {
	return dependency.NewResolver(nil, zap.NewNop()).ComponentMatchesAnyPattern(name, patterns)
}

func newSchema(t *testing.T) (graphql.Schema, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	schema, err := CreateSchema(Deps{
		Releases: fakeReleases{"r1": {
			Key:            "r1",
			Org:            "acme",
			Artifacts:      []string{"a1", "a2"},
			ParentReleases: []model.ParentRelease{{Release: "p1"}},
			Metrics:        &model.Metrics{Counters: model.Counters{Critical: 2, Vulnerabilities: 2}},
		}},
		Gatherer: fakeGatherer{},
		Engine:   engine,
		Branches: fakeBranches{"b1": {Key: "b1", Org: "acme", DependencyPatterns: []model.DependencyPattern{{Pattern: "lib-.*"}}}},
		Resolver: fakeResolver{},
	})
	require.NoError(t, err)
	return schema, engine
}

func do(schema graphql.Schema, query string) *graphql.Result {
	return graphql.Do(graphql.Params{Schema: schema, RequestString: query, Context: context.Background()})
}

func TestReleaseQuery(t *testing.T) {
	schema, _ := newSchema(t)
	res := do(schema, `{ release(key: "r1") { _key org parent_releases metrics { critical vulnerabilities } } releaseArtifacts(key: "r1") }`)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]interface{})
	rel := data["release"].(map[string]interface{})
	assert.Equal(t, "r1", rel["_key"])
	assert.Equal(t, []interface{}{"p1"}, rel["parent_releases"])
	metrics := rel["metrics"].(map[string]interface{})
	assert.Equal(t, 2, metrics["critical"])
	assert.Equal(t, []interface{}{"a1", "a2"}, data["releaseArtifacts"])
}

func TestMissingReleaseIsNull(t *testing.T) {
	schema, _ := newSchema(t)
	res := do(schema, `{ release(key: "nope") { _key } releaseMetrics(key: "nope") { critical } }`)
	require.Empty(t, res.Errors)
	data := res.Data.(map[string]interface{})
	assert.Nil(t, data["release"])
	assert.Nil(t, data["releaseMetrics"])
}

func TestDependencyQueries(t *testing.T) {
	schema, _ := newSchema(t)
	res := do(schema, `{
		effectiveDependencies(branch: "b1") { component branch status }
		componentsByPattern(org: "acme", pattern: "lib-.*") { _key name }
		yes: patternMatches(branch: "b1", component: "lib-core")
		no: patternMatches(branch: "b1", component: "xlib-core")
	}`)
	require.Empty(t, res.Errors)

	data := res.Data.(map[string]interface{})
	deps := data["effectiveDependencies"].([]interface{})
	require.Len(t, deps, 1)
	assert.Equal(t, "REQUIRED", deps[0].(map[string]interface{})["status"])
	comps := data["componentsByPattern"].([]interface{})
	assert.Equal(t, "lib-core", comps[0].(map[string]interface{})["name"])
	assert.Equal(t, true, data["yes"])
	assert.Equal(t, false, data["no"])
}

func TestRollupMutations(t *testing.T) {
	schema, engine := newSchema(t)
	res := do(schema, `mutation { rescanRelease(key: "r1") { written release { _key revision } } }`)
	require.Empty(t, res.Errors)
	assert.Equal(t, "r1", engine.rescanned)
	out := res.Data.(map[string]interface{})["rescanRelease"].(map[string]interface{})
	assert.Equal(t, true, out["written"])

	res = do(schema, `mutation { reevaluateRelease(key: "gone") { written } }`)
	assert.NotEmpty(t, res.Errors)
}
