package releases

import (
	"context"
	"time"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
)

// Store loads releases.
type Store interface {
	GetRelease(ctx context.Context, key string) (*model.Release, error)
}

// Gatherer resolves the artifact set of a release.
type Gatherer interface {
	GatherReleaseArtifacts(ctx context.Context, rel *model.Release) ([]string, error)
}

// Rollup runs the release metrics protocols.
type Rollup interface {
	ComputeReleaseMetricsOnRescan(ctx context.Context, key string, scannedAt time.Time) (*rollup.Outcome, error)
	ComputeReleaseMetricsOnNonRescan(ctx context.Context, key string) (*rollup.Outcome, error)
}

func keyArg() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"key": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
	}
}

// GetQueryFields returns the release queries to be mounted in the root schema.
func GetQueryFields(store Store, gatherer Gatherer) graphql.Fields {
	return graphql.Fields{
		"release": &graphql.Field{
			Type: ReleaseType,
			Args: keyArg(),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				rel, err := store.GetRelease(p.Context, p.Args["key"].(string))
				if err != nil {
					return nil, err
				}
				return ResolveRelease(rel)
			},
		},
		"releaseMetrics": &graphql.Field{
			Type: MetricsType,
			Args: keyArg(),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				rel, err := store.GetRelease(p.Context, p.Args["key"].(string))
				if err != nil || rel == nil || rel.Metrics == nil {
					return nil, err
				}
				return toMap(rel.Metrics)
			},
		},
		"releaseArtifacts": &graphql.Field{
			Type: graphql.NewList(graphql.String),
			Args: keyArg(),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				rel, err := store.GetRelease(p.Context, p.Args["key"].(string))
				if err != nil || rel == nil {
					return nil, err
				}
				return gatherer.GatherReleaseArtifacts(p.Context, rel)
			},
		},
	}
}

// GetMutationFields returns the rollup mutations to be mounted in the root schema.
func GetMutationFields(engine Rollup) graphql.Fields {
	return graphql.Fields{
		"rescanRelease": &graphql.Field{
			Type: RollupResultType,
			Args: graphql.FieldConfigArgument{
				"key":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"scanned_at": &graphql.ArgumentConfig{Type: graphql.DateTime},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				var scannedAt time.Time
				if t, ok := p.Args["scanned_at"].(time.Time); ok {
					scannedAt = t
				}
				out, err := engine.ComputeReleaseMetricsOnRescan(p.Context, p.Args["key"].(string), scannedAt)
				if err != nil {
					return nil, err
				}
				return ResolveOutcome(out)
			},
		},
		"reevaluateRelease": &graphql.Field{
			Type: RollupResultType,
			Args: keyArg(),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				out, err := engine.ComputeReleaseMetricsOnNonRescan(p.Context, p.Args["key"].(string))
				if err != nil {
					return nil, err
				}
				return ResolveOutcome(out)
			},
		},
	}
}
