package dependencies

import (
	"context"
	"encoding/json"

	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-rollup/model"
)

// BranchStore loads branches.
type BranchStore interface {
	GetBranch(ctx context.Context, key string) (*model.Branch, error)
}

// Resolver computes effective dependencies and pattern matches.
type Resolver interface {
	ResolveEffectiveDependencies(ctx context.Context, branch *model.Branch) ([]model.ChildComponent, error)
	FindComponentsByPattern(ctx context.Context, org, pattern string) ([]model.Component, error)
	ComponentMatchesAnyPattern(name string, patterns []model.DependencyPattern) bool
}

// asList renders values through their JSON names for the default resolvers.
func asList(v interface{}) ([]map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := []map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetQueryFields returns the dependency queries to be mounted in the root schema.
func GetQueryFields(store BranchStore, resolver Resolver) graphql.Fields {
	return graphql.Fields{
		"effectiveDependencies": &graphql.Field{
			Type: graphql.NewList(ChildComponentType),
			Args: graphql.FieldConfigArgument{
				"branch": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				branch, err := store.GetBranch(p.Context, p.Args["branch"].(string))
				if err != nil || branch == nil {
					return nil, err
				}
				deps, err := resolver.ResolveEffectiveDependencies(p.Context, branch)
				if err != nil {
					return nil, err
				}
				return asList(deps)
			},
		},
		"componentsByPattern": &graphql.Field{
			Type: graphql.NewList(ComponentType),
			Args: graphql.FieldConfigArgument{
				"org":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"pattern": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				comps, err := resolver.FindComponentsByPattern(p.Context, p.Args["org"].(string), p.Args["pattern"].(string))
				if err != nil {
					return nil, err
				}
				return asList(comps)
			},
		},
		"patternMatches": &graphql.Field{
			Type: graphql.Boolean,
			Args: graphql.FieldConfigArgument{
				"branch":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				"component": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				branch, err := store.GetBranch(p.Context, p.Args["branch"].(string))
				if err != nil || branch == nil {
					return false, err
				}
				return resolver.ComponentMatchesAnyPattern(p.Args["component"].(string), branch.DependencyPatterns), nil
			},
		},
	}
}
