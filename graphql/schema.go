// Package graphql assembles the GraphQL schema from the module query fields.
package graphql

import (
	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-rollup/graphql/modules/dependencies"
	"github.com/ortelius/pdvd-rollup/graphql/modules/releases"
)

// Deps holds the services the resolvers call.
type Deps struct {
	Releases releases.Store
	Gatherer releases.Gatherer
	Engine   releases.Rollup
	Branches dependencies.BranchStore
	Resolver dependencies.Resolver
}

func merge(groups ...graphql.Fields) graphql.Fields {
	out := graphql.Fields{}
	for _, g := range groups {
		for name, f := range g {
			out[name] = f
		}
	}
	return out
}

// CreateSchema builds the root query and mutation types.
func CreateSchema(d Deps) (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: merge(
			releases.GetQueryFields(d.Releases, d.Gatherer),
			dependencies.GetQueryFields(d.Branches, d.Resolver),
		),
	})
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Mutation",
		Fields: releases.GetMutationFields(d.Engine),
	})
	return graphql.NewSchema(graphql.SchemaConfig{Query: query, Mutation: mutation})
}
