// Package dependencies defines the GraphQL types and queries for branch
// dependency resolution.
package dependencies

import (
	"github.com/graphql-go/graphql"
)

// ChildComponentType is a resolved dependency of a branch.
var ChildComponentType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ChildComponent",
	Fields: graphql.Fields{
		"component": &graphql.Field{Type: graphql.String},
		"branch":    &graphql.Field{Type: graphql.String},
		"release":   &graphql.Field{Type: graphql.String},
		"status":    &graphql.Field{Type: graphql.String},
	},
})

// ComponentType is a component matched by a dependency pattern.
var ComponentType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Component",
	Fields: graphql.Fields{
		"_key":   &graphql.Field{Type: graphql.String},
		"org":    &graphql.Field{Type: graphql.String},
		"name":   &graphql.Field{Type: graphql.String},
		"type":   &graphql.Field{Type: graphql.String},
		"status": &graphql.Field{Type: graphql.String},
	},
})
