// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-rollup/restapi/modules/analysis"
	"github.com/ortelius/pdvd-rollup/restapi/modules/boms"
	"github.com/ortelius/pdvd-rollup/restapi/modules/dependencies"
	"github.com/ortelius/pdvd-rollup/restapi/modules/releases"
	"go.uber.org/zap"
)

// Services holds what the route handlers call.
type Services struct {
	Releases releases.ReleaseLookup
	Gatherer releases.Gatherer
	Engine   releases.Rollup
	Branches dependencies.BranchLookup
	Resolver dependencies.Resolver
	Ingestor boms.Ingestor
	// Publisher is nil when the event stream is disabled.
	Publisher   analysis.Publisher
	Reevaluator analysis.Reevaluator
	Logger      *zap.Logger
}

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
func SetupRoutes(app *fiber.App, svc Services, schema graphql.Schema) {
	gql := GraphQLHandler(schema, svc.Logger)
	app.Post("/graphql", gql)

	api := app.Group("/api/v1")
	api.Post("/graphql", gql)

	releaseGroup := api.Group("/releases")
	releaseGroup.Post("/:key/metrics/rescan", releases.PostRescan(svc.Engine))
	releaseGroup.Post("/:key/metrics/reevaluate", releases.PostReevaluate(svc.Engine))
	releaseGroup.Get("/:key/artifacts", releases.GetArtifacts(svc.Releases, svc.Gatherer))

	branchGroup := api.Group("/branches")
	branchGroup.Get("/:key/dependencies", dependencies.GetEffectiveDependencies(svc.Branches, svc.Resolver))
	branchGroup.Get("/:key/dependencies/match", dependencies.GetPatternMatch(svc.Branches, svc.Resolver))

	api.Post("/artifacts/:key/bom", boms.PostBom(svc.Ingestor))
	api.Post("/analysis/changed", analysis.PostAnalysisChanged(svc.Publisher, svc.Reevaluator))
}
