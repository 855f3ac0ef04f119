// Package api builds the Fiber application serving the REST, GraphQL and
// metrics endpoints.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/graphql-go/graphql"
	"github.com/ortelius/pdvd-rollup/restapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewFiberApp creates and configures a Fiber app with REST and GraphQL routes
func NewFiberApp(svc restapi.Services, schema graphql.Schema) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:     "pdvd-rollup API v1.0",
		BodyLimit:   50 * 1024 * 1024, // 50MB
		ReadTimeout: 60 * time.Second,
	})

	app.Use(fiberrecover.New())
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Requested-With",
		AllowMethods: "GET, POST, HEAD, OPTIONS",
	}))

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("graphql_op", "-")
		return c.Next()
	})
	app.Use(logger.New(logger.Config{
		Format:       "${time} ${status} ${method} ${path} ${locals:graphql_op} ${latency}\n",
		Next:         func(c *fiber.Ctx) bool { return c.Path() == "/metrics" },
		TimeFormat:   time.RFC3339,
		TimeZone:     "UTC",
		TimeInterval: time.Second,
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	restapi.SetupRoutes(app, svc, schema)

	return app
}
