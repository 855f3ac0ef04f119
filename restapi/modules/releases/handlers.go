// Package releases implements the REST API handlers for release metrics rollups.
package releases

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-rollup/internal/rollup"
	"github.com/ortelius/pdvd-rollup/model"
)

// Rollup runs the release metrics protocols.
type Rollup interface {
	ComputeReleaseMetricsOnRescan(ctx context.Context, key string, scannedAt time.Time) (*rollup.Outcome, error)
	ComputeReleaseMetricsOnNonRescan(ctx context.Context, key string) (*rollup.Outcome, error)
}

// ReleaseLookup loads releases.
type ReleaseLookup interface {
	GetRelease(ctx context.Context, key string) (*model.Release, error)
}

// Gatherer resolves the artifact set of a release.
type Gatherer interface {
	GatherReleaseArtifacts(ctx context.Context, rel *model.Release) ([]string, error)
}

// RescanRequest is the optional body of a rescan call.
type RescanRequest struct {
	ScannedAt time.Time `json:"scanned_at"`
}

// PostRescan rebuilds a release's metrics from its artifacts and parents.
func PostRescan(engine Rollup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req RescanRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"success": false,
					"message": "Invalid request body: " + err.Error(),
				})
			}
		}

		out, err := engine.ComputeReleaseMetricsOnRescan(c.UserContext(), c.Params("key"), req.ScannedAt)
		return respond(c, out, err)
	}
}

// PostReevaluate re-runs the analysis pass over a release's stored metrics.
func PostReevaluate(engine Rollup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		out, err := engine.ComputeReleaseMetricsOnNonRescan(c.UserContext(), c.Params("key"))
		return respond(c, out, err)
	}
}

func respond(c *fiber.Ctx, out *rollup.Outcome, err error) error {
	switch {
	case errors.Is(err, rollup.ErrReleaseNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Release not found",
		})
	case errors.Is(err, rollup.ErrLockUnavailable):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	case errors.Is(err, model.ErrMissingOrg):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}

	resp := fiber.Map{"success": true, "written": out.Written}
	if out.Release != nil {
		resp["release"] = out.Release.Key
		resp["revision"] = out.Release.Revision
		resp["metrics"] = out.Release.Metrics
	}
	return c.JSON(resp)
}

// GetArtifacts lists the artifacts attributed to a release.
func GetArtifacts(store ReleaseLookup, gatherer Gatherer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		rel, err := store.GetRelease(ctx, c.Params("key"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		if rel == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Release not found",
			})
		}

		keys, err := gatherer.GatherReleaseArtifacts(ctx, rel)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"success":   true,
			"release":   rel.Key,
			"artifacts": keys,
		})
	}
}
