// Package analysis implements the REST API handler that announces changed
// triage decisions.
package analysis

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-rollup/model"
)

// Publisher announces a changed analysis scope to the event stream.
type Publisher interface {
	PublishAnalysisChanged(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) error
}

// Reevaluator re-runs the analysis pass on the releases under a scope.
type Reevaluator interface {
	ReevaluateScope(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) (int, error)
}

// ChangeRequest names the scope whose analysis records changed. An empty
// scope means the whole org.
type ChangeRequest struct {
	Org      string              `json:"org"`
	Scope    model.AnalysisScope `json:"scope"`
	ScopeKey string              `json:"scope_key"`
}

// PostAnalysisChanged queues re-evaluation of every release under the scope.
// With a publisher the work is handed to the event processor and the call
// returns 202; without one it runs inline.
func PostAnalysisChanged(publisher Publisher, reevaluator Reevaluator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ChangeRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}
		if req.Org == "" {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"success": false,
				"message": model.ErrMissingOrg.Error(),
			})
		}
		if req.Scope == "" {
			req.Scope = model.ScopeOrg
			req.ScopeKey = req.Org
		}
		if !req.Scope.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Unknown scope " + string(req.Scope),
			})
		}

		ctx := c.UserContext()
		if publisher != nil {
			if err := publisher.PublishAnalysisChanged(ctx, req.Org, req.Scope, req.ScopeKey); err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"success": false,
					"message": err.Error(),
				})
			}
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"success": true, "queued": true})
		}

		n, err := reevaluator.ReevaluateScope(ctx, req.Org, req.Scope, req.ScopeKey)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		return c.JSON(fiber.Map{"success": true, "queued": false, "written": n})
	}
}
