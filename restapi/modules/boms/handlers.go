// Package boms implements the REST API handler for BOM uploads.
package boms

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-rollup/internal/bom"
	"github.com/ortelius/pdvd-rollup/model"
)

// Ingestor stores a BOM for an artifact and reports dedup results.
type Ingestor interface {
	Ingest(ctx context.Context, artifactKey string, content []byte, format model.BomFormat, opts bom.StoreOptions) (*bom.IngestResult, error)
}

// UploadRequest is the body of a BOM upload.
type UploadRequest struct {
	Format  model.BomFormat `json:"format"`
	Name    string          `json:"name"`
	Group   string          `json:"group"`
	Version string          `json:"version"`
	Bom     json.RawMessage `json:"bom"`
}

// PostBom attaches a BOM to an artifact. A BOM whose digest matches another
// artifact of the org reuses that artifact's findings.
func PostBom(ingestor Ingestor) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req UploadRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "Invalid request body: " + err.Error(),
			})
		}
		if len(req.Bom) == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "BOM content is required",
			})
		}

		opts := bom.StoreOptions{Name: req.Name, Group: req.Group, Version: req.Version}
		res, err := ingestor.Ingest(c.UserContext(), c.Params("key"), req.Bom, req.Format, opts)
		switch {
		case errors.Is(err, bom.ErrArtifactNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"success": false,
				"message": "Artifact not found",
			})
		case errors.Is(err, bom.ErrMissingSerial), errors.Is(err, model.ErrMissingOrg):
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

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"result":  res,
		})
	}
}
