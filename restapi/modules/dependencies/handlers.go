// Package dependencies implements the REST API handlers for effective branch
// dependencies.
package dependencies

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-rollup/model"
)

// BranchLookup loads branches.
type BranchLookup interface {
	GetBranch(ctx context.Context, key string) (*model.Branch, error)
}

// Resolver computes effective dependencies and pattern matches.
type Resolver interface {
	ResolveEffectiveDependencies(ctx context.Context, branch *model.Branch) ([]model.ChildComponent, error)
	ComponentMatchesAnyPattern(name string, patterns []model.DependencyPattern) bool
}

func loadBranch(c *fiber.Ctx, store BranchLookup) (*model.Branch, error) {
	branch, err := store.GetBranch(c.UserContext(), c.Params("key"))
	if err != nil {
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": err.Error(),
		})
	}
	if branch == nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Branch not found",
		})
	}
	return branch, nil
}

// GetEffectiveDependencies returns the pattern and manual dependencies of a
// branch, manual entries winning.
func GetEffectiveDependencies(store BranchLookup, resolver Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		branch, err := loadBranch(c, store)
		if branch == nil {
			return err
		}

		deps, err := resolver.ResolveEffectiveDependencies(c.UserContext(), branch)
		if err != nil {
			status := fiber.StatusInternalServerError
			if errors.Is(err, model.ErrMissingOrg) {
				status = fiber.StatusUnprocessableEntity
			}
			return c.Status(status).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		}
		if deps == nil {
			deps = []model.ChildComponent{}
		}
		return c.JSON(fiber.Map{
			"success":      true,
			"branch":       branch.Key,
			"dependencies": deps,
		})
	}
}

// GetPatternMatch reports whether the component named in the "component"
// query parameter matches any dependency pattern of the branch.
func GetPatternMatch(store BranchLookup, resolver Resolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Query("component")
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"message": "component query parameter is required",
			})
		}
		branch, err := loadBranch(c, store)
		if branch == nil {
			return err
		}
		return c.JSON(fiber.Map{
			"success":   true,
			"branch":    branch.Key,
			"component": name,
			"matches":   resolver.ComponentMatchesAnyPattern(name, branch.DependencyPatterns),
		})
	}
}
