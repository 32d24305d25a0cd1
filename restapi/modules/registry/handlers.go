// Package registry implements the REST API handlers for the repository
// registry and fleet objectives.
package registry

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/model"
)

// GetRepos handles GET requests listing all registered repositories.
func GetRepos(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		repos, err := st.Repos(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"repos": repos})
	}
}

// GetRepo handles GET requests for one repository by its short name.
func GetRepo(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		name := c.Params("name")
		repos, err := st.Repos(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		for _, repo := range repos {
			if repo.Name == name {
				return c.JSON(repo)
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "repo not found: " + name})
	}
}

// PostRepo handles POST requests registering or updating one repository.
func PostRepo(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var repo model.RepoConfig
		if err := c.BodyParser(&repo); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := repo.Validate(); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if err := st.UpsertRepo(c.Context(), &repo); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(repo)
	}
}

// GetObjectives handles GET requests listing the fleet objectives.
func GetObjectives(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		objectives, err := st.Objectives(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"objectives": objectives})
	}
}

// PostObjective handles POST requests creating or updating one objective.
func PostObjective(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var objective model.Objective
		if err := c.BodyParser(&objective); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if err := objective.Validate(); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		if err := st.UpsertObjective(c.Context(), &objective); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(objective)
	}
}
