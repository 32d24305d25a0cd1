// Package orchestrate implements the REST API handlers for planning and
// running remediation cycles.
package orchestrate

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ortelius/avr-backend/internal/orchestrator"
	"github.com/ortelius/avr-backend/internal/store"
)

// GetPlan handles GET requests for a side-effect-free dispatch preview.
// An optional ?repo= query restricts the preview to one repository.
func GetPlan(runner *orchestrator.Runner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entries, err := runner.Plan(c.Context(), c.Query("repo"))
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"entries": entries})
	}
}

// PostCycle handles POST requests to run one remediation cycle. A cycle
// already in progress yields 409; the caller should retry after it finishes.
func PostCycle(runner *orchestrator.Runner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		report, err := runner.Cycle(c.Context())
		if err != nil {
			if errors.Is(err, store.ErrCycleRunning) {
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
			}
			if report != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(report)
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(report)
	}
}

// GetStatus handles GET requests for the orchestrator's operational status.
func GetStatus(runner *orchestrator.Runner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status, err := runner.Status(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(status)
	}
}

// GetExport handles GET requests for a point-in-time state snapshot with the
// audit trail, for compliance export.
func GetExport(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		export, err := st.ExportState(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(export)
	}
}

// GetCycles handles GET requests for recent cycle reports.
func GetCycles(st store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit := c.QueryInt("limit", 20)
		reports, err := st.CycleReports(c.Context(), limit)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"cycles": reports})
	}
}
