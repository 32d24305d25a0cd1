// Package scans implements the REST API handlers for analyzer scan ingestion.
package scans

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/osv-scanner/pkg/models"

	"github.com/ortelius/avr-backend/internal/clients"
	"github.com/ortelius/avr-backend/internal/services"
	"github.com/ortelius/avr-backend/model"
)

// ScanRequest is the inline payload for a completed analyzer run.
type ScanRequest struct {
	RepoURL     string                    `json:"repo_url"`
	ScannedAt   time.Time                 `json:"scanned_at"`
	Findings    []model.RawFinding        `json:"findings"`
	SourceLines map[string]map[int]string `json:"source_lines,omitempty"`
}

// OSVScanRequest wraps an OSV scanner report for one repository.
type OSVScanRequest struct {
	RepoURL   string                      `json:"repo_url"`
	ScannedAt time.Time                   `json:"scanned_at"`
	Report    models.VulnerabilityResults `json:"report"`
}

// PostScan handles POST requests ingesting analyzer findings for one repo.
func PostScan(svc *services.IngestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req ScanRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.RepoURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo_url is required"})
		}

		scan, err := svc.IngestFindings(c.Context(), req.RepoURL, req.ScannedAt, req.Findings, req.SourceLines)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(scan)
	}
}

// PostOSVScan handles POST requests ingesting an OSV dependency scan report.
func PostOSVScan(svc *services.IngestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req OSVScanRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
		if req.RepoURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo_url is required"})
		}

		scan, err := svc.IngestOSVReport(c.Context(), req.RepoURL, req.ScannedAt, &req.Report)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(scan)
	}
}

// PostScanPull fetches the most recent completed run from the scan result
// feed and ingests it, for repos whose analyzer does not push results.
func PostScanPull(svc *services.IngestService, scanner *clients.ScannerClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		repoURL := c.Query("repo")
		if repoURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo query parameter is required"})
		}

		result, err := scanner.LatestScan(c.Context(), repoURL)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		scan, err := svc.IngestFindings(c.Context(), repoURL, result.ScannedAt, result.Findings, nil)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusCreated).JSON(scan)
	}
}

// PostScanTrigger asks the analyzer service for a fresh scan of a repo.
func PostScanTrigger(scanner *clients.ScannerClient) fiber.Handler {
	return func(c *fiber.Ctx) error {
		repoURL := c.Query("repo")
		if repoURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo query parameter is required"})
		}
		if err := scanner.TriggerScan(c.Context(), repoURL); err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "scan requested"})
	}
}

// GetIssues handles GET requests listing the issues in a repo's latest scan.
func GetIssues(svc *services.IngestService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		repoURL := c.Query("repo")
		if repoURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "repo query parameter is required"})
		}
		issues, err := svc.Store.CurrentIssues(c.Context(), repoURL)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"issues": issues})
	}
}
