// Package restapi provides the main router and initialization for REST API endpoints.
package restapi

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/ortelius/avr-backend/internal/clients"
	"github.com/ortelius/avr-backend/internal/orchestrator"
	"github.com/ortelius/avr-backend/internal/services"
	"github.com/ortelius/avr-backend/internal/store"
	"github.com/ortelius/avr-backend/restapi/modules/orchestrate"
	"github.com/ortelius/avr-backend/restapi/modules/registry"
	"github.com/ortelius/avr-backend/restapi/modules/scans"
)

// SetupRoutes configures all REST API routes and the GraphQL endpoint.
func SetupRoutes(app *fiber.App, st store.Store, runner *orchestrator.Runner, ingest *services.IngestService, scanner *clients.ScannerClient, schema graphql.Schema) {
	// API Group /api/v1
	api := app.Group("/api/v1")

	// GraphQL Route - Mounted within the api group to inherit path prefixes
	api.Post("/graphql", GraphQLHandler(schema))

	// Orchestration
	api.Get("/plan", orchestrate.GetPlan(runner))
	api.Post("/cycle", orchestrate.PostCycle(runner))
	api.Get("/status", orchestrate.GetStatus(runner))
	api.Get("/cycles", orchestrate.GetCycles(st))
	api.Get("/export", orchestrate.GetExport(st))

	// Repository registry and fleet objectives
	api.Get("/repos", registry.GetRepos(st))
	api.Post("/repos", registry.PostRepo(st))
	api.Get("/repos/:name", registry.GetRepo(st))
	api.Get("/objectives", registry.GetObjectives(st))
	api.Post("/objectives", registry.PostObjective(st))

	// Scan ingestion
	api.Post("/scans", scans.PostScan(ingest))
	api.Post("/scans/osv", scans.PostOSVScan(ingest))
	api.Post("/scans/pull", scans.PostScanPull(ingest, scanner))
	api.Post("/scans/trigger", scans.PostScanTrigger(scanner))
	api.Get("/issues", scans.GetIssues(ingest))

	log.Println("API routes initialized successfully")
}
