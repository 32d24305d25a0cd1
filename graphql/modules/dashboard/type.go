// Package dashboard defines the GraphQL types for the remediation dashboard.
package dashboard

import (
	"github.com/graphql-go/graphql"
)

// OverviewType represents the high-level metrics for the top cards
var OverviewType = graphql.NewObject(graphql.ObjectConfig{
	Name: "DashboardOverview",
	Fields: graphql.Fields{
		"tracked_fingerprints": &graphql.Field{Type: graphql.Int},
		"needs_human_review":   &graphql.Field{Type: graphql.Int},
		"cooling_down":         &graphql.Field{Type: graphql.Int},
		"rate_limiter_used":    &graphql.Field{Type: graphql.Int},
		"rate_limiter_max":     &graphql.Field{Type: graphql.Int},
	},
})

// SeverityDistributionType represents the data for the pie/bar charts
var SeverityDistributionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SeverityDistribution",
	Fields: graphql.Fields{
		"critical": &graphql.Field{Type: graphql.Int},
		"high":     &graphql.Field{Type: graphql.Int},
		"medium":   &graphql.Field{Type: graphql.Int},
		"low":      &graphql.Field{Type: graphql.Int},
	},
})

// FixRateType represents the historical fix rate of one CWE family
var FixRateType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FixRate",
	Fields: graphql.Fields{
		"cwe_family": &graphql.Field{Type: graphql.String},
		"attempts":   &graphql.Field{Type: graphql.Int},
		"verified":   &graphql.Field{Type: graphql.Int},
		"rate":       &graphql.Field{Type: graphql.Float},
	},
})

// DispatchHistoryType represents the dispatch record of one fingerprint
var DispatchHistoryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "DispatchHistory",
	Fields: graphql.Fields{
		"fingerprint":          &graphql.Field{Type: graphql.String},
		"repo_url":             &graphql.Field{Type: graphql.String},
		"cwe_family":           &graphql.Field{Type: graphql.String},
		"dispatch_count":       &graphql.Field{Type: graphql.Int},
		"last_dispatched":      &graphql.Field{Type: graphql.String},
		"last_session_id":      &graphql.Field{Type: graphql.String},
		"last_outcome":         &graphql.Field{Type: graphql.String},
		"consecutive_failures": &graphql.Field{Type: graphql.Int},
		"needs_human_review":   &graphql.Field{Type: graphql.Boolean},
	},
})

// CycleSummaryType represents one row of the recent-cycles table
var CycleSummaryType = graphql.NewObject(graphql.ObjectConfig{
	Name: "CycleSummary",
	Fields: graphql.Fields{
		"cycle_id":    &graphql.Field{Type: graphql.String},
		"started_at":  &graphql.Field{Type: graphql.String},
		"finished_at": &graphql.Field{Type: graphql.String},
		"dispatched":  &graphql.Field{Type: graphql.Int},
		"skipped":     &graphql.Field{Type: graphql.Int},
		"deferred":    &graphql.Field{Type: graphql.Int},
		"halted":      &graphql.Field{Type: graphql.Boolean},
		"halt_reason": &graphql.Field{Type: graphql.String},
		"failed":      &graphql.Field{Type: graphql.Boolean},
	},
})

// ObjectiveProgressType represents open-issue counts against one objective
var ObjectiveProgressType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ObjectiveProgress",
	Fields: graphql.Fields{
		"name":            &graphql.Field{Type: graphql.String},
		"target_severity": &graphql.Field{Type: graphql.String},
		"target_count":    &graphql.Field{Type: graphql.Int},
		"open_count":      &graphql.Field{Type: graphql.Int},
		"met":             &graphql.Field{Type: graphql.Boolean},
	},
})
