// Package dashboard defines the GraphQL queries for the dashboard.
package dashboard

import (
	"github.com/graphql-go/graphql"

	"github.com/ortelius/avr-backend/internal/store"
)

// GetQueryFields returns the dashboard queries to be mounted in the root schema
func GetQueryFields(st store.Store) graphql.Fields {
	return graphql.Fields{
		// Section 1: Top Cards (Overview)
		"dashboardOverview": &graphql.Field{
			Type: OverviewType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveOverview(p.Context, st)
			},
		},
		// Section 2: Charts (Severity)
		"dashboardSeverity": &graphql.Field{
			Type: SeverityDistributionType,
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveSeverityDistribution(p.Context, st)
			},
		},
		// Section 3: Feasibility statistics per CWE family
		"dashboardFixRates": &graphql.Field{
			Type: graphql.NewList(FixRateType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveFixRates(p.Context, st)
			},
		},
		// Section 4: Drill-down on one fingerprint's dispatch record
		"dispatchHistory": &graphql.Field{
			Type: DispatchHistoryType,
			Args: graphql.FieldConfigArgument{
				"fingerprint": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				fingerprint := p.Args["fingerprint"].(string)
				return ResolveDispatchHistory(p.Context, st, fingerprint)
			},
		},
		// Section 5: Recent cycles table
		"recentCycles": &graphql.Field{
			Type: graphql.NewList(CycleSummaryType),
			Args: graphql.FieldConfigArgument{
				"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
			},
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				limit := p.Args["limit"].(int)
				return ResolveRecentCycles(p.Context, st, limit)
			},
		},
		// Section 6: Fleet objectives
		"objectiveProgress": &graphql.Field{
			Type: graphql.NewList(ObjectiveProgressType),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				return ResolveObjectiveProgress(p.Context, st)
			},
		},
	}
}
