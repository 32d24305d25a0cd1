// Package graphqlapi assembles the root GraphQL schema from the module
// query fields.
package graphqlapi

import (
	"github.com/graphql-go/graphql"

	"github.com/ortelius/avr-backend/graphql/modules/dashboard"
	"github.com/ortelius/avr-backend/internal/store"
)

// CreateSchema builds the root schema over the given store.
func CreateSchema(st store.Store) (graphql.Schema, error) {
	fields := graphql.Fields{}
	for name, field := range dashboard.GetQueryFields(st) {
		fields[name] = field
	}

	rootQuery := graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: fields,
	})

	return graphql.NewSchema(graphql.SchemaConfig{Query: rootQuery})
}
