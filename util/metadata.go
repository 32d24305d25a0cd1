// Package util provides utility functions for the backend.
package util

import (
	"context"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/ortelius/avr-backend/database"
)

// IngestMetadata stores the high-water mark for scan feed ingestion per repo
type IngestMetadata struct {
	Key          string `json:"_key"`          // sanitized repo URL
	LastIngested string `json:"last_ingested"` // RFC3339 Timestamp
	Type         string `json:"type"`          // "ingest_metadata"
}

// GetLastIngest retrieves the timestamp of the last ingested scan for a repo
func GetLastIngest(db database.DBConnection, repoURL string) (time.Time, error) {
	key := SanitizeKey(repoURL)
	if key == "" {
		return time.Time{}, nil
	}

	ctx := context.Background()
	query := `RETURN DOCUMENT("metadata", @key)`
	bindVars := map[string]interface{}{"key": key}

	cursor, err := db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	if err != nil {
		return time.Time{}, nil
	}
	defer cursor.Close()

	var meta IngestMetadata
	if _, err := cursor.ReadDocument(ctx, &meta); err != nil {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339, meta.LastIngested)
}

// SaveLastIngest updates the timestamp after a successful scan ingestion
func SaveLastIngest(db database.DBConnection, repoURL string, lastIngested time.Time) error {
	key := SanitizeKey(repoURL)

	// Final safety check to prevent empty keys
	if key == "" {
		return fmt.Errorf("cannot save last ingest for empty repo key (original: %s)", repoURL)
	}

	ctx := context.Background()
	query := `
		UPSERT { _key: @key }
		INSERT { _key: @key, last_ingested: @time, type: "ingest_metadata" }
		UPDATE { last_ingested: @time }
		IN metadata
	`

	bindVars := map[string]interface{}{
		"key":  key,
		"time": lastIngested.Format(time.RFC3339),
	}

	_, err := db.Database.Query(ctx, query, &arangodb.QueryOptions{BindVars: bindVars})
	return err
}
