// Package scan handles Kafka event processing for analyzer scan events.
package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ortelius/avr-backend/model"
)

// ScanIngester defines the interface for scan ingestion operations.
type ScanIngester interface {
	IngestFindings(ctx context.Context, repoURL string, scannedAt time.Time, findings []model.RawFinding, lines map[string]map[int]string) (*model.Scan, error)
}

// HandleScanCompleted processes scan.completed events from Kafka. The event
// carries the findings inline; ingestion delegates to the same service the
// REST API uses so both paths fingerprint identically.
func HandleScanCompleted(ctx context.Context, msg []byte, ingester ScanIngester) error {
	var event ScanCompletedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal ScanCompletedEvent: %w", err)
	}

	if event.RepoURL == "" {
		return fmt.Errorf("invalid event: missing repo_url")
	}

	scannedAt := event.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = event.EventTime
	}

	if _, err := ingester.IngestFindings(ctx, event.RepoURL, scannedAt, event.Findings, event.SourceLines); err != nil {
		return fmt.Errorf("scan ingestion failed for %s: %w", event.RepoURL, err)
	}
	return nil
}
