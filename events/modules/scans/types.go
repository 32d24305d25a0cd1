// Package scan defines types for Kafka event processing of analyzer scan events.
package scan

import (
	"time"

	"github.com/ortelius/avr-backend/model"
)

// ScanCompletedEvent represents a completed analyzer run published to Kafka.
type ScanCompletedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	RepoURL   string    `json:"repo_url"`
	ScannedAt time.Time `json:"scanned_at"`

	// Findings carries the analyzer output inline. SourceLines optionally
	// maps file -> line number -> source text so fingerprinting can use the
	// strongest tier.
	Findings    []model.RawFinding        `json:"findings"`
	SourceLines map[string]map[int]string `json:"source_lines,omitempty"`
}

// CycleCompletedEvent announces a finished orchestrator cycle downstream.
type CycleCompletedEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`

	Report *model.CycleReport `json:"report"`
}
