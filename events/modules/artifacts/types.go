// Package artifacts defines the Kafka events that trigger release metrics
// rollups: artifact scans landing and analysis decisions changing.
package artifacts

import (
	"time"

	"github.com/ortelius/pdvd-rollup/model"
)

// Event types carried in the event_type field.
const (
	EventArtifactScanned = "artifact.scanned"
	EventAnalysisChanged = "analysis.changed"
)

// Envelope holds the fields shared by every event and is decoded first to
// route the message.
type Envelope struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EventTime     time.Time `json:"event_time"`
	SchemaVersion string    `json:"schema_version"`
}

// ArtifactScannedEvent announces fresh findings on an artifact. Every release
// referencing the artifact is rescanned with ScannedAt as the scan time.
type ArtifactScannedEvent struct {
	Envelope

	Org       string    `json:"org"`
	Artifact  string    `json:"artifact"`
	ScannedAt time.Time `json:"scanned_at"`
}

// AnalysisChangedEvent announces a changed triage decision. Releases under
// the scope are re-evaluated without re-gathering findings.
type AnalysisChangedEvent struct {
	Envelope

	Org      string              `json:"org"`
	Scope    model.AnalysisScope `json:"scope"`
	ScopeKey string              `json:"scope_key"`
}
