package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
)

// RollupService runs the rollups an event asks for.
type RollupService interface {
	RescanReleasesForArtifact(ctx context.Context, artifactKey string, scannedAt time.Time) (int, error)
	ReevaluateScope(ctx context.Context, org string, scope model.AnalysisScope, scopeKey string) (int, error)
}

// HandleEvent decodes msg and routes it by event_type. Unknown event types
// are logged and dropped.
func HandleEvent(ctx context.Context, msg []byte, service RollupService, logger *zap.Logger) error {
	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	switch env.EventType {
	case EventArtifactScanned:
		return HandleArtifactScannedWithService(ctx, msg, service, logger)
	case EventAnalysisChanged:
		return HandleAnalysisChangedWithService(ctx, msg, service, logger)
	default:
		logger.Sugar().Debugf("Ignoring event %s of type %q", env.EventID, env.EventType)
		return nil
	}
}

// HandleArtifactScannedWithService rescans every release referencing the
// scanned artifact.
func HandleArtifactScannedWithService(ctx context.Context, msg []byte, service RollupService, logger *zap.Logger) error {
	var event ArtifactScannedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal ArtifactScannedEvent: %w", err)
	}
	if event.Artifact == "" {
		return fmt.Errorf("invalid event %s: missing artifact", event.EventID)
	}

	scannedAt := event.ScannedAt
	if scannedAt.IsZero() {
		scannedAt = event.EventTime
	}

	n, err := service.RescanReleasesForArtifact(ctx, event.Artifact, scannedAt)
	if err != nil {
		return fmt.Errorf("rescan for artifact %s failed: %w", event.Artifact, err)
	}
	logger.Sugar().Infof("Artifact %s scanned, rescanned %d releases", event.Artifact, n)
	return nil
}

// HandleAnalysisChangedWithService re-evaluates the releases under the
// changed analysis scope.
func HandleAnalysisChangedWithService(ctx context.Context, msg []byte, service RollupService, logger *zap.Logger) error {
	var event AnalysisChangedEvent
	if err := json.Unmarshal(msg, &event); err != nil {
		return fmt.Errorf("failed to unmarshal AnalysisChangedEvent: %w", err)
	}
	if event.Org == "" {
		return fmt.Errorf("invalid event %s: %w", event.EventID, model.ErrMissingOrg)
	}
	if event.Scope == "" {
		event.Scope = model.ScopeOrg
		event.ScopeKey = event.Org
	}

	n, err := service.ReevaluateScope(ctx, event.Org, event.Scope, event.ScopeKey)
	if err != nil {
		return fmt.Errorf("re-evaluation of %s %s failed: %w", event.Scope, event.ScopeKey, err)
	}
	logger.Sugar().Infof("Analysis changed at %s %s, re-evaluated %d releases", event.Scope, event.ScopeKey, n)
	return nil
}
