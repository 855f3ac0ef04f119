package bom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
)

// ArtifactStore is what ingestion needs to update the target artifact.
type ArtifactStore interface {
	GetArtifact(ctx context.Context, key string) (*model.Artifact, error)
	AttachBom(ctx context.Context, artifactKey, digest string, format model.BomFormat, internal model.InternalBom) error
	CopyArtifactMetrics(ctx context.Context, targetKey, sourceKey string) error
}

// ScanNotifier announces that an artifact's findings changed.
type ScanNotifier interface {
	PublishArtifactScanned(ctx context.Context, org, artifactKey string, scannedAt time.Time) error
}

// IngestResult is returned to API callers after a BOM upload.
type IngestResult struct {
	ArtifactKey     string `json:"artifact"`
	Digest          string `json:"digest"`
	Serial          string `json:"serial"`
	InternalBomID   string `json:"internal_bom_id"`
	WasDeduplicated bool   `json:"was_deduplicated"`
	DuplicateOf     string `json:"duplicate_of,omitempty"`
}

// Ingestor runs BOM uploads end to end: store and dedup through the
// Coordinator, attach the BOM to the artifact, reuse the findings of a
// duplicate and announce the change.
type Ingestor struct {
	coordinator *Coordinator
	artifacts   ArtifactStore
	notifier    ScanNotifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewIngestor returns an Ingestor. notifier may be nil.
func NewIngestor(coordinator *Coordinator, artifacts ArtifactStore, notifier ScanNotifier, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		coordinator: coordinator,
		artifacts:   artifacts,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// ErrArtifactNotFound is returned when the target artifact does not exist.
var ErrArtifactNotFound = errors.New("artifact not found")

// Ingest uploads content as the BOM of artifactKey.
func (i *Ingestor) Ingest(ctx context.Context, artifactKey string, content []byte, format model.BomFormat, opts StoreOptions) (*IngestResult, error) {
	artifact, err := i.artifacts.GetArtifact(ctx, artifactKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", artifactKey, err)
	}
	if artifact == nil {
		return nil, ErrArtifactNotFound
	}
	if format == "" {
		format = artifact.BomFormat
	}

	res, err := i.coordinator.ProcessBomArtifact(ctx, BomRequest{
		Content:  content,
		Options:  opts,
		Format:   format,
		Org:      artifact.Org,
		Artifact: artifact,
	})
	if err != nil {
		return nil, err
	}

	internal := model.InternalBom{ID: res.InternalBomID.String(), Serial: res.Storage.Serial}
	if err := i.artifacts.AttachBom(ctx, artifact.Key, res.Storage.Digest, format, internal); err != nil {
		return nil, fmt.Errorf("failed to attach bom to artifact %s: %w", artifact.Key, err)
	}

	out := &IngestResult{
		ArtifactKey:     artifact.Key,
		Digest:          res.Storage.Digest,
		Serial:          res.Storage.Serial,
		InternalBomID:   internal.ID,
		WasDeduplicated: res.WasDeduplicated,
	}
	if !res.WasDeduplicated {
		return out, nil
	}

	out.DuplicateOf = res.DuplicateOf.Key
	if res.DuplicateOf.Metrics != nil {
		if err := i.artifacts.CopyArtifactMetrics(ctx, artifact.Key, res.DuplicateOf.Key); err != nil {
			return nil, fmt.Errorf("failed to reuse findings of %s: %w", res.DuplicateOf.Key, err)
		}
		if i.notifier != nil {
			if err := i.notifier.PublishArtifactScanned(ctx, artifact.Org, artifact.Key, i.now().UTC()); err != nil {
				i.logger.Sugar().Warnf("Failed to announce reused findings for artifact %s: %v", artifact.Key, err)
			}
		}
	}
	return out, nil
}
