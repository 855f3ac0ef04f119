package bom

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ortelius/pdvd-rollup/internal/telemetry"
	"github.com/ortelius/pdvd-rollup/model"
	"go.uber.org/zap"
)

// ErrMissingSerial is returned when storage yields no usable serial number.
var ErrMissingSerial = errors.New("bom storage returned no valid serial number")

// BomStore stores BOM content and reports its digest and serial.
type BomStore interface {
	Store(ctx context.Context, content []byte, opts StoreOptions, format model.BomFormat, org, existingSerial string) (*StorageResponse, error)
}

// DigestIndex finds an artifact already carrying a BOM digest.
type DigestIndex interface {
	FindArtifactByDigest(ctx context.Context, org, digest string) (*model.Artifact, error)
}

// BomRequest is one BOM to ingest. Artifact is the artifact the BOM belongs
// to, if it already exists.
type BomRequest struct {
	Content        []byte
	Options        StoreOptions
	Format         model.BomFormat
	Org            string
	Artifact       *model.Artifact
	ExistingSerial string
}

// BomLifecycleResult is the outcome of ProcessBomArtifact. The caller decides
// what to do with a duplicate.
type BomLifecycleResult struct {
	Storage         StorageResponse
	InternalBomID   uuid.UUID
	DuplicateOf     *model.Artifact
	WasDeduplicated bool
}

// Coordinator stores BOMs and flags duplicates by digest.
type Coordinator struct {
	store  BomStore
	index  DigestIndex
	logger *zap.Logger
}

// NewCoordinator returns a Coordinator.
func NewCoordinator(store BomStore, index DigestIndex, logger *zap.Logger) *Coordinator {
	return &Coordinator{store: store, index: index, logger: logger}
}

// ProcessBomArtifact stores the BOM and looks for another artifact of the
// same org with the same digest. Storage and serial failures abort; digest
// lookup failures are logged and reported as no duplicate.
func (c *Coordinator) ProcessBomArtifact(ctx context.Context, req BomRequest) (*BomLifecycleResult, error) {
	if req.Org == "" {
		return nil, model.ErrMissingOrg
	}

	existingSerial := req.ExistingSerial
	if existingSerial == "" && req.Artifact != nil && req.Artifact.InternalBom != nil {
		existingSerial = req.Artifact.InternalBom.Serial
	}

	storage, err := c.store.Store(ctx, req.Content, req.Options, req.Format, req.Org, existingSerial)
	if err != nil {
		telemetry.BomDedupTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to store bom: %w", err)
	}

	internalID, err := ParseInternalBomID(storage.Serial)
	if err != nil {
		c.logger.Sugar().Errorf("BOM stored under digest %s has no valid serial: %v", storage.Digest, err)
		telemetry.BomDedupTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &BomLifecycleResult{Storage: *storage, InternalBomID: internalID}

	if dup := c.findDeduplicatedArtifact(ctx, req, storage.Digest); dup != nil {
		result.DuplicateOf = dup
		result.WasDeduplicated = true
		telemetry.BomDedupTotal.WithLabelValues("duplicate").Inc()
		c.logger.Sugar().Infof("BOM digest %s in org %s duplicates artifact %s", storage.Digest, req.Org, dup.Key)
		return result, nil
	}

	telemetry.BomDedupTotal.WithLabelValues("unique").Inc()
	return result, nil
}

func (c *Coordinator) findDeduplicatedArtifact(ctx context.Context, req BomRequest, digest string) *model.Artifact {
	if digest == "" {
		return nil
	}
	found, err := c.index.FindArtifactByDigest(ctx, req.Org, digest)
	if err != nil {
		c.logger.Sugar().Warnf("Digest lookup for %s in org %s failed, treating as unique: %v", digest, req.Org, err)
		return nil
	}
	if found == nil || (req.Artifact != nil && found.Key == req.Artifact.Key) {
		return nil
	}
	return found
}
