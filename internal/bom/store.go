package bom

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ortelius/pdvd-rollup/model"
)

// StoreOptions carries caller overrides recorded with the stored BOM.
type StoreOptions struct {
	Name    string `json:"name,omitempty"`
	Group   string `json:"group,omitempty"`
	Version string `json:"version,omitempty"`
}

// StorageResponse describes where a BOM was stored.
type StorageResponse struct {
	Digest    string `json:"digest"`
	Serial    string `json:"serial"`
	RecordKey string `json:"record_key"`
}

// RecordSaver persists normalized BOM records.
type RecordSaver interface {
	SaveBomRecord(ctx context.Context, rec model.BomRecord) (*model.BomRecord, error)
}

// ContentStore is the BomStore used in production: it digests the content
// and saves it as a BomRecord keyed by org and digest.
type ContentStore struct {
	saver RecordSaver
}

var _ BomStore = (*ContentStore)(nil)

// NewContentStore returns a ContentStore writing through saver.
func NewContentStore(saver RecordSaver) *ContentStore {
	return &ContentStore{saver: saver}
}

// Store digests and saves content. The serial is existingSerial when it is a
// valid urn:uuid, else the BOM's own serialNumber if valid, else a fresh one. When a record with
// the same digest already exists its serial is returned instead.
func (s *ContentStore) Store(ctx context.Context, content []byte, opts StoreOptions, format model.BomFormat, org, existingSerial string) (*StorageResponse, error) {
	digest, doc, err := ComputeDigest(content, format)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = DetectFormat(doc)
	}

	serial := existingSerial
	if !validSerial(serial) {
		serial, _ = doc["serialNumber"].(string)
	}
	if !validSerial(serial) {
		serial = "urn:uuid:" + uuid.NewString()
	}

	saved, err := s.saver.SaveBomRecord(ctx, model.BomRecord{
		Org:     org,
		Digest:  digest,
		Serial:  serial,
		Format:  format,
		Name:    opts.Name,
		Group:   opts.Group,
		Version: opts.Version,
		Bom:     doc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store bom: %w", err)
	}
	return &StorageResponse{Digest: saved.Digest, Serial: saved.Serial, RecordKey: saved.Key}, nil
}

// ParseInternalBomID extracts the uuid from a "urn:uuid:" serial number.
func ParseInternalBomID(serial string) (uuid.UUID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(serial), "urn:uuid:")
	if trimmed == "" {
		return uuid.Nil, ErrMissingSerial
	}
	id, err := uuid.Parse(trimmed)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a uuid", ErrMissingSerial, serial)
	}
	return id, nil
}

func validSerial(serial string) bool {
	_, err := ParseInternalBomID(serial)
	return err == nil
}
