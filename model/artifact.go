// Package model - Artifact and its containers (variants, deliverables, source code entries).
package model

import "time"

// BomFormat is the serialization format of a stored BOM.
type BomFormat string

// Supported BOM formats.
const (
	BomFormatCycloneDX BomFormat = "CYCLONEDX"
	BomFormatSPDX      BomFormat = "SPDX"
)

// InternalBom identifies the stored, normalized copy of an artifact's BOM.
type InternalBom struct {
	ID     string `json:"id"`
	Serial string `json:"serial,omitempty"`
}

// Artifact is a build output (BOM, image, scan report) carrying its own findings.
type Artifact struct {
	Key         string       `json:"_key,omitempty"`
	Org         string       `json:"org"`
	Type        string       `json:"type,omitempty"`
	Digests     []string     `json:"digests,omitempty"`
	BomFormat   BomFormat    `json:"bom_format,omitempty"`
	InternalBom *InternalBom `json:"internal_bom,omitempty"`
	Metrics     *Metrics     `json:"metrics,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Deliverable is a shippable unit of a release variant.
type Deliverable struct {
	Key       string   `json:"_key,omitempty"`
	Org       string   `json:"org"`
	Name      string   `json:"name,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
}

// Variant is a flavor of a release referencing the deliverables it ships.
type Variant struct {
	Key                  string   `json:"_key,omitempty"`
	Release              string   `json:"release"`
	OutboundDeliverables []string `json:"outbound_deliverables,omitempty"`
}

// SCEArtifact is an artifact attached to a source code entry, scoped to a component.
type SCEArtifact struct {
	Artifact  string `json:"artifact"`
	Component string `json:"component"`
}

// SourceCodeEntry is the commit a release was built from.
type SourceCodeEntry struct {
	Key       string        `json:"_key,omitempty"`
	Org       string        `json:"org"`
	Commit    string        `json:"commit,omitempty"`
	Artifacts []SCEArtifact `json:"artifacts,omitempty"`
}

// BomRecord is the stored, normalized copy of a BOM, shared by every artifact
// whose BOM has the same digest within an org.
type BomRecord struct {
	Key       string      `json:"_key,omitempty"`
	Org       string      `json:"org"`
	Digest    string      `json:"digest"`
	Serial    string      `json:"serial"`
	Format    BomFormat   `json:"format"`
	Name      string      `json:"name,omitempty"`
	Group     string      `json:"group,omitempty"`
	Version   string      `json:"version,omitempty"`
	Bom       interface{} `json:"bom"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}
