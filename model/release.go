// Package model - Release defines the release document the metrics rollup reads and writes.
package model

import (
	"errors"
	"strings"
	"time"

	"github.com/ortelius/pdvd-rollup/util"
)

// ErrMissingOrg is returned when a document that must be org-scoped has no org.
var ErrMissingOrg = errors.New("org is required")

// ErrRevisionConflict is returned by stores when a conditional save loses to a
// concurrent writer.
var ErrRevisionConflict = errors.New("revision conflict")

// ParentRelease links a release to a product release it inherits findings from.
type ParentRelease struct {
	Release string `json:"release"`
}

// Release represents a release object stored in the database.
type Release struct {
	Key                  string          `json:"_key,omitempty"`
	ObjType              string          `json:"objtype,omitempty"`
	Org                  string          `json:"org"`
	Component            string          `json:"component,omitempty"`
	Branch               string          `json:"branch,omitempty"`
	Name                 string          `json:"name"`
	Version              string          `json:"version"`
	VersionMajor         *int            `json:"version_major,omitempty"`
	VersionMinor         *int            `json:"version_minor,omitempty"`
	VersionPatch         *int            `json:"version_patch,omitempty"`
	VersionPrerelease    string          `json:"version_prerelease,omitempty"`
	VersionBuildMetadata string          `json:"version_build_metadata,omitempty"`
	Artifacts            []string        `json:"artifacts,omitempty"`
	SourceCodeEntry      string          `json:"source_code_entry,omitempty"`
	ParentReleases       []ParentRelease `json:"parent_releases,omitempty"`
	Metrics              *Metrics        `json:"metrics,omitempty"`
	Revision             int64           `json:"revision"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// NewRelease creates a new Release with default values.
func NewRelease(org, component, name, version string) *Release {
	now := time.Now().UTC()
	r := &Release{
		ObjType:   "Release",
		Org:       util.NormalizeOrgName(org),
		Component: component,
		Name:      strings.TrimSpace(name),
		Version:   version,
		Artifacts: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.ParseAndSetVersion()
	return r
}

// Validate checks the fields every persisted release must carry.
func (r *Release) Validate() error {
	if strings.TrimSpace(r.Org) == "" {
		return ErrMissingOrg
	}
	return nil
}

// ParseAndSetVersion parses the version string into semver components.
func (r *Release) ParseAndSetVersion() {
	if r.Version == "" {
		return
	}

	cleanedVersion := util.CleanVersion(r.Version)
	r.Version = cleanedVersion

	if parsed := util.ParseSemver(cleanedVersion); parsed != nil {
		r.VersionMajor = parsed.Major
		r.VersionMinor = parsed.Minor
		r.VersionPatch = parsed.Patch
		r.VersionPrerelease = parsed.Prerelease
		r.VersionBuildMetadata = parsed.BuildMetadata
	}
}

// ParentKeys returns the keys of the parent releases, skipping empty links.
func (r *Release) ParentKeys() []string {
	keys := make([]string, 0, len(r.ParentReleases))
	for _, p := range r.ParentReleases {
		if p.Release != "" {
			keys = append(keys, p.Release)
		}
	}
	return keys
}
