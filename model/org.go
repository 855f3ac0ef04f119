// Package model defines the data structures for organization scoping of releases and findings.
package model

import "time"

// Org represents an organization. Every release, component and analysis
// record belongs to exactly one org.
type Org struct {
	Key         string    `json:"_key,omitempty"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name,omitempty"`
	Status      Status    `json:"status,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Archived reports whether sweeps should skip the org.
func (o Org) Archived() bool {
	return o.Status == StatusArchived
}
