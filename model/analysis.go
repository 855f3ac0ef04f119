// Package model - VulnAnalysis records triage decisions applied to findings during the analysis pass.
package model

import "time"

// AnalysisScope is the level a triage decision applies to.
type AnalysisScope string

// Analysis scopes, most specific first.
const (
	ScopeRelease   AnalysisScope = "RELEASE"
	ScopeBranch    AnalysisScope = "BRANCH"
	ScopeComponent AnalysisScope = "COMPONENT"
	ScopeOrg       AnalysisScope = "ORG"
)

// ScopePriority is the lookup order for analysis records.
var ScopePriority = []AnalysisScope{ScopeRelease, ScopeBranch, ScopeComponent, ScopeOrg}

// Valid reports whether s is one of the known scopes.
func (s AnalysisScope) Valid() bool {
	for _, known := range ScopePriority {
		if s == known {
			return true
		}
	}
	return false
}

// FindingType names the finding collection an analysis applies to.
type FindingType string

// Finding types.
const (
	FindingVulnerability FindingType = "VULNERABILITY"
	FindingViolation     FindingType = "VIOLATION"
	FindingWeakness      FindingType = "WEAKNESS"
)

// VulnAnalysis is a stored triage decision for one finding at one scope.
type VulnAnalysis struct {
	Key            string               `json:"_key,omitempty"`
	Org            string               `json:"org"`
	Scope          AnalysisScope        `json:"scope"`
	ScopeKey       string               `json:"scope_key"`
	Location       string               `json:"location"`
	FindingID      string               `json:"finding_id"`
	FindingType    FindingType          `json:"finding_type"`
	AnalysisState  AnalysisState        `json:"analysis_state"`
	Severity       Severity             `json:"severity,omitempty"`
	FindingAliases []VulnerabilityAlias `json:"finding_aliases,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}
