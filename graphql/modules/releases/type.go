// Package releases defines the GraphQL types and queries for release metrics.
package releases

import (
	"github.com/graphql-go/graphql"
)

// FindingSourceType is an artifact, release or variant a finding came from.
var FindingSourceType = graphql.NewObject(graphql.ObjectConfig{
	Name: "FindingSource",
	Fields: graphql.Fields{
		"artifact":       &graphql.Field{Type: graphql.String},
		"release":        &graphql.Field{Type: graphql.String},
		"variant":        &graphql.Field{Type: graphql.String},
		"analysis_state": &graphql.Field{Type: graphql.String},
		"analysis_date":  &graphql.Field{Type: graphql.String},
	},
})

// AliasType is an alternate identifier of a vulnerability.
var AliasType = graphql.NewObject(graphql.ObjectConfig{
	Name: "VulnerabilityAlias",
	Fields: graphql.Fields{
		"type":     &graphql.Field{Type: graphql.String},
		"alias_id": &graphql.Field{Type: graphql.String},
	},
})

// SeverityRecordType is a severity as reported by one source.
var SeverityRecordType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SeverityRecord",
	Fields: graphql.Fields{
		"source":   &graphql.Field{Type: graphql.String},
		"severity": &graphql.Field{Type: graphql.String},
	},
})

// VulnerabilityFindingType is a vulnerability on one package.
var VulnerabilityFindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "VulnerabilityFinding",
	Fields: graphql.Fields{
		"purl":           &graphql.Field{Type: graphql.String},
		"vuln_id":        &graphql.Field{Type: graphql.String},
		"severity":       &graphql.Field{Type: graphql.String},
		"aliases":        &graphql.Field{Type: graphql.NewList(AliasType)},
		"sources":        &graphql.Field{Type: graphql.NewList(FindingSourceType)},
		"severities":     &graphql.Field{Type: graphql.NewList(SeverityRecordType)},
		"analysis_state": &graphql.Field{Type: graphql.String},
		"analysis_date":  &graphql.Field{Type: graphql.String},
		"attributed_at":  &graphql.Field{Type: graphql.String},
	},
})

// ViolationFindingType is a policy violation on one package.
var ViolationFindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ViolationFinding",
	Fields: graphql.Fields{
		"purl":              &graphql.Field{Type: graphql.String},
		"type":              &graphql.Field{Type: graphql.String},
		"license":           &graphql.Field{Type: graphql.String},
		"violation_details": &graphql.Field{Type: graphql.String},
		"sources":           &graphql.Field{Type: graphql.NewList(FindingSourceType)},
		"analysis_state":    &graphql.Field{Type: graphql.String},
		"analysis_date":     &graphql.Field{Type: graphql.String},
		"attributed_at":     &graphql.Field{Type: graphql.String},
	},
})

// WeaknessFindingType is a code weakness.
var WeaknessFindingType = graphql.NewObject(graphql.ObjectConfig{
	Name: "WeaknessFinding",
	Fields: graphql.Fields{
		"cwe_id":         &graphql.Field{Type: graphql.String},
		"rule_id":        &graphql.Field{Type: graphql.String},
		"location":       &graphql.Field{Type: graphql.String},
		"fingerprint":    &graphql.Field{Type: graphql.String},
		"severity":       &graphql.Field{Type: graphql.String},
		"sources":        &graphql.Field{Type: graphql.NewList(FindingSourceType)},
		"analysis_state": &graphql.Field{Type: graphql.String},
		"analysis_date":  &graphql.Field{Type: graphql.String},
		"attributed_at":  &graphql.Field{Type: graphql.String},
	},
})

// MetricsType is the findings document of a release.
var MetricsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ReleaseMetrics",
	Fields: graphql.Fields{
		"critical":                            &graphql.Field{Type: graphql.Int},
		"high":                                &graphql.Field{Type: graphql.Int},
		"medium":                              &graphql.Field{Type: graphql.Int},
		"low":                                 &graphql.Field{Type: graphql.Int},
		"unassigned":                          &graphql.Field{Type: graphql.Int},
		"vulnerabilities":                     &graphql.Field{Type: graphql.Int},
		"weaknesses":                          &graphql.Field{Type: graphql.Int},
		"suppressed":                          &graphql.Field{Type: graphql.Int},
		"policy_violations_security_total":    &graphql.Field{Type: graphql.Int},
		"policy_violations_license_total":     &graphql.Field{Type: graphql.Int},
		"policy_violations_operational_total": &graphql.Field{Type: graphql.Int},
		"policy_violations_total":             &graphql.Field{Type: graphql.Int},
		"last_scanned":                        &graphql.Field{Type: graphql.String},
		"vulnerability_details":               &graphql.Field{Type: graphql.NewList(VulnerabilityFindingType)},
		"violation_details":                   &graphql.Field{Type: graphql.NewList(ViolationFindingType)},
		"weakness_details":                    &graphql.Field{Type: graphql.NewList(WeaknessFindingType)},
	},
})

// ReleaseType is a release with its rolled-up metrics.
var ReleaseType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Release",
	Fields: graphql.Fields{
		"_key":      &graphql.Field{Type: graphql.String},
		"org":       &graphql.Field{Type: graphql.String},
		"component": &graphql.Field{Type: graphql.String},
		"branch":    &graphql.Field{Type: graphql.String},
		"name":      &graphql.Field{Type: graphql.String},
		"version":   &graphql.Field{Type: graphql.String},
		"revision":  &graphql.Field{Type: graphql.Int},
		"artifacts": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"parent_releases": &graphql.Field{
			Type: graphql.NewList(graphql.String),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				src, _ := p.Source.(map[string]interface{})
				return parentKeys(src), nil
			},
		},
		"metrics": &graphql.Field{Type: MetricsType},
	},
})

// RollupResultType reports the outcome of a rollup mutation.
var RollupResultType = graphql.NewObject(graphql.ObjectConfig{
	Name: "RollupResult",
	Fields: graphql.Fields{
		"written": &graphql.Field{Type: graphql.Boolean},
		"release": &graphql.Field{Type: ReleaseType},
	},
})
