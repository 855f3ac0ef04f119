// Package model - Metrics defines the release/artifact findings document and the
// merge-by-content rules used when rolling findings up into a release.
package model

import (
	"sort"
	"strings"
	"time"
)

// Severity is the classified severity of a vulnerability or weakness.
type Severity string

// Severity values, ordered from most to least severe.
const (
	SeverityCritical   Severity = "CRITICAL"
	SeverityHigh       Severity = "HIGH"
	SeverityMedium     Severity = "MEDIUM"
	SeverityLow        Severity = "LOW"
	SeverityUnassigned Severity = "UNASSIGNED"
)

// ViolationType classifies a policy violation.
type ViolationType string

// Policy violation types.
const (
	ViolationLicense     ViolationType = "LICENSE"
	ViolationSecurity    ViolationType = "SECURITY"
	ViolationOperational ViolationType = "OPERATIONAL"
)

// AnalysisState is the triage state assigned to a finding by an analysis record.
type AnalysisState string

// Analysis states.
const (
	AnalysisExploitable   AnalysisState = "EXPLOITABLE"
	AnalysisInTriage      AnalysisState = "IN_TRIAGE"
	AnalysisFalsePositive AnalysisState = "FALSE_POSITIVE"
	AnalysisNotAffected   AnalysisState = "NOT_AFFECTED"
	AnalysisResolved      AnalysisState = "RESOLVED"
)

// Suppressed reports whether findings in this state are excluded from counters.
func (s AnalysisState) Suppressed() bool {
	return s == AnalysisFalsePositive || s == AnalysisNotAffected
}

// SeveritySource names where a severity rating came from.
type SeveritySource string

// Severity sources, see SelectBestSeverity for precedence.
const (
	SeveritySourceNVD      SeveritySource = "NVD"
	SeveritySourceGHSA     SeveritySource = "GHSA"
	SeveritySourceAnalysis SeveritySource = "ANALYSIS"
	SeveritySourceOther    SeveritySource = "OTHER"
)

// FindingSource records an artifact/release/variant that contributed a finding.
type FindingSource struct {
	Artifact      string        `json:"artifact,omitempty"`
	Release       string        `json:"release,omitempty"`
	Variant       string        `json:"variant,omitempty"`
	AnalysisState AnalysisState `json:"analysis_state,omitempty"`
	AnalysisDate  *time.Time    `json:"analysis_date,omitempty"`
}

func (s FindingSource) key() string {
	return s.Artifact + "|" + s.Release + "|" + s.Variant + "|" + string(s.AnalysisState) + "|" + timeKey(s.AnalysisDate)
}

// VulnerabilityAlias is an alternate identifier of the same vulnerability.
type VulnerabilityAlias struct {
	Type    AliasType `json:"type"`
	AliasID string    `json:"alias_id"`
}

// SeverityRecord is a severity rating as reported by one source.
type SeverityRecord struct {
	Source   SeveritySource `json:"source"`
	Severity Severity       `json:"severity"`
}

// VulnerabilityFinding is a vulnerability affecting one package.
type VulnerabilityFinding struct {
	Purl          string               `json:"purl"`
	VulnID        string               `json:"vuln_id"`
	Severity      Severity             `json:"severity"`
	Aliases       []VulnerabilityAlias `json:"aliases,omitempty"`
	Sources       []FindingSource      `json:"sources,omitempty"`
	Severities    []SeverityRecord     `json:"severities,omitempty"`
	AnalysisState AnalysisState        `json:"analysis_state,omitempty"`
	AnalysisDate  *time.Time           `json:"analysis_date,omitempty"`
	AttributedAt  *time.Time           `json:"attributed_at,omitempty"`
}

// Identity is the merge key of a vulnerability finding.
func (v VulnerabilityFinding) Identity() string {
	return v.Purl + "|" + v.VulnID
}

// ViolationFinding is a policy violation raised against one package.
type ViolationFinding struct {
	Purl          string          `json:"purl"`
	Type          ViolationType   `json:"type"`
	License       string          `json:"license,omitempty"`
	Details       string          `json:"violation_details,omitempty"`
	Sources       []FindingSource `json:"sources,omitempty"`
	AnalysisState AnalysisState   `json:"analysis_state,omitempty"`
	AnalysisDate  *time.Time      `json:"analysis_date,omitempty"`
	AttributedAt  *time.Time      `json:"attributed_at,omitempty"`
}

// Identity is the merge key of a violation finding.
func (v ViolationFinding) Identity() string {
	return v.Purl + "|" + string(v.Type)
}

// WeaknessFinding is a code weakness, usually parsed from SARIF.
type WeaknessFinding struct {
	CweID         string          `json:"cwe_id,omitempty"`
	RuleID        string          `json:"rule_id,omitempty"`
	Location      string          `json:"location,omitempty"`
	Fingerprint   string          `json:"fingerprint"`
	Severity      Severity        `json:"severity"`
	Sources       []FindingSource `json:"sources,omitempty"`
	AnalysisState AnalysisState   `json:"analysis_state,omitempty"`
	AnalysisDate  *time.Time      `json:"analysis_date,omitempty"`
	AttributedAt  *time.Time      `json:"attributed_at,omitempty"`
}

// Identity is the merge key of a weakness finding. Weaknesses without a
// fingerprint fall back to rule and location.
func (w WeaknessFinding) Identity() string {
	if w.Fingerprint != "" {
		return w.Fingerprint
	}
	return w.CweID + "|" + w.RuleID + "|" + w.Location
}

// Counters are the summary counts derived from the finding collections.
type Counters struct {
	Critical                      int `json:"critical"`
	High                          int `json:"high"`
	Medium                        int `json:"medium"`
	Low                           int `json:"low"`
	Unassigned                    int `json:"unassigned"`
	Vulnerabilities               int `json:"vulnerabilities"`
	Weaknesses                    int `json:"weaknesses"`
	Suppressed                    int `json:"suppressed"`
	PolicyViolationsSecurityTotal int `json:"policy_violations_security_total"`
	PolicyViolationsLicenseTotal  int `json:"policy_violations_license_total"`
	PolicyViolationsOperational   int `json:"policy_violations_operational_total"`
	PolicyViolationsTotal         int `json:"policy_violations_total"`
}

// Metrics is the findings document attached to releases and artifacts.
type Metrics struct {
	Counters
	LastScanned     *time.Time             `json:"last_scanned,omitempty"`
	Vulnerabilities []VulnerabilityFinding `json:"vulnerability_details"`
	Violations      []ViolationFinding     `json:"violation_details"`
	Weaknesses      []WeaknessFinding      `json:"weakness_details"`
}

// NewMetrics returns an empty metrics document.
func NewMetrics() *Metrics {
	return &Metrics{
		Vulnerabilities: []VulnerabilityFinding{},
		Violations:      []ViolationFinding{},
		Weaknesses:      []WeaknessFinding{},
	}
}

// Clone returns a deep copy; mutating the clone never touches m.
func (m *Metrics) Clone() *Metrics {
	if m == nil {
		return nil
	}
	c := &Metrics{Counters: m.Counters, LastScanned: copyTime(m.LastScanned)}
	c.Vulnerabilities = make([]VulnerabilityFinding, len(m.Vulnerabilities))
	for i, v := range m.Vulnerabilities {
		c.Vulnerabilities[i] = v.clone()
	}
	c.Violations = make([]ViolationFinding, len(m.Violations))
	for i, v := range m.Violations {
		c.Violations[i] = v.clone()
	}
	c.Weaknesses = make([]WeaknessFinding, len(m.Weaknesses))
	for i, w := range m.Weaknesses {
		c.Weaknesses[i] = w.clone()
	}
	return c
}

// MergeWithByContent unions other's findings into m by identity, keeping the
// earliest attributed-at and the union of sources, then re-derives counters.
func (m *Metrics) MergeWithByContent(other *Metrics) {
	if other == nil {
		return
	}
	m.Vulnerabilities = mergeByIdentity(m.Vulnerabilities, other.Vulnerabilities,
		VulnerabilityFinding.Identity, VulnerabilityFinding.clone, combineVulnerabilities)
	m.Violations = mergeByIdentity(m.Violations, other.Violations,
		ViolationFinding.Identity, ViolationFinding.clone, combineViolations)
	m.Weaknesses = mergeByIdentity(m.Weaknesses, other.Weaknesses,
		WeaknessFinding.Identity, WeaknessFinding.clone, combineWeaknesses)
	m.ComputeMetricsFromFacts()
}

// DeduplicateViolations collapses violations sharing an identity.
func (m *Metrics) DeduplicateViolations() {
	m.Violations = mergeByIdentity(m.Violations, nil,
		ViolationFinding.Identity, ViolationFinding.clone, combineViolations)
}

// DeduplicateWeaknesses collapses weaknesses sharing an identity.
func (m *Metrics) DeduplicateWeaknesses() {
	m.Weaknesses = mergeByIdentity(m.Weaknesses, nil,
		WeaknessFinding.Identity, WeaknessFinding.clone, combineWeaknesses)
}

// ComputeMetricsFromFacts normalizes the finding collections and recomputes
// every counter from them. Stored counters are never trusted.
func (m *Metrics) ComputeMetricsFromFacts() {
	m.OrganizeVulnerabilitiesWithAliases()
	m.DeduplicateViolations()
	m.DeduplicateWeaknesses()

	var c Counters
	countSeverity := func(s Severity) {
		switch s {
		case SeverityCritical:
			c.Critical++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		default:
			c.Unassigned++
		}
	}

	for _, v := range m.Violations {
		if v.AnalysisState.Suppressed() {
			c.Suppressed++
			continue
		}
		switch v.Type {
		case ViolationSecurity:
			c.PolicyViolationsSecurityTotal++
		case ViolationLicense:
			c.PolicyViolationsLicenseTotal++
		case ViolationOperational:
			c.PolicyViolationsOperational++
		}
	}
	for _, v := range m.Vulnerabilities {
		if v.AnalysisState.Suppressed() {
			c.Suppressed++
			continue
		}
		countSeverity(v.Severity)
	}
	for _, w := range m.Weaknesses {
		if w.AnalysisState.Suppressed() {
			c.Suppressed++
			continue
		}
		c.Weaknesses++
		countSeverity(w.Severity)
	}

	c.PolicyViolationsTotal = c.PolicyViolationsSecurityTotal + c.PolicyViolationsLicenseTotal + c.PolicyViolationsOperational
	c.Vulnerabilities = c.Critical + c.High + c.Medium + c.Low + c.Unassigned
	m.Counters = c
}

// SetAttributedAtFallback stamps findings that have no attributed-at with fallback.
func (m *Metrics) SetAttributedAtFallback(fallback time.Time) {
	if fallback.IsZero() {
		return
	}
	for i := range m.Vulnerabilities {
		if m.Vulnerabilities[i].AttributedAt == nil {
			m.Vulnerabilities[i].AttributedAt = copyTime(&fallback)
		}
	}
	for i := range m.Violations {
		if m.Violations[i].AttributedAt == nil {
			m.Violations[i].AttributedAt = copyTime(&fallback)
		}
	}
	for i := range m.Weaknesses {
		if m.Weaknesses[i].AttributedAt == nil {
			m.Weaknesses[i].AttributedAt = copyTime(&fallback)
		}
	}
}

// EnrichSourcesWithRelease tags every finding with releaseKey as a contributing
// source. Existing sources for other releases are kept.
func (m *Metrics) EnrichSourcesWithRelease(releaseKey string) {
	if releaseKey == "" {
		return
	}
	for i := range m.Vulnerabilities {
		v := &m.Vulnerabilities[i]
		v.Sources = enrichSources(v.Sources, releaseKey, v.AnalysisState, v.AnalysisDate)
	}
	for i := range m.Violations {
		v := &m.Violations[i]
		v.Sources = enrichSources(v.Sources, releaseKey, v.AnalysisState, v.AnalysisDate)
	}
	for i := range m.Weaknesses {
		w := &m.Weaknesses[i]
		w.Sources = enrichSources(w.Sources, releaseKey, w.AnalysisState, w.AnalysisDate)
	}
}

func enrichSources(sources []FindingSource, releaseKey string, state AnalysisState, date *time.Time) []FindingSource {
	if len(sources) == 0 {
		return []FindingSource{{Release: releaseKey, AnalysisState: state, AnalysisDate: copyTime(date)}}
	}
	enriched := make([]FindingSource, 0, len(sources)+1)
	for _, s := range sources {
		switch {
		case s.Release == "":
			enriched = append(enriched, FindingSource{
				Artifact: s.Artifact, Release: releaseKey, Variant: s.Variant,
				AnalysisState: state, AnalysisDate: copyTime(date),
			})
		case s.Release != releaseKey:
			enriched = append(enriched, s,
				FindingSource{Release: releaseKey, AnalysisState: state, AnalysisDate: copyTime(date)})
		case s.AnalysisState == "" && state != "":
			s.AnalysisState = state
			s.AnalysisDate = copyTime(date)
			enriched = append(enriched, s)
		default:
			enriched = append(enriched, s)
		}
	}
	return unionSources(enriched, nil)
}

// Equal reports whether m and o hold the same findings and counters. Finding
// order, source order and LastScanned are ignored.
func (m *Metrics) Equal(o *Metrics) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Counters != o.Counters {
		return false
	}
	return sameFindings(m.Vulnerabilities, o.Vulnerabilities, VulnerabilityFinding.Identity, VulnerabilityFinding.fingerprint) &&
		sameFindings(m.Violations, o.Violations, ViolationFinding.Identity, ViolationFinding.fingerprint) &&
		sameFindings(m.Weaknesses, o.Weaknesses, WeaknessFinding.Identity, WeaknessFinding.fingerprint)
}

// HasFindingFromRelease reports whether any finding lists releaseKey as a source.
func (m *Metrics) HasFindingFromRelease(releaseKey string) bool {
	has := func(sources []FindingSource) bool {
		for _, s := range sources {
			if s.Release == releaseKey {
				return true
			}
		}
		return false
	}
	for _, v := range m.Vulnerabilities {
		if has(v.Sources) {
			return true
		}
	}
	for _, v := range m.Violations {
		if has(v.Sources) {
			return true
		}
	}
	for _, w := range m.Weaknesses {
		if has(w.Sources) {
			return true
		}
	}
	return false
}

func mergeByIdentity[T any](base, other []T, identity func(T) string, clone func(T) T, combine func(existing, incoming T) T) []T {
	merged := make([]T, 0, len(base)+len(other))
	index := make(map[string]int, len(base)+len(other))
	for _, list := range [][]T{base, other} {
		for _, f := range list {
			key := identity(f)
			if i, ok := index[key]; ok {
				merged[i] = combine(merged[i], f)
				continue
			}
			index[key] = len(merged)
			merged = append(merged, clone(f))
		}
	}
	return merged
}

func sameFindings[T any](a, b []T, identity func(T) string, fingerprint func(T) string) bool {
	if len(a) != len(b) {
		return false
	}
	left := make(map[string]string, len(a))
	for _, f := range a {
		left[identity(f)] = fingerprint(f)
	}
	if len(left) != len(a) {
		return false
	}
	for _, f := range b {
		fp, ok := left[identity(f)]
		if !ok || fp != fingerprint(f) {
			return false
		}
		delete(left, identity(f))
	}
	return len(left) == 0
}

func combineVulnerabilities(existing, incoming VulnerabilityFinding) VulnerabilityFinding {
	existing.Aliases = unionAliases(existing.Aliases, incoming.Aliases)
	existing.Sources = unionSources(existing.Sources, incoming.Sources)
	existing.Severities = unionSeverities(existing.Severities, incoming.Severities)
	existing.AttributedAt = earlier(existing.AttributedAt, incoming.AttributedAt)
	return existing
}

func combineViolations(existing, incoming ViolationFinding) ViolationFinding {
	existing.Sources = unionSources(existing.Sources, incoming.Sources)
	existing.AttributedAt = earlier(existing.AttributedAt, incoming.AttributedAt)
	return existing
}

func combineWeaknesses(existing, incoming WeaknessFinding) WeaknessFinding {
	existing.Sources = unionSources(existing.Sources, incoming.Sources)
	existing.AttributedAt = earlier(existing.AttributedAt, incoming.AttributedAt)
	return existing
}

func unionSources(a, b []FindingSource) []FindingSource {
	out := make([]FindingSource, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]FindingSource{a, b} {
		for _, s := range list {
			k := s.key()
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			s.AnalysisDate = copyTime(s.AnalysisDate)
			out = append(out, s)
		}
	}
	return out
}

func unionAliases(a, b []VulnerabilityAlias) []VulnerabilityAlias {
	out := make([]VulnerabilityAlias, 0, len(a)+len(b))
	seen := make(map[VulnerabilityAlias]struct{}, len(a)+len(b))
	for _, list := range [][]VulnerabilityAlias{a, b} {
		for _, al := range list {
			if _, ok := seen[al]; ok {
				continue
			}
			seen[al] = struct{}{}
			out = append(out, al)
		}
	}
	return out
}

func unionSeverities(a, b []SeverityRecord) []SeverityRecord {
	out := make([]SeverityRecord, 0, len(a)+len(b))
	seen := make(map[SeverityRecord]struct{}, len(a)+len(b))
	for _, list := range [][]SeverityRecord{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func (v VulnerabilityFinding) clone() VulnerabilityFinding {
	v.Aliases = append([]VulnerabilityAlias(nil), v.Aliases...)
	v.Sources = unionSources(v.Sources, nil)
	v.Severities = append([]SeverityRecord(nil), v.Severities...)
	v.AnalysisDate = copyTime(v.AnalysisDate)
	v.AttributedAt = copyTime(v.AttributedAt)
	return v
}

func (v ViolationFinding) clone() ViolationFinding {
	v.Sources = unionSources(v.Sources, nil)
	v.AnalysisDate = copyTime(v.AnalysisDate)
	v.AttributedAt = copyTime(v.AttributedAt)
	return v
}

func (w WeaknessFinding) clone() WeaknessFinding {
	w.Sources = unionSources(w.Sources, nil)
	w.AnalysisDate = copyTime(w.AnalysisDate)
	w.AttributedAt = copyTime(w.AttributedAt)
	return w
}

func (v VulnerabilityFinding) fingerprint() string {
	aliases := make([]string, 0, len(v.Aliases))
	for _, a := range v.Aliases {
		aliases = append(aliases, string(a.Type)+":"+a.AliasID)
	}
	severities := make([]string, 0, len(v.Severities))
	for _, s := range v.Severities {
		severities = append(severities, string(s.Source)+":"+string(s.Severity))
	}
	return strings.Join([]string{
		string(v.Severity), sortedJoin(aliases), sortedJoin(severities), sourcesKey(v.Sources),
		string(v.AnalysisState), timeKey(v.AnalysisDate), timeKey(v.AttributedAt),
	}, "#")
}

func (v ViolationFinding) fingerprint() string {
	return strings.Join([]string{
		v.License, v.Details, sourcesKey(v.Sources),
		string(v.AnalysisState), timeKey(v.AnalysisDate), timeKey(v.AttributedAt),
	}, "#")
}

func (w WeaknessFinding) fingerprint() string {
	return strings.Join([]string{
		w.CweID, w.RuleID, w.Location, string(w.Severity), sourcesKey(w.Sources),
		string(w.AnalysisState), timeKey(w.AnalysisDate), timeKey(w.AttributedAt),
	}, "#")
}

func sourcesKey(sources []FindingSource) string {
	keys := make([]string, 0, len(sources))
	for _, s := range sources {
		keys = append(keys, s.key())
	}
	return sortedJoin(keys)
}

func sortedJoin(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func timeKey(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func earlier(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return copyTime(b)
	case b == nil:
		return a
	case b.Before(*a):
		return copyTime(b)
	default:
		return a
	}
}
