// Package analysis applies stored triage decisions (VulnAnalysis records) to
// a metrics document and recomputes its counters.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/ortelius/pdvd-rollup/util"
	"go.uber.org/zap"
)

// Analyzer enriches metrics with analysis decisions visible from a scope.
type Analyzer interface {
	Analyze(ctx context.Context, org, scopeKey string, scope model.AnalysisScope, metrics *model.Metrics) error
}

// Store is the data VulnAnalyzer reads.
type Store interface {
	FindVulnAnalysis(ctx context.Context, org string, scope model.AnalysisScope, scopeKey, location, findingID string, findingType model.FindingType) (*model.VulnAnalysis, error)
	GetRelease(ctx context.Context, key string) (*model.Release, error)
	GetBranch(ctx context.Context, key string) (*model.Branch, error)
	GetOSVRecord(ctx context.Context, id string) (*models.Vulnerability, error)
}

// Options tunes VulnAnalyzer.
type Options struct {
	// OSVRecheck marks vulnerabilities NOT_AFFECTED when the package version
	// falls outside every affected range of the advisory.
	OSVRecheck bool
}

// VulnAnalyzer is the Analyzer backed by the vuln_analysis collection.
type VulnAnalyzer struct {
	store  Store
	logger *zap.Logger
	opts   Options
	now    func() time.Time
}

var _ Analyzer = (*VulnAnalyzer)(nil)

// NewVulnAnalyzer returns a VulnAnalyzer.
func NewVulnAnalyzer(store Store, logger *zap.Logger, opts Options) *VulnAnalyzer {
	return &VulnAnalyzer{store: store, logger: logger, opts: opts, now: time.Now}
}

// scopeChain is the list of (scope, key) pairs searched for a finding, most
// specific first.
type scopeChain []scopeRef

type scopeRef struct {
	scope model.AnalysisScope
	key   string
}

// pass holds the per-call state of one Analyze run.
type pass struct {
	*VulnAnalyzer
	org   string
	chain scopeChain
	osv   map[string]*models.Vulnerability
}

// Analyze normalizes metrics, applies the most specific analysis record found
// for every finding and recomputes the counters. Any lookup error aborts.
func (a *VulnAnalyzer) Analyze(ctx context.Context, org, scopeKey string, scope model.AnalysisScope, metrics *model.Metrics) error {
	if metrics == nil {
		return nil
	}
	if org == "" {
		return model.ErrMissingOrg
	}

	chain, err := a.resolveChain(ctx, org, scopeKey, scope)
	if err != nil {
		return err
	}
	p := &pass{VulnAnalyzer: a, org: org, chain: chain, osv: map[string]*models.Vulnerability{}}

	metrics.OrganizeVulnerabilitiesWithAliases()
	metrics.DeduplicateViolations()
	metrics.DeduplicateWeaknesses()

	for i := range metrics.Violations {
		if err := p.enrichViolation(ctx, &metrics.Violations[i]); err != nil {
			return err
		}
	}
	for i := range metrics.Vulnerabilities {
		if err := p.enrichVulnerability(ctx, &metrics.Vulnerabilities[i]); err != nil {
			return err
		}
	}
	for i := range metrics.Weaknesses {
		if err := p.enrichWeakness(ctx, &metrics.Weaknesses[i]); err != nil {
			return err
		}
	}

	metrics.ComputeMetricsFromFacts()
	return nil
}

// resolveChain walks release -> branch -> component once so every finding
// lookup reuses it. Missing intermediate objects shorten the chain.
func (a *VulnAnalyzer) resolveChain(ctx context.Context, org, scopeKey string, scope model.AnalysisScope) (scopeChain, error) {
	var releaseKey, branchKey, componentKey string
	switch scope {
	case model.ScopeRelease:
		releaseKey = scopeKey
	case model.ScopeBranch:
		branchKey = scopeKey
	case model.ScopeComponent:
		componentKey = scopeKey
	case model.ScopeOrg:
	default:
		return nil, fmt.Errorf("unsupported analysis scope %q", scope)
	}

	var chain scopeChain
	if releaseKey != "" {
		chain = append(chain, scopeRef{model.ScopeRelease, releaseKey})
		rel, err := a.store.GetRelease(ctx, releaseKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve release %s: %w", releaseKey, err)
		}
		if rel != nil {
			branchKey = rel.Branch
			if branchKey == "" {
				componentKey = rel.Component
			}
		}
	}
	if branchKey != "" {
		chain = append(chain, scopeRef{model.ScopeBranch, branchKey})
		br, err := a.store.GetBranch(ctx, branchKey)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve branch %s: %w", branchKey, err)
		}
		if br != nil {
			componentKey = br.Component
		}
	}
	if componentKey != "" {
		chain = append(chain, scopeRef{model.ScopeComponent, componentKey})
	}
	chain = append(chain, scopeRef{model.ScopeOrg, org})
	return chain, nil
}

func (p *pass) findWithPriority(ctx context.Context, location, findingID string, findingType model.FindingType) (*model.VulnAnalysis, error) {
	for _, ref := range p.chain {
		va, err := p.store.FindVulnAnalysis(ctx, p.org, ref.scope, ref.key, location, findingID, findingType)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s analysis for %s at %s: %w", findingType, findingID, ref.scope, err)
		}
		if va != nil {
			return va, nil
		}
	}
	return nil, nil
}

func analysisDate(va *model.VulnAnalysis) *time.Time {
	if va.UpdatedAt.IsZero() {
		return nil
	}
	t := va.UpdatedAt
	return &t
}

func minimize(purl string) string {
	if m, err := util.MinimizePURL(purl); err == nil {
		return m
	}
	return purl
}

// enrichViolation leaves violations that already carry a state untouched.
func (p *pass) enrichViolation(ctx context.Context, v *model.ViolationFinding) error {
	if v.AnalysisState != "" {
		return nil
	}
	va, err := p.findWithPriority(ctx, minimize(v.Purl), string(v.Type), model.FindingViolation)
	if err != nil || va == nil {
		return err
	}
	v.AnalysisState = va.AnalysisState
	v.AnalysisDate = analysisDate(va)
	return nil
}

func (p *pass) enrichVulnerability(ctx context.Context, v *model.VulnerabilityFinding) error {
	va, err := p.findWithPriority(ctx, minimize(v.Purl), v.VulnID, model.FindingVulnerability)
	if err != nil {
		return err
	}
	if va != nil {
		applyVulnAnalysis(v, va)
		return nil
	}
	return p.applyAdvisory(ctx, v)
}

func applyVulnAnalysis(v *model.VulnerabilityFinding, va *model.VulnAnalysis) {
	seen := make(map[string]bool, len(v.Aliases))
	for _, a := range v.Aliases {
		seen[a.AliasID] = true
	}
	for _, a := range va.FindingAliases {
		if seen[a.AliasID] {
			continue
		}
		if a.Type == "" {
			a.Type = model.DetectAliasType(a.AliasID)
		}
		seen[a.AliasID] = true
		v.Aliases = append(v.Aliases, a)
	}

	if va.Severity != "" {
		rec := model.SeverityRecord{Source: model.SeveritySourceAnalysis, Severity: va.Severity}
		if !containsSeverity(v.Severities, rec) {
			v.Severities = append(v.Severities, rec)
		}
		v.Severity = va.Severity
	}
	v.AnalysisState = va.AnalysisState
	v.AnalysisDate = analysisDate(va)
}

func containsSeverity(list []model.SeverityRecord, rec model.SeverityRecord) bool {
	for _, r := range list {
		if r == rec {
			return true
		}
	}
	return false
}

// applyAdvisory fills in what the OSV record can tell about a vulnerability
// without a triage decision: a CVSS severity when none is assigned and, when
// enabled, NOT_AFFECTED for versions outside every affected range.
func (p *pass) applyAdvisory(ctx context.Context, v *model.VulnerabilityFinding) error {
	unassigned := v.Severity == "" || v.Severity == model.SeverityUnassigned
	recheck := p.opts.OSVRecheck && v.AnalysisState == ""
	if !unassigned && !recheck {
		return nil
	}

	rec, err := p.advisory(ctx, v.VulnID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if unassigned {
		if rating := util.GetSeverityRating(util.HighestCVSSScore(rec.Severity)); rating != "NONE" {
			sr := model.SeverityRecord{Source: model.SeveritySourceOther, Severity: model.Severity(rating)}
			if !containsSeverity(v.Severities, sr) {
				v.Severities = append(v.Severities, sr)
			}
			if best, ok := model.SelectBestSeverity(v.Severities); ok && best != model.SeverityUnassigned {
				v.Severity = best
			} else {
				v.Severity = sr.Severity
			}
		}
	}

	if recheck && notAffected(v.Purl, rec.Affected) {
		now := p.now().UTC()
		v.AnalysisState = model.AnalysisNotAffected
		v.AnalysisDate = &now
		p.logger.Sugar().Debugf("Marked %s on %s not affected by OSV ranges", v.VulnID, v.Purl)
	}
	return nil
}

func (p *pass) advisory(ctx context.Context, id string) (*models.Vulnerability, error) {
	if rec, ok := p.osv[id]; ok {
		return rec, nil
	}
	rec, err := p.store.GetOSVRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load advisory %s: %w", id, err)
	}
	p.osv[id] = rec
	return rec, nil
}

// notAffected reports whether the purl's version lies outside every affected
// range of its package. Without version or range data nothing is concluded.
func notAffected(purl string, affected []models.Affected) bool {
	parsed, err := util.ParsePURL(purl)
	if err != nil || parsed.Version == "" {
		return false
	}
	base, err := util.GetStandardBasePURL(purl)
	if err != nil {
		return false
	}

	var matching []models.Affected
	for _, a := range affected {
		if affectedBase(a) == base {
			matching = append(matching, a)
		}
	}
	if len(matching) == 0 || !util.HasRangeData(matching) {
		return false
	}
	return !util.IsVersionAffectedAny(parsed.Version, matching)
}

func affectedBase(a models.Affected) string {
	if a.Package.Purl != "" {
		if base, err := util.GetStandardBasePURL(a.Package.Purl); err == nil {
			return base
		}
	}
	purl := "pkg:" + util.EcosystemToPurlType(string(a.Package.Ecosystem)) + "/" + a.Package.Name
	if base, err := util.GetStandardBasePURL(purl); err == nil {
		return base
	}
	return ""
}

// enrichWeakness looks weaknesses up by code location and CWE (or rule) id.
func (p *pass) enrichWeakness(ctx context.Context, w *model.WeaknessFinding) error {
	if w.AnalysisState != "" {
		return nil
	}
	findingID := w.CweID
	if findingID == "" {
		findingID = w.RuleID
	}
	va, err := p.findWithPriority(ctx, w.Location, findingID, model.FindingWeakness)
	if err != nil || va == nil {
		return err
	}
	if va.Severity != "" {
		w.Severity = va.Severity
	}
	w.AnalysisState = va.AnalysisState
	w.AnalysisDate = analysisDate(va)
	return nil
}
