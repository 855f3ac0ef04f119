package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day int) *time.Time {
	t := time.Date(2024, time.March, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func vuln(purl, id string, sev Severity, artifact string, attributed *time.Time) VulnerabilityFinding {
	return VulnerabilityFinding{
		Purl: purl, VulnID: id, Severity: sev,
		Sources:      []FindingSource{{Artifact: artifact}},
		AttributedAt: attributed,
	}
}

func sampleMetrics() *Metrics {
	m := NewMetrics()
	m.Vulnerabilities = []VulnerabilityFinding{
		vuln("pkg:npm/a@1.0.0", "CVE-2024-0001", SeverityHigh, "art-1", at(5)),
		vuln("pkg:npm/b@2.0.0", "GHSA-xxxx-yyyy-zzzz", SeverityLow, "art-1", at(6)),
	}
	m.Violations = []ViolationFinding{
		{Purl: "pkg:npm/a@1.0.0", Type: ViolationLicense, License: "GPL-3.0", Sources: []FindingSource{{Artifact: "art-1"}}},
	}
	m.Weaknesses = []WeaknessFinding{
		{Fingerprint: "fp-1", CweID: "CWE-79", Severity: SeverityMedium, Sources: []FindingSource{{Artifact: "art-1"}}},
	}
	m.ComputeMetricsFromFacts()
	return m
}

func TestMergeIsIdempotent(t *testing.T) {
	m := sampleMetrics()
	once := m.Clone()
	once.MergeWithByContent(m)

	twice := once.Clone()
	twice.MergeWithByContent(m)

	assert.True(t, once.Equal(m), "merging a document into itself changes nothing")
	assert.True(t, twice.Equal(once))
}

func TestMergeIsCommutativeOnMembership(t *testing.T) {
	a := sampleMetrics()
	b := NewMetrics()
	b.Vulnerabilities = []VulnerabilityFinding{
		vuln("pkg:npm/a@1.0.0", "CVE-2024-0001", SeverityHigh, "art-2", at(2)),
		vuln("pkg:npm/c@3.0.0", "CVE-2024-0003", SeverityCritical, "art-2", at(9)),
	}
	b.ComputeMetricsFromFacts()

	ab := a.Clone()
	ab.MergeWithByContent(b)
	ba := b.Clone()
	ba.MergeWithByContent(a)

	ids := func(m *Metrics) []string {
		var out []string
		for _, v := range m.Vulnerabilities {
			out = append(out, v.Identity())
		}
		return out
	}
	assert.ElementsMatch(t, ids(ab), ids(ba))
	assert.Equal(t, ab.Counters, ba.Counters)
	assert.Len(t, ab.Vulnerabilities, 3)
}

func TestMergeKeepsEarliestAttributionAndUnionsSources(t *testing.T) {
	a := NewMetrics()
	a.Vulnerabilities = []VulnerabilityFinding{vuln("pkg:npm/a@1.0.0", "CVE-2024-0001", SeverityHigh, "art-1", at(10))}
	b := NewMetrics()
	b.Vulnerabilities = []VulnerabilityFinding{vuln("pkg:npm/a@1.0.0", "CVE-2024-0001", SeverityHigh, "art-2", at(3))}

	a.MergeWithByContent(b)

	require.Len(t, a.Vulnerabilities, 1)
	got := a.Vulnerabilities[0]
	assert.Equal(t, *at(3), *got.AttributedAt)
	assert.ElementsMatch(t, []FindingSource{{Artifact: "art-1"}, {Artifact: "art-2"}}, got.Sources)
	assert.Equal(t, 1, a.High)
}

func TestMergeDoesNotAliasInput(t *testing.T) {
	a := NewMetrics()
	b := sampleMetrics()
	a.MergeWithByContent(b)
	a.Vulnerabilities[0].Sources[0].Artifact = "mutated"
	assert.Equal(t, "art-1", b.Vulnerabilities[0].Sources[0].Artifact)
}

func TestComputeMetricsFromFactsSkipsSuppressed(t *testing.T) {
	m := NewMetrics()
	m.Vulnerabilities = []VulnerabilityFinding{
		vuln("pkg:npm/a@1.0.0", "CVE-1", SeverityCritical, "x", nil),
		vuln("pkg:npm/b@1.0.0", "CVE-2", SeverityCritical, "x", nil),
		vuln("pkg:npm/c@1.0.0", "CVE-3", "", "x", nil),
	}
	m.Vulnerabilities[1].AnalysisState = AnalysisFalsePositive
	m.Violations = []ViolationFinding{
		{Purl: "pkg:npm/a@1.0.0", Type: ViolationSecurity},
		{Purl: "pkg:npm/a@1.0.0", Type: ViolationOperational},
		{Purl: "pkg:npm/b@1.0.0", Type: ViolationLicense, AnalysisState: AnalysisNotAffected},
	}
	m.Weaknesses = []WeaknessFinding{{Fingerprint: "w1", Severity: SeverityLow}}
	m.Counters = Counters{Critical: 99}

	m.ComputeMetricsFromFacts()

	assert.Equal(t, Counters{
		Critical:                      1,
		Low:                           1,
		Unassigned:                    1,
		Vulnerabilities:               3,
		Weaknesses:                    1,
		Suppressed:                    2,
		PolicyViolationsSecurityTotal: 1,
		PolicyViolationsOperational:   1,
		PolicyViolationsTotal:         2,
	}, m.Counters)
}

func TestEqualIgnoresOrderAndLastScanned(t *testing.T) {
	a := sampleMetrics()
	b := a.Clone()
	b.Vulnerabilities[0], b.Vulnerabilities[1] = b.Vulnerabilities[1], b.Vulnerabilities[0]
	b.LastScanned = at(20)
	assert.True(t, a.Equal(b))

	b.Vulnerabilities[0].Sources = append(b.Vulnerabilities[0].Sources, FindingSource{Release: "rel-9"})
	assert.False(t, a.Equal(b))

	var nilMetrics *Metrics
	assert.True(t, nilMetrics.Equal(nil))
	assert.False(t, a.Equal(nil))
}

func TestCloneIsDeep(t *testing.T) {
	a := sampleMetrics()
	c := a.Clone()
	c.Vulnerabilities[0].Sources[0].Release = "changed"
	*c.Vulnerabilities[0].AttributedAt = time.Time{}
	assert.Empty(t, a.Vulnerabilities[0].Sources[0].Release)
	assert.Equal(t, *at(5), *a.Vulnerabilities[0].AttributedAt)
}

func TestSetAttributedAtFallback(t *testing.T) {
	m := NewMetrics()
	m.Vulnerabilities = []VulnerabilityFinding{
		vuln("pkg:npm/a@1", "CVE-1", SeverityLow, "x", nil),
		vuln("pkg:npm/b@1", "CVE-2", SeverityLow, "x", at(1)),
	}
	m.SetAttributedAtFallback(*at(15))
	assert.Equal(t, *at(15), *m.Vulnerabilities[0].AttributedAt)
	assert.Equal(t, *at(1), *m.Vulnerabilities[1].AttributedAt)
}

func TestEnrichSourcesWithRelease(t *testing.T) {
	m := NewMetrics()
	m.Vulnerabilities = []VulnerabilityFinding{
		{Purl: "p1", VulnID: "CVE-1"},
		{Purl: "p2", VulnID: "CVE-2", Sources: []FindingSource{{Artifact: "a1"}}},
		{Purl: "p3", VulnID: "CVE-3", Sources: []FindingSource{{Release: "parent"}}},
	}

	m.EnrichSourcesWithRelease("child")

	assert.Equal(t, []FindingSource{{Release: "child"}}, m.Vulnerabilities[0].Sources)
	assert.Equal(t, []FindingSource{{Artifact: "a1", Release: "child"}}, m.Vulnerabilities[1].Sources)
	assert.ElementsMatch(t, []FindingSource{{Release: "parent"}, {Release: "child"}}, m.Vulnerabilities[2].Sources)
	assert.True(t, m.HasFindingFromRelease("child"))
	assert.False(t, m.HasFindingFromRelease("other"))
}

func TestDeduplicateViolations(t *testing.T) {
	m := NewMetrics()
	m.Violations = []ViolationFinding{
		{Purl: "p", Type: ViolationLicense, Sources: []FindingSource{{Artifact: "a"}}, AttributedAt: at(9)},
		{Purl: "p", Type: ViolationLicense, Sources: []FindingSource{{Artifact: "b"}}, AttributedAt: at(4)},
		{Purl: "p", Type: ViolationSecurity},
	}
	m.DeduplicateViolations()
	require.Len(t, m.Violations, 2)
	assert.Len(t, m.Violations[0].Sources, 2)
	assert.Equal(t, *at(4), *m.Violations[0].AttributedAt)
}
