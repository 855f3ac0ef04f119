package model

import (
	"sort"
	"strings"
)

// AliasType is the identifier scheme of a vulnerability id.
type AliasType string

// Known alias types, detected from the id prefix.
const (
	AliasCVE     AliasType = "CVE"
	AliasGHSA    AliasType = "GHSA"
	AliasGO      AliasType = "GO"
	AliasPYSEC   AliasType = "PYSEC"
	AliasRUSTSEC AliasType = "RUSTSEC"
	AliasOSV     AliasType = "OSV"
	AliasDSA     AliasType = "DSA"
	AliasDLA     AliasType = "DLA"
	AliasRHSA    AliasType = "RHSA"
	AliasRHBA    AliasType = "RHBA"
	AliasRHEA    AliasType = "RHEA"
	AliasALAS2   AliasType = "ALAS2"
	AliasALAS    AliasType = "ALAS"
	AliasALPINE  AliasType = "ALPINE"
	AliasCGA     AliasType = "CGA"
	AliasMAL     AliasType = "MAL"
	AliasGSD     AliasType = "GSD"
	AliasOther   AliasType = "OTHER"
)

// longer prefixes first so ALAS2 wins over ALAS
var aliasPrefixes = []AliasType{
	AliasCVE, AliasGHSA, AliasGO, AliasPYSEC, AliasRUSTSEC, AliasOSV, AliasDSA, AliasDLA,
	AliasRHSA, AliasRHBA, AliasRHEA, AliasALAS2, AliasALAS, AliasALPINE, AliasCGA, AliasMAL, AliasGSD,
}

// DetectAliasType returns the alias type of a vulnerability id based on its prefix.
func DetectAliasType(id string) AliasType {
	upper := strings.ToUpper(strings.TrimSpace(id))
	for _, t := range aliasPrefixes {
		if strings.HasPrefix(upper, string(t)+"-") {
			return t
		}
	}
	return AliasOther
}

// NormalizeVulnID maps distro wrappers of CVE ids back to the CVE id.
func NormalizeVulnID(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(strings.ToUpper(id), "ALPINE-CVE-") {
		return id[len("ALPINE-"):]
	}
	return id
}

func aliasRank(id string) int {
	switch DetectAliasType(id) {
	case AliasCVE:
		return 0
	case AliasGHSA:
		return 1
	default:
		return 2
	}
}

// PreferredVulnID picks the primary id among ids: CVE, then GHSA, then anything
// else. Ties are broken lexically.
func PreferredVulnID(ids []string) string {
	best := ""
	for _, id := range ids {
		if id == "" {
			continue
		}
		if best == "" || aliasRank(id) < aliasRank(best) || (aliasRank(id) == aliasRank(best) && id < best) {
			best = id
		}
	}
	return best
}

// SelectBestSeverity picks the severity to report from per-source ratings:
// ANALYSIS, then an assigned NVD rating, then GHSA, then NVD, then OTHER.
func SelectBestSeverity(records []SeverityRecord) (Severity, bool) {
	find := func(src SeveritySource, skipUnassigned bool) (Severity, bool) {
		for _, r := range records {
			if r.Source != src {
				continue
			}
			if skipUnassigned && (r.Severity == SeverityUnassigned || r.Severity == "") {
				continue
			}
			return r.Severity, true
		}
		return "", false
	}
	if s, ok := find(SeveritySourceAnalysis, false); ok {
		return s, true
	}
	if s, ok := find(SeveritySourceNVD, true); ok {
		return s, true
	}
	if s, ok := find(SeveritySourceGHSA, false); ok {
		return s, true
	}
	if s, ok := find(SeveritySourceNVD, false); ok {
		return s, true
	}
	if s, ok := find(SeveritySourceOther, false); ok {
		return s, true
	}
	return "", false
}

// OrganizeVulnerabilitiesWithAliases collapses vulnerabilities on the same purl
// that share any identifier (primary id or alias) into a single finding whose
// id is the preferred one and whose aliases list the rest.
func (m *Metrics) OrganizeVulnerabilitiesWithAliases() {
	if len(m.Vulnerabilities) == 0 {
		return
	}

	parent := make([]int, len(m.Vulnerabilities))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	owner := make(map[string]int)
	for i, v := range m.Vulnerabilities {
		for _, id := range v.identifiers() {
			key := v.Purl + "|" + id
			if j, ok := owner[key]; ok {
				if ri, rj := find(i), find(j); ri != rj {
					parent[ri] = rj
				}
				continue
			}
			owner[key] = i
		}
	}

	groups := make(map[int][]int)
	order := make([]int, 0, len(m.Vulnerabilities))
	for i := range m.Vulnerabilities {
		root := find(i)
		if _, ok := groups[root]; !ok {
			order = append(order, root)
		}
		groups[root] = append(groups[root], i)
	}

	organized := make([]VulnerabilityFinding, 0, len(order))
	for _, root := range order {
		members := make([]VulnerabilityFinding, 0, len(groups[root]))
		for _, i := range groups[root] {
			members = append(members, m.Vulnerabilities[i])
		}
		organized = append(organized, mergeVulnerabilityGroup(members))
	}
	m.Vulnerabilities = organized
}

func (v VulnerabilityFinding) identifiers() []string {
	ids := make([]string, 0, len(v.Aliases)+1)
	if id := NormalizeVulnID(v.VulnID); id != "" {
		ids = append(ids, id)
	}
	for _, a := range v.Aliases {
		if id := NormalizeVulnID(a.AliasID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func mergeVulnerabilityGroup(members []VulnerabilityFinding) VulnerabilityFinding {
	var ids []string
	for _, v := range members {
		ids = append(ids, v.identifiers()...)
	}
	primary := PreferredVulnID(ids)

	base := members[0]
	for _, v := range members {
		if v.AnalysisState != "" {
			base = v
			break
		}
	}
	if base.AnalysisState == "" {
		for _, v := range members {
			if NormalizeVulnID(v.VulnID) == primary {
				base = v
				break
			}
		}
	}

	merged := base.clone()
	merged.VulnID = primary
	for _, v := range members {
		merged.Sources = unionSources(merged.Sources, v.Sources)
		merged.Severities = unionSeverities(merged.Severities, v.Severities)
		merged.AttributedAt = earlier(merged.AttributedAt, v.AttributedAt)
	}
	sort.Slice(merged.Severities, func(i, j int) bool {
		if merged.Severities[i].Source != merged.Severities[j].Source {
			return merged.Severities[i].Source < merged.Severities[j].Source
		}
		return merged.Severities[i].Severity < merged.Severities[j].Severity
	})

	seen := map[string]struct{}{primary: {}}
	aliases := make([]VulnerabilityAlias, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		aliases = append(aliases, VulnerabilityAlias{Type: DetectAliasType(id), AliasID: id})
	}
	sort.Slice(aliases, func(i, j int) bool { return aliases[i].AliasID < aliases[j].AliasID })
	merged.Aliases = aliases

	if merged.Severity == "" || merged.Severity == SeverityUnassigned {
		if s, ok := SelectBestSeverity(merged.Severities); ok {
			merged.Severity = s
		}
	}
	if merged.Severity == "" {
		merged.Severity = SeverityUnassigned
	}
	return merged
}
