// Package util provides utility functions for the backend.
//
//revive:disable-next-line:var-naming
package util

import (
	"strings"

	"github.com/Masterminds/semver/v3"
	npm "github.com/aquasecurity/go-npm-version/pkg"
	pep440 "github.com/aquasecurity/go-pep440-version"
	"github.com/google/osv-scanner/pkg/models"
)

// versionComparer compares a and b, returning -1, 0 or 1.
type versionComparer func(a, b string) (int, bool)

func comparerFor(ecosystem string) versionComparer {
	switch strings.ToLower(ecosystem) {
	case "npm":
		return compareNPM
	case "pypi":
		return comparePEP440
	default:
		return compareSemver
	}
}

func compareNPM(a, b string) (int, bool) {
	va, err := npm.NewVersion(a)
	if err != nil {
		return compareString(a, b)
	}
	vb, err := npm.NewVersion(b)
	if err != nil {
		return compareString(a, b)
	}
	switch {
	case va.LessThan(vb):
		return -1, true
	case va.GreaterThan(vb):
		return 1, true
	}
	return 0, true
}

func comparePEP440(a, b string) (int, bool) {
	va, err := pep440.Parse(a)
	if err != nil {
		return compareString(a, b)
	}
	vb, err := pep440.Parse(b)
	if err != nil {
		return compareString(a, b)
	}
	switch {
	case va.LessThan(vb):
		return -1, true
	case va.GreaterThan(vb):
		return 1, true
	}
	return 0, true
}

func compareSemver(a, b string) (int, bool) {
	va, err := semver.NewVersion(strings.TrimPrefix(a, "go"))
	if err != nil {
		return compareString(a, b)
	}
	vb, err := semver.NewVersion(strings.TrimPrefix(b, "go"))
	if err != nil {
		return compareString(a, b)
	}
	return va.Compare(vb), true
}

func compareString(a, b string) (int, bool) {
	a, b = strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v")
	if a == "" || b == "" {
		return 0, false
	}
	return strings.Compare(a, b), true
}

// IsVersionAffected checks if a version is affected by an OSV affected entry.
// Ranges must carry both a lower bound (introduced, "0" meaning from the
// beginning) and an upper bound (fixed or last_affected) to match.
func IsVersionAffected(version string, affected models.Affected) bool {
	for _, v := range affected.Versions {
		if v == version {
			return true
		}
	}

	cmp := comparerFor(string(affected.Package.Ecosystem))
	for _, r := range affected.Ranges {
		if r.Type != models.RangeEcosystem && r.Type != models.RangeSemVer {
			continue
		}
		if isVersionInRange(version, r, cmp) {
			return true
		}
	}
	return false
}

func isVersionInRange(version string, r models.Range, cmp versionComparer) bool {
	var introduced, fixed, lastAffected string
	for _, e := range r.Events {
		if e.Introduced != "" {
			introduced = e.Introduced
		}
		if e.Fixed != "" {
			fixed = e.Fixed
		}
		if e.LastAffected != "" {
			lastAffected = e.LastAffected
		}
	}
	if introduced == "" || (fixed == "" && lastAffected == "") {
		return false
	}

	if introduced != "0" {
		c, ok := cmp(version, introduced)
		if !ok || c < 0 {
			return false
		}
	}
	if fixed != "" {
		c, ok := cmp(version, fixed)
		if !ok || c >= 0 {
			return false
		}
	}
	if lastAffected != "" {
		c, ok := cmp(version, lastAffected)
		if !ok || c > 0 {
			return false
		}
	}
	return true
}

// IsVersionAffectedAny checks if a version is affected by any of the provided affected ranges
func IsVersionAffectedAny(version string, allAffected []models.Affected) bool {
	for _, affected := range allAffected {
		if IsVersionAffected(version, affected) {
			return true
		}
	}
	return false
}

// HasRangeData reports whether any affected entry carries a usable version
// range or explicit versions list.
func HasRangeData(allAffected []models.Affected) bool {
	for _, a := range allAffected {
		if len(a.Versions) > 0 {
			return true
		}
		for _, r := range a.Ranges {
			if r.Type == models.RangeEcosystem || r.Type == models.RangeSemVer {
				return true
			}
		}
	}
	return false
}
