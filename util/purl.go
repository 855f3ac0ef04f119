package util

import (
	"strings"

	"github.com/package-url/packageurl-go"
)

var ecosystemPurlTypes = map[string]string{
	"npm":        "npm",
	"pypi":       "pypi",
	"maven":      "maven",
	"go":         "golang",
	"nuget":      "nuget",
	"rubygems":   "gem",
	"crates.io":  "cargo",
	"packagist":  "composer",
	"pub":        "pub",
	"cocoapods":  "cocoapods",
	"hex":        "hex",
	"alpine":     "apk",
	"wolfi":      "apk",
	"chainguard": "apk",
	"debian":     "deb",
	"ubuntu":     "deb",
}

// EcosystemToPurlType converts an OSV ecosystem name to a PURL type.
func EcosystemToPurlType(ecosystem string) string {
	lower := strings.ToLower(ecosystem)
	if t, ok := ecosystemPurlTypes[lower]; ok {
		return t
	}
	return lower
}

// MinimizePURL drops qualifiers from a PURL but keeps version and subpath.
// This is the location key analysis records are stored under.
// Example: pkg:npm/lodash@4.17.20?arch=x64 -> pkg:npm/lodash@4.17.20
func MinimizePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}
	minimized := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
		Version:   parsed.Version,
		Subpath:   parsed.Subpath,
	}
	return strings.ToLower(minimized.ToString()), nil
}

// GetStandardBasePURL extracts a standardized base PURL (no version/qualifiers)
// Example: "pkg:apk/wolfi/glibc@2.42-r4" -> "pkg:apk/wolfi/glibc"
func GetStandardBasePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}
	base := packageurl.PackageURL{
		Type:      EcosystemToPurlType(parsed.Type),
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
	}
	return strings.ToLower(base.ToString()), nil
}

// ParsePURL parses a PURL string and returns the parsed PackageURL
func ParsePURL(purlStr string) (*packageurl.PackageURL, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
