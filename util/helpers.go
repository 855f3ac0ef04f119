// Package util provides utility functions for working with Package URLs (PURLs),
// version parsing, and reading configuration from the environment.
//
//revive:disable-next-line:var-naming
package util

import (
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// GetEnvInt reads an integer env var, returning defVal when unset or malformed.
func GetEnvInt(key string, defVal int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defVal
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return defVal
	}
	return n
}

// GetEnvDuration reads a time.Duration env var such as "15m".
func GetEnvDuration(key string, defVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defVal
	}
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		return defVal
	}
	return d
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var versionPrefixPattern = regexp.MustCompile(`^.*?-v(\d+)`)
var semverPattern = regexp.MustCompile(`^v?(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z\-\.]+))?(?:\+([0-9A-Za-z\-\.]+))?$`)

// CleanVersion removes branch prefixes from version strings
// Examples:
//   - "main-v12.0.1376-g7ac6f3" -> "12.0.1376-g7ac6f3"
//   - "develop-v2.3.4" -> "2.3.4"
//   - "v1.2.3" -> "v1.2.3" (unchanged)
func CleanVersion(version string) string {
	if matches := versionPrefixPattern.FindStringSubmatch(version); len(matches) > 1 {
		return versionPrefixPattern.ReplaceAllString(version, matches[1])
	}
	return version
}

// ParsedSemver holds all components of a semantic version
type ParsedSemver struct {
	Major         *int
	Minor         *int
	Patch         *int
	Prerelease    string
	BuildMetadata string
}

// ParseSemver parses a version string into its semver components.
// Returns nil if the version is empty.
func ParseSemver(version string) *ParsedSemver {
	if version == "" {
		return nil
	}

	if v, err := semver.NewVersion(strings.TrimPrefix(version, "go")); err == nil {
		major, minor, patch := int(v.Major()), int(v.Minor()), int(v.Patch())
		return &ParsedSemver{
			Major: &major, Minor: &minor, Patch: &patch,
			Prerelease: v.Prerelease(), BuildMetadata: v.Metadata(),
		}
	}

	result := &ParsedSemver{}
	if matches := semverPattern.FindStringSubmatch(version); len(matches) > 5 {
		result.Prerelease = matches[4]
		result.BuildMetadata = matches[5]
	} else {
		rest := version
		if i := strings.Index(rest, "+"); i >= 0 {
			result.BuildMetadata = rest[i+1:]
			rest = rest[:i]
		}
		if i := strings.Index(rest, "-"); i >= 0 {
			result.Prerelease = rest[i+1:]
		}
	}

	core := strings.FieldsFunc(version, func(r rune) bool { return r == '-' || r == '+' })
	if len(core) == 0 {
		return result
	}
	parts := strings.Split(strings.TrimPrefix(core[0], "v"), ".")
	targets := []**int{&result.Major, &result.Minor, &result.Patch}
	for i := 0; i < len(parts) && i < len(targets); i++ {
		if n, err := strconv.Atoi(strings.TrimSpace(parts[i])); err == nil {
			*targets[i] = &n
		}
	}
	return result
}
