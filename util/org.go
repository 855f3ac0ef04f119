// Package util provides utility functions for the application.
package util

import "strings"

// NormalizeOrgName ensures org names are always lowercase and trimmed.
// Use this function whenever accepting org names from external sources.
func NormalizeOrgName(org string) string {
	return strings.ToLower(strings.TrimSpace(org))
}

// NormalizeOrgNames normalizes a slice of org names, dropping blanks.
func NormalizeOrgNames(orgs []string) []string {
	normalized := make([]string, 0, len(orgs))
	for _, org := range orgs {
		if n := NormalizeOrgName(org); n != "" {
			normalized = append(normalized, n)
		}
	}
	return normalized
}
