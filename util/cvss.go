// Package util provides utility functions for the backend.
package util

import (
	"strings"

	"github.com/google/osv-scanner/pkg/models"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// CalculateCVSSScore calculates the CVSS base score from a vector string
func CalculateCVSSScore(vectorStr string) float64 {
	if vectorStr == "" || !strings.HasPrefix(vectorStr, "CVSS:") {
		return 0
	}
	if strings.HasPrefix(vectorStr, "CVSS:3.1") || strings.HasPrefix(vectorStr, "CVSS:3.0") {
		if cvss31, err := gocvss31.ParseVector(vectorStr); err == nil {
			return cvss31.BaseScore()
		}
	}
	if strings.HasPrefix(vectorStr, "CVSS:4.0") {
		if cvss40, err := gocvss40.ParseVector(vectorStr); err == nil {
			return cvss40.Score()
		}
	}
	return 0
}

// HighestCVSSScore returns the highest CVSS v3/v4 base score of an OSV severity list.
func HighestCVSSScore(severities []models.Severity) float64 {
	var highest float64
	for _, s := range severities {
		if s.Type != models.SeverityCVSSV3 && s.Type != models.SeverityCVSSV4 {
			continue
		}
		if score := CalculateCVSSScore(s.Score); score > highest {
			highest = score
		}
	}
	return highest
}

// GetSeverityRating returns the severity rating for a given CVSS score
func GetSeverityRating(score float64) string {
	switch {
	case score == 0:
		return "NONE"
	case score < 4.0:
		return "LOW"
	case score < 7.0:
		return "MEDIUM"
	case score < 9.0:
		return "HIGH"
	default:
		return "CRITICAL"
	}
}
