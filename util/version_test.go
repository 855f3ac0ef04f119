package util

import (
	"testing"

	"github.com/google/osv-scanner/pkg/models"
	"github.com/stretchr/testify/assert"
)

func affectedRange(ecosystem string, events ...models.Event) models.Affected {
	return models.Affected{
		Package: models.Package{Ecosystem: models.Ecosystem(ecosystem), Name: "pkg"},
		Ranges:  []models.Range{{Type: models.RangeEcosystem, Events: events}},
	}
}

func TestIsVersionAffected(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		affected models.Affected
		want     bool
	}{
		{
			name:     "semver inside introduced/fixed",
			version:  "1.4.0",
			affected: affectedRange("Maven", models.Event{Introduced: "1.0.0"}, models.Event{Fixed: "1.5.0"}),
			want:     true,
		},
		{
			name:     "semver at fixed is not affected",
			version:  "1.5.0",
			affected: affectedRange("Maven", models.Event{Introduced: "1.0.0"}, models.Event{Fixed: "1.5.0"}),
			want:     false,
		},
		{
			name:     "zero introduced means from the beginning",
			version:  "0.0.1",
			affected: affectedRange("Go", models.Event{Introduced: "0"}, models.Event{Fixed: "0.2.0"}),
			want:     true,
		},
		{
			name:     "missing upper bound never matches",
			version:  "3.0.0",
			affected: affectedRange("Go", models.Event{Introduced: "0"}),
			want:     false,
		},
		{
			name:     "last affected is inclusive",
			version:  "2.0.0",
			affected: affectedRange("npm", models.Event{Introduced: "1.0.0"}, models.Event{LastAffected: "2.0.0"}),
			want:     true,
		},
		{
			name:     "pep440 before introduced",
			version:  "0.9",
			affected: affectedRange("PyPI", models.Event{Introduced: "1.0"}, models.Event{Fixed: "1.2"}),
			want:     false,
		},
		{
			name:     "explicit versions list",
			version:  "7.7.7",
			affected: models.Affected{Versions: []string{"7.7.7"}},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsVersionAffected(tt.version, tt.affected))
		})
	}
}

func TestHasRangeData(t *testing.T) {
	assert.False(t, HasRangeData(nil))
	assert.False(t, HasRangeData([]models.Affected{{Ranges: []models.Range{{Type: models.RangeGit}}}}))
	assert.True(t, HasRangeData([]models.Affected{affectedRange("npm", models.Event{Introduced: "0"})}))
}
