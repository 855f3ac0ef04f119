package database

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
)

func TestIndexesTargetKnownCollections(t *testing.T) {
	known := make(map[string]bool, len(collectionNames))
	for _, name := range collectionNames {
		known[name] = true
	}

	names := make(map[string]bool, len(indexList))
	for _, idx := range indexList {
		assert.True(t, known[idx.Collection], "index %s targets unknown collection %s", idx.IdxName, idx.Collection)
		assert.NotEmpty(t, idx.Fields, idx.IdxName)
		assert.False(t, names[idx.IdxName], "duplicate index name %s", idx.IdxName)
		names[idx.IdxName] = true
	}
}

func TestInitLogger(t *testing.T) {
	assert.NotNil(t, InitLogger())
}

func TestSaveReleaseWritesOnlyOwnedFields(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rel := &model.Release{Key: "r1", Org: "acme", Name: "app", Revision: 4, Metrics: model.NewMetrics()}

	vars := saveReleaseBindVars(rel, now)
	assert.Equal(t, map[string]interface{}{
		"key":      "r1",
		"revision": int64(4),
		"next":     int64(5),
		"metrics":  rel.Metrics,
		"now":      now,
	}, vars)

	assert.Contains(t, saveReleaseQuery, "UPDATE r WITH { metrics: @metrics, revision: @next, updated_at: @now }")
	assert.Contains(t, saveReleaseQuery, "r.revision == @revision")
	assert.NotContains(t, saveReleaseQuery, "REPLACE")
}

func TestLockRaceClassification(t *testing.T) {
	conflict := shared.ArangoError{HasError: true, Code: 409, ErrorNum: shared.ErrArangoConflict}
	unique := shared.ArangoError{HasError: true, Code: 409, ErrorNum: shared.ErrArangoUniqueConstraintViolated}
	unavailable := shared.ArangoError{HasError: true, Code: 503, ErrorNum: 503}

	assert.True(t, lostRace(conflict))
	assert.True(t, lostRace(unique))
	assert.True(t, lostRace(fmt.Errorf("query: %w", unique)))
	assert.False(t, lostRace(unavailable))
	assert.False(t, lostRace(errors.New("connection refused")))
}
