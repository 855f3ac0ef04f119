package database

import (
	"context"
	"fmt"
	"time"

	"github.com/ortelius/pdvd-rollup/util"
)

// jobMetadata stores the high-water mark of a periodic job
type jobMetadata struct {
	Key          string `json:"_key"`          // e.g., "rescan-stale-releases"
	LastModified string `json:"last_modified"` // RFC3339 Timestamp
	Type         string `json:"type"`          // "job_metadata"
}

// GetLastRun retrieves the timestamp of the last successful run of a job.
// A job that never ran returns the zero time.
func (s *Store) GetLastRun(ctx context.Context, job string) (time.Time, error) {
	key := util.SanitizeKey(job)
	if key == "" {
		return time.Time{}, nil
	}

	meta, err := queryOne[jobMetadata](ctx, s.db,
		`FOR m IN metadata FILTER m._key == @key LIMIT 1 RETURN m`,
		map[string]interface{}{"key": key})
	if err != nil {
		return time.Time{}, err
	}
	if meta == nil || meta.LastModified == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, meta.LastModified)
}

// SaveLastRun updates the timestamp after a successful run
func (s *Store) SaveLastRun(ctx context.Context, job string, lastRun time.Time) error {
	key := util.SanitizeKey(job)
	if key == "" {
		return fmt.Errorf("cannot save last run for empty job key (original: %s)", job)
	}

	query := `
		UPSERT { _key: @key }
		INSERT { _key: @key, last_modified: @time, type: "job_metadata" }
		UPDATE { last_modified: @time }
		IN metadata
	`
	return exec(ctx, s.db, query, map[string]interface{}{
		"key":  key,
		"time": lastRun.UTC().Format(time.RFC3339),
	})
}
