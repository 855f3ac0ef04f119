package database

import (
	"context"
	"fmt"
	"time"

	"github.com/arangodb/go-driver/v2/arangodb"
	"github.com/arangodb/go-driver/v2/arangodb/shared"
	"github.com/google/uuid"
	"github.com/ortelius/pdvd-rollup/util"
)

// AdvisoryLock is a cluster-wide, non-blocking lock backed by documents in
// the job_lock collection. A lock whose holder stopped renewing it is
// reclaimed once expires_at has passed.
type AdvisoryLock struct {
	db    arangodb.Database
	owner string
	ttl   time.Duration
	now   func() time.Time
}

// NewAdvisoryLock returns a lock client with a unique owner id.
func NewAdvisoryLock(conn DBConnection, ttl time.Duration) *AdvisoryLock {
	return &AdvisoryLock{
		db:    conn.Database,
		owner: uuid.NewString(),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Owner is the id written into held lock documents.
func (l *AdvisoryLock) Owner() string {
	return l.owner
}

// lostRace reports whether err is a concurrent writer taking the lock
// document first, as opposed to a failing database.
func lostRace(err error) bool {
	return shared.IsArangoErrorWithErrorNum(err, shared.ErrArangoConflict, shared.ErrArangoUniqueConstraintViolated)
}

// TryAcquire takes the lock if it is free, expired or already ours. It never
// blocks; a concurrent writer winning the race yields (false, nil). Any other
// failure is returned.
func (l *AdvisoryLock) TryAcquire(ctx context.Context, key string) (bool, error) {
	key = util.SanitizeKey(key)
	if key == "" {
		return false, fmt.Errorf("lock key must not be empty")
	}

	now := l.now().UTC()
	query := `
		LET existing = DOCUMENT("job_lock", @key)
		FILTER existing == null OR existing.owner == @owner OR existing.expires_at < @now
		UPSERT { _key: @key }
		INSERT { _key: @key, owner: @owner, acquired_at: @now, expires_at: @expires }
		UPDATE { owner: @owner, acquired_at: @now, expires_at: @expires }
		IN job_lock
		RETURN NEW.owner
	`
	owner, err := queryOne[string](ctx, l.db, query, map[string]interface{}{
		"key":     key,
		"owner":   l.owner,
		"now":     now.UnixMilli(),
		"expires": now.Add(l.ttl).UnixMilli(),
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if lostRace(err) {
			logger.Sugar().Debugf("Advisory lock %s not acquired: %v", key, err)
			return false, nil
		}
		return false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return owner != nil && *owner == l.owner, nil
}

// Extend pushes the expiry of a lock we hold one TTL into the future. It
// returns false when the lock expired and was taken over, or was removed.
func (l *AdvisoryLock) Extend(ctx context.Context, key string) (bool, error) {
	now := l.now().UTC()
	query := `
		FOR l IN job_lock
			FILTER l._key == @key AND l.owner == @owner
			UPDATE l WITH { expires_at: @expires } IN job_lock
			RETURN NEW.owner
	`
	owner, err := queryOne[string](ctx, l.db, query, map[string]interface{}{
		"key":     util.SanitizeKey(key),
		"owner":   l.owner,
		"expires": now.Add(l.ttl).UnixMilli(),
	})
	if err != nil {
		if lostRace(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to extend lock %s: %w", key, err)
	}
	return owner != nil, nil
}

// Release drops the lock if we still hold it.
func (l *AdvisoryLock) Release(ctx context.Context, key string) error {
	query := `
		FOR l IN job_lock
			FILTER l._key == @key AND l.owner == @owner
			REMOVE l IN job_lock
	`
	if err := exec(ctx, l.db, query, map[string]interface{}{
		"key":   util.SanitizeKey(key),
		"owner": l.owner,
	}); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	return nil
}
