package services

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/civicvoice/civicvoice-backend/internal/logger"
)

// MergeLocker takes short advisory locks over the proposals involved in a
// merge. It only narrows the race window; the database compare-and-swap in
// RetireMerged remains the correctness guard.
type MergeLocker interface {
	Acquire(ctx context.Context, ids []uuid.UUID) (release func(), acquired bool)
}

type redisMergeLocker struct {
	log *logger.Logger
	rdb *redis.Client
	ttl time.Duration
}

// NewMergeLocker returns a locker backed by Redis, or a no-op locker when rdb
// is nil so the platform runs without Redis.
func NewMergeLocker(rdb *redis.Client, ttl time.Duration, log *logger.Logger) MergeLocker {
	if rdb == nil {
		return noopMergeLocker{}
	}
	return &redisMergeLocker{
		log: log.With("service", "MergeLocker"),
		rdb: rdb,
		ttl: ttl,
	}
}

func (l *redisMergeLocker) Acquire(ctx context.Context, ids []uuid.UUID) (func(), bool) {
	// Sorted acquisition order keeps two overlapping merges from deadlocking
	// on each other's partial locks.
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, "merge-lock:"+id.String())
	}
	sort.Strings(keys)

	held := make([]string, 0, len(keys))
	release := func() {
		if len(held) == 0 {
			return
		}
		if err := l.rdb.Del(context.Background(), held...).Err(); err != nil {
			l.log.Warn("Failed to release merge locks", "error", err.Error())
		}
	}

	for _, key := range keys {
		ok, err := l.rdb.SetNX(ctx, key, "1", l.ttl).Result()
		if err != nil {
			// Redis being down must not block merges.
			l.log.Warn("Merge lock unavailable, proceeding unlocked", "error", err.Error())
			release()
			return func() {}, true
		}
		if !ok {
			release()
			return func() {}, false
		}
		held = append(held, key)
	}
	return release, true
}

type noopMergeLocker struct{}

func (noopMergeLocker) Acquire(ctx context.Context, ids []uuid.UUID) (func(), bool) {
	return func() {}, true
}
