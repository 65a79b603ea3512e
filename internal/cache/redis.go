// Package cache provides a Redis-backed store for finished job snapshots.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paulgrammer/tripplanner/internal/jobs"
)

const defaultPrefix = "itinerary:job:"

var _ jobs.SnapshotCache = (*Redis)(nil)

// Redis caches terminal job snapshots. Non-terminal jobs are never stored
// because their documents may still change.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedis(client redis.UniversalClient, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: defaultPrefix, ttl: ttl}
}

// NewRedisWithPrefix creates a cache with a custom key prefix.
func NewRedisWithPrefix(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, jobID string) (jobs.Job, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jobs.Job{}, false, nil
		}
		return jobs.Job{}, false, fmt.Errorf("redis get: %w", err)
	}

	var job jobs.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return jobs.Job{}, false, fmt.Errorf("unmarshal job snapshot: %w", err)
	}
	return job, true, nil
}

func (r *Redis) Put(ctx context.Context, job jobs.Job) error {
	if job.ID == "" {
		return errors.New("job ID cannot be empty")
	}
	if !job.Status.Terminal() {
		return nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	return r.client.Set(ctx, r.prefix+job.ID, data, r.ttl).Err()
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
