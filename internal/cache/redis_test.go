package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgrammer/tripplanner/internal/jobs"
)

// newTestCache connects to REDIS_TEST_ADDR and skips when it is unset or
// unreachable.
func newTestCache(t *testing.T) (*Redis, redis.UniversalClient) {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", addr, err)
	}

	prefix := "test:itinerary:" + uuid.NewString() + ":"
	t.Cleanup(func() {
		keys, _ := client.Keys(context.Background(), prefix+"*").Result()
		if len(keys) > 0 {
			_ = client.Del(context.Background(), keys...).Err()
		}
	})
	return NewRedisWithPrefix(client, prefix, time.Minute), client
}

func TestRedis_PutGetTerminal(t *testing.T) {
	c, client := newTestCache(t)
	ctx := context.Background()

	reason := "openai HTTP error: 500"
	job := jobs.Job{
		ID:           "job-1",
		Status:       jobs.JobStatusFailed,
		Destination:  "Paris",
		DurationDays: 2,
		CreatedAt:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Itinerary:    []any{},
		Error:        &reason,
	}
	require.NoError(t, c.Put(ctx, job))

	got, ok, err := c.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, job.Status, got.Status)
	assert.Equal(t, job.Destination, got.Destination)
	assert.Equal(t, job.DurationDays, got.DurationDays)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, []any{}, got.Itinerary)
	require.NotNil(t, got.Error)
	assert.Equal(t, reason, *got.Error)

	ttl, err := client.TTL(ctx, c.prefix+"job-1").Result()
	require.NoError(t, err)
	assert.Positive(t, ttl)
}

func TestRedis_SkipsProcessingJobs(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, jobs.Job{ID: "job-2", Status: jobs.JobStatusProcessing}))
	_, ok, err := c.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_Miss(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedis_PutRequiresID(t *testing.T) {
	c := NewRedis(nil, time.Minute)
	assert.Error(t, c.Put(context.Background(), jobs.Job{Status: jobs.JobStatusCompleted}))
}
