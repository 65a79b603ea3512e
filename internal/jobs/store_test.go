package jobs

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
	"github.com/paulgrammer/tripplanner/internal/firestore"
)

func fixedStore(now time.Time) *InMemoryStore {
	s := NewInMemoryStore()
	s.now = func() time.Time { return now }
	return s
}

func TestInMemoryStore_CreateWritesInitialDocument(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := fixedStore(now)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "j1", "Paris", 2))

	doc, err := s.Read(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, firestore.Document{
		"status":       "processing",
		"destination":  "Paris",
		"durationDays": int64(2),
		"createdAt":    now,
		"completedAt":  nil,
		"itinerary":    []any{},
		"error":        nil,
	}, doc)
}

func TestInMemoryStore_CreateTwiceConflicts(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "j1", "Paris", 2))

	err := s.Create(ctx, "j1", "Rome", 3)
	var se *firestore.StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
}

func TestInMemoryStore_MarkFailedTouchesOnlyItsFields(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := fixedStore(now)
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "j1", "Paris", 2))

	s.now = func() time.Time { return now.Add(time.Minute) }
	require.NoError(t, s.MarkFailed(ctx, "j1", "openai HTTP error: 500"))

	doc, err := s.Read(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "failed", doc["status"])
	assert.Equal(t, "openai HTTP error: 500", doc["error"])
	assert.Equal(t, now.Add(time.Minute), doc["completedAt"])
	assert.Equal(t, now, doc["createdAt"])
	assert.Equal(t, "Paris", doc["destination"])
	assert.Equal(t, []any{}, doc["itinerary"])
}

func TestInMemoryStore_MarkCompletedOnMissingDocumentCreatesIt(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.MarkCompleted(ctx, "ghost", []any{"x"}))

	doc, err := s.Read(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "completed", doc["status"])
	assert.Equal(t, []any{"x"}, doc["itinerary"])
	assert.NotContains(t, doc, "destination")
}

func TestInMemoryStore_ReadUnknown(t *testing.T) {
	_, err := NewInMemoryStore().Read(context.Background(), "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
