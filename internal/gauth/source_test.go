package gauth

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSource_MintsEveryCall(t *testing.T) {
	_, pemKey := signingKey(t)
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"abc","expires_in":3600}`)
	src := NewSource(te.minter(), ServiceAccount{ClientEmail: "svc@x", PrivateKey: pemKey})

	for i := 0; i < 3; i++ {
		tok, err := src.AccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	}
	assert.Equal(t, int32(3), te.hits.Load())
}

func TestCachedSource_ReusesUntilNearExpiry(t *testing.T) {
	_, pemKey := signingKey(t)
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"abc","expires_in":3600}`)

	now := mintNow
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	src := NewCachedSource(te.minter(WithClock(clock)), ServiceAccount{ClientEmail: "svc@x", PrivateKey: pemKey})

	for i := 0; i < 3; i++ {
		_, err := src.AccessToken(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), te.hits.Load())

	mu.Lock()
	now = now.Add(time.Hour - 30*time.Second)
	mu.Unlock()

	_, err := src.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), te.hits.Load())
}

func TestCachedSource_ConcurrentCallersShareMint(t *testing.T) {
	_, pemKey := signingKey(t)
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"abc","expires_in":3600}`)
	src := NewCachedSource(te.minter(), ServiceAccount{ClientEmail: "svc@x", PrivateKey: pemKey})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := src.AccessToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "abc", tok)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, te.hits.Load(), int32(8))
	assert.GreaterOrEqual(t, te.hits.Load(), int32(1))
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	te := newTokenEndpoint(t, http.StatusOK, `{"access_token":"abc"}`)
	src := NewCachedSource(te.minter(), ServiceAccount{ClientEmail: "svc@x", PrivateKey: "bad"})

	_, err := src.AccessToken(context.Background())
	require.Error(t, err)
	_, err = src.AccessToken(context.Background())
	require.Error(t, err)
	assert.Zero(t, te.hits.Load())
}
