package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
)

type staticTokens struct {
	token string
	err   error
	calls atomic.Int32
}

func (s *staticTokens) AccessToken(context.Context) (string, error) {
	s.calls.Add(1)
	return s.token, s.err
}

var fixedNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *staticTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens := &staticTokens{token: "tok-123"}
	c, err := NewClient(Config{BaseURL: srv.URL + "/v1", ProjectID: "demo"}, tokens,
		WithHTTPClient(srv.Client()),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return c, tokens
}

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Auth   string
	Body   map[string]json.RawMessage
}

func capture(t *testing.T, into *capturedRequest, status int, respBody string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		into.Method = r.Method
		into.Path = r.URL.Path
		into.Query = r.URL.Query()
		into.Auth = r.Header.Get("Authorization")
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			var payload struct {
				Fields map[string]json.RawMessage `json:"fields"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				t.Errorf("request body is not json: %v", err)
			}
			into.Body = payload.Fields
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, respBody)
	}
}

func TestClient_Create(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusOK, `{}`))

	err := c.Create(context.Background(), "job-1", "Paris", 2)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/v1/projects/demo/databases/(default)/documents/itineraries", got.Path)
	assert.Equal(t, []string{"job-1"}, got.Query["documentId"])
	assert.Equal(t, "Bearer tok-123", got.Auth)

	assert.JSONEq(t, `{"stringValue":"processing"}`, string(got.Body["status"]))
	assert.JSONEq(t, `{"stringValue":"Paris"}`, string(got.Body["destination"]))
	assert.JSONEq(t, `{"integerValue":"2"}`, string(got.Body["durationDays"]))
	assert.JSONEq(t, `{"timestampValue":"2025-06-01T08:00:00Z"}`, string(got.Body["createdAt"]))
	assert.JSONEq(t, `{"nullValue":null}`, string(got.Body["completedAt"]))
	assert.JSONEq(t, `{"arrayValue":{}}`, string(got.Body["itinerary"]))
	assert.JSONEq(t, `{"nullValue":null}`, string(got.Body["error"]))
}

func TestClient_CreateFailure(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusConflict, `already exists`))

	err := c.Create(context.Background(), "job-1", "Paris", 2)
	require.Error(t, err)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.Status)
	assert.Equal(t, "already exists", se.Body)
}

func TestClient_MarkFailed(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusOK, `{}`))

	require.NoError(t, c.MarkFailed(context.Background(), "job-2", "openai HTTP error: 500"))

	assert.Equal(t, http.MethodPatch, got.Method)
	assert.Equal(t, "/v1/projects/demo/databases/(default)/documents/itineraries/job-2", got.Path)
	assert.ElementsMatch(t, []string{"status", "completedAt", "error"}, got.Query["updateMask.fieldPaths"])
	assert.Len(t, got.Body, 3)
	assert.JSONEq(t, `{"stringValue":"failed"}`, string(got.Body["status"]))
	assert.JSONEq(t, `{"stringValue":"openai HTTP error: 500"}`, string(got.Body["error"]))
	assert.JSONEq(t, `{"timestampValue":"2025-06-01T08:00:00Z"}`, string(got.Body["completedAt"]))
}

func TestClient_MarkCompleted(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusOK, `{}`))

	itinerary := []any{map[string]any{"day": float64(1), "theme": "Art"}}
	require.NoError(t, c.MarkCompleted(context.Background(), "job-3", itinerary))

	assert.Equal(t, http.MethodPatch, got.Method)
	assert.ElementsMatch(t, []string{"status", "completedAt", "itinerary"}, got.Query["updateMask.fieldPaths"])
	assert.Len(t, got.Body, 3)
	assert.JSONEq(t, `{"stringValue":"completed"}`, string(got.Body["status"]))
	assert.JSONEq(t, `{"arrayValue":{"values":[{"mapValue":{"fields":{
		"day":{"integerValue":"1"},
		"theme":{"stringValue":"Art"}
	}}}]}}`, string(got.Body["itinerary"]))
}

func TestClient_PatchFailure(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusForbidden, `denied`))

	err := c.MarkCompleted(context.Background(), "job-3", nil)
	assert.Equal(t, http.StatusForbidden, apperrors.HTTPStatus(err))
}

func TestClient_Read(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusOK, `{
		"name": "projects/demo/databases/(default)/documents/itineraries/job-4",
		"fields": {
			"status": {"stringValue": "completed"},
			"durationDays": {"integerValue": "2"},
			"createdAt": {"timestampValue": "2025-06-01T08:00:00Z"},
			"error": {"nullValue": null},
			"itinerary": {"arrayValue": {"values": [
				{"mapValue": {"fields": {"day": {"integerValue": "1"}}}}
			]}}
		}
	}`))

	doc, err := c.Read(context.Background(), "job-4")
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, got.Method)
	assert.Equal(t, "/v1/projects/demo/databases/(default)/documents/itineraries/job-4", got.Path)
	assert.Equal(t, "completed", doc["status"])
	assert.Equal(t, int64(2), doc["durationDays"])
	assert.Equal(t, fixedNow, doc["createdAt"].(time.Time).UTC())
	assert.Nil(t, doc["error"])
	assert.Equal(t, []any{map[string]any{"day": int64(1)}}, doc["itinerary"])
}

func TestClient_ReadNotFound(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusNotFound, `{"error":{"code":404}}`))

	_, err := c.Read(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClient_ReadServerError(t *testing.T) {
	var got capturedRequest
	c, _ := newTestClient(t, capture(t, &got, http.StatusInternalServerError, `boom`))

	_, err := c.Read(context.Background(), "job")
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperrors.ErrNotFound)

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusInternalServerError, se.Status)
}

func TestClient_ReadMalformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: `<html>`},
		{name: "no fields", body: `{"name":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got capturedRequest
			c, _ := newTestClient(t, capture(t, &got, http.StatusOK, tt.body))

			_, err := c.Read(context.Background(), "job")
			var me *apperrors.MalformedResponseError
			assert.True(t, errors.As(err, &me), "expected malformed response error, got %v", err)
		})
	}
}

func TestClient_TokenFailureSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	authErr := errors.New("invalid private key")
	c, err := NewClient(Config{BaseURL: srv.URL, ProjectID: "demo"}, &staticTokens{err: authErr})
	require.NoError(t, err)

	_, err = c.Read(context.Background(), "job")
	assert.ErrorIs(t, err, authErr)
	assert.Zero(t, hits.Load())
}

func TestClient_FreshTokenPerOperation(t *testing.T) {
	var got capturedRequest
	c, tokens := newTestClient(t, capture(t, &got, http.StatusOK, `{"fields":{}}`))
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "j", "Rome", 1))
	require.NoError(t, c.MarkFailed(ctx, "j", "x"))
	_, err := c.Read(ctx, "j")
	require.NoError(t, err)

	assert.Equal(t, int32(3), tokens.calls.Load())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, &staticTokens{})
	assert.Error(t, err)

	_, err = NewClient(Config{ProjectID: "p"}, nil)
	assert.Error(t, err)
}
