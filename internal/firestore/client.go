// Package firestore is a minimal Firestore REST client for job documents
// together with the typed-value codec used on the wire.
package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
)

const (
	DefaultBaseURL    = "https://firestore.googleapis.com/v1"
	DefaultDatabase   = "(default)"
	DefaultCollection = "itineraries"

	serviceName  = "firestore"
	maxBodyBytes = 4 << 20
)

// Job document field names and status literals.
const (
	FieldStatus       = "status"
	FieldDestination  = "destination"
	FieldDurationDays = "durationDays"
	FieldCreatedAt    = "createdAt"
	FieldCompletedAt  = "completedAt"
	FieldItinerary    = "itinerary"
	FieldError        = "error"

	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// StoreError is the error returned for a non-success store response.
type StoreError = apperrors.UpstreamHTTPError

// Document is a decoded document: field name to plain Go value.
type Document map[string]any

// TokenSource supplies a bearer credential for each store request.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Config addresses the collection that holds job documents.
type Config struct {
	BaseURL    string
	ProjectID  string
	Database   string
	Collection string
}

type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for store requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClock overrides the time source used for createdAt/completedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

type Client struct {
	cfg    Config
	http   *http.Client
	tokens TokenSource
	now    func() time.Time
}

func NewClient(cfg Config, tokens TokenSource, opts ...Option) (*Client, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	if tokens == nil {
		return nil, errors.New("firestore: token source is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{},
		tokens: tokens,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) collectionURL() string {
	return fmt.Sprintf("%s/projects/%s/databases/%s/documents/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.ProjectID), c.cfg.Database, url.PathEscape(c.cfg.Collection))
}

func (c *Client) documentURL(jobID string) string {
	return c.collectionURL() + "/" + url.PathEscape(jobID)
}

// Create writes a new job document in the processing state.
func (c *Client) Create(ctx context.Context, jobID, destination string, durationDays int) error {
	fields := map[string]Value{
		FieldStatus:       StringValue(StatusProcessing),
		FieldDestination:  StringValue(destination),
		FieldDurationDays: IntegerValue(int64(durationDays)),
		FieldCreatedAt:    TimestampValue(c.now()),
		FieldCompletedAt:  NullValue(),
		FieldItinerary:    ArrayOf(),
		FieldError:        NullValue(),
	}
	q := url.Values{}
	q.Set("documentId", jobID)
	u := c.collectionURL() + "?" + q.Encode()

	_, err := c.do(ctx, http.MethodPost, u, fields)
	return err
}

// MarkFailed moves a job to failed, touching only status, completedAt and error.
func (c *Client) MarkFailed(ctx context.Context, jobID, reason string) error {
	return c.patch(ctx, jobID, map[string]Value{
		FieldStatus:      StringValue(StatusFailed),
		FieldCompletedAt: TimestampValue(c.now()),
		FieldError:       StringValue(reason),
	})
}

// MarkCompleted moves a job to completed, touching only status,
// completedAt and itinerary.
func (c *Client) MarkCompleted(ctx context.Context, jobID string, itinerary any) error {
	return c.patch(ctx, jobID, map[string]Value{
		FieldStatus:      StringValue(StatusCompleted),
		FieldCompletedAt: TimestampValue(c.now()),
		FieldItinerary:   Encode(itinerary),
	})
}

// Read fetches and decodes a job document. A missing document yields
// apperrors.ErrNotFound.
func (c *Client) Read(ctx context.Context, jobID string) (Document, error) {
	body, err := c.do(ctx, http.MethodGet, c.documentURL(jobID), nil)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Name   string           `json:"name"`
		Fields map[string]Value `json:"fields"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &apperrors.MalformedResponseError{Service: serviceName, Reason: "response not in valid json", Err: err}
	}
	if doc.Fields == nil {
		return nil, &apperrors.MalformedResponseError{Service: serviceName, Reason: "invalid document structure"}
	}
	return Document(DecodeFields(doc.Fields)), nil
}

// patch applies fields with an update mask naming exactly those fields.
func (c *Client) patch(ctx context.Context, jobID string, fields map[string]Value) error {
	paths := make([]string, 0, len(fields))
	for name := range fields {
		paths = append(paths, name)
	}
	sort.Strings(paths)

	q := url.Values{}
	for _, p := range paths {
		q.Add("updateMask.fieldPaths", p)
	}
	u := c.documentURL(jobID) + "?" + q.Encode()

	_, err := c.do(ctx, http.MethodPatch, u, fields)
	return err
}

func (c *Client) do(ctx context.Context, method, u string, fields map[string]Value) ([]byte, error) {
	token, err := c.tokens.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("firestore: access token: %w", err)
	}

	var body io.Reader
	if fields != nil {
		payload, err := json.Marshal(struct {
			Fields map[string]Value `json:"fields"`
		}{Fields: fields})
		if err != nil {
			return nil, fmt.Errorf("firestore: encode document: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("authorization", "Bearer "+token)
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firestore: %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("firestore: read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return nil, apperrors.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Debug("firestore request failed", "method", method, "status", resp.StatusCode)
		return nil, &StoreError{Service: serviceName, Status: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
