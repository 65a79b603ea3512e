package jobs

import (
	"strings"
	"time"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
	"github.com/paulgrammer/tripplanner/internal/firestore"
)

type JobStatus string

const (
	JobStatusProcessing JobStatus = firestore.StatusProcessing
	JobStatusCompleted  JobStatus = firestore.StatusCompleted
	JobStatusFailed     JobStatus = firestore.StatusFailed
)

// Terminal reports whether no further transition can happen.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type CreateJobRequest struct {
	Destination  string `json:"destination"`
	DurationDays int    `json:"durationDays"`
}

// Validate checks the fields required to start a job.
func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Destination) == "" {
		return apperrors.Validation("destination", "is required")
	}
	if r.DurationDays == 0 {
		return apperrors.Validation("durationDays", "is required")
	}
	if r.DurationDays < 0 {
		return apperrors.Validation("durationDays", "must be a positive integer")
	}
	return nil
}

type Job struct {
	ID           string     `json:"jobId"`
	Status       JobStatus  `json:"status"`
	Destination  string     `json:"destination"`
	DurationDays int        `json:"durationDays"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	Itinerary    any        `json:"itinerary"`
	Error        *string    `json:"error"`
}

// JobFromDocument maps a decoded store document onto a Job.
func JobFromDocument(id string, doc firestore.Document) Job {
	job := Job{ID: id}
	if s, ok := doc[firestore.FieldStatus].(string); ok {
		job.Status = JobStatus(s)
	}
	if s, ok := doc[firestore.FieldDestination].(string); ok {
		job.Destination = s
	}
	switch n := doc[firestore.FieldDurationDays].(type) {
	case int64:
		job.DurationDays = int(n)
	case float64:
		job.DurationDays = int(n)
	}
	if t, ok := doc[firestore.FieldCreatedAt].(time.Time); ok {
		job.CreatedAt = t
	}
	if t, ok := doc[firestore.FieldCompletedAt].(time.Time); ok {
		job.CompletedAt = &t
	}
	job.Itinerary = doc[firestore.FieldItinerary]
	if s, ok := doc[firestore.FieldError].(string); ok {
		job.Error = &s
	}
	return job
}
