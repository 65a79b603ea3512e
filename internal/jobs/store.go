package jobs

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
	"github.com/paulgrammer/tripplanner/internal/firestore"
)

// Store persists job documents. Implementations must apply MarkFailed
// and MarkCompleted as partial updates of only the fields they name.
type Store interface {
	Create(ctx context.Context, jobID, destination string, durationDays int) error
	MarkFailed(ctx context.Context, jobID, reason string) error
	MarkCompleted(ctx context.Context, jobID string, itinerary any) error
	Read(ctx context.Context, jobID string) (firestore.Document, error)
}

var _ Store = (*firestore.Client)(nil)

// InMemoryStore keeps encoded documents in process memory. Documents go
// through the same typed-value codec as the Firestore client.
type InMemoryStore struct {
	mu   sync.Mutex
	data map[string]map[string]firestore.Value
	now  func() time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[string]map[string]firestore.Value),
		now:  time.Now,
	}
}

func (s *InMemoryStore) Create(_ context.Context, jobID, destination string, durationDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.data[jobID]; exists {
		return &firestore.StoreError{Service: "memory", Status: http.StatusConflict, Body: "document already exists"}
	}
	s.data[jobID] = map[string]firestore.Value{
		firestore.FieldStatus:       firestore.StringValue(firestore.StatusProcessing),
		firestore.FieldDestination:  firestore.StringValue(destination),
		firestore.FieldDurationDays: firestore.IntegerValue(int64(durationDays)),
		firestore.FieldCreatedAt:    firestore.TimestampValue(s.now()),
		firestore.FieldCompletedAt:  firestore.NullValue(),
		firestore.FieldItinerary:    firestore.ArrayOf(),
		firestore.FieldError:        firestore.NullValue(),
	}
	return nil
}

func (s *InMemoryStore) MarkFailed(_ context.Context, jobID, reason string) error {
	s.patch(jobID, map[string]firestore.Value{
		firestore.FieldStatus:      firestore.StringValue(firestore.StatusFailed),
		firestore.FieldCompletedAt: firestore.TimestampValue(s.now()),
		firestore.FieldError:       firestore.StringValue(reason),
	})
	return nil
}

func (s *InMemoryStore) MarkCompleted(_ context.Context, jobID string, itinerary any) error {
	s.patch(jobID, map[string]firestore.Value{
		firestore.FieldStatus:      firestore.StringValue(firestore.StatusCompleted),
		firestore.FieldCompletedAt: firestore.TimestampValue(s.now()),
		firestore.FieldItinerary:   firestore.Encode(itinerary),
	})
	return nil
}

// patch merges fields into the document, creating it when absent as a
// Firestore PATCH without preconditions does.
func (s *InMemoryStore) patch(jobID string, fields map[string]firestore.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[jobID]
	if !ok {
		doc = make(map[string]firestore.Value, len(fields))
		s.data[jobID] = doc
	}
	for k, v := range fields {
		doc[k] = v
	}
}

func (s *InMemoryStore) Read(_ context.Context, jobID string) (firestore.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.data[jobID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return firestore.Document(firestore.DecodeFields(doc)), nil
}
