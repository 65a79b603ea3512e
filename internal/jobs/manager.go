package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
	"github.com/paulgrammer/tripplanner/internal/generator"
)

var (
	ErrStopped   = errors.New("manager stopped")
	ErrQueueFull = errors.New("job queue full")
)

// SnapshotCache holds terminal job snapshots for the poll path.
type SnapshotCache interface {
	Get(ctx context.Context, jobID string) (Job, bool, error)
	Put(ctx context.Context, job Job) error
}

type task struct {
	id           string
	destination  string
	durationDays int
}

type ManagerOption func(*Manager)

// WithSnapshotCache serves repeated polls of finished jobs from cache.
func WithSnapshotCache(cache SnapshotCache) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager accepts jobs and runs each one to a terminal state on a
// background worker. The request that submitted a job never waits for it.
type Manager struct {
	concurrency int
	jobsChan    chan task
	wg          sync.WaitGroup
	mu          sync.RWMutex
	stopped     atomic.Bool
	store       Store
	generator   generator.Generator
	streamer    *EventStreamer
	cache       SnapshotCache
	logger      *slog.Logger
}

func NewManager(poolSize, queueSize int, store Store, gen generator.Generator, streamer *EventStreamer, opts ...ManagerOption) (*Manager, error) {
	if poolSize <= 0 {
		return nil, errors.New("pool size must be > 0")
	}
	if queueSize <= 0 {
		return nil, errors.New("queue size must be > 0")
	}
	if store == nil || gen == nil {
		return nil, errors.New("store and generator are required")
	}
	if streamer == nil {
		streamer = NewEventStreamer()
	}

	m := &Manager{
		concurrency: poolSize,
		jobsChan:    make(chan task, queueSize),
		store:       store,
		generator:   gen,
		streamer:    streamer,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	for i := 0; i < m.concurrency; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for t := range m.jobsChan {
				JobsQueued.Dec()
				m.execute(t)
			}
		}()
	}
	return m, nil
}

// Stop refuses new jobs, then waits for queued and running jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped.Swap(true) {
		m.mu.Unlock()
		return
	}
	close(m.jobsChan)
	m.mu.Unlock()
	m.wg.Wait()
}

// Submit validates req and hands it to the worker pool. The returned id
// is usable for polling immediately, although the job document is only
// written once a worker picks the job up.
func (m *Manager) Submit(ctx context.Context, req CreateJobRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped.Load() {
		return "", ErrStopped
	}

	t := task{id: uuid.NewString(), destination: req.Destination, durationDays: req.DurationDays}
	select {
	case m.jobsChan <- t:
	default:
		return "", ErrQueueFull
	}
	JobsAcceptedTotal.Inc()
	JobsQueued.Inc()
	m.logger.InfoContext(ctx, "job accepted", "job_id", t.id, "destination", t.destination, "duration_days", t.durationDays)
	return t.id, nil
}

// Get reads the current state of a job. Unknown ids yield apperrors.ErrNotFound.
func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	if m.cache != nil {
		job, ok, err := m.cache.Get(ctx, id)
		if err != nil {
			m.logger.WarnContext(ctx, "snapshot cache read failed", "job_id", id, "error", err)
		} else if ok {
			return job, nil
		}
	}

	doc, err := m.store.Read(ctx, id)
	if err != nil {
		return Job{}, err
	}
	job := JobFromDocument(id, doc)

	if m.cache != nil && job.Status.Terminal() {
		if err := m.cache.Put(ctx, job); err != nil {
			m.logger.WarnContext(ctx, "snapshot cache write failed", "job_id", id, "error", err)
		}
	}
	return job, nil
}

// Streamer exposes the status event streamer for subscription handlers.
func (m *Manager) Streamer() *EventStreamer {
	return m.streamer
}

// execute drives one job: create document, generate, record the outcome.
// Calls run strictly in sequence and failures never propagate further
// than this function.
func (m *Manager) execute(t task) {
	ctx := context.Background()
	log := m.logger.With("job_id", t.id)
	defer m.streamer.Close(t.id)

	if err := m.store.Create(ctx, t.id, t.destination, t.durationDays); err != nil {
		log.Error("failed to create document", "error", err)
		JobsAbortedTotal.Inc()
		return
	}
	m.publish(t.id, JobStatusProcessing, "")

	JobsInProgress.Inc()
	result, err := m.generator.Generate(ctx, t.destination, t.durationDays)
	JobsInProgress.Dec()
	if err != nil {
		reason := err.Error()
		attrs := []any{"error", reason}
		if status := apperrors.HTTPStatus(err); status != 0 {
			attrs = append(attrs, "upstream_status", status)
		}
		log.Warn("itinerary generation failed", attrs...)
		if ferr := m.store.MarkFailed(ctx, t.id, reason); ferr != nil {
			log.Error("failed to change document status to failed", "error", ferr)
			JobsStuckTotal.Inc()
			return
		}
		JobsFailedTotal.Inc()
		m.publish(t.id, JobStatusFailed, reason)
		return
	}
	GenerationDuration.Observe(result.Duration.Seconds())

	if err := m.store.MarkCompleted(ctx, t.id, result.Itinerary); err != nil {
		// The document stays in processing; there is no compensating write.
		log.Error("failed to complete document", "error", fmt.Errorf("mark completed: %w", err))
		JobsStuckTotal.Inc()
		return
	}
	JobsCompletedTotal.Inc()
	m.publish(t.id, JobStatusCompleted, "")
	log.Info("job completed", "duration", result.Duration.String())
}

func (m *Manager) publish(id string, status JobStatus, reason string) {
	m.streamer.Broadcast(Event{
		JobID:     id,
		Status:    status,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	})
}
