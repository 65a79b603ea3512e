package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paulgrammer/tripplanner/internal/apperrors"
	"github.com/paulgrammer/tripplanner/internal/jobs"
)

const maxRequestBody = 64 << 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// JobService is the part of jobs.Manager the router depends on.
type JobService interface {
	Submit(ctx context.Context, req jobs.CreateJobRequest) (string, error)
	Get(ctx context.Context, id string) (jobs.Job, error)
	Streamer() *jobs.EventStreamer
}

type Options struct {
	// AllowedOrigin is sent as Access-Control-Allow-Origin.
	AllowedOrigin string
}

type router struct {
	jobs JobService
}

type acceptedResponse struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type pollResponse struct {
	Status    jobs.JobStatus `json:"status"`
	Itinerary any            `json:"itinerary"`
	Error     *string        `json:"error,omitempty"`
}

func NewRouter(svc JobService, opts Options) http.Handler {
	r := &router{jobs: svc}
	m := http.NewServeMux()
	m.HandleFunc("GET /healthz", r.handleHealth)
	m.HandleFunc("POST /itineraries", r.handleStart)
	m.HandleFunc("GET /itineraries", r.handlePoll)
	m.HandleFunc("GET /itineraries/{id}/events", r.handleEvents)
	m.HandleFunc("POST /{$}", r.handleStart)
	m.HandleFunc("GET /{$}", r.handlePoll)
	m.Handle("GET /metrics", promhttp.Handler())
	return logging(cors(opts.AllowedOrigin, m))
}

func (r *router) handleStart(w http.ResponseWriter, req *http.Request) {
	mediaType, _, err := mime.ParseMediaType(req.Header.Get("content-type"))
	if err != nil || mediaType != "application/json" {
		respondWithError(w, http.StatusBadRequest, "content type should be application/json")
		return
	}

	var body struct {
		Destination  *string      `json:"destination"`
		DurationDays *json.Number `json:"durationDays"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxRequestBody))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "request body should be json")
		return
	}

	jobReq, err := toCreateJobRequest(body.Destination, body.DurationDays)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := r.jobs.Submit(req.Context(), jobReq)
	switch {
	case err == nil:
	case apperrors.IsValidation(err):
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrStopped):
		respondWithError(w, http.StatusServiceUnavailable, err.Error())
		return
	default:
		slog.Error("failed to queue job", "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	respondWithJSON(w, http.StatusAccepted, acceptedResponse{
		JobID:   id,
		Status:  "Accepted",
		Message: "Request received, processing",
	})
}

// toCreateJobRequest enforces presence and integrality of the start fields.
func toCreateJobRequest(destination *string, durationDays *json.Number) (jobs.CreateJobRequest, error) {
	if destination == nil || *destination == "" {
		return jobs.CreateJobRequest{}, apperrors.Validation("destination", "is required")
	}
	if durationDays == nil {
		return jobs.CreateJobRequest{}, apperrors.Validation("durationDays", "is required")
	}
	days, err := durationDays.Int64()
	if err != nil {
		return jobs.CreateJobRequest{}, apperrors.Validation("durationDays", "must be an integer")
	}
	req := jobs.CreateJobRequest{Destination: *destination, DurationDays: int(days)}
	return req, req.Validate()
}

func (r *router) handlePoll(w http.ResponseWriter, req *http.Request) {
	id := req.URL.Query().Get("jobId")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "missing job ID in request")
		return
	}
	job, err := r.jobs.Get(req.Context(), id)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "document not found")
			return
		}
		slog.Error("failed to read job", "job_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "error fetching document")
		return
	}
	respondWithJSON(w, http.StatusOK, pollResponse{Status: job.Status, Itinerary: job.Itinerary, Error: job.Error})
}

func (r *router) handleEvents(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "job id required")
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}

	// Subscribe before reading the job so a transition that lands between
	// the read and the subscription is still delivered.
	streamer := r.jobs.Streamer()
	streamer.Subscribe(id, conn)

	// Jobs that already finished get their final state and a close frame.
	if job, err := r.jobs.Get(req.Context(), id); err == nil && job.Status.Terminal() {
		streamer.Unsubscribe(id, conn)
		event := jobs.Event{JobID: id, Status: job.Status, Timestamp: time.Now().UTC()}
		if job.Error != nil {
			event.Error = *job.Error
		}
		_ = conn.WriteJSON(event)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
		conn.Close()
		return
	}
	defer streamer.Unsubscribe(id, conn)
	slog.Debug("event subscriber attached", "job_id", id, "subscribers", streamer.Subscribers(id))

	// Keep the connection open
	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			break
		}
	}
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
