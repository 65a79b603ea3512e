package jobs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is pushed to status subscribers on every transition.
type Event struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventStreamer manages websocket subscribers for job status events
type EventStreamer struct {
	mu          sync.Mutex
	subscribers map[string][]*websocket.Conn
}

// NewEventStreamer creates a new EventStreamer
func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[string][]*websocket.Conn),
	}
}

// Subscribe adds a new subscriber to a job's event stream
func (es *EventStreamer) Subscribe(jobID string, conn *websocket.Conn) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.subscribers[jobID] = append(es.subscribers[jobID], conn)
}

// Unsubscribe removes a subscriber from a job's event stream
func (es *EventStreamer) Unsubscribe(jobID string, conn *websocket.Conn) {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.remove(jobID, conn)
}

func (es *EventStreamer) remove(jobID string, conn *websocket.Conn) {
	subscribers := es.subscribers[jobID]
	for i, s := range subscribers {
		if s == conn {
			es.subscribers[jobID] = append(subscribers[:i], subscribers[i+1:]...)
			break
		}
	}
	if len(es.subscribers[jobID]) == 0 {
		delete(es.subscribers, jobID)
	}
}

// Subscribers returns the number of open subscriptions for a job.
func (es *EventStreamer) Subscribers(jobID string) int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.subscribers[jobID])
}

// Broadcast sends an event to all subscribers of a job. Connections that
// fail to accept the write are closed and dropped.
func (es *EventStreamer) Broadcast(event Event) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, conn := range append([]*websocket.Conn(nil), es.subscribers[event.JobID]...) {
		if err := conn.WriteJSON(event); err != nil {
			slog.Debug("dropping event subscriber", "job_id", event.JobID, "error", err)
			conn.Close()
			es.remove(event.JobID, conn)
		}
	}
}

// Close closes all connections for a job
func (es *EventStreamer) Close(jobID string) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, conn := range es.subscribers[jobID] {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
		conn.Close()
	}
	delete(es.subscribers, jobID)
}
