package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	domainjob "github.com/target/mmk-pageshot/internal/domain/job"
	"github.com/target/mmk-pageshot/internal/domain/model"
	apperrors "github.com/target/mmk-pageshot/internal/errors"
	"github.com/target/mmk-pageshot/internal/service"
)

// DefaultHeartbeatInterval keeps idle SSE connections open through proxies.
const DefaultHeartbeatInterval = 15 * time.Second

const (
	sseEventConnected = "connected"
	sseEventSnapshot  = "snapshot"
	sseEventJob       = "job"
)

// EventHandlers streams job transition events to the owner over server-sent events.
type EventHandlers struct {
	Jobs              *service.JobService
	HeartbeatInterval time.Duration
	Logger            *slog.Logger
}

func (h *EventHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream handles GET /api/events?job_id=&kind=.
// Only the caller's own jobs are delivered. With both job_id and kind set the current
// state of that job is sent first as a snapshot event.
func (h *EventHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := owner(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filter := domainjob.Filter{JobID: q.Get("job_id"), Owner: user, Kind: model.JobKind(q.Get("kind"))}
	if filter.Kind != "" && !filter.Kind.Valid() {
		writeServiceError(w, r, h.logger(), apperrors.ValidationField("kind", "unknown job kind"))
		return
	}

	var snapshot *model.Job
	if filter.JobID != "" && filter.Kind != "" {
		job, err := h.Jobs.Get(r.Context(), user, filter.Kind, filter.JobID)
		if err != nil {
			writeServiceError(w, r, h.logger(), err)
			return
		}
		snapshot = job
	}

	rc := http.NewResponseController(w)
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	events, cancel := h.Jobs.SubscribeEvents(r.Context(), filter)
	defer cancel()

	if err := writeSSE(w, rc, sseEventConnected, "", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"message":   "SSE connection established",
	}); err != nil {
		h.logger().DebugContext(r.Context(), "sse connect write failed", "error", err)
		return
	}
	if snapshot != nil {
		if err := writeSSE(w, rc, sseEventSnapshot, snapshot.ID, snapshot); err != nil {
			return
		}
	}

	h.stream(w, r, rc, events)
}

func (h *EventHandlers) stream(w http.ResponseWriter, r *http.Request, rc *http.ResponseController, events <-chan model.JobEvent) {
	interval := h.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				h.logger().DebugContext(r.Context(), "sse event channel closed")
				return
			}
			if err := writeSSE(w, rc, sseEventJob, ev.JobID+":"+string(ev.Status), ev); err != nil {
				h.logger().DebugContext(r.Context(), "sse write failed", "error", err, "job_id", ev.JobID)
				return
			}
		case <-ticker.C:
			if err := writeHeartbeat(w, rc); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeSSE(w io.Writer, rc *http.ResponseController, event, id string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return fmt.Errorf("write event id: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return flush(rc)
}

func writeHeartbeat(w io.Writer, rc *http.ResponseController) error {
	if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return flush(rc)
}

func flush(rc *http.ResponseController) error {
	if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
