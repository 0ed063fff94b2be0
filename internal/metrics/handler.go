package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkravets/chimera/internal/api"
)

const defaultStreamInterval = 2 * time.Second

// Handler streams live performance snapshots to dashboard clients.
type Handler struct {
	metrics  *Metrics
	interval time.Duration
}

func NewHandler(m *Metrics, interval time.Duration) *Handler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	return &Handler{metrics: m, interval: interval}
}

// RegisterRoutes mounts the performance stream endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/metrics-stream", h.handleStream)
}

type performanceFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Snapshot
}

// handleStream pushes a performance frame immediately, then on every tick
// until the client disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.writeFrame(w, flusher); err != nil {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := h.writeFrame(w, flusher); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeFrame(w http.ResponseWriter, flusher http.Flusher) error {
	frame := performanceFrame{
		Type:      "performance_update",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Snapshot:  h.metrics.Snapshot(),
	}
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
