package research

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"

	"github.com/mkravets/chimera/internal/api"
	"github.com/mkravets/chimera/internal/auth"
	"github.com/mkravets/chimera/internal/domain"
	"github.com/mkravets/chimera/internal/stream"
)

const (
	defaultHeartbeat    = 10 * time.Second
	defaultRateLimit    = 10
	defaultRateWindow   = time.Minute
	favoriteTopicsLimit = 5
)

// Handler exposes the query pipeline over HTTP: the SSE stream, the blocking
// query form, chat, and the preferences read endpoint.
type Handler struct {
	orch      *Orchestrator
	heartbeat time.Duration
	limiter   *RateLimiter
}

// HandlerOptions tune the HTTP surface. Zero values fall back to defaults.
type HandlerOptions struct {
	Heartbeat  time.Duration // SSE keepalive interval
	RateLimit  int           // query submissions per caller per window
	RateWindow time.Duration
}

func NewHandler(orch *Orchestrator, opts HandlerOptions) *Handler {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = defaultRateLimit
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = defaultRateWindow
	}
	return &Handler{
		orch:      orch,
		heartbeat: opts.Heartbeat,
		limiter:   NewRateLimiter(opts.RateLimit, opts.RateWindow),
	}
}

// throttled writes the 429 and reports true when the caller has exhausted its
// query budget for the current window.
func (h *Handler) throttled(w http.ResponseWriter, r *http.Request) bool {
	key := auth.UserIDFromContext(r.Context())
	if key == "" {
		key = r.RemoteAddr
		if host, _, err := net.SplitHostPort(key); err == nil {
			key = host
		}
	}
	if h.limiter.Allow(key) {
		return false
	}
	api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
	return true
}

// RegisterRoutes mounts the research endpoints. Callers wrap them with the
// optional-auth middleware so authenticated requests personalize.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/query/stream", h.handleQueryStream)
	r.Post("/api/query", h.handleQuery)
	r.Post("/api/chat", h.handleChat)
	r.Get("/api/preferences", h.handlePreferences)
}

// resultFrame flattens the query result into the terminal SSE payload.
type resultFrame struct {
	Type string `json:"type"`
	*domain.QueryResult
}

// handleQueryStream runs one query and streams its events as data-only SSE
// frames: {"type":"log"} lines, then one {"type":"result"} or
// {"type":"error"}, then {"type":"done"}. GET with query parameters keeps it
// EventSource-compatible.
func (h *Handler) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r) {
		return
	}
	question := strings.TrimSpace(r.URL.Query().Get("question"))
	if question == "" {
		api.Error(w, http.StatusBadRequest, "question parameter required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		api.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	st := h.orch.Submit(r.Context(), QueryRequest{
		UserID:   auth.UserIDFromContext(r.Context()),
		Question: question,
		Persona:  r.URL.Query().Get("persona"),
	})
	defer st.Close()

	events := make(chan stream.Event)
	go func() {
		defer close(events)
		for ev := range st.Subscribe() {
			select {
			case events <- ev:
			case <-r.Context().Done():
				return
			}
		}
	}()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEventFrame(w, flusher, ev); err != nil {
				slog.Warn("SSE write failed", "error", err)
				return
			}
			if ev.Terminal() {
				if err := writeDataFrame(w, flusher, map[string]string{"type": "done"}); err != nil {
					slog.Warn("SSE done frame failed", "error", err)
				}
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func writeEventFrame(w http.ResponseWriter, flusher http.Flusher, ev stream.Event) error {
	if ev.Type == stream.EventResult {
		return writeDataFrame(w, flusher, resultFrame{Type: "result", QueryResult: ev.Result})
	}
	return writeDataFrame(w, flusher, ev)
}

func writeDataFrame(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// queryPayload accepts both the query and question spellings clients use.
type queryPayload struct {
	Query    string `json:"query"`
	Question string `json:"question"`
	Persona  string `json:"persona"`
}

func (p queryPayload) text() string {
	if strings.TrimSpace(p.Question) != "" {
		return p.Question
	}
	return p.Query
}

type queryResponse struct {
	Success bool `json:"success"`
	*domain.QueryResult
}

// handleQuery is the blocking query form: the full result in one JSON
// response, progress collected into agent_log.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r) {
		return
	}
	var payload queryPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.text()) == "" {
		api.Error(w, http.StatusBadRequest, "missing query or question field")
		return
	}

	result, err := h.orch.Ask(r.Context(), QueryRequest{
		UserID:   auth.UserIDFromContext(r.Context()),
		Question: payload.text(),
		Persona:  payload.Persona,
	})
	if err != nil {
		api.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, queryResponse{Success: true, QueryResult: result})
}

type chatPayload struct {
	Message string `json:"message"`
	Context *struct {
		Brief    *domain.Brief         `json:"brief,omitempty"`
		Evidence []domain.EvidenceItem `json:"evidence,omitempty"`
	} `json:"context,omitempty"`
}

type chatResponse struct {
	Success   bool   `json:"success"`
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.throttled(w, r) {
		return
	}
	var payload chatPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := ChatRequest{
		UserID:  auth.UserIDFromContext(r.Context()),
		Message: payload.Message,
	}
	if payload.Context != nil {
		req.Brief = payload.Context.Brief
		req.Evidence = payload.Context.Evidence
	}

	answer, err := h.orch.Chat(r.Context(), req)
	if err != nil {
		if errdefs.IsInvalidArgument(err) {
			api.Error(w, http.StatusBadRequest, "message field required")
			return
		}
		api.Error(w, http.StatusInternalServerError, "chat processing failed")
		return
	}
	api.JSON(w, http.StatusOK, chatResponse{
		Success:   true,
		Response:  answer,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type preferencesResponse struct {
	UserID           string           `json:"user_id,omitempty"`
	PreferredPersona string           `json:"preferred_persona"`
	TotalQueries     int              `json:"total_queries"`
	FavoriteTopics   domain.CountList `json:"favorite_topics"`
	PersonaUsage     domain.CountList `json:"persona_usage"`
	LastActiveAt     *time.Time       `json:"last_active_at,omitempty"`
}

func defaultPreferences() preferencesResponse {
	return preferencesResponse{
		PreferredPersona: domain.DefaultPersona,
		FavoriteTopics:   domain.CountList{},
		PersonaUsage:     domain.CountList{},
	}
}

// handlePreferences serves the preference snapshot. Anonymous callers and
// users with no recorded queries get the empty default rather than an error.
func (h *Handler) handlePreferences(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		api.JSON(w, http.StatusOK, defaultPreferences())
		return
	}

	profile, err := h.orch.Profile(r.Context(), userID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			api.JSON(w, http.StatusOK, defaultPreferences())
			return
		}
		api.Error(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}

	resp := preferencesResponse{
		UserID:           profile.UserID,
		PreferredPersona: profile.PreferredPersona,
		TotalQueries:     profile.TotalQueries,
		FavoriteTopics:   profile.TopTopics(favoriteTopicsLimit),
		PersonaUsage:     profile.PersonaCounts,
	}
	if resp.PreferredPersona == "" {
		resp.PreferredPersona = domain.DefaultPersona
	}
	if !profile.LastActiveAt.IsZero() {
		t := profile.LastActiveAt
		resp.LastActiveAt = &t
	}
	api.JSON(w, http.StatusOK, resp)
}
