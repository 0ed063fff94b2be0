package research

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkravets/chimera/internal/auth"
	"github.com/mkravets/chimera/internal/domain"
)

var errTestProvider = errors.New("provider unavailable")

func newTestRouter(t *testing.T, synth Synthesizer, prefs Personalizer, conv Conversations) chi.Router {
	t.Helper()
	orch := NewOrchestrator(synth, prefs, conv, nil, nil, Options{})
	r := chi.NewRouter()
	NewHandler(orch, HandlerOptions{Heartbeat: time.Minute}).RegisterRoutes(r)
	return r
}

func sseFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for _, line := range strings.Split(body, "\n") {
		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame map[string]any
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Fatalf("bad SSE frame %q: %v", payload, err)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestQueryStreamWireSequence(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	req := httptest.NewRequest("GET", "/api/query/stream?question=microgravity+bone+loss&persona=Manager", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	frames := sseFrames(t, rec.Body.String())
	if len(frames) < 3 {
		t.Fatalf("got %d frames, want logs + result + done", len(frames))
	}

	if frames[0]["type"] != "log" {
		t.Errorf("first frame type = %v, want log", frames[0]["type"])
	}
	if frames[0]["message"] == "" {
		t.Error("log frame missing message")
	}

	resultIdx := len(frames) - 2
	result := frames[resultIdx]
	if result["type"] != "result" {
		t.Fatalf("frame[%d] type = %v, want result", resultIdx, result["type"])
	}
	brief, ok := result["brief"].(map[string]any)
	if !ok {
		t.Fatalf("result frame has no brief object: %v", result)
	}
	if brief["consensus"] != "Bone loss is consistent." {
		t.Errorf("brief consensus = %v", brief["consensus"])
	}
	if result["persona"] != domain.PersonaManager {
		t.Errorf("result persona = %v, want Manager", result["persona"])
	}
	if _, hasLog := result["agent_log"]; hasLog {
		t.Error("streaming result should not carry agent_log")
	}

	if done := frames[len(frames)-1]; done["type"] != "done" {
		t.Errorf("last frame = %v, want done", done)
	}
}

func TestQueryStreamRequiresQuestion(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/query/stream", nil))

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQueryStreamFailureSequence(t *testing.T) {
	t.Parallel()

	synth := &stubSynth{
		synthesize: func(ctx context.Context, req SynthesisRequest) (*domain.Synthesis, error) {
			return nil, errTestProvider
		},
	}
	router := newTestRouter(t, synth, &fakePrefs{}, &fakeConv{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/query/stream?question=doomed", nil))

	frames := sseFrames(t, rec.Body.String())
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want error + done", len(frames))
	}
	if frames[0]["type"] != "error" {
		t.Errorf("first frame = %v, want error", frames[0])
	}
	if frames[1]["type"] != "done" {
		t.Errorf("last frame = %v, want done", frames[1])
	}
}

func TestQueryBlockingEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	body := strings.NewReader(`{"question": "microgravity bone loss", "persona": "Manager"}`)
	req := httptest.NewRequest("POST", "/api/query", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success           bool     `json:"success"`
		Query             string   `json:"query"`
		Persona           string   `json:"persona"`
		AgentLog          []string `json:"agent_log"`
		FollowUpQuestions []string `json:"follow_up_questions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Persona != domain.PersonaManager {
		t.Errorf("persona = %q", resp.Persona)
	}
	if len(resp.AgentLog) == 0 {
		t.Error("blocking response missing agent_log")
	}
	if len(resp.FollowUpQuestions) == 0 {
		t.Error("response missing follow_up_questions")
	}
}

func TestQueryBlockingAcceptsQueryField(t *testing.T) {
	t.Parallel()

	var seen string
	synth := &stubSynth{
		synthesize: func(ctx context.Context, req SynthesisRequest) (*domain.Synthesis, error) {
			seen = req.Question
			return &domain.Synthesis{Brief: domain.Brief{Consensus: "ok"}}, nil
		},
	}
	router := newTestRouter(t, synth, &fakePrefs{}, &fakeConv{})
	req := httptest.NewRequest("POST", "/api/query", strings.NewReader(`{"query": "legacy field"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if seen != "legacy field" {
		t.Errorf("question passed to synthesis = %q", seen)
	}
}

func TestQueryBlockingValidation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/query", strings.NewReader(`{}`)))
	if rec.Code != 400 {
		t.Errorf("empty payload status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/query", strings.NewReader(`not json`)))
	if rec.Code != 400 {
		t.Errorf("bad JSON status = %d, want 400", rec.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	body := strings.NewReader(`{"message": "what is the consensus?", "context": {"brief": {"consensus": "Bone loss."}}}`)
	req := httptest.NewRequest("POST", "/api/chat", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if !resp.Success || resp.Response != "stub answer" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Timestamp == "" {
		t.Error("response missing timestamp")
	}
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"message": ""}`)))

	if rec.Code != 400 {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestPreferencesAnonymousDefaults(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/preferences", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp preferencesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.PreferredPersona != domain.DefaultPersona {
		t.Errorf("preferred persona = %q, want default", resp.PreferredPersona)
	}
	if resp.TotalQueries != 0 || len(resp.FavoriteTopics) != 0 {
		t.Errorf("anonymous response = %+v, want empty defaults", resp)
	}
}

func TestPreferencesUnknownUserDefaults(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, &stubSynth{}, &fakePrefs{}, &fakeConv{})
	req := httptest.NewRequest("GET", "/api/preferences", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "never-queried"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp preferencesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.TotalQueries != 0 {
		t.Errorf("TotalQueries = %d, want 0", resp.TotalQueries)
	}
}

func TestPreferencesAuthenticated(t *testing.T) {
	t.Parallel()

	prefs := &fakePrefs{profile: domain.PreferenceProfile{
		UserID:           "user-1",
		TotalQueries:     7,
		PreferredPersona: domain.PersonaManager,
		PersonaCounts: domain.CountList{
			{Name: domain.PersonaManager, N: 5},
			{Name: domain.PersonaScientist, N: 2},
		},
		TopicCounts: domain.CountList{
			{Name: "bone", N: 4},
			{Name: "mice", N: 3},
			{Name: "radiation", N: 3},
			{Name: "plant", N: 2},
			{Name: "gene", N: 1},
			{Name: "immune", N: 1},
		},
		LastActiveAt: time.Now().UTC(),
	}}
	router := newTestRouter(t, &stubSynth{}, prefs, &fakeConv{})

	req := httptest.NewRequest("GET", "/api/preferences", nil)
	req = req.WithContext(auth.WithUserID(req.Context(), "user-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp preferencesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if resp.PreferredPersona != domain.PersonaManager {
		t.Errorf("preferred persona = %q", resp.PreferredPersona)
	}
	if resp.TotalQueries != 7 {
		t.Errorf("total queries = %d", resp.TotalQueries)
	}
	if len(resp.FavoriteTopics) != 5 {
		t.Fatalf("favorite topics = %v, want top 5", resp.FavoriteTopics)
	}
	if resp.FavoriteTopics[0].Name != "bone" {
		t.Errorf("top topic = %q, want bone", resp.FavoriteTopics[0].Name)
	}
	// Equal counts order lexicographically.
	if resp.FavoriteTopics[1].Name != "mice" || resp.FavoriteTopics[2].Name != "radiation" {
		t.Errorf("tied topics = %v, want mice before radiation", resp.FavoriteTopics[1:3])
	}
	if resp.LastActiveAt == nil {
		t.Error("missing last_active_at")
	}
}

func TestChatRateLimited(t *testing.T) {
	t.Parallel()

	orch := NewOrchestrator(&stubSynth{}, &fakePrefs{}, &fakeConv{}, nil, nil, Options{})
	r := chi.NewRouter()
	NewHandler(orch, HandlerOptions{Heartbeat: time.Minute, RateLimit: 2, RateWindow: time.Minute}).RegisterRoutes(r)

	post := func(addr string) int {
		req := httptest.NewRequest("POST", "/api/chat", strings.NewReader(`{"message":"what is the consensus?"}`))
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := post("203.0.113.7:4000"); code != 200 {
			t.Fatalf("request %d status = %d, want 200", i+1, code)
		}
	}
	if code := post("203.0.113.7:4000"); code != 429 {
		t.Fatalf("over-limit status = %d, want 429", code)
	}
	// Another caller still has its own budget.
	if code := post("203.0.113.9:4000"); code != 200 {
		t.Fatalf("other caller status = %d, want 200", code)
	}
}
