package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mkravets/chimera/internal/domain"
	"github.com/mkravets/chimera/internal/metrics"
	"github.com/mkravets/chimera/internal/stream"
)

const (
	defaultQueryTimeout = 60 * time.Second
	defaultWindow       = 5
)

// Personalizer learns per-user preferences from completed queries.
type Personalizer interface {
	RecordQuery(ctx context.Context, userID, persona string, topics []string) error
	GetProfile(ctx context.Context, userID string) (domain.PreferenceProfile, error)
}

// Conversations is the per-user dialogue memory feeding synthesis context.
type Conversations interface {
	Append(ctx context.Context, userID string, msg domain.Message) error
	RecentWindow(ctx context.Context, userID string, n int) []domain.Message
}

// Options tune one orchestrator.
type Options struct {
	// Timeout bounds one query end to end. Zero means 60s.
	Timeout time.Duration
	// BufferSize is the per-query event stream capacity. Zero uses the
	// stream package default.
	BufferSize int
	// Window is how many recent messages feed synthesis context. Zero means 5.
	Window int
}

// Orchestrator drives the query pipeline: synthesis, ordered progress
// streaming, and the personalization side effects of success.
type Orchestrator struct {
	synth   Synthesizer
	prefs   Personalizer
	conv    Conversations
	audit   *AuditLog
	stats   *metrics.Metrics
	timeout time.Duration
	buffer  int
	window  int
}

// NewOrchestrator wires the pipeline. audit and stats may be nil; prefs and
// conv may be nil for a stateless deployment, which disables personalization.
func NewOrchestrator(synth Synthesizer, prefs Personalizer, conv Conversations, audit *AuditLog, stats *metrics.Metrics, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultQueryTimeout
	}
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	return &Orchestrator{
		synth:   synth,
		prefs:   prefs,
		conv:    conv,
		audit:   audit,
		stats:   stats,
		timeout: opts.Timeout,
		buffer:  opts.BufferSize,
		window:  opts.Window,
	}
}

// canonicalPersona maps unknown or empty persona names to the default.
func canonicalPersona(p string) string {
	switch p {
	case domain.PersonaScientist, domain.PersonaArchitect, domain.PersonaManager:
		return p
	default:
		return domain.DefaultPersona
	}
}

// Submit starts one query and returns its event stream immediately. The
// pipeline runs in the background: progress events arrive in order, followed
// by exactly one terminal result or error. Closing the stream from the
// consumer side cancels the pipeline.
func (o *Orchestrator) Submit(ctx context.Context, req QueryRequest) *stream.Stream {
	st := stream.New(o.buffer)
	if o.stats != nil {
		o.stats.StreamOpened()
	}
	go func() {
		if o.stats != nil {
			defer o.stats.StreamClosed()
		}
		runCtx, cancel := context.WithTimeout(ctx, o.timeout)
		defer cancel()

		finished := make(chan struct{})
		defer close(finished)
		go func() {
			select {
			case <-st.Done():
				cancel()
			case <-finished:
			}
		}()

		o.execute(runCtx, req, st.Send)
	}()
	return st
}

// Ask runs one query to completion, collecting progress into the result's
// agent log. It is the blocking form of Submit for non-streaming clients.
func (o *Orchestrator) Ask(ctx context.Context, req QueryRequest) (*domain.QueryResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		agentLog []string
		result   *domain.QueryResult
		failure  string
	)
	o.execute(runCtx, req, func(ev stream.Event) error {
		switch ev.Type {
		case stream.EventLog:
			agentLog = append(agentLog, ev.Message)
		case stream.EventResult:
			result = ev.Result
		case stream.EventError:
			failure = ev.Message
		}
		return nil
	})

	if result == nil {
		if failure == "" {
			failure = "query processing failed"
		}
		return nil, errors.New(failure)
	}
	result.AgentLog = agentLog
	return result, nil
}

// execute runs the pipeline, emitting every event through emit. The sequence
// is always progress events then one terminal event. Side effects apply only
// on success, before the result is delivered, and never under a canceled
// context.
func (o *Orchestrator) execute(ctx context.Context, req QueryRequest, emit func(stream.Event) error) {
	started := time.Now()
	question := strings.TrimSpace(req.Question)
	persona := canonicalPersona(req.Persona)

	outcome := metrics.OutcomeFailed
	defer func() {
		if o.stats != nil {
			o.stats.RecordQuery(persona, outcome, time.Since(started))
		}
	}()

	if question == "" {
		_ = emit(stream.Failure("Question must not be empty."))
		return
	}

	var window []domain.Message
	if req.UserID != "" && o.conv != nil {
		window = o.conv.RecentWindow(ctx, req.UserID, o.window)
	}

	syn, err := o.synth.Synthesize(ctx, SynthesisRequest{
		Question: question,
		Persona:  persona,
		Context:  window,
		Report: func(stage string) {
			_ = emit(stream.Progress(stage))
		},
	})
	if err != nil {
		outcome = o.failQuery(err, emit)
		return
	}

	// Cancellation observed here, before any mutation, stops the query with
	// no side effects at all.
	if err := ctx.Err(); err != nil {
		outcome = o.failQuery(err, emit)
		return
	}

	o.applySideEffects(ctx, req.UserID, question, persona, syn)

	result := &domain.QueryResult{
		Query:               question,
		Persona:             persona,
		Brief:               syn.Brief,
		Evidence:            syn.Evidence,
		HighlightedConcepts: syn.Concepts,
		FollowUpQuestions:   syn.FollowUps,
	}
	outcome = metrics.OutcomeCompleted
	_ = emit(stream.Progress("[System] ✓ Analysis complete. Preparing results..."))
	_ = emit(stream.Result(result))
}

func (o *Orchestrator) failQuery(err error, emit func(stream.Event) error) string {
	outcome := metrics.OutcomeFailed
	msg := "Query processing failed: " + err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = metrics.OutcomeTimeout
		msg = "Synthesis timed out before completing. Try a narrower question."
	case errors.Is(err, context.Canceled):
		msg = "Query canceled before completion."
	}
	slog.Warn("query failed", "error", err)
	_ = emit(stream.Failure(msg))
	return outcome
}

// applySideEffects runs the post-success mutations for authenticated users:
// preference learning, the transcript append, and the audit row. The detached
// context lets writes already under way finish even if the request context
// dies mid-flight. Individual failures degrade to warnings; the result is
// delivered regardless.
func (o *Orchestrator) applySideEffects(ctx context.Context, userID, question, persona string, syn *domain.Synthesis) {
	if userID == "" {
		return
	}
	detached := context.WithoutCancel(ctx)

	if o.prefs != nil {
		if err := o.prefs.RecordQuery(detached, userID, persona, syn.Topics); err != nil {
			slog.Warn("preference update failed, continuing without personalization",
				"user_id", userID, "error", err)
		}
	}
	if o.conv != nil {
		now := time.Now().UTC()
		if err := o.conv.Append(detached, userID, domain.Message{
			Role: domain.RoleUser, Text: question, OccurredAt: now,
		}); err != nil {
			slog.Warn("conversation append failed", "user_id", userID, "error", err)
		}
		if err := o.conv.Append(detached, userID, domain.Message{
			Role: domain.RoleAssistant, Text: syn.Brief.Consensus, OccurredAt: now,
		}); err != nil {
			slog.Warn("conversation append failed", "user_id", userID, "error", err)
		}
	}
	if o.audit != nil {
		o.audit.Record(domain.QueryRecord{
			UserID:     userID,
			Question:   question,
			Persona:    persona,
			Topics:     syn.Topics,
			OccurredAt: time.Now().UTC(),
		})
	}
}

// Chat answers one conversational turn. Authenticated exchanges are appended
// to the user's window so later queries see them as context.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (string, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return "", fmt.Errorf("chat message required: %w", errdefs.ErrInvalidArgument)
	}

	var history []domain.Message
	if req.UserID != "" && o.conv != nil {
		history = o.conv.RecentWindow(ctx, req.UserID, o.window)
	}

	answer, err := o.synth.Converse(ctx, ConverseRequest{
		Message:  message,
		History:  history,
		Brief:    req.Brief,
		Evidence: req.Evidence,
	})
	if err != nil {
		return "", fmt.Errorf("chat synthesis: %w", err)
	}
	if o.stats != nil {
		o.stats.RecordChat()
	}

	if req.UserID != "" && o.conv != nil {
		detached := context.WithoutCancel(ctx)
		now := time.Now().UTC()
		if err := o.conv.Append(detached, req.UserID, domain.Message{
			Role: domain.RoleUser, Text: message, OccurredAt: now,
		}); err != nil {
			slog.Warn("conversation append failed", "user_id", req.UserID, "error", err)
		}
		if err := o.conv.Append(detached, req.UserID, domain.Message{
			Role: domain.RoleAssistant, Text: answer, OccurredAt: now,
		}); err != nil {
			slog.Warn("conversation append failed", "user_id", req.UserID, "error", err)
		}
	}
	return answer, nil
}

// Profile returns the user's preference snapshot, or errdefs.ErrNotFound for
// users with no recorded queries.
func (o *Orchestrator) Profile(ctx context.Context, userID string) (domain.PreferenceProfile, error) {
	if o.prefs == nil {
		return domain.PreferenceProfile{}, fmt.Errorf("personalization disabled: %w", errdefs.ErrNotFound)
	}
	return o.prefs.GetProfile(ctx, userID)
}
