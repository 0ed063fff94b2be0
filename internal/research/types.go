// Package research orchestrates personalized query processing: it runs the
// synthesis collaborator, streams progress to the caller, and applies the
// preference and conversation side effects of a completed query.
package research

import (
	"context"

	"github.com/mkravets/chimera/internal/domain"
)

// QueryRequest is one research question submitted on behalf of a user.
// UserID is empty for anonymous queries, which skips personalization.
type QueryRequest struct {
	UserID   string
	Question string
	Persona  string
}

// ChatRequest is one conversational turn. Brief and Evidence optionally carry
// the result the user is currently looking at.
type ChatRequest struct {
	UserID   string
	Message  string
	Brief    *domain.Brief
	Evidence []domain.EvidenceItem
}

// SynthesisRequest is the collaborator input for one query: the question, the
// persona to tailor for, and the user's recent conversation window. Report,
// when non-nil, receives intermediate stage descriptions as they happen.
type SynthesisRequest struct {
	Question string
	Persona  string
	Context  []domain.Message
	Report   func(stage string)
}

// ConverseRequest is the collaborator input for one chat turn.
type ConverseRequest struct {
	Message  string
	History  []domain.Message
	Brief    *domain.Brief
	Evidence []domain.EvidenceItem
}

// Synthesizer is the research collaborator behind the orchestrator. This
// interface is implemented by the synth engine.
type Synthesizer interface {
	// Synthesize answers one research question with a structured brief.
	Synthesize(ctx context.Context, req SynthesisRequest) (*domain.Synthesis, error)

	// Converse answers one free-form chat message.
	Converse(ctx context.Context, req ConverseRequest) (string, error)
}
