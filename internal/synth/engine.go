// Package synth is the research collaborator behind the query pipeline: it
// extracts concepts from a question, retrieves matching publications from the
// catalog, composes a structured brief, and tailors follow-up questions to the
// requesting persona. Briefs come from a language model when an API key is
// configured and from rule-based templates otherwise.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkravets/chimera/internal/catalog"
	"github.com/mkravets/chimera/internal/domain"
	"github.com/mkravets/chimera/internal/research"
)

const (
	// searchDepth is how many publications retrieval considers per query.
	searchDepth = 50
	// evidenceLimit caps the citations attached to a brief.
	evidenceLimit = 15
	// promptTitleLimit caps the titles included in the model prompt.
	promptTitleLimit = 20
)

const synthesisSystemPrompt = `You are a scientific analyst for NASA Space Biology research. Given a question and a list of matched publication titles, respond with a single JSON object using exactly these keys:
"consensus": one paragraph stating what the literature agrees on,
"contradictions": array of strings describing conflicting findings (empty array if none),
"knowledge_gaps": array of strings describing what the literature has not yet answered,
"confidence": one of "High Confidence", "Medium Confidence", "Low Confidence".
Respond with the JSON object only, no prose around it.`

const chatSystemPrompt = `You are an expert NASA Space Biology research assistant. Answer questions about space biology research clearly and accurately, grounding your answers in the provided brief and evidence when they are present. Keep responses concise (2-3 paragraphs max).`

// Engine implements the synthesis collaborator over the publication catalog
// and an optional chat-completion backend.
type Engine struct {
	catalog *catalog.Catalog
	llm     *llmClient
}

var _ research.Synthesizer = (*Engine)(nil)

// New builds an engine over the given catalog. An empty apiKey selects
// template-only mode; briefs and chat replies are then rule-based.
func New(cat *catalog.Catalog, baseURL, apiKey, model string) *Engine {
	llm := newLLMClient(baseURL, apiKey, model)
	if llm == nil {
		slog.Info("no LLM API key configured, synthesis runs in template mode")
	}
	return &Engine{catalog: cat, llm: llm}
}

// Generative reports whether a language model backs this engine.
func (e *Engine) Generative() bool {
	return e.llm != nil
}

// Synthesize answers one research question. Stage descriptions go to
// req.Report as the pipeline advances; the final synthesis carries the brief,
// its evidence, and persona-tuned follow-ups.
func (e *Engine) Synthesize(ctx context.Context, req research.SynthesisRequest) (*domain.Synthesis, error) {
	report := req.Report
	if report == nil {
		report = func(string) {}
	}
	if _, err := e.catalog.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading publication corpus: %w", err)
	}

	report("[Query Planner] Extracting key concepts from query...")
	concepts := Extract(req.Question)
	report(fmt.Sprintf("[Query Planner] Identified %d key concepts", len(concepts.All)))

	report("[Data Retrieval] Searching publication corpus...")
	pubs := e.catalog.Search(req.Question, searchDepth)
	report(fmt.Sprintf("[Data Retrieval] Retrieved %d relevant publications", len(pubs)))

	report("[Synthesis Agent] Analyzing findings across matched studies...")
	brief, err := e.composeBrief(ctx, req, concepts, pubs)
	if err != nil {
		return nil, err
	}
	report(fmt.Sprintf("[Knowledge Gap Analyzer] Identified %d knowledge gaps", len(brief.KnowledgeGaps)))
	report(fmt.Sprintf("[Synthesis Agent] Analysis complete: %s", brief.Confidence))

	persona := req.Persona
	if persona == "" {
		persona = domain.DefaultPersona
	}
	report(fmt.Sprintf("[Follow-up Generator] Tailoring insights for persona: %s", persona))

	cited := min(evidenceLimit, len(pubs))
	evidence := make([]domain.EvidenceItem, 0, cited)
	for _, p := range pubs[:cited] {
		evidence = append(evidence, p.Evidence())
	}

	return &domain.Synthesis{
		Brief:     brief,
		Evidence:  evidence,
		Concepts:  concepts.All,
		Topics:    concepts.Topics(),
		FollowUps: followUpQuestions(persona, concepts, brief),
	}, nil
}

// composeBrief picks the synthesis path: empty corpus, template mode, or
// model-backed with template fallback. Context errors pass through so the
// caller can tell a deadline from a provider outage.
func (e *Engine) composeBrief(ctx context.Context, req research.SynthesisRequest, concepts Concepts, pubs []domain.Publication) (domain.Brief, error) {
	if len(pubs) == 0 {
		return emptyBrief(), nil
	}
	if e.llm == nil {
		return ruleBasedBrief(concepts, pubs), nil
	}
	brief, err := e.generateBrief(ctx, req, pubs)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return domain.Brief{}, err
		}
		slog.Warn("model synthesis failed, using rule-based brief", "error", err)
		return ruleBasedBrief(concepts, pubs), nil
	}
	if brief.Confidence == "" {
		brief.Confidence = confidenceFor(len(pubs))
	}
	return brief, nil
}

func (e *Engine) generateBrief(ctx context.Context, req research.SynthesisRequest, pubs []domain.Publication) (domain.Brief, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", req.Question)
	fmt.Fprintf(&b, "Audience persona: %s\n", req.Persona)
	if len(req.Context) > 0 {
		b.WriteString("\nRecent conversation for context:\n")
		for _, m := range lastN(req.Context, 5) {
			fmt.Fprintf(&b, "%s: %s\n", capitalize(m.Role), m.Text)
		}
	}
	b.WriteString("\nMatched publications:\n")
	for i, p := range pubs {
		if i == promptTitleLimit {
			break
		}
		fmt.Fprintf(&b, "%d. %s", i+1, p.Title)
		if p.Year > 0 {
			fmt.Fprintf(&b, " (%d)", p.Year)
		}
		b.WriteByte('\n')
	}

	raw, err := e.llm.complete(ctx, synthesisSystemPrompt, b.String())
	if err != nil {
		return domain.Brief{}, err
	}
	return parseBrief(raw)
}

// Converse answers one chat turn, grounding the reply in the brief and
// evidence the user is currently looking at.
func (e *Engine) Converse(ctx context.Context, req research.ConverseRequest) (string, error) {
	if e.llm == nil {
		return templateResponse(req), nil
	}

	var b strings.Builder
	if req.Brief != nil {
		fmt.Fprintf(&b, "Current research brief:\nConsensus: %s\n", req.Brief.Consensus)
		if len(req.Brief.Contradictions) > 0 {
			fmt.Fprintf(&b, "Contradictions: %s\n", strings.Join(req.Brief.Contradictions, "; "))
		}
		if len(req.Brief.KnowledgeGaps) > 0 {
			fmt.Fprintf(&b, "Knowledge gaps: %s\n", strings.Join(req.Brief.KnowledgeGaps, "; "))
		}
		if req.Brief.Confidence != "" {
			fmt.Fprintf(&b, "Confidence: %s\n", req.Brief.Confidence)
		}
	}
	if len(req.Evidence) > 0 {
		b.WriteString("\nEvidence:\n")
		for i, ev := range req.Evidence {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "%d. %s", i+1, ev.Title)
			if ev.Year > 0 {
				fmt.Fprintf(&b, " (%d)", ev.Year)
			}
			b.WriteByte('\n')
		}
	}
	if len(req.History) > 0 {
		b.WriteString("\nRecent conversation:\n")
		for _, m := range lastN(req.History, 5) {
			fmt.Fprintf(&b, "%s: %s\n", capitalize(m.Role), m.Text)
		}
	}
	fmt.Fprintf(&b, "\nUser question: %s\n", req.Message)

	answer, err := e.llm.complete(ctx, chatSystemPrompt, b.String())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		slog.Warn("model chat failed, using template response", "error", err)
		return templateResponse(req), nil
	}
	return strings.TrimSpace(answer), nil
}

func lastN(msgs []domain.Message, n int) []domain.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
