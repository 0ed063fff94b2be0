package synth

import (
	"fmt"
	"strings"

	"github.com/mkravets/chimera/internal/research"
)

// templateResponse answers a chat turn without a language model, keyed on
// what the message appears to ask about. Replies reference the loaded brief
// and evidence when the request carries them.
func templateResponse(req research.ConverseRequest) string {
	lower := strings.ToLower(req.Message)
	brief := req.Brief

	switch {
	case containsAny(lower, "consensus", "agree", "summary"):
		if brief != nil && brief.Consensus != "" {
			return fmt.Sprintf("The current synthesis found the following consensus: %s", brief.Consensus)
		}
		return "Run a research query first and I can walk you through the consensus it finds."

	case containsAny(lower, "contradiction", "conflict", "disagree"):
		if brief != nil && len(brief.Contradictions) > 0 {
			return fmt.Sprintf("The synthesis flagged %d conflicting findings: %s",
				len(brief.Contradictions), strings.Join(brief.Contradictions, " "))
		}
		return "No contradictions were flagged in the current synthesis. That usually means the matched studies point the same way."

	case containsAny(lower, "gap", "missing", "unknown", "lacking"):
		if brief != nil && len(brief.KnowledgeGaps) > 0 {
			return fmt.Sprintf("Identified knowledge gaps: %s", strings.Join(brief.KnowledgeGaps, " "))
		}
		return "No knowledge gaps are loaded yet. Submit a query and I can point out where the literature is thin."

	case containsAny(lower, "evidence", "source", "publication", "paper", "cite"):
		if len(req.Evidence) > 0 {
			titles := make([]string, 0, 3)
			for i, ev := range req.Evidence {
				if i == 3 {
					break
				}
				titles = append(titles, ev.Title)
			}
			return fmt.Sprintf("The brief draws on %d publications. Top sources: %s.",
				len(req.Evidence), strings.Join(titles, "; "))
		}
		return "No evidence list is loaded. Each research query returns the publications its brief is built from."

	case containsAny(lower, "confidence", "reliable", "trust"):
		if brief != nil && brief.Confidence != "" {
			return fmt.Sprintf("The current brief is rated %s, which reflects how many matched publications support it.", brief.Confidence)
		}
		return "Confidence is rated from the number of publications backing a brief: 15 or more rates high, 5 to 14 medium, anything below that low."

	case strings.Contains(lower, "how") && strings.Contains(lower, "use"):
		return "Ask a research question to get a synthesized brief, then dig into its consensus, contradictions, gaps, or evidence here. Pick a persona to tune the follow-up suggestions."

	case containsAny(lower, "export", "download", "save"):
		return "Results stay in your conversation history. Copy the brief text or evidence links directly; a dedicated export is not available yet."

	default:
		return "I can help you explore the current research synthesis. Ask about its consensus, contradictions, knowledge gaps, evidence, or confidence."
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
