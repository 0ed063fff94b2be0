package domain

import (
	"time"
)

// EvidenceItem is one cited source backing a brief.
type EvidenceItem struct {
	Title   string `json:"title"`
	Year    int    `json:"year,omitempty"`
	URL     string `json:"url"`
	Journal string `json:"journal,omitempty"`
}

// Brief is the structured answer produced by the synthesis collaborator.
type Brief struct {
	Consensus      string   `json:"consensus"`
	Contradictions []string `json:"contradictions"`
	KnowledgeGaps  []string `json:"knowledge_gaps"`
	Confidence     string   `json:"confidence,omitempty"`
}

// Synthesis is the full collaborator output for one question: the brief, its
// supporting evidence, display-form concept tags, lowercase topic keys for
// preference tracking, and persona-tuned follow-up questions.
type Synthesis struct {
	Brief     Brief
	Evidence  []EvidenceItem
	Concepts  []string
	Topics    []string
	FollowUps []string
}

// QueryResult is the terminal payload of a successful query: the brief and
// its evidence plus the presentation extras clients render alongside it.
type QueryResult struct {
	Query               string         `json:"query"`
	Persona             string         `json:"persona"`
	Brief               Brief          `json:"brief"`
	Evidence            []EvidenceItem `json:"evidence"`
	HighlightedConcepts []string       `json:"highlighted_concepts"`
	FollowUpQuestions   []string       `json:"follow_up_questions"`
	AgentLog            []string       `json:"agent_log,omitempty"`
}

// QueryRecord is the audit trail row written for each personalized query.
type QueryRecord struct {
	UserID     string    `json:"user_id"`
	Question   string    `json:"question"`
	Persona    string    `json:"persona"`
	Topics     []string  `json:"topics"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publication is one catalog entry from the space-biology corpus.
type Publication struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Year    int    `json:"year,omitempty"`
	Journal string `json:"journal,omitempty"`
}

// Evidence converts the publication to a citable evidence item.
func (p Publication) Evidence() EvidenceItem {
	return EvidenceItem{Title: p.Title, Year: p.Year, URL: p.URL, Journal: p.Journal}
}
