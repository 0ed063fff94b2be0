package synth

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mkravets/chimera/internal/domain"
)

// Confidence labels attached to every brief. Thresholds count the
// publications that matched the query.
const (
	ConfidenceHigh   = "High Confidence"
	ConfidenceMedium = "Medium Confidence"
	ConfidenceLow    = "Low Confidence"
	ConfidenceNone   = "None"
)

func confidenceFor(matched int) string {
	switch {
	case matched >= 15:
		return ConfidenceHigh
	case matched >= 5:
		return ConfidenceMedium
	case matched >= 1:
		return ConfidenceLow
	default:
		return ConfidenceNone
	}
}

// emptyBrief is returned when retrieval found nothing to synthesize from.
func emptyBrief() domain.Brief {
	return domain.Brief{
		Consensus:     "No relevant publications found for this query.",
		KnowledgeGaps: []string{"This area lacks sufficient research data."},
		Confidence:    ConfidenceNone,
	}
}

// ruleBasedBrief builds a brief from retrieval alone. It is the synthesis
// path when no language model is configured, and the fallback when the model
// call fails mid-query.
func ruleBasedBrief(concepts Concepts, pubs []domain.Publication) domain.Brief {
	return domain.Brief{
		Consensus:      consensusStatement(concepts, len(pubs)),
		Contradictions: findContradictions(pubs),
		KnowledgeGaps:  findKnowledgeGaps(concepts, pubs),
		Confidence:     confidenceFor(len(pubs)),
	}
}

func consensusStatement(concepts Concepts, matched int) string {
	subject := "biological systems"
	if len(concepts.Subjects) > 0 {
		subject = strings.ToLower(concepts.Subjects[0])
	}
	stressor := "spaceflight conditions"
	if len(concepts.Stressors) > 0 {
		stressor = strings.ToLower(concepts.Stressors[0])
	}
	return fmt.Sprintf(
		"Analysis of %d publications indicates that %s exposure produces measurable physiological changes in %s, with effect magnitude varying by duration and model system.",
		matched, stressor, subject)
}

// findContradictions flags methodology drift across study eras. With a small
// corpus there is not enough signal to call anything contradictory.
func findContradictions(pubs []domain.Publication) []string {
	if len(pubs) < 10 {
		return nil
	}
	early, late := 0, 0
	for _, p := range pubs {
		if p.Year == 0 {
			continue
		}
		if p.Year < 2015 {
			early++
		} else {
			late++
		}
	}
	if early > 2 && late > 2 {
		return []string{
			"Findings vary between earlier studies (pre-2015) and recent work, suggesting methodological evolution or changing experimental conditions.",
		}
	}
	return nil
}

func findKnowledgeGaps(concepts Concepts, pubs []domain.Publication) []string {
	var gaps []string
	if len(pubs) < 5 {
		gaps = append(gaps, "Limited number of studies available; findings may not generalize.")
	}
	if hasAnimalSubjects(concepts) && !mentionsHumans(pubs) {
		gaps = append(gaps, "Results are from animal models; human validation studies are lacking.")
	}
	if !mentionsMechanism(pubs) {
		gaps = append(gaps, "Underlying molecular mechanisms remain uncharacterized in the matched literature.")
	}
	if len(gaps) == 0 {
		gaps = append(gaps, "Current coverage appears comprehensive; longitudinal follow-up studies would strengthen the evidence base.")
	}
	return gaps
}

func hasAnimalSubjects(concepts Concepts) bool {
	for _, s := range concepts.Subjects {
		switch strings.ToLower(s) {
		case "mice", "mouse", "rodent", "rodents", "rat", "rats":
			return true
		}
	}
	return false
}

func mentionsHumans(pubs []domain.Publication) bool {
	for _, p := range pubs {
		lower := strings.ToLower(p.Title)
		if strings.Contains(lower, "human") || strings.Contains(lower, "astronaut") || strings.Contains(lower, "crew") {
			return true
		}
	}
	return false
}

func mentionsMechanism(pubs []domain.Publication) bool {
	for _, p := range pubs {
		lower := strings.ToLower(p.Title)
		if strings.Contains(lower, "mechanism") || strings.Contains(lower, "pathway") || strings.Contains(lower, "signaling") {
			return true
		}
	}
	return false
}

// parseBrief decodes the model's JSON output, tolerating markdown code
// fences around the object.
func parseBrief(raw string) (domain.Brief, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed struct {
		Consensus      string   `json:"consensus"`
		Contradictions []string `json:"contradictions"`
		KnowledgeGaps  []string `json:"knowledge_gaps"`
		Confidence     string   `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return domain.Brief{}, fmt.Errorf("parsing synthesis brief: %w", err)
	}
	if parsed.Consensus == "" {
		return domain.Brief{}, fmt.Errorf("synthesis brief missing consensus")
	}
	return domain.Brief{
		Consensus:      parsed.Consensus,
		Contradictions: parsed.Contradictions,
		KnowledgeGaps:  parsed.KnowledgeGaps,
		Confidence:     parsed.Confidence,
	}, nil
}
