package synth

import (
	"fmt"
	"strings"

	"github.com/mkravets/chimera/internal/domain"
)

// followUpQuestions tailors suggested next questions to the requesting
// persona. Scientists get mechanism and rigor questions, architects get
// engineering questions, managers get portfolio questions.
func followUpQuestions(persona string, concepts Concepts, brief domain.Brief) []string {
	questions := make([]string, 0, 3)
	switch persona {
	case domain.PersonaArchitect:
		questions = append(questions,
			"What countermeasures have been tested to mitigate these effects?",
			"How do these findings constrain mission duration and crew composition?",
			"What environmental controls could reduce the observed risks?")
	case domain.PersonaManager:
		questions = append(questions,
			"What is the cost-benefit profile of further research in this area?",
			"Which institutions are leading this line of investigation?",
			"What are the strategic implications for upcoming mission planning?")
	default:
		if len(brief.Contradictions) > 0 {
			questions = append(questions,
				"What methodological differences might explain the contradictory findings?")
		}
		if len(concepts.All) > 0 {
			questions = append(questions, fmt.Sprintf(
				"What are the molecular mechanisms underlying %s responses?",
				strings.ToLower(concepts.All[0])))
		}
		questions = append(questions,
			"Are there longitudinal studies tracking these effects across multiple missions?")
		if len(questions) < 3 {
			questions = append(questions,
				"Which model systems best replicate the observed effects?")
		}
	}
	return questions[:min(3, len(questions))]
}
