package synth

import (
	"regexp"
	"strings"
)

// Concept patterns are precompiled once; extraction over a question is three
// regex scans. Grouped the way researchers ask: what organism, under which
// stressor, affecting which biological system.
var (
	subjectPattern  = regexp.MustCompile(`\b(mice|mouse|rodents?|rats?|humans?|plants?|arabidopsis|bacteria|yeast|cells?)\b`)
	stressorPattern = regexp.MustCompile(`\b(microgravity|radiation|spaceflight|weightless(?:ness)?|cosmic|isolation|confinement|hypoxia)\b`)
	systemPattern   = regexp.MustCompile(`\b(gene|protein|tissue|bone|muscle|cardiovascular|immune|metabolism|growth|photosynthesis|root|vision|retina)\b`)
)

// Concepts are the recognized domain terms of one question, in display form,
// deduplicated, ordered by first appearance within each group.
type Concepts struct {
	Subjects  []string
	Stressors []string
	All       []string
}

// Extract pulls the recognized domain concepts out of a question.
func Extract(question string) Concepts {
	lower := strings.ToLower(question)
	seen := make(map[string]struct{})

	collect := func(pattern *regexp.Regexp) []string {
		var out []string
		for _, m := range pattern.FindAllString(lower, -1) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, capitalize(m))
		}
		return out
	}

	c := Concepts{}
	c.Subjects = collect(subjectPattern)
	c.Stressors = collect(stressorPattern)
	systems := collect(systemPattern)

	c.All = append(c.All, c.Subjects...)
	c.All = append(c.All, c.Stressors...)
	c.All = append(c.All, systems...)
	return c
}

// Topics lowers the concepts into the canonical topic keys tracked by the
// preference aggregator.
func (c Concepts) Topics() []string {
	out := make([]string, 0, len(c.All))
	for _, concept := range c.All {
		out = append(out, strings.ToLower(concept))
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
