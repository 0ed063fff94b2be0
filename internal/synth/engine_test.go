package synth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mkravets/chimera/internal/catalog"
	"github.com/mkravets/chimera/internal/domain"
	"github.com/mkravets/chimera/internal/research"
)

const corpusRows = `"Mice in Bion-M 1 space mission: training and selection",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC4136787/
"Microgravity induces pelvic bone loss through osteoclastic activity",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC3630201/
"Stem Cell Health and Tissue Regeneration in Microgravity",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC8396460/
"Spaceflight Modulates the Expression of Key Oxidative Stress Genes",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC7998608/
"Arabidopsis seedling growth and gene expression aboard the ISS",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC5387210/
"Effects of spaceflight radiation on plant seed viability",https://www.ncbi.nlm.nih.gov/pmc/articles/PMC6813909/
`

// templateEngine builds an engine with no model backend over a small corpus.
func templateEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "publications.csv")
	if err := os.WriteFile(path, []byte("Title,Link\n"+corpusRows), 0644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return New(catalog.New(path), "", "", "")
}

func TestSynthesizeTemplateMode(t *testing.T) {
	t.Parallel()

	eng := templateEngine(t)
	var stages []string
	syn, err := eng.Synthesize(context.Background(), research.SynthesisRequest{
		Question: "How does microgravity affect bone density in mice?",
		Persona:  domain.PersonaScientist,
		Report:   func(stage string) { stages = append(stages, stage) },
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	wantPrefixes := []string{
		"[Query Planner] Extracting",
		"[Query Planner] Identified",
		"[Data Retrieval] Searching",
		"[Data Retrieval] Retrieved",
		"[Synthesis Agent] Analyzing",
		"[Knowledge Gap Analyzer]",
		"[Synthesis Agent] Analysis complete",
		"[Follow-up Generator]",
	}
	if len(stages) != len(wantPrefixes) {
		t.Fatalf("got %d stages %v, want %d", len(stages), stages, len(wantPrefixes))
	}
	for i, prefix := range wantPrefixes {
		if !strings.HasPrefix(stages[i], prefix) {
			t.Errorf("stage[%d] = %q, want prefix %q", i, stages[i], prefix)
		}
	}

	if syn.Brief.Consensus == "" {
		t.Error("brief has no consensus")
	}
	if syn.Brief.Confidence != ConfidenceLow {
		t.Errorf("Confidence = %q, want %q for 3 matched pubs", syn.Brief.Confidence, ConfidenceLow)
	}
	if len(syn.Evidence) != 3 {
		t.Errorf("Evidence count = %d, want 3", len(syn.Evidence))
	}
	if syn.Evidence[0].Title != "Microgravity induces pelvic bone loss through osteoclastic activity" {
		t.Errorf("top evidence = %q, want the two-keyword match first", syn.Evidence[0].Title)
	}
	if want := []string{"Mice", "Microgravity", "Bone"}; len(syn.Concepts) != 3 ||
		syn.Concepts[0] != want[0] || syn.Concepts[1] != want[1] || syn.Concepts[2] != want[2] {
		t.Errorf("Concepts = %v, want %v", syn.Concepts, want)
	}
	if len(syn.Topics) != 3 || syn.Topics[0] != "mice" {
		t.Errorf("Topics = %v, want lowercase concept keys", syn.Topics)
	}
	if len(syn.FollowUps) != 3 {
		t.Errorf("FollowUps = %v, want 3", syn.FollowUps)
	}
}

func TestSynthesizeNoMatches(t *testing.T) {
	t.Parallel()

	eng := templateEngine(t)
	syn, err := eng.Synthesize(context.Background(), research.SynthesisRequest{
		Question: "xyzzy plugh frobnicate",
		Persona:  domain.PersonaManager,
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if syn.Brief.Consensus != "No relevant publications found for this query." {
		t.Errorf("Consensus = %q", syn.Brief.Consensus)
	}
	if syn.Brief.Confidence != ConfidenceNone {
		t.Errorf("Confidence = %q, want %q", syn.Brief.Confidence, ConfidenceNone)
	}
	if len(syn.Evidence) != 0 {
		t.Errorf("Evidence = %v, want none", syn.Evidence)
	}
}

func TestSynthesizeFollowUpsPerPersona(t *testing.T) {
	t.Parallel()

	eng := templateEngine(t)
	cases := []struct {
		persona string
		marker  string
	}{
		{domain.PersonaScientist, "molecular mechanisms"},
		{domain.PersonaArchitect, "countermeasures"},
		{domain.PersonaManager, "cost-benefit"},
	}
	for _, tc := range cases {
		syn, err := eng.Synthesize(context.Background(), research.SynthesisRequest{
			Question: "microgravity effects on mice bone",
			Persona:  tc.persona,
		})
		if err != nil {
			t.Fatalf("Synthesize(%s) failed: %v", tc.persona, err)
		}
		if len(syn.FollowUps) != 3 {
			t.Fatalf("FollowUps(%s) = %v, want 3", tc.persona, syn.FollowUps)
		}
		found := false
		for _, q := range syn.FollowUps {
			if strings.Contains(q, tc.marker) {
				found = true
			}
		}
		if !found {
			t.Errorf("FollowUps(%s) = %v, want one mentioning %q", tc.persona, syn.FollowUps, tc.marker)
		}
	}
}

func TestSynthesizeDefaultsPersona(t *testing.T) {
	t.Parallel()

	eng := templateEngine(t)
	var tailoring string
	_, err := eng.Synthesize(context.Background(), research.SynthesisRequest{
		Question: "microgravity bone loss",
		Report: func(stage string) {
			if strings.HasPrefix(stage, "[Follow-up Generator]") {
				tailoring = stage
			}
		},
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if !strings.Contains(tailoring, domain.DefaultPersona) {
		t.Errorf("tailoring stage = %q, want default persona named", tailoring)
	}
}

func TestSynthesizeNilReport(t *testing.T) {
	t.Parallel()

	eng := templateEngine(t)
	if _, err := eng.Synthesize(context.Background(), research.SynthesisRequest{
		Question: "spaceflight radiation",
	}); err != nil {
		t.Fatalf("Synthesize without Report failed: %v", err)
	}
}

func TestGenerative(t *testing.T) {
	t.Parallel()

	if templateEngine(t).Generative() {
		t.Error("engine without API key reports generative mode")
	}
	eng := New(catalog.New("unused.csv"), "", "test-key", "test-model")
	if !eng.Generative() {
		t.Error("engine with API key does not report generative mode")
	}
}

func TestConverseTemplateAnswers(t *testing.T) {
	t.Parallel()

	eng := templateEngine(t)
	brief := &domain.Brief{
		Consensus:      "Microgravity drives bone loss.",
		Contradictions: []string{"Recovery rates differ across studies."},
		KnowledgeGaps:  []string{"Few long-duration datasets."},
		Confidence:     ConfidenceMedium,
	}
	evidence := []domain.EvidenceItem{
		{Title: "Pelvic bone loss in mice"},
		{Title: "Osteoclast activity in orbit"},
	}

	cases := []struct {
		name    string
		message string
		brief   *domain.Brief
		want    string
	}{
		{"consensus with brief", "What is the consensus here?", brief, "Microgravity drives bone loss."},
		{"consensus without brief", "what do studies agree on?", nil, "Run a research query first"},
		{"contradictions", "Any contradictions in the findings?", brief, "Recovery rates differ"},
		{"gaps", "what is missing from the literature?", brief, "Few long-duration datasets."},
		{"evidence", "which papers back this up?", brief, "2 publications"},
		{"confidence", "how reliable is this?", brief, ConfidenceMedium},
		{"usage", "how do I use this tool?", nil, "Ask a research question"},
		{"export", "can I download the results?", nil, "export is not available"},
		{"generic", "hello there", nil, "explore the current research synthesis"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := research.ConverseRequest{Message: tc.message, Brief: tc.brief}
			if tc.brief != nil {
				req.Evidence = evidence
			}
			got, err := eng.Converse(context.Background(), req)
			if err != nil {
				t.Fatalf("Converse failed: %v", err)
			}
			if !strings.Contains(got, tc.want) {
				t.Errorf("Converse(%q) = %q, want substring %q", tc.message, got, tc.want)
			}
		})
	}
}
