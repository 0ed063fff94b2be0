// Package catalog loads the space-biology publication corpus and answers
// keyword searches and category breakdowns over it.
package catalog

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/mkravets/chimera/internal/domain"
)

// Category groups publications by research area, matched on title keywords.
type Category struct {
	Name     string
	Icon     string
	Keywords []string
}

// Taxonomy is the fixed set of research areas the corpus is bucketed into.
var Taxonomy = []Category{
	{"Microgravity Effects", "🌍", []string{"microgravity", "weightless", "zero-g", "space flight", "spaceflight"}},
	{"Radiation Biology", "☢️", []string{"radiation", "cosmic ray", "solar particle", "ionizing", "dosimetry"}},
	{"Plant Biology", "🌱", []string{"plant", "photosynthesis", "crop", "agriculture", "botany", "seed"}},
	{"Cell Biology", "🧬", []string{"cell", "cellular", "membrane", "protein", "gene expression", "molecular"}},
	{"Bone & Muscle", "💪", []string{"bone", "muscle", "osteo", "skeletal", "calcium", "myocyte"}},
	{"Cardiovascular", "❤️", []string{"cardiovascular", "heart", "blood", "circulation", "vascular"}},
	{"Immune System", "🛡️", []string{"immune", "immunity", "lymphocyte", "antibody", "infection"}},
	{"Neuroscience", "🧠", []string{"brain", "neural", "cognitive", "neurological", "neuron"}},
	{"Metabolism", "⚡", []string{"metabol", "nutrition", "diet", "energy", "glucose"}},
	{"Microbiology", "🦠", []string{"bacteria", "microbe", "microorganism", "pathogen", "microbiome"}},
	{"Development", "🌟", []string{"development", "embryo", "growth", "differentiation", "morphology"}},
	{"Countermeasures", "💊", []string{"countermeasure", "prevention", "exercise", "pharmaceutical", "therapy"}},
}

// topicTerms are the common terms tallied for the topic cloud.
var topicTerms = []string{
	"gravity", "space", "radiation", "microgravity", "weightless",
	"plant", "cell", "bone", "muscle", "brain", "immune", "bacteria",
	"gene", "protein", "tissue", "organism", "mouse", "rat", "human",
	"mars", "moon", "iss", "station", "flight", "mission",
}

// clusterCombos are category pairs surfaced as cross-cutting research clusters.
var clusterCombos = [][2]string{
	{"Microgravity Effects", "Bone & Muscle"},
	{"Radiation Biology", "Cell Biology"},
	{"Plant Biology", "Microgravity Effects"},
	{"Cardiovascular", "Countermeasures"},
	{"Immune System", "Microbiology"},
}

var (
	wordPattern = regexp.MustCompile(`[a-z0-9]{4,}`)
	pmcPattern  = regexp.MustCompile(`PMC(\d+)`)
)

// pmcBands map PMC identifier ranges to approximate publication windows.
// Identifiers are assigned roughly chronologically, so the band gives a
// usable estimate when the corpus carries no explicit year.
var pmcBands = []struct {
	below int
	label string
	year  int
}{
	{1000000, "2000-2005", 2005},
	{2000000, "2006-2010", 2010},
	{3000000, "2011-2013", 2013},
	{4000000, "2014-2015", 2015},
	{5000000, "2016-2017", 2017},
	{6000000, "2018-2019", 2019},
	{8000000, "2020-2021", 2021},
}

// EstimateYear derives an approximate publication year and range label from a
// PMC URL. Returns (0, "N/A") when the URL carries no PMC identifier.
func EstimateYear(url string) (int, string) {
	m := pmcPattern.FindStringSubmatch(url)
	if m == nil {
		return 0, "N/A"
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "N/A"
	}
	for _, band := range pmcBands {
		if id < band.below {
			return band.year, band.label
		}
	}
	return 2024, "2022-2024"
}

type indexedPub struct {
	domain.Publication
	titleLower string
	yearLabel  string
}

// Catalog is the in-memory index over the publication corpus. Load builds it
// once; reads are lock-free after that apart from an RLock.
type Catalog struct {
	csvPath string

	mu       sync.RWMutex
	loaded   bool
	loadedAt time.Time
	pubs     []indexedPub
	keywords map[string][]int
}

// New creates an unloaded catalog over the given CSV corpus.
func New(csvPath string) *Catalog {
	return &Catalog{csvPath: csvPath}
}

// Loaded reports whether the corpus has been indexed.
func (c *Catalog) Loaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// Load reads and indexes the corpus. Calling it again is a no-op; the second
// return value reports whether this call did the work.
func (c *Catalog) Load(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return false, nil
	}

	pubs, err := readPublications(c.csvPath)
	if err != nil {
		return false, err
	}

	c.pubs = make([]indexedPub, 0, len(pubs))
	c.keywords = make(map[string][]int)
	for i, p := range pubs {
		titleLower := strings.ToLower(p.Title)
		estimated, label := EstimateYear(p.URL)
		if p.Year == 0 {
			p.Year = estimated
		}
		c.pubs = append(c.pubs, indexedPub{Publication: p, titleLower: titleLower, yearLabel: label})

		for _, word := range wordPattern.FindAllString(titleLower, -1) {
			c.keywords[word] = append(c.keywords[word], i)
		}
	}

	c.loaded = true
	c.loadedAt = time.Now()
	slog.Info("Publication corpus indexed", "publications", len(c.pubs), "keywords", len(c.keywords))
	return true, nil
}

func readPublications(path string) ([]domain.Publication, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read corpus header: %w", err)
	}
	titleCol, linkCol, yearCol, journalCol := -1, -1, -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "title":
			titleCol = i
		case "link", "url":
			linkCol = i
		case "year":
			yearCol = i
		case "journal":
			journalCol = i
		}
	}
	if titleCol < 0 || linkCol < 0 {
		return nil, fmt.Errorf("corpus %s: missing Title/Link columns: %w", path, errdefs.ErrInvalidArgument)
	}

	var pubs []domain.Publication
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus row: %w", err)
		}
		field := func(col int) string {
			if col >= 0 && col < len(record) {
				return strings.TrimSpace(record[col])
			}
			return ""
		}
		title := field(titleCol)
		if title == "" {
			continue
		}
		p := domain.Publication{Title: title, URL: field(linkCol), Journal: field(journalCol)}
		if y := field(yearCol); y != "" {
			if n, err := strconv.Atoi(y); err == nil {
				p.Year = n
			}
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// Search returns up to limit publications ranked by how many query words
// match their titles, falling back to phrase matching when no word does.
func (c *Catalog) Search(query string, limit int) []domain.Publication {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || limit <= 0 {
		return nil
	}

	queryLower := strings.ToLower(query)
	scores := make(map[int]int)
	for _, word := range dedupe(wordPattern.FindAllString(queryLower, -1)) {
		for _, idx := range c.keywords[word] {
			scores[idx]++
		}
	}

	if len(scores) == 0 {
		return c.phraseSearch(queryLower, limit)
	}

	ranked := make([]int, 0, len(scores))
	for idx := range scores {
		ranked = append(ranked, idx)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]domain.Publication, 0, len(ranked))
	for _, idx := range ranked {
		out = append(out, c.pubs[idx].Publication)
	}
	return out
}

func (c *Catalog) phraseSearch(queryLower string, limit int) []domain.Publication {
	var out []domain.Publication
	for _, p := range c.pubs {
		if strings.Contains(p.titleLower, queryLower) {
			out = append(out, p.Publication)
			if len(out) >= limit {
				break
			}
		}
	}
	return out
}

func dedupe(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := words[:0]
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

// CategoryCount is a category with how many publications match it.
type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Icon  string `json:"icon"`
}

// TopicCount is a topic term with its corpus frequency.
type TopicCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Cluster is a cross-cutting pair of categories.
type Cluster struct {
	Label      string   `json:"label"`
	Categories []string `json:"categories"`
	Count      int      `json:"count"`
}

// Breakdown is the full category view of the corpus.
type Breakdown struct {
	Categories        []CategoryCount `json:"categories"`
	Topics            []TopicCount    `json:"topics"`
	Clusters          []Cluster       `json:"clusters"`
	TotalPublications int             `json:"total_publications"`
}

// Categories buckets the corpus into the taxonomy, with topic frequencies and
// research clusters. Categories with no matches are omitted; the rest are
// sorted by count descending.
func (c *Catalog) Categories() Breakdown {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := make(map[string]int, len(Taxonomy))
	topicCounts := make(map[string]int)
	for _, p := range c.pubs {
		for _, cat := range Taxonomy {
			for _, kw := range cat.Keywords {
				if strings.Contains(p.titleLower, kw) {
					counts[cat.Name]++
					break
				}
			}
		}
		for _, term := range topicTerms {
			if strings.Contains(p.titleLower, term) {
				topicCounts[term]++
			}
		}
	}

	var categories []CategoryCount
	for _, cat := range Taxonomy {
		if counts[cat.Name] > 0 {
			categories = append(categories, CategoryCount{Name: cat.Name, Count: counts[cat.Name], Icon: cat.Icon})
		}
	}
	sort.SliceStable(categories, func(i, j int) bool { return categories[i].Count > categories[j].Count })

	topics := make([]TopicCount, 0, len(topicCounts))
	for term, n := range topicCounts {
		topics = append(topics, TopicCount{Name: term, Count: n})
	}
	sort.Slice(topics, func(i, j int) bool {
		if topics[i].Count != topics[j].Count {
			return topics[i].Count > topics[j].Count
		}
		return topics[i].Name < topics[j].Name
	})
	if len(topics) > 15 {
		topics = topics[:15]
	}

	var clusters []Cluster
	for _, combo := range clusterCombos {
		n := min(counts[combo[0]], counts[combo[1]])
		if n > 0 {
			clusters = append(clusters, Cluster{
				Label:      combo[0] + " × " + combo[1],
				Categories: []string{combo[0], combo[1]},
				Count:      n,
			})
		}
	}

	return Breakdown{
		Categories:        categories,
		Topics:            topics,
		Clusters:          clusters,
		TotalPublications: len(c.pubs),
	}
}

// CategoryPublication is one publication with its estimated year label.
type CategoryPublication struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Year  string `json:"year"`
}

// PublicationsByCategory returns the publications matching a taxonomy
// category, most recent first. An unknown category fails with not-found.
func (c *Catalog) PublicationsByCategory(name string) ([]CategoryPublication, error) {
	var keywords []string
	for _, cat := range Taxonomy {
		if cat.Name == name {
			keywords = cat.Keywords
			break
		}
	}
	if keywords == nil {
		return nil, fmt.Errorf("category %q: %w", name, errdefs.ErrNotFound)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []CategoryPublication
	for _, p := range c.pubs {
		matched := false
		for _, kw := range keywords {
			if strings.Contains(p.titleLower, kw) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, CategoryPublication{Title: p.Title, URL: p.URL, Year: p.yearLabel})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Year > out[j].Year })
	return out, nil
}

// Stats summarizes the indexed corpus.
type Stats struct {
	TotalPublications int       `json:"total_publications"`
	Categories        int       `json:"categories"`
	IndexedKeywords   int       `json:"indexed_keywords"`
	LoadedAt          time.Time `json:"loaded_at"`
}

// Stats returns corpus-level numbers.
func (c *Catalog) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	nonZero := 0
	counts := make(map[string]bool)
	for _, p := range c.pubs {
		for _, cat := range Taxonomy {
			if counts[cat.Name] {
				continue
			}
			for _, kw := range cat.Keywords {
				if strings.Contains(p.titleLower, kw) {
					counts[cat.Name] = true
					nonZero++
					break
				}
			}
		}
	}

	return Stats{
		TotalPublications: len(c.pubs),
		Categories:        nonZero,
		IndexedKeywords:   len(c.keywords),
		LoadedAt:          c.loadedAt,
	}
}
