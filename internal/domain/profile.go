package domain

import (
	"sort"
	"time"
)

// Personas understood by the synthesis pipeline. The aggregator treats persona
// names as opaque keys; these constants exist so handlers and the synthesizer
// agree on the canonical spellings.
const (
	PersonaScientist = "Research Scientist"
	PersonaArchitect = "Mission Architect"
	PersonaManager   = "Manager"

	// DefaultPersona is applied when a request omits or misspells the persona.
	DefaultPersona = PersonaScientist
)

// Count is a single named counter.
type Count struct {
	Name string `json:"name"`
	N    int    `json:"count"`
}

// CountList is an insertion-ordered collection of named counters. Order records
// which name was seen first, which drives the preferred-persona tie-break, and
// it survives JSON round trips (unlike map key order). Mutating operations
// return a fresh list so previously handed-out snapshots never alias live state.
type CountList []Count

// Bump returns a copy of the list with the named counter incremented,
// appending a new entry when the name has not been seen before.
func (c CountList) Bump(name string) CountList {
	out := make(CountList, len(c), len(c)+1)
	copy(out, c)
	for i := range out {
		if out[i].Name == name {
			out[i].N++
			return out
		}
	}
	return append(out, Count{Name: name, N: 1})
}

// Get returns the count for name, or 0 if absent.
func (c CountList) Get(name string) int {
	for _, e := range c {
		if e.Name == name {
			return e.N
		}
	}
	return 0
}

// Sum returns the total of all counters.
func (c CountList) Sum() int {
	total := 0
	for _, e := range c {
		total += e.N
	}
	return total
}

// Leader returns the name holding the maximum count. When several names tie
// for the maximum, the previous leader is retained if it is among them;
// otherwise the earliest-recorded name among the tied leaders wins. Returns
// "" for an empty list.
func (c CountList) Leader(prev string) string {
	max := 0
	for _, e := range c {
		if e.N > max {
			max = e.N
		}
	}
	if max == 0 {
		return ""
	}
	first := ""
	for _, e := range c {
		if e.N != max {
			continue
		}
		if e.Name == prev {
			return prev
		}
		if first == "" {
			first = e.Name
		}
	}
	return first
}

// Top returns the k largest counters, descending by count with ties broken
// lexicographically by name. k <= 0 or k >= len returns a sorted copy of
// everything.
func (c CountList) Top(k int) CountList {
	out := make(CountList, len(c))
	copy(out, c)
	sort.Slice(out, func(i, j int) bool {
		if out[i].N != out[j].N {
			return out[i].N > out[j].N
		}
		return out[i].Name < out[j].Name
	})
	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out
}

// PreferenceProfile is the learned personalization state for one user.
// Mutated only by the preference aggregator under a per-user critical section.
type PreferenceProfile struct {
	UserID           string    `json:"user_id"`
	TotalQueries     int       `json:"total_queries"`
	PersonaCounts    CountList `json:"persona_counts"`
	TopicCounts      CountList `json:"topic_counts"`
	PreferredPersona string    `json:"preferred_persona,omitempty"`
	LastActiveAt     time.Time `json:"last_active_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (p PreferenceProfile) Clone() PreferenceProfile {
	out := p
	out.PersonaCounts = append(CountList(nil), p.PersonaCounts...)
	out.TopicCounts = append(CountList(nil), p.TopicCounts...)
	return out
}

// TopTopics returns the user's k most frequent topics (descending count,
// lexicographic ties), the read-time "favorite topics" projection.
func (p PreferenceProfile) TopTopics(k int) CountList {
	return p.TopicCounts.Top(k)
}
