// Package overlap scores how much registered agent descriptions overlap, to
// help keep classifier routing unambiguous.
package overlap

import (
	"math"
	"sort"
	"strings"
	"unicode"

	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

type Level string

const (
	LevelHigh   Level = "high"
	LevelMedium Level = "medium"
	LevelLow    Level = "low"

	highThreshold   = 0.3
	mediumThreshold = 0.1
)

type Pair struct {
	AgentA     string  `json:"agent_a"`
	AgentB     string  `json:"agent_b"`
	Similarity float64 `json:"similarity"`
	Level      Level   `json:"level"`
}

type Uniqueness struct {
	AgentID string  `json:"agent_id"`
	Score   float64 `json:"score"`
}

// Report holds pairwise overlaps in registration order. With fewer than two
// agents only Description is set.
type Report struct {
	Pairs       []Pair       `json:"pairs,omitempty"`
	Uniqueness  []Uniqueness `json:"uniqueness,omitempty"`
	Description string       `json:"description,omitempty"`
}

func LevelFor(similarity float64) Level {
	switch {
	case similarity > highThreshold:
		return LevelHigh
	case similarity >= mediumThreshold:
		return LevelMedium
	default:
		return LevelLow
	}
}

func Analyze(agents []contractx.Info) Report {
	switch len(agents) {
	case 0:
		return Report{Description: "No agents registered."}
	case 1:
		return Report{Description: agents[0].ID + ": " + agents[0].Description}
	}

	vectors := make([]map[string]float64, len(agents))
	for i, a := range agents {
		vectors[i] = termFrequency(Tokenize(a.Description))
	}

	sums := make([]float64, len(agents))
	var report Report
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			sim := Cosine(vectors[i], vectors[j])
			sums[i] += sim
			sums[j] += sim
			report.Pairs = append(report.Pairs, Pair{
				AgentA:     agents[i].ID,
				AgentB:     agents[j].ID,
				Similarity: sim,
				Level:      LevelFor(sim),
			})
		}
	}
	others := float64(len(agents) - 1)
	for i, a := range agents {
		report.Uniqueness = append(report.Uniqueness, Uniqueness{AgentID: a.ID, Score: 1 - sums[i]/others})
	}
	return report
}

// Tokenize lowercases text, splits it on anything that is not a letter or a
// digit and drops stop words.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}

func termFrequency(tokens []string) map[string]float64 {
	tf := make(map[string]float64, len(tokens))
	if len(tokens) == 0 {
		return tf
	}
	for _, t := range tokens {
		tf[t]++
	}
	n := float64(len(tokens))
	for t := range tf {
		tf[t] /= n
	}
	return tf
}

// Cosine is the cosine similarity of two sparse vectors; zero when either is
// empty.
func Cosine(a, b map[string]float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var dot, na, nb float64
	for _, k := range keys {
		na += a[k] * a[k]
		if v, ok := b[k]; ok {
			dot += a[k] * v
		}
	}
	for _, v := range b {
		nb += v * v
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a about above after again against all am an and any are as at be because
been before being below between both but by can could did do does doing down during each few for from
further had has have having he her here hers herself him himself his how i if in into is it its itself
just me more most my myself no nor not now of off on once only or other our ours ourselves out over own
same she should so some such than that the their theirs them themselves then there these they this those
through to too under until up very was we were what when where which while who whom why will with would
you your yours yourself yourselves`) {
		stopWords[w] = struct{}{}
	}
}
