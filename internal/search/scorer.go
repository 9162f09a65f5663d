// Package search implements hybrid retrieval: ANN candidates scored by
// five signals, an optional cross-encoder rerank, and an optional LLM
// rerank-plus-selection pass.
package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xtrc-dev/xtrc/internal/chunk"
	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/intent"
)

// Fixed blend weights over the five component scores.
const (
	weightVector     = 0.50
	weightKeyword    = 0.18
	weightSymbol     = 0.12
	weightIntent     = 0.12
	weightStructural = 0.08
)

// maxMatchedKeywords caps the matched_keywords list in responses.
const maxMatchedKeywords = 8

// QueryContext carries everything the scorer derives from the raw
// query. Keywords and intent always come from the user's words, never
// from a rewritten query.
type QueryContext struct {
	Raw      string
	Tokens   []string
	Keywords []string
	Signal   intent.QuerySignal

	keywordSet map[string]bool
	intentTags map[string]bool
	methodSet  map[string]bool

	// normalized is the query lowercased with separators stripped, so
	// "get user score" matches the symbol getUserScore exactly.
	normalized string
}

// BuildQueryContext tokenizes and intent-tags a raw query.
func BuildQueryContext(raw string) *QueryContext {
	qc := &QueryContext{
		Raw:      raw,
		Tokens:   intent.Tokenize(raw),
		Keywords: intent.Keywords(raw),
		Signal:   intent.InferQuerySignal(raw),
	}

	qc.keywordSet = make(map[string]bool, len(qc.Keywords))
	for _, k := range qc.Keywords {
		qc.keywordSet[k] = true
	}
	qc.intentTags = make(map[string]bool)
	for _, tag := range qc.Signal.IntentTags() {
		qc.intentTags[tag] = true
	}
	qc.methodSet = make(map[string]bool, len(qc.Signal.Methods))
	for _, m := range qc.Signal.Methods {
		qc.methodSet[m] = true
	}
	qc.normalized = normalizeIdentifier(raw)
	return qc
}

// normalizeIdentifier lowercases and strips everything that is not a
// letter or digit.
func normalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RouteShaped reports whether the query names an intent verb or HTTP
// method.
func (qc *QueryContext) RouteShaped() bool {
	return len(qc.Signal.Intents) > 0 || len(qc.Signal.Methods) > 0
}

// Scored is one candidate with its component scores.
type Scored struct {
	Chunk *chunk.Chunk

	Score           float64
	VectorScore     float64
	KeywordScore    float64
	SymbolScore     float64
	IntentScore     float64
	StructuralScore float64

	MatchedIntents  []string
	MatchedKeywords []string
	Explanation     string
}

// Scorer combines the component scores under the configured heuristic
// multipliers.
type Scorer struct {
	cfg config.ScoringConfig
}

func NewScorer(cfg config.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the hybrid score for one ANN candidate.
func (s *Scorer) Score(c *chunk.Chunk, vectorScore float64, qc *QueryContext) *Scored {
	r := &Scored{Chunk: c, VectorScore: clamp01(vectorScore)}

	r.KeywordScore, r.MatchedKeywords = keywordScore(c, qc)
	r.SymbolScore = symbolScore(c.Symbol, qc)
	r.IntentScore, r.MatchedIntents = intentScore(c, qc)
	r.StructuralScore = structuralScore(c.Kind, qc)

	score := weightVector*r.VectorScore +
		weightKeyword*r.KeywordScore +
		weightSymbol*r.SymbolScore +
		weightIntent*r.IntentScore +
		weightStructural*r.StructuralScore

	var multipliers []string
	if r.IntentScore == 1.0 {
		if c.Kind == chunk.KindRoute {
			score *= s.cfg.RouteBoost
			multipliers = append(multipliers, fmt.Sprintf("route_boost=%.2g", s.cfg.RouteBoost))
		} else {
			score *= s.cfg.IntentBoost
			multipliers = append(multipliers, fmt.Sprintf("intent_boost=%.2g", s.cfg.IntentBoost))
		}
	}
	if isNoisePath(c.Path) {
		score *= s.cfg.NoisePenalty
		multipliers = append(multipliers, fmt.Sprintf("noise_penalty=%.2g", s.cfg.NoisePenalty))
	}

	r.Score = clamp01(score)
	r.Explanation = explain(r, multipliers)
	return r
}

// SortScored orders results by score descending, breaking ties by
// vector score, then path, then start line.
func SortScored(results []*Scored) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.VectorScore != b.VectorScore {
			return a.VectorScore > b.VectorScore
		}
		if a.Chunk.Path != b.Chunk.Path {
			return a.Chunk.Path < b.Chunk.Path
		}
		return a.Chunk.StartLine < b.Chunk.StartLine
	})
}

func keywordScore(c *chunk.Chunk, qc *QueryContext) (float64, []string) {
	if len(qc.Keywords) == 0 {
		return 0, nil
	}

	chunkSet := make(map[string]bool, len(c.Keywords))
	for _, k := range c.Keywords {
		chunkSet[k] = true
	}

	var matched []string
	for _, k := range qc.Keywords {
		if chunkSet[k] {
			matched = append(matched, k)
		}
	}
	score := float64(len(matched)) / float64(len(qc.Keywords))
	if len(matched) > maxMatchedKeywords {
		matched = matched[:maxMatchedKeywords]
	}
	return score, matched
}

func symbolScore(symbol string, qc *QueryContext) float64 {
	if symbol == "" {
		return 0
	}
	lowered := strings.ToLower(symbol)
	normalized := normalizeIdentifier(symbol)

	if qc.normalized != "" && qc.normalized == normalized {
		return 1.0
	}
	for _, tok := range qc.Tokens {
		if tok == lowered || tok == normalized {
			return 1.0
		}
	}
	for _, tok := range qc.Tokens {
		if len(tok) >= 3 && strings.Contains(lowered, tok) {
			return 0.5
		}
	}
	return 0
}

func intentScore(c *chunk.Chunk, qc *QueryContext) (float64, []string) {
	var matched []string
	for _, tag := range c.IntentTags {
		if qc.intentTags[tag] {
			matched = append(matched, tag)
		}
	}
	if len(matched) > 0 {
		return 1.0, matched
	}
	if c.HTTPMethod != "" && qc.methodSet[strings.ToLower(c.HTTPMethod)] {
		return 0.5, nil
	}
	return 0, nil
}

func structuralScore(kind string, qc *QueryContext) float64 {
	switch kind {
	case chunk.KindRoute:
		if qc.RouteShaped() {
			return 1.0
		}
		return 0.5
	case chunk.KindFunction, chunk.KindMethod:
		return 0.75
	case chunk.KindClass:
		return 0.5
	default:
		return 0.25
	}
}

// noisePathMarkers flag test and vendored code.
var noisePathMarkers = []string{
	"/test/", "/tests/", "/__tests__/", "/spec/",
	"/vendor/", "/node_modules/", "/testdata/",
}

func isNoisePath(path string) bool {
	normalized := "/" + strings.ToLower(strings.ReplaceAll(path, "\\", "/")) + "/"
	for _, marker := range noisePathMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}

	base := strings.ToLower(path)
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if strings.HasPrefix(base, "test_") {
		return true
	}
	for _, suffix := range []string{"_test", ".test", ".spec"} {
		if i := strings.LastIndexByte(base, '.'); i > 0 {
			if strings.HasSuffix(base[:i], suffix) {
				return true
			}
		}
	}
	return false
}

// explain renders the deterministic component breakdown. Only nonzero
// components appear, followed by any multipliers applied.
func explain(r *Scored, multipliers []string) string {
	var parts []string
	add := func(name string, value float64) {
		if value > 0 {
			parts = append(parts, fmt.Sprintf("%s=%.3f", name, value))
		}
	}
	add("semantic", r.VectorScore)
	add("keyword", r.KeywordScore)
	add("symbol", r.SymbolScore)
	add("intent", r.IntentScore)
	add("structural", r.StructuralScore)
	parts = append(parts, multipliers...)
	return strings.Join(parts, "; ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
