package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrc-dev/xtrc/internal/chunk"
	"github.com/xtrc-dev/xtrc/internal/config"
)

func testScorer() *Scorer {
	return NewScorer(config.ScoringConfig{
		RouteBoost:   1.3,
		IntentBoost:  1.2,
		NoisePenalty: 0.7,
	})
}

func functionChunk() *chunk.Chunk {
	return &chunk.Chunk{
		ChunkID:     "c1",
		Path:        "src/score.js",
		StartLine:   10,
		EndLine:     20,
		Symbol:      "getUserScore",
		Kind:        chunk.KindFunction,
		Description: "Function getUserScore in src/score.js",
		Keywords:    []string{"get", "score", "user"},
		IntentTags:  []string{"read_resource"},
	}
}

func routeChunk() *chunk.Chunk {
	return &chunk.Chunk{
		ChunkID:     "c2",
		Path:        "src/server.js",
		StartLine:   5,
		EndLine:     12,
		Symbol:      "POST /users/:userId/score/recompute",
		Kind:        chunk.KindRoute,
		Description: "Route handler in src/server.js",
		Keywords:    []string{"create", "post", "recompute", "score", "user"},
		IntentTags:  []string{"create_resource", "route_handler"},
		HTTPMethod:  "POST",
		RoutePath:   "/users/:userId/score/recompute",
		Resource:    "recompute",
	}
}

func TestSymbolScoreExactFromSpacedQuery(t *testing.T) {
	qc := BuildQueryContext("get user score")
	r := testScorer().Score(functionChunk(), 0.9, qc)

	assert.Equal(t, 1.0, r.SymbolScore)
	assert.GreaterOrEqual(t, r.KeywordScore, 0.66)
}

func TestSymbolScoreSubstring(t *testing.T) {
	qc := BuildQueryContext("score handling")
	r := testScorer().Score(functionChunk(), 0.5, qc)
	assert.Equal(t, 0.5, r.SymbolScore)
}

func TestSymbolScoreNoMatch(t *testing.T) {
	qc := BuildQueryContext("database migration")
	r := testScorer().Score(functionChunk(), 0.5, qc)
	assert.Equal(t, 0.0, r.SymbolScore)
}

func TestKeywordScoreFraction(t *testing.T) {
	qc := BuildQueryContext("user score threshold")
	r := testScorer().Score(functionChunk(), 0.5, qc)

	// 2 of 3 query keywords present.
	assert.InDelta(t, 2.0/3.0, r.KeywordScore, 1e-9)
	assert.ElementsMatch(t, []string{"score", "user"}, r.MatchedKeywords)
}

func TestIntentScoreFullAndMethodOnly(t *testing.T) {
	s := testScorer()

	r := s.Score(routeChunk(), 0.5, BuildQueryContext("create new user score"))
	assert.Equal(t, 1.0, r.IntentScore)
	assert.Contains(t, r.MatchedIntents, "create_resource")

	// POST method named but no create intent tag on the chunk.
	methodOnly := routeChunk()
	methodOnly.IntentTags = []string{"route_handler"}
	r = s.Score(methodOnly, 0.5, BuildQueryContext("POST users endpoint"))
	assert.Equal(t, 0.5, r.IntentScore)
	assert.Empty(t, r.MatchedIntents)
}

func TestStructuralScoreByKind(t *testing.T) {
	routeShaped := BuildQueryContext("create new user")
	plain := BuildQueryContext("score math helpers")

	assert.Equal(t, 1.0, structuralScore(chunk.KindRoute, routeShaped))
	assert.Equal(t, 0.5, structuralScore(chunk.KindRoute, plain))
	assert.Equal(t, 0.75, structuralScore(chunk.KindFunction, plain))
	assert.Equal(t, 0.75, structuralScore(chunk.KindMethod, plain))
	assert.Equal(t, 0.5, structuralScore(chunk.KindClass, plain))
	assert.Equal(t, 0.25, structuralScore(chunk.KindBlock, plain))
}

func TestRouteBoostApplied(t *testing.T) {
	s := testScorer()
	qc := BuildQueryContext("create new user score")

	boosted := s.Score(routeChunk(), 0.6, qc)
	assert.Contains(t, boosted.Explanation, "route_boost=1.3")

	plain := routeChunk()
	plain.Kind = chunk.KindFunction
	plain.HTTPMethod = ""
	fn := s.Score(plain, 0.6, qc)
	assert.Contains(t, fn.Explanation, "intent_boost=1.2")
}

func TestNoisePenaltyApplied(t *testing.T) {
	s := testScorer()
	qc := BuildQueryContext("user score")

	noisy := functionChunk()
	noisy.Path = "tests/test_score.py"
	clean := functionChunk()

	noisyScore := s.Score(noisy, 0.8, qc)
	cleanScore := s.Score(clean, 0.8, qc)

	assert.Less(t, noisyScore.Score, cleanScore.Score)
	assert.Contains(t, noisyScore.Explanation, "noise_penalty=0.7")
}

func TestScoreClampedAfterBoost(t *testing.T) {
	s := testScorer()
	qc := BuildQueryContext("create new user score recompute post")

	r := s.Score(routeChunk(), 1.0, qc)
	assert.LessOrEqual(t, r.Score, 1.0)
	assert.GreaterOrEqual(t, r.Score, 0.0)
}

func TestExplanationOmitsZeroComponents(t *testing.T) {
	s := testScorer()
	qc := BuildQueryContext("database migration")

	r := s.Score(functionChunk(), 0.4, qc)
	assert.Contains(t, r.Explanation, "semantic=0.400")
	assert.Contains(t, r.Explanation, "structural=0.750")
	assert.NotContains(t, r.Explanation, "keyword=")
	assert.NotContains(t, r.Explanation, "symbol=")
	assert.NotContains(t, r.Explanation, "intent=")
}

func TestSortScoredTieBreaks(t *testing.T) {
	a := &Scored{Score: 0.5, VectorScore: 0.9, Chunk: &chunk.Chunk{Path: "b.go", StartLine: 1}}
	b := &Scored{Score: 0.5, VectorScore: 0.8, Chunk: &chunk.Chunk{Path: "a.go", StartLine: 1}}
	c := &Scored{Score: 0.5, VectorScore: 0.8, Chunk: &chunk.Chunk{Path: "a.go", StartLine: 9}}
	d := &Scored{Score: 0.7, VectorScore: 0.1, Chunk: &chunk.Chunk{Path: "z.go", StartLine: 1}}

	results := []*Scored{c, a, d, b}
	SortScored(results)

	require.Equal(t, []*Scored{d, a, b, c}, results)
}

func TestIsNoisePath(t *testing.T) {
	assert.True(t, isNoisePath("tests/test_score.py"))
	assert.True(t, isNoisePath("src/__tests__/app.test.js"))
	assert.True(t, isNoisePath("vendor/lib/util.go"))
	assert.True(t, isNoisePath("node_modules/express/index.js"))
	assert.True(t, isNoisePath("src/score_test.go"))
	assert.True(t, isNoisePath("src/app.spec.ts"))
	assert.False(t, isNoisePath("src/score.js"))
	assert.False(t, isNoisePath("src/contest.js"))
}
