package embed

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

const (
	// StaticDimensions is the fixed dimension of the static embedder.
	StaticDimensions = 256

	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// programmingStopWords are filtered before hashing. Common language
// keywords carry no retrieval signal.
var programmingStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "func": {}, "var": {}, "const": {}, "return": {},
	"if": {}, "else": {}, "nil": {}, "true": {}, "false": {},
	"def": {}, "class": {}, "import": {}, "self": {}, "this": {},
}

// StaticEmbedder produces deterministic embeddings by hashing tokens
// and character n-grams into a fixed-size vector. No network, no model
// downloads. Retrieval quality is token-overlap only, which is enough
// for offline operation and tests.
type StaticEmbedder struct{}

var _ Embedder = (*StaticEmbedder)(nil)

func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

func (e *StaticEmbedder) Embed(_ context.Context, text string, _ Role) ([]float32, error) {
	return e.embed(text), nil
}

func (e *StaticEmbedder) EmbedBatch(_ context.Context, texts []string, _ Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e *StaticEmbedder) Dimensions() int { return StaticDimensions }

func (e *StaticEmbedder) ModelID() string { return "static-v1" }

func (e *StaticEmbedder) Close() error { return nil }

func (e *StaticEmbedder) embed(text string) []float32 {
	vec := make([]float32, StaticDimensions)
	if strings.TrimSpace(text) == "" {
		return vec
	}

	tokens := tokenizeForHash(text)
	for _, tok := range tokens {
		if _, stop := programmingStopWords[tok]; stop {
			continue
		}
		vec[hashToBucket(tok)] += tokenWeight
	}

	lower := strings.ToLower(text)
	for i := 0; i+ngramSize <= len(lower); i++ {
		gram := lower[i : i+ngramSize]
		vec[hashToBucket(gram)] += ngramWeight
	}

	return normalizeVector(vec)
}

func hashToBucket(s string) int {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int(h.Sum64() % uint64(StaticDimensions))
}

func tokenizeForHash(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
