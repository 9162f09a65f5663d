// Package llm is the optional LLM collaborator: query rewrite, chunk
// summarization, and rerank-plus-selection. Every call carries a hard
// timeout and every failure degrades silently; retrieval never depends
// on a model being reachable.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"unicode/utf8"
)

// ErrDisabled is returned by the disabled collaborator.
var ErrDisabled = errors.New("llm collaborator is disabled")

// Candidate is one rerank input, distilled from a scored result.
type Candidate struct {
	File      string
	StartLine int
	EndLine   int
	Symbol    string
	Summary   string
	Score     float64
}

// Selection points at the single best location for a query.
type Selection struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// RerankResult is the model's ordering over the candidate indices plus
// its selection. Order may be empty when the model only selected.
type RerankResult struct {
	Order     []int
	Selection *Selection
}

// Collaborator is the LLM surface used by indexing and querying.
type Collaborator interface {
	// Enabled reports whether calls will reach a real model.
	Enabled() bool

	// Rewrite turns a natural question into a technical description
	// for embedding. The raw query keeps authority over keywords.
	Rewrite(ctx context.Context, query string) (string, error)

	// Summarize produces a bounded natural-language description of a
	// code chunk.
	Summarize(ctx context.Context, path, language, content string) (string, error)

	// SelectBest reranks candidates and picks the best location.
	SelectBest(ctx context.Context, query string, candidates []Candidate) (*RerankResult, error)

	// ModelID identifies the rerank/selection model.
	ModelID() string

	// RewriteModelID identifies the rewrite model.
	RewriteModelID() string

	// SummaryModelID identifies the summarization model.
	SummaryModelID() string

	Close() error
}

// RewriteCacheKey derives the LRU key for a rewritten query.
func RewriteCacheKey(rewriteModelID, rawQuery string) string {
	h := sha256.New()
	h.Write([]byte(rewriteModelID))
	h.Write([]byte{0})
	h.Write([]byte(rawQuery))
	return hex.EncodeToString(h.Sum(nil))
}

// truncateBytes caps s at max bytes without splitting a UTF-8 rune:
// the cut backs up to the nearest rune boundary.
func truncateBytes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// SummaryCacheKey derives the persistent key for a chunk summary.
func SummaryCacheKey(summaryModelID, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(summaryModelID))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Disabled is the no-op collaborator used when use_llm is off.
type Disabled struct{}

var _ Collaborator = Disabled{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Rewrite(context.Context, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) Summarize(context.Context, string, string, string) (string, error) {
	return "", ErrDisabled
}

func (Disabled) SelectBest(context.Context, string, []Candidate) (*RerankResult, error) {
	return nil, ErrDisabled
}

func (Disabled) ModelID() string        { return "" }
func (Disabled) RewriteModelID() string { return "" }
func (Disabled) SummaryModelID() string { return "" }
func (Disabled) Close() error           { return nil }
