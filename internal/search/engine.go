package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/embed"
	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/llm"
	"github.com/xtrc-dev/xtrc/internal/store"
)

const (
	// minCandidates floors the ANN over-fetch.
	minCandidates = 25

	// llmCandidateCount caps the rerank input handed to the LLM.
	llmCandidateCount = 10

	rewriteCacheSize = 512

	selectionReasonHeuristic = "highest hybrid score"
)

// Result is one scored hit as returned to clients.
type Result struct {
	FilePath        string   `json:"file_path"`
	StartLine       int      `json:"start_line"`
	EndLine         int      `json:"end_line"`
	Symbol          string   `json:"symbol"`
	Description     string   `json:"description"`
	Score           float64  `json:"score"`
	VectorScore     float64  `json:"vector_score"`
	KeywordScore    float64  `json:"keyword_score"`
	SymbolScore     float64  `json:"symbol_score"`
	IntentScore     float64  `json:"intent_score"`
	StructuralScore float64  `json:"structural_score"`
	MatchedIntents  []string `json:"matched_intents"`
	MatchedKeywords []string `json:"matched_keywords"`
	Explanation     string   `json:"explanation"`
}

// Selection points at the single recommended location.
type Selection struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Response is the query engine output.
type Response struct {
	Results         []*Result  `json:"results"`
	Selection       *Selection `json:"selection"`
	SelectionSource string     `json:"selection_source"`
	UsedLLM         bool       `json:"used_llm,omitempty"`
	LLMModel        string     `json:"llm_model,omitempty"`
	LLMLatencyMS    int64      `json:"llm_latency_ms,omitempty"`
	RewrittenQuery  string     `json:"rewritten_query,omitempty"`
}

// Engine runs the query pipeline over one repository's vector store.
type Engine struct {
	embedder embed.Embedder
	collab   llm.Collaborator
	reranker Reranker
	scorer   *Scorer
	cfg      *config.Config
	rewrites *lru.Cache[string, string]
	logger   *slog.Logger
}

// NewEngine wires the query pipeline.
func NewEngine(embedder embed.Embedder, collab llm.Collaborator, reranker Reranker, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	rewrites, err := lru.New[string, string](rewriteCacheSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if reranker == nil {
		reranker = &NoOpReranker{}
	}
	return &Engine{
		embedder: embedder,
		collab:   collab,
		reranker: reranker,
		scorer:   NewScorer(cfg.Scoring),
		cfg:      cfg,
		rewrites: rewrites,
		logger:   logger,
	}, nil
}

// Query runs the full pipeline: rewrite, embed, ANN, hybrid score,
// optional cross-encoder, optional LLM selection.
func (e *Engine) Query(ctx context.Context, vstore *store.VectorStore, rawQuery string, topK int) (*Response, error) {
	if strings.TrimSpace(rawQuery) == "" {
		return nil, xtrcerrors.New(xtrcerrors.CodeInvalidRequest, "query must not be empty")
	}
	if topK < 0 {
		return nil, xtrcerrors.New(xtrcerrors.CodeInvalidRequest, "top_k must not be negative")
	}

	resp := &Response{Results: []*Result{}, SelectionSource: "heuristic"}
	if topK == 0 {
		return resp, nil
	}

	// A dropped client cancels only the LLM sub-calls, which keep the
	// request context. The core pipeline runs to completion so retries
	// always find a warm index and consistent caches.
	coreCtx := context.WithoutCancel(ctx)

	// Keywords and intent come from the raw query; only the embedding
	// uses the rewrite.
	embedQuery := e.rewriteQuery(ctx, rawQuery, resp)
	qc := BuildQueryContext(rawQuery)

	queryVec, err := e.embedder.Embed(coreCtx, embedQuery, embed.RoleQuery)
	if err != nil {
		return nil, xtrcerrors.Internal("embedding query failed", err)
	}

	k := topK * 4
	if k < minCandidates {
		k = minCandidates
	}
	hits, err := vstore.Search(coreCtx, queryVec, k)
	if err != nil {
		return nil, xtrcerrors.Internal("vector search failed", err)
	}

	candidates := make([]*Scored, 0, len(hits))
	for _, hit := range hits {
		if hit.Payload == nil {
			continue
		}
		candidates = append(candidates, e.scorer.Score(hit.Payload, float64(hit.Score), qc))
	}
	SortScored(candidates)

	if limit := topK * 2; len(candidates) > limit {
		candidates = candidates[:limit]
	}

	e.crossEncode(ctx, rawQuery, candidates)
	e.llmSelect(ctx, rawQuery, candidates, resp)

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	for _, c := range candidates {
		resp.Results = append(resp.Results, toResult(c))
	}

	if resp.Selection == nil && len(resp.Results) > 0 {
		top := resp.Results[0]
		resp.Selection = &Selection{
			File:   top.FilePath,
			Line:   top.StartLine,
			Reason: selectionReasonHeuristic,
		}
		resp.SelectionSource = "heuristic"
	}
	return resp, nil
}

// rewriteQuery returns the text to embed. Failures fall back to the
// raw query without surfacing an error.
func (e *Engine) rewriteQuery(ctx context.Context, rawQuery string, resp *Response) string {
	if !e.collab.Enabled() || !e.cfg.LLM.EnableRewrite {
		return rawQuery
	}

	key := llm.RewriteCacheKey(e.collab.RewriteModelID(), rawQuery)
	if cached, ok := e.rewrites.Get(key); ok {
		if cached != rawQuery {
			resp.RewrittenQuery = cached
		}
		return cached
	}

	rewritten, err := e.collab.Rewrite(ctx, rawQuery)
	if err != nil {
		e.logger.Debug("query rewrite failed", "error", err)
		return rawQuery
	}

	e.rewrites.Add(key, rewritten)
	if rewritten != rawQuery {
		resp.RewrittenQuery = rewritten
	}
	return rewritten
}

// crossEncode reorders the head of the candidate list with the local
// cross-encoder. Failures leave the order untouched.
func (e *Engine) crossEncode(ctx context.Context, query string, candidates []*Scored) {
	if !e.reranker.Enabled() || len(candidates) < 2 {
		return
	}

	window := e.cfg.Reranker.TopK
	if window > len(candidates) {
		window = len(candidates)
	}

	documents := make([]string, window)
	for i := 0; i < window; i++ {
		documents[i] = candidates[i].Chunk.EmbeddingText()
	}

	scores, err := e.reranker.Rerank(ctx, query, documents)
	if err != nil {
		e.logger.Warn("cross-encoder rerank failed", "error", err)
		return
	}
	blendCrossScores(candidates, scores, window)
}

// llmSelect runs rerank-plus-selection when the best vector score is
// below the confidence threshold. Failures keep the heuristic result.
func (e *Engine) llmSelect(ctx context.Context, query string, candidates []*Scored, resp *Response) {
	if !e.collab.Enabled() || len(candidates) == 0 {
		return
	}

	bestVector := 0.0
	for _, c := range candidates {
		if c.VectorScore > bestVector {
			bestVector = c.VectorScore
		}
	}
	if bestVector >= e.cfg.LLM.Threshold {
		return
	}

	count := llmCandidateCount
	if count > len(candidates) {
		count = len(candidates)
	}
	llmCands := make([]llm.Candidate, count)
	for i := 0; i < count; i++ {
		c := candidates[i]
		summary := c.Chunk.Summary
		if summary == "" {
			summary = c.Chunk.Description
		}
		llmCands[i] = llm.Candidate{
			File:      c.Chunk.Path,
			StartLine: c.Chunk.StartLine,
			EndLine:   c.Chunk.EndLine,
			Symbol:    c.Chunk.Symbol,
			Summary:   summary,
			Score:     c.Score,
		}
	}

	started := time.Now()
	result, err := e.collab.SelectBest(ctx, query, llmCands)
	latency := time.Since(started)
	if err != nil {
		e.logger.Debug("llm selection failed", "error", err,
			"latency_ms", latency.Milliseconds())
		return
	}

	resp.UsedLLM = true
	resp.LLMModel = e.collab.ModelID()
	resp.LLMLatencyMS = latency.Milliseconds()

	if len(result.Order) > 0 {
		reordered := make([]*Scored, 0, count)
		taken := make(map[int]bool, count)
		for _, idx := range result.Order {
			if idx < count && !taken[idx] {
				reordered = append(reordered, candidates[idx])
				taken[idx] = true
			}
		}
		for i := 0; i < count; i++ {
			if !taken[i] {
				reordered = append(reordered, candidates[i])
			}
		}
		copy(candidates[:count], reordered)
	}

	if result.Selection != nil {
		resp.Selection = &Selection{
			File:   result.Selection.File,
			Line:   result.Selection.Line,
			Reason: result.Selection.Reason,
		}
		resp.SelectionSource = "llm"
	}
}

func toResult(c *Scored) *Result {
	matchedIntents := c.MatchedIntents
	if matchedIntents == nil {
		matchedIntents = []string{}
	}
	matchedKeywords := c.MatchedKeywords
	if matchedKeywords == nil {
		matchedKeywords = []string{}
	}
	return &Result{
		FilePath:        c.Chunk.Path,
		StartLine:       c.Chunk.StartLine,
		EndLine:         c.Chunk.EndLine,
		Symbol:          c.Chunk.Symbol,
		Description:     c.Chunk.Description,
		Score:           c.Score,
		VectorScore:     c.VectorScore,
		KeywordScore:    c.KeywordScore,
		SymbolScore:     c.SymbolScore,
		IntentScore:     c.IntentScore,
		StructuralScore: c.StructuralScore,
		MatchedIntents:  matchedIntents,
		MatchedKeywords: matchedKeywords,
		Explanation:     c.Explanation,
	}
}
