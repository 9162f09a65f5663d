package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xtrc-dev/xtrc/internal/config"
)

const rerankerTimeout = 30 * time.Second

// CrossScore is one cross-encoder relevance score.
type CrossScore struct {
	Index int
	Score float64
}

// Reranker scores (query, document) pairs with a cross-encoder.
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []string) ([]CrossScore, error)
	Enabled() bool
	Close() error
}

// NoOpReranker keeps the original order. Used when reranking is off.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (*NoOpReranker) Rerank(_ context.Context, _ string, documents []string) ([]CrossScore, error) {
	scores := make([]CrossScore, len(documents))
	for i := range documents {
		scores[i] = CrossScore{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	return scores, nil
}

func (*NoOpReranker) Enabled() bool { return false }
func (*NoOpReranker) Close() error  { return nil }

// HTTPReranker calls a local cross-encoder server exposing a /rerank
// route (text-embeddings-inference style contract).
type HTTPReranker struct {
	endpoint string
	model    string
	client   *http.Client
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*HTTPReranker)(nil)

type httpRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

type httpRerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// NewHTTPReranker creates a reranker client for cfg.Endpoint.
func NewHTTPReranker(cfg config.RerankerConfig, logger *slog.Logger) *HTTPReranker {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReranker{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		model:    cfg.Model,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: logger,
	}
}

func (r *HTTPReranker) Enabled() bool { return true }

func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]CrossScore, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, fmt.Errorf("reranker is closed")
	}
	r.mu.RUnlock()

	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(httpRerankRequest{
		Query:     query,
		Documents: documents,
		Model:     r.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling rerank request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, rerankerTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling rerank endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("rerank endpoint returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed httpRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding rerank response: %w", err)
	}

	r.logger.Debug("cross-encoder rerank completed",
		"documents", len(documents),
		"latency_ms", time.Since(started).Milliseconds())

	scores := make([]CrossScore, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(documents) {
			continue
		}
		scores = append(scores, CrossScore{Index: res.Index, Score: res.Score})
	}
	return scores, nil
}

func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.client.CloseIdleConnections()
	return nil
}

// blendCrossScores folds cross-encoder scores into the head of the
// candidate list: final = 0.6 * rank_norm(ce) + 0.4 * hybrid score.
// Candidates beyond the reranked window keep their order behind it.
func blendCrossScores(results []*Scored, scores []CrossScore, window int) {
	if len(scores) == 0 || window < 2 {
		return
	}
	if window > len(results) {
		window = len(results)
	}

	minScore, maxScore := scores[0].Score, scores[0].Score
	for _, s := range scores {
		if s.Score < minScore {
			minScore = s.Score
		}
		if s.Score > maxScore {
			maxScore = s.Score
		}
	}
	spread := maxScore - minScore

	blended := make(map[int]float64, len(scores))
	for _, s := range scores {
		if s.Index >= window {
			continue
		}
		norm := 1.0
		if spread > 0 {
			norm = (s.Score - minScore) / spread
		}
		blended[s.Index] = 0.6*norm + 0.4*results[s.Index].Score
	}

	head := make([]*Scored, window)
	copy(head, results[:window])
	order := make([]int, window)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, oka := blended[order[a]]
		sb, okb := blended[order[b]]
		if oka && okb {
			return sa > sb
		}
		return oka && !okb
	})
	for i, idx := range order {
		results[i] = head[idx]
	}
}
