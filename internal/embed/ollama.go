package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	maxIdleConns      = 10
	idleConnTimeout   = 90 * time.Second
)

// OllamaEmbedder generates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	host   string
	model  string
	client *http.Client
	logger *slog.Logger

	mu         sync.RWMutex
	dimensions int
	closed     bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewOllamaEmbedder connects to an Ollama server and verifies the model
// is available. If the exact model name is not found, a tag variant
// (for example "bge-m3:latest") is accepted. Dimensions are detected
// from the first embedding call.
func NewOllamaEmbedder(ctx context.Context, host, model string, logger *slog.Logger) (*OllamaEmbedder, error) {
	if host == "" {
		host = defaultOllamaHost
	}
	host = strings.TrimRight(host, "/")
	if logger == nil {
		logger = slog.Default()
	}

	e := &OllamaEmbedder{
		host:  host,
		model: model,
		client: &http.Client{
			// No client-level timeout; callers bound requests with ctx.
			Transport: &http.Transport{
				MaxIdleConns:        maxIdleConns,
				MaxIdleConnsPerHost: maxIdleConns,
				IdleConnTimeout:     idleConnTimeout,
			},
		},
		logger: logger,
	}

	resolved, err := e.resolveModel(ctx, model)
	if err != nil {
		return nil, err
	}
	e.model = resolved

	probe, err := e.embedBatch(ctx, []string{"dimension probe"})
	if err != nil {
		return nil, fmt.Errorf("probing embedding dimensions: %w", err)
	}
	if len(probe) == 0 || len(probe[0]) == 0 {
		return nil, fmt.Errorf("model %s returned empty embedding", resolved)
	}
	e.dimensions = len(probe[0])

	logger.Info("ollama embedder ready",
		"host", host, "model", resolved, "dimensions", e.dimensions)
	return e, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string, role Role) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text}, role)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	empty := make([]bool, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			empty[i] = true
			inputs[i] = " "
			continue
		}
		if role == RoleQuery {
			inputs[i] = bgeQueryInstruction + t
		} else {
			inputs[i] = t
		}
	}

	vecs, err := e.embedBatch(ctx, inputs)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vecs))
	}

	for i := range vecs {
		if empty[i] {
			vecs[i] = make([]float32, e.Dimensions())
			continue
		}
		normalizeVector(vecs[i])
	}
	return vecs, nil
}

func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimensions
}

func (e *OllamaEmbedder) ModelID() string { return "ollama/" + e.model }

func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.client.CloseIdleConnections()
	return nil
}

func (e *OllamaEmbedder) embedBatch(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.model, Input: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ollama embed API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama embed API returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	return parsed.Embeddings, nil
}

// resolveModel checks the server's model list for an exact or tagged
// match of the requested model.
func (e *OllamaEmbedder) resolveModel(ctx context.Context, model string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/api/tags", nil)
	if err != nil {
		return "", fmt.Errorf("creating tags request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("connecting to ollama at %s: %w", e.host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama tags API returned %d", resp.StatusCode)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", fmt.Errorf("decoding tags response: %w", err)
	}

	for _, m := range tags.Models {
		if m.Name == model {
			return model, nil
		}
	}
	for _, m := range tags.Models {
		if strings.SplitN(m.Name, ":", 2)[0] == model {
			e.logger.Debug("using tagged model variant", "requested", model, "resolved", m.Name)
			return m.Name, nil
		}
	}
	return "", fmt.Errorf("model %s not found on ollama server %s (pull it with: ollama pull %s)",
		model, e.host, model)
}
