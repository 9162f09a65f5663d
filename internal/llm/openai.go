package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xtrc-dev/xtrc/internal/config"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIClient talks to an OpenAI-compatible chat completions API.
type OpenAIClient struct {
	baseURL string
	apiKey  string
	cfg     config.LLMConfig
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

var _ Collaborator = (*OpenAIClient)(nil)

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAIClient creates an OpenAI-backed collaborator. baseURL may
// be empty for the public API, or point at any compatible server.
func NewOpenAIClient(cfg config.LLMConfig, baseURL string, logger *slog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai collaborator needs an API key")
	}
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenAIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  cfg.APIKey,
		cfg:     cfg,
		timeout: cfg.Timeout(),
		client: &http.Client{
			// Per-call ctx timeouts bound requests.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

func (c *OpenAIClient) Enabled() bool { return true }

func (c *OpenAIClient) ModelID() string        { return c.cfg.Model }
func (c *OpenAIClient) RewriteModelID() string { return c.cfg.RewriteModel }
func (c *OpenAIClient) SummaryModelID() string { return c.cfg.SummaryModel }

func (c *OpenAIClient) Rewrite(ctx context.Context, query string) (string, error) {
	text, err := c.chat(ctx, c.cfg.RewriteModel, rewriteSystemPrompt, query, 80)
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if rewritten == "" {
		return "", fmt.Errorf("empty rewrite")
	}
	return rewritten, nil
}

func (c *OpenAIClient) Summarize(ctx context.Context, path, language, content string) (string, error) {
	const maxInput = 8000
	content = truncateBytes(content, maxInput)

	system := fmt.Sprintf(summarySystemPromptFmt, c.cfg.SummaryMaxChars)
	user := "Path: " + path + "\nLanguage: " + language + "\n---\n" + content

	text, err := c.chat(ctx, c.cfg.SummaryModel, system, user, 160)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return truncateBytes(summary, c.cfg.SummaryMaxChars), nil
}

func (c *OpenAIClient) SelectBest(ctx context.Context, query string, candidates []Candidate) (*RerankResult, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to rerank")
	}

	text, err := c.chat(ctx, c.cfg.Model, rerankSystemPrompt,
		buildRerankPrompt(query, candidates), 300)
	if err != nil {
		return nil, err
	}
	return ParseRerankResponse(text, candidates)
}

func (c *OpenAIClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func (c *OpenAIClient) chat(ctx context.Context, model, system, user string, maxTokens int) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling chat API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat API returned %d: %s",
			resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat API returned no choices")
	}

	c.logger.Debug("chat call completed",
		"model", model, "latency_ms", time.Since(started).Milliseconds())
	return parsed.Choices[0].Message.Content, nil
}
