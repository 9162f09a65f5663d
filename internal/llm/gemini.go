package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/xtrc-dev/xtrc/internal/config"
)

const (
	rewriteSystemPrompt = `You rewrite code search queries. Turn the user's natural question into a short technical description of the code they are looking for: mention likely function names, operations, and resources. One line, no punctuation at the end, no explanations.`

	summarySystemPromptFmt = `You are a concise code summarizer. Write at most %d characters, 1-2 sentences, no code blocks, no backticks. Say what the code does and what it operates on. Prefer verbs.`
)

// GeminiClient talks to the Gemini API through the google genai SDK.
type GeminiClient struct {
	client  *genai.Client
	cfg     config.LLMConfig
	timeout time.Duration
	logger  *slog.Logger
}

var _ Collaborator = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini-backed collaborator.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini collaborator needs an API key")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
		APIKey:  cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiClient{
		client:  client,
		cfg:     cfg,
		timeout: cfg.Timeout(),
		logger:  logger,
	}, nil
}

func (c *GeminiClient) Enabled() bool { return true }

func (c *GeminiClient) ModelID() string        { return c.cfg.Model }
func (c *GeminiClient) RewriteModelID() string { return c.cfg.RewriteModel }
func (c *GeminiClient) SummaryModelID() string { return c.cfg.SummaryModel }

func (c *GeminiClient) Rewrite(ctx context.Context, query string) (string, error) {
	text, err := c.generate(ctx, c.cfg.RewriteModel, rewriteSystemPrompt, query, 80)
	if err != nil {
		return "", err
	}
	rewritten := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if rewritten == "" {
		return "", fmt.Errorf("empty rewrite")
	}
	return rewritten, nil
}

func (c *GeminiClient) Summarize(ctx context.Context, path, language, content string) (string, error) {
	const maxInput = 8000
	content = truncateBytes(content, maxInput)

	system := fmt.Sprintf(summarySystemPromptFmt, c.cfg.SummaryMaxChars)
	user := "Path: " + path + "\nLanguage: " + language + "\n---\n" + content

	text, err := c.generate(ctx, c.cfg.SummaryModel, system, user, 160)
	if err != nil {
		return "", err
	}

	summary := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if summary == "" {
		return "", fmt.Errorf("empty summary")
	}
	return truncateBytes(summary, c.cfg.SummaryMaxChars), nil
}

func (c *GeminiClient) SelectBest(ctx context.Context, query string, candidates []Candidate) (*RerankResult, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidates to rerank")
	}

	text, err := c.generate(ctx, c.cfg.Model, rerankSystemPrompt,
		buildRerankPrompt(query, candidates), 300)
	if err != nil {
		return nil, err
	}
	return ParseRerankResponse(text, candidates)
}

func (c *GeminiClient) Close() error { return nil }

// generate runs one bounded GenerateContent call and returns the first
// candidate's text.
func (c *GeminiClient) generate(ctx context.Context, model, system, user string, maxTokens int32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temp := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   maxTokens,
		SystemInstruction: genai.Text(system)[0],
	}

	started := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini call failed: %w", err)
	}
	c.logger.Debug("gemini call completed",
		"model", model, "latency_ms", time.Since(started).Milliseconds())

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no content")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
