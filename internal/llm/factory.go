package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xtrc-dev/xtrc/internal/config"
)

// New builds the collaborator selected by configuration. A disabled
// config yields the no-op collaborator rather than an error.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Collaborator, error) {
	if !cfg.Enabled {
		return Disabled{}, nil
	}

	switch cfg.Provider {
	case "gemini":
		return NewGeminiClient(ctx, cfg, logger)
	case "openai":
		return NewOpenAIClient(cfg, "", logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
