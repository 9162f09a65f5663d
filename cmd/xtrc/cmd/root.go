// Package cmd provides the CLI commands for xtrc.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/embed"
	"github.com/xtrc-dev/xtrc/internal/index"
	"github.com/xtrc-dev/xtrc/internal/llm"
	"github.com/xtrc-dev/xtrc/internal/search"
	"github.com/xtrc-dev/xtrc/pkg/version"
)

var configDir string

// NewRootCmd creates the root command for the xtrc CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xtrc",
		Short: "Local code navigation daemon",
		Long: `xtrc answers natural-language questions about a source repository
with ranked jump targets (file, line range, symbol).

It maintains a persistent per-repository index combining tree-sitter
parsing, dense embeddings, and a hybrid scorer, served by a local
daemon over loopback HTTP.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("xtrc version {{.Version}}\n")
	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory containing xtrc.yaml")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return err
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	return config.Load(configDir)
}

// buildEmbedder constructs the configured embedding provider.
func buildEmbedder(ctx context.Context, cfg *config.Config, logger *slog.Logger) (embed.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "static":
		return embed.NewStaticEmbedder(), nil
	case "ollama":
		return embed.NewOllamaEmbedder(ctx, cfg.Embedding.OllamaHost, cfg.Embedding.Model, logger)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

// localStack is the in-process pipeline used when no daemon is running.
type localStack struct {
	cfg      *config.Config
	embedder embed.Embedder
	collab   llm.Collaborator
	indexer  *index.Indexer
	engine   *search.Engine
}

func buildLocalStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*localStack, error) {
	embedder, err := buildEmbedder(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	collab, err := llm.New(ctx, cfg.LLM, logger)
	if err != nil {
		embedder.Close()
		return nil, err
	}

	var reranker search.Reranker = &search.NoOpReranker{}
	if cfg.Reranker.Enabled {
		reranker = search.NewHTTPReranker(cfg.Reranker, logger)
	}

	indexer, err := index.New(embedder, collab, cfg, logger)
	if err != nil {
		embedder.Close()
		return nil, err
	}
	engine, err := search.NewEngine(embedder, collab, reranker, cfg, logger)
	if err != nil {
		embedder.Close()
		return nil, err
	}

	return &localStack{
		cfg:      cfg,
		embedder: embedder,
		collab:   collab,
		indexer:  indexer,
		engine:   engine,
	}, nil
}

func (s *localStack) Close() {
	s.collab.Close()
	s.embedder.Close()
}
