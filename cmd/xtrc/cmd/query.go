package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtrc-dev/xtrc/internal/daemon"
	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/index"
	"github.com/xtrc-dev/xtrc/internal/logging"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	repoPath string
	topK     int
	format   string
	local    bool
}

func newQueryCmd() *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask where something lives in the code",
		Long: `Query an indexed repository with a natural-language question and
get ranked jump targets back.

Examples:
  xtrc query "get user score"
  xtrc query "where do we create users" --repo ~/code/myapp --top-k 5
  xtrc query "retry logic" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.repoPath, "repo", "r", ".", "Repository to query")
	cmd.Flags().IntVarP(&opts.topK, "top-k", "n", daemon.DefaultTopK, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Run in-process even if a daemon is running")
	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, query string, opts queryOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repoPath, err := index.CanonicalRepoPath(opts.repoPath)
	if err != nil {
		return err
	}

	if !opts.local {
		client := daemon.NewClient(cfg.Server.Host, cfg.Server.Port)
		if client.IsRunning(ctx) {
			resp, err := client.Query(ctx, repoPath, query, &opts.topK)
			if err != nil {
				return err
			}
			return printQueryResponse(cmd, resp, opts.format)
		}
	}

	logger, cleanup, err := logging.Setup(logging.Config{Level: cfg.Logging.Level, WriteToStderr: false})
	if err != nil {
		return err
	}
	defer cleanup()

	stack, err := buildLocalStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stack.Close()

	stores, err := index.OpenRepoStores(repoPath, stack.embedder.Dimensions())
	if err != nil {
		return err
	}
	defer stores.Close()

	indexed, err := stores.Indexed(ctx)
	if err != nil {
		return err
	}
	if !indexed {
		return xtrcerrors.Newf(xtrcerrors.CodeNotIndexed, "repository %s has not been indexed; run 'xtrc index' first", repoPath)
	}
	if stores.DimensionMismatch() {
		return xtrcerrors.New(xtrcerrors.CodeDimensionMismatch,
			"the index was built with a different embedding model; run 'xtrc index --rebuild'")
	}

	result, err := stack.engine.Query(ctx, stores.Vectors, query, opts.topK)
	if err != nil {
		return err
	}

	return printQueryResponse(cmd, &daemon.QueryResponse{
		Status:          "ok",
		RepoPath:        repoPath,
		Query:           query,
		Results:         result.Results,
		Selection:       result.Selection,
		SelectionSource: result.SelectionSource,
		UsedLLM:         result.UsedLLM,
		LLMModel:        result.LLMModel,
		LLMLatencyMS:    result.LLMLatencyMS,
		RewrittenQuery:  result.RewrittenQuery,
	}, opts.format)
}

func printQueryResponse(cmd *cobra.Command, resp *daemon.QueryResponse, format string) error {
	out := cmd.OutOrStdout()

	if format == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(resp)
	}

	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}

	for i, r := range resp.Results {
		symbol := r.Symbol
		if symbol == "" {
			symbol = "(block)"
		}
		fmt.Fprintf(out, "%2d. %s:%d-%d  %s  (%.3f)\n", i+1, r.FilePath, r.StartLine, r.EndLine, symbol, r.Score)
		fmt.Fprintf(out, "    %s\n", r.Explanation)
	}

	if resp.Selection != nil {
		fmt.Fprintf(out, "\n-> %s:%d  [%s] %s\n",
			resp.Selection.File, resp.Selection.Line, resp.SelectionSource, resp.Selection.Reason)
	}
	if resp.RewrittenQuery != "" {
		fmt.Fprintf(out, "   (query rewritten to: %q)\n", resp.RewrittenQuery)
	}
	return nil
}
