package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/xtrc-dev/xtrc/internal/daemon"
	"github.com/xtrc-dev/xtrc/internal/index"
	"github.com/xtrc-dev/xtrc/internal/logging"
	"github.com/xtrc-dev/xtrc/internal/output"
	"github.com/xtrc-dev/xtrc/internal/watcher"
)

// indexOptions holds CLI flags for index.
type indexOptions struct {
	rebuild bool
	local   bool
	watch   bool
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index [repo-path]",
		Short: "Build or refresh a repository index",
		Long: `Index a repository incrementally. Only files whose content changed
since the last run are re-embedded. Uses the running daemon when one
is available, otherwise runs in-process.

Examples:
  xtrc index
  xtrc index ~/code/myapp --rebuild
  xtrc index --watch`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath := "."
			if len(args) > 0 {
				repoPath = args[0]
			}
			return runIndex(cmd.Context(), cmd, repoPath, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Drop all indexed state and re-index from scratch")
	cmd.Flags().BoolVar(&opts.local, "local", false, "Run in-process even if a daemon is running")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Keep running and re-index when files change")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, repoPath string, opts indexOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	repoPath, err = index.CanonicalRepoPath(repoPath)
	if err != nil {
		return err
	}

	// Watch mode stays in-process; the watcher owns the repo stores.
	if !opts.local && !opts.watch {
		client := daemon.NewClient(cfg.Server.Host, cfg.Server.Port)
		if client.IsRunning(ctx) {
			resp, err := client.Index(ctx, repoPath, opts.rebuild)
			if err != nil {
				return err
			}
			printIndexResult(out, repoPath, &index.Result{
				FilesScanned:  resp.FilesScanned,
				FilesIndexed:  resp.FilesIndexed,
				FilesDeleted:  resp.FilesDeleted,
				ChunksIndexed: resp.ChunksIndexed,
				DurationMS:    resp.DurationMS,
			})
			return nil
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

	result, err := stack.indexer.Run(ctx, stores, index.Options{Rebuild: opts.rebuild})
	if err != nil {
		return err
	}
	printIndexResult(out, repoPath, result)

	if !opts.watch {
		return nil
	}

	w, err := watcher.New(logger)
	if err != nil {
		return err
	}
	out.Line("Watching for changes (ctrl-c to stop)...")
	err = w.Watch(ctx, repoPath, func(ctx context.Context) {
		result, err := stack.indexer.Run(ctx, stores, index.Options{})
		if err != nil {
			out.Warningf("re-index failed: %v", err)
			return
		}
		out.Successf("re-indexed: %d files, %d chunks (%dms)",
			result.FilesIndexed, result.ChunksIndexed, result.DurationMS)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printIndexResult(out *output.Writer, repoPath string, result *index.Result) {
	out.Successf("indexed %s", repoPath)
	out.Field("files scanned", result.FilesScanned)
	out.Field("files indexed", result.FilesIndexed)
	out.Field("files deleted", result.FilesDeleted)
	out.Field("chunks", result.ChunksIndexed)
	out.Field("duration", result.DurationMS)
}
