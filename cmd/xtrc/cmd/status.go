package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/xtrc-dev/xtrc/internal/daemon"
	"github.com/xtrc-dev/xtrc/internal/index"
	"github.com/xtrc-dev/xtrc/internal/output"
	"github.com/xtrc-dev/xtrc/internal/store"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [repo-path]",
		Short: "Show index health for a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repoPath := "."
			if len(args) > 0 {
				repoPath = args[0]
			}
			return runStatus(cmd.Context(), cmd, repoPath)
		},
	}
	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, repoPath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	repoPath, err = index.CanonicalRepoPath(repoPath)
	if err != nil {
		return err
	}

	client := daemon.NewClient(cfg.Server.Host, cfg.Server.Port)
	if client.IsRunning(ctx) {
		status, err := client.Status(ctx, repoPath)
		if err != nil {
			return err
		}
		printStatus(cmd, status, true)
		return nil
	}

	// No daemon; read the on-disk state directly.
	layout := store.NewLayout(repoPath)
	meta, err := store.OpenMetadataStore(layout.MetadataPath())
	if err != nil {
		return err
	}
	defer meta.Close()

	files, chunks, err := meta.Stats(ctx)
	if err != nil {
		return err
	}
	lastIndexed, err := meta.GetMeta(ctx, store.MetaKeyLastIndexedAt)
	if err != nil {
		return err
	}
	model, err := meta.GetMeta(ctx, store.MetaKeyEmbedModel)
	if err != nil {
		return err
	}

	printStatus(cmd, &daemon.StatusResponse{
		RepoPath:      repoPath,
		IndexedFiles:  files,
		IndexedChunks: chunks,
		Model:         model,
		Healthy:       true,
		LastIndexedAt: lastIndexed,
	}, false)
	return nil
}

func printStatus(cmd *cobra.Command, status *daemon.StatusResponse, daemonRunning bool) {
	out := output.New(cmd.OutOrStdout())
	out.Linef("Repository: %s", status.RepoPath)
	if daemonRunning {
		out.Field("daemon", "running")
	} else {
		out.Field("daemon", "not running")
	}
	if !status.Healthy {
		out.Field("health", status.Reason)
		return
	}
	out.Field("files", status.IndexedFiles)
	out.Field("chunks", status.IndexedChunks)
	if status.Model != "" {
		out.Field("model", status.Model)
	}
	if status.LastIndexedAt != "" {
		out.Field("indexed at", status.LastIndexedAt)
	} else {
		out.Field("indexed at", "never")
	}
}
