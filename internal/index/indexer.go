package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtrc-dev/xtrc/internal/chunk"
	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/embed"
	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/llm"
	"github.com/xtrc-dev/xtrc/internal/scanner"
	"github.com/xtrc-dev/xtrc/internal/store"
)

// Options configures one index run.
type Options struct {
	// Rebuild drops all indexed state before the run.
	Rebuild bool
}

// Result is the outcome of a completed run.
type Result struct {
	FilesScanned  int   `json:"files_scanned"`
	FilesIndexed  int   `json:"files_indexed"`
	FilesDeleted  int   `json:"files_deleted"`
	ChunksIndexed int   `json:"chunks_indexed"`
	DurationMS    int64 `json:"duration_ms"`
}

// Indexer runs incremental index passes over repositories. One Indexer
// is shared across repositories; per-repo state lives in RepoStores.
type Indexer struct {
	scanner  *scanner.Scanner
	embedder embed.Embedder
	collab   llm.Collaborator
	cfg      *config.Config
	logger   *slog.Logger
}

func New(embedder embed.Embedder, collab llm.Collaborator, cfg *config.Config, logger *slog.Logger) (*Indexer, error) {
	sc, err := scanner.New()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if collab == nil {
		collab = llm.Disabled{}
	}
	return &Indexer{
		scanner:  sc,
		embedder: embedder,
		collab:   collab,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// scannedFile is one walked file with its content and hash.
type scannedFile struct {
	info    *scanner.FileInfo
	content []byte
	hash    string
}

// fileChunks is the chunking output for one changed file.
type fileChunks struct {
	file   *scannedFile
	chunks []*chunk.Chunk
}

// Run executes a full index pass. Only one run per repository proceeds
// at a time; a held lock fails fast with BUSY. The content hash is the
// sole change authority. Vectors are written before metadata commits;
// on abort the metadata transaction rolls back and the in-memory graph
// reloads from the last saved state, discarding partial vector writes.
func (ix *Indexer) Run(ctx context.Context, stores *RepoStores, opts Options) (*Result, error) {
	started := time.Now()

	lock, err := store.NewRepoLock(stores.Layout.LockPath())
	if err != nil {
		return nil, xtrcerrors.Internal("creating index lock", err)
	}
	locked, err := lock.TryLock()
	if err != nil {
		return nil, xtrcerrors.Internal("acquiring index lock", err)
	}
	if !locked {
		return nil, xtrcerrors.New(xtrcerrors.CodeBusy, "an index run is already in progress for this repository")
	}
	defer lock.Unlock()

	if opts.Rebuild || stores.DimensionMismatch() {
		if stores.DimensionMismatch() {
			ix.logger.Info("embedding dimensions changed, rebuilding",
				"stored", stores.StoredDimensions(), "active", ix.embedder.Dimensions())
		}
		if err := stores.Reset(ctx); err != nil {
			return nil, xtrcerrors.Internal("resetting index", err)
		}
	}

	files, err := ix.walk(ctx, stores.Layout.RepoPath)
	if err != nil {
		return nil, err
	}

	existing, err := stores.Meta.Files(ctx)
	if err != nil {
		return nil, xtrcerrors.Internal("reading indexed files", err)
	}

	var changed []*scannedFile
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[f.info.Path] = true
		if prev, ok := existing[f.info.Path]; ok && prev.ContentHash == f.hash {
			continue
		}
		changed = append(changed, f)
	}
	var deleted []string
	for path := range existing {
		if !seen[path] {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)

	result := &Result{
		FilesScanned: len(files),
		FilesIndexed: len(changed),
		FilesDeleted: len(deleted),
	}

	// Drop vectors for deleted files and the previous chunks of changed
	// files before upserting replacements. Chunk ids carry the content
	// hash, so a changed file's old ids never collide with its new ones.
	stale := append([]string(nil), deleted...)
	for _, f := range changed {
		if _, ok := existing[f.info.Path]; ok {
			stale = append(stale, f.info.Path)
		}
	}
	if len(stale) > 0 {
		ids, err := stores.Meta.ChunkIDsByPaths(ctx, stale)
		if err != nil {
			return nil, xtrcerrors.Internal("resolving stale chunks", err)
		}
		if err := stores.Vectors.Delete(ctx, ids); err != nil {
			return nil, ix.abort(stores, fmt.Errorf("deleting stale vectors: %w", err))
		}
	}

	chunked, err := ix.chunkFiles(ctx, store.RepoID(stores.Layout.RepoPath), changed)
	if err != nil {
		return nil, ix.abort(stores, err)
	}
	for _, fc := range chunked {
		result.ChunksIndexed += len(fc.chunks)
	}

	if ix.cfg.LLM.SummarizeOnIndex && ix.collab.Enabled() {
		ix.summarize(ctx, stores.Meta, chunked)
	}

	if err := ix.embedAndUpsert(ctx, stores, chunked); err != nil {
		return nil, ix.abort(stores, err)
	}

	// Vectors persist before metadata commits. If the save fails the
	// metadata still describes the last good index; if the commit fails
	// the rolled-back file hashes reclassify the files as changed on the
	// next run, which overwrites the early vectors.
	if err := stores.Vectors.Save(stores.Layout.VectorPath()); err != nil {
		return nil, ix.abort(stores, fmt.Errorf("saving vector collection: %w", err))
	}

	if err := ix.commit(ctx, stores, chunked, deleted); err != nil {
		return nil, ix.abort(stores, err)
	}
	stores.markSaved()

	if removed := ix.sweepOrphans(ctx, stores); removed > 0 {
		if err := stores.Vectors.Save(stores.Layout.VectorPath()); err != nil {
			ix.logger.Warn("post-sweep vector save failed", "error", err)
		}
	}

	result.DurationMS = time.Since(started).Milliseconds()
	ix.logger.Info("index run complete",
		"repo", stores.Layout.RepoPath,
		"files_scanned", result.FilesScanned,
		"files_indexed", result.FilesIndexed,
		"files_deleted", result.FilesDeleted,
		"chunks_indexed", result.ChunksIndexed,
		"duration_ms", result.DurationMS)
	return result, nil
}

// abort rolls the in-memory vector graph back to the last saved state
// and returns the original failure.
func (ix *Indexer) abort(stores *RepoStores, cause error) error {
	if err := stores.Reload(); err != nil {
		ix.logger.Error("rollback reload failed", "error", err)
	}
	return xtrcerrors.AsError(cause)
}

// walk streams the repository and reads and hashes every candidate file.
func (ix *Indexer) walk(ctx context.Context, repoPath string) ([]*scannedFile, error) {
	results, err := ix.scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          repoPath,
		RespectGitignore: true,
		ExtraExcludes:    []string{".xtrc"},
	})
	if err != nil {
		return nil, xtrcerrors.Internal("starting repository walk", err)
	}

	var files []*scannedFile
	for r := range results {
		if r.Error != nil {
			ix.logger.Warn("scan error", "error", r.Error)
			continue
		}
		content, err := os.ReadFile(r.File.AbsPath)
		if err != nil {
			ix.logger.Warn("unreadable file skipped", "path", r.File.Path, "error", err)
			continue
		}
		sum := sha256.Sum256(content)
		files = append(files, &scannedFile{
			info:    r.File,
			content: content,
			hash:    hex.EncodeToString(sum[:]),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, xtrcerrors.Internal("repository walk cancelled", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].info.Path < files[j].info.Path })
	return files, nil
}

// chunkFiles parses and chunks changed files concurrently. Parsers are
// not safe for concurrent use, so each worker owns one.
func (ix *Indexer) chunkFiles(ctx context.Context, repoID string, files []*scannedFile) ([]*fileChunks, error) {
	if len(files) == 0 {
		return nil, nil
	}

	builder := chunk.NewBuilder(
		repoID,
		ix.cfg.Chunking.MinTokens,
		ix.cfg.Chunking.MaxTokens,
		ix.cfg.Chunking.TargetTokens,
	)

	var mu sync.Mutex
	out := make([]*fileChunks, 0, len(files))

	g, gctx := errgroup.WithContext(ctx)
	workers := runtime.NumCPU()
	if workers > len(files) {
		workers = len(files)
	}
	work := make(chan *scannedFile)

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			parser := chunk.NewParser()
			defer parser.Close()

			for f := range work {
				var ranges []chunk.NodeRange
				tree, err := parser.Parse(gctx, f.content, f.info.Language)
				if err != nil {
					// Unparseable files still index via line slicing.
					ix.logger.Debug("parse failed, falling back to line chunks",
						"path", f.info.Path, "error", err)
				} else {
					ranges = chunk.ExtractRanges(tree)
				}

				built := builder.Build(f.info.Path, f.info.Language, f.hash, string(f.content), ranges)
				chunks := make([]*chunk.Chunk, len(built))
				for i := range built {
					chunks[i] = &built[i]
				}

				mu.Lock()
				out = append(out, &fileChunks{file: f, chunks: chunks})
				mu.Unlock()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(work)
		for _, f := range files {
			select {
			case work <- f:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].file.info.Path < out[j].file.info.Path })
	return out, nil
}

// summarize attaches model summaries to chunks, reusing the persistent
// cache keyed by the chunk content hash. Failures skip the chunk; a
// missing summary never fails the run.
func (ix *Indexer) summarize(ctx context.Context, meta *store.MetadataStore, chunked []*fileChunks) {
	modelID := ix.collab.SummaryModelID()
	for _, fc := range chunked {
		for _, c := range fc.chunks {
			key := llm.SummaryCacheKey(modelID, c.ContentHash)
			if cached, ok, err := meta.GetSummary(ctx, key); err == nil && ok {
				c.Summary = cached
				continue
			}

			summary, err := ix.collab.Summarize(ctx, c.Path, c.Language, c.Text)
			if err != nil {
				ix.logger.Debug("summarization failed", "path", c.Path, "error", err)
				continue
			}
			c.Summary = summary
			if err := meta.PutSummary(ctx, key, summary); err != nil {
				ix.logger.Warn("summary cache write failed", "error", err)
			}
		}
	}
}

// embedAndUpsert embeds all chunks in batches through the per-repo
// embedding cache and writes vectors plus payloads to the graph.
func (ix *Indexer) embedAndUpsert(ctx context.Context, stores *RepoStores, chunked []*fileChunks) error {
	var all []*chunk.Chunk
	for _, fc := range chunked {
		all = append(all, fc.chunks...)
	}
	if len(all) == 0 {
		return nil
	}

	cached, err := embed.NewCachedEmbedder(ix.embedder, ix.cfg.Embedding.CacheSize, stores.Meta, ix.logger)
	if err != nil {
		return fmt.Errorf("creating embedding cache: %w", err)
	}

	batchSize := ix.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 64
	}

	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]

		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		for i, c := range batch {
			ids[i] = c.ChunkID
			texts[i] = c.EmbeddingText()
		}

		vectors, err := cached.EmbedBatch(ctx, texts, embed.RoleDoc)
		if err != nil {
			return fmt.Errorf("embedding batch: %w", err)
		}
		if err := stores.Vectors.Upsert(ctx, ids, vectors, batch); err != nil {
			// One retry for transient failures; a second failure aborts.
			ix.logger.Warn("vector upsert failed, retrying", "error", err)
			if err := stores.Vectors.Upsert(ctx, ids, vectors, batch); err != nil {
				return fmt.Errorf("upserting vectors: %w", err)
			}
		}
	}
	return nil
}

// commit writes file records, chunk rows, deletions, and run metadata
// in one short transaction.
func (ix *Indexer) commit(ctx context.Context, stores *RepoStores, chunked []*fileChunks, deleted []string) error {
	tx, err := stores.Meta.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning metadata transaction: %w", err)
	}
	defer tx.Rollback()

	for _, path := range deleted {
		if err := tx.DeleteFile(ctx, path); err != nil {
			return fmt.Errorf("deleting file record: %w", err)
		}
	}

	now := time.Now().UTC()
	for _, fc := range chunked {
		record := &store.FileRecord{
			Path:        fc.file.info.Path,
			ContentHash: fc.file.hash,
			Language:    fc.file.info.Language,
			SizeBytes:   fc.file.info.Size,
			LastIndexed: now,
		}
		if err := tx.SaveFile(ctx, record); err != nil {
			return fmt.Errorf("saving file record: %w", err)
		}
		if err := tx.ReplaceChunks(ctx, fc.file.info.Path, fc.chunks); err != nil {
			return fmt.Errorf("replacing chunks: %w", err)
		}
	}

	if err := tx.SetMeta(ctx, store.MetaKeyLastIndexedAt, now.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := tx.SetMeta(ctx, store.MetaKeyEmbedModel, ix.embedder.ModelID()); err != nil {
		return err
	}
	if err := tx.SetMeta(ctx, store.MetaKeyDimensions, fmt.Sprintf("%d", ix.embedder.Dimensions())); err != nil {
		return err
	}

	return tx.Commit()
}

// sweepOrphans removes vectors whose chunk rows no longer exist and
// reports how many it dropped. Runs after commit so the chunks table is
// the authority.
func (ix *Indexer) sweepOrphans(ctx context.Context, stores *RepoStores) int {
	valid, err := stores.Meta.AllChunkIDs(ctx)
	if err != nil {
		ix.logger.Warn("orphan sweep skipped", "error", err)
		return 0
	}

	var orphans []string
	for _, id := range stores.Vectors.AllIDs() {
		if !valid[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0
	}
	if err := stores.Vectors.Delete(ctx, orphans); err != nil {
		ix.logger.Warn("orphan sweep failed", "error", err)
		return 0
	}
	ix.logger.Debug("orphan vectors removed", "count", len(orphans))
	return len(orphans)
}
