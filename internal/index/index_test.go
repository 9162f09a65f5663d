package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/embed"
	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/store"
)

const scoreJS = `function getUserScore(userId) {
  const base = lookupBase(userId);
  return base * 2;
}

function average(values) {
  let sum = 0;
  for (const v of values) {
    sum += v;
  }
  return sum / values.length;
}
`

const appPY = `def recompute_score(user_id):
    score = fetch_score(user_id)
    return score + 1


class ScoreKeeper:
    def __init__(self):
        self.scores = {}

    def record(self, user_id, value):
        self.scores[user_id] = value
`

// countingEmbedder counts texts embedded by the inner provider, so
// tests can observe persistent cache hits across rebuilds.
type countingEmbedder struct {
	embed.Embedder
	embedded int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string, role embed.Role) ([][]float32, error) {
	c.embedded += len(texts)
	return c.Embedder.EmbedBatch(ctx, texts, role)
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, role embed.Role) ([]float32, error) {
	c.embedded++
	return c.Embedder.Embed(ctx, text, role)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func testRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	writeFile(t, repo, "src/score.js", scoreJS)
	writeFile(t, repo, "app.py", appPY)
	return repo
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Embedding.Provider = "static"
	return cfg
}

func newTestIndexer(t *testing.T, embedder embed.Embedder) *Indexer {
	t.Helper()
	if embedder == nil {
		embedder = embed.NewStaticEmbedder()
	}
	ix, err := New(embedder, nil, testConfig(), nil)
	require.NoError(t, err)
	return ix
}

func openStores(t *testing.T, repo string, dims int) *RepoStores {
	t.Helper()
	stores, err := OpenRepoStores(repo, dims)
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })
	return stores
}

func TestCanonicalRepoPath(t *testing.T) {
	repo := t.TempDir()
	canon, err := CanonicalRepoPath(repo)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(canon))

	_, err = CanonicalRepoPath(filepath.Join(repo, "missing"))
	assert.Equal(t, xtrcerrors.CodeInvalidRepo, xtrcerrors.CodeOf(err))

	file := filepath.Join(repo, "plain.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = CanonicalRepoPath(file)
	assert.Equal(t, xtrcerrors.CodeInvalidRepo, xtrcerrors.CodeOf(err))
}

func TestRunInitialIndex(t *testing.T) {
	repo := testRepo(t)
	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)
	ctx := context.Background()

	result, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.FilesScanned)
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Equal(t, 0, result.FilesDeleted)
	assert.Greater(t, result.ChunksIndexed, 0)
	assert.Equal(t, result.ChunksIndexed, stores.Vectors.Count())

	indexed, err := stores.Indexed(ctx)
	require.NoError(t, err)
	assert.True(t, indexed)

	files, chunks, err := stores.Meta.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, result.ChunksIndexed, chunks)
}

func TestRunIdempotent(t *testing.T) {
	repo := testRepo(t)
	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)
	ctx := context.Background()

	first, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)

	second, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, second.FilesScanned)
	assert.Equal(t, 0, second.FilesIndexed)
	assert.Equal(t, 0, second.ChunksIndexed)
	assert.Equal(t, first.ChunksIndexed, stores.Vectors.Count())
}

func TestRunDetectsChangeAndDeletion(t *testing.T) {
	repo := testRepo(t)
	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)
	ctx := context.Background()

	_, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)

	writeFile(t, repo, "src/score.js", scoreJS+"\nfunction extra() { return 1; }\n")
	require.NoError(t, os.Remove(filepath.Join(repo, "app.py")))

	result, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.FilesScanned)
	assert.Equal(t, 1, result.FilesIndexed)
	assert.Equal(t, 1, result.FilesDeleted)

	files, chunks, err := stores.Meta.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, files)
	assert.Equal(t, chunks, stores.Vectors.Count())
}

func TestRunSaveFailureLeavesPreviousIndex(t *testing.T) {
	repo := testRepo(t)
	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)
	ctx := context.Background()

	first, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)

	writeFile(t, repo, "src/score.js", scoreJS+"\nfunction extra() { return 1; }\n")

	// A directory squatting on the save temp file makes the vector save
	// fail after embedding succeeds.
	blocker := stores.Layout.VectorPath() + ".tmp"
	require.NoError(t, os.MkdirAll(blocker, 0o755))

	_, err = ix.Run(ctx, stores, Options{})
	require.Error(t, err)

	// Nothing committed: the stored hashes still describe the previous
	// content and the graph rolled back to the last saved state, so the
	// change is retried instead of silently lost.
	files, chunks, err := stores.Meta.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, files)
	assert.Equal(t, first.ChunksIndexed, chunks)
	assert.Equal(t, first.ChunksIndexed, stores.Vectors.Count())

	require.NoError(t, os.RemoveAll(blocker))

	second, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesIndexed)

	_, chunks, err = stores.Meta.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, chunks, stores.Vectors.Count())
}

func TestRunRebuildReusesEmbeddingCache(t *testing.T) {
	repo := testRepo(t)
	counter := &countingEmbedder{Embedder: embed.NewStaticEmbedder()}
	ix := newTestIndexer(t, counter)
	stores := openStores(t, repo, embed.StaticDimensions)
	ctx := context.Background()

	first, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)
	assert.Equal(t, first.ChunksIndexed, counter.embedded)

	// Rebuild drops vectors and chunk rows but keeps the embedding
	// cache, so unchanged content embeds from cache.
	second, err := ix.Run(ctx, stores, Options{Rebuild: true})
	require.NoError(t, err)
	assert.Equal(t, first.ChunksIndexed, second.ChunksIndexed)
	assert.Equal(t, first.ChunksIndexed, counter.embedded)
}

func TestRunBusyWhenLocked(t *testing.T) {
	repo := testRepo(t)
	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)

	lock, err := store.NewRepoLock(stores.Layout.LockPath())
	require.NoError(t, err)
	locked, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer lock.Unlock()

	_, err = ix.Run(context.Background(), stores, Options{})
	assert.Equal(t, xtrcerrors.CodeBusy, xtrcerrors.CodeOf(err))
}

func TestDimensionMismatchForcesRebuild(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)
	_, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)
	require.NoError(t, stores.Close())

	// Reopening with a narrower provider flags the stored collection.
	narrow := &truncatedEmbedder{inner: embed.NewStaticEmbedder(), dims: 64}
	reopened := openStores(t, repo, narrow.Dimensions())
	assert.True(t, reopened.DimensionMismatch())
	assert.Equal(t, embed.StaticDimensions, reopened.StoredDimensions())
	assert.Equal(t, 0, reopened.Vectors.Count())

	narrowIx, err := New(narrow, nil, testConfig(), nil)
	require.NoError(t, err)
	result, err := narrowIx.Run(ctx, reopened, Options{})
	require.NoError(t, err)

	assert.False(t, reopened.DimensionMismatch())
	assert.Equal(t, 2, result.FilesIndexed)
	assert.Equal(t, result.ChunksIndexed, reopened.Vectors.Count())
}

func TestOpenRepoStoresPersistsAcrossReopen(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	ix := newTestIndexer(t, nil)
	stores := openStores(t, repo, embed.StaticDimensions)
	result, err := ix.Run(ctx, stores, Options{})
	require.NoError(t, err)
	require.NoError(t, stores.Close())

	reopened := openStores(t, repo, embed.StaticDimensions)
	assert.False(t, reopened.DimensionMismatch())
	assert.Equal(t, result.ChunksIndexed, reopened.Vectors.Count())

	indexed, err := reopened.Indexed(ctx)
	require.NoError(t, err)
	assert.True(t, indexed)
}

// truncatedEmbedder narrows static embeddings, standing in for a
// provider with a different vector width.
type truncatedEmbedder struct {
	inner embed.Embedder
	dims  int
}

func (e *truncatedEmbedder) Embed(ctx context.Context, text string, role embed.Role) ([]float32, error) {
	v, err := e.inner.Embed(ctx, text, role)
	if err != nil {
		return nil, err
	}
	return v[:e.dims], nil
}

func (e *truncatedEmbedder) EmbedBatch(ctx context.Context, texts []string, role embed.Role) ([][]float32, error) {
	vecs, err := e.inner.EmbedBatch(ctx, texts, role)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		vecs[i] = vecs[i][:e.dims]
	}
	return vecs, nil
}

func (e *truncatedEmbedder) Dimensions() int { return e.dims }
func (e *truncatedEmbedder) ModelID() string { return "static-narrow" }
func (e *truncatedEmbedder) Close() error    { return e.inner.Close() }
