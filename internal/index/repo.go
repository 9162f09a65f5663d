// Package index orchestrates incremental index runs: walking the
// repository, diffing content hashes, chunking changed files, embedding,
// and committing vectors plus metadata for one repository.
package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/store"
)

// CanonicalRepoPath resolves a repository path to its canonical absolute
// form, following symlinks. The path must be an existing directory.
func CanonicalRepoPath(path string) (string, error) {
	if path == "" {
		return "", xtrcerrors.New(xtrcerrors.CodeInvalidRepo, "repo_path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", xtrcerrors.Newf(xtrcerrors.CodeInvalidRepo, "invalid repo path %q: %v", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", xtrcerrors.Newf(xtrcerrors.CodeInvalidRepo, "repo path %q does not exist", path)
	}
	info, err := os.Stat(resolved)
	if err != nil || !info.IsDir() {
		return "", xtrcerrors.Newf(xtrcerrors.CodeInvalidRepo, "repo path %q is not a directory", path)
	}
	return resolved, nil
}

// RepoStores bundles one repository's metadata database and vector
// collection. All index and query traffic for a repository goes through
// a single RepoStores instance.
type RepoStores struct {
	Layout  store.Layout
	Meta    *store.MetadataStore
	Vectors *store.VectorStore

	dimensions int
	storedDims int
}

// OpenRepoStores opens (creating if needed) the stores for a canonical
// repository path. dimensions is the embedding width of the active
// provider. When the on-disk collection was built with a different
// width the vector store is left empty and DimensionMismatch reports
// true until the next rebuild.
func OpenRepoStores(repoPath string, dimensions int) (*RepoStores, error) {
	layout := store.NewLayout(repoPath)
	if err := os.MkdirAll(layout.DataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	meta, err := store.OpenMetadataStore(layout.MetadataPath())
	if err != nil {
		return nil, fmt.Errorf("opening metadata store: %w", err)
	}

	storedDims, err := store.ReadStoredDimensions(layout.VectorPath())
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("reading vector collection: %w", err)
	}

	vectors, err := store.NewVectorStore(store.DefaultVectorConfig(dimensions))
	if err != nil {
		meta.Close()
		return nil, err
	}
	if storedDims == dimensions {
		if err := vectors.Load(layout.VectorPath()); err != nil {
			vectors.Close()
			meta.Close()
			return nil, fmt.Errorf("loading vector collection: %w", err)
		}
	}

	return &RepoStores{
		Layout:     layout,
		Meta:       meta,
		Vectors:    vectors,
		dimensions: dimensions,
		storedDims: storedDims,
	}, nil
}

// DimensionMismatch reports whether the stored collection was built
// with a different embedding width than the active provider.
func (r *RepoStores) DimensionMismatch() bool {
	return r.storedDims != 0 && r.storedDims != r.dimensions
}

// StoredDimensions is the width of the on-disk collection, 0 when none
// exists yet.
func (r *RepoStores) StoredDimensions() int {
	return r.storedDims
}

// Indexed reports whether at least one index run has committed.
func (r *RepoStores) Indexed(ctx context.Context) (bool, error) {
	v, err := r.Meta.GetMeta(ctx, store.MetaKeyLastIndexedAt)
	if err != nil {
		return false, err
	}
	return v != "", nil
}

// Reset drops all indexed state: the vector collection on disk, the
// in-memory graph, and the files and chunks tables. Embedding and
// summary caches survive so a rebuild can reuse them.
func (r *RepoStores) Reset(ctx context.Context) error {
	if err := os.RemoveAll(r.Layout.VectorDir()); err != nil {
		return fmt.Errorf("removing vector collection: %w", err)
	}
	fresh, err := store.NewVectorStore(store.DefaultVectorConfig(r.dimensions))
	if err != nil {
		return err
	}
	r.Vectors.Close()
	r.Vectors = fresh
	r.storedDims = 0

	return r.Meta.Reset(ctx)
}

// Reload discards the in-memory vector graph and reloads the last saved
// state from disk. Used to roll back uncommitted vector writes when an
// index run aborts.
func (r *RepoStores) Reload() error {
	fresh, err := store.NewVectorStore(store.DefaultVectorConfig(r.dimensions))
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(r.Layout.VectorPath()); statErr == nil {
		if err := fresh.Load(r.Layout.VectorPath()); err != nil {
			fresh.Close()
			return fmt.Errorf("reloading vector collection: %w", err)
		}
	}
	r.Vectors.Close()
	r.Vectors = fresh
	return nil
}

// markSaved records that the in-memory graph now matches disk with the
// active dimensions.
func (r *RepoStores) markSaved() {
	r.storedDims = r.dimensions
}

// Close releases both stores.
func (r *RepoStores) Close() error {
	err := r.Meta.Close()
	if verr := r.Vectors.Close(); err == nil {
		err = verr
	}
	return err
}
