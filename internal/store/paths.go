package store

import "path/filepath"

// Layout resolves the on-disk locations of a repository's index data.
// Everything lives under <repo>/.xtrc/.
type Layout struct {
	RepoPath string // canonical absolute path
}

func NewLayout(repoPath string) Layout {
	return Layout{RepoPath: repoPath}
}

// DataDir is the root of all index state for the repository.
func (l Layout) DataDir() string {
	return filepath.Join(l.RepoPath, ".xtrc")
}

// MetadataPath is the SQLite metadata database.
func (l Layout) MetadataPath() string {
	return filepath.Join(l.DataDir(), "metadata.db")
}

// VectorDir is the directory of the repository's vector collection.
func (l Layout) VectorDir() string {
	return filepath.Join(l.DataDir(), "vectors", CollectionName(l.RepoPath))
}

// VectorPath is the HNSW graph file; its sidecar sits next to it.
func (l Layout) VectorPath() string {
	return filepath.Join(l.VectorDir(), "vectors.hnsw")
}

// LockPath is the cross-process write lock file.
func (l Layout) LockPath() string {
	return filepath.Join(l.DataDir(), "index.lock")
}

// LogPath is the daemon log file location for this repository.
func (l Layout) LogPath() string {
	return filepath.Join(l.DataDir(), "xtrc.log")
}
