// Package store is the persistence layer: an HNSW vector store with
// chunk payloads and a SQLite metadata store for file records, chunk
// records, and the embedding and summary caches. Everything lives
// under the repository's .xtrc directory.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/xtrc-dev/xtrc/internal/chunk"
)

// VectorResult is one ANN hit with its payload resolved.
type VectorResult struct {
	ChunkID string
	Score   float32 // normalized similarity, 0-1
	Payload *chunk.Chunk
}

// VectorConfig configures the HNSW vector store.
type VectorConfig struct {
	Dimensions int
	M          int // max connections per layer
	EfSearch   int // query-time search width
}

// DefaultVectorConfig returns sensible HNSW defaults for dimensions.
func DefaultVectorConfig(dimensions int) VectorConfig {
	return VectorConfig{
		Dimensions: dimensions,
		M:          16,
		EfSearch:   64,
	}
}

// FileRecord tracks one indexed file. content_hash is the sole
// authority for change detection; timestamps are advisory.
type FileRecord struct {
	Path        string
	ContentHash string
	Language    string
	SizeBytes   int64
	LastIndexed time.Time
}

// Meta keys stored in the metadata table.
const (
	MetaKeySchemaVersion = "schema_version"
	MetaKeyEmbedModel    = "embedding_model"
	MetaKeyDimensions    = "embedding_dimensions"
	MetaKeyLastIndexedAt = "last_indexed_at"
)

// SchemaVersion is the current metadata schema version. A mismatch on
// open forces a rebuild of the metadata tables.
const SchemaVersion = "1"

// RepoID derives the stable repository identity from its canonical
// absolute path.
func RepoID(canonicalPath string) string {
	sum := sha256.Sum256([]byte(canonicalPath))
	return hex.EncodeToString(sum[:8])
}

// CollectionName derives the vector collection name for a repository.
func CollectionName(canonicalPath string) string {
	return "xtrc_" + RepoID(canonicalPath)
}
