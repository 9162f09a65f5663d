package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/xtrc-dev/xtrc/internal/chunk"
)

// MetadataStore persists file records, chunk records, the embedding
// cache, and the summary cache in a single SQLite database. WAL mode
// allows concurrent readers while one writer holds the repo lock.
type MetadataStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

const metadataSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	path            TEXT PRIMARY KEY,
	content_hash    TEXT NOT NULL,
	language        TEXT NOT NULL,
	size_bytes      INTEGER NOT NULL,
	last_indexed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id     TEXT PRIMARY KEY,
	path         TEXT NOT NULL,
	start_line   INTEGER NOT NULL,
	end_line     INTEGER NOT NULL,
	symbol       TEXT NOT NULL,
	kind         TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	tokens       INTEGER NOT NULL,
	description  TEXT NOT NULL,
	summary      TEXT NOT NULL,
	intent_tags  TEXT NOT NULL,
	keywords     TEXT NOT NULL,
	http_method  TEXT NOT NULL,
	route_path   TEXT NOT NULL,
	resource     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_path ON chunks(path);

CREATE TABLE IF NOT EXISTS embedding_cache (
	key        TEXT PRIMARY KEY,
	vector     BLOB NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS summary_cache (
	key        TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
`

// OpenMetadataStore opens or creates the metadata database at path.
// A schema version mismatch drops and recreates the tables; the caller
// is expected to reindex afterwards.
func OpenMetadataStore(path string) (*MetadataStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating metadata directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata database: %w", err)
	}

	// Single writer keeps SQLite lock contention out of the picture.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores DSN journal params; set pragmas directly.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	s := &MetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MetadataStore) initSchema() error {
	if _, err := s.db.Exec(metadataSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	var stored string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, MetaKeySchemaVersion).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`,
			MetaKeySchemaVersion, SchemaVersion)
		return err
	case err != nil:
		return fmt.Errorf("reading schema version: %w", err)
	case stored != SchemaVersion:
		if err := s.dropTables(); err != nil {
			return err
		}
		if _, err := s.db.Exec(metadataSchema); err != nil {
			return fmt.Errorf("recreating schema: %w", err)
		}
		_, err = s.db.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`,
			MetaKeySchemaVersion, SchemaVersion)
		return err
	}
	return nil
}

func (s *MetadataStore) dropTables() error {
	for _, table := range []string{"meta", "files", "chunks", "embedding_cache", "summary_cache"} {
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS ` + table); err != nil {
			return fmt.Errorf("dropping table %s: %w", table, err)
		}
	}
	return nil
}

// Reset drops all index data, keeping the caches. Used by rebuild.
func (s *MetadataStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	for _, stmt := range []string{`DELETE FROM files`, `DELETE FROM chunks`} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("resetting metadata: %w", err)
		}
	}
	return nil
}

// Files returns every file record keyed by path.
func (s *MetadataStore) Files(ctx context.Context) (map[string]*FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, language, size_bytes, last_indexed_at FROM files`)
	if err != nil {
		return nil, fmt.Errorf("querying files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*FileRecord)
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.Language, &f.SizeBytes, &f.LastIndexed); err != nil {
			return nil, fmt.Errorf("scanning file record: %w", err)
		}
		out[f.Path] = &f
	}
	return out, rows.Err()
}

// ChunkIDsByPaths returns the chunk ids belonging to any of paths.
func (s *MetadataStore) ChunkIDsByPaths(ctx context.Context, paths []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}
	if len(paths) == 0 {
		return nil, nil
	}

	var ids []string
	stmt, err := s.db.PrepareContext(ctx, `SELECT chunk_id FROM chunks WHERE path = ?`)
	if err != nil {
		return nil, fmt.Errorf("preparing chunk id query: %w", err)
	}
	defer stmt.Close()

	for _, path := range paths {
		rows, err := stmt.QueryContext(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("querying chunk ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning chunk id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return ids, nil
}

// AllChunkIDs returns every chunk id in the metadata store. Used for
// the orphan sweep at the end of an index run.
func (s *MetadataStore) AllChunkIDs(ctx context.Context) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("querying chunk ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

// Stats returns the number of indexed files and chunks.
func (s *MetadataStore) Stats(ctx context.Context) (files, chunks int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, 0, fmt.Errorf("metadata store is closed")
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&files); err != nil {
		return 0, 0, fmt.Errorf("counting files: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("counting chunks: %w", err)
	}
	return files, chunks, nil
}

// GetMeta reads a meta value. Missing keys return ("", nil).
func (s *MetadataStore) GetMeta(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("metadata store is closed")
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta writes a meta value.
func (s *MetadataStore) SetMeta(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// GetEmbedding implements embed.CacheStore.
func (s *MetadataStore) GetEmbedding(key string) ([]float32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, fmt.Errorf("metadata store is closed")
	}

	var blob []byte
	err := s.db.QueryRow(`SELECT vector FROM embedding_cache WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading embedding cache: %w", err)
	}
	return decodeVector(blob), true, nil
}

// PutEmbedding implements embed.CacheStore.
func (s *MetadataStore) PutEmbedding(key string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO embedding_cache (key, vector, created_at) VALUES (?, ?, ?)`,
		key, encodeVector(vector), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return nil
}

// GetSummary reads a cached chunk summary.
func (s *MetadataStore) GetSummary(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, fmt.Errorf("metadata store is closed")
	}

	var summary string
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM summary_cache WHERE key = ?`, key).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading summary cache: %w", err)
	}
	return summary, true, nil
}

// PutSummary stores a chunk summary.
func (s *MetadataStore) PutSummary(ctx context.Context, key, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("metadata store is closed")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO summary_cache (key, summary, created_at) VALUES (?, ?, ?)`,
		key, summary, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing summary cache: %w", err)
	}
	return nil
}

// Begin starts a metadata transaction for one index run. All file and
// chunk mutations go through it so an abort leaves the last committed
// state intact. The single-connection pool serializes any concurrent
// access until Commit or Rollback.
func (s *MetadataStore) Begin(ctx context.Context) (*MetadataTx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning metadata transaction: %w", err)
	}
	return &MetadataTx{tx: tx}, nil
}

// Close closes the database.
func (s *MetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// MetadataTx batches the mutations of one index run.
type MetadataTx struct {
	tx   *sql.Tx
	done bool
}

// SaveFile upserts a file record.
func (t *MetadataTx) SaveFile(ctx context.Context, f *FileRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO files (path, content_hash, language, size_bytes, last_indexed_at)
		VALUES (?, ?, ?, ?, ?)`,
		f.Path, f.ContentHash, f.Language, f.SizeBytes, f.LastIndexed)
	if err != nil {
		return fmt.Errorf("saving file %s: %w", f.Path, err)
	}
	return nil
}

// DeleteFile removes a file record and its chunks.
func (t *MetadataTx) DeleteFile(ctx context.Context, path string) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", path, err)
	}
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path); err != nil {
		return fmt.Errorf("deleting file %s: %w", path, err)
	}
	return nil
}

// ReplaceChunks removes the old chunks of path and inserts the new set.
func (t *MetadataTx) ReplaceChunks(ctx context.Context, path string, chunks []*chunk.Chunk) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("clearing chunks for %s: %w", path, err)
	}

	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO chunks (chunk_id, path, start_line, end_line, symbol, kind,
			content_hash, tokens, description, summary, intent_tags, keywords,
			http_method, route_path, resource)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		tags, err := json.Marshal(c.IntentTags)
		if err != nil {
			return fmt.Errorf("encoding intent tags: %w", err)
		}
		keywords, err := json.Marshal(c.Keywords)
		if err != nil {
			return fmt.Errorf("encoding keywords: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			c.ChunkID, c.Path, c.StartLine, c.EndLine, c.Symbol, c.Kind,
			c.ContentHash, c.Tokens, c.Description, c.Summary, string(tags),
			string(keywords), c.HTTPMethod, c.RoutePath, c.Resource)
		if err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ChunkID, err)
		}
	}
	return nil
}

// SetMeta writes a meta value inside the transaction.
func (t *MetadataTx) SetMeta(ctx context.Context, key, value string) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("writing meta %s: %w", key, err)
	}
	return nil
}

// Commit commits the transaction.
func (t *MetadataTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing metadata transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Safe to call after Commit.
func (t *MetadataTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
