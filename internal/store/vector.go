package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"

	"github.com/xtrc-dev/xtrc/internal/chunk"
)

// VectorStore holds unit-norm embeddings plus the chunk payload needed
// for scoring, backed by a pure Go HNSW graph. No CGO.
type VectorStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorConfig

	// String chunk ids map to internal uint64 keys.
	idMap    map[string]uint64
	keyMap   map[uint64]string
	nextKey  uint64
	payloads map[string]*chunk.Chunk

	closed bool
}

// vectorSidecar is the gob-persisted state next to the graph file.
type vectorSidecar struct {
	IDMap    map[string]uint64
	NextKey  uint64
	Config   VectorConfig
	Payloads map[string]*chunk.Chunk
}

// NewVectorStore creates an empty vector store.
func NewVectorStore(cfg VectorConfig) (*VectorStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector store needs positive dimensions, got %d", cfg.Dimensions)
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25

	return &VectorStore{
		graph:    graph,
		config:   cfg,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
		payloads: make(map[string]*chunk.Chunk),
	}, nil
}

// Dimensions returns the configured vector dimension.
func (s *VectorStore) Dimensions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.Dimensions
}

// Upsert inserts or replaces vectors with their payloads. Payload raw
// text is stripped before storing; only metadata persists here.
func (s *VectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, payloads []*chunk.Chunk) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(payloads) {
		return fmt.Errorf("ids, vectors and payloads length mismatch: %d, %d, %d",
			len(ids), len(vectors), len(payloads))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return fmt.Errorf("dimension mismatch: store has %d, vector has %d",
				s.config.Dimensions, len(v))
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Replacing an id uses lazy deletion: orphan the old graph key
		// instead of deleting the node. coder/hnsw misbehaves when the
		// last node is removed.
		if oldKey, exists := s.idMap[id]; exists {
			delete(s.keyMap, oldKey)
			delete(s.idMap, id)
		}

		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeInPlace(vec)

		s.graph.Add(hnsw.MakeNode(key, vec))
		s.idMap[id] = key
		s.keyMap[key] = id

		p := *payloads[i]
		p.Text = ""
		p.FileHash = ""
		s.payloads[id] = &p
	}

	return nil
}

// Search finds the k nearest neighbors of query. Lazily deleted nodes
// are skipped, so fewer than k results may return.
func (s *VectorStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, fmt.Errorf("dimension mismatch: store has %d, query has %d",
			s.config.Dimensions, len(query))
	}
	if s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	normalized := make([]float32, len(query))
	copy(normalized, query)
	normalizeInPlace(normalized)

	// Over-fetch to compensate for lazily deleted orphans.
	orphans := s.graph.Len() - len(s.idMap)
	if orphans < 0 {
		orphans = 0
	}
	nodes := s.graph.Search(normalized, k+orphans)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, ok := s.keyMap[node.Key]
		if !ok {
			continue
		}
		distance := s.graph.Distance(normalized, node.Value)
		results = append(results, &VectorResult{
			ChunkID: id,
			Score:   1.0 - distance/2.0,
			Payload: s.payloads[id],
		})
		if len(results) == k {
			break
		}
	}
	return results, nil
}

// Delete removes vectors by id using lazy deletion.
func (s *VectorStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.payloads, id)
		}
	}
	return nil
}

// AllIDs returns every chunk id in the store.
func (s *VectorStore) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains reports whether id exists.
func (s *VectorStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (s *VectorStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idMap)
}

// Save persists the graph and sidecar atomically (temp file + rename).
func (s *VectorStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating vector store directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating graph file: %w", err)
	}
	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("exporting graph: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing graph file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming graph file: %w", err)
	}

	return s.saveSidecar(path + ".meta")
}

func (s *VectorStore) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating sidecar file: %w", err)
	}

	sidecar := vectorSidecar{
		IDMap:    s.idMap,
		NextKey:  s.nextKey,
		Config:   s.config,
		Payloads: s.payloads,
	}
	if err := gob.NewEncoder(file).Encode(sidecar); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encoding sidecar: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing sidecar file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Load restores the graph and sidecar from disk.
func (s *VectorStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	file, err := os.Open(path + ".meta")
	if err != nil {
		return fmt.Errorf("opening sidecar: %w", err)
	}
	var sidecar vectorSidecar
	decodeErr := gob.NewDecoder(file).Decode(&sidecar)
	file.Close()
	if decodeErr != nil {
		return fmt.Errorf("decoding sidecar: %w", decodeErr)
	}

	graphFile, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening graph file: %w", err)
	}
	defer graphFile.Close()

	// coder/hnsw Import requires io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return fmt.Errorf("importing graph: %w", err)
	}

	s.idMap = sidecar.IDMap
	s.nextKey = sidecar.NextKey
	s.config = sidecar.Config
	s.payloads = sidecar.Payloads
	if s.payloads == nil {
		s.payloads = make(map[string]*chunk.Chunk)
	}
	s.keyMap = make(map[uint64]string, len(s.idMap))
	for id, key := range s.idMap {
		s.keyMap[key] = id
	}
	return nil
}

// Close releases resources.
func (s *VectorStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.graph = nil
	return nil
}

// ReadStoredDimensions reads the dimension of a persisted store
// without loading the graph. Returns 0 when no store exists yet.
func ReadStoredDimensions(path string) (int, error) {
	file, err := os.Open(path + ".meta")
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening sidecar: %w", err)
	}
	defer file.Close()

	var sidecar vectorSidecar
	if err := gob.NewDecoder(file).Decode(&sidecar); err != nil {
		return 0, fmt.Errorf("decoding sidecar: %w", err)
	}
	return sidecar.Config.Dimensions, nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
