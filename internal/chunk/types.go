// Package chunk turns source files into token-bounded semantic chunks.
// It wraps tree-sitter for parsing, extracts named declaration ranges,
// and builds the retrieval chunks with their enrichment metadata.
package chunk

// Chunk kinds.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindClass    = "class"
	KindRoute    = "route"
	KindBlock    = "block"
)

// NodeRange is a named source range produced by the extractor.
type NodeRange struct {
	Kind      string
	Symbol    string
	StartLine int // 1-based, inclusive
	EndLine   int // 1-based, inclusive
	Text      string
}

// Chunk is the atomic retrieval unit.
type Chunk struct {
	// ChunkID is a stable digest of (path, lines, symbol, content hash).
	ChunkID  string `json:"chunk_id"`
	Path     string `json:"path"`
	Language string `json:"language"`

	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Symbol    string `json:"symbol"`
	Kind      string `json:"kind"`

	// Text is the chunk source. Never part of the embedding input.
	Text string `json:"-"`
	// ContentHash is the digest of Text.
	ContentHash string `json:"content_hash"`
	// FileHash is the digest of the owning file's bytes.
	FileHash string `json:"-"`

	Tokens      int    `json:"tokens"`
	Description string `json:"description"`
	Summary     string `json:"summary,omitempty"`

	IntentTags []string `json:"intent_tags"`
	Keywords   []string `json:"keywords"`

	// Route fields, populated only for route chunks.
	HTTPMethod string `json:"http_method,omitempty"`
	RoutePath  string `json:"route_path,omitempty"`
	Resource   string `json:"resource,omitempty"`
}

// Point is a position in source.
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a language-independent view of a tree-sitter node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	HasError   bool
	IsNamed    bool
	Children   []*Node
}

// Tree is a parsed syntax tree.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}
