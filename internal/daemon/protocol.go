// Package daemon hosts the loopback HTTP surface: /index, /query, and
// /status, with per-repository locking and a registry of open stores.
package daemon

import (
	"encoding/json"
	"net/http"

	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/search"
)

// DefaultTopK is the result count when a query omits top_k.
const DefaultTopK = 10

// IndexRequest is the POST /index body.
type IndexRequest struct {
	RepoPath string `json:"repo_path"`
	Rebuild  bool   `json:"rebuild,omitempty"`
}

// IndexResponse reports one completed index run.
type IndexResponse struct {
	Status        string `json:"status"`
	RepoPath      string `json:"repo_path"`
	FilesScanned  int    `json:"files_scanned"`
	FilesIndexed  int    `json:"files_indexed"`
	FilesDeleted  int    `json:"files_deleted"`
	ChunksIndexed int    `json:"chunks_indexed"`
	DurationMS    int64  `json:"duration_ms"`
}

// QueryRequest is the POST /query body. TopK distinguishes absent
// (nil, default applies) from an explicit 0.
type QueryRequest struct {
	RepoPath string `json:"repo_path"`
	Query    string `json:"query"`
	TopK     *int   `json:"top_k,omitempty"`
}

// QueryResponse wraps the engine output with request echo fields.
type QueryResponse struct {
	Status          string             `json:"status"`
	RepoPath        string             `json:"repo_path"`
	Query           string             `json:"query"`
	Results         []*search.Result   `json:"results"`
	DurationMS      int64              `json:"duration_ms"`
	Selection       *search.Selection  `json:"selection"`
	SelectionSource string             `json:"selection_source"`
	UsedLLM         bool               `json:"used_llm,omitempty"`
	LLMModel        string             `json:"llm_model,omitempty"`
	LLMLatencyMS    int64              `json:"llm_latency_ms,omitempty"`
	RewrittenQuery  string             `json:"rewritten_query,omitempty"`
}

// StatusResponse is the GET /status body.
type StatusResponse struct {
	Status        string `json:"status"`
	RepoPath      string `json:"repo_path"`
	IndexedFiles  int    `json:"indexed_files"`
	IndexedChunks int    `json:"indexed_chunks"`
	Model         string `json:"model"`
	Healthy       bool   `json:"healthy"`
	Reason        string `json:"reason,omitempty"`
	LastIndexedAt string `json:"last_indexed_at"`
}

// errorBody is the error envelope payload.
type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Status string    `json:"status"`
	Error  errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError encodes any error as the structured envelope, mapping
// foreign errors to INTERNAL.
func writeError(w http.ResponseWriter, err error) {
	xe := xtrcerrors.AsError(err)
	writeJSON(w, xe.HTTPStatus(), errorEnvelope{
		Status: "error",
		Error: errorBody{
			Code:    xe.Code,
			Message: xe.Message,
			Details: xe.Details,
		},
	})
}
