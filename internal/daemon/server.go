package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/embed"
	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/index"
	"github.com/xtrc-dev/xtrc/internal/search"
	"github.com/xtrc-dev/xtrc/internal/store"
)

// shutdownGracePeriod bounds how long in-flight requests may run after
// the serve context is cancelled.
const shutdownGracePeriod = 10 * time.Second

// Server binds the HTTP endpoints to the indexer and query engine.
// Configuration is captured once at construction; changing it requires
// a restart.
type Server struct {
	cfg      *config.Config
	embedder embed.Embedder
	indexer  *index.Indexer
	engine   *search.Engine
	registry *Registry
	logger   *slog.Logger
	started  time.Time
}

func NewServer(cfg *config.Config, embedder embed.Embedder, indexer *index.Indexer, engine *search.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		embedder: embedder,
		indexer:  indexer,
		engine:   engine,
		registry: NewRegistry(embedder.Dimensions()),
		logger:   logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /index", s.handleIndex)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	return mux
}

// ListenAndServe starts the server and blocks until the context is
// cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.started = time.Now()

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("shutdown did not drain cleanly", "error", err)
		}
	}()

	s.logger.Info("daemon listening", "addr", addr)
	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}

	if err := s.registry.Close(); err != nil {
		s.logger.Warn("closing repositories failed", "error", err)
	}
	return ctx.Err()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xtrcerrors.New(xtrcerrors.CodeInvalidRequest, "invalid JSON body"))
		return
	}

	state, repoPath, err := s.resolveRepo(req.RepoPath)
	if err != nil {
		writeError(w, err)
		return
	}

	// The write lock covers the whole run. A held lock means another
	// index request is in flight.
	if !state.mu.TryLock() {
		writeError(w, xtrcerrors.New(xtrcerrors.CodeBusy, "an index run is already in progress for this repository"))
		return
	}
	defer state.mu.Unlock()

	// Index runs survive client disconnects; aborting midway would leave
	// work to redo and nothing to gain.
	ctx := context.WithoutCancel(r.Context())
	result, err := s.indexer.Run(ctx, state.stores, index.Options{Rebuild: req.Rebuild})
	if err != nil {
		s.logger.Error("index run failed", "repo", repoPath, "error", err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, IndexResponse{
		Status:        "ok",
		RepoPath:      repoPath,
		FilesScanned:  result.FilesScanned,
		FilesIndexed:  result.FilesIndexed,
		FilesDeleted:  result.FilesDeleted,
		ChunksIndexed: result.ChunksIndexed,
		DurationMS:    result.DurationMS,
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xtrcerrors.New(xtrcerrors.CodeInvalidRequest, "invalid JSON body"))
		return
	}

	state, repoPath, err := s.resolveRepo(req.RepoPath)
	if err != nil {
		writeError(w, err)
		return
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	indexed, err := state.stores.Indexed(r.Context())
	if err != nil {
		writeError(w, xtrcerrors.Internal("reading index state", err))
		return
	}
	if !indexed {
		writeError(w, xtrcerrors.Newf(xtrcerrors.CodeNotIndexed, "repository %s has not been indexed", repoPath))
		return
	}
	if state.stores.DimensionMismatch() {
		writeError(w, xtrcerrors.New(xtrcerrors.CodeDimensionMismatch,
			"the index was built with a different embedding model; re-index with rebuild").
			WithDetail("stored_dimensions", fmt.Sprintf("%d", state.stores.StoredDimensions())).
			WithDetail("active_dimensions", fmt.Sprintf("%d", s.embedder.Dimensions())))
		return
	}

	topK := DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	resp, err := s.engine.Query(r.Context(), state.stores.Vectors, req.Query, topK)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Status:          "ok",
		RepoPath:        repoPath,
		Query:           req.Query,
		Results:         resp.Results,
		DurationMS:      time.Since(started).Milliseconds(),
		Selection:       resp.Selection,
		SelectionSource: resp.SelectionSource,
		UsedLLM:         resp.UsedLLM,
		LLMModel:        resp.LLMModel,
		LLMLatencyMS:    resp.LLMLatencyMS,
		RewrittenQuery:  resp.RewrittenQuery,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	state, repoPath, err := s.resolveRepo(r.URL.Query().Get("repo_path"))
	if err != nil {
		writeError(w, err)
		return
	}

	// Never block behind an index run; report it instead.
	if !state.mu.TryRLock() {
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:   "ok",
			RepoPath: repoPath,
			Model:    s.embedder.ModelID(),
			Healthy:  false,
			Reason:   "indexing",
		})
		return
	}
	defer state.mu.RUnlock()

	files, chunks, err := state.stores.Meta.Stats(r.Context())
	if err != nil {
		writeError(w, xtrcerrors.Internal("reading index stats", err))
		return
	}
	lastIndexed, err := state.stores.Meta.GetMeta(r.Context(), store.MetaKeyLastIndexedAt)
	if err != nil {
		writeError(w, xtrcerrors.Internal("reading index metadata", err))
		return
	}
	model, err := state.stores.Meta.GetMeta(r.Context(), store.MetaKeyEmbedModel)
	if err != nil {
		writeError(w, xtrcerrors.Internal("reading index metadata", err))
		return
	}
	if model == "" {
		model = s.embedder.ModelID()
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "ok",
		RepoPath:      repoPath,
		IndexedFiles:  files,
		IndexedChunks: chunks,
		Model:         model,
		Healthy:       true,
		LastIndexedAt: lastIndexed,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// resolveRepo canonicalizes the request path and returns its state.
func (s *Server) resolveRepo(repoPath string) (*RepoState, string, error) {
	canonical, err := index.CanonicalRepoPath(strings.TrimSpace(repoPath))
	if err != nil {
		return nil, "", err
	}
	state, err := s.registry.Get(canonical)
	if err != nil {
		return nil, "", xtrcerrors.Internal("opening repository stores", err)
	}
	return state, canonical, nil
}
