package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrc-dev/xtrc/internal/config"
	"github.com/xtrc-dev/xtrc/internal/embed"
	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
	"github.com/xtrc-dev/xtrc/internal/index"
	"github.com/xtrc-dev/xtrc/internal/llm"
	"github.com/xtrc-dev/xtrc/internal/search"
)

const demoScoreJS = `function getUserScore(userId) {
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

const demoServerJS = `app.post('/users/:userId/score/recompute', async (req, res) => {
  const score = await recompute(req.params.userId);
  res.json({ score });
});
`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Embedding.Provider = "static"

	embedder := embed.NewStaticEmbedder()
	indexer, err := index.New(embedder, llm.Disabled{}, cfg, nil)
	require.NoError(t, err)
	engine, err := search.NewEngine(embedder, llm.Disabled{}, &search.NoOpReranker{}, cfg, nil)
	require.NoError(t, err)

	srv := NewServer(cfg, embedder, indexer, engine, nil)
	t.Cleanup(func() { srv.registry.Close() })
	return srv
}

func newDemoRepo(t *testing.T) string {
	t.Helper()
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "score.js"), []byte(demoScoreJS), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "src", "server.js"), []byte(demoServerJS), 0o644))
	return repo
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var envelope errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "error", envelope.Status)
	return envelope
}

func TestIndexThenQuery(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()
	repo := newDemoRepo(t)

	rec := postJSON(t, handler, "/index", IndexRequest{RepoPath: repo})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var indexResp IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexResp))
	assert.Equal(t, "ok", indexResp.Status)
	assert.Equal(t, 2, indexResp.FilesScanned)
	assert.Equal(t, 2, indexResp.FilesIndexed)
	assert.Greater(t, indexResp.ChunksIndexed, 0)

	topK := 3
	rec = postJSON(t, handler, "/query", QueryRequest{RepoPath: repo, Query: "get user score", TopK: &topK})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var queryResp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queryResp))
	assert.Equal(t, "ok", queryResp.Status)
	assert.Equal(t, "get user score", queryResp.Query)
	require.NotEmpty(t, queryResp.Results)

	top := queryResp.Results[0]
	assert.Equal(t, "src/score.js", top.FilePath)
	assert.Equal(t, "getUserScore", top.Symbol)
	assert.Equal(t, 1.0, top.SymbolScore)

	require.NotNil(t, queryResp.Selection)
	assert.Equal(t, "heuristic", queryResp.SelectionSource)
}

func TestQueryNotIndexed(t *testing.T) {
	srv := newTestServer(t)
	repo := t.TempDir()

	rec := postJSON(t, srv.Handler(), "/query", QueryRequest{RepoPath: repo, Query: "anything"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, xtrcerrors.CodeNotIndexed, decodeError(t, rec).Error.Code)
}

func TestInvalidRepoRejected(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()

	rec := postJSON(t, handler, "/index", IndexRequest{RepoPath: "/does/not/exist"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, xtrcerrors.CodeInvalidRepo, decodeError(t, rec).Error.Code)

	rec = postJSON(t, handler, "/query", QueryRequest{RepoPath: "", Query: "x"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, xtrcerrors.CodeInvalidRepo, decodeError(t, rec).Error.Code)
}

func TestInvalidBodyRejected(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/index", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, xtrcerrors.CodeInvalidRequest, decodeError(t, rec).Error.Code)
}

func TestQueryTopKZeroHonored(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()
	repo := newDemoRepo(t)

	rec := postJSON(t, handler, "/index", IndexRequest{RepoPath: repo})
	require.Equal(t, http.StatusOK, rec.Code)

	zero := 0
	rec = postJSON(t, handler, "/query", QueryRequest{RepoPath: repo, Query: "score", TopK: &zero})
	require.Equal(t, http.StatusOK, rec.Code)

	var queryResp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queryResp))
	assert.Empty(t, queryResp.Results)
	assert.Nil(t, queryResp.Selection)
}

func TestIndexSurvivesClientDisconnect(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()
	repo := newDemoRepo(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload, err := json.Marshal(IndexRequest{RepoPath: repo})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/index", bytes.NewReader(payload)).WithContext(ctx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The run completes despite the dropped request context.
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var indexResp IndexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &indexResp))
	assert.Equal(t, 2, indexResp.FilesIndexed)
	assert.Greater(t, indexResp.ChunksIndexed, 0)
}

func TestIndexBusyWhileLocked(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()
	repo := newDemoRepo(t)

	canonical, err := index.CanonicalRepoPath(repo)
	require.NoError(t, err)
	state, err := srv.registry.Get(canonical)
	require.NoError(t, err)

	state.mu.Lock()
	defer state.mu.Unlock()

	rec := postJSON(t, handler, "/index", IndexRequest{RepoPath: repo})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, xtrcerrors.CodeBusy, decodeError(t, rec).Error.Code)

	// Status must not block; it reports the run instead.
	statusReq := httptest.NewRequest(http.MethodGet, "/status?repo_path="+url.QueryEscape(repo), nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, statusReq)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.False(t, status.Healthy)
	assert.Equal(t, "indexing", status.Reason)
}

func TestStatusAfterIndex(t *testing.T) {
	srv := newTestServer(t)
	handler := srv.Handler()
	repo := newDemoRepo(t)

	rec := postJSON(t, handler, "/index", IndexRequest{RepoPath: repo})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/status?repo_path="+url.QueryEscape(repo), nil)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, req)
	require.Equal(t, http.StatusOK, statusRec.Code)

	var status StatusResponse
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &status))
	assert.True(t, status.Healthy)
	assert.Equal(t, 2, status.IndexedFiles)
	assert.Greater(t, status.IndexedChunks, 0)
	assert.Equal(t, "static-v1", status.Model)
	assert.NotEmpty(t, status.LastIndexedAt)
}

func TestClientRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	client := &Client{baseURL: httpSrv.URL, httpClient: httpSrv.Client()}

	repo := newDemoRepo(t)
	ctx := context.Background()

	assert.True(t, client.IsRunning(ctx))

	indexResp, err := client.Index(ctx, repo, false)
	require.NoError(t, err)
	assert.Equal(t, 2, indexResp.FilesIndexed)

	topK := 3
	queryResp, err := client.Query(ctx, repo, "get user score", &topK)
	require.NoError(t, err)
	require.NotEmpty(t, queryResp.Results)
	assert.Equal(t, "getUserScore", queryResp.Results[0].Symbol)

	status, err := client.Status(ctx, repo)
	require.NoError(t, err)
	assert.True(t, status.Healthy)

	// Structured errors survive the wire.
	_, err = client.Query(ctx, repo, "", &topK)
	assert.Equal(t, xtrcerrors.CodeInvalidRequest, xtrcerrors.CodeOf(err))

	_, err = client.Index(ctx, "/does/not/exist", false)
	assert.Equal(t, xtrcerrors.CodeInvalidRepo, xtrcerrors.CodeOf(err))
}
