package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	xtrcerrors "github.com/xtrc-dev/xtrc/internal/errors"
)

// Client talks to a running daemon over HTTP. Used by the CLI
// commands; index runs can be long, so there is no client-wide
// timeout and callers bound requests with their context.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(host string, port int) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://%s:%d", host, port),
		httpClient: &http.Client{},
	}
}

// IsRunning reports whether the daemon answers its health probe.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Index requests an index run and blocks until it completes.
func (c *Client) Index(ctx context.Context, repoPath string, rebuild bool) (*IndexResponse, error) {
	var out IndexResponse
	err := c.post(ctx, "/index", IndexRequest{RepoPath: repoPath, Rebuild: rebuild}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Query runs a search. topK may be nil to use the server default.
func (c *Client) Query(ctx context.Context, repoPath, query string, topK *int) (*QueryResponse, error) {
	var out QueryResponse
	err := c.post(ctx, "/query", QueryRequest{RepoPath: repoPath, Query: query, TopK: topK}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches index health for one repository.
func (c *Client) Status(ctx context.Context, repoPath string) (*StatusResponse, error) {
	endpoint := c.baseURL + "/status?repo_path=" + url.QueryEscape(repoPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var out StatusResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes a request and decodes either the success body or the
// structured error envelope.
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var envelope errorEnvelope
		if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
			xe := xtrcerrors.New(envelope.Error.Code, envelope.Error.Message)
			xe.Details = envelope.Error.Details
			return xe
		}
		return fmt.Errorf("daemon returned status %d", resp.StatusCode)
	}

	return json.Unmarshal(data, out)
}
