package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 3 * time.Second

// Snippet is one grounding fragment returned by the knowledge service.
type Snippet struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Client queries the external context retrieval service. A zero or
// unconfigured client retrieves nothing; callers treat failures as a
// degraded answer, never as an operation failure.
type Client struct {
	URL    string
	HTTP   *http.Client
	Logger func(format string, args ...any)
}

func New(url string, timeoutSeconds int) *Client {
	timeout := defaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	return &Client{
		URL:  strings.TrimSpace(url),
		HTTP: &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether a retrieval endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.URL != ""
}

type retrieveRequest struct {
	ProjectID string `json:"project_id"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
}

type retrieveResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Retrieve fetches grounding snippets for a query. On any failure it logs
// and returns an empty slice so the caller proceeds ungrounded.
func (c *Client) Retrieve(ctx context.Context, projectID, query string, limit int) []Snippet {
	if !c.Enabled() {
		return nil
	}
	snippets, err := c.retrieve(ctx, projectID, query, limit)
	if err != nil {
		c.logf("retrieval: degraded, proceeding without context: %v", err)
		return nil
	}
	return snippets
}

func (c *Client) retrieve(ctx context.Context, projectID, query string, limit int) ([]Snippet, error) {
	body, err := json.Marshal(retrieveRequest{ProjectID: projectID, Query: query, Limit: limit})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed retrieveResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	return parsed.Snippets, nil
}

func (c *Client) logf(format string, args ...any) {
	if c.Logger != nil {
		c.Logger(format, args...)
	}
}
