package hyvvesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Hyvve HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Suggestion represents the API suggestion model (partial).
type Suggestion struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Agent       string          `json:"agent"`
	ActionKind  string          `json:"action_kind"`
	Payload     json.RawMessage `json:"payload"`
	Confidence  float64         `json:"confidence"`
	Rationale   string          `json:"rationale,omitempty"`
	Status      string          `json:"status"`
	AutoSurface bool            `json:"auto_surface"`
	ExpiresAt   string          `json:"expires_at"`
	Result      map[string]any  `json:"result,omitempty"`
}

// WorkItem represents the API work item model (partial).
type WorkItem struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	Type          string   `json:"type"`
	Title         string   `json:"title"`
	Phase         string   `json:"phase"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	EstimateHours *float64 `json:"estimate_hours,omitempty"`
}

// Timer is a running timer.
type Timer struct {
	UserID     string `json:"user_id"`
	ProjectID  string `json:"project_id"`
	WorkItemID string `json:"work_item_id"`
	StartedAt  string `json:"started_at"`
}

// TimeEntry is a completed span of logged time.
type TimeEntry struct {
	ID              string `json:"id"`
	WorkItemID      string `json:"work_item_id"`
	UserID          string `json:"user_id"`
	StartedAt       string `json:"started_at"`
	EndedAt         string `json:"ended_at"`
	DurationSeconds int64  `json:"duration_seconds"`
	Source          string `json:"source"`
}

// Estimate is a forecast for a work type.
type Estimate struct {
	Hours           float64 `json:"hours"`
	Points          int     `json:"points"`
	ConfidenceLevel string  `json:"confidence_level"`
	Basis           string  `json:"basis"`
	ColdStart       bool    `json:"cold_start"`
}

// Turn is one conversation turn.
type Turn struct {
	ID        int64          `json:"id"`
	Agent     string         `json:"agent"`
	UserID    string         `json:"user_id"`
	Role      string         `json:"role"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedSuggestions wraps suggestion listings with cursors.
type PaginatedSuggestions struct {
	Items      []Suggestion `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// PaginatedEvents wraps event listings with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Propose submits a suggestion on behalf of an agent.
func (c *Client) Propose(ctx context.Context, agent, actionKind string, payload any, confidence float64, rationale string) (Suggestion, error) {
	body := map[string]any{
		"agent":       agent,
		"action_kind": actionKind,
		"payload":     payload,
		"confidence":  confidence,
		"rationale":   rationale,
	}
	var resp Suggestion
	err := c.do(ctx, http.MethodPost, c.projectPath("suggestions"), body, &resp)
	return resp, err
}

// AcceptSuggestion accepts a pending suggestion and executes its action.
func (c *Client) AcceptSuggestion(ctx context.Context, id string) (Suggestion, error) {
	var resp Suggestion
	endpoint := c.projectPath(fmt.Sprintf("suggestions/%s/accept", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// RejectSuggestion rejects a pending suggestion.
func (c *Client) RejectSuggestion(ctx context.Context, id string) (Suggestion, error) {
	var resp Suggestion
	endpoint := c.projectPath(fmt.Sprintf("suggestions/%s/reject", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{}, &resp)
	return resp, err
}

// Suggestions returns a paginated suggestion listing.
func (c *Client) Suggestions(ctx context.Context, status string, limit int, cursor string) (PaginatedSuggestions, error) {
	endpoint := c.projectPath("suggestions")
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedSuggestions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateWorkItem creates a work item directly.
func (c *Client) CreateWorkItem(ctx context.Context, itemType, title string) (WorkItem, error) {
	body := map[string]any{
		"type":  itemType,
		"title": title,
	}
	var resp WorkItem
	err := c.do(ctx, http.MethodPost, c.projectPath("work-items"), body, &resp)
	return resp, err
}

// StartTimer starts a timer for a member.
func (c *Client) StartTimer(ctx context.Context, userID, workItemID string) (Timer, error) {
	body := map[string]any{
		"user_id":      userID,
		"work_item_id": workItemID,
	}
	var resp Timer
	err := c.do(ctx, http.MethodPost, c.projectPath("timers/start"), body, &resp)
	return resp, err
}

// StopTimer stops the member's running timer and returns the entry.
func (c *Client) StopTimer(ctx context.Context, userID, note string) (TimeEntry, error) {
	body := map[string]any{
		"user_id": userID,
		"note":    note,
	}
	var resp TimeEntry
	err := c.do(ctx, http.MethodPost, c.projectPath("timers/stop"), body, &resp)
	return resp, err
}

// Estimate forecasts effort for a work type.
func (c *Client) Estimate(ctx context.Context, workType string) (Estimate, error) {
	var resp Estimate
	err := c.do(ctx, http.MethodPost, c.projectPath("estimates"), map[string]any{"work_type": workType}, &resp)
	return resp, err
}

// SendTurn appends a conversation turn.
func (c *Client) SendTurn(ctx context.Context, agent, userID, role, message string) (Turn, error) {
	body := map[string]any{
		"agent":   agent,
		"user_id": userID,
		"role":    role,
		"message": message,
	}
	var resp Turn
	err := c.do(ctx, http.MethodPost, c.projectPath("conversations"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
