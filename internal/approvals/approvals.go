package approvals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hyvve/internal/domain"
)

const defaultTimeout = 5 * time.Second

// Queue receives references to suggestions that need human review.
type Queue interface {
	Push(ctx context.Context, s domain.Suggestion) error
}

// HTTPQueue posts a suggestion reference to an external approval queue.
type HTTPQueue struct {
	URL  string
	HTTP *http.Client
}

func NewHTTPQueue(url string) *HTTPQueue {
	return &HTTPQueue{
		URL:  strings.TrimSpace(url),
		HTTP: &http.Client{Timeout: defaultTimeout},
	}
}

type queueItem struct {
	SuggestionID string  `json:"suggestion_id"`
	ProjectID    string  `json:"project_id"`
	Agent        string  `json:"agent"`
	ActionKind   string  `json:"action_kind"`
	Confidence   float64 `json:"confidence"`
	Rationale    string  `json:"rationale,omitempty"`
	ExpiresAt    string  `json:"expires_at"`
}

func (q *HTTPQueue) Push(ctx context.Context, s domain.Suggestion) error {
	if q == nil || q.URL == "" {
		return nil
	}
	body, err := json.Marshal(queueItem{
		SuggestionID: s.ID,
		ProjectID:    s.ProjectID,
		Agent:        s.Agent,
		ActionKind:   s.ActionKind,
		Confidence:   s.Confidence,
		Rationale:    s.Rationale,
		ExpiresAt:    s.ExpiresAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hyvve-Suggestion", s.ID)
	res, err := q.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
