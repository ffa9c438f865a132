package server

import (
	"encoding/json"

	"hyvve/internal/config"
	"hyvve/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type ProposeSuggestionRequest struct {
	Agent      string          `json:"agent"`
	ActionKind string          `json:"action_kind" enum:"create_work_item,update_work_item,assign,change_phase,set_priority,estimate,start_timer,stop_timer"`
	Payload    json.RawMessage `json:"payload"`
	Confidence float64         `json:"confidence" minimum:"0" maximum:"1"`
	Rationale  *string         `json:"rationale,omitempty"`
}

type CreateWorkItemRequest struct {
	Type        string  `json:"type"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
}

type UpdateWorkItemRequest struct {
	Title         *string  `json:"title,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Phase         *string  `json:"phase,omitempty" enum:"backlog,planned,in_progress,review,done,canceled"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	Priority      *int     `json:"priority,omitempty"`
	EstimateHours *float64 `json:"estimate_hours,omitempty"`
}

type StartTimerRequest struct {
	UserID      string  `json:"user_id"`
	WorkItemID  string  `json:"work_item_id"`
	Description *string `json:"description,omitempty"`
}

type StopTimerRequest struct {
	UserID string  `json:"user_id"`
	Note   *string `json:"note,omitempty"`
}

type LogTimeRequest struct {
	WorkItemID      string  `json:"work_item_id"`
	UserID          string  `json:"user_id"`
	DurationSeconds int64   `json:"duration_seconds" minimum:"1"`
	StartedAt       *string `json:"started_at,omitempty" format:"date-time"`
	Note            *string `json:"note,omitempty"`
}

type EstimateRequest struct {
	WorkType string `json:"work_type"`
}

type AppendTurnRequest struct {
	Agent    string         `json:"agent"`
	UserID   string         `json:"user_id"`
	Role     string         `json:"role" enum:"user,agent"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type CreateAPIKeyRequest struct {
	ActorID string  `json:"actor_id"`
	Name    *string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type SuggestionResponse struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Agent         string          `json:"agent"`
	ActionKind    string          `json:"action_kind"`
	Payload       json.RawMessage `json:"payload"`
	Confidence    float64         `json:"confidence"`
	Rationale     string          `json:"rationale,omitempty"`
	Status        string          `json:"status" enum:"pending,accepted,rejected,expired"`
	AutoSurface   bool            `json:"auto_surface"`
	ApprovalQueue bool            `json:"approval_queue"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
	ExpiresAt     string          `json:"expires_at" format:"date-time"`
	DecidedAt     *string         `json:"decided_at,omitempty" format:"date-time"`
	DecidedBy     *string         `json:"decided_by,omitempty"`
	Result        map[string]any  `json:"result,omitempty"`
}

type WorkItemResponse struct {
	ID             string   `json:"id"`
	ProjectID      string   `json:"project_id"`
	Type           string   `json:"type"`
	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Phase          string   `json:"phase" enum:"backlog,planned,in_progress,review,done,canceled"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
	Priority       *int     `json:"priority,omitempty"`
	EstimateHours  *float64 `json:"estimate_hours,omitempty"`
	EstimatePoints *int     `json:"estimate_points,omitempty"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
	CompletedAt    *string  `json:"completed_at,omitempty" format:"date-time"`
}

type TimerResponse struct {
	UserID      string `json:"user_id"`
	ProjectID   string `json:"project_id"`
	WorkItemID  string `json:"work_item_id"`
	Description string `json:"description,omitempty"`
	StartedAt   string `json:"started_at" format:"date-time"`
}

type TimeEntryResponse struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	WorkItemID      string `json:"work_item_id"`
	UserID          string `json:"user_id"`
	StartedAt       string `json:"started_at" format:"date-time"`
	EndedAt         string `json:"ended_at" format:"date-time"`
	DurationSeconds int64  `json:"duration_seconds"`
	Note            string `json:"note,omitempty"`
	Source          string `json:"source" enum:"timer,manual"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type ReportRowResponse struct {
	Key             string  `json:"key"`
	TotalSeconds    int64   `json:"total_seconds"`
	EstimateHours   float64 `json:"estimate_hours"`
	VarianceHours   float64 `json:"variance_hours"`
	VariancePercent float64 `json:"variance_percent"`
}

type EstimateResponse struct {
	Hours           float64 `json:"hours"`
	Points          int     `json:"points"`
	ConfidenceLevel string  `json:"confidence_level" enum:"low,medium,high"`
	Basis           string  `json:"basis"`
	ColdStart       bool    `json:"cold_start"`
}

type TurnResponse struct {
	ID        int64          `json:"id"`
	ProjectID string         `json:"project_id"`
	Agent     string         `json:"agent"`
	UserID    string         `json:"user_id"`
	Role      string         `json:"role" enum:"user,agent"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type ProjectConfigResponse struct {
	Config *config.Config `json:"config"`
}

type paginatedSuggestions struct {
	Items      []SuggestionResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedWorkItems struct {
	Items      []WorkItemResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mappers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func suggestionResponse(s domain.Suggestion) SuggestionResponse {
	payload := json.RawMessage([]byte("{}"))
	if json.Valid([]byte(s.PayloadJSON)) {
		payload = json.RawMessage([]byte(s.PayloadJSON))
	}
	return SuggestionResponse{
		ID:            s.ID,
		ProjectID:     s.ProjectID,
		Agent:         s.Agent,
		ActionKind:    s.ActionKind,
		Payload:       payload,
		Confidence:    s.Confidence,
		Rationale:     s.Rationale,
		Status:        s.Status,
		AutoSurface:   s.AutoSurface,
		ApprovalQueue: s.ApprovalQueue,
		CreatedAt:     s.CreatedAt,
		ExpiresAt:     s.ExpiresAt,
		DecidedAt:     s.DecidedAt,
		DecidedBy:     s.DecidedBy,
		Result:        decodeJSONMap(s.ResultJSON),
	}
}

func workItemResponse(w domain.WorkItem) WorkItemResponse {
	return WorkItemResponse{
		ID:             w.ID,
		ProjectID:      w.ProjectID,
		Type:           w.Type,
		Title:          w.Title,
		Description:    w.Description,
		Phase:          w.Phase,
		AssigneeID:     w.AssigneeID,
		Priority:       w.Priority,
		EstimateHours:  w.EstimateHours,
		EstimatePoints: w.EstimatePoints,
		CreatedAt:      w.CreatedAt,
		UpdatedAt:      w.UpdatedAt,
		CompletedAt:    w.CompletedAt,
	}
}

func timerResponse(t domain.TimerState) TimerResponse {
	return TimerResponse{
		UserID:      t.UserID,
		ProjectID:   t.ProjectID,
		WorkItemID:  t.WorkItemID,
		Description: t.Description,
		StartedAt:   t.StartedAt,
	}
}

func timeEntryResponse(e domain.TimeEntry) TimeEntryResponse {
	return TimeEntryResponse{
		ID:              e.ID,
		ProjectID:       e.ProjectID,
		WorkItemID:      e.WorkItemID,
		UserID:          e.UserID,
		StartedAt:       e.StartedAt,
		EndedAt:         e.EndedAt,
		DurationSeconds: e.DurationSeconds,
		Note:            e.Note,
		Source:          e.Source,
		CreatedAt:       e.CreatedAt,
	}
}

func turnResponse(t domain.ConversationTurn) TurnResponse {
	return TurnResponse{
		ID:        t.ID,
		ProjectID: t.ProjectID,
		Agent:     t.Agent,
		UserID:    t.UserID,
		Role:      t.Role,
		Message:   t.Message,
		Metadata:  decodeJSONMap(strPtr(t.MetadataJSON)),
		CreatedAt: t.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil
	}
	return out
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func strPtr(in string) *string {
	return &in
}
