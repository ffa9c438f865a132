package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Suggestion is a proposed action awaiting human disposition.
type Suggestion struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	Agent         string  `json:"agent"`
	ActionKind    string  `json:"action_kind" enum:"create_work_item,update_work_item,assign,change_phase,set_priority,estimate,start_timer,stop_timer"`
	PayloadJSON   string  `json:"payload_json"`
	Confidence    float64 `json:"confidence" minimum:"0" maximum:"1"`
	Rationale     string  `json:"rationale,omitempty"`
	Status        string  `json:"status" enum:"pending,accepted,rejected,expired"`
	AutoSurface   bool    `json:"auto_surface"`
	ApprovalQueue bool    `json:"approval_queue"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ExpiresAt     string  `json:"expires_at" format:"date-time"`
	DecidedAt     *string `json:"decided_at,omitempty" format:"date-time"`
	DecidedBy     *string `json:"decided_by,omitempty"`
	ResultJSON    *string `json:"result_json,omitempty"`
}

type ConversationTurn struct {
	ID           int64  `json:"id"`
	ProjectID    string `json:"project_id"`
	Agent        string `json:"agent"`
	UserID       string `json:"user_id"`
	Role         string `json:"role" enum:"user,agent"`
	Message      string `json:"message"`
	MetadataJSON string `json:"metadata_json,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// TimerState is the single running timer for a user, if any.
type TimerState struct {
	UserID      string `json:"user_id"`
	ProjectID   string `json:"project_id"`
	WorkItemID  string `json:"work_item_id"`
	Description string `json:"description,omitempty"`
	StartedAt   string `json:"started_at" format:"date-time"`
}

type TimeEntry struct {
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

type WorkItem struct {
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

// EstimationMetric is one immutable estimate-vs-actual observation.
type EstimationMetric struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"project_id"`
	WorkItemID    string  `json:"work_item_id"`
	WorkType      string  `json:"work_type"`
	EstimateHours float64 `json:"estimate_hours"`
	ActualHours   float64 `json:"actual_hours"`
	ErrorHours    float64 `json:"error_hours"`
	ErrorPercent  float64 `json:"error_percent"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

// EstimationBaseline is the per-(project,type) running error average.
type EstimationBaseline struct {
	ProjectID    string  `json:"project_id"`
	WorkType     string  `json:"work_type"`
	ErrorPercent float64 `json:"error_percent"`
	SampleCount  int     `json:"sample_count"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type Estimate struct {
	Hours           float64 `json:"hours"`
	Points          int     `json:"points"`
	ConfidenceLevel string  `json:"confidence_level" enum:"low,medium,high"`
	Basis           string  `json:"basis"`
	ColdStart       bool    `json:"cold_start"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
