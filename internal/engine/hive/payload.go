package hive

import "encoding/json"

// Action kinds a suggestion may carry. The payload shape is determined by the
// kind; Suggestion stores the payload opaquely and validation happens per kind.
const (
	ActionCreateWorkItem = "create_work_item"
	ActionUpdateWorkItem = "update_work_item"
	ActionAssign         = "assign"
	ActionChangePhase    = "change_phase"
	ActionSetPriority    = "set_priority"
	ActionEstimate       = "estimate"
	ActionStartTimer     = "start_timer"
	ActionStopTimer      = "stop_timer"
)

type CreateWorkItemPayload struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type UpdateWorkItemPayload struct {
	WorkItemID  string  `json:"work_item_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
}

type AssignPayload struct {
	WorkItemID string `json:"work_item_id"`
	AssigneeID string `json:"assignee_id"`
}

type ChangePhasePayload struct {
	WorkItemID string `json:"work_item_id"`
	Phase      string `json:"phase"`
}

type SetPriorityPayload struct {
	WorkItemID string `json:"work_item_id"`
	Priority   int    `json:"priority"`
}

type EstimatePayload struct {
	WorkItemID string  `json:"work_item_id"`
	Hours      float64 `json:"hours"`
	Points     int     `json:"points,omitempty"`
}

type StartTimerPayload struct {
	UserID      string `json:"user_id"`
	WorkItemID  string `json:"work_item_id"`
	Description string `json:"description,omitempty"`
}

type StopTimerPayload struct {
	UserID string `json:"user_id"`
	Note   string `json:"note,omitempty"`
}

var workItemPhases = map[string]bool{
	"backlog": true, "planned": true, "in_progress": true,
	"review": true, "done": true, "canceled": true,
}

// ValidatePayload checks a raw payload against the schema implied by the
// action kind. Unknown kinds and malformed payloads are ValidationErrors.
func ValidatePayload(kind string, raw []byte) error {
	if len(raw) == 0 {
		return ValidationError{Field: "payload", Reason: "payload required"}
	}
	switch kind {
	case ActionCreateWorkItem:
		var p CreateWorkItemPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.Title == "" {
			return ValidationError{Field: "payload.title", Reason: "required"}
		}
		if p.Type == "" {
			return ValidationError{Field: "payload.type", Reason: "required"}
		}
	case ActionUpdateWorkItem:
		var p UpdateWorkItemPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.WorkItemID == "" {
			return ValidationError{Field: "payload.work_item_id", Reason: "required"}
		}
		if p.Title == nil && p.Description == nil {
			return ValidationError{Field: "payload", Reason: "no fields to update"}
		}
	case ActionAssign:
		var p AssignPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.WorkItemID == "" {
			return ValidationError{Field: "payload.work_item_id", Reason: "required"}
		}
		if p.AssigneeID == "" {
			return ValidationError{Field: "payload.assignee_id", Reason: "required"}
		}
	case ActionChangePhase:
		var p ChangePhasePayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.WorkItemID == "" {
			return ValidationError{Field: "payload.work_item_id", Reason: "required"}
		}
		if !workItemPhases[p.Phase] {
			return ValidationError{Field: "payload.phase", Reason: "unknown phase " + p.Phase}
		}
	case ActionSetPriority:
		var p SetPriorityPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.WorkItemID == "" {
			return ValidationError{Field: "payload.work_item_id", Reason: "required"}
		}
	case ActionEstimate:
		var p EstimatePayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.WorkItemID == "" {
			return ValidationError{Field: "payload.work_item_id", Reason: "required"}
		}
		if p.Hours <= 0 {
			return ValidationError{Field: "payload.hours", Reason: "must be positive"}
		}
	case ActionStartTimer:
		var p StartTimerPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.UserID == "" {
			return ValidationError{Field: "payload.user_id", Reason: "required"}
		}
		if p.WorkItemID == "" {
			return ValidationError{Field: "payload.work_item_id", Reason: "required"}
		}
	case ActionStopTimer:
		var p StopTimerPayload
		if err := strictUnmarshal(raw, &p); err != nil {
			return err
		}
		if p.UserID == "" {
			return ValidationError{Field: "payload.user_id", Reason: "required"}
		}
	default:
		return ValidationError{Field: "action_kind", Reason: "unknown action kind " + kind}
	}
	return nil
}

func strictUnmarshal(raw []byte, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return ValidationError{Field: "payload", Reason: "invalid JSON: " + err.Error()}
	}
	return nil
}
