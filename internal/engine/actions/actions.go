package actions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"hyvve/internal/domain"
	"hyvve/internal/engine/hive"
)

// Request carries one domain action to execute. SuggestionID doubles as the
// idempotency key for the accept path.
type Request struct {
	SuggestionID string
	ProjectID    string
	ActorID      string
	Kind         string
	Payload      []byte
}

// Result is the executor's record of what the action produced.
type Result map[string]any

// Executor performs the real mutation behind an accepted suggestion.
type Executor interface {
	Execute(ctx context.Context, tx *sql.Tx, req Request) (Result, error)
}

// DomainService is the slice of the engine the executor drives. All methods
// run inside the caller's transaction so an executor failure rolls back with
// the status commit.
type DomainService interface {
	CreateWorkItemTx(ctx context.Context, tx *sql.Tx, projectID string, p hive.CreateWorkItemPayload, actorID string) (domain.WorkItem, error)
	UpdateWorkItemTx(ctx context.Context, tx *sql.Tx, p hive.UpdateWorkItemPayload, actorID string) (domain.WorkItem, error)
	AssignTx(ctx context.Context, tx *sql.Tx, p hive.AssignPayload, actorID string) (domain.WorkItem, error)
	ChangePhaseTx(ctx context.Context, tx *sql.Tx, p hive.ChangePhasePayload, actorID string) (domain.WorkItem, error)
	SetPriorityTx(ctx context.Context, tx *sql.Tx, p hive.SetPriorityPayload, actorID string) (domain.WorkItem, error)
	ApplyEstimateTx(ctx context.Context, tx *sql.Tx, p hive.EstimatePayload, actorID string) (domain.WorkItem, error)
	StartTimerTx(ctx context.Context, tx *sql.Tx, userID, projectID, workItemID, description string) (domain.TimerState, error)
	StopTimerTx(ctx context.Context, tx *sql.Tx, userID, note string) (domain.TimeEntry, error)
}

// Dispatcher routes an action kind to the matching domain service call.
type Dispatcher struct {
	Service DomainService
}

func NewDispatcher(svc DomainService) Dispatcher {
	return Dispatcher{Service: svc}
}

func (d Dispatcher) Execute(ctx context.Context, tx *sql.Tx, req Request) (Result, error) {
	switch req.Kind {
	case hive.ActionCreateWorkItem:
		var p hive.CreateWorkItemPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		w, err := d.Service.CreateWorkItemTx(ctx, tx, req.ProjectID, p, req.ActorID)
		if err != nil {
			return nil, err
		}
		return Result{"work_item_id": w.ID, "phase": w.Phase}, nil
	case hive.ActionUpdateWorkItem:
		var p hive.UpdateWorkItemPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		w, err := d.Service.UpdateWorkItemTx(ctx, tx, p, req.ActorID)
		if err != nil {
			return nil, err
		}
		return Result{"work_item_id": w.ID}, nil
	case hive.ActionAssign:
		var p hive.AssignPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		w, err := d.Service.AssignTx(ctx, tx, p, req.ActorID)
		if err != nil {
			return nil, err
		}
		return Result{"work_item_id": w.ID, "assignee_id": p.AssigneeID}, nil
	case hive.ActionChangePhase:
		var p hive.ChangePhasePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		w, err := d.Service.ChangePhaseTx(ctx, tx, p, req.ActorID)
		if err != nil {
			return nil, err
		}
		return Result{"work_item_id": w.ID, "phase": w.Phase}, nil
	case hive.ActionSetPriority:
		var p hive.SetPriorityPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		w, err := d.Service.SetPriorityTx(ctx, tx, p, req.ActorID)
		if err != nil {
			return nil, err
		}
		return Result{"work_item_id": w.ID, "priority": p.Priority}, nil
	case hive.ActionEstimate:
		var p hive.EstimatePayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		w, err := d.Service.ApplyEstimateTx(ctx, tx, p, req.ActorID)
		if err != nil {
			return nil, err
		}
		return Result{"work_item_id": w.ID, "hours": p.Hours}, nil
	case hive.ActionStartTimer:
		var p hive.StartTimerPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		t, err := d.Service.StartTimerTx(ctx, tx, p.UserID, req.ProjectID, p.WorkItemID, p.Description)
		if err != nil {
			return nil, err
		}
		return Result{"user_id": t.UserID, "work_item_id": t.WorkItemID, "started_at": t.StartedAt}, nil
	case hive.ActionStopTimer:
		var p hive.StopTimerPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return nil, hive.ValidationError{Field: "payload", Reason: err.Error()}
		}
		e, err := d.Service.StopTimerTx(ctx, tx, p.UserID, p.Note)
		if err != nil {
			return nil, err
		}
		return Result{"time_entry_id": e.ID, "duration_seconds": e.DurationSeconds}, nil
	default:
		return nil, fmt.Errorf("unsupported action kind %s", req.Kind)
	}
}
