package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"hyvve/internal/domain"
	"hyvve/internal/engine/hive"
	"hyvve/internal/events"
)

// phaseTransitions is the allowed forward/backward movement between phases.
// done is terminal; canceled can only reopen to backlog.
var phaseTransitions = map[string][]string{
	"backlog":     {"planned", "in_progress", "canceled"},
	"planned":     {"backlog", "in_progress", "canceled"},
	"in_progress": {"planned", "review", "done", "canceled"},
	"review":      {"in_progress", "done", "canceled"},
	"done":        {},
	"canceled":    {"backlog"},
}

func ensurePhaseTransition(from, to string) error {
	if from == to {
		return nil
	}
	if contains(phaseTransitions[from], to) {
		return nil
	}
	return hive.ValidationError{Field: "phase", Reason: fmt.Sprintf("cannot move %s -> %s", from, to)}
}

func (e Engine) CreateWorkItemTx(ctx context.Context, tx *sql.Tx, projectID string, p hive.CreateWorkItemPayload, actorID string) (domain.WorkItem, error) {
	if p.Title == "" {
		return domain.WorkItem{}, hive.ValidationError{Field: "title", Reason: "required"}
	}
	if p.Type == "" {
		return domain.WorkItem{}, hive.ValidationError{Field: "type", Reason: "required"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	w := domain.WorkItem{
		ID:          uuid.NewString(),
		ProjectID:   projectID,
		Type:        p.Type,
		Title:       p.Title,
		Description: p.Description,
		Phase:       "backlog",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, fmt.Errorf("insert work item: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "work_item.created", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"title": w.Title,
		"type":  w.Type,
		"phase": w.Phase,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

func (e Engine) UpdateWorkItemTx(ctx context.Context, tx *sql.Tx, p hive.UpdateWorkItemPayload, actorID string) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, p.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if p.Title != nil {
		if *p.Title == "" {
			return domain.WorkItem{}, hive.ValidationError{Field: "title", Reason: "cannot be empty"}
		}
		w.Title = *p.Title
	}
	if p.Description != nil {
		w.Description = *p.Description
	}
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.updated", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"title": w.Title,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

func (e Engine) AssignTx(ctx context.Context, tx *sql.Tx, p hive.AssignPayload, actorID string) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, p.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	assignee := p.AssigneeID
	w.AssigneeID = &assignee
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.assigned", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"assignee_id": assignee,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

func (e Engine) ChangePhaseTx(ctx context.Context, tx *sql.Tx, p hive.ChangePhasePayload, actorID string) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, p.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if w.Phase == p.Phase {
		return w, nil
	}
	if err := ensurePhaseTransition(w.Phase, p.Phase); err != nil {
		return domain.WorkItem{}, err
	}
	from := w.Phase
	now := e.now().UTC().Format(time.RFC3339)
	w.Phase = p.Phase
	w.UpdatedAt = now
	if p.Phase == "done" {
		w.CompletedAt = &now
	}
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.phase_changed", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"from": from,
		"to":   w.Phase,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	if p.Phase == "done" {
		if err := e.recordActualTx(ctx, tx, w, actorID); err != nil {
			return domain.WorkItem{}, err
		}
	}
	return w, nil
}

func (e Engine) SetPriorityTx(ctx context.Context, tx *sql.Tx, p hive.SetPriorityPayload, actorID string) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, p.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	priority := p.Priority
	w.Priority = &priority
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.priority_set", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"priority": priority,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

func (e Engine) ApplyEstimateTx(ctx context.Context, tx *sql.Tx, p hive.EstimatePayload, actorID string) (domain.WorkItem, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, p.WorkItemID)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if p.Hours <= 0 {
		return domain.WorkItem{}, hive.ValidationError{Field: "hours", Reason: "must be positive"}
	}
	hours := p.Hours
	points := p.Points
	if points <= 0 {
		cfg := e.projectConfig(ctx, w.ProjectID)
		points = int(math.Round(hours / cfg.HoursPerPoint()))
		if points < 1 {
			points = 1
		}
	}
	w.EstimateHours = &hours
	w.EstimatePoints = &points
	w.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateWorkItem(ctx, tx, w); err != nil {
		return domain.WorkItem{}, err
	}
	if err := e.Events.Append(ctx, tx, "work_item.estimated", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"hours":  hours,
		"points": points,
	}); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}

// --- direct (non-suggestion) work item operations ---

func (e Engine) CreateWorkItem(ctx context.Context, projectID string, p hive.CreateWorkItemPayload, actorID string) (domain.WorkItem, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.WorkItem{}, err
	}
	return e.inTx(ctx, func(tx *sql.Tx) (domain.WorkItem, error) {
		return e.CreateWorkItemTx(ctx, tx, projectID, p, actorID)
	})
}

func (e Engine) UpdateWorkItem(ctx context.Context, p hive.UpdateWorkItemPayload, actorID string) (domain.WorkItem, error) {
	return e.inTx(ctx, func(tx *sql.Tx) (domain.WorkItem, error) {
		return e.UpdateWorkItemTx(ctx, tx, p, actorID)
	})
}

func (e Engine) AssignWorkItem(ctx context.Context, workItemID, assigneeID, actorID string) (domain.WorkItem, error) {
	return e.inTx(ctx, func(tx *sql.Tx) (domain.WorkItem, error) {
		return e.AssignTx(ctx, tx, hive.AssignPayload{WorkItemID: workItemID, AssigneeID: assigneeID}, actorID)
	})
}

func (e Engine) ChangePhase(ctx context.Context, workItemID, phase, actorID string) (domain.WorkItem, error) {
	return e.inTx(ctx, func(tx *sql.Tx) (domain.WorkItem, error) {
		return e.ChangePhaseTx(ctx, tx, hive.ChangePhasePayload{WorkItemID: workItemID, Phase: phase}, actorID)
	})
}

func (e Engine) SetPriority(ctx context.Context, workItemID string, priority int, actorID string) (domain.WorkItem, error) {
	return e.inTx(ctx, func(tx *sql.Tx) (domain.WorkItem, error) {
		return e.SetPriorityTx(ctx, tx, hive.SetPriorityPayload{WorkItemID: workItemID, Priority: priority}, actorID)
	})
}

func (e Engine) ApplyEstimate(ctx context.Context, p hive.EstimatePayload, actorID string) (domain.WorkItem, error) {
	return e.inTx(ctx, func(tx *sql.Tx) (domain.WorkItem, error) {
		return e.ApplyEstimateTx(ctx, tx, p, actorID)
	})
}

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) (domain.WorkItem, error)) (domain.WorkItem, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkItem{}, err
	}
	defer tx.Rollback()
	w, err := fn(tx)
	if err != nil {
		return domain.WorkItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkItem{}, err
	}
	return w, nil
}
