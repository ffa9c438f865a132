package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hyvve/internal/domain"
	"hyvve/internal/engine/hive"
	"hyvve/internal/events"
	"hyvve/internal/repo"
)

// StartTimer begins the single running timer for a user. With the replace
// policy an existing timer is stopped (and its entry written) first; the
// default policy rejects with a conflict.
func (e Engine) StartTimer(ctx context.Context, userID, projectID, workItemID, description string) (domain.TimerState, error) {
	if userID == "" {
		return domain.TimerState{}, hive.ValidationError{Field: "user_id", Reason: "required"}
	}
	if workItemID == "" {
		return domain.TimerState{}, hive.ValidationError{Field: "work_item_id", Reason: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimerState{}, err
	}
	defer tx.Rollback()
	t, err := e.StartTimerTx(ctx, tx, userID, projectID, workItemID, description)
	if err != nil {
		return domain.TimerState{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TimerState{}, err
	}
	return t, nil
}

func (e Engine) StartTimerTx(ctx context.Context, tx *sql.Tx, userID, projectID, workItemID, description string) (domain.TimerState, error) {
	w, err := e.Repo.GetWorkItemTx(ctx, tx, workItemID)
	if err != nil {
		return domain.TimerState{}, err
	}
	if projectID == "" {
		projectID = w.ProjectID
	}
	if w.ProjectID != projectID {
		return domain.TimerState{}, hive.ValidationError{Field: "work_item_id", Reason: "work item not in project"}
	}

	existing, err := e.Repo.GetTimerTx(ctx, tx, userID)
	switch {
	case err == nil:
		cfg := e.projectConfig(ctx, projectID)
		if cfg.TimerOnConflict() != "replace" {
			return domain.TimerState{}, hive.ConflictError{
				Kind:    hive.ConflictTimerActive,
				Message: fmt.Sprintf("user %s already has a running timer on %s", userID, existing.WorkItemID),
			}
		}
		if _, err := e.StopTimerTx(ctx, tx, userID, "replaced by new timer"); err != nil {
			return domain.TimerState{}, err
		}
	case errors.Is(err, repo.ErrNotFound):
	default:
		return domain.TimerState{}, err
	}

	t := domain.TimerState{
		UserID:      userID,
		ProjectID:   projectID,
		WorkItemID:  workItemID,
		Description: description,
		StartedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertTimer(ctx, tx, t); err != nil {
		// primary key on user_id: a racing start already won
		if strings.Contains(err.Error(), "constraint") {
			return domain.TimerState{}, hive.ConflictError{Kind: hive.ConflictTimerActive, Message: "user already has a running timer"}
		}
		return domain.TimerState{}, err
	}
	if err := e.Events.Append(ctx, tx, "timer.started", t.ProjectID, "timer", t.UserID, userID, events.EventPayload{
		"work_item_id": t.WorkItemID,
		"started_at":   t.StartedAt,
	}); err != nil {
		return domain.TimerState{}, err
	}
	return t, nil
}

// StopTimer ends the user's running timer and writes the immutable time
// entry. The timer row is deleted conditionally on its observed start, so
// two concurrent stops produce a single entry.
func (e Engine) StopTimer(ctx context.Context, userID, note string) (domain.TimeEntry, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()
	entry, err := e.StopTimerTx(ctx, tx, userID, note)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeEntry{}, err
	}
	return entry, nil
}

func (e Engine) StopTimerTx(ctx context.Context, tx *sql.Tx, userID, note string) (domain.TimeEntry, error) {
	t, err := e.Repo.GetTimerTx(ctx, tx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.TimeEntry{}, hive.ConflictError{Kind: hive.ConflictNoActiveTimer, Message: "no running timer for user " + userID}
	}
	if err != nil {
		return domain.TimeEntry{}, err
	}
	started, err := time.Parse(time.RFC3339, t.StartedAt)
	if err != nil {
		return domain.TimeEntry{}, fmt.Errorf("parse timer start: %w", err)
	}
	now := e.now().UTC()
	if now.Before(started) {
		// clock skew: leave the timer running rather than record negative time
		return domain.TimeEntry{}, hive.ValidationError{Field: "stopped_at", Reason: "stop time precedes timer start"}
	}
	removed, err := e.Repo.DeleteTimerIfStartedAt(ctx, tx, userID, t.StartedAt)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if !removed {
		return domain.TimeEntry{}, hive.ConflictError{Kind: hive.ConflictNoActiveTimer, Message: "timer already stopped"}
	}
	nowStr := now.Format(time.RFC3339)
	entry := domain.TimeEntry{
		ID:              uuid.NewString(),
		ProjectID:       t.ProjectID,
		WorkItemID:      t.WorkItemID,
		UserID:          userID,
		StartedAt:       t.StartedAt,
		EndedAt:         nowStr,
		DurationSeconds: int64(now.Sub(started) / time.Second),
		Note:            note,
		Source:          "timer",
		CreatedAt:       nowStr,
	}
	if err := e.Repo.InsertTimeEntry(ctx, tx, entry); err != nil {
		return domain.TimeEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, "timer.stopped", entry.ProjectID, "time_entry", entry.ID, userID, events.EventPayload{
		"work_item_id":     entry.WorkItemID,
		"duration_seconds": entry.DurationSeconds,
	}); err != nil {
		return domain.TimeEntry{}, err
	}
	return entry, nil
}

// ManualTimeOptions are parameters for logging time without a timer.
type ManualTimeOptions struct {
	ProjectID       string
	WorkItemID      string
	UserID          string
	StartedAt       string
	DurationSeconds int64
	Note            string
	ActorID         string
}

func (e Engine) LogManualTime(ctx context.Context, opts ManualTimeOptions) (domain.TimeEntry, error) {
	if opts.UserID == "" {
		return domain.TimeEntry{}, hive.ValidationError{Field: "user_id", Reason: "required"}
	}
	if opts.DurationSeconds <= 0 {
		return domain.TimeEntry{}, hive.ValidationError{Field: "duration_seconds", Reason: "must be positive"}
	}
	w, err := e.Repo.GetWorkItem(ctx, opts.WorkItemID)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	if opts.ProjectID == "" {
		opts.ProjectID = w.ProjectID
	}
	if w.ProjectID != opts.ProjectID {
		return domain.TimeEntry{}, hive.ValidationError{Field: "work_item_id", Reason: "work item not in project"}
	}
	now := e.now().UTC()
	started := now.Add(-time.Duration(opts.DurationSeconds) * time.Second)
	if opts.StartedAt != "" {
		parsed, err := time.Parse(time.RFC3339, opts.StartedAt)
		if err != nil {
			return domain.TimeEntry{}, hive.ValidationError{Field: "started_at", Reason: "must be RFC3339"}
		}
		started = parsed.UTC()
	}
	entry := domain.TimeEntry{
		ID:              uuid.NewString(),
		ProjectID:       opts.ProjectID,
		WorkItemID:      opts.WorkItemID,
		UserID:          opts.UserID,
		StartedAt:       started.Format(time.RFC3339),
		EndedAt:         started.Add(time.Duration(opts.DurationSeconds) * time.Second).Format(time.RFC3339),
		DurationSeconds: opts.DurationSeconds,
		Note:            opts.Note,
		Source:          "manual",
		CreatedAt:       now.Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TimeEntry{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTimeEntry(ctx, tx, entry); err != nil {
		return domain.TimeEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, "time.logged", entry.ProjectID, "time_entry", entry.ID, opts.ActorID, events.EventPayload{
		"work_item_id":     entry.WorkItemID,
		"duration_seconds": entry.DurationSeconds,
		"source":           entry.Source,
	}); err != nil {
		return domain.TimeEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TimeEntry{}, err
	}
	return entry, nil
}

// TimeReport aggregates logged time for a project grouped by unit, phase, or member.
func (e Engine) TimeReport(ctx context.Context, projectID, groupBy, from, to string) ([]repo.ReportRow, error) {
	switch groupBy {
	case "":
		groupBy = "unit"
	case "unit", "phase", "member":
	default:
		return nil, hive.ValidationError{Field: "group_by", Reason: "must be unit, phase, or member"}
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.TimeReport(ctx, projectID, groupBy, from, to)
}
